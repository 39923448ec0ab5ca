package cv

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestIsDegenerate(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
		want bool
	}{
		{"nil", nil, true},
		{"零宽", image.NewRGBA(image.Rect(0, 0, 0, 10)), true},
		{"零高", image.NewRGBA(image.Rect(0, 0, 10, 0)), true},
		{"正常", image.NewRGBA(image.Rect(0, 0, 4, 4)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDegenerate(tt.img); got != tt.want {
				t.Errorf("IsDegenerate = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

func TestImageToMatKeepsColourOrder(t *testing.T) {
	// 纯红色: BGR 下 R 在第三通道
	mat, err := ImageToMat(solidImage(8, 6, color.RGBA{R: 200, A: 255}))
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	defer mat.Close()

	if mat.Cols() != 8 || mat.Rows() != 6 || mat.Channels() != 3 {
		t.Fatalf("尺寸 %dx%d 通道 %d", mat.Cols(), mat.Rows(), mat.Channels())
	}
	v := mat.GetVecbAt(2, 3)
	if v[0] != 0 || v[1] != 0 || v[2] != 200 {
		t.Errorf("像素 BGR = %v, 期望 [0 0 200]", v)
	}
}

func TestImageToMatSubImage(t *testing.T) {
	img := solidImage(10, 10, color.Black)
	img.Set(6, 7, color.RGBA{R: 200, A: 255})

	mat, err := ImageToMat(img.SubImage(image.Rect(5, 5, 10, 10)))
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	defer mat.Close()

	if mat.Cols() != 5 || mat.Rows() != 5 {
		t.Fatalf("尺寸 %dx%d, 期望 5x5", mat.Cols(), mat.Rows())
	}
	if v := mat.GetVecbAt(2, 1); v[2] != 200 {
		t.Errorf("子图 (1,2) 像素 BGR = %v, 期望红色", v)
	}
}

func TestToGrayAndScale(t *testing.T) {
	mat, err := ImageToMat(solidImage(20, 10, color.RGBA{R: 90, G: 90, B: 90, A: 255}))
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	defer mat.Close()

	gray := ToGray(mat)
	defer gray.Close()
	if gray.Channels() != 1 {
		t.Fatalf("灰度图通道数 %d", gray.Channels())
	}

	again := ToGray(gray)
	defer again.Close()
	if again.Channels() != 1 || again.Cols() != 20 {
		t.Error("单通道输入应返回副本")
	}

	tests := []struct {
		factor       float64
		wantW, wantH int
	}{
		{2, 40, 20},
		{0.5, 10, 5},
		{0.01, 1, 1},
	}
	for _, tt := range tests {
		scaled := ScaleImage(gray, tt.factor)
		if scaled.Cols() != tt.wantW || scaled.Rows() != tt.wantH {
			t.Errorf("缩放 %.2f: %dx%d, 期望 %dx%d", tt.factor, scaled.Cols(), scaled.Rows(), tt.wantW, tt.wantH)
		}
		scaled.Close()
	}
}

func TestWriteAndReadGoImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "img.png")
	src := solidImage(12, 7, color.RGBA{G: 180, A: 255})

	if err := WriteGoImage(path, src); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	img, err := ReadGoImage(path)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 12 || b.Dy() != 7 {
		t.Errorf("读回尺寸 %v", b)
	}
	_, g, _, _ := img.At(5, 3).RGBA()
	if g>>8 != 180 {
		t.Errorf("读回绿色通道 %d, 期望 180", g>>8)
	}

	if _, err := ReadGoImage(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("不存在的文件应返回错误")
	}
}

func TestEncodePNG(t *testing.T) {
	mat, err := ImageToMat(solidImage(4, 4, color.White))
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	defer mat.Close()

	data, err := EncodePNG(mat)
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	if len(data) < 8 || string(data[1:4]) != "PNG" {
		t.Errorf("不是 PNG 数据: % x", data[:min(8, len(data))])
	}
}
