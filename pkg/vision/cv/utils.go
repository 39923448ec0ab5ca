// Package cv 提供 gocv 与 image.Image 之间的转换和读写工具
package cv

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// IsDegenerate 判断图像是否为零面积
func IsDegenerate(img image.Image) bool {
	if img == nil {
		return true
	}
	b := img.Bounds()
	return b.Dx() <= 0 || b.Dy() <= 0
}

// ReadImage 读取彩色图像文件（BGR）
func ReadImage(filename string) (gocv.Mat, error) {
	mat := gocv.IMRead(filename, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("无法读取图像: %s", filename)
	}
	return mat, nil
}

// ReadGoImage 读取图像文件为 image.Image
func ReadGoImage(filename string) (image.Image, error) {
	mat, err := ReadImage(filename)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return MatToImage(mat)
}

// WriteImage 保存图像文件，自动创建目录
func WriteImage(filename string, img gocv.Mat) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	if ok := gocv.IMWrite(filename, img); !ok {
		return fmt.Errorf("保存图像失败: %s", filename)
	}
	return nil
}

// WriteGoImage 将 image.Image 保存为文件
func WriteGoImage(filename string, img image.Image) error {
	mat, err := ImageToMat(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	return WriteImage(filename, mat)
}

// ToGray 转换为灰度图，单通道输入返回副本
func ToGray(src gocv.Mat) gocv.Mat {
	if src.Channels() == 1 {
		return src.Clone()
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return dst
}

// ScaleImage 按比例缩放，放大用三次插值，缩小用区域插值
func ScaleImage(img gocv.Mat, factor float64) gocv.Mat {
	w := int(float64(img.Cols())*factor + 0.5)
	h := int(float64(img.Rows())*factor + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	interp := gocv.InterpolationCubic
	if factor < 1 {
		interp = gocv.InterpolationArea
	}

	dst := gocv.NewMat()
	gocv.Resize(img, &dst, image.Point{X: w, Y: h}, 0, 0, interp)
	return dst
}

// ImageToMat 将 image.Image 转换为 BGR 格式的 gocv.Mat
// 原点不在 (0,0) 的子图先复制为独立的 RGBA
func ImageToMat(img image.Image) (gocv.Mat, error) {
	if b := img.Bounds(); b.Min != (image.Point{}) {
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		img = dst
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("图像转换失败: %w", err)
	}
	defer mat.Close()

	dst := gocv.NewMat()
	gocv.CvtColor(mat, &dst, gocv.ColorRGBToBGR)
	return dst, nil
}

// MatToImage 将 gocv.Mat 转换为 image.Image
func MatToImage(mat gocv.Mat) (image.Image, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("Mat 转换失败: %w", err)
	}
	return img, nil
}

// EncodePNG 将 Mat 编码为 PNG 字节
func EncodePNG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("PNG 编码失败: %w", err)
	}
	defer buf.Close()

	// NativeByteBuffer 关闭后内存失效，需要复制
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
