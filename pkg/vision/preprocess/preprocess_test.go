package preprocess

import (
	"image"
	"image/color"
	"image/draw"
	"reflect"
	"testing"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// bars 白底上画 n 个高度为 barH 的黑色竖条，模拟一行字形
func bars(w, h, n, barH int) *image.RGBA {
	img := solid(w, h, color.White)
	top := (h - barH) / 2
	for i := 0; i < n; i++ {
		x := 4 + i*(barH/2+6)
		r := image.Rect(x, top, x+barH/2, top+barH)
		draw.Draw(img, r, &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	}
	return img
}

func names(vs []Variant) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Name
	}
	return out
}

func TestVariantsFixedSet(t *testing.T) {
	p := New(Band{Min: 32, Max: 48})
	want := VariantNames()

	tests := []struct {
		name string
		img  image.Image
	}{
		{"文字", bars(120, 40, 4, 20)},
		{"全黑", solid(64, 24, color.Black)},
		{"全白", solid(64, 24, color.White)},
		{"零面积", image.NewRGBA(image.Rect(0, 0, 0, 0))},
		{"过小", solid(2, 2, color.Gray{Y: 128})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := p.Variants(tt.img, LookupProfile(""))
			if !reflect.DeepEqual(names(vs), want) {
				t.Errorf("变体名称 = %v, 期望 %v", names(vs), want)
			}
			for i, v := range vs {
				if v.Index != i {
					t.Errorf("变体 %s 序号 = %d, 期望 %d", v.Name, v.Index, i)
				}
				if v.Image == nil {
					t.Errorf("变体 %s 图像为空", v.Name)
				}
			}
		})
	}
}

func TestDegenerateIsIdentity(t *testing.T) {
	p := New(Band{Min: 32, Max: 48})
	empty := image.NewRGBA(image.Rect(0, 0, 0, 0))

	for _, v := range p.Variants(empty, LookupProfile("")) {
		if v.Image != image.Image(empty) {
			t.Errorf("零面积图像的变体 %s 应为原图", v.Name)
		}
	}
	if got := p.AutoScale(empty); got != image.Image(empty) {
		t.Error("零面积图像不应缩放")
	}
	if got := p.AutoScale(nil); got != nil {
		t.Error("nil 图像应原样返回")
	}
}

func TestVariantsDeterministic(t *testing.T) {
	p := New(Band{Min: 32, Max: 48})
	img := bars(120, 40, 4, 20)

	first := p.Variants(img, LookupProfile("dim-text"))
	second := p.Variants(img, LookupProfile("dim-text"))
	for i := range first {
		if !reflect.DeepEqual(first[i].Image, second[i].Image) {
			t.Errorf("变体 %s 两次结果不一致", first[i].Name)
		}
	}
	if first[0].Image != image.Image(img) {
		t.Error("raw 变体应为原图")
	}
}

func TestEstimateAndAutoScale(t *testing.T) {
	p := New(Band{Min: 32, Max: 48})

	small := bars(160, 30, 4, 12)
	scaled := p.AutoScale(small)
	if scaled.Bounds().Dy() <= small.Bounds().Dy() {
		t.Errorf("12px 字高应被放大, 结果高度 %d", scaled.Bounds().Dy())
	}
	// 目标 40px / 12px
	wantF := 30*40.0/12 + 0.5
	wantH := int(wantF)
	if d := scaled.Bounds().Dy() - wantH; d < -1 || d > 1 {
		t.Errorf("放大后高度 = %d, 期望约 %d", scaled.Bounds().Dy(), wantH)
	}

	inBand := bars(200, 60, 3, 40)
	if got := p.AutoScale(inBand); got != image.Image(inBand) {
		t.Error("字高已在区间内时不应缩放")
	}

	blank := solid(80, 30, color.Black)
	if got := p.AutoScale(blank); got != image.Image(blank) {
		t.Error("估计不到字高时应原样返回")
	}
}

func TestFixedScale(t *testing.T) {
	p := New(Band{Min: 32, Max: 48})
	img := solid(20, 10, color.White)

	if got := p.Scale(img, 1); got != image.Image(img) {
		t.Error("倍数为 1 时应原样返回")
	}
	got := p.Scale(img, 2)
	if got.Bounds().Dx() != 40 || got.Bounds().Dy() != 20 {
		t.Errorf("2 倍缩放尺寸错误: %v", got.Bounds())
	}
}

func TestColourSign(t *testing.T) {
	tests := []struct {
		name    string
		fill    color.Color
		wantS   Sign
		content bool
	}{
		{"红色为负", color.RGBA{R: 220, G: 30, B: 30, A: 255}, SignNegative, true},
		{"绿色为正", color.RGBA{R: 20, G: 200, B: 40, A: 255}, SignPositive, true},
		{"灰色无内容", color.RGBA{R: 128, G: 128, B: 128, A: 255}, SignNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solid(40, 20, color.Black)
			draw.Draw(img, image.Rect(5, 5, 15, 15), &image.Uniform{C: tt.fill}, image.Point{}, draw.Src)

			stats, err := AnalyzeColour(img)
			if err != nil {
				t.Fatalf("颜色分析失败: %v", err)
			}
			s, content := stats.Sign(20)
			if s != tt.wantS || content != tt.content {
				t.Errorf("Sign = (%v, %v), 期望 (%v, %v), 统计 %+v", s, content, tt.wantS, tt.content, stats)
			}
		})
	}
}

func TestLookupProfile(t *testing.T) {
	if LookupProfile("").Name != DefaultProfile {
		t.Error("空名称应返回默认参数")
	}
	if LookupProfile("no-such").Name != DefaultProfile {
		t.Error("未知名称应回退为默认参数")
	}
	if LookupProfile("dim-text").Name != "dim-text" {
		t.Error("应返回指定参数")
	}
}
