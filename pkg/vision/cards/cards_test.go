package cards

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/zoeyai/zoeyreader/pkg/template"
	"github.com/zoeyai/zoeyreader/pkg/vision/cv"
)

var (
	cardBackground = color.RGBA{R: 30, G: 40, B: 60, A: 255}
	lockRed        = color.RGBA{R: 220, G: 30, B: 30, A: 255}
)

// cardImage 深色卡面，上行写基地，下行写兵力；locked 时右上角画红色锁块
func cardImage(t *testing.T, top, bottom string, locked bool) *image.RGBA {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 150, 70))
	draw.Draw(img, img.Bounds(), image.NewUniform(cardBackground), image.Point{}, draw.Src)

	f, err := truetype.Parse(gomono.TTF)
	if err != nil {
		t.Fatalf("加载字体失败: %v", err)
	}
	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(16)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetSrc(image.White)
	c.SetHinting(font.HintingFull)
	if _, err := c.DrawString(top, freetype.Pt(8, 24)); err != nil {
		t.Fatalf("绘制文字失败: %v", err)
	}
	if _, err := c.DrawString(bottom, freetype.Pt(8, 60)); err != nil {
		t.Fatalf("绘制文字失败: %v", err)
	}

	if locked {
		draw.Draw(img, image.Rect(120, 4, 144, 24), image.NewUniform(lockRed), image.Point{}, draw.Src)
	}
	return img
}

// cardPanel 把卡片贴到面板上
func cardPanel(cards map[image.Point]*image.RGBA) *image.RGBA {
	panel := image.NewRGBA(image.Rect(0, 0, 400, 200))
	draw.Draw(panel, panel.Bounds(), image.NewUniform(cardBackground), image.Point{}, draw.Src)
	for p, c := range cards {
		draw.Draw(panel, c.Bounds().Add(p), c, image.Point{}, draw.Src)
	}
	return panel
}

func writeTemplate(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := cv.WriteGoImage(path, img); err != nil {
		t.Fatalf("保存模板失败: %v", err)
	}
	return path
}

func near(a, b image.Rectangle) bool {
	return cv.IoU(a, b) > 0.8
}

func TestLocateByTemplateName(t *testing.T) {
	open := cardImage(t, "Blue>Red2", "L3 H1 R0", false)
	locked := cardImage(t, "LOCKED", "######", true)

	dir := t.TempDir()
	layout := &template.CardLayout{Templates: []string{
		writeTemplate(t, dir, "card.png", open),
		writeTemplate(t, dir, "card_locked.png", locked),
	}}
	panel := cardPanel(map[image.Point]*image.RGBA{
		{X: 220, Y: 20}: open,
		{X: 20, Y: 110}: locked,
		{X: 20, Y: 20}:  open,
	})

	l := NewLocator()
	defer l.Close()
	found, err := l.Locate(panel, layout)
	if err != nil {
		t.Fatalf("定位失败: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("卡片数 = %d, 期望 3: %+v", len(found), found)
	}

	want := []struct {
		at     image.Point
		locked bool
	}{
		{image.Pt(20, 20), false},
		{image.Pt(220, 20), false},
		{image.Pt(20, 110), true},
	}
	for i, w := range want {
		c := found[i]
		if c.Index != i+1 {
			t.Errorf("第 %d 张卡序号 = %d", i, c.Index)
		}
		if !near(c.Rect, open.Bounds().Add(w.at)) {
			t.Errorf("第 %d 张卡位置 = %v, 期望 %v", c.Index, c.Rect, w.at)
		}
		if c.Locked != w.locked {
			t.Errorf("第 %d 张卡锁定 = %v (%s)", c.Index, c.Locked, c.Template)
		}
		t.Logf("卡片 %d: %v %.3f %s", c.Index, c.Rect, c.Confidence, c.Template)
	}

	// 模板只加载一次
	if _, err := l.Locate(panel, layout); err != nil {
		t.Fatal(err)
	}
	if len(l.templates) != 2 {
		t.Errorf("缓存模板数 = %d", len(l.templates))
	}
}

func TestLocateLockByColour(t *testing.T) {
	open := cardImage(t, "Red1>Blue", "L0 H2 R5", false)
	locked := cardImage(t, "Red3>Red1", "L9 H0 R0", true)

	dir := t.TempDir()
	layout := &template.CardLayout{
		Templates: []string{
			writeTemplate(t, dir, "a.png", open),
			writeTemplate(t, dir, "b.png", locked),
		},
		Lock: &template.Rect{X: 0.8, Y: 4.0 / 70, W: 0.16, H: 20.0 / 70},
	}
	// 面板放在截图中的 (500,300) 处，结果保持截图坐标
	panel := cardPanel(map[image.Point]*image.RGBA{
		{X: 20, Y: 20}:  open,
		{X: 220, Y: 20}: locked,
	})
	shifted := image.NewRGBA(image.Rect(500, 300, 900, 500))
	draw.Draw(shifted, shifted.Bounds(), panel, image.Point{}, draw.Src)

	l := NewLocator()
	defer l.Close()
	found, err := l.Locate(shifted, layout)
	if err != nil {
		t.Fatalf("定位失败: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("卡片数 = %d: %+v", len(found), found)
	}
	if !near(found[0].Rect, open.Bounds().Add(image.Pt(520, 320))) || found[0].Locked {
		t.Errorf("第一张卡 = %+v", found[0])
	}
	if !near(found[1].Rect, open.Bounds().Add(image.Pt(720, 320))) || !found[1].Locked {
		t.Errorf("第二张卡 = %+v", found[1])
	}
}

func TestLocateLimitsAndErrors(t *testing.T) {
	open := cardImage(t, "Blue>Red3", "L1 H1 R1", false)
	dir := t.TempDir()
	tpl := writeTemplate(t, dir, "card.png", open)
	panel := cardPanel(map[image.Point]*image.RGBA{
		{X: 20, Y: 20}:   open,
		{X: 220, Y: 20}:  open,
		{X: 20, Y: 110}:  open,
		{X: 220, Y: 110}: open,
	})

	l := NewLocator()
	defer l.Close()

	found, err := l.Locate(panel, &template.CardLayout{Templates: []string{tpl}, MaxCards: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Errorf("上限 2 时卡片数 = %d", len(found))
	}

	if _, err := l.Locate(panel, &template.CardLayout{Templates: []string{filepath.Join(dir, "missing.png")}}); err == nil || !strings.Contains(err.Error(), "没有可用的卡片模板") {
		t.Errorf("缺少模板应返回错误, 实际 %v", err)
	}
	if _, err := l.Locate(panel, nil); err == nil {
		t.Error("没有布局应返回错误")
	}
	if found, err := l.Locate(image.NewRGBA(image.Rect(0, 0, 0, 0)), &template.CardLayout{Templates: []string{tpl}}); err != nil || found != nil {
		t.Errorf("空面板 = %v, %v", found, err)
	}
}

// plainImage 没有 SubImage 方法的图像
type plainImage struct {
	image.Image
}

func TestFieldRectAndCrop(t *testing.T) {
	c := Card{Index: 1, Rect: image.Rect(100, 50, 300, 150)}
	f := template.CardField{Name: template.CardFieldHeavy, Rect: template.Rect{X: 0.5, Y: 0, W: 0.5, H: 1}}
	r := FieldRect(c, f)
	if r != image.Rect(200, 50, 300, 150) {
		t.Fatalf("字段范围 = %v", r)
	}

	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	src.Set(250, 60, lockRed)

	tests := []struct {
		name string
		img  image.Image
	}{
		{"子图", src},
		{"复制", plainImage{src}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Crop(tt.img, r)
			if out.Bounds() != r {
				t.Errorf("截取范围 = %v, 期望 %v", out.Bounds(), r)
			}
			if got := color.RGBAModel.Convert(out.At(250, 60)); got != lockRed {
				t.Errorf("像素 = %v", got)
			}
		})
	}

	if out := Crop(src, image.Rect(350, 150, 500, 300)); out.Bounds() != image.Rect(350, 150, 400, 200) {
		t.Errorf("越界截取 = %v", out.Bounds())
	}
}
