package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

type fakeEngine struct {
	name   string
	kind   Kind
	closed atomic.Bool
}

func (f *fakeEngine) Name() string { return f.name }
func (f *fakeEngine) Kind() Kind   { return f.kind }
func (f *fakeEngine) Recognize(context.Context, image.Image, Hints) ([]Reading, error) {
	return []Reading{{Text: f.name, Confidence: 0.5}}, nil
}
func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func init() {
	Register("test-neural", func(Options) (Engine, error) {
		return &fakeEngine{name: "test-neural", kind: KindNeural}, nil
	})
	Register("test-classical", func(Options) (Engine, error) {
		return &fakeEngine{name: "test-classical", kind: KindClassical}, nil
	})
	Register("test-broken", func(Options) (Engine, error) {
		return nil, fmt.Errorf("%w: 模型缺失", ErrEngineUnavailable)
	})
}

func TestOpenDegradesGracefully(t *testing.T) {
	set, err := Open([]string{"test-broken", "test-classical", "no-such"}, Options{})
	if err != nil {
		t.Fatalf("只要有一个引擎可用就不应失败: %v", err)
	}
	if got := set.Names(); len(got) != 1 || got[0] != "test-classical" {
		t.Errorf("可用引擎 = %v, 期望 [test-classical]", got)
	}

	set, err = Open([]string{"test-neural", "test-classical"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := set.Names(); strings.Join(got, ",") != "test-neural,test-classical" {
		t.Errorf("引擎顺序应与声明一致: %v", got)
	}
	if err := set.Close(); err != nil {
		t.Errorf("关闭失败: %v", err)
	}
	for _, e := range set.Engines() {
		if !e.(*fakeEngine).closed.Load() {
			t.Errorf("引擎 %s 未关闭", e.Name())
		}
	}

	if _, err := Open([]string{"test-broken"}, Options{}); !errors.Is(err, ErrNoEngine) {
		t.Errorf("没有可用引擎时应返回 ErrNoEngine, 实际 %v", err)
	}
}

func TestSetSelect(t *testing.T) {
	a := &fakeEngine{name: "a", kind: KindNeural}
	b := &fakeEngine{name: "b", kind: KindClassical}
	set := NewSet(a, b)

	tests := []struct {
		name string
		only []string
		want string
	}{
		{"不限定", nil, "a,b"},
		{"限定一个", []string{"b"}, "b"},
		{"保持声明顺序", []string{"b", "a"}, "a,b"},
		{"全部不可用时回退", []string{"zz"}, "a,b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string
			for _, e := range set.Select(tt.only) {
				names = append(names, e.Name())
			}
			if got := strings.Join(names, ","); got != tt.want {
				t.Errorf("Select(%v) = %s, 期望 %s", tt.only, got, tt.want)
			}
		})
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.2, 0},
		{0, 0},
		{0.62, 0.62},
		{1, 1},
		{93.5, 1},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, 期望 %v", tt.in, got, tt.want)
		}
	}
}

func TestReadingOrder(t *testing.T) {
	items := []positioned{
		{Reading{Text: "R:3", Confidence: 0.9}, image.Rect(0, 40, 30, 60)},
		{Reading{Text: "H:2", Confidence: 0.9}, image.Rect(40, 2, 70, 22)},
		{Reading{Text: "L:1", Confidence: 0.9}, image.Rect(0, 0, 30, 20)},
		{Reading{Text: "", Confidence: 0.9}, image.Rect(80, 0, 90, 20)},
	}
	got := readingOrder(items)
	var texts []string
	for _, r := range got {
		texts = append(texts, r.Text)
	}
	if strings.Join(texts, " ") != "L:1 H:2 R:3" {
		t.Errorf("阅读顺序错误: %v", texts)
	}
}

func TestConfigMissing(t *testing.T) {
	orig := statFile
	defer func() { statFile = orig }()

	statFile = func(path string) error {
		if strings.HasSuffix(path, "rec.onnx") {
			return os.ErrNotExist
		}
		return nil
	}

	cfg := Config{OnnxRuntimeLibPath: "lib.so", DetModelPath: "det.onnx", RecModelPath: "rec.onnx", DictPath: "dict.txt"}
	if missing := cfg.Missing(); len(missing) != 1 || missing[0] != "rec.onnx" {
		t.Errorf("缺失文件 = %v, 期望 [rec.onnx]", missing)
	}
	if cfg.Available() {
		t.Error("缺少文件时不应可用")
	}

	over := cfg.Override(Config{DictPath: "other.txt"})
	if over.DictPath != "other.txt" || over.DetModelPath != "det.onnx" {
		t.Errorf("覆盖结果错误: %+v", over)
	}

	if _, err := NewPaddleEngine(cfg, 1); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("模型缺失时应返回 ErrEngineUnavailable, 实际 %v", err)
	}
}

func TestModelInstaller(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	defer srv.Close()

	inst := NewModelInstaller(t.TempDir())
	inst.baseURL = srv.URL
	var last float64
	inst.SetProgressCallback(func(p float64) { last = p })

	if inst.Installed() {
		t.Fatal("初始时不应已安装")
	}
	if err := inst.Install(context.Background()); err != nil {
		t.Fatalf("安装失败: %v", err)
	}
	if !inst.Installed() {
		t.Error("安装后应可用")
	}
	if last != 100 {
		t.Errorf("最终进度应为 100, 实际 %.1f", last)
	}
	if hits.Load() != 4 {
		t.Errorf("应下载 4 个文件, 实际 %d", hits.Load())
	}

	data, err := os.ReadFile(inst.Config().DictPath)
	if err != nil || !strings.Contains(string(data), "/paddle_weights/dict.txt") {
		t.Errorf("字典文件内容错误: %s %v", data, err)
	}

	// 已存在的文件不再下载
	if err := inst.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 4 {
		t.Errorf("重复安装不应重新下载, 请求数 %d", hits.Load())
	}
}

// renderText 用等宽字体在白底上绘制黑色文字
func renderText(t *testing.T, text string, size float64) *image.RGBA {
	t.Helper()

	f, err := truetype.Parse(gomono.TTF)
	if err != nil {
		t.Fatalf("加载字体失败: %v", err)
	}

	w := int(size*0.7)*len(text) + 40
	h := int(size) + 30
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(size)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetSrc(image.NewUniform(color.Black))
	c.SetHinting(font.HintingFull)

	if _, err := c.DrawString(text, freetype.Pt(20, 15+int(size))); err != nil {
		t.Fatalf("绘制文字失败: %v", err)
	}
	return img
}

func TestTesseractRecognize(t *testing.T) {
	engine, err := NewTesseractEngine("eng")
	if err != nil {
		t.Skipf("跳过测试：Tesseract 不可用: %v", err)
	}
	defer engine.Close()

	img := renderText(t, "L:45", 40)
	readings, err := engine.Recognize(context.Background(), img, Hints{Charset: "L:0123456789"})
	if err != nil {
		t.Fatalf("识别失败: %v", err)
	}
	for _, r := range readings {
		if r.Confidence < 0 || r.Confidence > 1 {
			t.Errorf("置信度越界: %+v", r)
		}
		t.Logf("识别结果: %q (%.2f)", r.Text, r.Confidence)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Recognize(ctx, img, Hints{}); !errors.Is(err, context.Canceled) {
		t.Errorf("已取消的上下文应返回 context.Canceled, 实际 %v", err)
	}
}

func TestPaddleRecognize(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Available() {
		t.Skipf("跳过测试：PaddleOCR 模型未安装: %v", cfg.Missing())
	}

	engine, err := NewPaddleEngine(cfg, 1)
	if err != nil {
		t.Skipf("跳过测试：OCR 初始化失败: %v", err)
	}
	defer engine.Close()

	readings, err := engine.Recognize(context.Background(), renderText(t, "H:12", 40), Hints{})
	if err != nil {
		t.Fatalf("识别失败: %v", err)
	}
	for _, r := range readings {
		t.Logf("识别结果: %q (%.2f)", r.Text, r.Confidence)
	}
}
