package pipeline

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zoeyai/zoeyreader/pkg/selector"
	"github.com/zoeyai/zoeyreader/pkg/template"
	"github.com/zoeyai/zoeyreader/pkg/vision/ocr"
	"github.com/zoeyai/zoeyreader/pkg/vision/preprocess"
)

// taggedImage 携带所属变体名，便于假引擎按变体返回结果
type taggedImage struct {
	image.Image
	variant string
}

type fakeSource struct {
	names []string
}

func (f fakeSource) Variants(img image.Image, _ preprocess.Profile) []preprocess.Variant {
	out := make([]preprocess.Variant, len(f.names))
	for i, n := range f.names {
		out[i] = preprocess.Variant{Name: n, Index: i, Image: taggedImage{Image: img, variant: n}}
	}
	return out
}

func (fakeSource) AutoScale(img image.Image) image.Image        { return img }
func (fakeSource) Scale(img image.Image, _ float64) image.Image { return img }

// scriptEngine 按 (ROI 图像标记, 变体) 返回预设结果
type scriptEngine struct {
	name   string
	script func(roi, variant string) ([]ocr.Reading, error)
	calls  atomic.Int32
}

func (e *scriptEngine) Name() string   { return e.name }
func (e *scriptEngine) Kind() ocr.Kind { return ocr.KindClassical }
func (e *scriptEngine) Close() error   { return nil }

func (e *scriptEngine) Recognize(_ context.Context, img image.Image, _ ocr.Hints) ([]ocr.Reading, error) {
	e.calls.Add(1)
	t := img.(taggedImage)
	return e.script(t.Image.(roiImage).roi, t.variant)
}

// roiImage 以 ROI 名标记的空白图像
type roiImage struct {
	*image.RGBA
	roi string
}

func capture(roi string) Entry {
	return Entry{ROI: roi, Image: roiImage{RGBA: image.NewRGBA(image.Rect(0, 0, 40, 20)), roi: roi}, Phase: 1}
}

func collection(rois ...template.ROI) *template.Collection {
	return &template.Collection{ROIs: rois}
}

func newOrchestrator(t *testing.T, coll *template.Collection, opts Options, engines ...ocr.Engine) *Orchestrator {
	t.Helper()
	if opts.Floor == 0 {
		opts.Floor = 0.30
	}
	return New(coll, ocr.NewSet(engines...), fakeSource{names: []string{"raw", "enhanced"}}, opts)
}

func TestAnchoredPatternBeatsHigherConfidence(t *testing.T) {
	a := &scriptEngine{name: "a", script: func(string, string) ([]ocr.Reading, error) {
		return []ocr.Reading{{Text: "L:45", Confidence: 0.62}}, nil
	}}
	b := &scriptEngine{name: "b", script: func(string, string) ([]ocr.Reading, error) {
		return []ocr.Reading{{Text: "l:45", Confidence: 0.88}}, nil
	}}
	o := newOrchestrator(t, collection(template.ROI{ID: "level", Pattern: "L:(number)"}), Options{Workers: 2}, a, b)

	snap := o.RunPass(context.Background(), 1, []Entry{capture("level")}, nil)
	res, ok := snap.Get("level")
	if !ok {
		t.Fatal("快照中缺少 level")
	}
	if res.Unresolved() {
		t.Fatalf("level 不应未解析: %s", res.Reason)
	}
	if res.Winner.Text != "L:45" || res.Winner.Engine != "a" {
		t.Errorf("胜出者 = %s/%q, 期望 a/\"L:45\"", res.Winner.Engine, res.Winner.Text)
	}
	if res.Winner.Value == nil || len(res.Winner.Value.Numbers) != 1 || res.Winner.Value.Numbers[0] != 45 {
		t.Errorf("提取值 = %+v, 期望 [45]", res.Winner.Value)
	}
	if res.Rationale != selector.RationalePatternMatched {
		t.Errorf("选择依据 = %s", res.Rationale)
	}
}

func TestBelowFloorRegionIsIsolated(t *testing.T) {
	e := &scriptEngine{name: "e", script: func(roi, _ string) ([]ocr.Reading, error) {
		if roi == "dim" {
			return []ocr.Reading{{Text: "7", Confidence: 0.12}}, nil
		}
		return []ocr.Reading{{Text: "3", Confidence: 0.9}}, nil
	}}
	coll := collection(
		template.ROI{ID: "gold", Pattern: "(number)"},
		template.ROI{ID: "dim", Pattern: "(number)"},
		template.ROI{ID: "wood", Pattern: "(number)"},
	)
	o := newOrchestrator(t, coll, Options{Workers: 3}, e)

	snap := o.RunPass(context.Background(), 1, []Entry{capture("gold"), capture("dim"), capture("wood")}, nil)
	if res, _ := snap.Get("dim"); !res.Unresolved() {
		t.Errorf("dim 应未解析, 实际 %+v", res.Winner)
	}
	for _, id := range []string{"gold", "wood"} {
		res, _ := snap.Get(id)
		if res.Unresolved() || res.Winner.Text != "3" {
			t.Errorf("%s 应解析为 3, 实际 %+v", id, res)
		}
	}
	if got := strings.Join(snap.Order, ","); got != "gold,dim,wood" {
		t.Errorf("顺序 = %s", got)
	}
	resolved, unresolved := snap.Counts()
	if resolved != 2 || unresolved != 1 {
		t.Errorf("计数 = %d/%d", resolved, unresolved)
	}
}

func TestRegionFailuresDoNotSpread(t *testing.T) {
	e := &scriptEngine{name: "e", script: func(roi, _ string) ([]ocr.Reading, error) {
		switch roi {
		case "boom":
			panic("坏掉的区域")
		case "err":
			return nil, errors.New("引擎出错")
		}
		return []ocr.Reading{{Text: "12", Confidence: 0.8}}, nil
	}}
	coll := collection(
		template.ROI{ID: "ok"},
		template.ROI{ID: "boom"},
		template.ROI{ID: "err"},
		template.ROI{ID: "nocap"},
	)
	o := newOrchestrator(t, coll, Options{Workers: 2}, e)

	nocap := Entry{ROI: "nocap", Err: errors.New("屏幕不可用")}
	snap := o.RunPass(context.Background(), 1, []Entry{capture("ok"), capture("boom"), capture("err"), nocap}, nil)

	tests := []struct {
		roi        string
		unresolved bool
		reason     string
	}{
		{"ok", false, ""},
		{"boom", true, "低于置信度下限"},
		{"err", true, "低于置信度下限"},
		{"nocap", true, "采集失败"},
	}
	for _, tt := range tests {
		t.Run(tt.roi, func(t *testing.T) {
			res, ok := snap.Get(tt.roi)
			if !ok {
				t.Fatal("快照中缺少该区域")
			}
			if res.Unresolved() != tt.unresolved {
				t.Fatalf("未解析 = %v, 期望 %v", res.Unresolved(), tt.unresolved)
			}
			if tt.reason != "" && !strings.Contains(res.Reason, tt.reason) {
				t.Errorf("原因 = %q, 期望包含 %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestEnginePanicKeepsOtherCandidates(t *testing.T) {
	flaky := &scriptEngine{name: "flaky", script: func(_, variant string) ([]ocr.Reading, error) {
		if variant == "enhanced" {
			panic("模型崩溃")
		}
		return []ocr.Reading{{Text: "L:31", Confidence: 0.7}}, nil
	}}
	steady := &scriptEngine{name: "steady", script: func(_, variant string) ([]ocr.Reading, error) {
		if variant == "enhanced" {
			return []ocr.Reading{{Text: "L:31", Confidence: 0.95}}, nil
		}
		return []ocr.Reading{{Text: "L:3l", Confidence: 0.5}}, nil
	}}
	o := newOrchestrator(t, collection(template.ROI{ID: "level", Pattern: "L:(number)"}), Options{Workers: 1}, flaky, steady)

	rec := &recordingObserver{}
	o.SetObserver(rec)

	snap := o.RunPass(context.Background(), 1, []Entry{capture("level")}, nil)
	res, _ := snap.Get("level")
	if res.Unresolved() {
		t.Fatalf("单个引擎异常不应使区域未解析: %s", res.Reason)
	}
	if res.Winner.Engine != "steady" || res.Winner.Text != "L:31" {
		t.Errorf("胜出者 = %s/%q, 期望 steady/\"L:31\"", res.Winner.Engine, res.Winner.Text)
	}

	// raw 上两个引擎 + enhanced 上 steady，异常的那一次不产生候选
	traces := rec.all()
	if len(traces) != 1 {
		t.Fatalf("观察到 %d 个区域", len(traces))
	}
	engines := map[string]int{}
	for _, c := range traces[0].Candidates {
		engines[c.Engine+"/"+c.Variant]++
	}
	if engines["flaky/raw"] == 0 || engines["steady/raw"] == 0 || engines["steady/enhanced"] == 0 {
		t.Errorf("应保留其他引擎和变体的候选: %v", engines)
	}
	if engines["flaky/enhanced"] != 0 {
		t.Errorf("异常的识别不应产生候选: %v", engines)
	}
}

func TestCancelSkipsUnstartedRegions(t *testing.T) {
	var flag atomic.Bool
	e := &scriptEngine{name: "e", script: func(string, string) ([]ocr.Reading, error) {
		flag.Store(true)
		return []ocr.Reading{{Text: "1", Confidence: 0.9}}, nil
	}}
	coll := collection(template.ROI{ID: "r1"}, template.ROI{ID: "r2"}, template.ROI{ID: "r3"})
	o := newOrchestrator(t, coll, Options{Workers: 1}, e)

	snap := o.RunPass(context.Background(), 2, []Entry{capture("r1"), capture("r2"), capture("r3")}, flag.Load)
	if !snap.Interrupted {
		t.Error("快照应标记为中断")
	}
	if res, _ := snap.Get("r1"); res.Unresolved() {
		t.Error("已开始的区域应完成")
	}
	for _, id := range []string{"r2", "r3"} {
		res, _ := snap.Get(id)
		if !res.Unresolved() || res.Reason != ReasonCancelled {
			t.Errorf("%s 应为 cancelled, 实际 %+v", id, res)
		}
	}
}

func TestJoinedMultiLineCandidate(t *testing.T) {
	e := &scriptEngine{name: "e", script: func(string, string) ([]ocr.Reading, error) {
		return []ocr.Reading{{Text: "12/", Confidence: 0.9}, {Text: "34", Confidence: 0.7}}, nil
	}}
	o := newOrchestrator(t, collection(template.ROI{ID: "cap", Pattern: "(number)/(number)"}), Options{}, e)

	res, _ := o.RunPass(context.Background(), 1, []Entry{capture("cap")}, nil).Get("cap")
	if res.Unresolved() {
		t.Fatalf("拼接候选应匹配: %s", res.Reason)
	}
	if res.Winner.Text != "12/34" || res.Winner.Confidence != 0.7 {
		t.Errorf("胜出者 = %q@%.2f, 期望 \"12/34\"@0.70", res.Winner.Text, res.Winner.Confidence)
	}
	if nums := res.Winner.Value.Numbers; len(nums) != 2 || nums[0] != 12 || nums[1] != 34 {
		t.Errorf("提取值 = %v", nums)
	}
}

func TestAdjustmentSign(t *testing.T) {
	e := &scriptEngine{name: "e", script: func(string, string) ([]ocr.Reading, error) {
		return []ocr.Reading{{Text: "5", Confidence: 0.8}}, nil
	}}
	coll := collection(template.ROI{ID: "delta", Kind: template.KindAdjustment, Pattern: "(signed)"})

	tests := []struct {
		name      string
		stats     preprocess.ColourStats
		text      string
		rationale selector.Rationale
	}{
		{"红色为负", preprocess.ColourStats{Red: 80}, "-5", selector.RationalePatternMatched},
		{"绿色为正", preprocess.ColourStats{Green: 80}, "+5", selector.RationalePatternMatched},
		{"无内容为零", preprocess.ColourStats{Red: 3, Green: 2}, "0", selector.RationaleNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, coll, Options{MinColourPixels: 20}, e)
			o.colour = func(image.Image) (preprocess.ColourStats, error) { return tt.stats, nil }

			res, _ := o.RunPass(context.Background(), 1, []Entry{capture("delta")}, nil).Get("delta")
			if res.Unresolved() {
				t.Fatalf("不应未解析: %s", res.Reason)
			}
			if res.Winner.Text != tt.text || res.Rationale != tt.rationale {
				t.Errorf("结果 = %q/%s, 期望 %q/%s", res.Winner.Text, res.Rationale, tt.text, tt.rationale)
			}
		})
	}
}

func TestEarlyExit(t *testing.T) {
	newEngine := func() *scriptEngine {
		return &scriptEngine{name: "e", script: func(string, string) ([]ocr.Reading, error) {
			return []ocr.Reading{{Text: "88", Confidence: 0.95}}, nil
		}}
	}
	coll := collection(template.ROI{ID: "n", Pattern: "(number)"})

	off := newEngine()
	newOrchestrator(t, coll, Options{}, off).RunPass(context.Background(), 1, []Entry{capture("n")}, nil)
	if got := off.calls.Load(); got != 2 {
		t.Errorf("未开启提前结束时调用次数 = %d, 期望 2", got)
	}

	on := newEngine()
	newOrchestrator(t, coll, Options{EarlyExitConfidence: 0.9}, on).RunPass(context.Background(), 1, []Entry{capture("n")}, nil)
	if got := on.calls.Load(); got != 1 {
		t.Errorf("开启提前结束时调用次数 = %d, 期望 1", got)
	}
}

func TestMalformedPatternTreatedAsPatternless(t *testing.T) {
	e := &scriptEngine{name: "e", script: func(string, string) ([]ocr.Reading, error) {
		return []ocr.Reading{{Text: "abc", Confidence: 0.6}}, nil
	}}
	o := newOrchestrator(t, collection(template.ROI{ID: "bad", Pattern: "(bogus)"}), Options{}, e)

	if r, _ := o.Region("bad"); r.Pattern != nil {
		t.Error("错误的模式应被丢弃")
	}
	res, _ := o.RunPass(context.Background(), 1, []Entry{capture("bad")}, nil).Get("bad")
	if res.Unresolved() || res.Rationale != selector.RationaleHighestConfidence {
		t.Errorf("结果 = %+v", res)
	}
}

func TestUnknownAndDuplicateEntries(t *testing.T) {
	e := &scriptEngine{name: "e", script: func(string, string) ([]ocr.Reading, error) {
		return []ocr.Reading{{Text: "1", Confidence: 0.9}}, nil
	}}
	o := newOrchestrator(t, collection(template.ROI{ID: "a"}), Options{}, e)

	snap := o.RunPass(context.Background(), 1, []Entry{capture("a"), capture("ghost"), capture("a")}, nil)
	if len(snap.Results) != 1 {
		t.Errorf("结果数 = %d, 期望 1", len(snap.Results))
	}
	if _, ok := snap.Get("ghost"); ok {
		t.Error("模板外的区域不应出现在快照中")
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	ids    []string
	traces []RegionTrace
}

func (r *recordingObserver) ObserveRegion(trace RegionTrace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, trace.ROI)
	r.traces = append(r.traces, trace)
}

func (r *recordingObserver) all() []RegionTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RegionTrace(nil), r.traces...)
}

func TestObserverSeesEveryRecognizedRegion(t *testing.T) {
	e := &scriptEngine{name: "e", script: func(string, string) ([]ocr.Reading, error) {
		return []ocr.Reading{{Text: "1", Confidence: 0.9}}, nil
	}}
	o := newOrchestrator(t, collection(template.ROI{ID: "a"}, template.ROI{ID: "b"}), Options{Workers: 2}, e)
	obs := &recordingObserver{}
	o.SetObserver(obs)

	o.RunPass(context.Background(), 1, []Entry{capture("a"), capture("b")}, nil)
	if len(obs.ids) != 2 {
		t.Errorf("观察到 %d 个区域, 期望 2", len(obs.ids))
	}
}
