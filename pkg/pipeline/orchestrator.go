package pipeline

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/selector"
	"github.com/zoeyai/zoeyreader/pkg/template"
	"github.com/zoeyai/zoeyreader/pkg/validate"
	"github.com/zoeyai/zoeyreader/pkg/vision/cards"
	"github.com/zoeyai/zoeyreader/pkg/vision/ocr"
	"github.com/zoeyai/zoeyreader/pkg/vision/preprocess"
)

// ReasonCancelled 取消后未开始的区域使用的原因
const ReasonCancelled = "cancelled"

// EngineTemplate 行动卡面板结果的引擎名
const EngineTemplate = "template"

// Options 识别参数
type Options struct {
	Workers             int
	Floor               float64
	EarlyExitConfidence float64
	MinColourPixels     int
}

// Region 编译后的区域
type Region struct {
	ROI     template.ROI
	Pattern *validate.Pattern
	Profile preprocess.Profile
}

// CompileRegions 编译区域的模式
// 模式错误只记录一次，该区域在本次会话中按无模式处理
func CompileRegions(c *template.Collection) []*Region {
	regions := make([]*Region, 0, len(c.ROIs))
	for _, roi := range c.ROIs {
		regions = append(regions, compileRegion(roi))
	}
	return regions
}

// CompileCardFields 编译行动卡面板的字段，键为 面板ID.字段名
func CompileCardFields(panel *template.ROI) map[string]*Region {
	if !panel.IsActionCard() || panel.Cards == nil {
		return nil
	}
	out := make(map[string]*Region)
	for _, f := range panel.Cards.FieldList() {
		r := compileRegion(panel.Cards.FieldROI(panel, f))
		out[r.ROI.ID] = r
	}
	return out
}

func compileRegion(roi template.ROI) *Region {
	p, err := validate.Compile(roi.Pattern, roi.Expected...)
	if err != nil {
		logger.WarnOnce("pattern:"+roi.ID, "ROI %s 的模式无效, 本次会话按无模式处理: %v", roi.ID, err)
		p, _ = validate.Compile("", roi.Expected...)
	}
	return &Region{
		ROI:     roi,
		Pattern: p,
		Profile: preprocess.LookupProfile(roi.Profile),
	}
}

// Orchestrator 区域识别编排
type Orchestrator struct {
	regions   map[string]*Region
	fields    map[string]*Region
	order     []string
	engines   *ocr.Set
	engineIdx map[string]int
	pre       VariantSource
	opts      Options
	colour    func(image.Image) (preprocess.ColourStats, error)
	observer  Observer
	locator   CardLocator
}

// New 创建编排器
func New(coll *template.Collection, engines *ocr.Set, pre VariantSource, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MinColourPixels < 1 {
		opts.MinColourPixels = 20
	}

	o := &Orchestrator{
		regions:   make(map[string]*Region),
		fields:    make(map[string]*Region),
		engines:   engines,
		engineIdx: make(map[string]int),
		pre:       pre,
		opts:      opts,
		colour:    preprocess.AnalyzeColour,
	}
	for _, r := range CompileRegions(coll) {
		o.regions[r.ROI.ID] = r
		o.order = append(o.order, r.ROI.ID)
		for id, f := range CompileCardFields(&r.ROI) {
			o.fields[id] = f
		}
	}
	for i, e := range engines.Engines() {
		o.engineIdx[e.Name()] = i
	}
	return o
}

// SetObserver 设置区域识别观察者
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// SetCardLocator 设置行动卡定位器，未设置时行动卡面板记为未解析
func (o *Orchestrator) SetCardLocator(l CardLocator) {
	o.locator = l
}

// Region 按 ID 取编译后的区域
// 卡片字段的 ID (面板#序号.字段) 返回面板对应字段的定义
func (o *Orchestrator) Region(id string) (*Region, bool) {
	if r, ok := o.regions[id]; ok {
		return r, true
	}
	panel, _, field, ok := template.SplitCardEntryID(id)
	if !ok {
		return nil, false
	}
	r, ok := o.fields[panel+"."+field]
	return r, ok
}

// RunPass 并行识别所有缓冲项并生成阶段快照
// cancelled 在每个区域开始前检查；已开始的区域会完成，未开始的记为未解析
// 单个区域的失败只影响该区域
// 行动卡面板先定位卡片，每张卡的字段作为独立区域参与识别
func (o *Orchestrator) RunPass(ctx context.Context, phase int, entries []Entry, cancelled func() bool) *Snapshot {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	var work, panels []Entry
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		r, ok := o.regions[e.ROI]
		if !ok {
			logger.Warn("阶段 %d: 忽略模板中不存在的区域 %s", phase, e.ROI)
			continue
		}
		if _, dup := seen[e.ROI]; dup {
			continue
		}
		seen[e.ROI] = struct{}{}
		if r.ROI.IsActionCard() {
			panels = append(panels, e)
			continue
		}
		work = append(work, e)
	}

	startTime := time.Now()
	var skipped atomic.Int32

	// 面板展开为卡片字段
	var (
		panelResults = make(map[string]selector.Result, len(panels))
		panelTimings = make(map[string]time.Duration, len(panels))
		found        = make(map[string][]cards.Card)
		fieldOrder   = make(map[string][]string)
	)
	for _, p := range panels {
		if cancelled() || ctx.Err() != nil {
			panelResults[p.ROI] = selector.UnresolvedResult(p.ROI, ReasonCancelled)
			skipped.Add(1)
			continue
		}
		begin := time.Now()
		res, list, subs := o.expandPanel(phase, p)
		panelResults[p.ROI] = res
		panelTimings[p.ROI] = time.Since(begin)
		if !res.Unresolved() {
			found[p.ROI] = list
		}
		for _, sub := range subs {
			fieldOrder[p.ROI] = append(fieldOrder[p.ROI], sub.ROI)
		}
		work = append(work, subs...)
	}

	results := make([]selector.Result, len(work))
	timings := make([]time.Duration, len(work))

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, entry := range work {
		g.Go(func() error {
			if cancelled() || ctx.Err() != nil {
				results[i] = selector.UnresolvedResult(entry.ROI, ReasonCancelled)
				skipped.Add(1)
				return nil
			}
			begin := time.Now()
			results[i] = o.recognizeRegion(ctx, phase, entry)
			timings[i] = time.Since(begin)
			return nil
		})
	}
	_ = g.Wait()

	snap := &Snapshot{
		Phase:       phase,
		Results:     make(map[string]selector.Result, len(work)+len(panels)),
		Timings:     make(map[string]time.Duration, len(work)+len(panels)),
		Created:     time.Now(),
		Interrupted: skipped.Load() > 0,
	}
	for id, res := range panelResults {
		snap.Results[id] = res
		snap.Timings[id] = panelTimings[id]
	}
	for i, entry := range work {
		snap.Results[entry.ROI] = results[i]
		snap.Timings[entry.ROI] = timings[i]
	}
	for _, id := range o.order {
		if _, ok := snap.Results[id]; ok {
			snap.Order = append(snap.Order, id)
			snap.Order = append(snap.Order, fieldOrder[id]...)
		}
	}
	if len(found) > 0 {
		snap.Cards = found
	}

	resolved, unresolved := snap.Counts()
	elapsed := float64(time.Since(startTime).Milliseconds())
	logger.LogEvent("PASS", true, elapsed, fmt.Sprintf("阶段 %d: 已解析 %d, 未解析 %d, 跳过 %d", phase, resolved, unresolved, skipped.Load()))
	return snap
}

// expandPanel 定位面板中的卡片，返回面板结果、卡片和各卡字段的缓冲项
// 面板的值为卡片数，置信度为匹配置信度的均值
func (o *Orchestrator) expandPanel(phase int, panel Entry) (res selector.Result, found []cards.Card, subs []Entry) {
	region := o.regions[panel.ROI]
	defer func() {
		if r := recover(); r != nil {
			logger.Error("面板 %s 卡片定位异常: %v", panel.ROI, r)
			res, found, subs = selector.UnresolvedResult(panel.ROI, fmt.Sprintf("卡片定位异常: %v", r)), nil, nil
		}
		if o.observer != nil {
			o.observer.ObserveRegion(RegionTrace{Phase: phase, ROI: panel.ROI, Raw: panel.Image, Result: res})
		}
	}()

	switch {
	case panel.Err != nil:
		return selector.UnresolvedResult(panel.ROI, fmt.Sprintf("采集失败: %v", panel.Err)), nil, nil
	case panel.Image == nil:
		return selector.UnresolvedResult(panel.ROI, "没有图像"), nil, nil
	case o.locator == nil:
		return selector.UnresolvedResult(panel.ROI, "未配置卡片定位"), nil, nil
	}

	found, err := o.locator.Locate(panel.Image, region.ROI.Cards)
	if err != nil {
		logger.Warn("面板 %s 卡片定位失败: %v", panel.ROI, err)
		return selector.UnresolvedResult(panel.ROI, fmt.Sprintf("卡片定位失败: %v", err)), nil, nil
	}

	fields := region.ROI.Cards.FieldList()
	subs = make([]Entry, 0, len(found)*len(fields))
	conf := 1.0
	if len(found) > 0 {
		conf = 0
		for _, c := range found {
			conf += c.Confidence
		}
		conf /= float64(len(found))
	}
	for _, c := range found {
		for _, f := range fields {
			subs = append(subs, Entry{
				ROI:      template.CardEntryID(panel.ROI, c.Index, f.Name),
				Image:    cards.Crop(panel.Image, cards.FieldRect(c, f)),
				Captured: panel.Captured,
				Phase:    panel.Phase,
			})
		}
	}
	logger.Debug("面板 %s: %d 张卡片, %d 个字段", panel.ROI, len(found), len(subs))

	n := strconv.Itoa(len(found))
	return selector.Result{
		ROI: panel.ROI,
		Winner: &selector.Candidate{
			Variant:    preprocess.VariantRaw,
			Engine:     EngineTemplate,
			Text:       n,
			Confidence: ocr.ClampConfidence(conf),
			Matched:    true,
			Value:      &validate.Value{Text: n, Numbers: []int{len(found)}},
		},
		Rationale:  selector.RationaleTemplateMatched,
		Considered: len(found),
		Survivors:  len(found),
	}, found, subs
}

func (o *Orchestrator) recognizeRegion(ctx context.Context, phase int, entry Entry) (res selector.Result) {
	region, _ := o.Region(entry.ROI)
	begin := time.Now()
	trace := RegionTrace{Phase: phase, ROI: entry.ROI, Raw: entry.Image}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("区域 %s 识别异常: %v", entry.ROI, r)
			res = selector.UnresolvedResult(entry.ROI, fmt.Sprintf("识别异常: %v", r))
		}
		if o.observer != nil {
			trace.Result = res
			trace.Elapsed = time.Since(begin)
			o.observer.ObserveRegion(trace)
		}
	}()

	if entry.Err != nil {
		return selector.UnresolvedResult(entry.ROI, fmt.Sprintf("采集失败: %v", entry.Err))
	}
	if entry.Image == nil {
		return selector.UnresolvedResult(entry.ROI, "没有图像")
	}

	sign := preprocess.SignNone
	if region.ROI.IsAdjustment() {
		stats, err := o.colour(entry.Image)
		if err != nil {
			logger.Warn("区域 %s 颜色分析失败: %v", entry.ROI, err)
		} else {
			s, content := stats.Sign(o.opts.MinColourPixels)
			if !content {
				return selector.NoContentResult(entry.ROI)
			}
			sign = s
		}
	}

	img := entry.Image
	if region.ROI.AutoScale {
		img = o.pre.AutoScale(img)
	} else if region.ROI.Scale > 0 {
		img = o.pre.Scale(img, region.ROI.Scale)
	}

	variants := o.pre.Variants(img, region.Profile)
	trace.Variants = variants

	engines := o.engines.Select(region.ROI.Engines)
	hints := ocr.Hints{Charset: region.ROI.Charset}

	var (
		cands []selector.Candidate
		seq   int
	)
	for _, v := range variants {
		for _, engine := range engines {
			readings, err := safeRecognize(ctx, engine, v.Image, hints)
			if err != nil {
				logger.Debug("区域 %s 变体 %s 引擎 %s 识别失败: %v", entry.ROI, v.Name, engine.Name(), err)
				continue
			}
			cands = append(cands, o.buildCandidates(region, v, engine.Name(), readings, sign, &seq)...)
		}
		if o.earlyExit(cands) {
			logger.Debug("区域 %s 在变体 %s 后提前结束", entry.ROI, v.Name)
			break
		}
	}
	trace.Candidates = cands

	return selector.Select(entry.ROI, cands, selector.Policy{
		Floor:      o.opts.Floor,
		HasPattern: region.Pattern != nil,
	})
}

// safeRecognize 单次识别的异常只影响这个引擎在这个变体上的结果
func safeRecognize(ctx context.Context, engine ocr.Engine, img image.Image, hints ocr.Hints) (readings []ocr.Reading, err error) {
	defer func() {
		if r := recover(); r != nil {
			readings, err = nil, fmt.Errorf("引擎 %s 异常: %v", engine.Name(), r)
		}
	}()
	return engine.Recognize(ctx, img, hints)
}

func (o *Orchestrator) earlyExit(cands []selector.Candidate) bool {
	if o.opts.EarlyExitConfidence <= 0 {
		return false
	}
	for _, c := range cands {
		if c.Matched && c.Confidence >= o.opts.EarlyExitConfidence && c.Confidence >= o.opts.Floor {
			return true
		}
	}
	return false
}

// buildCandidates 将引擎输出转换为候选
// 多行输出额外生成一条拼接候选；增减量区域的纯数字读数额外生成带符号的派生候选
func (o *Orchestrator) buildCandidates(r *Region, v preprocess.Variant, engine string, readings []ocr.Reading, sign preprocess.Sign, seq *int) []selector.Candidate {
	var lines []ocr.Reading
	for _, rd := range readings {
		if rd.Text != "" {
			lines = append(lines, rd)
		}
	}
	if len(lines) > 1 {
		joined := ocr.Reading{Confidence: 1}
		for _, rd := range lines {
			joined.Text += rd.Text
			if rd.Confidence < joined.Confidence {
				joined.Confidence = rd.Confidence
			}
		}
		lines = append(lines, joined)
	}

	out := make([]selector.Candidate, 0, len(lines))
	add := func(text string, conf float64, derived bool) {
		c := selector.Candidate{
			Variant:      v.Name,
			VariantIndex: v.Index,
			Engine:       engine,
			EngineIndex:  o.engineIdx[engine],
			Seq:          *seq,
			Text:         text,
			Confidence:   ocr.ClampConfidence(conf),
			Derived:      derived,
		}
		*seq++
		matched, value := r.Pattern.Validate(text)
		c.Matched = matched
		if matched {
			c.Value = &value
		}
		out = append(out, c)
	}

	// 带符号的派生候选排在原始读数之前，同分时优先
	for _, rd := range lines {
		if sign != preprocess.SignNone && isDigits(rd.Text) {
			add(sign.Prefix()+rd.Text, rd.Confidence, true)
		}
		add(rd.Text, rd.Confidence, false)
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
