// Package state 将阶段快照汇总为游戏状态文档
package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/zoeyai/zoeyreader/pkg/pipeline"
	"github.com/zoeyai/zoeyreader/pkg/selector"
)

// Version 文档格式版本
const Version = 1

// Status 会话结束状态
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Field 单个区域的输出
type Field struct {
	Value      any     `json:"value"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	Variant    string  `json:"variant,omitempty"`
	Engine     string  `json:"engine,omitempty"`

	Unresolved bool   `json:"-"`
	Reason     string `json:"-"`
}

// MarshalJSON 未解析的区域只输出 unresolved 和 reason
func (f Field) MarshalJSON() ([]byte, error) {
	if f.Unresolved {
		return json.Marshal(struct {
			Unresolved bool   `json:"unresolved"`
			Reason     string `json:"reason"`
		}{true, f.Reason})
	}
	type plain Field
	return json.Marshal(plain(f))
}

// UnmarshalJSON 与 MarshalJSON 对应
func (f *Field) UnmarshalJSON(data []byte) error {
	var probe struct {
		Unresolved bool   `json:"unresolved"`
		Reason     string `json:"reason"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Unresolved {
		*f = Field{Unresolved: true, Reason: probe.Reason}
		return nil
	}
	type plain Field
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = Field(p)
	return nil
}

// Phase 一个阶段内 ROI ID → 输出
type Phase map[string]Field

// Document 游戏状态文档，ROI ID 与模板保持一致
type Document struct {
	Version    int              `json:"version"`
	Resolution string           `json:"resolution"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Status     Status           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Export     string           `json:"export"`
	Phases     map[string]Phase `json:"phases"`
	// Actions 存档中的兵力调配，按阶段号分组，仅 enriched 导出时存在
	Actions map[string][]Allocation `json:"actions,omitempty"`
	// Cards 从行动卡面板读出的兵力调配，按阶段号分组
	Cards map[string][]Allocation `json:"cards,omitempty"`
	// Interrupted 识别途中取消的阶段，不属于已完成阶段
	Interrupted map[string]Phase `json:"interrupted,omitempty"`
}

// Marshal 两空格缩进的 JSON
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化游戏状态失败: %w", err)
	}
	return append(data, '\n'), nil
}

// ToMap 转换为通用 map，用于发布
func (d *Document) ToMap() (map[string]any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Value 查找某阶段某区域的输出
func (d *Document) Value(phase int, roi string) (Field, bool) {
	p, ok := d.Phases[strconv.Itoa(phase)]
	if !ok {
		return Field{}, false
	}
	f, ok := p[roi]
	return f, ok
}

// Builder 逐阶段累积快照
type Builder struct {
	mu          sync.Mutex
	resolution  string
	startedAt   time.Time
	phases      map[string]Phase
	interrupted map[string]Phase
	cards       map[string][]Allocation
	actions     Actions
}

// NewBuilder 创建构建器
func NewBuilder(resolution string, startedAt time.Time) *Builder {
	return &Builder{
		resolution:  resolution,
		startedAt:   startedAt,
		phases:      make(map[string]Phase),
		interrupted: make(map[string]Phase),
		cards:       make(map[string][]Allocation),
	}
}

// Add 加入一个快照；中断的快照单独存放
func (b *Builder) Add(s *pipeline.Snapshot) {
	if s == nil {
		return
	}
	p := make(Phase, len(s.Results))
	for id, res := range s.Results {
		p[id] = FieldFor(res)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := strconv.Itoa(s.Phase)
	if s.Interrupted {
		b.interrupted[key] = p
		return
	}
	b.phases[key] = p
	if list := CardAllocations(s); len(list) > 0 {
		b.cards[key] = list
	}
}

// Merge 合并存档中的行动，文档改为 enriched 导出
func (b *Builder) Merge(actions Actions) {
	if actions == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = actions
}

// Build 生成文档
func (b *Builder) Build(status Status, cause error, finishedAt time.Time) *Document {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc := &Document{
		Version:    Version,
		Resolution: b.resolution,
		StartedAt:  b.startedAt,
		FinishedAt: finishedAt,
		Status:     status,
		Export:     ExportSimple,
		Phases:     lo.Assign(b.phases),
	}
	if b.actions != nil {
		doc.Export = ExportEnriched
		doc.Actions = lo.MapKeys(b.actions, func(_ []Allocation, p int) string { return strconv.Itoa(p) })
	}
	if len(b.cards) > 0 {
		doc.Cards = lo.Assign(b.cards)
	}
	if len(b.interrupted) > 0 {
		doc.Interrupted = lo.Assign(b.interrupted)
	}
	if cause != nil {
		doc.Error = cause.Error()
	}
	return doc
}

// FieldFor 将选择结果转换为输出
func FieldFor(res selector.Result) Field {
	if res.Unresolved() {
		return Field{Unresolved: true, Reason: res.Reason}
	}
	w := res.Winner
	return Field{
		Value:      RenderValue(w),
		Text:       w.Text,
		Confidence: w.Confidence,
		Rationale:  string(res.Rationale),
		Variant:    w.Variant,
		Engine:     w.Engine,
	}
}

// RenderValue 一个整数输出数字，多个输出数组，没有则输出文本
func RenderValue(c *selector.Candidate) any {
	if c.Value == nil {
		return c.Text
	}
	switch n := c.Value.Numbers; len(n) {
	case 0:
		return c.Value.Text
	case 1:
		return n[0]
	default:
		return lo.Map(n, func(v int, _ int) int { return v })
	}
}
