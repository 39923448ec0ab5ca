// Package selector 从一个区域的全部候选中选出唯一结果
//
// 排序键（优先级从高到低）：
//  1. 低于置信度下限的候选直接丢弃
//  2. 模式匹配的候选优先于未匹配的
//  3. 置信度高者优先
//  4. 变体声明顺序靠前者优先
//  5. 引擎声明顺序靠前者优先
//  6. 引擎输出顺序靠前者优先
//
// 没有候选通过下限时结果为未解析（Unresolved），与 0 或空串不同。
package selector

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/zoeyai/zoeyreader/pkg/validate"
)

// Rationale 选择依据
type Rationale string

const (
	// RationalePatternMatched 区域配置了模式，胜出者匹配模式
	RationalePatternMatched Rationale = "pattern-matched"
	// RationaleHighestConfidence 区域未配置模式，按置信度选出
	RationaleHighestConfidence Rationale = "highest-confidence"
	// RationaleFallback 区域配置了模式但没有候选匹配，退而取置信度最高者
	RationaleFallback Rationale = "fallback"
	// RationaleNoContent 增减量区域没有彩色内容，值为 0
	RationaleNoContent Rationale = "no-content"
	// RationaleTemplateMatched 行动卡面板，值为模板匹配到的卡片数
	RationaleTemplateMatched Rationale = "template-matched"
	// RationaleUnresolved 没有可信结果
	RationaleUnresolved Rationale = "unresolved"
)

// Candidate 一条候选结果
type Candidate struct {
	Variant      string          `json:"variant"`
	VariantIndex int             `json:"variant_index"`
	Engine       string          `json:"engine"`
	EngineIndex  int             `json:"engine_index"`
	Seq          int             `json:"seq"`
	Text         string          `json:"text"`
	Confidence   float64         `json:"confidence"`
	Matched      bool            `json:"matched"`
	Value        *validate.Value `json:"value,omitempty"`
	Derived      bool            `json:"derived,omitempty"`
}

// Result 区域结果；Winner 为 nil 表示未解析
type Result struct {
	ROI        string     `json:"roi"`
	Winner     *Candidate `json:"winner,omitempty"`
	Rationale  Rationale  `json:"rationale"`
	Reason     string     `json:"reason,omitempty"`
	Considered int        `json:"considered"`
	Survivors  int        `json:"survivors"`
}

// Unresolved 是否为未解析结果
func (r Result) Unresolved() bool {
	return r.Winner == nil
}

// UnresolvedResult 构造未解析结果
func UnresolvedResult(roi, reason string) Result {
	return Result{ROI: roi, Rationale: RationaleUnresolved, Reason: reason}
}

// NoContentResult 增减量区域无内容时的结果，值为 0
func NoContentResult(roi string) Result {
	return Result{
		ROI: roi,
		Winner: &Candidate{
			Text:       "0",
			Confidence: 1,
			Matched:    true,
			Value:      &validate.Value{Text: "0", Numbers: []int{0}},
		},
		Rationale: RationaleNoContent,
	}
}

// Policy 选择参数
type Policy struct {
	// Floor 置信度下限，低于该值的候选视为噪声
	Floor float64
	// HasPattern 区域是否配置了有效模式，只影响选择依据标签
	HasPattern bool
}

// Less 排序比较：a 是否应排在 b 之前
func Less(a, b Candidate) bool {
	if a.Matched != b.Matched {
		return a.Matched
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.VariantIndex != b.VariantIndex {
		return a.VariantIndex < b.VariantIndex
	}
	if a.EngineIndex != b.EngineIndex {
		return a.EngineIndex < b.EngineIndex
	}
	return a.Seq < b.Seq
}

// Rank 过滤下限后按排序键排列，不修改输入
func Rank(cands []Candidate, floor float64) []Candidate {
	// NaN 不满足 >= 比较，也会被丢弃
	ranked := lo.Filter(cands, func(c Candidate, _ int) bool {
		return c.Confidence >= floor
	})
	sort.SliceStable(ranked, func(i, j int) bool {
		return Less(ranked[i], ranked[j])
	})
	return ranked
}

// Select 选出唯一结果
func Select(roi string, cands []Candidate, p Policy) Result {
	ranked := Rank(cands, p.Floor)
	if len(ranked) == 0 {
		res := UnresolvedResult(roi, fmt.Sprintf("%d 个候选均低于置信度下限 %.2f", len(cands), p.Floor))
		res.Considered = len(cands)
		return res
	}

	winner := ranked[0]
	res := Result{
		ROI:        roi,
		Winner:     &winner,
		Considered: len(cands),
		Survivors:  len(ranked),
	}
	switch {
	case !p.HasPattern:
		res.Rationale = RationaleHighestConfidence
	case winner.Matched:
		res.Rationale = RationalePatternMatched
	default:
		res.Rationale = RationaleFallback
	}
	return res
}
