// Package pipeline 对一个阶段的缓冲图像逐区域执行 预处理 → 识别 → 校验 → 选择
package pipeline

import (
	"image"
	"time"

	"github.com/zoeyai/zoeyreader/pkg/selector"
	"github.com/zoeyai/zoeyreader/pkg/template"
	"github.com/zoeyai/zoeyreader/pkg/vision/cards"
	"github.com/zoeyai/zoeyreader/pkg/vision/preprocess"
)

// Entry 采集缓冲项，由采集阶段创建，交给识别阶段后只读
type Entry struct {
	ROI      string
	Image    image.Image
	Captured time.Time
	Phase    int
	// Err 采集失败原因，非空时该区域直接记为未解析
	Err error
}

// Snapshot 阶段快照，创建后不再修改
type Snapshot struct {
	Phase   int                        `json:"phase"`
	Results map[string]selector.Result `json:"results"`
	// Order 区域在模板中的声明顺序
	Order       []string                 `json:"order"`
	Timings     map[string]time.Duration `json:"-"`
	Created     time.Time                `json:"created"`
	Interrupted bool                     `json:"interrupted,omitempty"`
	// Cards 行动卡面板 ID → 定位到的卡片，字段结果的 ID 为 面板#序号.字段
	Cards map[string][]cards.Card `json:"cards,omitempty"`
}

// Get 按区域 ID 取结果
func (s *Snapshot) Get(roi string) (selector.Result, bool) {
	r, ok := s.Results[roi]
	return r, ok
}

// Counts 已解析和未解析的区域数
func (s *Snapshot) Counts() (resolved, unresolved int) {
	for _, r := range s.Results {
		if r.Unresolved() {
			unresolved++
		} else {
			resolved++
		}
	}
	return resolved, unresolved
}

// RegionTrace 单个区域的识别过程，供调试产物使用
type RegionTrace struct {
	Phase      int
	ROI        string
	Raw        image.Image
	Variants   []preprocess.Variant
	Candidates []selector.Candidate
	Result     selector.Result
	Elapsed    time.Duration
}

// Observer 接收区域识别过程，可并发调用
type Observer interface {
	ObserveRegion(trace RegionTrace)
}

// CardLocator 在行动卡面板中定位卡片
type CardLocator interface {
	Locate(panel image.Image, layout *template.CardLayout) ([]cards.Card, error)
}

// VariantSource 预处理能力
type VariantSource interface {
	Variants(img image.Image, prof preprocess.Profile) []preprocess.Variant
	AutoScale(img image.Image) image.Image
	Scale(img image.Image, factor float64) image.Image
}
