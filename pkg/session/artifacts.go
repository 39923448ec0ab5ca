package session

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/pipeline"
	"github.com/zoeyai/zoeyreader/pkg/vision/cv"
)

// RegionTiming timings.json 中的一条记录
type RegionTiming struct {
	ROI        string  `json:"roi"`
	ElapsedMs  float64 `json:"elapsed_ms"`
	Variants   int     `json:"variants"`
	Candidates int     `json:"candidates"`
	Rationale  string  `json:"rationale"`
	Winner     string  `json:"winner,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Artifacts 调试产物：原图、各变体图和耗时
type Artifacts struct {
	root string

	mu      sync.Mutex
	timings map[int][]RegionTiming
}

// NewArtifacts 创建调试产物写入器
func NewArtifacts(root string) *Artifacts {
	return &Artifacts{root: root, timings: make(map[int][]RegionTiming)}
}

// PhaseDir 阶段目录
func (a *Artifacts) PhaseDir(n int) string {
	return filepath.Join(a.root, "phase_"+strconv.Itoa(n))
}

// ObserveRegion 写出区域图像并记录耗时，可并发调用
func (a *Artifacts) ObserveRegion(tr pipeline.RegionTrace) {
	dir := a.PhaseDir(tr.Phase)
	name := unsafeName.ReplaceAllString(tr.ROI, "_")

	if !cv.IsDegenerate(tr.Raw) {
		if err := cv.WriteGoImage(filepath.Join(dir, name+".png"), tr.Raw); err != nil {
			logger.Debug("保存原图失败: %v", err)
		}
	}
	for _, v := range tr.Variants {
		if cv.IsDegenerate(v.Image) {
			continue
		}
		file := fmt.Sprintf("%s__%s.png", name, v.Name)
		if err := cv.WriteGoImage(filepath.Join(dir, file), v.Image); err != nil {
			logger.Debug("保存变体图失败: %v", err)
		}
	}

	rt := RegionTiming{
		ROI:        tr.ROI,
		ElapsedMs:  float64(tr.Elapsed.Microseconds()) / 1000,
		Variants:   len(tr.Variants),
		Candidates: len(tr.Candidates),
		Rationale:  string(tr.Result.Rationale),
		Reason:     tr.Result.Reason,
	}
	if tr.Result.Winner != nil {
		rt.Winner = tr.Result.Winner.Text
	}

	a.mu.Lock()
	a.timings[tr.Phase] = append(a.timings[tr.Phase], rt)
	a.mu.Unlock()
}

// Flush 写出阶段的 timings.json
func (a *Artifacts) Flush(n int) error {
	a.mu.Lock()
	records := append([]RegionTiming(nil), a.timings[n]...)
	a.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ROI < records[j].ROI })
	return writeJSON(filepath.Join(a.PhaseDir(n), "timings.json"), records)
}
