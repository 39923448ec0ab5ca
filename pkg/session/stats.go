package session

import (
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/zoeyai/zoeyreader/pkg/pipeline"
)

// PhaseStats 一个阶段的识别统计，时间单位为毫秒
type PhaseStats struct {
	Regions    int     `json:"regions"`
	Resolved   int     `json:"resolved"`
	Unresolved int     `json:"unresolved"`
	Count      int     `json:"count"`
	MeanMs     float64 `json:"mean_ms"`
	StdDevMs   float64 `json:"stddev_ms"`
	P50Ms      float64 `json:"p50_ms"`
	P95Ms      float64 `json:"p95_ms"`
	MaxMs      float64 `json:"max_ms"`
}

// Summarize 按阶段汇总快照，键为阶段号
func Summarize(snaps ...*pipeline.Snapshot) map[string]PhaseStats {
	out := make(map[string]PhaseStats, len(snaps))
	for _, s := range snaps {
		if s == nil {
			continue
		}
		out[strconv.Itoa(s.Phase)] = summarize(s)
	}
	return out
}

func summarize(s *pipeline.Snapshot) PhaseStats {
	ps := PhaseStats{Regions: len(s.Results)}
	ps.Resolved, ps.Unresolved = s.Counts()

	// 未开始的区域没有耗时
	var ms []float64
	for _, d := range s.Timings {
		if d > 0 {
			ms = append(ms, float64(d.Microseconds())/1000)
		}
	}
	ps.Count = len(ms)
	if len(ms) == 0 {
		return ps
	}

	sort.Float64s(ms)
	ps.MeanMs = stat.Mean(ms, nil)
	if len(ms) > 1 {
		ps.StdDevMs = stat.StdDev(ms, nil)
	}
	ps.P50Ms = stat.Quantile(0.5, stat.Empirical, ms, nil)
	ps.P95Ms = stat.Quantile(0.95, stat.Empirical, ms, nil)
	ps.MaxMs = ms[len(ms)-1]
	return ps
}
