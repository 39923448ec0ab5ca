package session

import (
	"fmt"
	"sync"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/phase"
)

// TimestampLayout progress.json 的时间格式
const TimestampLayout = "2006-01-02 15:04:05"

// ProgressRecord progress.json 的内容
type ProgressRecord struct {
	Status     string      `json:"status"`
	Phase      int         `json:"phase"`
	State      phase.State `json:"state"`
	Percentage int         `json:"percentage"`
	Timestamp  string      `json:"timestamp"`
	Complete   bool        `json:"complete"`
	Error      string      `json:"error,omitempty"`
}

// 每个阶段的子步骤：导航、采集、识别
const stepsPerPhase = 3

// Progress 在每次状态转换时写出进度
type Progress struct {
	path   string
	phases int

	mu     sync.Mutex
	last   ProgressRecord
	notify []func(ProgressRecord)
}

// NewProgress 创建进度记录器
func NewProgress(path string, phases int) *Progress {
	if phases < 1 {
		phases = 1
	}
	return &Progress{path: path, phases: phases}
}

// Subscribe 每次写出进度后回调
func (p *Progress) Subscribe(fn func(ProgressRecord)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notify = append(p.notify, fn)
}

// Last 最近一次的进度
func (p *Progress) Last() ProgressRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// OnTransition 作为阶段控制器的监听器
func (p *Progress) OnTransition(tr phase.Transition) {
	p.mu.Lock()
	rec := ProgressRecord{
		Status:     StatusText(tr.To, tr.Phase),
		Phase:      tr.Phase,
		State:      tr.To,
		Percentage: p.percentage(tr),
		Timestamp:  tr.At.Format(TimestampLayout),
		Complete:   tr.To == phase.Done,
	}
	if tr.Err != nil {
		rec.Error = tr.Err.Error()
	}
	p.last = rec
	notify := append([]func(ProgressRecord){}, p.notify...)
	p.mu.Unlock()

	if err := writeJSON(p.path, rec); err != nil {
		logger.Warn("写入进度失败: %v", err)
	}
	for _, fn := range notify {
		fn(rec)
	}
}

func (p *Progress) percentage(tr phase.Transition) int {
	var done int
	switch tr.To {
	case phase.Done:
		return 100
	case phase.Failed:
		return -1
	case phase.Cancelled:
		return p.last.Percentage
	case phase.Navigating:
		done = 0
	case phase.BulkCapturing:
		done = 1
	case phase.BatchRecognizing:
		done = 2
	case phase.PhaseComplete:
		done = 3
	}
	total := p.phases * stepsPerPhase
	return ((tr.Phase-1)*stepsPerPhase + done) * 100 / total
}

// StatusText 面向用户的进度描述
func StatusText(st phase.State, n int) string {
	switch st {
	case phase.Navigating:
		return fmt.Sprintf("阶段 %d: 正在导航", n)
	case phase.BulkCapturing:
		return fmt.Sprintf("阶段 %d: 正在采集, 请勿操作", n)
	case phase.BatchRecognizing:
		return fmt.Sprintf("阶段 %d: 正在识别", n)
	case phase.PhaseComplete:
		return fmt.Sprintf("阶段 %d 完成", n)
	case phase.Done:
		return "读取完成"
	case phase.Cancelled:
		return fmt.Sprintf("阶段 %d 已取消", n)
	case phase.Failed:
		return fmt.Sprintf("阶段 %d 失败", n)
	default:
		return st.String()
	}
}
