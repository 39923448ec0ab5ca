package phase

import (
	"errors"
	"fmt"
	"time"
)

// State 控制器状态
type State int

const (
	Idle State = iota
	Navigating
	BulkCapturing
	BatchRecognizing
	PhaseComplete
	Done
	Cancelled
	Failed
)

var stateNames = map[State]string{
	Idle:             "idle",
	Navigating:       "navigating",
	BulkCapturing:    "bulk_capturing",
	BatchRecognizing: "batch_recognizing",
	PhaseComplete:    "phase_complete",
	Done:             "done",
	Cancelled:        "cancelled",
	Failed:           "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText 以名称输出
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == Done || s == Cancelled || s == Failed
}

var (
	// ErrNavigationTimeout 导航超时
	ErrNavigationTimeout = errors.New("导航超时")
	// ErrNavigationFailed 导航失败
	ErrNavigationFailed = errors.New("导航失败")
	// ErrCancelled 会话被取消
	ErrCancelled = errors.New("会话已取消")
)

// PhaseError 阶段失败，包含阶段号和所处状态
type PhaseError struct {
	Phase int
	State State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("阶段 %d 在 %s 时失败: %v", e.Phase, e.State, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Transition 一次状态转换
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Phase int       `json:"phase"`
	At    time.Time `json:"at"`
	Err   error     `json:"-"`
}

// Listener 状态转换回调，按发生顺序同步调用
type Listener func(Transition)
