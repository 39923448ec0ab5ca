// Package phase 驱动多阶段的 导航 → 批量采集 → 批量识别 流程
//
// 导航和采集期间持有输入控制（鼠标/键盘），采集完成后立即释放，
// 识别阶段可以较慢而不影响用户操作。取消是协作式的，只在状态边界检查。
package phase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/pipeline"
)

// Navigator 将游戏画面导航到指定位置
type Navigator interface {
	NavigateTo(ctx context.Context, location string) error
}

// Capturer 截取绝对像素矩形
type Capturer interface {
	Capture(ctx context.Context, rect image.Rectangle) (image.Image, error)
}

// Recognizer 识别一个阶段的缓冲图像
type Recognizer interface {
	RunPass(ctx context.Context, phase int, entries []pipeline.Entry, cancelled func() bool) *pipeline.Snapshot
}

// Options 控制器参数
type Options struct {
	NavigateTimeout time.Duration
	SettleDelay     time.Duration
}

// Controller 阶段控制器
type Controller struct {
	nav      Navigator
	capturer Capturer
	rec      Recognizer
	opts     Options

	mu          sync.Mutex
	state       State
	phase       int
	snapshots   []*pipeline.Snapshot
	interrupted *pipeline.Snapshot
	listeners   []Listener
	lastErr     error

	inputMu   sync.Mutex
	inputHeld atomic.Bool
	cancel    atomic.Bool
	running   atomic.Bool

	now func() time.Time
}

// New 创建控制器
func New(nav Navigator, capturer Capturer, rec Recognizer, opts Options) *Controller {
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 10 * time.Second
	}
	return &Controller{
		nav:      nav,
		capturer: capturer,
		rec:      rec,
		opts:     opts,
		state:    Idle,
		now:      time.Now,
	}
}

// OnTransition 注册状态转换回调，需在 Run 之前调用
func (c *Controller) OnTransition(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Cancel 请求取消，在下一个状态边界生效
func (c *Controller) Cancel() {
	if c.cancel.CompareAndSwap(false, true) {
		logger.Info("收到取消请求")
	}
}

// Cancelled 是否已请求取消
func (c *Controller) Cancelled() bool {
	return c.cancel.Load()
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Phase 当前阶段号，从 1 开始；Idle 时为 0
func (c *Controller) Phase() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Err 进入 Failed 或 Cancelled 的原因
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// InputHeld 是否持有输入控制
func (c *Controller) InputHeld() bool {
	return c.inputHeld.Load()
}

// Snapshots 已完成阶段的快照副本
func (c *Controller) Snapshots() []*pipeline.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*pipeline.Snapshot, len(c.snapshots))
	copy(out, c.snapshots)
	return out
}

// Interrupted 识别途中被取消的阶段快照，不计入已完成快照
func (c *Controller) Interrupted() *pipeline.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// Run 依次执行所有阶段，只能调用一次
func (c *Controller) Run(ctx context.Context, steps []Step) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("阶段控制器已运行")
	}
	if len(steps) == 0 {
		return errors.New("没有可执行的阶段")
	}

	for _, step := range steps {
		if err := c.runPhase(ctx, step); err != nil {
			return err
		}
	}
	c.transition(Done, c.Phase(), nil)
	logger.Info("全部 %d 个阶段完成", len(steps))
	return nil
}

func (c *Controller) runPhase(ctx context.Context, step Step) error {
	n := step.Number
	if err := c.checkpoint(ctx, n, false); err != nil {
		return err
	}

	// 导航
	c.acquireInput()
	c.transition(Navigating, n, nil)
	if err := c.navigate(ctx, step.Location); err != nil {
		c.releaseInput()
		return c.fail(n, Navigating, err)
	}
	if err := c.settle(ctx); err != nil {
		c.releaseInput()
		return c.cancelled(n, Navigating)
	}
	if err := c.checkpoint(ctx, n, true); err != nil {
		return err
	}

	// 批量采集
	c.transition(BulkCapturing, n, nil)
	entries, ok := c.captureAll(ctx, step)
	c.releaseInput()
	if !ok {
		logger.Info("阶段 %d 采集中途取消, 丢弃 %d 个缓冲项", n, len(entries))
		return c.cancelled(n, BulkCapturing)
	}
	if err := c.checkpoint(ctx, n, false); err != nil {
		return err
	}

	// 批量识别
	c.transition(BatchRecognizing, n, nil)
	snap := c.rec.RunPass(ctx, n, entries, c.Cancelled)
	if snap.Interrupted || c.Cancelled() {
		c.mu.Lock()
		c.interrupted = snap
		c.mu.Unlock()
		return c.cancelled(n, BatchRecognizing)
	}

	c.mu.Lock()
	c.snapshots = append(c.snapshots, snap)
	c.mu.Unlock()
	c.transition(PhaseComplete, n, nil)
	return nil
}

// checkpoint 在状态边界检查取消
func (c *Controller) checkpoint(ctx context.Context, n int, holding bool) error {
	if !c.Cancelled() && ctx.Err() == nil {
		return nil
	}
	if holding {
		c.releaseInput()
	}
	return c.cancelled(n, c.State())
}

func (c *Controller) navigate(ctx context.Context, location string) error {
	start := time.Now()
	navCtx, cancel := context.WithTimeout(ctx, c.opts.NavigateTimeout)
	defer cancel()

	// 导航器不响应 ctx 时也要按时返回
	done := make(chan error, 1)
	go func() {
		done <- c.nav.NavigateTo(navCtx, location)
	}()

	var err error
	select {
	case err = <-done:
	case <-navCtx.Done():
		err = navCtx.Err()
	}
	elapsed := float64(time.Since(start).Milliseconds())

	switch {
	case err == nil:
		logger.LogEvent("NAV", true, elapsed, location)
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		logger.LogEvent("NAV", false, elapsed, fmt.Sprintf("%s 超时 (%v)", location, c.opts.NavigateTimeout))
		return fmt.Errorf("%w: %s", ErrNavigationTimeout, location)
	default:
		logger.LogEvent("NAV", false, elapsed, fmt.Sprintf("%s: %v", location, err))
		return fmt.Errorf("%w: %s: %v", ErrNavigationFailed, location, err)
	}
}

func (c *Controller) settle(ctx context.Context) error {
	if c.opts.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// captureAll 顺序采集所有目标；取消时返回 false，缓冲项作废
func (c *Controller) captureAll(ctx context.Context, step Step) ([]pipeline.Entry, bool) {
	entries := make([]pipeline.Entry, 0, len(step.Targets))
	for _, t := range step.Targets {
		if c.Cancelled() || ctx.Err() != nil {
			return entries, false
		}

		start := time.Now()
		img, err := c.capturer.Capture(ctx, t.Rect)
		elapsed := float64(time.Since(start).Milliseconds())
		if err != nil {
			logger.LogEvent("CAP", false, elapsed, fmt.Sprintf("%s %v: %v", t.ROI, t.Rect, err))
		} else {
			logger.LogEvent("CAP", true, elapsed, fmt.Sprintf("%s %v", t.ROI, t.Rect))
		}
		entries = append(entries, pipeline.Entry{
			ROI:      t.ROI,
			Image:    img,
			Captured: c.now(),
			Phase:    step.Number,
			Err:      err,
		})
	}
	if c.Cancelled() {
		return entries, false
	}
	return entries, true
}

func (c *Controller) acquireInput() {
	c.inputMu.Lock()
	c.inputHeld.Store(true)
}

func (c *Controller) releaseInput() {
	if c.inputHeld.CompareAndSwap(true, false) {
		c.inputMu.Unlock()
	}
}

func (c *Controller) fail(n int, at State, err error) error {
	perr := &PhaseError{Phase: n, State: at, Err: err}
	logger.Error("%v", perr)
	c.transition(Failed, n, perr)
	return perr
}

func (c *Controller) cancelled(n int, at State) error {
	perr := &PhaseError{Phase: n, State: at, Err: ErrCancelled}
	c.transition(Cancelled, n, perr)
	return perr
}

func (c *Controller) transition(to State, n int, err error) {
	c.mu.Lock()
	t := Transition{From: c.state, To: to, Phase: n, At: c.now(), Err: err}
	c.state = to
	c.phase = n
	if err != nil {
		c.lastErr = err
	}
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	logger.Debug("阶段 %d: %s → %s", n, t.From, t.To)
	for _, l := range listeners {
		l(t)
	}
}
