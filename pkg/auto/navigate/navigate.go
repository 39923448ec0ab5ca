// Package navigate 按模板中的导航步骤点击和按键，把游戏画面切换到指定位置
package navigate

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/auto/input"
	"github.com/zoeyai/zoeyreader/pkg/template"
)

// Driver 执行输入动作
type Driver interface {
	Click(p image.Point) error
	KeyTap(key string, modifiers ...string) error
}

// RobotgoDriver 真实输入
type RobotgoDriver struct{}

// Click 左键单击
func (RobotgoDriver) Click(p image.Point) error {
	input.ClickAt(p)
	return nil
}

// KeyTap 按键
func (RobotgoDriver) KeyTap(key string, modifiers ...string) error {
	return input.KeyTap(key, modifiers...)
}

// DryRunDriver 只记录日志，不产生输入
type DryRunDriver struct{}

// Click 记录点击
func (DryRunDriver) Click(p image.Point) error {
	logger.Info("[dry-run] 点击 (%d, %d)", p.X, p.Y)
	return nil
}

// KeyTap 记录按键
func (DryRunDriver) KeyTap(key string, modifiers ...string) error {
	logger.Info("[dry-run] 按键 %s %v", key, modifiers)
	return nil
}

// Navigator 步骤导航器
type Navigator struct {
	steps  map[string][]template.NavStep
	coll   *template.Collection
	bounds image.Rectangle
	driver Driver
}

// New 创建导航器；bounds 为目标显示器的全局矩形
func New(steps map[string][]template.NavStep, coll *template.Collection, bounds image.Rectangle, driver Driver) *Navigator {
	if driver == nil {
		driver = RobotgoDriver{}
	}
	return &Navigator{steps: steps, coll: coll, bounds: bounds, driver: driver}
}

// Locations 已定义的导航位置
func (n *Navigator) Locations() []string {
	out := make([]string, 0, len(n.steps))
	for loc := range n.steps {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// NavigateTo 执行位置对应的步骤；未定义的位置视为无需导航
func (n *Navigator) NavigateTo(ctx context.Context, location string) error {
	steps, ok := n.steps[location]
	if !ok {
		logger.WarnOnce("nav:"+location, "位置 %s 没有导航步骤, 跳过", location)
		return nil
	}

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.do(ctx, s); err != nil {
			return fmt.Errorf("%s 第 %d 步 (%s): %w", location, i+1, s.Action, err)
		}
	}
	return nil
}

func (n *Navigator) do(ctx context.Context, s template.NavStep) error {
	switch s.Action {
	case template.ActionClick:
		p, err := n.resolve(s)
		if err != nil {
			return err
		}
		if err := n.driver.Click(p); err != nil {
			return err
		}
	case template.ActionKey:
		if err := n.driver.KeyTap(s.Key, s.Modifiers...); err != nil {
			return err
		}
	case template.ActionWait:
	default:
		return fmt.Errorf("未知的导航动作: %s", s.Action)
	}
	return sleep(ctx, time.Duration(s.DelayMs)*time.Millisecond)
}

// resolve 点击位置：优先 ROI 中心，否则使用相对坐标点
func (n *Navigator) resolve(s template.NavStep) (image.Point, error) {
	if s.Target != "" {
		roi, ok := n.coll.Get(s.Target)
		if !ok {
			return image.Point{}, fmt.Errorf("点击目标 ROI 不存在: %s", s.Target)
		}
		return roi.Rect.Center(n.bounds), nil
	}
	if s.Point != nil {
		return image.Point{
			X: n.bounds.Min.X + int(math.Round(s.Point.X*float64(n.bounds.Dx()))),
			Y: n.bounds.Min.Y + int(math.Round(s.Point.Y*float64(n.bounds.Dy()))),
		}, nil
	}
	return image.Point{}, fmt.Errorf("点击步骤缺少 target 或 point")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
