package phase

import (
	"fmt"
	"image"

	"github.com/zoeyai/zoeyreader/pkg/template"
)

// Target 一个待采集的区域及其绝对像素矩形
type Target struct {
	ROI  string
	Rect image.Rectangle
}

// Step 一个阶段的执行计划
type Step struct {
	Number   int
	Location string
	Targets  []Target
}

// Plan 由模板阶段计划和画面范围（显示器或窗口客户区）生成各阶段的采集目标
func Plan(file *template.File, coll *template.Collection, bounds image.Rectangle) ([]Step, error) {
	plans := file.PhasePlans()
	steps := make([]Step, 0, len(plans))
	for _, p := range plans {
		ids := p.ROIs
		if len(ids) == 0 {
			ids = coll.IDs()
		}

		step := Step{Number: p.Number, Location: p.Location}
		for _, id := range ids {
			roi, ok := coll.Get(id)
			if !ok {
				return nil, fmt.Errorf("阶段 %d 引用了当前分辨率下不存在的 ROI: %s", p.Number, id)
			}
			rect := roi.Rect.Absolute(bounds, roi.Padding)
			step.Targets = append(step.Targets, Target{ROI: id, Rect: rect})
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// SkipIdle 按各阶段行动数裁剪计划
// 第一个阶段总是读取；之后的阶段只在本阶段或上一阶段有行动时读取，
// 没有行动的阶段之后画面不会再变化。
func SkipIdle(steps []Step, actions map[int]int) []Step {
	out := make([]Step, 0, len(steps))
	for i, s := range steps {
		if i == 0 || actions[s.Number] > 0 || actions[s.Number-1] > 0 {
			out = append(out, s)
		}
	}
	return out
}
