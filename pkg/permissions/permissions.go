// Package permissions 检查截屏和输入模拟所需的系统权限
//
// 只有 macOS 需要显式授权；其他系统始终视为已授权。
package permissions

import (
	"fmt"
	"strings"
)

// Status 权限状态
type Status struct {
	Accessibility   bool `json:"accessibility"`
	ScreenRecording bool `json:"screen_recording"`
}

// Check 检查权限，不触发系统弹窗
func Check() Status {
	return check()
}

// Missing 返回缺失的权限说明
// 只读取已保存截图或演练模式下不需要控制输入
func (s Status) Missing(needInput bool) []string {
	var out []string
	if !s.ScreenRecording {
		out = append(out, "屏幕录制 (用于截屏)")
	}
	if needInput && !s.Accessibility {
		out = append(out, "辅助功能 (用于控制鼠标/键盘)")
	}
	return out
}

// openSettings 打开系统设置，测试中替换
var openSettings = OpenSettings

// Request 返回缺失的权限说明，有缺失时打开对应的系统设置页面
// 不需要控制输入时不打开辅助功能页面
func (s Status) Request(needInput bool) []string {
	missing := s.Missing(needInput)
	if len(missing) == 0 {
		return nil
	}
	open := s
	if !needInput {
		open.Accessibility = true
	}
	openSettings(open)
	return missing
}

// Instructions 生成授权提示，没有缺失时为空
func Instructions(missing []string) string {
	if len(missing) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("需要授权以下权限才能正常工作:\n")
	for i, m := range missing {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, m)
	}
	b.WriteString("请在 系统设置 > 隐私与安全性 中授权，授权后需要重启应用")
	return b.String()
}
