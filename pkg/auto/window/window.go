// Package window 定位游戏窗口的客户区并将其置于前台
package window

import (
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/auto"
)

// MinSide 客户区任一边小于此值视为无效（最小化、托盘窗口等）
const MinSide = 100

// Info 窗口信息，Bounds 为截图像素坐标
type Info struct {
	PID    int             `json:"pid"`
	Title  string          `json:"title"`
	Bounds image.Rectangle `json:"bounds"`
}

// clientRect 读取客户区，测试中替换
var clientRect = func(pid int) (x, y, w, h int) {
	return robotgo.GetClient(pid)
}

// ByPID 按 PID 获取窗口信息（含标题栏和边框）
func ByPID(pid int) (*Info, error) {
	title := robotgo.GetTitle(pid)
	if title == "" {
		return nil, fmt.Errorf("未找到 PID=%d 的窗口", pid)
	}
	x, y, w, h := robotgo.GetBounds(pid)
	return &Info{
		PID:    pid,
		Title:  title,
		Bounds: auto.NormalizeRectForScreen(x, y, w, h),
	}, nil
}

// Client 获取窗口客户区，截图像素坐标
func Client(pid int) (image.Rectangle, error) {
	x, y, w, h := clientRect(pid)
	if w == 0 && h == 0 {
		return image.Rectangle{}, fmt.Errorf("无法获取窗口客户区: PID=%d", pid)
	}
	return auto.NormalizeRectForScreen(x, y, w, h), nil
}

// Fit 判断客户区能否作为画面范围，不能时退回显示器范围
// 客户区必须足够大且与显示器有交集
func Fit(client, monitor image.Rectangle) (image.Rectangle, bool) {
	if client.Dx() < MinSide || client.Dy() < MinSide {
		return monitor, false
	}
	if !monitor.Empty() && !client.Overlaps(monitor) {
		return monitor, false
	}
	return client, true
}

// Locate 返回游戏窗口客户区作为画面范围，找不到窗口时退回显示器范围
func Locate(pid int, monitor image.Rectangle) (image.Rectangle, bool) {
	client, err := Client(pid)
	if err != nil {
		logger.Warn("%v，使用显示器范围", err)
		return monitor, false
	}
	bounds, ok := Fit(client, monitor)
	if !ok {
		logger.Warn("窗口客户区无效: %v，使用显示器范围 %v", client, monitor)
		return monitor, false
	}
	logger.Debug("窗口客户区: PID=%d %v", pid, bounds)
	return bounds, true
}

// Activate 将 PID 的窗口置于前台
func Activate(pid int) error {
	return activatePlatform(pid)
}
