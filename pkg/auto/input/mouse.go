// Package input 提供鼠标和键盘操作，坐标为截图（物理像素）坐标
package input

import (
	"image"
	"time"

	"github.com/go-vgo/robotgo"

	"github.com/zoeyai/zoeyreader/pkg/auto"
)

// MoveTo 移动鼠标到指定位置
func MoveTo(p image.Point) {
	x, y := auto.NormalizePointForInput(p.X, p.Y)
	robotgo.Move(x, y)
}

// ClickAt 移动到指定位置后左键单击
func ClickAt(p image.Point) {
	MoveTo(p)
	time.Sleep(50 * time.Millisecond) // 短暂延迟确保鼠标到位
	robotgo.Click("left", false)
}
