// Package screen 提供显示器枚举和区域截图
package screen

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"github.com/zoeyai/zoeyreader/pkg/template"
)

// ErrNoDisplay 没有可用的显示器或索引越界
var ErrNoDisplay = errors.New("显示器不可用")

// Display 显示器，Bounds 为虚拟桌面中的全局物理像素矩形
type Display struct {
	Index  int             `json:"index"`
	Bounds image.Rectangle `json:"bounds"`
}

// Tag 分辨率标签，如 2560x1440
func (d Display) Tag() string {
	return template.ResolutionTag(d.Bounds.Dx(), d.Bounds.Dy())
}

func (d Display) String() string {
	return fmt.Sprintf("#%d %s @(%d,%d)", d.Index, d.Tag(), d.Bounds.Min.X, d.Bounds.Min.Y)
}

// Displays 列出所有活动显示器
func Displays() []Display {
	n := screenshot.NumActiveDisplays()
	out := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Display{Index: i, Bounds: screenshot.GetDisplayBounds(i)})
	}
	return out
}

// DisplayAt 按索引获取显示器
func DisplayAt(index int) (Display, error) {
	displays := Displays()
	if len(displays) == 0 {
		return Display{}, fmt.Errorf("%w: 没有活动显示器", ErrNoDisplay)
	}
	if index < 0 || index >= len(displays) {
		return Display{}, fmt.Errorf("%w: 索引 %d 超出范围 (共 %d 个)", ErrNoDisplay, index, len(displays))
	}
	return displays[index], nil
}
