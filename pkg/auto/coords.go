package auto

import (
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/go-vgo/robotgo"
	"github.com/kbinani/screenshot"

	"github.com/zoeyai/zoeyreader/internal/logger"
)

// 截图总是物理像素；Windows 高 DPI 下 robotgo 的输入坐标可能是逻辑像素。
// 初始化时对比主显示器的物理尺寸和 robotgo.GetScreenSize() 得到比例：
//
//	scale = 物理像素 / 输入坐标
//	输入坐标 = 截图坐标 / scale
var (
	scaleOnce      sync.Once
	scaleX, scaleY = 1.0, 1.0
)

func detectScale() {
	if runtime.GOOS != "windows" || screenshot.NumActiveDisplays() == 0 {
		return
	}
	phys := screenshot.GetDisplayBounds(0)
	w, h := robotgo.GetScreenSize()
	scaleX = ratio(phys.Dx(), w)
	scaleY = ratio(phys.Dy(), h)
	logger.Debug("坐标比例: 物理 %dx%d, 输入 %dx%d, scale=%.3f,%.3f", phys.Dx(), phys.Dy(), w, h, scaleX, scaleY)
}

func ratio(physical, input int) float64 {
	if physical <= 0 || input <= 0 {
		return 1
	}
	r := float64(physical) / float64(input)
	// 只接受常见的 DPI 缩放范围
	if r < 0.5 || r > 4 {
		return 1
	}
	return r
}

// InputScale 截图像素与输入坐标的比例
func InputScale() (float64, float64) {
	scaleOnce.Do(detectScale)
	return scaleX, scaleY
}

// ScaleCoord 按比例把截图坐标换算为输入坐标
func ScaleCoord(value int, scale float64) int {
	if scale <= 0 {
		return value
	}
	return int(math.Round(float64(value) / scale))
}

// NormalizePointForInput 截图坐标 → robotgo 输入坐标
func NormalizePointForInput(x, y int) (int, int) {
	sx, sy := InputScale()
	return ScaleCoord(x, sx), ScaleCoord(y, sy)
}

// NormalizeRectForInput 截图矩形 → robotgo 输入坐标下的 x, y, w, h
func NormalizeRectForInput(r image.Rectangle) (x, y, w, h int) {
	sx, sy := InputScale()
	x, y = ScaleCoord(r.Min.X, sx), ScaleCoord(r.Min.Y, sy)
	w, h = ScaleCoord(r.Dx(), sx), ScaleCoord(r.Dy(), sy)
	return x, y, w, h
}

// ScaleInt 按比例把输入坐标换算回截图坐标
func ScaleInt(value int, scale float64) int {
	if scale <= 0 {
		return value
	}
	return int(math.Round(float64(value) * scale))
}

// NormalizeRectForScreen robotgo 输入坐标下的 x, y, w, h → 截图矩形
func NormalizeRectForScreen(x, y, w, h int) image.Rectangle {
	sx, sy := InputScale()
	x0, y0 := ScaleInt(x, sx), ScaleInt(y, sy)
	return image.Rect(x0, y0, x0+ScaleInt(w, sx), y0+ScaleInt(h, sy))
}
