package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/go-vgo/robotgo"
	"github.com/kbinani/screenshot"

	"github.com/zoeyai/zoeyreader/pkg/auto"
	"github.com/zoeyai/zoeyreader/pkg/config"
	"github.com/zoeyai/zoeyreader/pkg/vision/cv"
)

// ErrEmptyRect 截图矩形为空
var ErrEmptyRect = errors.New("截图区域为空")

// Capturer 截取绝对像素矩形
type Capturer interface {
	Capture(ctx context.Context, rect image.Rectangle) (image.Image, error)
}

// NewCapturer 按名称创建截图器
func NewCapturer(kind string) (Capturer, error) {
	switch kind {
	case config.CapturerRobotgo, "":
		return RobotgoCapturer{}, nil
	case config.CapturerScreenshot:
		return ScreenshotCapturer{}, nil
	default:
		return nil, fmt.Errorf("未知的截图方式: %s", kind)
	}
}

// RobotgoCapturer 使用 robotgo 截图
type RobotgoCapturer struct{}

// Capture 截取区域
func (RobotgoCapturer) Capture(ctx context.Context, rect image.Rectangle) (image.Image, error) {
	if err := checkRect(ctx, rect); err != nil {
		return nil, err
	}
	x, y, w, h := auto.NormalizeRectForInput(rect)
	img, err := robotgo.CaptureImg(x, y, w, h)
	if err != nil {
		return nil, fmt.Errorf("截取区域失败: %w", err)
	}
	return img, nil
}

// ScreenshotCapturer 使用 kbinani/screenshot 截图，坐标为物理像素
type ScreenshotCapturer struct{}

// Capture 截取区域
func (ScreenshotCapturer) Capture(ctx context.Context, rect image.Rectangle) (image.Image, error) {
	if err := checkRect(ctx, rect); err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("截取区域失败: %w", err)
	}
	return img, nil
}

// ImageCapturer 从一张已保存的整屏截图中裁剪，用于回放
type ImageCapturer struct {
	frame  *image.RGBA
	origin image.Point
}

// NewImageCapturer 以显示器左上角为原点包装整屏截图
func NewImageCapturer(frame image.Image, origin image.Point) *ImageCapturer {
	b := frame.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), frame, b.Min, draw.Src)
	return &ImageCapturer{frame: rgba, origin: origin}
}

// LoadImageCapturer 读取截图文件
func LoadImageCapturer(path string, origin image.Point) (*ImageCapturer, error) {
	img, err := cv.ReadGoImage(path)
	if err != nil {
		return nil, err
	}
	return NewImageCapturer(img, origin), nil
}

// Size 截图尺寸
func (c *ImageCapturer) Size() image.Point {
	return c.frame.Bounds().Size()
}

// Capture 裁剪区域，超出截图范围的部分被截掉
func (c *ImageCapturer) Capture(ctx context.Context, rect image.Rectangle) (image.Image, error) {
	if err := checkRect(ctx, rect); err != nil {
		return nil, err
	}
	local := rect.Sub(c.origin).Intersect(c.frame.Bounds())
	if local.Empty() {
		return nil, fmt.Errorf("%w: %v 不在截图范围内", ErrEmptyRect, rect)
	}
	out := image.NewRGBA(image.Rect(0, 0, local.Dx(), local.Dy()))
	draw.Draw(out, out.Bounds(), c.frame, local.Min, draw.Src)
	return out, nil
}

func checkRect(ctx context.Context, rect image.Rectangle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rect.Empty() {
		return fmt.Errorf("%w: %v", ErrEmptyRect, rect)
	}
	return nil
}
