// Package cards 在行动卡面板中定位卡片，并给出卡内各字段的截取范围
package cards

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/template"
	"github.com/zoeyai/zoeyreader/pkg/vision/cv"
	"github.com/zoeyai/zoeyreader/pkg/vision/preprocess"
)

// LockRedRatio 锁图标区域红色像素占比超过此值视为锁定
const LockRedRatio = 0.15

// Card 面板中的一张卡片
type Card struct {
	// Index 从上到下、从左到右编号，从 1 开始
	Index      int             `json:"index"`
	Rect       image.Rectangle `json:"rect"`
	Locked     bool            `json:"locked"`
	Confidence float64         `json:"confidence"`
	Template   string          `json:"template"`
}

// Locator 按模板图片定位卡片，模板在首次使用时加载并缓存
type Locator struct {
	mu        sync.Mutex
	templates map[string]gocv.Mat
}

// NewLocator 创建定位器
func NewLocator() *Locator {
	return &Locator{templates: make(map[string]gocv.Mat)}
}

// Close 释放缓存的模板
func (l *Locator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.templates {
		m.Close()
	}
	l.templates = make(map[string]gocv.Mat)
	return nil
}

func (l *Locator) template(path string) (gocv.Mat, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.templates[path]; ok {
		return m, nil
	}
	m, err := cv.ReadImage(path)
	if err != nil {
		return m, err
	}
	l.templates[path] = m
	return m, nil
}

// Locate 在面板图像中查找所有卡片，坐标与 panel 的坐标系一致
func (l *Locator) Locate(panel image.Image, layout *template.CardLayout) ([]Card, error) {
	if layout == nil {
		return nil, errors.New("没有卡片布局")
	}
	if cv.IsDegenerate(panel) {
		return nil, nil
	}

	src, err := cv.ImageToMat(panel)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	matcher := cv.TemplateMatcher{
		Threshold: layout.Threshold,
		Scales:    layout.Scales,
	}
	if matcher.Threshold <= 0 {
		matcher.Threshold = template.DefaultCardThreshold
	}
	if len(matcher.Scales) == 0 {
		matcher.Scales = template.DefaultCardScales
	}

	var (
		all    []cv.Match
		loaded int
	)
	for _, path := range layout.Templates {
		tpl, err := l.template(path)
		if err != nil {
			logger.WarnOnce("card-template:"+path, "卡片模板不可用: %v", err)
			continue
		}
		loaded++
		found, err := matcher.FindAll(src, tpl, filepath.Base(path))
		if err != nil {
			logger.Debug("卡片模板 %s 匹配失败: %v", path, err)
			continue
		}
		all = append(all, found...)
	}
	if loaded == 0 {
		return nil, fmt.Errorf("没有可用的卡片模板: %v", layout.Templates)
	}

	matches := cv.FilterOverlapping(all, 0.5)
	limit := layout.MaxCards
	if limit <= 0 {
		limit = template.DefaultMaxCards
	}
	if len(matches) > limit {
		logger.Warn("找到 %d 张卡片, 只保留置信度最高的 %d 张", len(matches), limit)
		matches = matches[:limit]
	}

	origin := panel.Bounds().Min
	cards := make([]Card, len(matches))
	for i, m := range matches {
		cards[i] = Card{
			Rect:       m.Rect.Add(origin),
			Locked:     template.LockedByName(m.Template),
			Confidence: m.Confidence,
			Template:   m.Template,
		}
	}
	sortReadingOrder(cards)

	for i := range cards {
		cards[i].Index = i + 1
		if layout.Lock != nil {
			cards[i].Locked = lockedByColour(panel, layout.Lock.Absolute(cards[i].Rect, 0))
		}
	}
	logger.Debug("行动卡面板找到 %d 张卡片", len(cards))
	return cards, nil
}

// sortReadingOrder 顶边相差不到半张卡高的视为同一行
func sortReadingOrder(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i].Rect, cards[j].Rect
		tol := min(a.Dy(), b.Dy()) / 2
		if d := a.Min.Y - b.Min.Y; d > tol || d < -tol {
			return a.Min.Y < b.Min.Y
		}
		return a.Min.X < b.Min.X
	})
}

func lockedByColour(panel image.Image, r image.Rectangle) bool {
	area := r.Dx() * r.Dy()
	if area <= 0 {
		return false
	}
	stats, err := preprocess.AnalyzeColour(Crop(panel, r))
	if err != nil {
		logger.Debug("锁图标颜色分析失败: %v", err)
		return false
	}
	return float64(stats.Red)/float64(area) > LockRedRatio
}

// FieldRect 字段在面板坐标系中的矩形
func FieldRect(c Card, f template.CardField) image.Rectangle {
	return f.Rect.Absolute(c.Rect, 0)
}

// Crop 截取 r 与图像的交集，保留原坐标
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, img, r.Min, draw.Src)
	return dst
}
