// Package ocr 定义识别引擎接口，并提供 PaddleOCR（神经网络）与 Tesseract（传统）两种实现
//
// 引擎在启动时按配置顺序注册，不可用的引擎记录一次警告后跳过；
// 只要至少有一个引擎可用，识别流程就可以继续。
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/zoeyai/zoeyreader/internal/logger"
)

var (
	// ErrNoEngine 没有任何可用引擎
	ErrNoEngine = errors.New("没有可用的识别引擎")
	// ErrEngineUnavailable 引擎依赖缺失
	ErrEngineUnavailable = errors.New("识别引擎不可用")
)

// Kind 引擎类别
type Kind string

const (
	KindNeural    Kind = "neural"
	KindClassical Kind = "classical"
)

// 内置引擎名称
const (
	EnginePaddle    = "paddle"
	EngineTesseract = "tesseract"
)

// Reading 引擎输出的一条文本
type Reading struct {
	Text       string
	Confidence float64
}

// Hints 识别提示，引擎可按能力忽略
type Hints struct {
	// Charset 字符白名单
	Charset string
}

// Engine 识别引擎
// Recognize 返回按阅读顺序排列的文本，置信度在 [0,1]，可以为空
type Engine interface {
	Name() string
	Kind() Kind
	Recognize(ctx context.Context, img image.Image, hints Hints) ([]Reading, error)
	Close() error
}

// Options 引擎初始化参数
type Options struct {
	Models            Config
	NeuralConcurrency int
	TesseractLanguage string
}

// Factory 引擎构造函数
type Factory func(opts Options) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		EnginePaddle: func(opts Options) (Engine, error) {
			return NewPaddleEngine(opts.Models, opts.NeuralConcurrency)
		},
		EngineTesseract: func(opts Options) (Engine, error) {
			return NewTesseractEngine(opts.TesseractLanguage)
		},
	}
)

// Register 注册引擎构造函数，同名覆盖
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

func lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Set 按声明顺序排列的可用引擎
type Set struct {
	engines []Engine
}

// NewSet 直接由引擎实例构造
func NewSet(engines ...Engine) *Set {
	return &Set{engines: engines}
}

// Open 按顺序初始化引擎，不可用的跳过
func Open(names []string, opts Options) (*Set, error) {
	set := &Set{}
	for _, name := range names {
		factory, ok := lookup(name)
		if !ok {
			logger.WarnOnce("engine:"+name, "未知的识别引擎: %s", name)
			continue
		}
		engine, err := factory(opts)
		if err != nil {
			logger.WarnOnce("engine:"+name, "识别引擎 %s 不可用, 已跳过: %v", name, err)
			continue
		}
		logger.Info("识别引擎已就绪: %s (%s)", engine.Name(), engine.Kind())
		set.engines = append(set.engines, engine)
	}

	if len(set.engines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEngine, strings.Join(names, ","))
	}
	if set.engines[0].Kind() != KindNeural {
		logger.Info("主识别引擎为 %s", set.engines[0].Name())
	}
	return set, nil
}

// Engines 全部可用引擎
func (s *Set) Engines() []Engine {
	return s.engines
}

// Names 可用引擎名称
func (s *Set) Names() []string {
	names := make([]string, len(s.engines))
	for i, e := range s.engines {
		names[i] = e.Name()
	}
	return names
}

// Select 返回限定名称内的引擎，保持声明顺序
// only 为空或全部不可用时返回所有引擎
func (s *Set) Select(only []string) []Engine {
	if len(only) == 0 {
		return s.engines
	}
	allowed := make(map[string]struct{}, len(only))
	for _, n := range only {
		allowed[n] = struct{}{}
	}
	var out []Engine
	for _, e := range s.engines {
		if _, ok := allowed[e.Name()]; ok {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return s.engines
	}
	return out
}

// Close 关闭所有引擎
func (s *Set) Close() error {
	var errs []error
	for _, e := range s.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ClampConfidence 将置信度限制在 [0,1]，NaN 视为 0
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

type positioned struct {
	Reading
	box image.Rectangle
}

// readingOrder 按从上到下、从左到右排列，同一行以纵向重叠判断
func readingOrder(items []positioned) []Reading {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].box, items[j].box
		if a.Max.Y <= b.Min.Y || b.Max.Y <= a.Min.Y {
			return a.Min.Y < b.Min.Y
		}
		return a.Min.X < b.Min.X
	})

	out := make([]Reading, 0, len(items))
	for _, it := range items {
		if it.Text == "" {
			continue
		}
		out = append(out, it.Reading)
	}
	return out
}
