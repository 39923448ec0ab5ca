package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	goocr "github.com/getcharzp/go-ocr"
	"golang.org/x/sync/semaphore"

	"github.com/zoeyai/zoeyreader/internal/logger"
)

// PaddleEngine 基于 go-ocr 的 PaddleOCR 引擎
// 推理上下文是共享资源，并发调用数由信号量限制
type PaddleEngine struct {
	engine goocr.Engine
	config Config
	sem    *semaphore.Weighted
	limit  int64
}

// NewPaddleEngine 创建 PaddleOCR 引擎，concurrency 为安全的并发推理数
func NewPaddleEngine(config Config, concurrency int) (*PaddleEngine, error) {
	if missing := config.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: 缺少模型文件 %s", ErrEngineUnavailable, strings.Join(missing, ", "))
	}
	if concurrency < 1 {
		concurrency = 1
	}

	engine, err := goocr.NewPaddleOcrEngine(goocr.Config{
		OnnxRuntimeLibPath: config.OnnxRuntimeLibPath,
		DetModelPath:       config.DetModelPath,
		RecModelPath:       config.RecModelPath,
		DictPath:           config.DictPath,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 OCR 引擎失败: %w", err)
	}

	logger.Info("PaddleOCR 引擎初始化成功, 并发上限 %d", concurrency)

	return &PaddleEngine{
		engine: engine,
		config: config,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		limit:  int64(concurrency),
	}, nil
}

// Name 引擎名称
func (e *PaddleEngine) Name() string { return EnginePaddle }

// Kind 引擎类别
func (e *PaddleEngine) Kind() Kind { return KindNeural }

// Recognize 识别图像中的文字，字符白名单不适用于该引擎
func (e *PaddleEngine) Recognize(ctx context.Context, img image.Image, _ Hints) ([]Reading, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	if e.engine == nil {
		return nil, fmt.Errorf("%w: 引擎已关闭", ErrEngineUnavailable)
	}

	startTime := time.Now()
	results, err := e.engine.RunOCR(img)
	elapsed := float64(time.Since(startTime).Microseconds()) / 1000
	if err != nil {
		logger.LogEvent("OCR", false, elapsed, "paddle 识别失败")
		return nil, fmt.Errorf("OCR 识别失败: %w", err)
	}

	items := make([]positioned, 0, len(results))
	for _, r := range results {
		// go-ocr RecResult: Box [4]int{x1, y1, x2, y2}, Text string, Score float32
		items = append(items, positioned{
			Reading: Reading{
				Text:       strings.TrimSpace(r.Text),
				Confidence: ClampConfidence(float64(r.Score)),
			},
			box: image.Rect(r.Box[0], r.Box[1], r.Box[2], r.Box[3]),
		})
	}
	readings := readingOrder(items)

	logger.Debug("OCR  | paddle | %6.1fms | %d 条文本", elapsed, len(readings))
	return readings, nil
}

// Close 等待进行中的推理结束后释放引擎
func (e *PaddleEngine) Close() error {
	if err := e.sem.Acquire(context.Background(), e.limit); err != nil {
		return err
	}
	defer e.sem.Release(e.limit)

	if e.engine != nil {
		e.engine.Destroy()
		e.engine = nil
	}
	return nil
}
