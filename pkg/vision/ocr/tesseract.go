package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/vision/cv"
)

// 空闲客户端上限，超出的直接关闭
const tesseractIdleClients = 8

// TesseractEngine 基于 gosseract 的 Tesseract 引擎
// gosseract.Client 不可并发使用，每次识别从池中取一个独占客户端
type TesseractEngine struct {
	language string
	idle     chan *gosseract.Client

	mu     sync.Mutex
	closed bool
}

// NewTesseractEngine 创建引擎，并用一张空白图验证 tessdata 可用
func NewTesseractEngine(language string) (*TesseractEngine, error) {
	if language == "" {
		language = "eng"
	}
	e := &TesseractEngine{
		language: language,
		idle:     make(chan *gosseract.Client, tesseractIdleClients),
	}

	client, err := e.newClient()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if err := probe(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	e.put(client)

	logger.Info("Tesseract 引擎初始化成功, 语言 %s", language)
	return e, nil
}

func (e *TesseractEngine) newClient() (*gosseract.Client, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(e.language); err != nil {
		client.Close()
		return nil, fmt.Errorf("设置识别语言失败: %w", err)
	}

	// 游戏数值不是词典单词，关闭词典纠正
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")
	_ = client.SetVariable("language_model_penalty_non_dict_word", "0")
	_ = client.SetVariable("language_model_penalty_non_freq_dict_word", "0")
	return client, nil
}

func probe(client *gosseract.Client) error {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(color.White.Y >> 8)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return err
	}
	_, err := client.Text()
	return err
}

func (e *TesseractEngine) get() (*gosseract.Client, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: 引擎已关闭", ErrEngineUnavailable)
	}

	select {
	case c, ok := <-e.idle:
		if ok {
			return c, nil
		}
	default:
	}
	return e.newClient()
}

func (e *TesseractEngine) put(c *gosseract.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		c.Close()
		return
	}
	select {
	case e.idle <- c:
	default:
		c.Close()
	}
}

// Name 引擎名称
func (e *TesseractEngine) Name() string { return EngineTesseract }

// Kind 引擎类别
func (e *TesseractEngine) Kind() Kind { return KindClassical }

// Recognize 按文本行识别，置信度由 0-100 换算到 [0,1]
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, hints Hints) ([]Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cv.IsDegenerate(img) {
		return nil, nil
	}

	mat, err := cv.ImageToMat(img)
	if err != nil {
		return nil, err
	}
	data, err := cv.EncodePNG(mat)
	mat.Close()
	if err != nil {
		return nil, err
	}

	client, err := e.get()
	if err != nil {
		return nil, err
	}
	defer e.put(client)

	startTime := time.Now()

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, fmt.Errorf("设置分割模式失败: %w", err)
	}
	// 池中客户端会复用，白名单每次都要重设
	_ = client.SetWhitelist(hints.Charset)

	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("设置图像失败: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	elapsed := float64(time.Since(startTime).Microseconds()) / 1000
	if err != nil {
		logger.LogEvent("OCR", false, elapsed, "tesseract 识别失败")
		return nil, fmt.Errorf("OCR 识别失败: %w", err)
	}

	items := make([]positioned, 0, len(boxes))
	for _, b := range boxes {
		items = append(items, positioned{
			Reading: Reading{
				Text:       strings.Join(strings.Fields(b.Word), " "),
				Confidence: ClampConfidence(b.Confidence / 100),
			},
			box: b.Box,
		})
	}
	readings := readingOrder(items)

	logger.Debug("OCR  | tesseract | %6.1fms | %d 条文本", elapsed, len(readings))
	return readings, nil
}

// Close 关闭所有空闲客户端，正在使用的客户端归还时关闭
func (e *TesseractEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.idle)
	for c := range e.idle {
		c.Close()
	}
	return nil
}
