// Package config 管理读取器的 JSON 配置
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// 采集后端
const (
	CapturerRobotgo    = "robotgo"
	CapturerScreenshot = "screenshot"
)

// OCRModelConfig 神经网络 OCR 模型路径，为空时自动探测
type OCRModelConfig struct {
	OnnxRuntimeLibPath string `json:"onnxruntime_lib_path,omitempty"`
	DetModelPath       string `json:"det_model_path,omitempty"`
	RecModelPath       string `json:"rec_model_path,omitempty"`
	DictPath           string `json:"dict_path,omitempty"`
}

// ReaderConfig 读取器配置
type ReaderConfig struct {
	TemplatePath        string         `json:"template_path"`
	Monitor             int            `json:"monitor"`
	Capturer            string         `json:"capturer"`
	Engines             []string       `json:"engines"`
	ConfidenceFloor     float64        `json:"confidence_floor"`
	TextHeightMin       int            `json:"text_height_min"`
	TextHeightMax       int            `json:"text_height_max"`
	Workers             int            `json:"workers"`
	NeuralConcurrency   int            `json:"neural_concurrency"`
	NavigateTimeoutMs   int            `json:"navigate_timeout_ms"`
	SettleDelayMs       int            `json:"settle_delay_ms"`
	EarlyExitConfidence float64        `json:"early_exit_confidence"`
	MinColourPixels     int            `json:"min_colour_pixels"`
	TesseractLanguage   string         `json:"tesseract_language"`
	OCR                 OCRModelConfig `json:"ocr"`
	GameProcess         string         `json:"game_process,omitempty"`
	OutputDir           string         `json:"output_dir"`
	Debug               bool           `json:"debug"`
	DryRun              bool           `json:"dry_run"`
	PublishAddr         string         `json:"publish_addr,omitempty"`
	SaveStatePath       string         `json:"save_state_path,omitempty"`
	LogLevel            string         `json:"log_level"`
}

// DefaultReaderConfig 默认配置
func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		TemplatePath:      filepath.Join("templates", "rois.json"),
		Monitor:           0,
		Capturer:          CapturerRobotgo,
		Engines:           []string{"paddle", "tesseract"},
		ConfidenceFloor:   0.30,
		TextHeightMin:     32,
		TextHeightMax:     48,
		Workers:           4,
		NeuralConcurrency: 1,
		NavigateTimeoutMs: 10000,
		SettleDelayMs:     150,
		MinColourPixels:   20,
		TesseractLanguage: "eng",
		OutputDir:         "sessions",
		LogLevel:          "info",
	}
}

// NavigateTimeout 导航超时
func (c *ReaderConfig) NavigateTimeout() time.Duration {
	return time.Duration(c.NavigateTimeoutMs) * time.Millisecond
}

// SettleDelay 导航完成后等待画面稳定的时间
func (c *ReaderConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// Validate 修正越界的配置值
func (c *ReaderConfig) Validate() {
	if c.ConfidenceFloor < 0 {
		c.ConfidenceFloor = 0
	}
	if c.ConfidenceFloor > 1 {
		c.ConfidenceFloor = 1
	}
	if c.EarlyExitConfidence < 0 {
		c.EarlyExitConfidence = 0
	}
	if c.EarlyExitConfidence > 1 {
		c.EarlyExitConfidence = 1
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.NeuralConcurrency < 1 {
		c.NeuralConcurrency = 1
	}
	if c.TextHeightMin < 1 {
		c.TextHeightMin = 1
	}
	if c.TextHeightMax < c.TextHeightMin {
		c.TextHeightMax = c.TextHeightMin
	}
	if c.NavigateTimeoutMs <= 0 {
		c.NavigateTimeoutMs = 10000
	}
	if c.SettleDelayMs < 0 {
		c.SettleDelayMs = 0
	}
	if c.MinColourPixels < 1 {
		c.MinColourPixels = 1
	}
	if c.Monitor < 0 {
		c.Monitor = 0
	}
	switch c.Capturer {
	case CapturerRobotgo, CapturerScreenshot:
	default:
		c.Capturer = CapturerRobotgo
	}
	if len(c.Engines) == 0 {
		c.Engines = []string{"paddle", "tesseract"}
	}
	if c.TesseractLanguage == "" {
		c.TesseractLanguage = "eng"
	}
	if c.OutputDir == "" {
		c.OutputDir = "sessions"
	}
}

// 环境变量名
const (
	EnvTemplate = "ZOEY_READER_TEMPLATE"
	EnvMonitor  = "ZOEY_READER_MONITOR"
	EnvFloor    = "ZOEY_READER_FLOOR"
	EnvWorkers  = "ZOEY_READER_WORKERS"
	EnvPublish  = "ZOEY_READER_PUBLISH"
	EnvLogLevel = "ZOEY_READER_LOG_LEVEL"
	EnvSave     = "ZOEY_READER_SAVE_STATE"
)

// ApplyEnv 用环境变量覆盖配置，lookup 为 nil 时使用 os.LookupEnv
func (c *ReaderConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup(EnvTemplate); ok && v != "" {
		c.TemplatePath = v
	}
	if v, ok := lookup(EnvPublish); ok {
		c.PublishAddr = v
	}
	if v, ok := lookup(EnvSave); ok {
		c.SaveStatePath = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvMonitor); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("环境变量 %s 无效: %w", EnvMonitor, err)
		}
		c.Monitor = n
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("环境变量 %s 无效: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvFloor); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("环境变量 %s 无效: %w", EnvFloor, err)
		}
		c.ConfidenceFloor = f
	}
	return nil
}

// Manager 配置管理器
type Manager struct {
	configDir  string
	configFile string
	mu         sync.RWMutex
}

// NewManager 创建配置管理器，配置目录为 ~/.zoey-reader
func NewManager() *Manager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return NewManagerWithDir(filepath.Join(homeDir, ".zoey-reader"))
}

// NewManagerWithDir 使用指定目录创建配置管理器
func NewManagerWithDir(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, "config.json"),
	}
}

// NewManagerWithFile 使用指定配置文件创建配置管理器
func NewManagerWithFile(configFile string) *Manager {
	return &Manager{
		configDir:  filepath.Dir(configFile),
		configFile: configFile,
	}
}

// Load 加载配置
// 文件不存在时返回默认配置；读取或解析失败时返回默认配置和错误
func (m *Manager) Load() (*ReaderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return DefaultReaderConfig(), nil
	}

	data, err := os.ReadFile(m.configFile)
	if err != nil {
		return DefaultReaderConfig(), fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := DefaultReaderConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return DefaultReaderConfig(), fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.Validate()

	return cfg, nil
}

// LoadWithEnv 加载配置后依次读取 .env 文件和环境变量覆盖
// .env 查找顺序：工作目录、配置目录；已存在的环境变量不会被覆盖
func (m *Manager) LoadWithEnv() (*ReaderConfig, error) {
	cfg, err := m.Load()
	if err != nil {
		return cfg, err
	}

	for _, envFile := range []string{".env", filepath.Join(m.configDir, ".env")} {
		if _, statErr := os.Stat(envFile); statErr != nil {
			continue
		}
		if loadErr := godotenv.Load(envFile); loadErr != nil {
			return cfg, fmt.Errorf("读取环境文件失败: %w", loadErr)
		}
	}

	if err := cfg.ApplyEnv(nil); err != nil {
		return cfg, err
	}
	cfg.Validate()
	return cfg, nil
}

// Save 保存配置
func (m *Manager) Save(cfg *ReaderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(m.configFile, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Clear 删除配置文件
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return nil
	}

	return os.Remove(m.configFile)
}

// GetConfigDir 获取配置目录
func (m *Manager) GetConfigDir() string {
	return m.configDir
}

// GetConfigFile 获取配置文件路径
func (m *Manager) GetConfigFile() string {
	return m.configFile
}

// Exists 检查配置文件是否存在
func (m *Manager) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := os.Stat(m.configFile)
	return err == nil
}
