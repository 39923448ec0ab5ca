package ocr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
)

// Config PaddleOCR 模型与运行库路径
type Config struct {
	OnnxRuntimeLibPath string
	DetModelPath       string
	RecModelPath       string
	DictPath           string
}

// Missing 返回不存在的文件
func (c Config) Missing() []string {
	var missing []string
	for _, p := range []string{c.OnnxRuntimeLibPath, c.DetModelPath, c.RecModelPath, c.DictPath} {
		if p == "" || !fileExists(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Available 所有文件是否都存在
func (c Config) Available() bool {
	return len(c.Missing()) == 0
}

// Override 用非空字段覆盖
func (c Config) Override(o Config) Config {
	if o.OnnxRuntimeLibPath != "" {
		c.OnnxRuntimeLibPath = o.OnnxRuntimeLibPath
	}
	if o.DetModelPath != "" {
		c.DetModelPath = o.DetModelPath
	}
	if o.RecModelPath != "" {
		c.RecModelPath = o.RecModelPath
	}
	if o.DictPath != "" {
		c.DictPath = o.DictPath
	}
	return c
}

// DefaultConfig 在可执行文件目录、资源目录、用户模型目录中查找模型
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: findFirst(onnxRuntimeCandidates()),
		DetModelPath:       findFirst(modelCandidates("det.onnx")),
		RecModelPath:       findFirst(modelCandidates("rec.onnx")),
		DictPath:           findFirst(modelCandidates("dict.txt")),
	}
}

// UserModelDir 用户模型目录 ~/.zoey-reader/models
func UserModelDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".zoey-reader", "models")
}

func getExecutableDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}

// onnxRuntimeLibName 当前平台的运行库文件名
func onnxRuntimeLibName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "onnxruntime_" + runtime.GOARCH + ".dylib"
	default:
		return "onnxruntime_" + runtime.GOARCH + ".so"
	}
}

func searchRoots() []string {
	return []string{
		filepath.Join(getExecutableDir(), "models"),
		"models",
		UserModelDir(),
	}
}

func onnxRuntimeCandidates() []string {
	name := onnxRuntimeLibName()
	var paths []string
	for _, root := range searchRoots() {
		paths = append(paths, filepath.Join(root, "lib", name))
	}
	return paths
}

func modelCandidates(filename string) []string {
	var paths []string
	for _, root := range searchRoots() {
		paths = append(paths, filepath.Join(root, "paddle_weights", filename))
	}
	return paths
}

// findFirst 返回第一个存在的路径，都不存在时返回最后一个（用户目录）
func findFirst(paths []string) string {
	for _, p := range paths {
		if fileExists(p) {
			return p
		}
	}
	return paths[len(paths)-1]
}

// statFile 便于测试替换
var statFile = func(path string) error {
	_, err := os.Stat(path)
	return err
}

func fileExists(path string) bool {
	return statFile(path) == nil
}

// ModelRepoBase 模型下载地址
const ModelRepoBase = "https://huggingface.co/getcharzp/go-ocr/resolve/main"

type downloadFile struct {
	url      string
	destPath string
	size     int64 // 预估大小，用于进度计算
}

// ModelInstaller 下载 PaddleOCR 模型和 ONNX Runtime
type ModelInstaller struct {
	baseDir    string
	baseURL    string
	client     *http.Client
	onProgress func(percent float64)
}

// NewModelInstaller 创建安装器，baseDir 为空时使用用户模型目录
func NewModelInstaller(baseDir string) *ModelInstaller {
	if baseDir == "" {
		baseDir = UserModelDir()
	}
	return &ModelInstaller{
		baseDir: baseDir,
		baseURL: ModelRepoBase,
		client:  http.DefaultClient,
	}
}

// SetProgressCallback 设置进度回调（0-100）
func (m *ModelInstaller) SetProgressCallback(fn func(float64)) {
	m.onProgress = fn
}

// Config 安装目录下的模型配置
func (m *ModelInstaller) Config() Config {
	return Config{
		OnnxRuntimeLibPath: filepath.Join(m.baseDir, "lib", onnxRuntimeLibName()),
		DetModelPath:       filepath.Join(m.baseDir, "paddle_weights", "det.onnx"),
		RecModelPath:       filepath.Join(m.baseDir, "paddle_weights", "rec.onnx"),
		DictPath:           filepath.Join(m.baseDir, "paddle_weights", "dict.txt"),
	}
}

// Installed 模型是否已安装
func (m *ModelInstaller) Installed() bool {
	return m.Config().Available()
}

func (m *ModelInstaller) files() []downloadFile {
	cfg := m.Config()
	return []downloadFile{
		{m.baseURL + "/lib/" + onnxRuntimeLibName(), cfg.OnnxRuntimeLibPath, 50 << 20},
		{m.baseURL + "/paddle_weights/det.onnx", cfg.DetModelPath, 3 << 20},
		{m.baseURL + "/paddle_weights/rec.onnx", cfg.RecModelPath, 5 << 20},
		{m.baseURL + "/paddle_weights/dict.txt", cfg.DictPath, 200 << 10},
	}
}

// Install 下载缺失的文件，已存在的跳过
func (m *ModelInstaller) Install(ctx context.Context) error {
	files := m.files()

	var total, done int64
	for _, f := range files {
		total += f.size
	}

	for _, f := range files {
		if fileExists(f.destPath) {
			done += f.size
			m.report(done, total)
			continue
		}
		base := done
		err := m.download(ctx, f, func(n int64) {
			if n > f.size {
				n = f.size
			}
			m.report(base+n, total)
		})
		if err != nil {
			return fmt.Errorf("下载 %s 失败: %w", filepath.Base(f.destPath), err)
		}
		done += f.size
	}
	m.report(total, total)
	return nil
}

func (m *ModelInstaller) report(done, total int64) {
	if m.onProgress != nil && total > 0 {
		m.onProgress(float64(done) / float64(total) * 100)
	}
}

func (m *ModelInstaller) download(ctx context.Context, f downloadFile, onProgress func(int64)) error {
	if err := os.MkdirAll(filepath.Dir(f.destPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	tmpPath := f.destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, &progressReader{r: resp.Body, fn: onProgress})
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, f.destPath)
}

type progressReader struct {
	r  io.Reader
	n  int64
	fn func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		if p.fn != nil {
			p.fn(p.n)
		}
	}
	return n, err
}
