package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{" error ", ERROR},
		{"unknown", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, 期望 %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)
	l.SetLevel(WARN)

	l.Info("不应出现")
	l.Warn("应该出现 %d", 1)

	out := buf.String()
	if strings.Contains(out, "不应出现") {
		t.Errorf("INFO 日志不应在 WARN 级别输出: %s", out)
	}
	if !strings.Contains(out, "WARN  | 应该出现 1") {
		t.Errorf("WARN 日志格式不正确: %s", out)
	}
}

func TestWarnOnce(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)

	if !l.WarnOnce("pattern:roi1", "模式错误 %s", "roi1") {
		t.Error("第一次调用应输出")
	}
	if l.WarnOnce("pattern:roi1", "模式错误 %s", "roi1") {
		t.Error("第二次调用不应输出")
	}
	if got := strings.Count(buf.String(), "模式错误"); got != 1 {
		t.Errorf("期望输出 1 次, 实际 %d 次", got)
	}
}

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(&buf)

	l.LogEvent("OCR", true, 12.5, "识别到 2 个文本")
	l.LogEvent("NAV", false, 3, "超时")

	out := buf.String()
	if !strings.Contains(out, "OCR  | OK |   12.5ms | 识别到 2 个文本") {
		t.Errorf("成功事件格式不正确: %s", out)
	}
	if !strings.Contains(out, "ERROR | NAV  | NG") {
		t.Errorf("失败事件应以 ERROR 输出: %s", out)
	}
}

func TestSetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reader.log")
	l := New()
	l.SetOutput(nil)

	if err := l.SetFile(true, path); err != nil {
		t.Fatalf("设置日志文件失败: %v", err)
	}
	l.Info("写入文件")
	if err := l.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "写入文件") {
		t.Errorf("日志文件内容不正确: %s", data)
	}
}
