package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// 文件格式
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatOf 根据扩展名判断格式，默认 JSON
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load 读取并校验模板文件
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, path)
		}
		return nil, fmt.Errorf("读取模板失败: %w", err)
	}
	f, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, err
	}
	f.ResolveCardTemplates(filepath.Dir(path))
	return f, nil
}

// Parse 解析模板内容
func Parse(data []byte, format string) (*File, error) {
	var f File

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("解析 YAML 模板失败: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("解析 JSON 模板失败: %w", err)
		}
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("模板校验失败: %w", err)
	}
	return &f, nil
}

// Marshal 序列化模板
func Marshal(f *File, format string) ([]byte, error) {
	switch format {
	case FormatYAML:
		data, err := yaml.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("序列化 YAML 模板失败: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("序列化 JSON 模板失败: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// Save 按扩展名格式写出模板
func Save(path string, f *File) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("模板校验失败: %w", err)
	}

	data, err := Marshal(f, FormatOf(path))
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建模板目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入模板失败: %w", err)
	}
	return nil
}
