// Package process 查找游戏进程并将其窗口置于前台
package process

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/auto/window"
)

// ErrNotRunning 进程未运行
var ErrNotRunning = errors.New("进程未运行")

// Info 进程信息
type Info struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// lister 枚举进程，测试中替换
var lister = listProcesses

func listProcesses(ctx context.Context) ([]Info, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取进程列表失败: %w", err)
	}

	out := make([]Info, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		out = append(out, Info{PID: int(p.Pid), Name: name, Path: exe})
	}
	return out, nil
}

// Find 按名称查找进程，不区分大小写，忽略 .exe 后缀
// 完全匹配的排在部分匹配之前
func Find(ctx context.Context, name string) ([]Info, error) {
	want := normalize(name)
	if want == "" {
		return nil, errors.New("进程名为空")
	}

	all, err := lister(ctx)
	if err != nil {
		return nil, err
	}

	var exact, partial []Info
	for _, p := range all {
		got := normalize(p.Name)
		switch {
		case got == want:
			exact = append(exact, p)
		case strings.Contains(got, want):
			partial = append(partial, p)
		}
	}
	return append(exact, partial...), nil
}

// Require 进程必须在运行，返回最佳匹配
func Require(ctx context.Context, name string) (Info, error) {
	matches, err := Find(ctx, name)
	if err != nil {
		return Info{}, err
	}
	if len(matches) == 0 {
		return Info{}, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	p := matches[0]
	logger.Info("找到游戏进程: %s (PID=%d)", p.Name, p.PID)
	return p, nil
}

// Focus 将进程窗口置于前台
func Focus(p Info) error {
	if err := window.Activate(p.PID); err != nil {
		return fmt.Errorf("激活 %s 失败: %w", p.Name, err)
	}
	return nil
}

// IsRunning 检查 PID 是否仍在运行
func IsRunning(ctx context.Context, pid int) bool {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunningWithContext(ctx)
	return err == nil && running
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(filepath.Base(name)))
	return strings.TrimSuffix(name, ".exe")
}
