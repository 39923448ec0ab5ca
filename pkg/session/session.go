// Package session 管理一次读取会话的输出目录和产物
//
//	<output_dir>/<YYYYMMDD_HHMMSS>/
//	  game_state.json
//	  progress.json
//	  stats.json
//	  logs/reader.log
//	  captures/phase_<n>/...   (debug)
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/phase"
	"github.com/zoeyai/zoeyreader/pkg/pipeline"
	"github.com/zoeyai/zoeyreader/pkg/state"
)

// 文件名
const (
	GameStateFile = "game_state.json"
	ProgressFile  = "progress.json"
	StatsFile     = "stats.json"
	LogFile       = "reader.log"
)

// DirLayout 会话目录名的时间格式
const DirLayout = "20060102_150405"

// Session 一次会话的输出
type Session struct {
	Dir       string
	StartedAt time.Time

	progress  *Progress
	artifacts *Artifacts
}

// Create 在 root 下创建以开始时间命名的会话目录
func Create(root string, startedAt time.Time, phases int, debug bool) (*Session, error) {
	dir := filepath.Join(root, startedAt.Format(DirLayout))
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0755); err != nil {
		return nil, fmt.Errorf("创建会话目录失败: %w", err)
	}

	s := &Session{
		Dir:       dir,
		StartedAt: startedAt,
		progress:  NewProgress(filepath.Join(dir, ProgressFile), phases),
	}
	if debug {
		s.artifacts = NewArtifacts(filepath.Join(dir, "captures"))
	}
	logger.Info("会话目录: %s", dir)
	return s, nil
}

// LogPath 会话日志文件
func (s *Session) LogPath() string {
	return filepath.Join(s.Dir, "logs", LogFile)
}

// Progress 进度记录器
func (s *Session) Progress() *Progress {
	return s.progress
}

// Observer 调试产物观察者，未开启调试时为 nil
func (s *Session) Observer() pipeline.Observer {
	if s.artifacts == nil {
		return nil
	}
	return s.artifacts
}

// OnTransition 更新进度；阶段结束时写出该阶段的耗时记录
func (s *Session) OnTransition(tr phase.Transition) {
	s.progress.OnTransition(tr)

	if s.artifacts == nil {
		return
	}
	switch tr.To {
	case phase.PhaseComplete, phase.Cancelled, phase.Failed:
		if err := s.artifacts.Flush(tr.Phase); err != nil {
			logger.Warn("写入调试耗时失败: %v", err)
		}
	}
}

// WriteState 写出游戏状态文档
func (s *Session) WriteState(doc *state.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.Dir, GameStateFile), data)
}

// WriteStats 写出识别耗时统计
func (s *Session) WriteStats(snaps ...*pipeline.Snapshot) error {
	return writeJSON(filepath.Join(s.Dir, StatsFile), Summarize(snaps...))
}

// StatusFor 控制器终态对应的文档状态
func StatusFor(st phase.State) state.Status {
	switch st {
	case phase.Done:
		return state.StatusDone
	case phase.Cancelled:
		return state.StatusCancelled
	case phase.Failed:
		return state.StatusFailed
	default:
		return state.StatusRunning
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(data, '\n'))
}

// writeFile 先写临时文件再重命名，读者不会看到半截内容
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入 %s 失败: %w", filepath.Base(path), err)
	}
	return nil
}
