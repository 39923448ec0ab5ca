// Package publish 将游戏状态文档发送给下游消费者
//
// 地址以 ws:// 或 wss:// 开头时使用 WebSocket，其余按 gRPC 处理。
package publish

import (
	"context"
	"strings"
	"time"
)

// DefaultTimeout 单次发布的超时
const DefaultTimeout = 5 * time.Second

// Publisher 状态发布器
type Publisher interface {
	// Publish 发送最终文档，阻塞直到完成或超时
	Publish(ctx context.Context, doc map[string]any) error
	// Progress 尽力发送进度，不阻塞
	Progress(v any)
	Close() error
}

// New 按地址选择发布方式
func New(addr string) (Publisher, error) {
	if isWebSocket(addr) {
		return NewWebSocket(addr), nil
	}
	p, err := DialGRPC(strings.TrimPrefix(addr, "grpc://"))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func isWebSocket(addr string) bool {
	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}
