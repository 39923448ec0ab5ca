package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zoeyai/zoeyreader/internal/logger"
)

// 消息类型
const (
	MessageProgress  = "progress"
	MessageGameState = "game_state"
)

// ErrClosed 发布器已关闭
var ErrClosed = errors.New("发布器已关闭")

// Message WebSocket 消息
type Message struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload"`
}

type outgoing struct {
	msg  Message
	errc chan error
}

// WebSocketPublisher 通过单个 WebSocket 连接顺序发送消息，断开后下次发送时重连
//
// 最终文档走单独的优先队列；发布时丢弃尚未发出的进度。
// 每次连接和发送都受 timeout 限制，Close 最多再等一个 timeout 就放弃剩余消息。
type WebSocketPublisher struct {
	url     string
	dialer  websocket.Dialer
	timeout time.Duration

	progress chan Message
	state    chan outgoing
	closing  chan struct{}
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	// 只在发送协程中访问
	conn      *websocket.Conn
	failUntil time.Time
}

// NewWebSocket 创建发布器并启动发送协程
func NewWebSocket(addr string) *WebSocketPublisher {
	return newWebSocket(addr, DefaultTimeout)
}

func newWebSocket(addr string, timeout time.Duration) *WebSocketPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &WebSocketPublisher{
		url:      buildWsURL(addr),
		dialer:   websocket.Dialer{HandshakeTimeout: timeout},
		timeout:  timeout,
		progress: make(chan Message, 100),
		state:    make(chan outgoing, 1),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go p.writeLoop()
	return p
}

// URL 实际连接地址
func (p *WebSocketPublisher) URL() string {
	return p.url
}

// Progress 排队发送进度，队列满时丢弃
func (p *WebSocketPublisher) Progress(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.progress <- newMessage(MessageProgress, v):
	default:
		logger.WarnOnce("ws-progress-full", "进度消息队列已满, 丢弃后续进度")
	}
}

// Publish 发送最终文档并等待结果，排队和发送共用一个超时
func (p *WebSocketPublisher) Publish(ctx context.Context, doc map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if n := p.dropProgress(); n > 0 {
		logger.Debug("发布最终文档, 丢弃 %d 条未发送的进度", n)
	}
	p.mu.Unlock()

	errc := make(chan error, 1)
	select {
	case p.state <- outgoing{msg: newMessage(MessageGameState, doc), errc: errc}:
	case <-ctx.Done():
		return fmt.Errorf("发布超时: %w", ctx.Err())
	case <-p.done:
		return ErrClosed
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("发布超时: %w", ctx.Err())
	case <-p.done:
		return ErrClosed
	}
}

func (p *WebSocketPublisher) dropProgress() int {
	n := 0
	for {
		select {
		case <-p.progress:
			n++
		default:
			return n
		}
	}
}

// Close 在 timeout 内尽量发完队列中的消息，然后关闭连接
func (p *WebSocketPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(p.timeout):
		logger.Warn("ws %s 关闭超时, 放弃未发送的消息", p.url)
		p.cancel()
		<-p.done
	}
	p.cancel()

	if p.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return p.conn.Close()
}

func (p *WebSocketPublisher) writeLoop() {
	defer close(p.done)
	for {
		// 最终文档优先
		select {
		case out := <-p.state:
			p.sendState(out)
			continue
		default:
		}

		select {
		case out := <-p.state:
			p.sendState(out)
		case msg := <-p.progress:
			p.sendProgress(msg)
		case <-p.closing:
			p.drain()
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// drain 关闭前发送剩余消息，被取消时立即停止
func (p *WebSocketPublisher) drain() {
	for p.ctx.Err() == nil {
		select {
		case out := <-p.state:
			p.sendState(out)
			continue
		default:
		}
		select {
		case msg := <-p.progress:
			p.sendProgress(msg)
		default:
			return
		}
	}
}

func (p *WebSocketPublisher) sendState(out outgoing) {
	start := time.Now()
	err := p.write(out.msg)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		logger.LogEvent("PUB", false, elapsed, fmt.Sprintf("ws %s: %v", p.url, err))
	} else {
		logger.LogEvent("PUB", true, elapsed, "ws "+p.url)
	}
	out.errc <- err
}

// sendProgress 连接失败后的一个 timeout 内直接丢弃进度
func (p *WebSocketPublisher) sendProgress(msg Message) {
	if p.conn == nil && time.Now().Before(p.failUntil) {
		return
	}
	if err := p.write(msg); err != nil {
		logger.Debug("进度发送失败: %v", err)
	}
}

// write 只在发送协程中调用
func (p *WebSocketPublisher) write(msg Message) error {
	if p.conn == nil {
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
		cancel()
		if err != nil {
			p.failUntil = time.Now().Add(p.timeout)
			return fmt.Errorf("连接失败: %w", err)
		}
		p.conn = conn
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	if err := p.conn.WriteJSON(msg); err != nil {
		p.conn.Close()
		p.conn = nil
		return fmt.Errorf("发送失败: %w", err)
	}
	return nil
}

func newMessage(kind string, payload any) Message {
	return Message{Type: kind, Timestamp: time.Now().UnixMilli(), Payload: payload}
}

// buildWsURL 没有路径时补上默认路径 /ws/state
func buildWsURL(addr string) string {
	u, err := url.Parse(addr)
	if err != nil {
		return addr
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/state"
	}
	return u.String()
}
