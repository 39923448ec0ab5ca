package publish

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zoeyai/zoeyreader/internal/logger"
)

const (
	// ServiceName 接收端服务名
	ServiceName = "zoeyreader.v1.StateSink"
	// PublishMethod 完整方法名
	PublishMethod = "/" + ServiceName + "/Publish"
)

// GRPCPublisher 通过 gRPC 一元调用发布
type GRPCPublisher struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialGRPC 创建连接，实际连接在首次调用时建立
func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPCPublisher, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 gRPC 连接失败: %w", err)
	}
	return &GRPCPublisher{conn: conn, timeout: DefaultTimeout}, nil
}

// Publish 发送文档
func (p *GRPCPublisher) Publish(ctx context.Context, doc map[string]any) error {
	msg, err := structpb.NewStruct(doc)
	if err != nil {
		return fmt.Errorf("转换文档失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.conn.Invoke(ctx, PublishMethod, msg, &emptypb.Empty{})
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		logger.LogEvent("PUB", false, elapsed, fmt.Sprintf("grpc %s: %v", p.conn.Target(), err))
		return fmt.Errorf("发布失败: %w", err)
	}
	logger.LogEvent("PUB", true, elapsed, "grpc "+p.conn.Target())
	return nil
}

// Progress gRPC 接收端只关心最终文档
func (p *GRPCPublisher) Progress(any) {}

// Close 关闭连接
func (p *GRPCPublisher) Close() error {
	return p.conn.Close()
}

// Handler 接收端处理函数
type Handler func(ctx context.Context, doc *structpb.Struct) error

// StateSinkServer 接收端服务接口
type StateSinkServer interface {
	Publish(ctx context.Context, doc *structpb.Struct) (*emptypb.Empty, error)
}

// Server 接收端实现，供下游嵌入
type Server struct {
	handler Handler
}

// NewServer 创建接收端
func NewServer(h Handler) *Server {
	return &Server{handler: h}
}

// Register 注册到 gRPC 服务器
func (s *Server) Register(g grpc.ServiceRegistrar) {
	g.RegisterService(&stateSinkDesc, s)
}

// Publish 调用处理函数
func (s *Server) Publish(ctx context.Context, doc *structpb.Struct) (*emptypb.Empty, error) {
	if s.handler != nil {
		if err := s.handler(ctx, doc); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	return &emptypb.Empty{}, nil
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StateSinkServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PublishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StateSinkServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// 没有 .proto 生成代码，手写服务描述
var stateSinkDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StateSinkServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zoeyreader/v1/state_sink.proto",
}
