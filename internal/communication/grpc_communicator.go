package communication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/offs-project/offs/internal/log_service"
)

// rawFrame is a pre-encoded envelope passed through gRPC untouched.
// The service registers a passthrough codec so the protowire framing
// of codec.go is the actual bytes on the wire.
type rawFrame []byte

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	frame, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("raw codec: unexpected message type %T", v)
	}
	return *frame, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	frame, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("raw codec: unexpected message type %T", v)
	}
	*frame = append((*frame)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "offs-raw" }

const (
	serviceName      = "offs.communication.MessageService"
	sendMethod       = "/" + serviceName + "/Send"
	sendStreamMethod = "/" + serviceName + "/SendStream"
)

// GRPCCommunicator frames envelopes over gRPC: one unary RPC for
// request/response message types and one server-streaming RPC for
// streaming types. Each frame is one length-delimited envelope.
type GRPCCommunicator struct {
	listenAddress string
	handler       Handler
	grpcServer    *grpc.Server
	ls            log_service.LogService

	clientLock sync.RWMutex
	clients    map[string]*grpc.ClientConn

	stopMutex sync.Mutex
	stopped   bool
}

func NewGRPCCommunicator(addr string, ls log_service.LogService) *GRPCCommunicator {
	return &GRPCCommunicator{
		listenAddress: addr,
		ls:            ls,
		clients:       make(map[string]*grpc.ClientConn),
	}
}

func (c *GRPCCommunicator) Address() string {
	return c.listenAddress
}

func (c *GRPCCommunicator) Start(handler Handler) error {
	c.handler = handler

	if c.listenAddress == "" {
		// Client-only communicator: nothing to serve.
		return nil
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Starting GRPC communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	c.grpcServer = grpc.NewServer(grpc.ForceServerCodec(rawCodec{}))
	c.grpcServer.RegisterService(&messageServiceDesc, &grpcService{comm: c})

	lis, err := net.Listen("tcp", c.listenAddress)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %s", ErrListenFailed, c.listenAddress)
	}

	go func() {
		if err := c.grpcServer.Serve(lis); err != nil {
			c.ls.Error(log_service.LogEvent{
				Message:  "GRPC server error",
				Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
			})
		}
	}()

	return nil
}

func (c *GRPCCommunicator) Stop() error {
	c.stopMutex.Lock()
	defer c.stopMutex.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true

	if c.grpcServer != nil {
		c.grpcServer.GracefulStop()
	}

	c.clientLock.Lock()
	for _, conn := range c.clients {
		conn.Close()
	}
	c.clients = make(map[string]*grpc.ClientConn)
	c.clientLock.Unlock()

	return nil
}

func (c *GRPCCommunicator) connection(to string) (*grpc.ClientConn, error) {
	c.clientLock.RLock()
	conn, ok := c.clients[to]
	c.clientLock.RUnlock()
	if ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(to,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrClientCreateFailed, to, err)
	}

	c.clientLock.Lock()
	if existing, ok := c.clients[to]; ok {
		c.clientLock.Unlock()
		conn.Close()
		return existing, nil
	}
	c.clients[to] = conn
	c.clientLock.Unlock()

	return conn, nil
}

func (c *GRPCCommunicator) Send(ctx context.Context, to string, msg Message) (*Response, error) {
	conn, err := c.connection(to)
	if err != nil {
		return nil, err
	}

	req := rawFrame(MarshalMessage(msg))
	var reply rawFrame
	if err := conn.Invoke(ctx, sendMethod, &req, &reply); err != nil {
		c.ls.Debug(log_service.LogEvent{
			Message:  "GRPC send failed",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	return UnmarshalResponse(reply)
}

func (c *GRPCCommunicator) SendStream(ctx context.Context, to string, msg Message, recv func(*Response) error) error {
	conn, err := c.connection(to)
	if err != nil {
		return err
	}

	stream, err := conn.NewStream(ctx, &messageServiceDesc.Streams[0], sendStreamMethod)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	req := rawFrame(MarshalMessage(msg))
	if err := stream.SendMsg(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	for {
		var frame rawFrame
		err := stream.RecvMsg(&frame)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
		}

		resp, err := UnmarshalResponse(frame)
		if err != nil {
			return err
		}
		if err := recv(resp); err != nil {
			return err
		}
	}
}

// messageServiceHandler is the registration type for the hand-rolled
// service descriptor.
type messageServiceHandler interface {
	send(ctx context.Context, req *rawFrame) (*rawFrame, error)
	sendStream(req *rawFrame, stream grpc.ServerStream) error
}

// grpcService adapts inbound RPCs to the registered Handler.
type grpcService struct {
	comm *GRPCCommunicator
}

func (s *grpcService) send(ctx context.Context, req *rawFrame) (*rawFrame, error) {
	if s.comm.handler == nil {
		return nil, ErrHandlerNotSet
	}

	msg, err := UnmarshalMessage(*req)
	if err != nil {
		return nil, err
	}

	resp, err := s.comm.handler.HandleMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	frame := rawFrame(MarshalResponse(resp))
	return &frame, nil
}

func (s *grpcService) sendStream(req *rawFrame, stream grpc.ServerStream) error {
	if s.comm.handler == nil {
		return ErrHandlerNotSet
	}

	msg, err := UnmarshalMessage(*req)
	if err != nil {
		return err
	}

	return s.comm.handler.HandleStream(stream.Context(), msg, func(resp *Response) error {
		frame := rawFrame(MarshalResponse(resp))
		return stream.SendMsg(&frame)
	})
}

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(rawFrame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*grpcService).send(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*grpcService).send(ctx, req.(*rawFrame))
	}

	return interceptor(ctx, in, info, handler)
}

func sendStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(rawFrame)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(*grpcService).sendStream(in, stream)
}

var messageServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*messageServiceHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SendStream", Handler: sendStreamHandler, ServerStreams: true},
	},
	Metadata: "proto/offs.proto",
}
