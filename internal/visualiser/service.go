package visualiser

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "simstats.visualiser.v1.StepStream"

const (
	streamMethod = "/" + ServiceName + "/Stream"
	statsMethod  = "/" + ServiceName + "/Stats"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Stats",
		Handler:    statsHandler,
	}},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Stream",
		Handler:       streamHandler,
		ServerStreams: true,
	}},
	Metadata: "simstats/visualiser.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(*Publisher).stream(req, stream)
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	p := srv.(*Publisher)
	if interceptor == nil {
		return p.statsStruct()
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return p.statsStruct()
	}
	return interceptor(ctx, in, info, handler)
}

// Client reads the step stream of a Publisher.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Subscription is an open step stream.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a stream of steps for simID, or of every simulation when
// simID is empty.
func (c *Client) Subscribe(ctx context.Context, simID string) (*Subscription, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], streamMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"sim_id": simID})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send subscription: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next step.
func (s *Subscription) Recv() (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Stats fetches the publisher counters.
func (c *Client) Stats(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, statsMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
