// Package show defines the dpsync.v1.Show gRPC service. Requests and replies
// use protobuf well-known types, so no generated code is needed.
package show

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName         = "dpsync.v1.Show"
	ShowPortsFullMethod = "/" + ServiceName + "/ShowPorts"
)

// PortsRequest selects what "show ports" renders. Port 0 means all ports.
type PortsRequest struct {
	Port   int
	Detail bool
	JSON   bool
}

func (r PortsRequest) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"port":   structpb.NewNumberValue(float64(r.Port)),
		"detail": structpb.NewBoolValue(r.Detail),
		"json":   structpb.NewBoolValue(r.JSON),
	}}
}

// ParsePortsRequest reads a request encoded by PortsRequest.Struct. Missing
// fields keep their zero value.
func ParsePortsRequest(s *structpb.Struct) (PortsRequest, error) {
	var req PortsRequest
	for key, v := range s.GetFields() {
		switch key {
		case "port":
			n, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return req, fmt.Errorf("port: expected a number")
			}
			if n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
				return req, fmt.Errorf("port: %v is not an integer", n.NumberValue)
			}
			req.Port = int(n.NumberValue)
		case "detail":
			req.Detail = v.GetBoolValue()
		case "json":
			req.JSON = v.GetBoolValue()
		default:
			return req, fmt.Errorf("unknown field %q", key)
		}
	}
	return req, nil
}

type ShowServer interface {
	ShowPorts(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error)
}

func RegisterShowServer(s grpc.ServiceRegistrar, srv ShowServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func showPortsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShowServer).ShowPorts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ShowPortsFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ShowServer).ShowPorts(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ShowServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ShowPorts",
			Handler:    showPortsHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ShowPorts returns the rendered port table.
func (c *Client) ShowPorts(ctx context.Context, req PortsRequest, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, ShowPortsFullMethod, req.Struct(), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
