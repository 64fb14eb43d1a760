// Package gateway serves the read-only admin API over gRPC.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/veesix-networks/dpsync/api/show"
	"github.com/veesix-networks/dpsync/internal/provider"
	"github.com/veesix-networks/dpsync/pkg/component"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const DefaultAddress = "127.0.0.1:50051"

// PortsShower renders the mirrored dataplane ports.
type PortsShower interface {
	ShowPorts(w io.Writer, port int, detail, json bool) error
}

type Component struct {
	*component.Base

	logger   *slog.Logger
	bindAddr string
	ports    PortsShower

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
}

func New(bindAddr string, ports PortsShower) *Component {
	if bindAddr == "" {
		bindAddr = DefaultAddress
	}
	return &Component{
		Base:     component.NewBase("gateway"),
		logger:   logger.Get(logger.Gateway),
		bindAddr: bindAddr,
		ports:    ports,
	}
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting gateway component", "addr", c.bindAddr)

	lis, err := net.Listen("tcp", c.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	server := grpc.NewServer()
	show.RegisterShowServer(server, c)

	c.mu.Lock()
	c.server = server
	c.listener = lis
	c.mu.Unlock()

	c.logger.Info("Gateway started", "addr", lis.Addr().String())

	c.Go(func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			c.logger.Error("Gateway server error", "error", err)
		}
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping gateway component")

	c.mu.Lock()
	server := c.server
	c.mu.Unlock()

	if server != nil {
		server.GracefulStop()
	}

	c.StopContext()
	return nil
}

// Addr returns the bound address once started.
func (c *Component) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

func (c *Component) ShowPorts(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	req, err := show.ParsePortsRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var buf bytes.Buffer
	if err := c.ports.ShowPorts(&buf, req.Port, req.Detail, req.JSON); err != nil {
		if errors.Is(err, provider.ErrJSONUnsupported) || errors.Is(err, provider.ErrPortRange) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.String(buf.String()), nil
}
