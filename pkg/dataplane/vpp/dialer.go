// Package vpp implements the dataplane session on top of the VPP binary API.
package vpp

import (
	"context"
	"fmt"
	"time"

	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"go.fd.io/govpp"
	"go.fd.io/govpp/core"
)

const (
	DefaultSocket       = "/run/vpp/api.sock"
	DefaultReplyTimeout = 2 * time.Second
)

type Dialer struct {
	Socket       string
	ReplyTimeout time.Duration
}

var _ dataplane.Dialer = (*Dialer)(nil)

// Open makes a single connection attempt. Retrying is left to the caller.
func (d *Dialer) Open(ctx context.Context) (dataplane.Session, error) {
	socket := d.Socket
	if socket == "" {
		socket = DefaultSocket
	}
	timeout := d.ReplyTimeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}

	conn, connEvents, err := govpp.AsyncConnect(socket, 1, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dataplane.ErrConnect, socket, err)
	}

	select {
	case <-ctx.Done():
		conn.Disconnect()
		return nil, ctx.Err()
	case ev := <-connEvents:
		if ev.State != core.Connected {
			conn.Disconnect()
			return nil, fmt.Errorf("%w: %s: %s: %v", dataplane.ErrConnect, socket, ev.State, ev.Error)
		}
	}

	sess, err := newSession(conn, connEvents, timeout)
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("%w: %v", dataplane.ErrConnect, err)
	}

	logger.Get(logger.Dataplane).Debug("Connected to VPP", "socket", socket, "session_id", sess.ID())
	return sess, nil
}
