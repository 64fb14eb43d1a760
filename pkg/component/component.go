package component

import "context"

// Component is one long-running part of the daemon.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
