package dplane

import (
	"context"
	"fmt"
)

// Priority places a provider relative to the kernel stage of the pipeline.
type Priority uint8

const (
	PrioPreKernel Priority = iota
	PrioKernel
	PrioPostKernel
)

func (p Priority) String() string {
	switch p {
	case PrioPreKernel:
		return "pre-kernel"
	case PrioKernel:
		return "kernel"
	case PrioPostKernel:
		return "post-kernel"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

func ParsePriority(s string) (Priority, error) {
	switch s {
	case "pre-kernel":
		return PrioPreKernel, nil
	case "kernel", "":
		return PrioKernel, nil
	case "post-kernel":
		return PrioPostKernel, nil
	default:
		return 0, fmt.Errorf("unknown provider priority %q", s)
	}
}

// Provider consumes operations from its Host. Process is always called from the
// scheduler goroutine and must not block for longer than one request per
// operation.
type Provider interface {
	Name() string
	Priority() Priority
	Start(ctx context.Context) error
	Process(ctx context.Context, host Host) error
	Finish(ctx context.Context) error
}
