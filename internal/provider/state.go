package provider

import "sync/atomic"

type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateEventSubscribed
	StateSynchronized
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateEventSubscribed:
		return "event-subscribed"
	case StateSynchronized:
		return "synchronized"
	default:
		return "unknown"
	}
}

type atomicState struct {
	val atomic.Int32
}

func (s *atomicState) Load() ConnectionState {
	return ConnectionState(s.val.Load())
}

func (s *atomicState) Store(state ConnectionState) {
	s.val.Store(int32(state))
}
