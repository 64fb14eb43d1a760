package dataplane

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transport bool
		rejected  bool
	}{
		{name: "nil", err: nil},
		{name: "rejected", err: NewRequestError(Rejected, "route_add", errors.New("no such table")), rejected: true},
		{name: "transport", err: NewRequestError(Transport, "iface_list", errors.New("broken pipe")), transport: true},
		{name: "timeout", err: NewRequestError(Timeout, "addr_add", errors.New("deadline")), transport: true},
		{name: "wrapped transport", err: fmt.Errorf("full sync: %w", NewRequestError(Transport, "addr_list", errors.New("eof"))), transport: true},
		{name: "closed", err: ErrClosed, transport: true},
		{name: "plain", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transport, IsTransport(tt.err))
			assert.Equal(t, tt.rejected, IsRejected(tt.err))
		})
	}
}

func TestRequestErrorUnwrap(t *testing.T) {
	cause := errors.New("value exists")
	err := NewRequestError(Rejected, "addr_add", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "addr_add: rejected: value exists", err.Error())
}
