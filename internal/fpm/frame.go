// Package fpm receives the forwarding-change log from the routing daemon over
// the FPM protocol and submits every netlink message it carries as a dataplane
// operation.
package fpm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	frameVersion     = 1
	frameTypeNetlink = 1
	frameHeaderLen   = 4
	// MaxFrameLen bounds a single frame including its header.
	MaxFrameLen = 64 * 1024
)

var ErrBadFrame = errors.New("malformed fpm frame")

// readFrame reads one FPM frame and returns its payload.
func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	if hdr[0] != frameVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadFrame, hdr[0])
	}
	if hdr[1] != frameTypeNetlink {
		return nil, fmt.Errorf("%w: type %d", ErrBadFrame, hdr[1])
	}

	total := int(binary.BigEndian.Uint16(hdr[2:]))
	if total < frameHeaderLen || total > MaxFrameLen {
		return nil, fmt.Errorf("%w: length %d", ErrBadFrame, total)
	}

	n := total - frameHeaderLen
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeFrame wraps a netlink payload in an FPM header.
func EncodeFrame(payload []byte) ([]byte, error) {
	total := frameHeaderLen + len(payload)
	if total > 0xffff {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrBadFrame, len(payload))
	}
	out := make([]byte, total)
	out[0] = frameVersion
	out[1] = frameTypeNetlink
	binary.BigEndian.PutUint16(out[2:], uint16(total))
	copy(out[frameHeaderLen:], payload)
	return out, nil
}
