package chat

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// PolicyTimestamp prefixes every payload with a unique clock stamp
	PolicyTimestamp = "timestamp"

	// PolicyContentHash identifies a payload by a hash of its bytes
	PolicyContentHash = "content-hash"

	// TimestampWidth is the size of the timestamp prefix in bytes.
	// Every node of a deployment must agree on it.
	TimestampWidth = 8
)

// Framer decides how outbound payloads are identified on the mesh so that
// retransmissions are recognised as duplicates.
// The two policies are not wire compatible; a deployment uses exactly one.
type Framer interface {
	Name() string
	// Frame returns the bytes to broadcast for a payload
	Frame(payload []byte) []byte
	// Unframe recovers the payload from broadcast bytes
	Unframe(data []byte) ([]byte, error)
	// MessageID is the mesh message identifier of broadcast bytes
	MessageID(data []byte) string
}

// NewFramer returns the framer for a policy name
func NewFramer(policy string) (Framer, error) {
	switch policy {
	case PolicyTimestamp, "":
		return NewTimestampFramer(nil), nil
	case PolicyContentHash:
		return ContentHashFramer{}, nil
	default:
		return nil, fmt.Errorf("unknown dedup policy: %q", policy)
	}
}

// ContentHashFramer sends payloads untouched and identifies them by hash.
// Two byte-identical messages sent close together are one transmission.
type ContentHashFramer struct{}

func (ContentHashFramer) Name() string { return PolicyContentHash }

func (ContentHashFramer) Frame(payload []byte) []byte { return payload }

func (ContentHashFramer) Unframe(data []byte) ([]byte, error) { return data, nil }

func (ContentHashFramer) MessageID(data []byte) string {
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(data))
	return hex.EncodeToString(sum[:])
}

// TimestampFramer prefixes each payload with a strictly increasing
// nanosecond stamp, so no two frames from one node ever share an id.
type TimestampFramer struct {
	now  func() time.Time
	last atomic.Uint64
}

// NewTimestampFramer returns a timestamp framer; a nil clock uses time.Now
func NewTimestampFramer(now func() time.Time) *TimestampFramer {
	if now == nil {
		now = time.Now
	}
	return &TimestampFramer{now: now}
}

func (f *TimestampFramer) Name() string { return PolicyTimestamp }

func (f *TimestampFramer) stamp() uint64 {
	for {
		prev := f.last.Load()
		next := uint64(f.now().UnixNano())
		if next <= prev {
			next = prev + 1
		}
		if f.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

func (f *TimestampFramer) Frame(payload []byte) []byte {
	data := make([]byte, TimestampWidth+len(payload))
	binary.BigEndian.PutUint64(data, f.stamp())
	copy(data[TimestampWidth:], payload)
	return data
}

func (f *TimestampFramer) Unframe(data []byte) ([]byte, error) {
	if len(data) < TimestampWidth {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortFrame, len(data))
	}
	return data[TimestampWidth:], nil
}

// MessageID is the raw prefix. Short frames fall back to their whole content;
// they are rejected before delivery anyway.
func (f *TimestampFramer) MessageID(data []byte) string {
	if len(data) < TimestampWidth {
		return string(data)
	}
	return string(data[:TimestampWidth])
}

// Stamp returns the timestamp carried by a frame
func Stamp(data []byte) (time.Time, error) {
	if len(data) < TimestampWidth {
		return time.Time{}, ErrShortFrame
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(data))), nil
}
