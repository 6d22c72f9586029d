// Package dialer abstracts the telephony leg of an outbound call.
package dialer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialer places the outbound phone call and returns the provider's call
// SID. The media for the call later arrives on streamURL.
type Dialer interface {
	Dial(ctx context.Context, to, streamURL string) (sid string, err error)
}

// Simulated is a Dialer that connects every call after a fixed latency.
// It stands in for a real telephony provider in development and tests.
type Simulated struct {
	Latency time.Duration
}

func (s *Simulated) Dial(ctx context.Context, to, streamURL string) (string, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return newCallSID(), nil
}

// newCallSID mints a provider-style call SID.
func newCallSID() string {
	return "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
