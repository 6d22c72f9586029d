package dialer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSimulated_MintsProviderSID(t *testing.T) {
	t.Parallel()

	d := &Simulated{}
	sid, err := d.Dial(context.Background(), "+15550100", "ws://bridge/media-stream")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if !strings.HasPrefix(sid, "CA") || len(sid) != 34 {
		t.Fatalf("sid = %q, want CA prefix and 34 chars", sid)
	}

	other, err := d.Dial(context.Background(), "+15550100", "ws://bridge/media-stream")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if other == sid {
		t.Fatalf("sid %q repeated", sid)
	}
}

func TestSimulated_CancelDuringLatency(t *testing.T) {
	t.Parallel()

	d := &Simulated{Latency: 10 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Dial(ctx, "+15550100", "ws://bridge/media-stream")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dial() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Dial() blocked %v after cancel", elapsed)
	}
}
