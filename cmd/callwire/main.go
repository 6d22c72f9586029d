package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hearsay-ai/callwire/pkg/audio"
	callwire "github.com/hearsay-ai/callwire/sdk"
)

type options struct {
	bridge     string
	to         string
	callType   string
	retries    int
	retryDelay time.Duration
	timeout    time.Duration
	noPlayback bool
	debug      bool
}

func main() {
	os.Exit(runMain(os.Stdout, os.Stderr, os.Args[1:]))
}

func runMain(stdout, stderr io.Writer, args []string) int {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	var opt options
	fs := flag.NewFlagSet("callwire", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opt.bridge, "bridge", strings.TrimSpace(os.Getenv("CALLWIRE_BRIDGE_URL")), "Bridge base URL (also reads CALLWIRE_BRIDGE_URL)")
	fs.StringVar(&opt.to, "to", strings.TrimSpace(os.Getenv("CALLWIRE_TO")), "Phone number to call (also reads CALLWIRE_TO); required")
	fs.StringVar(&opt.callType, "call-type", string(callwire.CallTypeOnDemand), "Call type: on-demand or scheduled-checkin")
	fs.IntVar(&opt.retries, "retries", 2, "Retries after the first call-placing attempt")
	fs.DurationVar(&opt.retryDelay, "retry-delay", 2*time.Second, "Delay between call-placing attempts")
	fs.DurationVar(&opt.timeout, "timeout", 10*time.Second, "Per-attempt timeout for call-placing requests")
	fs.BoolVar(&opt.noPlayback, "no-playback", false, "Do not open the speaker; print transcripts only")
	fs.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if strings.TrimSpace(opt.bridge) == "" {
		fmt.Fprintln(stderr, "--bridge is required (or set CALLWIRE_BRIDGE_URL)")
		return 2
	}
	if strings.TrimSpace(opt.to) == "" {
		fmt.Fprintln(stderr, "--to is required (or set CALLWIRE_TO)")
		return 2
	}
	if opt.retries < 0 {
		fmt.Fprintln(stderr, "--retries must be >= 0")
		return 2
	}
	if opt.retryDelay < 0 {
		fmt.Fprintln(stderr, "--retry-delay must be >= 0")
		return 2
	}

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stdout, logger, opt); err != nil {
		fmt.Fprintln(stderr, "callwire:", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, stdout io.Writer, logger *slog.Logger, opt options) error {
	client := callwire.NewClient(opt.bridge,
		callwire.WithLogger(logger),
		callwire.WithRetries(opt.retries),
		callwire.WithRetryDelay(opt.retryDelay),
		callwire.WithTimeout(opt.timeout),
	)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := client.Health(healthCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("bridge unreachable at %s: %w", opt.bridge, err)
	}
	logger.Debug("bridge healthy", "url", opt.bridge)

	capture := audio.NewCapture(audio.WithLogger(logger))

	var playback callwire.PlaybackSink
	if !opt.noPlayback {
		player, err := audio.NewPlayer(0)
		if err != nil {
			logger.Warn("speaker unavailable, continuing without playback", "error", err)
		} else {
			defer player.Close()
			playback = player
		}
	}

	session := callwire.NewSession(client, capture, playback)

	go func() {
		for event := range session.Events() {
			switch ev := event.(type) {
			case *callwire.StateChangeEvent:
				if ev.Reason != nil {
					logger.Info("session state", "from", ev.From, "to", ev.To, "reason", ev.Reason)
				} else {
					logger.Info("session state", "from", ev.From, "to", ev.To)
				}
			case callwire.TranscriptEvent:
				fmt.Fprintf(stdout, "[%s] %s\n", ev.Sender, ev.Text)
			}
		}
	}()

	fmt.Fprintf(stdout, "calling %s (ctrl-c to hang up)\n", opt.to)
	call := callwire.CallRequest{To: opt.to, CallType: callwire.CallType(opt.callType)}
	if err := session.Start(ctx, call); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(stdout, "hanging up")
		if err := session.End(); err != nil {
			return err
		}
	case <-session.Done():
	}

	if reason := session.Reason(); reason != nil {
		return reason
	}
	fmt.Fprintln(stdout, "call ended")
	return nil
}
