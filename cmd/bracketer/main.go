// Command bracketer reads newline-delimited JSON events from stdin and
// writes one JSON bracket event to stdout for every completed sequence.
//
// Configuration comes from BRACKETER_* environment variables; see
// config.Env. BRACKETER_DEFINITION names the YAML or JSON definition file.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/randalmurphal/bracketer/pkg/bracketer"
	"github.com/randalmurphal/bracketer/pkg/bracketer/config"
	"github.com/randalmurphal/bracketer/pkg/bracketer/dispatch"
	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
)

// maxLineSize bounds a single input event.
const maxLineSize = 4 << 20

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bracketer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	level, err := env.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	def, err := bracketer.LoadDefinition(env.Definition)
	if err != nil {
		return err
	}

	settings := config.New(nil)
	if env.OptionsFile != "" {
		settings, err = config.FromFile(env.OptionsFile)
		if err != nil {
			return err
		}
	}
	// Environment variables override the options file.
	opts, err := bracketer.OptionsFromConfig(settings.Merge(env.Options()))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := setupTelemetry(ctx, env.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.logCounters(shutdownCtx, logger)
		if err := tel.shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	opts = append(opts,
		bracketer.WithLogger(logger),
		bracketer.WithMetrics(true),
		bracketer.WithTracing(tel.tracing()),
	)
	b, err := bracketer.New(def, store, opts...)
	if err != nil {
		return err
	}

	out := newEmitter(os.Stdout)
	deadLetters := dispatch.NewDeadLetterQueue(0)
	pool := dispatch.NewPool(b, dispatch.Config{
		Workers:     env.Workers,
		QueueSize:   env.QueueSize,
		Key:         b.EntityKey,
		DeadLetters: deadLetters,
		Emit: func(evt *event.Event) {
			if err := out.write(evt); err != nil {
				logger.Error("write bracket", slog.String("error", err.Error()))
			}
		},
		OnError: func(evt *event.Event, err error) {
			logger.Error("event failed",
				slog.String("event_type", evt.EventType),
				slog.String("message_id", evt.MessageID),
				slog.String("error", err.Error()),
			)
		},
	})

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepLoop(ctx, b, env.SweepEvery)
	}()

	readErr := readEvents(ctx, os.Stdin, pool, logger)

	if err := pool.Close(); err != nil {
		logger.Warn("close pool", slog.String("error", err.Error()))
	}
	stop()
	<-sweepDone

	if env.DeadLetterFile != "" && deadLetters.Len() > 0 {
		if err := writeDeadLetters(env.DeadLetterFile, deadLetters.Drain()); err != nil {
			logger.Error("write dead letters", slog.String("error", err.Error()))
		}
	}

	stats := pool.Stats()
	logger.Info("bracketer stopped",
		slog.Int64("submitted", stats.Submitted),
		slog.Int64("emitted", stats.Emitted),
		slog.Int64("failed", stats.Failed),
	)

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return readErr
	}
	return nil
}

// readEvents decodes one event per line and submits it. Lines that do not
// decode are logged and skipped. It returns ctx.Err() as soon as ctx is done,
// even while a read from r is blocked; that read is abandoned.
func readEvents(ctx context.Context, r io.Reader, pool *dispatch.Pool, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			data := bytes.Clone(scanner.Bytes())
			select {
			case lines <- data:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	line := 0
	for {
		var (
			data []byte
			ok   bool
		)
		select {
		case data, ok = <-lines:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}

		line++
		if len(data) == 0 {
			continue
		}

		var evt event.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Warn("skip malformed event", slog.Int("line", line), slog.String("error", err.Error()))
			continue
		}
		if err := pool.Submit(ctx, &evt); err != nil {
			return err
		}
	}

	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
	default:
	}
	return ctx.Err()
}

func sweepLoop(ctx context.Context, b *bracketer.Bracketer, every time.Duration) {
	if every <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Errors are logged by Sweep.
			_, _ = b.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// writeDeadLetters appends failed events to path as JSON lines.
func writeDeadLetters(path string, failed []*dispatch.FailedEvent) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, fe := range failed {
		if err := enc.Encode(fe); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

// emitter serializes JSON lines from concurrent workers.
type emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEmitter(w io.Writer) *emitter {
	return &emitter{enc: json.NewEncoder(w)}
}

func (e *emitter) write(evt *event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(evt)
}
