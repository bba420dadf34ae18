package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/recon/internal/audio"
	"github.com/loqalabs/recon/internal/bus"
	"github.com/loqalabs/recon/internal/config"
	"github.com/loqalabs/recon/internal/eventstore"
	"github.com/loqalabs/recon/internal/interview"
	"github.com/loqalabs/recon/internal/intro"
	"github.com/loqalabs/recon/internal/llm"
	"github.com/loqalabs/recon/internal/natsserver"
	"github.com/loqalabs/recon/internal/protocol"
	"github.com/loqalabs/recon/internal/session"
	"github.com/loqalabs/recon/internal/stt"
	"github.com/loqalabs/recon/internal/tts"
	"github.com/loqalabs/recon/internal/worker"
)

// components are the long-lived collaborators of a running service.
type components struct {
	cfg     config.Config
	logger  *slog.Logger
	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	sub     *nats.Subscription
	journal *eventstore.Store
	pool    *worker.Pool
	fast    *worker.Pool
	service *interview.Service

	closeOnce sync.Once
}

// build wires every component from cfg. On error anything already started
// is shut down again.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *components, err error) {
	c := &components{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	for _, dir := range []string{cfg.Storage.AudioDir, cfg.Storage.AnswersDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}

	c.journal, err = eventstore.Open(ctx, cfg.EventStore, logger.With(slog.String("component", "journal")))
	if err != nil {
		return nil, fmt.Errorf("open event journal: %w", err)
	}

	var events interview.Publisher = c.journal
	if cfg.Bus.Enabled {
		if err := c.connectBus(ctx); err != nil {
			return nil, err
		}
		events = c.bus
	}

	c.pool = worker.NewPool(context.Background(), cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger.With(slog.String("lane", "questions")))
	c.fast = worker.NewPool(context.Background(), cfg.Pipeline.FastWorkers, cfg.Pipeline.QueueSize, logger.With(slog.String("lane", "fast")))
	if err := registerPoolMetrics(map[string]*worker.Pool{"questions": c.pool, "fast": c.fast}); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	gen, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	speech, err := tts.NewFromConfig(cfg.TTS, cfg.Speech, logger)
	if err != nil {
		return nil, fmt.Errorf("init tts: %w", err)
	}
	recognizer, err := stt.NewFromConfig(cfg.STT, cfg.Speech)
	if err != nil {
		return nil, fmt.Errorf("init stt: %w", err)
	}
	converter, err := audio.NewConverter(cfg.Audio.ConvertCommand, cfg.STT.SampleRate, cfg.STT.Channels)
	if err != nil {
		return nil, fmt.Errorf("init audio converter: %w", err)
	}
	intros, err := intro.Open(cfg.Intro.Manifest)
	if err != nil {
		return nil, fmt.Errorf("load intro library: %w", err)
	}

	c.service, err = interview.New(interview.Deps{
		Store:      session.NewStore(),
		Pool:       c.pool,
		FastPool:   c.fast,
		LLM:        gen,
		Speech:     speech,
		Recognizer: recognizer,
		Converter:  converter,
		Intros:     intros,
		Events:     events,
		Logger:     logger,
	}, interview.Options{
		LLM:      cfg.LLM,
		Storage:  cfg.Storage,
		Pipeline: cfg.Pipeline,
		Report:   cfg.Report,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("components ready",
		slog.String("llm", cfg.LLM.Mode),
		slog.String("stt", cfg.STT.Mode),
		slog.String("tts", cfg.TTS.Mode),
		slog.Bool("bus", cfg.Bus.Enabled),
		slog.String("journal", cfg.EventStore.RetentionMode))
	return c, nil
}

// connectBus starts the embedded broker when configured, connects, and feeds
// every published session event into the journal.
func (c *components) connectBus(ctx context.Context) error {
	busCfg := c.cfg.Bus
	var err error
	c.nats, err = natsserver.Start(busCfg, c.logger)
	if err != nil {
		return err
	}
	if c.nats != nil {
		busCfg.Servers = []string{c.nats.ClientURL()}
	}
	c.bus, err = bus.Connect(ctx, busCfg, c.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	if err := c.bus.EnsureSessionStream(retention(c.cfg.Storage)); err != nil {
		return fmt.Errorf("ensure session stream: %w", err)
	}
	c.sub, err = c.bus.SubscribeEvents(func(ev protocol.SessionEvent) {
		if err := c.journal.Record(context.Background(), ev); err != nil {
			c.logger.Warn("failed to journal session event",
				slog.String("session_id", ev.SessionID),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe session events: %w", err)
	}
	return nil
}

func (c *components) journalEnabled() bool {
	return c.journal != nil && c.cfg.EventStore.RetentionMode != eventstore.RetentionEphemeral
}

// Close stops components in reverse start order. It is safe to call more
// than once.
func (c *components) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		if c.pool != nil {
			c.pool.Close()
		}
		if c.fast != nil {
			c.fast.Close()
		}
		if c.sub != nil {
			_ = c.sub.Unsubscribe()
		}
		c.bus.Close()
		c.nats.Shutdown()
		if c.journal != nil {
			if err := c.journal.Close(); err != nil {
				c.logger.Warn("journal close failed", slog.String("error", err.Error()))
			}
		}
	})
}

func registerPoolMetrics(pools map[string]*worker.Pool) error {
	meter := otel.Meter("github.com/loqalabs/recon/runtime")
	_, err := meter.Int64ObservableGauge("recon.pipeline.queue_depth",
		metric.WithDescription("Background tasks waiting for a worker, by lane"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for lane, pool := range pools {
				o.Observe(int64(pool.Depth()), metric.WithAttributes(attribute.String("lane", lane)))
			}
			return nil
		}))
	return err
}
