// Package interview runs the session pipeline: staged content preparation,
// answer intake and analysis, and report compilation. HTTP handlers call the
// Service; background stages run on worker pools and meet the handlers only
// through the session store. Long question loops and short tasks (the
// introduction and answer analysis) use separate pools so a busy generator
// never delays a new session's first response.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/recon/internal/audio"
	"github.com/loqalabs/recon/internal/config"
	"github.com/loqalabs/recon/internal/intro"
	"github.com/loqalabs/recon/internal/llm"
	"github.com/loqalabs/recon/internal/protocol"
	"github.com/loqalabs/recon/internal/session"
	"github.com/loqalabs/recon/internal/stt"
	"github.com/loqalabs/recon/internal/tts"
	"github.com/loqalabs/recon/internal/worker"
)

var tracer = otel.Tracer("github.com/loqalabs/recon/interview")

// Publisher receives lifecycle events. The bus client and the journal both
// satisfy it.
type Publisher interface {
	PublishEvent(ctx context.Context, ev protocol.SessionEvent) error
}

// Submitter schedules background work. *worker.Pool satisfies it.
type Submitter interface {
	Submit(name string, task worker.Task) error
}

// Renderer writes synthesized speech to a file.
type Renderer interface {
	Render(ctx context.Context, req tts.SynthRequest, dir, base string) (tts.Rendered, error)
}

// Converter normalizes an uploaded recording to PCM.
type Converter interface {
	ToPCM(ctx context.Context, path string) (audio.PCM, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store *session.Store
	// Pool runs the question generation loops.
	Pool Submitter
	// FastPool runs the introduction stage and answer analysis. Nil shares
	// Pool.
	FastPool   Submitter
	LLM        llm.Generator
	Speech     Renderer
	Recognizer stt.Recognizer
	Converter  Converter
	Intros     *intro.Library
	Events     Publisher
	Logger     *slog.Logger
	// Rand drives the introduction pick. Nil uses the global source.
	Rand *rand.Rand
}

// Options are the tunables of a Service, taken from config.
type Options struct {
	LLM      config.LLMConfig
	Storage  config.StorageConfig
	Pipeline config.PipelineConfig
	Report   config.ReportConfig
}

// Service is the interview pipeline.
type Service struct {
	store      *session.Store
	pool       Submitter
	fast       Submitter
	gen        llm.Generator
	speech     Renderer
	recognizer stt.Recognizer
	converter  Converter
	intros     *intro.Library
	events     Publisher
	logger     *slog.Logger

	opts Options

	rngMu sync.Mutex
	rng   *rand.Rand

	seq   atomic.Uint64
	clock func() time.Time

	metrics metrics
}

type metrics struct {
	sessions   metric.Int64Counter
	questions  metric.Int64Counter
	synthesis  metric.Int64Counter
	answers    metric.Int64Counter
	analyses   metric.Int64Counter
	reports    metric.Int64Counter
	expired    metric.Int64Counter
	stageTimer metric.Float64Histogram
}

func New(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil || deps.Pool == nil || deps.LLM == nil || deps.Speech == nil ||
		deps.Recognizer == nil || deps.Converter == nil || deps.Intros == nil {
		return nil, errors.New("interview: missing dependency")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:      deps.Store,
		pool:       deps.Pool,
		fast:       deps.FastPool,
		gen:        deps.LLM,
		speech:     deps.Speech,
		recognizer: deps.Recognizer,
		converter:  deps.Converter,
		intros:     deps.Intros,
		events:     deps.Events,
		logger:     logger.With(slog.String("component", "interview")),
		opts:       opts,
		rng:        deps.Rand,
		clock:      time.Now,
	}
	if s.fast == nil {
		s.fast = s.pool
	}
	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/recon/interview")
	var err error
	m := &s.metrics
	if m.sessions, err = meter.Int64Counter("recon.sessions", metric.WithDescription("Sessions by lifecycle outcome")); err != nil {
		return err
	}
	if m.questions, err = meter.Int64Counter("recon.questions.generated", metric.WithDescription("Interview questions appended to sessions")); err != nil {
		return err
	}
	if m.synthesis, err = meter.Int64Counter("recon.synthesis", metric.WithDescription("Question audio synthesis attempts by result")); err != nil {
		return err
	}
	if m.answers, err = meter.Int64Counter("recon.answers", metric.WithDescription("Submitted answers by result")); err != nil {
		return err
	}
	if m.analyses, err = meter.Int64Counter("recon.analyses", metric.WithDescription("Answer analyses by result")); err != nil {
		return err
	}
	if m.reports, err = meter.Int64Counter("recon.reports", metric.WithDescription("Reports compiled")); err != nil {
		return err
	}
	if m.expired, err = meter.Int64Counter("recon.sessions.expired", metric.WithDescription("Sessions removed by the retention sweep")); err != nil {
		return err
	}
	if m.stageTimer, err = meter.Float64Histogram("recon.stage.duration", metric.WithUnit("s"), metric.WithDescription("Pipeline stage duration")); err != nil {
		return err
	}
	_, err = meter.Int64ObservableGauge("recon.sessions.active",
		metric.WithDescription("Sessions currently held in memory"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.store.Len()))
			return nil
		}))
	return err
}

func (s *Service) observeStage(ctx context.Context, stage string, start time.Time) {
	s.metrics.stageTimer.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter, result string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// publish records a lifecycle event. Delivery failures are logged only.
func (s *Service) publish(ctx context.Context, ev protocol.SessionEvent) {
	if s.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock().UTC()
	}
	if err := s.events.PublishEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to publish session event",
			slog.String("session_id", ev.SessionID),
			slog.String("type", string(ev.Type)),
			slogError(err))
	}
}

func (s *Service) pick() intro.Selection {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.intros.Pick(s.rng)
}

// publicURL maps a file under the static directory to the URL it is served
// at. It returns "" for paths outside the static directory.
func (s *Service) publicURL(path string) string {
	rel, err := filepath.Rel(s.opts.Storage.StaticDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return strings.TrimSuffix(s.opts.Storage.URLPrefix, "/") + "/" + filepath.ToSlash(rel)
}

func (s *Service) gatewayTimeout() time.Duration {
	if s.opts.Pipeline.GatewayTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.opts.Pipeline.GatewayTimeoutMS) * time.Millisecond
}

func (s *Service) llmRequest(sessionID string, purpose llm.Purpose, prompt string) llm.Request {
	req := llm.ForPurpose(s.opts.LLM, purpose)
	req.SessionID = sessionID
	req.Prompt = prompt
	return req
}

// complete runs one bounded language model call.
func (s *Service) complete(ctx context.Context, req llm.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	defer cancel()
	return llm.Complete(ctx, s.gen, req)
}

// recoverStage converts a panic in a background stage into onPanic. It must
// be deferred directly.
func (s *Service) recoverStage(id, stage string, onPanic func(msg string)) {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Error("stage panicked",
		slog.String("session_id", id),
		slog.String("stage", stage),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())))
	onPanic(fmt.Sprintf("%s stage panicked: %v", stage, r))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// errHalted aborts a mutation when the session has left the state a stage
// expects, usually because it was cancelled.
var errHalted = errors.New("session halted")

func halted(status session.Status) error {
	return fmt.Errorf("%w: %s", errHalted, status)
}
