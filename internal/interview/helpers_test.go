package interview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

// scriptedLLM answers by purpose. Gates, when set, must yield a value (or be
// closed) before the matching call returns.
type scriptedLLM struct {
	mu           sync.Mutex
	questions    string
	questionsErr error
	answerErr    error
	analysis     string
	analysisErr  error
	feedbackErr  error
	questionGate chan struct{}
	answerGate   chan struct{}
	analysisGate chan struct{}
	panicOn      llm.Purpose
	calls        map[llm.Purpose]int
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		questions: "1. What is a primary key?\n2. Explain an INNER JOIN.\n3. When would you add an index?",
		analysis:  "```json\n{\"relevance\": 80, \"clarity\": 60, \"confidence\": 70, \"feedback\": \"Solid.\", \"suggestion\": \"Give an example.\"}\n```",
		calls:     map[llm.Purpose]int{},
	}
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	s.mu.Lock()
	s.calls[req.Purpose]++
	panicOn := s.panicOn
	s.mu.Unlock()
	if panicOn != "" && panicOn == req.Purpose {
		panic("backend exploded")
	}

	var content string
	var err error
	switch req.Purpose {
	case llm.PurposeQuestions:
		if err := wait(ctx, s.questionGate); err != nil {
			return err
		}
		content, err = s.questions, s.questionsErr
	case llm.PurposeModelAnswer:
		if err := wait(ctx, s.answerGate); err != nil {
			return err
		}
		content, err = "**Answer** for: "+req.Prompt, s.answerErr
	case llm.PurposeAnalysis:
		if err := wait(ctx, s.analysisGate); err != nil {
			return err
		}
		content, err = s.analysis, s.analysisErr
	case llm.PurposeFeedback:
		content, err = "Keep practising your SQL fundamentals.", s.feedbackErr
	}
	if err != nil {
		return err
	}
	return consumer(llm.Chunk{SessionID: req.SessionID, Content: content})
}

func (s *scriptedLLM) panicFor(p llm.Purpose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicOn = p
}

func (s *scriptedLLM) callCount(p llm.Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[p]
}

// manualPool queues tasks until the test runs them.
type manualPool struct {
	mu     sync.Mutex
	tasks  []worker.Task
	reject bool
}

func (m *manualPool) Submit(_ string, task worker.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return worker.ErrSaturated
	}
	m.tasks = append(m.tasks, task)
	return nil
}

// runNext runs the oldest queued task and reports whether there was one.
func (m *manualPool) runNext(ctx context.Context) bool {
	m.mu.Lock()
	if len(m.tasks) == 0 {
		m.mu.Unlock()
		return false
	}
	task := m.tasks[0]
	m.tasks = m.tasks[1:]
	m.mu.Unlock()
	task(ctx)
	return true
}

func (m *manualPool) drain(ctx context.Context) {
	for m.runNext(ctx) {
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []protocol.SessionEvent
}

func (r *recordingPublisher) PublishEvent(_ context.Context, ev protocol.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) types(sessionID string) []protocol.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.EventType
	for _, ev := range r.events {
		if ev.SessionID == sessionID {
			out = append(out, ev.Type)
		}
	}
	return out
}

type failingRecognizer struct{}

func (failingRecognizer) Transcribe(context.Context, audio.PCM) (stt.TranscriptResult, error) {
	return stt.TranscriptResult{}, errors.New("recognition canceled: authentication failure")
}

type harness struct {
	svc      *Service
	store    *session.Store
	llm      *scriptedLLM
	events   *recordingPublisher
	storage  config.StorageConfig
	introDir string
	now      time.Time
	nowMu    sync.Mutex
}

type harnessOption func(*Deps, *Options)

// withPool runs every stage on p.
func withPool(p Submitter) harnessOption {
	return func(d *Deps, _ *Options) { d.Pool, d.FastPool = p, p }
}

func withPools(questions, fast Submitter) harnessOption {
	return func(d *Deps, _ *Options) { d.Pool, d.FastPool = questions, fast }
}

func withRecognizer(r stt.Recognizer) harnessOption {
	return func(d *Deps, _ *Options) { d.Recognizer = r }
}

func withSpeech(r Renderer) harnessOption {
	return func(d *Deps, _ *Options) { d.Speech = r }
}

func withReportWait(d time.Duration) harnessOption {
	return func(_ *Deps, o *Options) { o.Report.WaitTimeoutMS = int(d / time.Millisecond) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	root := t.TempDir()
	static := filepath.Join(root, "static")
	h := &harness{
		llm:    newScriptedLLM(),
		events: &recordingPublisher{},
		storage: config.StorageConfig{
			StaticDir:        static,
			URLPrefix:        "/static",
			AudioDir:         filepath.Join(static, "audio"),
			AnswersDir:       filepath.Join(static, "user_answers"),
			RetentionMinutes: 60,
		},
		introDir: filepath.Join(static, "audio", "introductions"),
		now:      time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	h.store = session.NewStore(session.WithClock(h.clock))

	require.NoError(t, os.MkdirAll(h.introDir, 0o755))
	manifest := intro.DefaultManifest()
	for _, p := range manifest.Pairs {
		for _, f := range []string{p.Greeting.File, p.Prompt.File} {
			require.NoError(t, os.WriteFile(filepath.Join(h.introDir, f), []byte("intro"), 0o644))
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conv, err := audio.NewConverter("", 16000, 1)
	require.NoError(t, err)

	pool := worker.NewPool(context.Background(), 4, 64, logger)
	t.Cleanup(pool.Close)
	fast := worker.NewPool(context.Background(), 4, 64, logger)
	t.Cleanup(fast.Close)

	deps := Deps{
		Store:      h.store,
		Pool:       pool,
		FastPool:   fast,
		LLM:        h.llm,
		Speech:     tts.NewRenderer(logger, tts.Backend{Name: "mock", Synth: tts.NewMockSynth(16000, 1)}),
		Recognizer: stt.NewMockRecognizer(),
		Converter:  conv,
		Intros:     intro.NewLibrary(h.introDir, manifest),
		Events:     h.events,
		Logger:     logger,
		Rand:       rand.New(rand.NewPCG(11, 13)),
	}
	options := Options{
		LLM:      config.LLMConfig{DefaultTier: "balanced", MaxTokens: 512},
		Storage:  h.storage,
		Pipeline: config.PipelineConfig{GatewayTimeoutMS: 5000},
		Report:   config.ReportConfig{WaitTimeoutMS: 5000, OverallFeedback: true, FeedbackTimeoutMS: 1000},
	}
	for _, opt := range opts {
		opt(&deps, &options)
	}

	svc, err := New(deps, options)
	require.NoError(t, err)
	svc.clock = h.clock
	h.svc = svc
	return h
}

func (h *harness) clock() time.Time {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) waitStatus(t *testing.T, id string, want session.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		view, err := h.svc.Status(context.Background(), id)
		return err == nil && view.Status == want
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s", want)
}

func (h *harness) waitAnalysis(t *testing.T, id string, index int, want session.AnalysisStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, err := h.store.Get(id)
		if err != nil {
			return false
		}
		a, ok := sess.Answers[index]
		return ok && a.AnalysisStatus == want
	}, 5*time.Second, 5*time.Millisecond, "analysis %d never reached %s", index, want)
}

// speechWAV is half a second of 44.1 kHz stereo audio.
func speechWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]int, 22050*2)
	for i := range samples {
		samples[i] = (i % 200) * 50
	}
	data, err := audio.WAVBytes(audio.PCM{Samples: samples, SampleRate: 44100, Channels: 2})
	require.NoError(t, err)
	return data
}

func fileNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func countPrefix(names []string, prefix string) int {
	n := 0
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			n++
		}
	}
	return n
}
