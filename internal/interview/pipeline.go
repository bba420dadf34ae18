package interview

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/recon/internal/apperr"
	"github.com/loqalabs/recon/internal/llm"
	"github.com/loqalabs/recon/internal/prompts"
	"github.com/loqalabs/recon/internal/protocol"
	"github.com/loqalabs/recon/internal/session"
	"github.com/loqalabs/recon/internal/tts"
)

// PrepareResult is returned as soon as a session has been created.
type PrepareResult struct {
	SessionID    string `json:"session_id"`
	NumQuestions int    `json:"num_questions"`
	Status       string `json:"status"`
}

// Prepare validates cfg, creates a session and schedules the introduction
// stage. It never waits on a gateway.
func (s *Service) Prepare(ctx context.Context, cfg session.Config) (PrepareResult, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return PrepareResult{}, err
	}
	sess := s.store.Create(cfg)
	s.count(ctx, s.metrics.sessions, "created")
	s.publish(ctx, protocol.SessionEvent{
		SessionID: sess.ID,
		Type:      protocol.EventSessionCreated,
		Status:    string(sess.Status),
		Detail:    string(cfg.Mode()),
	})
	s.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("mode", string(cfg.Mode())),
		slog.Int("num_questions", cfg.NumQuestions))

	id := sess.ID
	if err := s.fast.Submit("intro", func(ctx context.Context) { s.prepareIntro(ctx, id) }); err != nil {
		s.fail(ctx, id, "pipeline is saturated")
		return PrepareResult{}, apperr.Unavailable("cannot schedule session preparation", err)
	}
	return PrepareResult{SessionID: id, NumQuestions: sess.TotalQuestions, Status: "preparing"}, nil
}

// prepareIntro is the latency-critical first stage. It touches only the local
// intro library.
func (s *Service) prepareIntro(ctx context.Context, id string) {
	start := s.clock()
	defer s.observeStage(ctx, "intro", start)
	defer s.recoverStage(id, "intro", func(msg string) { s.fail(ctx, id, msg) })

	sel := s.pick()
	if sel.Canonical {
		s.logger.Warn("intro pair incomplete on disk, using canonical pair", slog.String("session_id", id))
	}
	q := session.Question{Index: 0, Text: sel.PromptText, ModelAnswer: prompts.IntroModelAnswer}
	if ref := s.publicURL(sel.PromptPath); ref != "" {
		q.AudioRef = &ref
	}
	greeting := s.publicURL(sel.GreetingPath)

	err := s.store.Mutate(id, func(sess *session.Session) error {
		if sess.Status != session.StatusInitializing {
			return halted(sess.Status)
		}
		sess.IntroQuestion = &q
		sess.IntroAudioRef = greeting
		return sess.Transition(session.StatusIntroReady)
	})
	if err != nil {
		s.logStageStop(id, "intro", err)
		return
	}
	s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventIntroReady, Status: string(session.StatusIntroReady), QuestionIndex: protocol.Index(0)})

	if err := s.pool.Submit("questions", func(ctx context.Context) { s.generateQuestions(ctx, id) }); err != nil {
		s.fail(ctx, id, "pipeline is saturated")
	}
}

// generateQuestions requests the question set, then produces a model answer
// and audio for each question in order, appending each as soon as it is
// complete. It stops at the next boundary once the session is cancelled.
func (s *Service) generateQuestions(ctx context.Context, id string) {
	start := s.clock()
	defer s.observeStage(ctx, "questions", start)
	defer s.recoverStage(id, "questions", func(msg string) { s.fail(ctx, id, msg) })

	sess, err := s.store.Get(id)
	if err != nil || sess.Status != session.StatusIntroReady {
		return
	}
	cfg := sess.Config

	ctx, span := tracer.Start(ctx, "interview.generate_questions", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Int("questions.requested", cfg.NumQuestions),
	))
	defer span.End()

	text, err := s.complete(ctx, s.llmRequest(id, llm.PurposeQuestions, prompts.QuestionSet(cfg)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, id, fmt.Sprintf("question generation failed: %v", err))
		return
	}
	texts := prompts.ParseQuestions(text, cfg.NumQuestions)
	if len(texts) == 0 {
		span.SetStatus(codes.Error, "no questions parsed")
		s.fail(ctx, id, "language model returned no questions")
		return
	}
	if len(texts) < cfg.NumQuestions {
		s.logger.Warn("fewer questions than requested",
			slog.String("session_id", id),
			slog.Int("requested", cfg.NumQuestions),
			slog.Int("parsed", len(texts)))
	}

	for i, qText := range texts {
		index := i + 1
		if !s.active(id) {
			s.logger.Info("question generation stopped", slog.String("session_id", id), slog.Int("index", index))
			return
		}

		answer, err := s.complete(ctx, s.llmRequest(id, llm.PurposeModelAnswer, prompts.ModelAnswer(qText, cfg.Level)))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("model answer generation failed, using fallback",
				slog.String("session_id", id), slog.Int("index", index), slogError(err))
			answer = prompts.FallbackModelAnswer
		}

		ref, file := s.synthesizeQuestion(ctx, id, index, qText)

		err = s.store.Mutate(id, func(sess *session.Session) error {
			if sess.Status != session.StatusIntroReady {
				return halted(sess.Status)
			}
			sess.Questions = append(sess.Questions, session.Question{
				Index:       index,
				Text:        qText,
				ModelAnswer: answer,
				AudioRef:    ref,
			})
			return nil
		})
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) && file != "" {
				// Swept while rendering; nothing else will delete it.
				if rmErr := os.Remove(file); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
					s.logger.Warn("failed to delete orphaned question audio", slog.String("file", file), slogError(rmErr))
				}
			}
			s.logStageStop(id, "questions", err)
			return
		}
		s.count(ctx, s.metrics.questions, "appended")
		s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventQuestionReady, QuestionIndex: protocol.Index(index)})
	}

	err = s.store.Mutate(id, func(sess *session.Session) error {
		if sess.Status != session.StatusIntroReady {
			return halted(sess.Status)
		}
		return sess.Transition(session.StatusAllQuestionsReady)
	})
	if err != nil {
		s.logStageStop(id, "questions", err)
		return
	}
	span.SetAttributes(attribute.Int("questions.generated", len(texts)))
	s.count(ctx, s.metrics.sessions, "ready")
	s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventQuestionsReady, Status: string(session.StatusAllQuestionsReady)})
	s.logger.Info("all questions ready", slog.String("session_id", id), slog.Int("questions", len(texts)))
}

// synthesizeQuestion renders question audio and returns its URL and file
// path. The URL is nil when every backend failed.
func (s *Service) synthesizeQuestion(ctx context.Context, id string, index int, text string) (*string, string) {
	base := fmt.Sprintf("session_%s_q_%d", id, index)
	out, err := s.speech.Render(ctx, tts.SynthRequest{SessionID: id, Text: text}, s.opts.Storage.AudioDir, base)
	if err != nil {
		s.count(ctx, s.metrics.synthesis, "failed")
		s.logger.Warn("question audio unavailable",
			slog.String("session_id", id), slog.Int("index", index), slogError(err))
		return nil, ""
	}
	result := "primary"
	if out.Fallback {
		result = "fallback"
	}
	s.count(ctx, s.metrics.synthesis, result)
	file := filepath.Join(s.opts.Storage.AudioDir, out.File)
	ref := s.publicURL(file)
	if ref == "" {
		return nil, file
	}
	return &ref, file
}

// active reports whether the question stage should keep going.
func (s *Service) active(id string) bool {
	sess, err := s.store.Get(id)
	return err == nil && sess.Status == session.StatusIntroReady
}

// fail moves the session to error unless it already reached a terminal state.
func (s *Service) fail(ctx context.Context, id, msg string) {
	var failed bool
	_ = s.store.Mutate(id, func(sess *session.Session) error {
		failed = sess.Fail(msg)
		return nil
	})
	if !failed {
		return
	}
	s.count(ctx, s.metrics.sessions, "error")
	s.logger.Error("session failed", slog.String("session_id", id), slog.String("reason", msg))
	s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventSessionError, Status: string(session.StatusError), Detail: msg})
}

func (s *Service) logStageStop(id, stage string, err error) {
	if errors.Is(err, errHalted) || errors.Is(err, apperr.ErrNotFound) {
		s.logger.Info("stage stopped", slog.String("session_id", id), slog.String("stage", stage), slog.String("reason", err.Error()))
		return
	}
	s.logger.Error("stage failed", slog.String("session_id", id), slog.String("stage", stage), slogError(err))
}

// Cancel halts further preparation. It is idempotent and leaves terminal
// sessions as they are.
func (s *Service) Cancel(ctx context.Context, id string) (session.Status, error) {
	var status session.Status
	var changed bool
	err := s.store.Mutate(id, func(sess *session.Session) error {
		if !sess.Status.Terminal() {
			if err := sess.Transition(session.StatusCancelled); err != nil {
				return err
			}
			changed = true
		}
		status = sess.Status
		return nil
	})
	if err != nil {
		return "", err
	}
	if changed {
		s.count(ctx, s.metrics.sessions, "cancelled")
		s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventSessionCancelled, Status: string(status)})
		s.logger.Info("session cancelled", slog.String("session_id", id))
	}
	return status, nil
}

// StatusView is the polling read model of a session.
type StatusView struct {
	SessionID       string            `json:"session_id"`
	Status          session.Status    `json:"status"`
	Error           string            `json:"error,omitempty"`
	QuestionsReady  int               `json:"questions_ready"`
	TotalQuestions  int               `json:"total_questions"`
	IntroQuestion   *session.Question `json:"intro_question,omitempty"`
	ReconIntroAudio string            `json:"recon_intro_audio,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Status returns the current read model. questions_ready counts the
// introduction once it is prepared.
func (s *Service) Status(_ context.Context, id string) (StatusView, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{
		SessionID:      sess.ID,
		Status:         sess.Status,
		Error:          sess.Error,
		QuestionsReady: len(sess.Questions),
		TotalQuestions: sess.TotalQuestions,
		CreatedAt:      sess.CreatedAt,
	}
	if sess.IntroQuestion != nil {
		view.QuestionsReady++
		view.IntroQuestion = sess.IntroQuestion
		view.ReconIntroAudio = sess.IntroAudioRef
	}
	return view, nil
}

// Pending reasons returned by Question.
const (
	PendingIntro     = "not_ready"
	PendingQuestions = "generating_questions"
)

// QuestionView is the result of a question lookup: exactly one of Question,
// EndOfInterview or Pending is set.
type QuestionView struct {
	Question       *session.Question
	EndOfInterview bool
	Pending        string
}

// Question returns question index of session id, where 0 is the
// introduction. Repeated reads of a ready question return the same value.
func (s *Service) Question(_ context.Context, id string, index int) (QuestionView, error) {
	if index < 0 {
		return QuestionView{}, apperr.NotFound("question")
	}
	sess, err := s.store.Get(id)
	if err != nil {
		return QuestionView{}, err
	}
	if q, ok := sess.Question(index); ok {
		return QuestionView{Question: &q}, nil
	}
	if index == 0 {
		return QuestionView{Pending: PendingIntro}, nil
	}
	if sess.Status.Terminal() {
		return QuestionView{EndOfInterview: true}, nil
	}
	return QuestionView{Pending: PendingQuestions}, nil
}
