package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/recon/internal/apperr"
	"github.com/loqalabs/recon/internal/llm"
	"github.com/loqalabs/recon/internal/prompts"
	"github.com/loqalabs/recon/internal/protocol"
	"github.com/loqalabs/recon/internal/session"
)

const defaultAnswerExt = ".webm"

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// SubmitResult is returned once an answer has been stored and transcribed.
type SubmitResult struct {
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
}

// SubmitAnswer stores a spoken answer, transcribes it synchronously and
// schedules its analysis. A resubmission for the same index replaces the
// previous answer.
func (s *Service) SubmitAnswer(ctx context.Context, id string, index int, r io.Reader, filename string) (SubmitResult, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return SubmitResult{}, err
	}
	if index < 0 || index >= sess.TotalQuestions {
		return SubmitResult{}, apperr.NotFound("question")
	}

	ctx, span := tracer.Start(ctx, "interview.submit_answer", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Int("question.index", index),
	))
	defer span.End()

	path, err := s.saveAnswer(id, index, r, filename)
	if err != nil {
		s.count(ctx, s.metrics.answers, "rejected")
		return SubmitResult{}, err
	}

	pcm, err := s.converter.ToPCM(ctx, path)
	if err != nil {
		s.count(ctx, s.metrics.answers, "unprocessable")
		span.SetStatus(codes.Error, err.Error())
		if apperr.Code(err) == apperr.CodeInternal {
			err = apperr.Processing("convert recording", err)
		}
		return SubmitResult{}, err
	}

	recCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	res, err := s.recognizer.Transcribe(recCtx, pcm)
	cancel()
	if err != nil {
		s.count(ctx, s.metrics.answers, "transcription_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SubmitResult{}, apperr.Transcription("speech recognition failed", err)
	}
	transcript := strings.TrimSpace(res.Text)

	seq := s.seq.Add(1)
	err = s.store.Mutate(id, func(sess *session.Session) error {
		sess.Answers[index] = &session.UserAnswer{
			Index:          index,
			AudioPath:      path,
			Transcript:     &transcript,
			AnalysisStatus: session.AnalysisPending,
			SubmittedAt:    s.clock().UTC(),
			Seq:            seq,
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	s.count(ctx, s.metrics.answers, "received")
	s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventAnswerReceived, QuestionIndex: protocol.Index(index)})

	if err := s.fast.Submit("analysis", func(ctx context.Context) { s.analyze(ctx, id, index, seq) }); err != nil {
		s.resolveAnalysis(ctx, id, index, seq, nil, fmt.Sprintf("analysis not scheduled: %v", err))
	}
	return SubmitResult{Status: "received", Transcript: transcript}, nil
}

func (s *Service) saveAnswer(id string, index int, r io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExt.MatchString(ext) {
		ext = defaultAnswerExt
	}
	dir := s.opts.Storage.AnswersDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create answers dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("answer_%s_q_%d%s", id, index, ext))

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".answer_%s_q_%d_*", id, index))
	if err != nil {
		return "", fmt.Errorf("create answer file: %w", err)
	}
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil || n == 0 {
		os.Remove(tmp.Name())
		switch {
		case copyErr != nil:
			return "", apperr.Validation(fmt.Sprintf("read audio upload: %v", copyErr))
		case closeErr != nil:
			return "", fmt.Errorf("write answer file: %w", closeErr)
		default:
			return "", apperr.Validation("audio payload is empty")
		}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store answer file: %w", err)
	}
	return path, nil
}

// analyze scores one answer. seq identifies the submission being analysed.
func (s *Service) analyze(ctx context.Context, id string, index int, seq uint64) {
	start := s.clock()
	defer s.observeStage(ctx, "analysis", start)
	defer s.recoverStage(id, "analysis", func(msg string) { s.resolveAnalysis(ctx, id, index, seq, nil, msg) })

	sess, err := s.store.Get(id)
	if err != nil {
		return
	}
	answer := sess.Answers[index]
	if answer == nil || answer.Seq != seq {
		return
	}
	q, ok := sess.Question(index)
	if !ok {
		s.resolveAnalysis(ctx, id, index, seq, nil, "question is not available yet")
		return
	}
	modelAnswer := q.ModelAnswer
	if index == 0 {
		modelAnswer = prompts.IntroModelAnswer
	}
	transcript := ""
	if answer.Transcript != nil {
		transcript = *answer.Transcript
	}

	req := s.llmRequest(id, llm.PurposeAnalysis, prompts.Analysis(q.Text, modelAnswer, transcript))
	req.System = prompts.AnalysisSystem
	text, err := s.complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.resolveAnalysis(ctx, id, index, seq, nil, err.Error())
		return
	}
	analysis, err := prompts.ParseAnalysis(text)
	if err != nil {
		s.resolveAnalysis(ctx, id, index, seq, nil, fmt.Sprintf("unreadable analysis: %v", err))
		return
	}
	s.resolveAnalysis(ctx, id, index, seq, &analysis, "")
}

// resolveAnalysis settles the pending answer identified by seq with either an
// analysis or a failure message. A newer submission is left untouched.
func (s *Service) resolveAnalysis(ctx context.Context, id string, index int, seq uint64, analysis *session.Analysis, failure string) {
	err := s.store.Mutate(id, func(sess *session.Session) error {
		cur := sess.Answers[index]
		if cur == nil || cur.Seq != seq {
			return errStaleAnswer
		}
		if analysis != nil {
			cur.AnalysisStatus = session.AnalysisComplete
			cur.Analysis = analysis
			cur.AnalysisError = ""
			return nil
		}
		cur.AnalysisStatus = session.AnalysisFailed
		cur.AnalysisError = failure
		return nil
	})
	if err != nil {
		if !errors.Is(err, errStaleAnswer) && !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Error("failed to store analysis", slog.String("session_id", id), slogError(err))
		}
		return
	}
	if analysis != nil {
		s.count(ctx, s.metrics.analyses, "complete")
		s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventAnalysisComplete, QuestionIndex: protocol.Index(index)})
		return
	}
	s.count(ctx, s.metrics.analyses, "failed")
	s.logger.Warn("answer analysis failed", slog.String("session_id", id), slog.Int("index", index), slog.String("reason", failure))
	s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventAnalysisFailed, QuestionIndex: protocol.Index(index), Detail: failure})
}

var errStaleAnswer = errors.New("answer was resubmitted")
