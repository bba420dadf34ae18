package interview

import (
	"context"
	"log/slog"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/montanaflynn/stats"

	"github.com/loqalabs/recon/internal/llm"
	"github.com/loqalabs/recon/internal/prompts"
	"github.com/loqalabs/recon/internal/protocol"
	"github.com/loqalabs/recon/internal/session"
)

const (
	notAnsweredTranscript = "Not answered"
	analysisNotAnswered   = "not_answered"
)

// ReportItem is one question of the report with the candidate's answer.
type ReportItem struct {
	Index           int               `json:"index"`
	Question        string            `json:"question"`
	ModelAnswer     string            `json:"model_answer"`
	ModelAnswerHTML string            `json:"model_answer_html"`
	AudioURL        *string           `json:"audio_url"`
	Answered        bool              `json:"answered"`
	Transcript      string            `json:"transcript"`
	AnalysisStatus  string            `json:"analysis_status"`
	Analysis        *session.Analysis `json:"analysis,omitempty"`
	AnalysisError   string            `json:"analysis_error,omitempty"`
}

// Scores are means over completed analyses, rounded to one decimal.
type Scores struct {
	Relevance  float64 `json:"relevance"`
	Clarity    float64 `json:"clarity"`
	Confidence float64 `json:"confidence"`
	Overall    float64 `json:"overall"`
	Scored     int     `json:"scored"`
}

// Report is the compiled end-of-interview summary.
type Report struct {
	SessionID       string         `json:"session_id"`
	Status          session.Status `json:"status"`
	Config          session.Config `json:"config"`
	Items           []ReportItem   `json:"items"`
	Aggregate       Scores         `json:"aggregate"`
	Answered        int            `json:"answered"`
	TotalQuestions  int            `json:"total_questions"`
	Completion      float64        `json:"completion"`
	PendingAnalyses int            `json:"pending_analyses"`
	OverallFeedback string         `json:"overall_feedback"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Report compiles the session report. With wait set it first joins pending
// analyses, bounded by the configured wait timeout; whatever is unresolved
// after that is reported as pending.
func (s *Service) Report(ctx context.Context, id string, wait bool) (Report, error) {
	sess, err := s.awaitAnalyses(ctx, id, wait)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Config:          sess.Config,
		TotalQuestions:  sess.TotalQuestions,
		PendingAnalyses: sess.PendingAnalyses(),
		GeneratedAt:     s.clock().UTC(),
	}

	questions := make([]session.Question, 0, len(sess.Questions)+1)
	if sess.IntroQuestion != nil {
		questions = append(questions, *sess.IntroQuestion)
	}
	questions = append(questions, sess.Questions...)

	var relevance, clarity, confidence stats.Float64Data
	for _, q := range questions {
		item := ReportItem{
			Index:           q.Index,
			Question:        q.Text,
			ModelAnswer:     q.ModelAnswer,
			ModelAnswerHTML: renderMarkdown(q.ModelAnswer),
			AudioURL:        q.AudioRef,
			Transcript:      notAnsweredTranscript,
			AnalysisStatus:  analysisNotAnswered,
		}
		if a, ok := sess.Answers[q.Index]; ok {
			item.Answered = true
			rep.Answered++
			if a.Transcript != nil {
				item.Transcript = *a.Transcript
			}
			item.AnalysisStatus = string(a.AnalysisStatus)
			item.Analysis = a.Analysis
			item.AnalysisError = a.AnalysisError
			if a.AnalysisStatus == session.AnalysisComplete && a.Analysis != nil {
				relevance = append(relevance, float64(a.Analysis.Relevance))
				clarity = append(clarity, float64(a.Analysis.Clarity))
				confidence = append(confidence, float64(a.Analysis.Confidence))
			}
		}
		rep.Items = append(rep.Items, item)
	}

	rep.Aggregate = aggregate(relevance, clarity, confidence)
	if rep.TotalQuestions > 0 {
		rep.Completion = round1(min(100, float64(rep.Answered)/float64(rep.TotalQuestions)*100))
	}
	rep.OverallFeedback = s.overallFeedback(ctx, sess, rep.Answered)

	s.count(ctx, s.metrics.reports, "compiled")
	s.publish(ctx, protocol.SessionEvent{SessionID: id, Type: protocol.EventReportCompiled, Status: string(sess.Status)})
	return rep, nil
}

// awaitAnalyses returns a snapshot of the session, after waiting for pending
// analyses to settle when wait is set.
func (s *Service) awaitAnalyses(ctx context.Context, id string, wait bool) (session.Session, error) {
	sess, changed, err := s.store.Watch(id)
	if err != nil || !wait || sess.PendingAnalyses() == 0 {
		return sess, err
	}

	timeout := time.Duration(s.opts.Report.WaitTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for sess.PendingAnalyses() > 0 {
		select {
		case <-changed:
			sess, changed, err = s.store.Watch(id)
			if err != nil {
				return session.Session{}, err
			}
		case <-timer.C:
			s.logger.Warn("report compiled with pending analyses",
				slog.String("session_id", id),
				slog.Int("pending", sess.PendingAnalyses()))
			return sess, nil
		case <-ctx.Done():
			return session.Session{}, ctx.Err()
		}
	}
	return sess, nil
}

// overallFeedback asks the language model for a session summary, falling
// back to a fixed message. It never fails the report.
func (s *Service) overallFeedback(ctx context.Context, sess session.Session, answered int) string {
	if !s.opts.Report.OverallFeedback {
		return prompts.FallbackFeedback
	}
	timeout := time.Duration(s.opts.Report.FeedbackTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := llm.Complete(fctx, s.gen, s.llmRequest(sess.ID, llm.PurposeFeedback, prompts.OverallFeedback(sess.Config, answered, sess.TotalQuestions)))
	if err != nil {
		s.logger.Warn("overall feedback unavailable", slog.String("session_id", sess.ID), slogError(err))
		return prompts.FallbackFeedback
	}
	return text
}

func aggregate(relevance, clarity, confidence stats.Float64Data) Scores {
	if len(relevance) == 0 {
		return Scores{}
	}
	r, _ := stats.Mean(relevance)
	c, _ := stats.Mean(clarity)
	f, _ := stats.Mean(confidence)
	overall, _ := stats.Mean(stats.Float64Data{r, c, f})
	return Scores{
		Relevance:  round1(r),
		Clarity:    round1(c),
		Confidence: round1(f),
		Overall:    round1(overall),
		Scored:     len(relevance),
	}
}

func round1(v float64) float64 {
	out, err := stats.Round(v, 1)
	if err != nil {
		return 0
	}
	return out
}

// renderMarkdown converts model output to HTML. Raw HTML in the source is
// dropped.
func renderMarkdown(md string) string {
	if md == "" {
		return ""
	}
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML})
	return string(markdown.ToHTML([]byte(md), p, r))
}
