package interview

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/recon/internal/apperr"
	"github.com/loqalabs/recon/internal/llm"
	"github.com/loqalabs/recon/internal/session"
)

func preparedSession(t *testing.T, h *harness, pool *manualPool) string {
	t.Helper()
	ctx := context.Background()
	res, err := h.svc.Prepare(ctx, sqlConfig())
	require.NoError(t, err)
	if pool != nil {
		pool.drain(ctx)
	} else {
		h.waitStatus(t, res.SessionID, session.StatusAllQuestionsReady)
	}
	return res.SessionID
}

func TestSubmitAnswerErrors(t *testing.T) {
	h := newHarness(t)
	id := preparedSession(t, h, nil)
	ctx := context.Background()

	_, err := h.svc.SubmitAnswer(ctx, id, 4, bytes.NewReader(speechWAV(t)), "a.wav")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = h.svc.SubmitAnswer(ctx, id, -1, bytes.NewReader(speechWAV(t)), "a.wav")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.svc.SubmitAnswer(ctx, id, 1, bytes.NewReader(nil), "a.wav")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.svc.SubmitAnswer(ctx, id, 1, strings.NewReader("definitely not audio"), "a.webm")
	assert.ErrorIs(t, err, apperr.ErrProcessing)

	sess, err := h.store.Get(id)
	require.NoError(t, err)
	assert.Empty(t, sess.Answers)
}

func TestSubmitAnswerTranscriptionFailure(t *testing.T) {
	h := newHarness(t, withRecognizer(failingRecognizer{}))
	id := preparedSession(t, h, nil)

	_, err := h.svc.SubmitAnswer(context.Background(), id, 1, bytes.NewReader(speechWAV(t)), "a.wav")
	require.ErrorIs(t, err, apperr.ErrTranscription)

	sess, err := h.store.Get(id)
	require.NoError(t, err)
	assert.Empty(t, sess.Answers)
}

func TestSubmitAnswerFileNames(t *testing.T) {
	h := newHarness(t)
	id := preparedSession(t, h, nil)
	ctx := context.Background()

	cases := []struct {
		index    int
		filename string
		want     string
	}{
		{0, "Recording.WAV", fmt.Sprintf("answer_%s_q_0.wav", id)},
		{1, "clip.weird-ext", fmt.Sprintf("answer_%s_q_1.webm", id)},
		{2, "", fmt.Sprintf("answer_%s_q_2.webm", id)},
	}
	for _, tc := range cases {
		_, err := h.svc.SubmitAnswer(ctx, id, tc.index, bytes.NewReader(speechWAV(t)), tc.filename)
		require.NoError(t, err, tc.filename)
		assert.FileExists(t, filepath.Join(h.storage.AnswersDir, tc.want))
	}
	for _, name := range fileNames(t, h.storage.AnswersDir) {
		assert.False(t, strings.HasPrefix(name, "."), "temporary file %s left behind", name)
	}
}

func TestResubmissionDiscardsStaleAnalysis(t *testing.T) {
	pool := &manualPool{}
	h := newHarness(t, withPool(pool))
	id := preparedSession(t, h, pool)
	ctx := context.Background()

	_, err := h.svc.SubmitAnswer(ctx, id, 1, bytes.NewReader(speechWAV(t)), "first.wav")
	require.NoError(t, err)
	first, err := h.store.Get(id)
	require.NoError(t, err)
	staleSeq := first.Answers[1].Seq

	_, err = h.svc.SubmitAnswer(ctx, id, 1, bytes.NewReader(speechWAV(t)), "second.wav")
	require.NoError(t, err)

	h.svc.resolveAnalysis(ctx, id, 1, staleSeq, &session.Analysis{Relevance: 1}, "")
	sess, err := h.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.AnalysisPending, sess.Answers[1].AnalysisStatus)
	assert.Nil(t, sess.Answers[1].Analysis)

	pool.drain(ctx)
	sess, err = h.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.AnalysisComplete, sess.Answers[1].AnalysisStatus)
	require.NotNil(t, sess.Answers[1].Analysis)
	assert.Equal(t, 80, sess.Answers[1].Analysis.Relevance)
	assert.Equal(t, 1, h.llm.callCount(llm.PurposeAnalysis))
}

func TestAnalysisFailures(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(*scriptedLLM)
		reason string
	}{
		{"gateway", func(l *scriptedLLM) { l.analysisErr = fmt.Errorf("rate limited") }, "rate limited"},
		{"unreadable", func(l *scriptedLLM) { l.analysis = "I could not score this answer." }, "unreadable analysis"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h.llm)
			id := preparedSession(t, h, nil)
			ctx := context.Background()

			_, err := h.svc.SubmitAnswer(ctx, id, 1, bytes.NewReader(speechWAV(t)), "a.wav")
			require.NoError(t, err)
			h.waitAnalysis(t, id, 1, session.AnalysisFailed)

			rep, err := h.svc.Report(ctx, id, true)
			require.NoError(t, err)
			assert.Equal(t, string(session.AnalysisFailed), rep.Items[1].AnalysisStatus)
			assert.Contains(t, rep.Items[1].AnalysisError, tc.reason)
			assert.Zero(t, rep.Aggregate.Scored)
			assert.Equal(t, 1, rep.Answered)
		})
	}
}

func TestAnalysisNotScheduled(t *testing.T) {
	pool := &manualPool{}
	h := newHarness(t, withPool(pool))
	id := preparedSession(t, h, pool)
	pool.reject = true

	res, err := h.svc.SubmitAnswer(context.Background(), id, 2, bytes.NewReader(speechWAV(t)), "a.wav")
	require.NoError(t, err)
	assert.Equal(t, "received", res.Status)

	sess, err := h.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.AnalysisFailed, sess.Answers[2].AnalysisStatus)
	assert.Contains(t, sess.Answers[2].AnalysisError, "not scheduled")
}

func TestIntroAnswerUsesIntroModelAnswer(t *testing.T) {
	pool := &manualPool{}
	h := newHarness(t, withPool(pool))
	id := preparedSession(t, h, pool)

	_, err := h.svc.SubmitAnswer(context.Background(), id, 0, bytes.NewReader(speechWAV(t)), "a.wav")
	require.NoError(t, err)
	pool.drain(context.Background())

	sess, err := h.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.AnalysisComplete, sess.Answers[0].AnalysisStatus)
}

func TestSubmitAnswerCreatesAnswersDir(t *testing.T) {
	h := newHarness(t)
	id := preparedSession(t, h, nil)
	require.NoError(t, os.RemoveAll(h.storage.AnswersDir))

	_, err := h.svc.SubmitAnswer(context.Background(), id, 1, bytes.NewReader(speechWAV(t)), "a.wav")
	require.NoError(t, err)
	assert.DirExists(t, h.storage.AnswersDir)
	h.waitAnalysis(t, id, 1, session.AnalysisComplete)
}
