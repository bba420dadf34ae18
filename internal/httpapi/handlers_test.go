package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/recon/internal/apperr"
	"github.com/loqalabs/recon/internal/eventstore"
	"github.com/loqalabs/recon/internal/interview"
	"github.com/loqalabs/recon/internal/protocol"
	"github.com/loqalabs/recon/internal/session"
)

type fakeInterview struct {
	prepareCfg session.Config
	prepareErr error
	question   interview.QuestionView
	submitErr  error
	submitted  struct {
		id       string
		index    int
		body     string
		filename string
	}
	reportWait bool
}

func (f *fakeInterview) Prepare(_ context.Context, cfg session.Config) (interview.PrepareResult, error) {
	f.prepareCfg = cfg
	if f.prepareErr != nil {
		return interview.PrepareResult{}, f.prepareErr
	}
	return interview.PrepareResult{SessionID: "s1", NumQuestions: cfg.NumQuestions + 1, Status: "preparing"}, nil
}

func (f *fakeInterview) Status(_ context.Context, id string) (interview.StatusView, error) {
	if id != "s1" {
		return interview.StatusView{}, apperr.NotFound("session")
	}
	return interview.StatusView{SessionID: id, Status: session.StatusIntroReady, QuestionsReady: 1, TotalQuestions: 4}, nil
}

func (f *fakeInterview) Question(_ context.Context, id string, index int) (interview.QuestionView, error) {
	if id != "s1" || index < 0 {
		return interview.QuestionView{}, apperr.NotFound("question")
	}
	return f.question, nil
}

func (f *fakeInterview) SubmitAnswer(_ context.Context, id string, index int, r io.Reader, filename string) (interview.SubmitResult, error) {
	data, _ := io.ReadAll(r)
	f.submitted.id, f.submitted.index, f.submitted.body, f.submitted.filename = id, index, string(data), filename
	if f.submitErr != nil {
		return interview.SubmitResult{}, f.submitErr
	}
	return interview.SubmitResult{Status: "received", Transcript: "I would use a join."}, nil
}

func (f *fakeInterview) Cancel(_ context.Context, id string) (session.Status, error) {
	if id != "s1" {
		return "", apperr.NotFound("session")
	}
	return session.StatusCancelled, nil
}

func (f *fakeInterview) Report(_ context.Context, id string, wait bool) (interview.Report, error) {
	f.reportWait = wait
	if id != "s1" {
		return interview.Report{}, apperr.NotFound("session")
	}
	return interview.Report{SessionID: id, TotalQuestions: 4, Aggregate: interview.Scores{Relevance: 80, Overall: 70, Scored: 1}}, nil
}

type fakeJournal struct{ events []eventstore.Event }

func (j fakeJournal) ListSessionEvents(_ context.Context, id string, limit int) ([]eventstore.Event, error) {
	if id != "s1" {
		return nil, nil
	}
	return j.events[:min(limit, len(j.events))], nil
}

func newTestRouter(t *testing.T, svc *fakeInterview, mutate ...func(*Options)) http.Handler {
	t.Helper()
	opts := Options{
		Interview:   svc,
		MaxUploadMB: 1,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewRouter(opts)
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func multipartAnswer(t *testing.T, index string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if index != "" {
		require.NoError(t, mw.WriteField("question_index", index))
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "answer.webm")
		require.NoError(t, err)
		_, err = fw.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestPrepareSession(t *testing.T) {
	svc := &fakeInterview{}
	h := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/prepare_session",
		strings.NewReader(`{"skills":["SQL"],"level":"junior","num_questions":"3"}`))
	rec, body := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, float64(4), body["num_questions"])
	assert.Equal(t, "preparing", body["status"])
	assert.Equal(t, []string{"SQL"}, svc.prepareCfg.Skills)
	assert.Equal(t, 3, svc.prepareCfg.NumQuestions)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPrepareSessionErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"malformed", `{"skills":`, nil, http.StatusBadRequest, apperr.CodeValidation},
		{"invalid count", `{"num_questions":"many"}`, nil, http.StatusBadRequest, apperr.CodeValidation},
		{"rejected", `{}`, apperr.Validation("num_questions must be between 1 and 20"), http.StatusBadRequest, apperr.CodeValidation},
		{"saturated", `{}`, apperr.Unavailable("cannot schedule session preparation", errors.New("queue full")), http.StatusServiceUnavailable, apperr.CodeUnavailable},
		{"internal", `{}`, errors.New("disk on fire"), http.StatusInternalServerError, apperr.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeInterview{prepareErr: tc.err})
			rec, body := do(t, h, httptest.NewRequest(http.MethodPost, "/prepare_session", strings.NewReader(tc.body)))
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "disk on fire")
		})
	}
}

func TestSessionStatus(t *testing.T) {
	h := newTestRouter(t, &fakeInterview{})

	rec, body := do(t, h, httptest.NewRequest(http.MethodGet, "/session_status/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "intro_ready", body["status"])
	assert.Equal(t, float64(1), body["questions_ready"])

	rec, body = do(t, h, httptest.NewRequest(http.MethodGet, "/session_status/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["status"])
	assert.Equal(t, apperr.CodeNotFound, body["code"])
}

func TestGetQuestion(t *testing.T) {
	ref := "/static/audio/session_s1_q_1.wav"
	cases := []struct {
		name   string
		view   interview.QuestionView
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "ready",
			view:   interview.QuestionView{Question: &session.Question{Index: 1, Text: "What is a join?", ModelAnswer: "A join...", AudioRef: &ref}},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "What is a join?", body["text"])
				assert.Equal(t, "A join...", body["answer"])
				assert.Equal(t, ref, body["audio_url"])
			},
		},
		{
			name:   "pending",
			view:   interview.QuestionView{Pending: interview.PendingQuestions},
			status: http.StatusAccepted,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "generating_questions", body["status"])
			},
		},
		{
			name:   "intro not ready",
			view:   interview.QuestionView{Pending: interview.PendingIntro},
			status: http.StatusAccepted,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "not_ready", body["status"])
			},
		},
		{
			name:   "end",
			view:   interview.QuestionView{EndOfInterview: true},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["end_of_interview"])
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeInterview{question: tc.view})
			rec, body := do(t, h, httptest.NewRequest(http.MethodGet, "/get_question/s1/1", nil))
			require.Equal(t, tc.status, rec.Code)
			tc.check(t, body)
		})
	}

	h := newTestRouter(t, &fakeInterview{})
	rec, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/get_question/s1/first", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitAnswer(t *testing.T) {
	svc := &fakeInterview{}
	h := newTestRouter(t, svc)

	body, contentType := multipartAnswer(t, "2", []byte("fake-audio"))
	req := httptest.NewRequest(http.MethodPost, "/interview_session/s1/submit_answer", body)
	req.Header.Set("Content-Type", contentType)
	rec, out := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "received", out["status"])
	assert.Equal(t, "I would use a join.", out["transcript"])
	assert.Equal(t, "s1", svc.submitted.id)
	assert.Equal(t, 2, svc.submitted.index)
	assert.Equal(t, "fake-audio", svc.submitted.body)
	assert.Equal(t, "answer.webm", svc.submitted.filename)
}

func TestSubmitAnswerErrors(t *testing.T) {
	cases := []struct {
		name   string
		index  string
		audio  []byte
		err    error
		status int
		code   string
	}{
		{"missing index", "", []byte("x"), nil, http.StatusBadRequest, apperr.CodeValidation},
		{"missing audio", "1", nil, nil, http.StatusBadRequest, apperr.CodeValidation},
		{"unknown question", "9", []byte("x"), apperr.NotFound("question"), http.StatusNotFound, apperr.CodeNotFound},
		{"unreadable audio", "1", []byte("x"), apperr.Processing("convert recording", errors.New("bad header")), http.StatusUnprocessableEntity, apperr.CodeProcessing},
		{"recognizer down", "1", []byte("x"), apperr.Transcription("speech recognition failed", errors.New("canceled")), http.StatusBadGateway, apperr.CodeTranscription},
		{"too large", "1", bytes.Repeat([]byte("a"), 2<<20), nil, http.StatusRequestEntityTooLarge, apperr.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeInterview{submitErr: tc.err})
			body, contentType := multipartAnswer(t, tc.index, tc.audio)
			req := httptest.NewRequest(http.MethodPost, "/interview_session/s1/submit_answer", body)
			req.Header.Set("Content-Type", contentType)
			rec, out := do(t, h, req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, out["code"])
		})
	}

	h := newTestRouter(t, &fakeInterview{})
	req := httptest.NewRequest(http.MethodPost, "/interview_session/s1/submit_answer", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec, out := do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeValidation, out["code"])
}

func TestCancelSession(t *testing.T) {
	h := newTestRouter(t, &fakeInterview{})

	rec, body := do(t, h, httptest.NewRequest(http.MethodPost, "/cancel_session/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])

	rec, _ = do(t, h, httptest.NewRequest(http.MethodPost, "/cancel_session/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReport(t *testing.T) {
	svc := &fakeInterview{}
	h := newTestRouter(t, svc)

	rec, body := do(t, h, httptest.NewRequest(http.MethodGet, "/report/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.reportWait)
	assert.Equal(t, float64(4), body["total_questions"])
	agg := body["aggregate"].(map[string]any)
	assert.Equal(t, float64(70), agg["overall"])

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/report/s1?wait=false", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.reportWait)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/report/s1?wait=sometimes", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/report/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEvents(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	journal := fakeJournal{events: []eventstore.Event{
		{SessionID: "s1", Type: string(protocol.EventSessionCreated), Status: "initializing", CreatedAt: at},
		{SessionID: "s1", Type: string(protocol.EventQuestionReady), QuestionIndex: protocol.Index(1), CreatedAt: at.Add(time.Second)},
	}}

	h := newTestRouter(t, &fakeInterview{}, func(o *Options) { o.Journal = journal })
	rec, body := do(t, h, httptest.NewRequest(http.MethodGet, "/session_events/s1?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	first := events[0].(map[string]any)
	assert.Equal(t, "session.created", first["type"])
	assert.Equal(t, "2025-06-01T10:00:00Z", first["at"])

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/session_events/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/session_events/s1?limit=-2", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	plain := newTestRouter(t, &fakeInterview{})
	rec, _ = do(t, plain, httptest.NewRequest(http.MethodGet, "/session_events/s1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	ready := false
	h := newTestRouter(t, &fakeInterview{}, func(o *Options) {
		o.Ready = func() bool { return ready }
		o.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("recon_sessions_total 1\n"))
		})
	})

	rec, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	ready = true
	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recon_sessions_total")
}

func TestStaticAudio(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(static, "audio"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(static, "audio", "session_s1_q_1.wav"), []byte("RIFF"), 0o644))

	h := newTestRouter(t, &fakeInterview{}, func(o *Options) {
		o.StaticDir = static
		o.URLPrefix = "/static"
	})

	rec, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/static/audio/session_s1_q_1.wav", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RIFF", rec.Body.String())

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/static/audio/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoveryAndCORS(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec, body := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])

	router := newTestRouter(t, &fakeInterview{})
	rec, _ = do(t, router, httptest.NewRequest(http.MethodOptions, "/prepare_session", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec, _ = do(t, router, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
}
