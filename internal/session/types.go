package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/recon/internal/apperr"
)

// Status is the preparation state of a session.
type Status string

const (
	StatusInitializing      Status = "initializing"
	StatusIntroReady        Status = "intro_ready"
	StatusAllQuestionsReady Status = "all_questions_ready"
	StatusCancelled         Status = "cancelled"
	StatusError             Status = "error"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusAllQuestionsReady, StatusCancelled, StatusError:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusInitializing:
		return 0
	case StatusIntroReady:
		return 1
	case StatusAllQuestionsReady:
		return 2
	}
	return -1
}

// ErrIllegalTransition is returned when a status change would move a session
// backwards or out of a terminal state.
var ErrIllegalTransition = errors.New("illegal status transition")

type AnalysisStatus string

const (
	AnalysisPending  AnalysisStatus = "pending"
	AnalysisComplete AnalysisStatus = "complete"
	AnalysisFailed   AnalysisStatus = "failed"
)

// Mode selects how questions are requested from the language model.
type Mode string

const (
	ModeSkills  Mode = "skills"
	ModeCompany Mode = "company"
	ModeTopic   Mode = "topic"
)

const (
	DefaultNumQuestions = 5
	MaxNumQuestions     = 20
	DefaultLevel        = "intermediate"
	DefaultTopic        = "general knowledge"
)

// Config holds the request parameters a session was prepared with.
type Config struct {
	NumQuestions int      `json:"num_questions"`
	Level        string   `json:"level,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Company      string   `json:"company,omitempty"`
	Role         string   `json:"role,omitempty"`
	Topic        string   `json:"topic,omitempty"`
}

// UnmarshalJSON accepts num_questions as either a number or a numeric string,
// since browser forms commonly submit the latter.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	var raw struct {
		plain
		NumQuestions json.RawMessage `json:"num_questions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Config(raw.plain)
	c.NumQuestions = 0
	text := strings.Trim(strings.TrimSpace(string(raw.NumQuestions)), `"`)
	if text == "" || text == "null" {
		return nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("num_questions must be an integer, got %s", raw.NumQuestions)
	}
	c.NumQuestions = n
	return nil
}

// Mode reports which generation mode the config keys select.
func (c Config) Mode() Mode {
	if len(c.Skills) > 0 {
		return ModeSkills
	}
	if c.Company != "" {
		return ModeCompany
	}
	return ModeTopic
}

// Normalize applies defaults and validates the config.
func (c Config) Normalize() (Config, error) {
	out := c
	out.Level = strings.TrimSpace(out.Level)
	out.Company = strings.TrimSpace(out.Company)
	out.Role = strings.TrimSpace(out.Role)
	out.Topic = strings.TrimSpace(out.Topic)
	out.Skills = nil
	for _, s := range c.Skills {
		if s = strings.TrimSpace(s); s != "" {
			out.Skills = append(out.Skills, s)
		}
	}
	if out.NumQuestions == 0 {
		out.NumQuestions = DefaultNumQuestions
	}
	if out.NumQuestions < 1 || out.NumQuestions > MaxNumQuestions {
		return Config{}, apperr.Validation(fmt.Sprintf("num_questions must be between 1 and %d", MaxNumQuestions))
	}
	if out.Level == "" {
		out.Level = DefaultLevel
	}
	if out.Mode() == ModeCompany && out.Role == "" {
		return Config{}, apperr.Validation("role is required when company is set")
	}
	if out.Mode() == ModeTopic && out.Topic == "" {
		out.Topic = DefaultTopic
	}
	return out, nil
}

// Question is one interview prompt. Index 0 is the introduction.
type Question struct {
	Index       int     `json:"index"`
	Text        string  `json:"text"`
	ModelAnswer string  `json:"answer"`
	AudioRef    *string `json:"audio_url"`
}

// Analysis is the structured scoring of one answer.
type Analysis struct {
	Relevance  int    `json:"relevance"`
	Clarity    int    `json:"clarity"`
	Confidence int    `json:"confidence"`
	Feedback   string `json:"feedback"`
	Suggestion string `json:"suggestion"`
}

// UserAnswer is a submitted spoken answer and its analysis state.
type UserAnswer struct {
	Index          int            `json:"question_index"`
	AudioPath      string         `json:"audio_path"`
	Transcript     *string        `json:"transcript"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	Analysis       *Analysis      `json:"analysis,omitempty"`
	AnalysisError  string         `json:"analysis_error,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	// Seq identifies the submission so a late analysis of an overwritten
	// answer can be discarded.
	Seq uint64 `json:"-"`
}

// Session is one practice-interview instance.
type Session struct {
	ID             string
	Status         Status
	Config         Config
	CreatedAt      time.Time
	IntroQuestion  *Question
	IntroAudioRef  string
	Questions      []Question
	Answers        map[int]*UserAnswer
	TotalQuestions int
	Error          string
}

// Transition moves the session to status to, enforcing the forward-only
// ordering. Cancelled and error are reachable from any non-terminal state.
func (s *Session) Transition(to Status) error {
	if s.Status == to {
		return nil
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, to)
	}
	switch to {
	case StatusCancelled, StatusError:
		s.Status = to
		return nil
	}
	if to.rank() <= s.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// Fail moves the session to error and records msg. It is a no-op on a
// terminal session.
func (s *Session) Fail(msg string) bool {
	if err := s.Transition(StatusError); err != nil {
		return false
	}
	s.Error = msg
	return true
}

// PendingAnalyses counts answers whose analysis has not resolved.
func (s *Session) PendingAnalyses() int {
	n := 0
	for _, a := range s.Answers {
		if a.AnalysisStatus == AnalysisPending {
			n++
		}
	}
	return n
}

// Question returns the question at index, where 0 is the introduction.
func (s *Session) Question(index int) (Question, bool) {
	if index == 0 {
		if s.IntroQuestion == nil {
			return Question{}, false
		}
		return *s.IntroQuestion, true
	}
	if index < 1 || index > len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[index-1], true
}

func (s *Session) clone() Session {
	out := *s
	out.Config.Skills = append([]string(nil), s.Config.Skills...)
	if s.IntroQuestion != nil {
		q := cloneQuestion(*s.IntroQuestion)
		out.IntroQuestion = &q
	}
	out.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		out.Questions[i] = cloneQuestion(q)
	}
	out.Answers = make(map[int]*UserAnswer, len(s.Answers))
	for k, a := range s.Answers {
		cp := *a
		if a.Transcript != nil {
			t := *a.Transcript
			cp.Transcript = &t
		}
		if a.Analysis != nil {
			an := *a.Analysis
			cp.Analysis = &an
		}
		out.Answers[k] = &cp
	}
	return out
}

func cloneQuestion(q Question) Question {
	if q.AudioRef != nil {
		ref := *q.AudioRef
		q.AudioRef = &ref
	}
	return q
}
