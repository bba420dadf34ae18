// Package protocol defines the interview lifecycle events exchanged on the
// bus and recorded in the session journal.
package protocol

import (
	"strings"
	"time"
)

// EventType names a lifecycle transition or pipeline milestone.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventIntroReady       EventType = "intro.ready"
	EventQuestionReady    EventType = "question.ready"
	EventQuestionsReady   EventType = "questions.ready"
	EventSessionCancelled EventType = "session.cancelled"
	EventSessionError     EventType = "session.error"
	EventSessionExpired   EventType = "session.expired"
	EventAnswerReceived   EventType = "answer.received"
	EventAnalysisComplete EventType = "analysis.complete"
	EventAnalysisFailed   EventType = "analysis.failed"
	EventReportCompiled   EventType = "report.compiled"
)

// SessionEvent is published for every state change of an interview session.
type SessionEvent struct {
	SessionID     string    `json:"session_id"`
	Type          EventType `json:"type"`
	Status        string    `json:"status,omitempty"`
	QuestionIndex *int      `json:"question_index,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

const (
	SubjectSessionPrefix = "interview.session"
	// SubjectSessionAll matches every session event.
	SubjectSessionAll = SubjectSessionPrefix + ".>"
	StreamSessions    = "INTERVIEW_SESSIONS"
)

// Subject returns the subject an event is published on:
// interview.session.<session_id>.<type>.
func (e SessionEvent) Subject() string {
	return SubjectSessionPrefix + "." + e.SessionID + "." + string(e.Type)
}

// ParseSubject splits an event subject into session ID and event type.
func ParseSubject(subject string) (sessionID string, eventType EventType, ok bool) {
	rest, found := strings.CutPrefix(subject, SubjectSessionPrefix+".")
	if !found {
		return "", "", false
	}
	id, typ, found := strings.Cut(rest, ".")
	if !found || id == "" || typ == "" {
		return "", "", false
	}
	return id, EventType(typ), true
}

// Index is a convenience for building QuestionIndex.
func Index(i int) *int { return &i }
