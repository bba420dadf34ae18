// Package prompts builds the language model requests used by the interview
// pipeline and parses their responses.
package prompts

import (
	"fmt"
	"strings"

	"github.com/loqalabs/recon/internal/session"
)

// IntroModelAnswer is the reference answer used for the self-introduction
// question, which is not generated.
const IntroModelAnswer = "A strong introduction is brief and structured: state your current role or " +
	"studies, highlight two or three relevant experiences or skills with a concrete result, and " +
	"close by explaining why this opportunity interests you and how it fits your goals."

// FallbackModelAnswer is stored when model answer generation fails.
const FallbackModelAnswer = "A model answer could not be generated for this question. Focus on a clear " +
	"structure: state your approach, give a concrete example, and summarise the outcome."

// FallbackFeedback is used when the overall feedback call fails.
const FallbackFeedback = "Thank you for completing this practice session. Review the model answers " +
	"alongside your own, focus on structuring each response clearly, and keep practising to build " +
	"confidence."

const numberedSuffix = "Please provide only the questions, each on a new line, starting with a number and a period (e.g., '1. ')."

// QuestionSet returns the prompt requesting cfg.NumQuestions questions in the
// mode selected by cfg.
func QuestionSet(cfg session.Config) string {
	switch cfg.Mode() {
	case session.ModeSkills:
		return fmt.Sprintf("Generate %d interview questions about the following skills: %s for a %s level candidate. %s",
			cfg.NumQuestions, strings.Join(cfg.Skills, ", "), cfg.Level, numberedSuffix)
	case session.ModeCompany:
		return fmt.Sprintf("Generate %d interview questions for a %s level %s candidate interviewing at %s. "+
			"The questions should reflect the company's culture and typical interview style. %s",
			cfg.NumQuestions, cfg.Level, cfg.Role, cfg.Company, numberedSuffix)
	default:
		return fmt.Sprintf("Generate %d interview questions about %s for a %s level candidate. %s",
			cfg.NumQuestions, cfg.Topic, cfg.Level, numberedSuffix)
	}
}

// ModelAnswer requests a reference answer for one question.
func ModelAnswer(question, level string) string {
	return fmt.Sprintf("Provide a concise, expert-level model answer for the interview question: '%s' for a %s candidate.", question, level)
}

// AnalysisSystem instructs the model to reply with the scoring object only.
const AnalysisSystem = "You are an interview coach. Reply with a single JSON object and nothing else."

// Analysis requests structured scoring of a transcript against a model answer.
func Analysis(question, modelAnswer, transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		transcript = "(no speech was detected)"
	}
	return fmt.Sprintf(`Evaluate the candidate's answer to an interview question.

Question: %s

Model answer: %s

Candidate answer (transcribed): %s

Return a JSON object with exactly these keys:
  "relevance": integer 0-100, how well the answer addresses the question
  "clarity": integer 0-100, how clear and well structured the answer is
  "confidence": integer 0-100, how confident and assured the answer sounds
  "feedback": one or two sentences of constructive feedback
  "suggestion": one concrete suggestion for improvement`, question, modelAnswer, transcript)
}

// OverallFeedback requests a short summary of the whole session.
func OverallFeedback(cfg session.Config, answered, total int) string {
	subject := cfg.Topic
	switch cfg.Mode() {
	case session.ModeSkills:
		subject = strings.Join(cfg.Skills, ", ")
	case session.ModeCompany:
		subject = fmt.Sprintf("the %s role at %s", cfg.Role, cfg.Company)
	}
	return fmt.Sprintf("Generate overall feedback for an interview practice session on %s. The candidate attempted %d out of %d questions. "+
		"Provide constructive, encouraging feedback and suggest areas for improvement.", subject, answered, total)
}
