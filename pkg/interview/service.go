// Package interview defines the contract of the remote Interview Service: the
// backend that generates questions, feedback and narration audio for one
// candidate session and keeps the authoritative strike count.
//
// The proctoring core depends only on the [Service] interface. The bundled
// HTTP/JSON implementation lives in pkg/interview/httpclient; a scripted test
// double lives in pkg/interview/mock.
package interview

import (
	"context"
	"errors"
)

// Sentinel errors returned (possibly wrapped) by [Service] implementations.
// Callers match them with [errors.Is].
var (
	// ErrSessionNotFound means the session ID is unknown to the service. The
	// session is unrecoverable.
	ErrSessionNotFound = errors.New("interview: session not found")

	// ErrSessionFinished means the session has already ended, either by
	// completion or by proctoring termination.
	ErrSessionFinished = errors.New("interview: session already finished")

	// ErrUnavailable means the service could not be reached or failed
	// without a session-specific verdict.
	ErrUnavailable = errors.New("interview: service unavailable")
)

// Decision values carried by [AnswerResult.Decision].
const (
	DecisionContinue = "CONTINUE"
	DecisionComplete = "INTERVIEW_COMPLETE"
)

// Strike status values carried by [StrikeResult.Status].
const (
	StrikeWarning    = "warning"
	StrikeTerminated = "terminated"
)

// StartRequest opens a new session.
type StartRequest struct {
	JobDescription string `json:"jd"`
	Experience     string `json:"experience"`
	QuestionCount  int    `json:"question_count"`
}

// StartResult is the first step of a new session.
type StartResult struct {
	SessionID string `json:"session_id"`
	Intro     string `json:"intro"`
	Question  string `json:"question"`
	// Audio is an optional base64 narration asset for intro + question.
	Audio string `json:"audio,omitempty"`
}

// AnswerRequest submits the candidate's answer to the current question.
type AnswerRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// AnswerResult is the service's reaction to an answer.
type AnswerResult struct {
	Feedback     string `json:"feedback"`
	NextQuestion string `json:"next_question,omitempty"`
	Decision     string `json:"decision"`
	Audio        string `json:"audio,omitempty"`
}

// Complete reports whether the interview ended with this answer.
func (r AnswerResult) Complete() bool { return r.Decision == DecisionComplete }

// StrikeRequest registers one proctoring violation.
type StrikeRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// StrikeResult is the server-confirmed strike state.
type StrikeResult struct {
	Strikes int    `json:"strikes"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Terminated reports whether the service ended the session.
func (r StrikeResult) Terminated() bool { return r.Status == StrikeTerminated }

// ReportRequest fetches the final evaluation of a session.
type ReportRequest struct {
	SessionID string `json:"session_id"`
}

// ReportResult carries the opaque report text.
type ReportResult struct {
	Report string `json:"report"`
}

// Service is the remote Interview Service.
//
// All methods are called from worker goroutines and must be safe for
// concurrent use. They must honour ctx cancellation.
type Service interface {
	// Start opens a session. Fails with [ErrUnavailable] when unreachable.
	Start(ctx context.Context, req StartRequest) (StartResult, error)

	// SubmitAnswer submits an answer. Fails with [ErrSessionNotFound] or
	// [ErrSessionFinished] for terminal sessions.
	SubmitAnswer(ctx context.Context, req AnswerRequest) (AnswerResult, error)

	// ReportStrike registers a violation and returns the confirmed count.
	ReportStrike(ctx context.Context, req StrikeRequest) (StrikeResult, error)

	// FetchReport returns the session's final report.
	FetchReport(ctx context.Context, req ReportRequest) (ReportResult, error)
}
