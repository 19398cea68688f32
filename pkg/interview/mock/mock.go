// Package mock provides a scripted [interview.Service] for tests.
//
// Responses are consumed from per-operation queues in order; when a queue is
// empty the corresponding default field is returned. Every call is recorded.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/proctora/pkg/interview"
)

// StartReply is one scripted Start response.
type StartReply struct {
	Result interview.StartResult
	Err    error
}

// AnswerReply is one scripted SubmitAnswer response.
type AnswerReply struct {
	Result interview.AnswerResult
	Err    error
}

// StrikeReply is one scripted ReportStrike response.
type StrikeReply struct {
	Result interview.StrikeResult
	Err    error
}

// Service is a mock implementation of [interview.Service].
type Service struct {
	mu sync.Mutex

	// Scripted replies, consumed front to back.
	StartReplies  []StartReply
	AnswerReplies []AnswerReply
	StrikeReplies []StrikeReply

	// Defaults used once the corresponding queue is empty.
	StartResult  interview.StartResult
	StartErr     error
	AnswerResult interview.AnswerResult
	AnswerErr    error
	StrikeResult interview.StrikeResult
	StrikeErr    error
	ReportResult interview.ReportResult
	ReportErr    error

	// Recorded requests.
	StartCalls  []interview.StartRequest
	AnswerCalls []interview.AnswerRequest
	StrikeCalls []interview.StrikeRequest
	ReportCalls []interview.ReportRequest
}

// Start implements [interview.Service].
func (s *Service) Start(_ context.Context, req interview.StartRequest) (interview.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls = append(s.StartCalls, req)
	if len(s.StartReplies) > 0 {
		r := s.StartReplies[0]
		s.StartReplies = s.StartReplies[1:]
		return r.Result, r.Err
	}
	return s.StartResult, s.StartErr
}

// SubmitAnswer implements [interview.Service].
func (s *Service) SubmitAnswer(_ context.Context, req interview.AnswerRequest) (interview.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AnswerCalls = append(s.AnswerCalls, req)
	if len(s.AnswerReplies) > 0 {
		r := s.AnswerReplies[0]
		s.AnswerReplies = s.AnswerReplies[1:]
		return r.Result, r.Err
	}
	return s.AnswerResult, s.AnswerErr
}

// ReportStrike implements [interview.Service].
func (s *Service) ReportStrike(_ context.Context, req interview.StrikeRequest) (interview.StrikeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StrikeCalls = append(s.StrikeCalls, req)
	if len(s.StrikeReplies) > 0 {
		r := s.StrikeReplies[0]
		s.StrikeReplies = s.StrikeReplies[1:]
		return r.Result, r.Err
	}
	return s.StrikeResult, s.StrikeErr
}

// FetchReport implements [interview.Service].
func (s *Service) FetchReport(_ context.Context, req interview.ReportRequest) (interview.ReportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReportCalls = append(s.ReportCalls, req)
	return s.ReportResult, s.ReportErr
}

// CallCounts returns the number of calls per operation.
func (s *Service) CallCounts() (start, answer, strike, report int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.StartCalls), len(s.AnswerCalls), len(s.StrikeCalls), len(s.ReportCalls)
}

// Compile-time interface assertion.
var _ interview.Service = (*Service)(nil)
