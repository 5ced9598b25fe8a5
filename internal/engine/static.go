package engine

import (
	"context"
	"sync"

	"github.com/billscan/billscan/internal/model"
)

// Static is a deterministic in-memory engine used in tests and dry runs. It
// serves canned results keyed by profile name, falling back to a default, and
// records every request it sees.
type Static struct {
	mu        sync.Mutex
	byName    map[string]*Result
	errByName map[string]error
	fallback  *Result
	err       error
	calls     []Request
}

// NewStatic creates a Static engine with a default result.
func NewStatic(fallback *Result) *Static {
	return &Static{
		byName:    make(map[string]*Result),
		errByName: make(map[string]error),
		fallback:  fallback,
	}
}

// SetResult registers a canned result for a profile name.
func (s *Static) SetResult(profile string, res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[profile] = res
}

// FailProfile makes calls for one profile name return err.
func (s *Static) FailProfile(profile string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errByName[profile] = err
}

// Fail makes every subsequent call return err.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns a copy of the requests seen so far.
func (s *Static) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Static) Recognize(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	if err, ok := s.errByName[req.Profile.Name]; ok {
		return nil, err
	}
	if res, ok := s.byName[req.Profile.Name]; ok {
		return cloneResult(res), nil
	}
	if s.fallback != nil {
		return cloneResult(s.fallback), nil
	}
	return &Result{}, nil
}

func cloneResult(r *Result) *Result {
	tokens := make([]model.Token, len(r.Tokens))
	copy(tokens, r.Tokens)
	return &Result{Tokens: tokens, EngineConfidence: r.EngineConfidence}
}
