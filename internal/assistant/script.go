package assistant

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

// Script is a deterministic Assistant used by tests and dry runs.
// It returns a fixed reply, optionally after a delay that honors ctx.
type Script struct {
	Text      string
	Files     map[string]string
	SessionID string
	Turns     int
	// Echo replies with the prompt instead of Text.
	Echo  bool
	Err   error
	Delay time.Duration

	mu    sync.Mutex
	calls []Call
}

// Run records call and returns the scripted reply.
func (s *Script) Run(ctx context.Context, call Call) (*Reply, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return &Reply{}, errors.NewCancelled("assistant call")
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return &Reply{}, errors.NewCancelled("assistant call")
	}

	reply := &Reply{
		Text:      s.Text,
		SessionID: s.SessionID,
		Turns:     s.Turns,
	}
	if s.Echo {
		reply.Text = call.Prompt
	}
	if reply.Turns == 0 {
		reply.Turns = 1
	}

	names := make([]string, 0, len(s.Files))
	for name := range s.Files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		reply.Files = append(reply.Files, store.File{Path: name, Data: []byte(s.Files[name])})
	}
	reply.Stdout = reply.Text

	return reply, s.Err
}

// Calls returns the calls received so far.
func (s *Script) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}
