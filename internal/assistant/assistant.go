// Package assistant is the boundary to the external AI coding assistant.
//
// The assistant is opaque: baton hands it a prompt, a capability grant, an MCP
// server set and a working directory, and receives text plus any files it
// returns. Implementations must honor ctx cancellation.
package assistant

import (
	"context"

	"github.com/hpungsan/baton/internal/registry"
	"github.com/hpungsan/baton/internal/store"
	"github.com/hpungsan/baton/internal/tools"
)

// Call is one assistant invocation.
type Call struct {
	Prompt   string
	Model    string
	MaxTurns int
	Tools    tools.Config
	MCP      registry.Resolved
	WorkDir  string
}

// Reply is what the assistant produced. Stdout and Stderr hold the raw
// process streams when there was a process.
type Reply struct {
	Text      string
	Files     []store.File
	SessionID string
	Turns     int
	Stdout    string
	Stderr    string
}

// Assistant runs calls. On failure Run may return a partial Reply alongside
// the error so that whatever was produced can still be recorded.
//
// Errors are *errors.BatonError with code ASSISTANT_AUTH, TURN_LIMIT,
// CANCELLED or ASSISTANT.
type Assistant interface {
	Run(ctx context.Context, call Call) (*Reply, error)
}

// Func adapts a function to the Assistant interface.
type Func func(ctx context.Context, call Call) (*Reply, error)

// Run calls f.
func (f Func) Run(ctx context.Context, call Call) (*Reply, error) {
	return f(ctx, call)
}
