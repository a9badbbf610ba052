// Package invoke runs one stateless assistant command and materializes its
// result as an output folder.
//
// Every invocation that gets past validation yields exactly one published
// folder, whatever the assistant does: success, failure, turn exhaustion,
// cancellation or timeout are all recorded in the folder's manifest.
package invoke

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/baton/internal/args"
	"github.com/hpungsan/baton/internal/assistant"
	"github.com/hpungsan/baton/internal/config"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/metrics"
	"github.com/hpungsan/baton/internal/registry"
	"github.com/hpungsan/baton/internal/store"
	"github.com/hpungsan/baton/internal/tools"
)

// Turn bounds accepted in a Request.
const (
	MinTurns = 1
	MaxTurns = 512
)

const (
	defaultExcerptRunes = 500
	defaultRetryBackoff = 2 * time.Second
)

// Store is the write side of the output store used by the invoker.
type Store interface {
	Create(ctx context.Context) (string, error)
	WorkDir(id string) (string, error)
	WriteFiles(ctx context.Context, id string, files []store.File) error
	Finalize(ctx context.Context, id string, m store.Manifest) (*store.Manifest, error)
	Path(id string) (string, error)
}

// Config holds invoker defaults.
type Config struct {
	DefaultModel    string
	DefaultMaxTurns int
	// Timeout is the wall-clock ceiling per invocation. 0 disables it.
	Timeout time.Duration
	// StrictArguments makes unresolved placeholders a MISSING_ARGUMENT error.
	StrictArguments bool
	// Retries re-runs the assistant on transient failures. 0 disables.
	Retries      int
	RetryBackoff time.Duration
	ExcerptRunes int
}

// ConfigFrom derives invoker settings from application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		DefaultModel:    cfg.DefaultModel,
		DefaultMaxTurns: cfg.DefaultMaxTurns,
		Timeout:         cfg.Timeout(),
		StrictArguments: cfg.StrictArguments,
		Retries:         cfg.Retries,
	}
}

// Request is one invocation. It is never persisted as-is.
type Request struct {
	Command  string
	Model    string
	MaxTurns int
	Memory   string
	// MemoryVerbatim skips argument substitution in Memory, for memory that
	// embeds rendered folder content.
	MemoryVerbatim bool
	Args           args.Map
	Tools          tools.Config
	MCP            registry.Resolved
	PreviousID     string
	// Timeout overrides Config.Timeout when positive.
	Timeout time.Duration
}

// Metadata describes how an invocation went.
type Metadata struct {
	Status          store.Status     `json:"status"`
	DurationMS      int64            `json:"duration_ms"`
	Turns           int              `json:"turns"`
	SessionID       string           `json:"session_id,omitempty"`
	Error           *store.ErrorInfo `json:"error,omitempty"`
	Model           string           `json:"model"`
	MaxTurns        int              `json:"max_turns"`
	Tools           []string         `json:"tools"`
	SkipPermissions bool             `json:"skip_permissions"`
	MCPServers      []string         `json:"mcp_servers"`
	PreviousID      string           `json:"previous_id,omitempty"`
	Files           []store.FileInfo `json:"files"`
}

// Result is what the host receives. FolderID becomes the next step's previous output.
type Result struct {
	FolderID string   `json:"folder_id"`
	Response string   `json:"response"`
	Metadata Metadata `json:"metadata"`
}

// Invoker executes requests against an assistant and a store.
type Invoker struct {
	Store     Store
	Assistant assistant.Assistant
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Config    Config

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// prepared is a validated, substituted request.
type prepared struct {
	command  string
	memory   string
	model    string
	maxTurns int
	timeout  time.Duration
}

func (inv *Invoker) prepare(req Request) (*prepared, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, errors.NewInvalidRequest("command is required")
	}

	maxTurns := req.MaxTurns
	if maxTurns == 0 {
		maxTurns = inv.Config.DefaultMaxTurns
	}
	if maxTurns < MinTurns || maxTurns > MaxTurns {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("max_turns must be between %d and %d, got %d", MinTurns, MaxTurns, maxTurns))
	}

	if req.PreviousID != "" {
		if err := store.ValidateID(req.PreviousID); err != nil {
			return nil, err
		}
	}

	policy := inv.Policy()
	command, err := args.Substitute(req.Command, req.Args, policy)
	if err != nil {
		return nil, err
	}
	memory := req.Memory
	if !req.MemoryVerbatim {
		memory, err = args.Substitute(req.Memory, req.Args, policy)
		if err != nil {
			return nil, err
		}
	}

	model := req.Model
	if model == "" {
		model = inv.Config.DefaultModel
	}
	if model == "" {
		model = "default"
	}

	timeout := inv.Config.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	return &prepared{
		command:  command,
		memory:   memory,
		model:    model,
		maxTurns: maxTurns,
		timeout:  timeout,
	}, nil
}

// Invoke runs req. Errors returned before a folder exists (validation,
// substitution, cancellation) have no side effects. After that, only a
// store failure is returned as an error; assistant failures are reported in
// the Result and recorded in the folder.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	logger := inv.logger().With(zap.String("invocation_id", uuid.NewString()))

	p, err := inv.prepare(req)
	if err != nil {
		logger.Debug("invocation rejected", zap.Error(err))
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("invoke")
	}

	start := time.Now()
	done := inv.Metrics.InvocationStarted()
	defer done()

	id, err := inv.Store.Create(ctx)
	if err != nil {
		logger.Error("folder allocation failed", zap.Error(err))
		return nil, err
	}
	logger = logger.With(zap.String("folder_id", id))

	// Finalization must happen even if ctx is cancelled from here on.
	detached := context.WithoutCancel(ctx)

	workDir, err := inv.Store.WorkDir(id)
	if err != nil {
		return nil, err
	}

	previousPath := ""
	if req.PreviousID != "" {
		if path, err := inv.Store.Path(req.PreviousID); err == nil {
			previousPath = path
		}
	}

	call := assistant.Call{
		Prompt:   BuildPrompt(p.command, p.memory, previousPath, workDir),
		Model:    p.model,
		MaxTurns: p.maxTurns,
		Tools:    req.Tools,
		MCP:      req.MCP,
		WorkDir:  workDir,
	}

	logger.Info("invocation started",
		zap.String("model", p.model),
		zap.Int("max_turns", p.maxTurns),
		zap.Strings("tools", req.Tools.Allowed),
		zap.Strings("mcp_servers", req.MCP.Names()),
		zap.String("previous_id", req.PreviousID),
	)

	reply, callErr := inv.callWithRetry(ctx, p.timeout, call, logger)
	if reply == nil {
		reply = &assistant.Reply{}
	}

	status := statusOf(callErr)
	var errInfo *store.ErrorInfo
	if callErr != nil {
		errInfo = &store.ErrorInfo{Code: string(errors.CodeOf(callErr)), Message: callErr.Error()}
	}

	response := reply.Text
	if callErr != nil && strings.TrimSpace(response) == "" {
		response = "Error: " + callErr.Error()
	}

	files := append([]store.File(nil), reply.Files...)
	raw := reply.Stdout
	if raw == "" {
		raw = reply.Text
	}
	if raw != "" {
		files = append(files, store.File{Path: store.ResponseName, Data: []byte(raw)})
	}
	if reply.Stderr != "" {
		files = append(files, store.File{Path: store.StderrName, Data: []byte(reply.Stderr)})
	}

	if err := inv.Store.WriteFiles(detached, id, files); err != nil {
		logger.Warn("writing returned files failed", zap.Error(err))
		if status == store.StatusSucceeded {
			status = store.StatusFailed
			errInfo = &store.ErrorInfo{Code: string(errors.CodeOf(err)), Message: err.Error()}
		}
	}

	duration := time.Since(start)
	toolsCopy := req.Tools
	manifest := store.Manifest{
		Status:          status,
		Command:         p.command,
		Memory:          p.memory,
		Model:           p.model,
		MaxTurns:        p.maxTurns,
		Tools:           &toolsCopy,
		MCPServers:      req.MCP.Names(),
		MCPConfig:       req.MCP.Redacted(),
		SessionID:       reply.SessionID,
		PreviousID:      req.PreviousID,
		ResponseExcerpt: excerpt(reply.Text, inv.excerptRunes()),
		Error:           errInfo,
		Turns:           reply.Turns,
		DurationMS:      duration.Milliseconds(),
	}
	if req.Args.Len() > 0 {
		a := req.Args.Clone()
		manifest.Args = &a
	}

	m, err := inv.Store.Finalize(detached, id, manifest)
	if err != nil && m == nil {
		logger.Error("folder finalize failed", zap.Error(err))
		return nil, err
	}
	if err != nil {
		// Published but not indexed; the folder is still authoritative.
		logger.Warn("folder index update failed", zap.Error(err))
	}

	inv.Metrics.ObserveInvocation(string(status), duration)
	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Duration("duration", duration),
		zap.Int("turns", reply.Turns),
		zap.Int("files", len(m.Files)),
	}
	if callErr != nil {
		logger.Warn("invocation finished", append(fields, zap.Error(callErr))...)
	} else {
		logger.Info("invocation finished", fields...)
	}

	return &Result{
		FolderID: id,
		Response: response,
		Metadata: Metadata{
			Status:          status,
			DurationMS:      m.DurationMS,
			Turns:           reply.Turns,
			SessionID:       reply.SessionID,
			Error:           errInfo,
			Model:           p.model,
			MaxTurns:        p.maxTurns,
			Tools:           req.Tools.Allowed,
			SkipPermissions: req.Tools.SkipPermissions,
			MCPServers:      req.MCP.Names(),
			PreviousID:      req.PreviousID,
			Files:           m.Files,
		},
	}, nil
}

// callWithRetry makes the assistant call under the wall-clock ceiling,
// retrying transient failures when configured.
func (inv *Invoker) callWithRetry(ctx context.Context, timeout time.Duration, call assistant.Call, logger *zap.Logger) (*assistant.Reply, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		reply *assistant.Reply
		err   error
	)
	for attempt := 0; ; attempt++ {
		reply, err = inv.Assistant.Run(callCtx, call)
		err = classify(ctx, callCtx, timeout, err)
		if err == nil || attempt >= inv.Config.Retries || !transient(callCtx, err) {
			return reply, err
		}

		backoff := inv.retryBackoff() * time.Duration(attempt+1)
		logger.Info("retrying assistant call",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		inv.Metrics.Retry()
		if sleepErr := inv.wait(callCtx, backoff); sleepErr != nil {
			return reply, classify(ctx, callCtx, timeout, errors.NewCancelled("assistant call"))
		}
	}
}

// classify normalizes assistant errors against the invocation contexts:
// a fired wall-clock ceiling is an ASSISTANT timeout, a cancelled parent is CANCELLED.
func classify(parent, callCtx context.Context, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return errors.NewCancelled("assistant call")
	}
	if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return errors.NewAssistant(fmt.Errorf("assistant call timed out after %s", timeout))
	}
	var bErr *errors.BatonError
	if !stderrors.As(err, &bErr) {
		return errors.NewAssistant(err)
	}
	return err
}

// transient reports whether a retry could plausibly succeed: a generic
// assistant failure with time left on the clock.
func transient(callCtx context.Context, err error) bool {
	return callCtx.Err() == nil && errors.CodeOf(err) == errors.ErrAssistant
}

func statusOf(err error) store.Status {
	switch {
	case err == nil:
		return store.StatusSucceeded
	case errors.Is(err, errors.ErrTurnLimit):
		return store.StatusTurnLimit
	case errors.Is(err, errors.ErrCancelled):
		return store.StatusCancelled
	default:
		return store.StatusFailed
	}
}

// Policy returns the placeholder policy in effect.
func (inv *Invoker) Policy() args.Policy {
	if inv.Config.StrictArguments {
		return args.PolicyStrict
	}
	return args.PolicyPassThrough
}

func (inv *Invoker) wait(ctx context.Context, d time.Duration) error {
	if inv.sleep != nil {
		return inv.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (inv *Invoker) logger() *zap.Logger {
	if inv.Logger == nil {
		return zap.NewNop()
	}
	return inv.Logger
}

func (inv *Invoker) retryBackoff() time.Duration {
	if inv.Config.RetryBackoff > 0 {
		return inv.Config.RetryBackoff
	}
	return defaultRetryBackoff
}

func (inv *Invoker) excerptRunes() int {
	if inv.Config.ExcerptRunes > 0 {
		return inv.Config.ExcerptRunes
	}
	return defaultExcerptRunes
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
