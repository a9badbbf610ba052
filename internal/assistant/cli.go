package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/baton/internal/errors"
)

// DefaultBin is the assistant executable looked up on PATH.
const DefaultBin = "claude"

// CLI runs the assistant as a child process in print mode with JSON output.
// The prompt is written to stdin and the process runs in Call.WorkDir.
type CLI struct {
	Bin       string
	ExtraArgs []string
	Env       []string
	// WaitDelay bounds how long Run waits for output pipes after the process
	// is killed on cancellation.
	WaitDelay time.Duration
	Logger    *zap.Logger
}

// result is the JSON document printed by --output-format json.
type result struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	NumTurns  int    `json:"num_turns"`
}

const subtypeMaxTurns = "error_max_turns"

// Args renders the command line for call, excluding the binary.
func (c *CLI) Args(call Call) ([]string, error) {
	args := []string{"-p", "--output-format", "json", "--max-turns", strconv.Itoa(call.MaxTurns)}
	if call.Model != "" && call.Model != "default" {
		args = append(args, "--model", call.Model)
	}
	args = append(args, call.Tools.CLIArgs()...)
	if !call.MCP.Empty() {
		doc, err := call.MCP.JSON()
		if err != nil {
			return nil, err
		}
		args = append(args, "--mcp-config", doc)
	}
	return append(args, c.ExtraArgs...), nil
}

// Run executes one call.
func (c *CLI) Run(ctx context.Context, call Call) (*Reply, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bin := c.Bin
	if bin == "" {
		bin = DefaultBin
	}

	args, err := c.Args(call)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = call.WorkDir
	cmd.Stdin = strings.NewReader(call.Prompt)
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.WaitDelay = c.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("starting assistant",
		zap.String("bin", bin),
		zap.String("dir", call.WorkDir),
		zap.Int("max_turns", call.MaxTurns),
		zap.Strings("allowed_tools", call.Tools.Allowed),
		zap.Strings("mcp_servers", call.MCP.Names()),
	)

	runErr := cmd.Run()

	reply := &Reply{Stdout: stdout.String(), Stderr: stderr.String()}
	parsed, jsonOK := parseResult(stdout.Bytes())
	if jsonOK {
		reply.Text = parsed.Result
		reply.SessionID = parsed.SessionID
		reply.Turns = parsed.NumTurns
	} else {
		reply.Text = strings.TrimSpace(reply.Stdout)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if stderrors.Is(ctxErr, context.DeadlineExceeded) {
			return reply, errors.NewAssistant(fmt.Errorf("assistant call exceeded its deadline: %w", ctxErr))
		}
		return reply, errors.NewCancelled("assistant call")
	}

	if jsonOK && parsed.Subtype == subtypeMaxTurns {
		return reply, errors.NewTurnLimit(call.MaxTurns)
	}

	if runErr != nil || (jsonOK && parsed.IsError) {
		detail := strings.TrimSpace(reply.Stderr)
		if detail == "" {
			detail = reply.Text
		}
		if isAuthFailure(detail) {
			return reply, errors.NewAssistantAuth(firstLine(detail))
		}
		if runErr == nil {
			return reply, errors.NewAssistant(fmt.Errorf("assistant reported an error (%s): %s", parsed.Subtype, firstLine(detail)))
		}
		if stderrors.Is(runErr, exec.ErrNotFound) {
			return reply, errors.NewAssistant(fmt.Errorf("assistant binary %q not found: %w", bin, runErr))
		}
		if detail != "" {
			return reply, errors.NewAssistant(fmt.Errorf("%w: %s", runErr, firstLine(detail)))
		}
		return reply, errors.NewAssistant(runErr)
	}

	return reply, nil
}

// parseResult decodes the JSON result document. Plain-text output is not an error.
func parseResult(out []byte) (result, bool) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return result{}, false
	}
	var r result
	if err := json.Unmarshal(trimmed, &r); err != nil {
		return result{}, false
	}
	return r, true
}

var authMarkers = []string{"authentication", "api key", "not logged in", "/login", "unauthorized", "oauth token"}

func isAuthFailure(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range authMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
