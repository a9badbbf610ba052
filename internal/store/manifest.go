package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/baton/internal/args"
	"github.com/hpungsan/baton/internal/tools"
)

// SchemaVersion is written into every manifest.
const SchemaVersion = 1

// Reserved file names inside an output folder.
const (
	InternalPrefix = "_baton_"
	ManifestName   = "_baton_manifest.json"
	ResponseName   = "_baton_response.txt"
	StderrName     = "_baton_stderr.txt"
)

// Status is the terminal outcome recorded for a folder.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTurnLimit Status = "turn_limit"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the terminal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTurnLimit, StatusCancelled:
		return true
	}
	return false
}

// File is one produced artifact to be written into a folder.
type File struct {
	Path string
	Data []byte
}

// FileInfo describes a file recorded in a manifest.
type FileInfo struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ErrorInfo is the error recorded for a non-successful folder.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Manifest is the descriptor stored as _baton_manifest.json.
// MCPConfig records the server configs used with env and header values redacted.
type Manifest struct {
	SchemaVersion   int                       `json:"schema_version"`
	ID              string                    `json:"id"`
	Status          Status                    `json:"status"`
	Command         string                    `json:"command"`
	Memory          string                    `json:"memory,omitempty"`
	Model           string                    `json:"model,omitempty"`
	MaxTurns        int                       `json:"max_turns"`
	Args            *args.Map                 `json:"args,omitempty"`
	Tools           *tools.Config             `json:"tools,omitempty"`
	MCPServers      []string                  `json:"mcp_servers,omitempty"`
	MCPConfig       map[string]map[string]any `json:"mcp_config,omitempty"`
	SessionID       string                    `json:"session_id,omitempty"`
	PreviousID      string                    `json:"previous_id,omitempty"`
	Files           []FileInfo                `json:"files"`
	TotalBytes      int64                     `json:"total_bytes"`
	ResponseExcerpt string                    `json:"response_excerpt,omitempty"`
	Error           *ErrorInfo                `json:"error,omitempty"`
	Turns           int                       `json:"turns"`
	DurationMS      int64                     `json:"duration_ms"`
	CreatedAt       time.Time                 `json:"created_at"`
	FinishedAt      time.Time                 `json:"finished_at"`
}

// writeManifest writes m into dir atomically: temp file, fsync, rename.
func writeManifest(dir string, m *Manifest) (err error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err = os.Rename(tmpPath, filepath.Join(dir, ManifestName)); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = []FileInfo{}
	}
	return &m, nil
}
