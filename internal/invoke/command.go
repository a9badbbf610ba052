package invoke

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hpungsan/baton/internal/errors"
)

// commandExts are the file types accepted as command files.
var commandExts = []string{".md", ".txt"}

// ListCommands returns the command files in dir, sorted. A missing dir is empty.
func ListCommands(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewInternal(err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && slices.Contains(commandExts, strings.ToLower(filepath.Ext(e.Name()))) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// LoadCommand reads a command file. A bare name ("review" or "review.md") is
// looked up in commandsDir; anything with a directory part is read as a path.
// The extension may be omitted for files in commandsDir.
func LoadCommand(commandsDir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewInvalidRequest("command file is required")
	}

	var candidates []string
	switch {
	case strings.ContainsAny(name, `/\`):
		candidates = []string{name}
	case commandsDir == "":
		return "", errors.NewInvalidRequest(fmt.Sprintf("command file %q: no commands directory configured", name))
	case filepath.Ext(name) != "":
		candidates = []string{filepath.Join(commandsDir, name)}
	default:
		for _, ext := range commandExts {
			candidates = append(candidates, filepath.Join(commandsDir, name+ext))
		}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			command := strings.TrimSpace(string(data))
			if command == "" {
				return "", errors.NewInvalidRequest(fmt.Sprintf("command file %s is empty", path))
			}
			return command, nil
		}
		if !os.IsNotExist(err) {
			return "", errors.NewInternal(fmt.Errorf("read command file: %w", err))
		}
	}
	return "", errors.NewNotFound(name)
}
