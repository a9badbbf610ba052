package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

func seedProject(t *testing.T) (*store.Store, string) {
	t.Helper()
	s := openStore(t, false)
	id := seed(t, s, map[string]string{
		"README.md":       "# Demo\n",
		"src/app.py":      "import os\n",
		"src/util.py":     "def f(): pass\n",
		"assets/logo.bin": "\xff\xfe\x00\x01",
	}, store.Manifest{})
	return s, id
}

func TestFiles_ListDefault(t *testing.T) {
	s, id := seedProject(t)

	out, err := Files(context.Background(), s, FilesInput{ID: id})
	require.NoError(t, err)
	assert.Equal(t, FilesList, out.Mode)
	assert.Equal(t, 4, out.Matched)
	assert.False(t, out.HasMore)
	assert.Equal(t, "Files in "+id+":\n"+
		"- README.md (7 bytes)\n"+
		"- assets/logo.bin (4 bytes)\n"+
		"- src/app.py (10 bytes)\n"+
		"- src/util.py (14 bytes)\n", out.Text)
	assert.Equal(t, ".py", out.Files[2].Type)
}

func TestFiles_PatternMatchesBaseNameOrPath(t *testing.T) {
	s, id := seedProject(t)

	tests := []struct {
		pattern string
		want    []string
	}{
		{"*.py", []string{"src/app.py", "src/util.py"}},
		{"src/app.*", []string{"src/app.py"}},
		{"README.md", []string{"README.md"}},
		{"*.go", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			out, err := Files(context.Background(), s, FilesInput{ID: id, Pattern: tt.pattern})
			require.NoError(t, err)
			var got []string
			for _, f := range out.Files {
				got = append(got, f.Path)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFiles_MaxFiles(t *testing.T) {
	s, id := seedProject(t)

	out, err := Files(context.Background(), s, FilesInput{ID: id, MaxFiles: 2})
	require.NoError(t, err)
	assert.Len(t, out.Files, 2)
	assert.Equal(t, 4, out.Matched)
	assert.True(t, out.HasMore)
}

func TestFiles_ReadAllMarksBinary(t *testing.T) {
	s, id := seedProject(t)

	out, err := Files(context.Background(), s, FilesInput{ID: id, Mode: "read-all", Pattern: "*.bin"})
	require.NoError(t, err)
	assert.Equal(t, "=== assets/logo.bin ===\n[binary file: 4 bytes]\n", out.Text)
}

func TestFiles_ReadAllTruncates(t *testing.T) {
	s, id := seedProject(t)

	out, err := Files(context.Background(), s, FilesInput{ID: id, Mode: "read-all", Pattern: "util.py", MaxFileBytes: 3})
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	assert.True(t, out.Files[0].Truncated)
	assert.Equal(t, "=== src/util.py ===\ndef\n", out.Text)
}

func TestFiles_ReadSpecific(t *testing.T) {
	s, id := seedProject(t)

	out, err := Files(context.Background(), s, FilesInput{ID: id, Mode: "read_specific", File: "src/app.py"})
	require.NoError(t, err)
	assert.Equal(t, "import os\n", out.Text)
	require.Len(t, out.Files, 1)
	assert.Equal(t, int64(10), out.Files[0].Size)

	_, err = Files(context.Background(), s, FilesInput{ID: id, Mode: "read-specific", File: "missing.txt"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = Files(context.Background(), s, FilesInput{ID: id, Mode: "read-specific"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Files(context.Background(), s, FilesInput{ID: id, Mode: "read-specific", File: "../../etc/passwd"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestFiles_Errors(t *testing.T) {
	s, id := seedProject(t)

	_, err := Files(context.Background(), s, FilesInput{ID: id, Mode: "tail"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Files(context.Background(), s, FilesInput{ID: id, Pattern: "["})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Files(context.Background(), s, FilesInput{ID: "not-an-id"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Files(context.Background(), s, FilesInput{ID: idAt(epoch)})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestParseFilesMode(t *testing.T) {
	for in, want := range map[string]FilesMode{
		"":              FilesList,
		"list_files":    FilesList,
		"LIST":          FilesList,
		"read_all":      FilesReadAll,
		"read-specific": FilesReadSpecific,
	} {
		got, err := ParseFilesMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
