package store

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/baton/internal/errors"
)

// IDGenerator returns a fresh folder id.
type IDGenerator func() (string, error)

// ulidSource hands out ULIDs that are strictly increasing within one process,
// even when several are drawn in the same millisecond.
type ulidSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newULIDSource() *ulidSource {
	return &ulidSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *ulidSource) next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidateID rejects anything that is not a canonical ULID string.
// Folder ids double as directory names, so this is also the path-traversal guard.
func ValidateID(id string) error {
	if id == "" {
		return errors.NewInvalidRequest("folder id is required")
	}
	if _, err := ulid.ParseStrict(id); err != nil {
		return errors.NewInvalidRequest("invalid folder id: " + id)
	}
	if strings.ToUpper(id) != id {
		return errors.NewInvalidRequest("invalid folder id: " + id)
	}
	return nil
}

// IDTime returns the creation time encoded in a folder id.
func IDTime(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
