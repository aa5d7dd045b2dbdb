// Package ledgerfile persists ledger snapshots as JSON documents on disk,
// one file per (course, session) pair under <root>/<course>/.  Every flush
// rewrites the whole document via a temp file and rename, so readers never
// observe a partial write.
package ledgerfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipbeep/attendance/internal/attend/types"
)

type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

// Path returns the document location for a session.
func (s *Store) Path(courseID, sessionID string) string {
	return filepath.Join(s.root, courseID, fmt.Sprintf("%s_%s.json", courseID, sessionID))
}

func (s *Store) Save(_ context.Context, courseID, sessionID string, participants []types.Participant) error {
	path := s.Path(courseID, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}

	data, err := json.MarshalIndent(participants, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func (s *Store) Load(_ context.Context, courseID, sessionID string) ([]types.Participant, error) {
	data, err := os.ReadFile(s.Path(courseID, sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var out []types.Participant
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal ledger: %w", err)
	}
	return out, nil
}
