package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kabir325/fogpool/internal/logx"
)

// OpenFileStore loads sessions from path, if it exists, and rewrites the file
// after every mutation. The file is a JSON object keyed by session id.
func OpenFileStore(path string) (*MemoryStore, error) {
	m := NewMemoryStore()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logx.Log.Info().Str("path", path).Msg("no chat history found; starting fresh")
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &m.sessions); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if m.sessions == nil {
			m.sessions = make(map[string]*Session)
		}
		logx.Log.Info().Str("path", path).Int("sessions", len(m.sessions)).Msg("loaded chat history")
	}
	m.persist = func(sessions map[string]*Session) error {
		return writeJSONAtomic(path, sessions)
	}
	return m, nil
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".chat-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
