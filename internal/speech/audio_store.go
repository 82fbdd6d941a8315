package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AudioStore persists synthesized audio and returns its reference.
type AudioStore interface {
	Save(ctx context.Context, sessionID, eventID, format string, audio []byte) (string, error)
}

// FileAudioStore writes audio under root/<session>/<event>.<format>.
type FileAudioStore struct {
	root string
}

// NewFileAudioStore creates the root directory if needed.
func NewFileAudioStore(root string) (*FileAudioStore, error) {
	if root == "" {
		return nil, fmt.Errorf("audio root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio dir: %w", err)
	}
	return &FileAudioStore{root: root}, nil
}

// Root returns the directory audio is written under.
func (s *FileAudioStore) Root() string {
	return s.root
}

func (s *FileAudioStore) Save(ctx context.Context, sessionID, eventID, format string, audio []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("audio is empty")
	}
	for _, part := range []string{sessionID, eventID, format} {
		if part == "" || strings.ContainsAny(part, `/\`) || strings.Contains(part, "..") {
			return "", fmt.Errorf("invalid audio path component %q", part)
		}
	}

	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session audio dir: %w", err)
	}
	path := filepath.Join(dir, eventID+"."+format)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	return path, nil
}
