package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"earshot/pipeline"
)

// Archive accumulates forwarded chunks in a FLAC encoder and flushes one
// file per session into dir.
type Archive struct {
	dir string

	mu  sync.Mutex
	enc *FlacEncoder
	n   int
}

func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Append records one forwarded chunk. The first chunk after a flush starts
// a new session file.
func (a *Archive) Append(chunk pipeline.Chunk) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enc == nil {
		enc, err := NewFlac()
		if err != nil {
			return err
		}
		a.enc = enc
	}
	return a.enc.EncodeBlock(chunk.Payload)
}

// Flush closes the current session and writes it to disk. Appending nothing
// since the last flush is a no-op.
func (a *Archive) Flush() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enc == nil {
		return "", nil
	}
	enc := a.enc
	a.enc = nil

	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("closing archive encoder: %w", err)
	}
	if enc.TotalFrames() == 0 {
		return "", nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive dir: %w", err)
	}
	a.n++
	name := filepath.Join(a.dir,
		fmt.Sprintf("%s_%03d.flac", time.Now().Format("session_20060102_150405"), a.n))
	if err := os.WriteFile(name, enc.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing archive: %w", err)
	}
	return name, nil
}
