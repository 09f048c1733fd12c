package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/justapithecus/prospector/types"
)

// FSSink writes the aggregate document as indented JSON under a directory.
type FSSink struct {
	dir string
}

// NewFSSink creates a filesystem sink rooted at dir, creating it if needed.
func NewFSSink(dir string) (*FSSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FSSink{dir: dir}, nil
}

// Store implements Sink.
func (s *FSSink) Store(_ context.Context, name string, doc *types.AggregateResult) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return path, nil
}

// Close implements Sink.
func (s *FSSink) Close() error {
	return nil
}

// Verify FSSink implements Sink.
var _ Sink = (*FSSink)(nil)
