package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProofSource yields the opaque identity proof (mini-app init data). The
// messaging-client handshake that produces it lives outside this module.
type ProofSource interface {
	Proof(ctx context.Context) (string, error)
}

// FileProofSource re-reads <dir>/<name>.txt on every call so an external
// refresher can rotate the proof while the session runs.
type FileProofSource struct {
	Dir  string
	Name string
}

func (s FileProofSource) Path() string {
	return filepath.Join(s.Dir, s.Name+".txt")
}

func (s FileProofSource) Proof(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrInvalidProof, s.Path())
		}
		return "", err
	}
	proof := strings.TrimSpace(string(data))
	if proof == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidProof, s.Path())
	}
	return proof, nil
}

// Discover lists identity names that have a proof file in dir.
func Discover(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".txt"))
	}
	return names, nil
}
