// Package staging stages workspaces by reference to files already present
// on the daemon host.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fleetshift/deployd/internal/domain"
)

// PathStager implements [domain.Stager]. Relative paths resolve under
// Root, or the working directory when Root is empty.
type PathStager struct {
	Root string
}

func (s *PathStager) Stage(_ context.Context, paths []string) ([]string, error) {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			return nil, fmt.Errorf("%w: empty path", domain.ErrInvalidArgument)
		}
		if !filepath.IsAbs(p) && s.Root != "" {
			p = filepath.Join(s.Root, p)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("%w: path %q: %v", domain.ErrInvalidArgument, p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: path %q does not exist", domain.ErrNotFound, p)
			}
			return nil, fmt.Errorf("stat %q: %w", p, err)
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out, nil
}
