package staging_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetshift/deployd/internal/domain"
	"github.com/fleetshift/deployd/internal/infrastructure/staging"
)

func TestPathStager(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "model.bin"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "data"), 0o755))
	s := &staging.PathStager{Root: root}
	ctx := context.Background()

	t.Run("resolves and dedupes", func(t *testing.T) {
		got, err := s.Stage(ctx, []string{"model.bin", "data", filepath.Join(root, "model.bin")})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(root, "model.bin"), filepath.Join(root, "data")}, got)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := s.Stage(ctx, []string{"model.bin", "missing.bin"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := s.Stage(ctx, []string{""})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}
