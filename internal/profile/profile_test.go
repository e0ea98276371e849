package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shubham/salvage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := "profiles:\n  /dev/disk2: goPro\n  /dev/disk3: canon\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	o, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, model.ProfileGoPro, o.Resolve("/dev/disk2"))
	assert.Equal(t, model.ProfileCanon, o.Resolve("/dev/disk3"))
	assert.Equal(t, model.ProfileGeneric, o.Resolve("/dev/disk9"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
