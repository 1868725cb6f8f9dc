package util

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEmptyDir(t *testing.T) {
	dir, err := ioutil.TempDir("", "util")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	empty, err := IsEmptyDir(filepath.Join(dir, "missing"))
	require.Nil(t, err)
	assert.True(t, empty)
	assert.False(t, DirExists(filepath.Join(dir, "missing")))

	empty, err = IsEmptyDir(dir)
	require.Nil(t, err)
	assert.True(t, empty)

	require.Nil(t, ioutil.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0644))
	empty, err = IsEmptyDir(dir)
	require.Nil(t, err)
	assert.False(t, empty)
	assert.True(t, DirExists(dir))
}
