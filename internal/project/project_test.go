package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePkg(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(body), 0o644))
}

func monorepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writePkg(t, root, `{"name":"root","private":true,"workspaces":["packages/*"]}`)
	writePkg(t, filepath.Join(root, "packages", "a"), `{"name":"@scope/a","version":"1.0.0","main":"index.js","scripts":{"smoke":"node index.js"}}`)
	writePkg(t, filepath.Join(root, "packages", "b"), `{"name":"b","version":"2.0.0"}`)
	writePkg(t, filepath.Join(root, "packages", "internal"), `{"name":"internal","private":true}`)
	return root
}

func TestResolveSinglePackage(t *testing.T) {
	root := t.TempDir()
	writePkg(t, root, `{"name":"solo","version":"0.1.0","scripts":{"test":"true"}}`)

	ws, err := Resolve(root, Selection{})
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, "solo", ws[0].Name)
	assert.True(t, ws[0].HasScript("test"))
	assert.Equal(t, "0.1.0", ws[0].Manifest["version"])
}

func TestResolveMonorepoDefaultSkipsPrivate(t *testing.T) {
	ws, err := Resolve(monorepo(t), Selection{})
	require.NoError(t, err)
	assert.Equal(t, []string{"@scope/a", "b"}, names(ws))
}

func TestResolveMonorepoAll(t *testing.T) {
	ws, err := Resolve(monorepo(t), Selection{All: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"@scope/a", "b", "internal"}, names(ws))
}

func TestResolveByNameAndPath(t *testing.T) {
	root := monorepo(t)
	ws, err := Resolve(root, Selection{Names: []string{"b", "packages/a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "@scope/a"}, names(ws))
}

func TestResolveUnknownWorkspaceIsConfigError(t *testing.T) {
	_, err := Resolve(monorepo(t), Selection{Names: []string{"nope"}})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Msg, `workspace "nope" not found`)
}

func TestResolveObjectWorkspaces(t *testing.T) {
	root := t.TempDir()
	writePkg(t, root, `{"name":"root","workspaces":{"packages":["libs/*"]}}`)
	writePkg(t, filepath.Join(root, "libs", "x"), `{"name":"x"}`)

	ws, err := Resolve(root, Selection{IncludeRoot: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "x"}, names(ws))
}

func TestResolveMissingPackageJSON(t *testing.T) {
	_, err := Resolve(t.TempDir(), Selection{})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}
