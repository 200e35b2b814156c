package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hongdown/hongdown-ls/internal/config"
	"github.com/hongdown/hongdown-ls/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type layout struct {
	user    string
	root    string
	folderA string
	folderB string
	ws      *workspace.Workspace
	store   *config.Store
}

func newLayout(t *testing.T) *layout {
	t.Helper()

	base := t.TempDir()
	l := &layout{
		user: filepath.Join(base, "user", config.Name, config.UserConfigFileName),
		root: filepath.Join(base, "project"),
	}
	l.folderA = filepath.Join(l.root, "a")
	l.folderB = filepath.Join(l.root, "b")
	require.NoError(t, os.MkdirAll(l.folderA, 0o755))
	require.NoError(t, os.MkdirAll(l.folderB, 0o755))

	l.ws = workspace.New()
	l.ws.Reset(l.root, []string{l.folderA, l.folderB})
	l.store = config.NewStore(l.ws, l.user, nil)

	return l
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	truth := true

	tests := []struct {
		name        string
		content     *string
		expected    config.Values
		expectedErr bool
	}{
		{
			name:     "missing file",
			expected: config.Values{},
		},
		{
			name:     "yaml file",
			content:  ptr("disable: true\npath: /opt/hongdown\n"),
			expected: config.Values{Disable: &truth, Path: "/opt/hongdown"},
		},
		{
			name:     "json file",
			content:  ptr(`{"path": "hongdown-dev"}`),
			expected: config.Values{Path: "hongdown-dev"},
		},
		{
			name:     "empty file",
			content:  ptr(""),
			expected: config.Values{},
		},
		{
			name:        "invalid file",
			content:     ptr("disable: [unterminated"),
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name, config.ConfigFileName)
			if tt.content != nil {
				writeFile(t, path, *tt.content)
			}

			values, err := config.LoadFile(path)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, values)
		})
	}
}

func TestStore_IsFormatterEnabled(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, l *layout)
		expected bool
	}{
		{
			name:     "nothing configured",
			setup:    func(*testing.T, *layout) {},
			expected: true,
		},
		{
			name: "disabled in user config",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, l.user, "disable: true\n")
			},
			expected: false,
		},
		{
			name: "disabled by client settings",
			setup: func(t *testing.T, l *layout) {
				l.store.SetClientSettings(json.RawMessage(`{"hongdown":{"disable":true}}`))
			},
			expected: false,
		},
		{
			name: "disabled by flat client key",
			setup: func(t *testing.T, l *layout) {
				l.store.SetClientSettings(json.RawMessage(`{"hongdown.disable":true}`))
			},
			expected: false,
		},
		{
			name: "client false does not override user true",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, l.user, "disable: true\n")
				l.store.SetClientSettings(json.RawMessage(`{"hongdown":{"disable":false}}`))
			},
			expected: false,
		},
		{
			name: "disabled in workspace",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, filepath.Join(l.root, config.ConfigFileName), "disable: true\n")
			},
			expected: false,
		},
		{
			name: "disabled in one workspace folder",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, filepath.Join(l.folderB, config.ConfigFileName), "disable: true\n")
			},
			expected: false,
		},
		{
			name: "explicit false everywhere",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, l.user, "disable: false\n")
				writeFile(t, filepath.Join(l.root, config.ConfigFileName), "disable: false\n")
				writeFile(t, filepath.Join(l.folderA, config.ConfigFileName), "disable: false\n")
			},
			expected: true,
		},
		{
			name: "non-boolean client value is ignored",
			setup: func(t *testing.T, l *layout) {
				l.store.SetClientSettings(json.RawMessage(`{"hongdown":{"disable":"yes"}}`))
			},
			expected: true,
		},
		{
			name: "invalid workspace file is ignored",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, filepath.Join(l.root, config.ConfigFileName), "disable: [")
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayout(t)
			tt.setup(t, l)

			assert.Equal(t, tt.expected, l.store.IsFormatterEnabled())
			assert.Equal(t, !tt.expected, l.store.Snapshot(l.folderA).Disabled)
		})
	}
}

func TestStore_FilesAreReadOnEveryCall(t *testing.T) {
	l := newLayout(t)
	path := filepath.Join(l.root, config.ConfigFileName)

	assert.True(t, l.store.IsFormatterEnabled())

	writeFile(t, path, "disable: true\n")
	assert.False(t, l.store.IsFormatterEnabled())

	require.NoError(t, os.Remove(path))
	assert.True(t, l.store.IsFormatterEnabled())
}

func TestStore_ExecutablePath(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, l *layout)
		folder   func(l *layout) string
		expected string
	}{
		{
			name:     "default",
			setup:    func(*testing.T, *layout) {},
			folder:   func(l *layout) string { return l.folderA },
			expected: config.DefaultExecutable,
		},
		{
			name: "client global path",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, l.user, "path: /usr/local/bin/hongdown\n")
				l.store.SetClientSettings(json.RawMessage(`{"hongdown":{"path":"/opt/hongdown"}}`))
			},
			folder:   func(l *layout) string { return l.folderA },
			expected: "/opt/hongdown",
		},
		{
			name: "workspace overrides global",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, l.user, "path: /usr/local/bin/hongdown\n")
				writeFile(t, filepath.Join(l.root, config.ConfigFileName), "path: ./bin/hongdown\n")
			},
			folder:   func(l *layout) string { return l.folderA },
			expected: "./bin/hongdown",
		},
		{
			name: "workspace folder overrides workspace",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, filepath.Join(l.root, config.ConfigFileName), "path: ./bin/hongdown\n")
				writeFile(t, filepath.Join(l.folderA, config.ConfigFileName), "path: hongdown-nightly\n")
			},
			folder:   func(l *layout) string { return l.folderA },
			expected: "hongdown-nightly",
		},
		{
			name: "other folder keeps workspace value",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, filepath.Join(l.root, config.ConfigFileName), "path: ./bin/hongdown\n")
				writeFile(t, filepath.Join(l.folderA, config.ConfigFileName), "path: hongdown-nightly\n")
			},
			folder:   func(l *layout) string { return l.folderB },
			expected: "./bin/hongdown",
		},
		{
			name: "empty path falls through",
			setup: func(t *testing.T, l *layout) {
				writeFile(t, l.user, "path: /usr/local/bin/hongdown\n")
				writeFile(t, filepath.Join(l.folderA, config.ConfigFileName), "path: \"\"\n")
			},
			folder:   func(l *layout) string { return l.folderA },
			expected: "/usr/local/bin/hongdown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayout(t)
			tt.setup(t, l)

			assert.Equal(t, tt.expected, l.store.ExecutablePath(tt.folder(l)))
		})
	}
}

func TestStore_Inspect(t *testing.T) {
	l := newLayout(t)
	writeFile(t, l.user, "disable: false\n")
	writeFile(t, filepath.Join(l.folderA, config.ConfigFileName), "disable: true\npath: x\n")

	inspection := l.store.Inspect(l.folderA)

	require.NotNil(t, inspection.Global.Disable)
	assert.False(t, *inspection.Global.Disable)
	assert.Nil(t, inspection.Workspace.Disable)
	require.NotNil(t, inspection.WorkspaceFolder.Disable)
	assert.True(t, *inspection.WorkspaceFolder.Disable)
	assert.Equal(t, "x", inspection.At(config.ScopeWorkspaceFolder).Path)

	assert.Equal(t, config.Values{}, l.store.Inspect("").WorkspaceFolder)
}

func TestStore_SetClientSettings(t *testing.T) {
	l := newLayout(t)

	assert.False(t, l.store.SetClientSettings(json.RawMessage(`{"hongdown":{"path":"a"}}`)), "path only")
	assert.True(t, l.store.SetClientSettings(json.RawMessage(`{"hongdown":{"disable":true}}`)), "disable added")
	assert.True(t, l.store.SetClientSettings(json.RawMessage(`{"editor":{}}`)), "disable removed")
	assert.False(t, l.store.SetClientSettings(json.RawMessage(`{"editor":{"tabSize":2}}`)), "unrelated")
	assert.False(t, l.store.SetClientSettings(nil), "empty")
}

func TestStore_ConfigDirs(t *testing.T) {
	l := newLayout(t)

	assert.Equal(t, []string{filepath.Dir(l.user), l.root, l.folderA, l.folderB}, l.store.ConfigDirs())

	empty := config.NewStore(nil, "", nil)
	assert.Empty(t, empty.ConfigDirs())
}

func TestStore_IsConfigFile(t *testing.T) {
	l := newLayout(t)

	assert.True(t, l.store.IsConfigFile(l.user))
	assert.True(t, l.store.IsConfigFile(filepath.Join(l.folderA, config.ConfigFileName)))
	assert.False(t, l.store.IsConfigFile(filepath.Join(l.folderA, "README.md")))
	assert.False(t, l.store.IsConfigFile(filepath.Join(filepath.Dir(l.user), "other.yaml")))
	assert.False(t, l.store.IsConfigFile(""))
}

func TestUserConfigPath(t *testing.T) {
	path := config.UserConfigPath()

	require.NotEmpty(t, path)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, filepath.Join(config.Name, config.UserConfigFileName), filepath.Join(filepath.Base(filepath.Dir(path)), filepath.Base(path)))
}

func TestScope_String(t *testing.T) {
	assert.Equal(t, "global", config.ScopeGlobal.String())
	assert.Equal(t, "workspace", config.ScopeWorkspace.String())
	assert.Equal(t, "workspaceFolder", config.ScopeWorkspaceFolder.String())
}

func ptr(s string) *string {
	return &s
}
