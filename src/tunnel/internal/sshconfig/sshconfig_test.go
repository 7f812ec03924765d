package sshconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/fs"
)

type stubFS struct {
	fs.TunnelFS
	home  string
	files map[string][]byte
}

func (s stubFS) UserHomeDir() (string, error) { return s.home, nil }

func (s stubFS) ReadFile(name string) ([]byte, error) {
	data, ok := s.files[name]
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

func newTestResolver(t *testing.T, configText string) *resolver {
	t.Helper()
	home := "/home/dev"
	files := map[string][]byte{}
	if configText != "" {
		files[filepath.Join(home, ".ssh", "config")] = []byte(configText)
	}
	return &resolver{
		path:   filepath.Join(home, ".ssh", "config"),
		fs:     stubFS{home: home, files: files},
		logger: zap.NewNop().Sugar(),
	}
}

func TestResolve(t *testing.T) {
	configText := `
# build hosts
Host build
    HostName build01.example.com
    User ci
    Port 2222
    IdentityFile "~/.ssh/id_build"

Host build*
    User fallback
    Port 9999

Host *
    IdentityFile ~/.ssh/id_default
`

	tests := []struct {
		name  string
		alias string
		want  Host
	}{
		{
			name:  "exact block wins over glob",
			alias: "build",
			want: Host{
				Alias:        "build",
				Hostname:     "build01.example.com",
				User:         "ci",
				Port:         "2222",
				IdentityFile: "~/.ssh/id_build",
			},
		},
		{
			name:  "glob block applies to other aliases",
			alias: "build02",
			want: Host{
				Alias:        "build02",
				Hostname:     "build02",
				User:         "fallback",
				Port:         "9999",
				IdentityFile: "~/.ssh/id_default",
			},
		},
		{
			name:  "wildcard only",
			alias: "db.example.com",
			want: Host{
				Alias:        "db.example.com",
				Hostname:     "db.example.com",
				IdentityFile: "~/.ssh/id_default",
			},
		},
	}

	r := newTestResolver(t, configText)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.alias)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("empty alias", func(t *testing.T) {
		_, err := r.Resolve("")
		assert.Error(t, err)
	})

	t.Run("missing config file passes alias through", func(t *testing.T) {
		r := newTestResolver(t, "")
		got, err := r.Resolve("somehost")
		require.NoError(t, err)
		assert.Equal(t, Host{Alias: "somehost", Hostname: "somehost"}, got)
	})

	t.Run("negated pattern excludes alias", func(t *testing.T) {
		r := newTestResolver(t, `
Host build* !build-legacy
	User ci
`)
		got, err := r.Resolve("build-legacy")
		require.NoError(t, err)
		assert.Empty(t, got.User)

		got, err = r.Resolve("build-new")
		require.NoError(t, err)
		assert.Equal(t, "ci", got.User)
	})
}

func TestParse(t *testing.T) {
	t.Run("equals separator and comments", func(t *testing.T) {
		blocks := parse(`
# global defaults
User=shared

Host dev
  Port = 2200
`)
		require.Len(t, blocks, 2)
		assert.Equal(t, []string{"*"}, blocks[0].patterns)
		assert.Equal(t, "shared", blocks[0].options["user"])
		assert.Equal(t, "2200", blocks[1].options["port"])
	})

	t.Run("match block is skipped", func(t *testing.T) {
		blocks := parse(`
Match exec "test -f /tmp/x"
  User never

Host dev
  User ok
`)
		require.Len(t, blocks, 2)
		assert.Nil(t, blocks[0].patterns)
		assert.False(t, blocks[0].matches("dev"))
		assert.Equal(t, "ok", blocks[1].options["user"])
	})
}

func TestCacheInvalidation(t *testing.T) {
	r := newTestResolver(t, `
Host dev
  User first
`)
	got, err := r.Resolve("dev")
	require.NoError(t, err)
	assert.Equal(t, "first", got.User)

	stub := r.fs.(stubFS)
	stub.files[r.path] = []byte("Host dev\n  User second\n")

	// Without invalidation the cached parse is served.
	got, err = r.Resolve("dev")
	require.NoError(t, err)
	assert.Equal(t, "first", got.User)

	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()

	got, err = r.Resolve("dev")
	require.NoError(t, err)
	assert.Equal(t, "second", got.User)
}
