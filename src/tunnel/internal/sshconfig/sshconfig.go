// Package sshconfig resolves host aliases against the user's OpenSSH client
// configuration so that sessions keyed by alias reach the same endpoint ssh
// itself would.
package sshconfig

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/fs"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Host is the subset of ssh_config options that affect how the daemon
// connects to a remote.
type Host struct {
	// Alias is the name the editor used, unchanged.
	Alias string
	// Hostname is the resolved address. Equals Alias when no block matches.
	Hostname string
	// User is the remote login name, if configured.
	User string
	// Port is the remote port, if configured.
	Port string
	// IdentityFile is the private key path, if configured.
	IdentityFile string
}

// Resolver resolves editor-supplied host aliases.
type Resolver interface {
	Resolve(alias string) (Host, error)
}

// Params define values to be used by the resolver.
type Params struct {
	fx.In

	FS        fs.TunnelFS
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
}

type resolver struct {
	mu     sync.Mutex
	path   string
	fs     fs.TunnelFS
	logger *zap.SugaredLogger

	blocks []block
	loaded bool
}

type block struct {
	patterns []string
	options  map[string]string
}

// New creates a resolver backed by ~/.ssh/config. The file is parsed lazily
// and reparsed whenever it changes on disk.
func New(p Params) (Resolver, error) {
	home, err := p.FS.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locating home directory: %w", err)
	}

	r := &resolver{
		path:   filepath.Join(home, ".ssh", "config"),
		fs:     p.FS,
		logger: p.Logger,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Watch the directory rather than the file: editors typically
			// replace the file on save, which drops a direct watch.
			if err := watcher.Add(filepath.Dir(r.path)); err != nil {
				p.Logger.Infow("ssh config directory not watchable, alias resolution will not refresh", "error", err)
				return nil
			}
			go r.watch(watcher)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return watcher.Close()
		},
	})

	return r, nil
}

// Resolve returns the effective options for an alias. A missing or unreadable
// config file resolves every alias to itself.
func (r *resolver) Resolve(alias string) (Host, error) {
	if alias == "" {
		return Host{}, fmt.Errorf("empty host alias")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		r.load()
	}

	host := Host{Alias: alias, Hostname: alias}
	for _, b := range r.blocks {
		if !b.matches(alias) {
			continue
		}
		// ssh semantics: the first obtained value wins.
		if v, ok := b.options["hostname"]; ok && host.Hostname == alias {
			host.Hostname = v
		}
		if v, ok := b.options["user"]; ok && host.User == "" {
			host.User = v
		}
		if v, ok := b.options["port"]; ok && host.Port == "" {
			host.Port = v
		}
		if v, ok := b.options["identityfile"]; ok && host.IdentityFile == "" {
			host.IdentityFile = v
		}
	}
	return host, nil
}

func (r *resolver) load() {
	r.loaded = true
	r.blocks = nil

	raw, err := r.fs.ReadFile(r.path)
	if err != nil {
		return
	}
	r.blocks = parse(string(raw))
}

func (r *resolver) watch(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			r.mu.Lock()
			r.loaded = false
			r.mu.Unlock()
			r.logger.Infow("ssh config changed, alias cache invalidated", "op", event.Op.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Infow("ssh config watcher error", "error", err)
		}
	}
}

func (b block) matches(alias string) bool {
	matched := false
	for _, pattern := range b.patterns {
		negated := strings.HasPrefix(pattern, "!")
		if negated {
			pattern = pattern[1:]
		}
		ok, err := path.Match(pattern, alias)
		if err != nil || !ok {
			continue
		}
		if negated {
			return false
		}
		matched = true
	}
	return matched
}

// parse reads ssh_config text into ordered host blocks. Options that appear
// before any Host keyword apply to all aliases.
func parse(text string) []block {
	blocks := []block{}
	current := block{patterns: []string{"*"}, options: map[string]string{}}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, args := splitKeyword(line)
		if keyword == "" || args == "" {
			continue
		}

		if keyword == "host" {
			if len(current.options) > 0 {
				blocks = append(blocks, current)
			}
			current = block{patterns: strings.Fields(args), options: map[string]string{}}
			continue
		}
		if keyword == "match" {
			// Match blocks are beyond what alias resolution needs; treat the
			// rest of the block as unmatched.
			if len(current.options) > 0 {
				blocks = append(blocks, current)
			}
			current = block{patterns: nil, options: map[string]string{}}
			continue
		}
		current.options[keyword] = unquote(args)
	}
	if len(current.options) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func splitKeyword(line string) (keyword string, args string) {
	idx := strings.IndexAny(line, " \t=")
	if idx < 0 {
		return strings.ToLower(line), ""
	}
	keyword = strings.ToLower(line[:idx])
	args = strings.TrimLeft(line[idx:], " \t=")
	return keyword, strings.TrimSpace(args)
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
