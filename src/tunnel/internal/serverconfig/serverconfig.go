// Package serverconfig loads the catalog of known language servers: the
// remote command for each server name plus per-server launch settings.
package serverconfig

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/fs"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/uritranslate"
)

const _configKeyServersFile = "serversFilePath"

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Definition describes how to run one language server on a remote host.
type Definition struct {
	// Command is the server binary and its arguments.
	Command []string `yaml:"command"`
	// Protocol is the access scheme buffers for this server use. Defaults to rsync.
	Protocol uritranslate.Protocol `yaml:"protocol"`
	// Shell overrides login-shell dialect detection ("sh" or "csh").
	Shell string `yaml:"shell"`
}

// CommandLine returns the server invocation as a single shell line.
func (d Definition) CommandLine() string {
	return strings.Join(d.Command, " ")
}

// Catalog resolves server names to their definitions.
type Catalog interface {
	Lookup(name string) (Definition, error)
	Names() []string
}

type catalog struct {
	servers map[string]Definition
}

// Params define values to be used by the catalog.
type Params struct {
	fx.In

	Config config.Provider
	FS     fs.TunnelFS
	Logger *zap.SugaredLogger
}

type fileFormat struct {
	Servers map[string]Definition `yaml:"servers"`
}

// New loads the server catalog from the path named in configuration.
func New(p Params) (Catalog, error) {
	var path string
	if err := p.Config.Get(_configKeyServersFile).Populate(&path); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyServersFile, err)
	}
	if path == "" {
		return nil, fmt.Errorf("missing field %q in config", _configKeyServersFile)
	}

	raw, err := p.FS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server catalog %q: %w", path, err)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing server catalog %q: %w", path, err)
	}

	c := &catalog{servers: make(map[string]Definition, len(parsed.Servers))}
	for name, def := range parsed.Servers {
		if len(def.Command) == 0 {
			def.Command = []string{name}
		}
		if def.Protocol == "" {
			def.Protocol = uritranslate.ProtocolRsync
		}
		if !uritranslate.Known(def.Protocol) {
			return nil, fmt.Errorf("server %q uses unknown protocol %q", name, def.Protocol)
		}
		c.servers[name] = def
	}

	p.Logger.Infow("server catalog loaded", "path", path, "servers", len(c.servers))
	return c, nil
}

// Lookup returns the definition for a server name.
func (c *catalog) Lookup(name string) (Definition, error) {
	def, ok := c.servers[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", errors.ErrUnknownServer, name)
	}
	return def, nil
}

// Names returns the catalog's server names, sorted.
func (c *catalog) Names() []string {
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
