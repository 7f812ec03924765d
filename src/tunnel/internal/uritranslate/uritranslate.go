// Package uritranslate maps file URIs between the shape the local editor uses
// to address remote files (e.g. rsync://host/path) and the shape the remote
// language server expects on its own filesystem (file:///path).
package uritranslate

import (
	"strings"
	"sync"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
)

// Protocol identifies the access scheme the editor uses for remote files.
type Protocol string

const (
	// ProtocolRsync addresses remote files via rsync:// URIs.
	ProtocolRsync Protocol = "rsync"
	// ProtocolSCP addresses remote files via scp:// URIs.
	ProtocolSCP Protocol = "scp"

	// RemoteScheme is the scheme the remote language server expects.
	RemoteScheme = "file"
)

var (
	schemesMu     sync.RWMutex
	accessSchemes = map[Protocol]struct{}{
		ProtocolRsync: {},
		ProtocolSCP:   {},
	}
)

// RegisterAccessScheme adds a new access scheme. The translation algorithm is
// unchanged; only the set of recognized prefixes grows.
func RegisterAccessScheme(p Protocol) {
	schemesMu.Lock()
	defer schemesMu.Unlock()
	accessSchemes[p] = struct{}{}
}

// Known reports whether the protocol is a recognized access scheme.
func Known(p Protocol) bool {
	schemesMu.RLock()
	defer schemesMu.RUnlock()
	_, ok := accessSchemes[p]
	return ok
}

// ToRemote converts a local editor URI to the remote-native shape, stripping
// the access scheme and host. A URI that already carries an embedded
// remote-native marker (file://rsync://host/path, produced by some clients
// during initialization) has the outer wrapper discarded first; a URI already
// in the remote-native shape passes through unchanged.
func ToRemote(localURI string, host string, p Protocol) (string, error) {
	u := localURI

	// Repair the nested form before anything else.
	nested := RemoteScheme + "://" + string(p) + "://" + host
	if strings.HasPrefix(u, nested) {
		u = strings.TrimPrefix(u, RemoteScheme+"://")
	}

	// Already in the remote-native shape: pass through unchanged rather than
	// dropping the frame it arrived in.
	if strings.HasPrefix(u, RemoteScheme+"://") {
		return u, nil
	}

	prefix := string(p) + "://" + host
	if !strings.HasPrefix(u, prefix) {
		return "", &errors.TranslationError{URI: localURI}
	}

	path := collapseSlashes(u[len(prefix):])
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return RemoteScheme + "://" + path, nil
}

// ToLocal converts a remote-native URI back to the local editor shape,
// re-inserting the access scheme and host.
func ToLocal(remoteURI string, host string, p Protocol) (string, error) {
	if !strings.HasPrefix(remoteURI, RemoteScheme+"://") {
		return "", &errors.TranslationError{URI: remoteURI}
	}

	path := collapseSlashes(remoteURI[len(RemoteScheme+"://"):])
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return string(p) + "://" + host + path, nil
}

// Normalize collapses redundant path separators in a local editor URI without
// changing its shape. Idempotent after the first pass.
func Normalize(localURI string, host string, p Protocol) string {
	prefix := string(p) + "://" + host
	if !strings.HasPrefix(localURI, prefix) {
		return localURI
	}
	path := collapseSlashes(localURI[len(prefix):])
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return prefix + path
}

// collapseSlashes reduces any run of consecutive separators to a single one.
// The caller is responsible for keeping the scheme separator out of the input.
func collapseSlashes(path string) string {
	if !strings.Contains(path, "//") {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
