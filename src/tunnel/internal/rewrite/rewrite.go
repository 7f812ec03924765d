// Package rewrite locates URI-bearing fields in an LSP message payload and
// maps them between the local editor shape and the remote-native shape. All
// other payload bytes pass through untouched.
package rewrite

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/uritranslate"
)

// Direction selects which way URIs are mapped.
type Direction int

const (
	// LocalToRemote rewrites editor URIs into the shape the server expects.
	LocalToRemote Direction = iota
	// RemoteToLocal rewrites server URIs into the shape the editor expects.
	RemoteToLocal
)

// String returns the direction as a wire-log friendly label.
func (d Direction) String() string {
	if d == LocalToRemote {
		return "local_to_remote"
	}
	return "remote_to_local"
}

// uriKeys are the field names that carry a URI by LSP convention. Keeping the
// set here, rather than per message type, is what keeps the rewrite logic in
// one place.
var uriKeys = map[string]struct{}{
	"uri":       {},
	"targetUri": {},
	"rootUri":   {},
	"scopeUri":  {},
	"newUri":    {},
	"oldUri":    {},
	"baseUri":   {},
}

// IsURIKey reports whether a field with the given name carries a URI.
func IsURIKey(name string) bool {
	_, ok := uriKeys[name]
	return ok
}

// Characters that end an embedded URI inside prose (hover markdown and the
// like). Mirrors the behavior of editors linkifying plain text.
const _uriTerminators = " \t\r\n)]\""

// Rewriter applies URI translation for one session's host and protocol.
type Rewriter struct {
	Host     string
	Protocol uritranslate.Protocol
}

// Apply walks the payload and rewrites every URI-bearing string in the given
// direction, returning the updated payload. Bytes outside the changed fields
// are preserved exactly. A URI-named field that cannot be translated yields a
// *errors.TranslationError; the caller is expected to drop the frame.
func (r Rewriter) Apply(payload []byte, dir Direction) ([]byte, error) {
	if !gjson.ValidBytes(payload) {
		return nil, &errors.ProtocolError{Reason: "payload is not valid JSON"}
	}

	var edits []edit
	if err := r.collect(gjson.ParseBytes(payload), "", dir, &edits); err != nil {
		return nil, err
	}

	out := payload
	for _, e := range edits {
		var err error
		out, err = sjson.SetBytes(out, e.path, e.value)
		if err != nil {
			return nil, &errors.ProtocolError{Reason: "applying URI edit: " + err.Error()}
		}
	}
	return out, nil
}

type edit struct {
	path  string
	value string
}

func (r Rewriter) collect(v gjson.Result, path string, dir Direction, edits *[]edit) error {
	if v.IsObject() || v.IsArray() {
		var walkErr error
		v.ForEach(func(key, child gjson.Result) bool {
			childPath := joinPath(path, key)
			if child.Type == gjson.String {
				rewritten, changed, err := r.rewriteString(key.String(), child.String(), dir)
				if err != nil {
					walkErr = err
					return false
				}
				if changed {
					*edits = append(*edits, edit{path: childPath, value: rewritten})
				}
				return true
			}
			if child.IsObject() || child.IsArray() {
				if err := r.collect(child, childPath, dir, edits); err != nil {
					walkErr = err
					return false
				}
			}
			return true
		})
		return walkErr
	}
	return nil
}

// rewriteString translates a single string value. Fields named by uriKeys are
// treated as whole URIs; any other string only has embedded URIs swapped.
func (r Rewriter) rewriteString(key, value string, dir Direction) (string, bool, error) {
	if IsURIKey(key) {
		var out string
		var err error
		switch dir {
		case LocalToRemote:
			out, err = uritranslate.ToRemote(value, r.Host, r.Protocol)
		default:
			out, err = uritranslate.ToLocal(value, r.Host, r.Protocol)
		}
		if err != nil {
			return "", false, err
		}
		return out, out != value, nil
	}

	out := r.replaceEmbedded(value, dir)
	return out, out != value, nil
}

// replaceEmbedded swaps URI occurrences inside prose. Translation here is a
// mechanical prefix swap; a fragment that does not match passes through.
func (r Rewriter) replaceEmbedded(s string, dir Direction) string {
	var marker, replacement string
	switch dir {
	case LocalToRemote:
		marker = string(r.Protocol) + "://" + r.Host + "/"
		replacement = uritranslate.RemoteScheme + ":///"
	default:
		marker = uritranslate.RemoteScheme + ":///"
		replacement = string(r.Protocol) + "://" + r.Host + "/"
	}

	if !strings.Contains(s, marker) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(s, marker)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		rest := s[i+len(marker):]
		end := strings.IndexAny(rest, _uriTerminators)
		if end < 0 {
			end = len(rest)
		}
		b.WriteString(replacement)
		b.WriteString(strings.TrimLeft(rest[:end], "/"))
		s = rest[end:]
	}
}

func joinPath(parent string, key gjson.Result) string {
	k := escapeKey(key.String())
	if parent == "" {
		return k
	}
	return parent + "." + k
}

// escapeKey protects gjson path metacharacters in object keys.
func escapeKey(k string) string {
	if !strings.ContainsAny(k, ".*?\\|#@") {
		return k
	}
	var b strings.Builder
	b.Grow(len(k) + 4)
	for i := 0; i < len(k); i++ {
		if strings.IndexByte(".*?\\|#@", k[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(k[i])
	}
	return b.String()
}
