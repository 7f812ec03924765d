// Package proxy pumps LSP frames between a local editor endpoint and a
// remote server's standard streams, rewriting URI-bearing fields in flight.
package proxy

import (
	"bufio"
	"io"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/uber-go/tally/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/framing"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/rewrite"
)

const (
	_metricForwarded = "frames_forwarded"
	_metricDropped   = "frames_dropped"
	_metricUnrouted  = "frames_unrouted"
	_tagDirection    = "direction"
)

// Config describes one session's endpoints.
type Config struct {
	Key      entity.SessionKey
	Rewriter rewrite.Rewriter

	// RemoteIn and RemoteOut are the remote server's stdin and stdout.
	RemoteIn  io.WriteCloser
	RemoteOut io.Reader
	// RemoteErr carries the server's diagnostic output; drained into logs.
	RemoteErr io.Reader

	Logger *zap.SugaredLogger
	Scope  tally.Scope

	// OnFatal is invoked at most once, with the error that ended the session.
	OnFatal func(err error)
}

// Proxy is the per-session pump engine. Frames within one direction keep
// their order; the two directions are independent.
type Proxy struct {
	cfg     Config
	decoder *framing.Decoder

	// writeMu serializes every write to the remote stdin, whether it comes
	// from the editor pump or from control-plane shutdown frames.
	writeMu sync.Mutex

	// localMu guards the editor-side writer, which changes when an editor
	// detaches and a new one attaches.
	localMu     sync.Mutex
	localWriter io.Writer

	fatalOnce sync.Once
	fatalErr  error

	// sawExit is set once the editor's exit notification has been forwarded,
	// after which a remote EOF is an expected end of session.
	exitMu  sync.Mutex
	sawExit bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Proxy. The remote pump does not run until Run is called, so
// callers may use WriteRemote and NextRemote to perform the server handshake
// first.
func New(cfg Config) *Proxy {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Scope == nil {
		cfg.Scope = tally.NoopScope
	}
	return &Proxy{
		cfg:     cfg,
		decoder: framing.NewDecoder(cfg.RemoteOut),
		done:    make(chan struct{}),
	}
}

// WriteRemote frames and writes one payload to the remote stdin. Safe for
// concurrent use.
func (p *Proxy) WriteRemote(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := framing.Write(p.cfg.RemoteIn, payload); err != nil {
		return &errors.TransportError{Host: p.cfg.Key.Host, Err: err}
	}
	return nil
}

// NextRemote decodes the next frame from the remote stdout. Only valid
// before Run starts the remote pump.
func (p *Proxy) NextRemote() ([]byte, error) {
	return p.decoder.Next()
}

// Run starts the remote→editor pump and the stderr drain. It returns
// immediately; Done is closed once the remote side has nothing further to
// deliver.
func (p *Proxy) Run() {
	p.wg.Add(1)
	go p.pumpRemote()
	if p.cfg.RemoteErr != nil {
		p.wg.Add(1)
		go p.drainStderr()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
}

// Attach connects an editor endpoint. Frames from the remote are delivered
// to it, and a pump carrying its frames to the remote runs until the
// endpoint reaches EOF. Attaching replaces any previous endpoint.
func (p *Proxy) Attach(local io.ReadWriter) {
	p.localMu.Lock()
	p.localWriter = local
	p.localMu.Unlock()
	go p.pumpLocal(local)
}

// Done is closed when the remote side of the session has ended.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that ended the session, if any.
func (p *Proxy) Err() error {
	select {
	case <-p.done:
	default:
	}
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.fatalErr
}

// Close shuts the remote stdin, which signals end of input to the server.
func (p *Proxy) Close() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.cfg.RemoteIn.Close()
}

// pumpLocal carries editor frames to the remote until the editor detaches.
func (p *Proxy) pumpLocal(local io.Reader) {
	counterFwd := p.cfg.Scope.Tagged(map[string]string{_tagDirection: rewrite.LocalToRemote.String()}).Counter(_metricForwarded)
	counterDrop := p.cfg.Scope.Tagged(map[string]string{_tagDirection: rewrite.LocalToRemote.String()}).Counter(_metricDropped)

	decoder := framing.NewDecoder(local)
	for {
		payload, err := decoder.Next()
		if err == io.EOF {
			p.cfg.Logger.Infow("editor detached", "session", p.cfg.Key.String())
			return
		}
		if err != nil {
			if errors.IsRecoverable(err) {
				counterDrop.Inc(1)
				p.cfg.Logger.Warnw("dropping malformed editor frame", "session", p.cfg.Key.String(), "error", err)
				continue
			}
			p.cfg.Logger.Warnw("editor stream failed", "session", p.cfg.Key.String(), "error", err)
			return
		}

		if method := gjson.GetBytes(payload, "method").Str; method == "exit" {
			p.exitMu.Lock()
			p.sawExit = true
			p.exitMu.Unlock()
		}

		out, err := p.cfg.Rewriter.Apply(payload, rewrite.LocalToRemote)
		if err != nil {
			counterDrop.Inc(1)
			p.cfg.Logger.Warnw("dropping untranslatable editor frame", "session", p.cfg.Key.String(), "error", err)
			continue
		}
		if err := p.WriteRemote(out); err != nil {
			p.fatal(err)
			return
		}
		counterFwd.Inc(1)
	}
}

// pumpRemote carries server frames to the attached editor.
func (p *Proxy) pumpRemote() {
	defer p.wg.Done()
	counterFwd := p.cfg.Scope.Tagged(map[string]string{_tagDirection: rewrite.RemoteToLocal.String()}).Counter(_metricForwarded)
	counterDrop := p.cfg.Scope.Tagged(map[string]string{_tagDirection: rewrite.RemoteToLocal.String()}).Counter(_metricDropped)
	counterUnrouted := p.cfg.Scope.Counter(_metricUnrouted)

	for {
		payload, err := p.decoder.Next()
		if err == io.EOF {
			p.exitMu.Lock()
			expected := p.sawExit
			p.exitMu.Unlock()
			if !expected {
				p.fatal(&errors.ProcessExitedError{Host: p.cfg.Key.Host})
			}
			return
		}
		if err != nil {
			if errors.IsRecoverable(err) {
				counterDrop.Inc(1)
				p.cfg.Logger.Warnw("dropping malformed server frame", "session", p.cfg.Key.String(), "error", err)
				continue
			}
			p.fatal(&errors.TransportError{Host: p.cfg.Key.Host, Err: err})
			return
		}

		out, err := p.cfg.Rewriter.Apply(payload, rewrite.RemoteToLocal)
		if err != nil {
			counterDrop.Inc(1)
			p.cfg.Logger.Warnw("dropping untranslatable server frame", "session", p.cfg.Key.String(), "error", err)
			continue
		}

		p.localMu.Lock()
		local := p.localWriter
		p.localMu.Unlock()
		if local == nil {
			counterUnrouted.Inc(1)
			continue
		}
		if err := framing.Write(local, out); err != nil {
			counterUnrouted.Inc(1)
			p.cfg.Logger.Warnw("editor write failed", "session", p.cfg.Key.String(), "error", err)
			continue
		}
		counterFwd.Inc(1)
	}
}

// drainStderr forwards the remote server's diagnostics into structured logs.
func (p *Proxy) drainStderr() {
	defer p.wg.Done()
	scanner := bufio.NewScanner(p.cfg.RemoteErr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.cfg.Logger.Infow("remote stderr", "session", p.cfg.Key.String(), "line", scanner.Text())
	}
}

func (p *Proxy) fatal(err error) {
	p.fatalOnce.Do(func() {
		p.exitMu.Lock()
		p.fatalErr = err
		p.exitMu.Unlock()
		var closeErr error
		if p.cfg.RemoteIn != nil {
			closeErr = p.Close()
		}
		if closeErr != nil {
			err = multierr.Append(err, closeErr)
		}
		if p.cfg.OnFatal != nil {
			p.cfg.OnFatal(err)
		}
	})
}
