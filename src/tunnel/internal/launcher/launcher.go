// Package launcher starts language servers on remote hosts over ssh and
// exposes their standard streams to the session proxy.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/executor"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/sshconfig"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Transport failures surface from ssh itself with this exit status, as
// opposed to the remote command's own status.
const _sshTransportExitCode = 255

// Keepalive and multiplexing options for the session-carrying connection.
// Control sockets are disabled so a shared master connection dying cannot
// take the session down with it.
var _sshOptions = []string{
	"-q",
	"-o", "ServerAliveInterval=10",
	"-o", "ServerAliveCountMax=6",
	"-o", "TCPKeepAlive=yes",
	"-o", "ControlMaster=no",
	"-o", "ControlPath=none",
}

// Spec describes one remote server launch.
type Spec struct {
	// Host is the resolved ssh endpoint.
	Host sshconfig.Host
	// RootDir is the remote workspace root the server starts in.
	RootDir string
	// Command is the server invocation, already joined as a shell line.
	Command string
	// Shell forces a login-shell dialect ("sh" or "csh"). Empty probes the
	// remote account's shell.
	Shell string
}

// Remote is a running remote server process.
type Remote struct {
	// Stdin carries frames to the server.
	Stdin io.WriteCloser
	// Stdout carries frames from the server.
	Stdout io.ReadCloser
	// Stderr carries the server's diagnostic output.
	Stderr io.ReadCloser

	host string
	cmd  *exec.Cmd
}

// Launcher starts remote language servers.
type Launcher interface {
	// Launch starts the server described by spec. The returned Remote is
	// live; the caller owns its streams and must call Wait.
	Launch(ctx context.Context, spec Spec) (*Remote, error)
}

// Params define values to be used by the launcher.
type Params struct {
	fx.In

	Executor executor.Executor
	Logger   *zap.SugaredLogger
}

type launcherImpl struct {
	executor  executor.Executor
	logger    *zap.SugaredLogger
	startFunc func(cmd *exec.Cmd) error
}

// Option defines options to customize the launcher's behavior.
type Option func(*launcherImpl)

// WithStartFunc provides customized process start behavior for tests.
func WithStartFunc(startFunc func(cmd *exec.Cmd) error) Option {
	return func(l *launcherImpl) {
		l.startFunc = startFunc
	}
}

// New creates a Launcher.
func New(p Params, opts ...Option) Launcher {
	l := &launcherImpl{
		executor:  p.Executor,
		logger:    p.Logger,
		startFunc: func(cmd *exec.Cmd) error { return cmd.Start() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch starts the remote server and wires up its streams.
func (l *launcherImpl) Launch(ctx context.Context, spec Spec) (*Remote, error) {
	shell := spec.Shell
	if shell == "" {
		shell = l.probeShell(ctx, spec.Host)
	}

	argv := sshArgs(spec.Host)
	argv = append(argv, remoteCommand(shell, spec.RootDir, spec.Command))

	cmd := exec.CommandContext(ctx, "ssh", argv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.LaunchError{Host: spec.Host.Alias, Command: spec.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errors.LaunchError{Host: spec.Host.Alias, Command: spec.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errors.LaunchError{Host: spec.Host.Alias, Command: spec.Command, Err: err}
	}

	l.logger.Infow("launching remote server",
		"host", spec.Host.Alias,
		"hostname", spec.Host.Hostname,
		"command", spec.Command,
		"rootDir", spec.RootDir,
		"shell", shell,
	)
	if err := l.startFunc(cmd); err != nil {
		return nil, &errors.LaunchError{Host: spec.Host.Alias, Command: spec.Command, Err: err}
	}

	return &Remote{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		host:   spec.Host.Alias,
		cmd:    cmd,
	}, nil
}

// probeShell asks the remote account which login shell it runs so that the
// environment bootstrap speaks the right dialect. Defaults to sh when the
// probe fails.
func (l *launcherImpl) probeShell(ctx context.Context, host sshconfig.Host) string {
	argv := sshArgs(host)
	argv = append(argv, "echo $SHELL")
	stdout, _, _, err := l.executor.Run(exec.CommandContext(ctx, "ssh", argv...))
	if err != nil {
		l.logger.Infow("shell probe failed, assuming sh", "host", host.Alias, "error", err)
		return "sh"
	}
	switch filepath.Base(strings.TrimSpace(stdout)) {
	case "csh", "tcsh":
		return "csh"
	default:
		return "sh"
	}
}

// NewRemote wraps the streams of an already started process. Alternate
// transports and tests use it to satisfy the Launcher contract without ssh.
func NewRemote(host string, stdin io.WriteCloser, stdout, stderr io.ReadCloser, cmd *exec.Cmd) *Remote {
	return &Remote{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		host:   host,
		cmd:    cmd,
	}
}

// Wait blocks until the process exits and classifies the result. An ssh
// transport failure becomes a TransportError; any other exit becomes a
// ProcessExitedError carrying the remote status.
func (r *Remote) Wait() error {
	if r.cmd == nil {
		return nil
	}
	err := r.cmd.Wait()
	code := 0
	if r.cmd.ProcessState != nil {
		code = r.cmd.ProcessState.ExitCode()
	}
	if code == _sshTransportExitCode {
		return &errors.TransportError{Host: r.host, Err: fmt.Errorf("ssh connection lost: %w", err)}
	}
	return &errors.ProcessExitedError{Host: r.host, ExitCode: code}
}

// Kill forcibly terminates the ssh process.
func (r *Remote) Kill() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Process.Kill()
}

func sshArgs(host sshconfig.Host) []string {
	argv := append([]string{}, _sshOptions...)
	if host.Port != "" {
		argv = append(argv, "-p", host.Port)
	}
	if host.User != "" {
		argv = append(argv, "-l", host.User)
	}
	if host.IdentityFile != "" {
		argv = append(argv, "-i", host.IdentityFile)
	}
	return append(argv, host.Hostname)
}

// remoteCommand builds the single shell line ssh runs on the remote: source
// the login environment, change into the workspace root, then exec the
// server so signals and exit status pass through.
func remoteCommand(shell, rootDir, command string) string {
	switch shell {
	case "csh":
		return fmt.Sprintf(
			"csh -c 'if ( -r ~/.cshrc ) source ~/.cshrc >& /dev/null; cd %s && exec %s'",
			shellQuote(rootDir), command,
		)
	default:
		return fmt.Sprintf(
			`sh -c 'for f in /etc/profile ~/.profile ~/.bash_profile ~/.bashrc; do [ -r "$f" ] && . "$f" >/dev/null 2>&1; done; cd %s && exec %s'`,
			shellQuote(rootDir), command,
		)
	}
}

// shellQuote escapes a path for use inside the single-quoted remote command.
func shellQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
