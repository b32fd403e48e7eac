package ycmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/ycmd/internal/config"
	"github.com/dshills/ycmd/internal/logging"
)

// SessionStatus indicates the lifecycle state of the server session.
type SessionStatus int

const (
	// SessionStopped means no server process exists.
	SessionStopped SessionStatus = iota
	// SessionStarting means the server was spawned but has not announced
	// readiness yet.
	SessionStarting
	// SessionRunning means the server announced readiness and is serving.
	SessionRunning
	// SessionErrored means the last Open attempt failed.
	SessionErrored
)

// String returns a human-readable status name.
func (s SessionStatus) String() string {
	switch s {
	case SessionStopped:
		return "stopped"
	case SessionStarting:
		return "starting"
	case SessionRunning:
		return "running"
	case SessionErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// announcePattern matches the single readiness line the server prints.
var announcePattern = regexp.MustCompile(`serving on http://([^:\s]+):(\d+)`)

// Session owns the server subprocess, the per-session HMAC secret, and
// the resolved port. At most one server process exists per Session; the
// secret and port are mutated only by Open.
type Session struct {
	mu  sync.Mutex
	cfg config.Config
	log *logging.Logger

	httpClient *http.Client

	status     atomic.Int32
	generation atomic.Int64

	host   string
	port   int
	signer *Signer

	cmd  *exec.Cmd
	exit *procExit

	keepaliveStop chan struct{}

	onClose func()
}

// procExit carries the subprocess exit result. err is written before
// done is closed and read only after done is observed closed.
type procExit struct {
	done chan struct{}
	err  error
}

func (p *procExit) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// snapshot captures the immutable per-generation request parameters.
// A request begun against one snapshot is never retried against a later
// one; retries must take a fresh snapshot.
type snapshot struct {
	generation int64
	baseURL    string
	signer     *Signer
}

// NewSession creates a session manager. No process is started until Open.
func NewSession(cfg config.Config, log *logging.Logger, httpClient *http.Client) *Session {
	if log == nil {
		log = logging.Null
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Session{
		cfg:        cfg,
		log:        log.WithComponent("session"),
		httpClient: httpClient,
	}
}

// OnClose registers a callback invoked after the session is torn down,
// so owners can reset per-buffer state.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

// Status returns the current session status.
func (s *Session) Status() SessionStatus {
	return SessionStatus(s.status.Load())
}

// IsRunning reports whether the server process is alive and serving.
func (s *Session) IsRunning() bool {
	if s.Status() != SessionRunning {
		return false
	}
	s.mu.Lock()
	exit := s.exit
	s.mu.Unlock()
	return exit != nil && !exit.exited()
}

// Port returns the resolved server port, or 0 before startup.
func (s *Session) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Open tears down any existing session, generates a fresh secret, writes
// the one-time options file, launches the server, and waits for its
// readiness announcement. On timeout the subprocess is terminated and a
// *StartupTimeoutError is returned.
func (s *Session) Open(ctx context.Context) error {
	// A new session always replaces the old one.
	_ = s.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Store(int32(SessionStarting))

	secret, err := GenerateSecret()
	if err != nil {
		s.status.Store(int32(SessionErrored))
		return err
	}
	signer, err := NewSigner(secret)
	if err != nil {
		s.status.Store(int32(SessionErrored))
		return err
	}

	optsPath, err := writeOptionsFile(buildOptions(s.cfg, secret))
	if err != nil {
		s.status.Store(int32(SessionErrored))
		return err
	}
	// The secret lives on only inside the signer and the options file;
	// the server deletes the file after reading it.
	for i := range secret {
		secret[i] = 0
	}

	cmd, output, exit, err := s.launch(optsPath)
	if err != nil {
		s.status.Store(int32(SessionErrored))
		return err
	}

	portCh := make(chan [2]string, 1)
	go scanAnnounce(output, portCh, s.log)

	timeout := s.cfg.Server.StartupTimeout.Std()
	select {
	case hp := <-portCh:
		port, convErr := strconv.Atoi(hp[1])
		if convErr != nil || port <= 0 {
			terminate(cmd, exit)
			s.status.Store(int32(SessionErrored))
			return fmt.Errorf("ycmd announced invalid port %q", hp[1])
		}
		s.host = hp[0]
		s.port = port
		s.signer = signer
		s.cmd = cmd
		s.exit = exit
		s.generation.Add(1)
		s.status.Store(int32(SessionRunning))
		s.startKeepaliveLocked()
		s.log.Info("server ready on %s:%d (pid %d)", s.host, s.port, cmd.Process.Pid)
		return nil

	case <-exit.done:
		s.status.Store(int32(SessionErrored))
		if exit.err != nil {
			return fmt.Errorf("ycmd server exited during startup: %w", exit.err)
		}
		return fmt.Errorf("ycmd server exited during startup")

	case <-time.After(timeout):
		terminate(cmd, exit)
		s.status.Store(int32(SessionErrored))
		return &StartupTimeoutError{Timeout: timeout}

	case <-ctx.Done():
		terminate(cmd, exit)
		s.status.Store(int32(SessionStopped))
		return ctx.Err()
	}
}

// launch starts the server process with combined stdout/stderr piped to
// the returned file, plus a channel closed when the process exits.
func (s *Session) launch(optsPath string) (*exec.Cmd, *os.File, *procExit, error) {
	command := s.cfg.Server.Command
	if len(command) == 0 {
		return nil, nil, nil, fmt.Errorf("no server command configured")
	}
	args := make([]string, 0, len(command)+1+len(s.cfg.Server.Args))
	args = append(args, command[1:]...)
	args = append(args, "--options_file="+optsPath)
	if s.cfg.Server.Host != "" {
		args = append(args, "--host="+s.cfg.Server.Host)
	}
	args = append(args, s.cfg.Server.Args...)

	cmd := exec.Command(command[0], args...)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, nil, fmt.Errorf("starting ycmd server: %w", err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	exit := &procExit{done: make(chan struct{})}
	go func() {
		exit.err = cmd.Wait()
		close(exit.done)
	}()

	return cmd, pr, exit, nil
}

// scanAnnounce reads server output lines, reporting the first readiness
// announcement and draining the rest so the pipe never fills.
func scanAnnounce(output *os.File, portCh chan<- [2]string, log *logging.Logger) {
	defer output.Close()

	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		line := scanner.Text()
		if m := announcePattern.FindStringSubmatch(line); m != nil {
			select {
			case portCh <- [2]string{m[1], m[2]}:
			default:
			}
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			log.Debug("server: %s", trimmed)
		}
	}
}

// terminate kills a process that never became ready and reaps it.
func terminate(cmd *exec.Cmd, exit *procExit) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-exit.done
}

// Close shuts the session down. It is idempotent: with no live session
// it is a no-op. A graceful interrupt is followed by a bounded wait and
// a kill if the process is still alive.
func (s *Session) Close() error {
	s.mu.Lock()
	cmd := s.cmd
	exit := s.exit
	stopKeepalive := s.keepaliveStop
	onClose := s.onClose

	s.cmd = nil
	s.exit = nil
	s.signer = nil
	s.host = ""
	s.port = 0
	s.keepaliveStop = nil
	if cmd != nil {
		s.status.Store(int32(SessionStopped))
	}
	s.mu.Unlock()

	if stopKeepalive != nil {
		close(stopKeepalive)
	}
	if cmd == nil {
		return nil
	}

	s.log.Debug("closing session (pid %d)", cmd.Process.Pid)
	_ = cmd.Process.Signal(os.Interrupt)

	grace := s.cfg.Server.ShutdownGrace.Std()
	select {
	case <-exit.done:
	case <-time.After(grace):
		s.log.Warn("server did not exit within %v, killing", grace)
		_ = cmd.Process.Kill()
		<-exit.done
	}

	if onClose != nil {
		onClose()
	}
	return nil
}

// Snapshot returns the request parameters for the current generation.
// ok is false when no session is running.
func (s *Session) Snapshot() (snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil || s.port == 0 || SessionStatus(s.status.Load()) != SessionRunning {
		return snapshot{}, false
	}
	return snapshot{
		generation: s.generation.Load(),
		baseURL:    fmt.Sprintf("http://%s:%d", s.host, s.port),
		signer:     s.signer,
	}, true
}

// Generation returns the current session generation. It increments on
// every successful Open, letting callers detect stale responses.
func (s *Session) Generation() int64 {
	return s.generation.Load()
}

// startKeepaliveLocked launches the single-slot keepalive loop. Must be
// called with mu held and an open session.
func (s *Session) startKeepaliveLocked() {
	interval := s.cfg.Server.KeepaliveInterval.Std()
	if interval <= 0 {
		return
	}

	stop := make(chan struct{})
	s.keepaliveStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// Keepalive only prevents idle self-termination;
				// failures are logged, never fatal.
				if err := s.HealthCheck(context.Background()); err != nil {
					s.log.Warn("keepalive failed: %v", err)
				}
			}
		}
	}()
}

// HealthCheck issues an authenticated GET /healthy against the running
// session.
func (s *Session) HealthCheck(ctx context.Context) error {
	snap, ok := s.Snapshot()
	if !ok {
		return ErrNotRunning
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snap.baseURL+PathHealthy, nil)
	if err != nil {
		return err
	}
	req.Header.Set(SignatureHeader, snap.signer.SignBase64(http.MethodGet, PathHealthy, nil))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &TransportError{Path: PathHealthy, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Path: PathHealthy, Err: fmt.Errorf("status %s", resp.Status)}
	}
	return nil
}
