package ycmd

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dshills/ycmd/internal/config"
	"github.com/dshills/ycmd/internal/logging"
)

// Completer command names accepted by the server.
const (
	CommandGoTo            = "GoTo"
	CommandGoToDeclaration = "GoToDeclaration"
	CommandGoToDefinition  = "GoToDefinition"
	CommandGetType         = "GetType"
	CommandGetDoc          = "GetDoc"
	CommandFixIt           = "FixIt"
	CommandRefactorRename  = "RefactorRename"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. Defaults to a null logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient overrides the HTTP client used for all server traffic.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPrompter sets the extra-conf confirmation prompter used when the
// policy is ask.
func WithPrompter(p Prompter) Option {
	return func(c *Client) { c.prompter = p }
}

// Client is the high-level interface to a locally-spawned ycmd server.
// It owns the session, tracks open buffers and their parse state, and
// exposes the semantic operations.
type Client struct {
	cfg        config.Config
	log        *logging.Logger
	httpClient *http.Client
	prompter   Prompter

	session    *Session
	dispatcher *Dispatcher
	tracker    *ParseTracker

	mu      sync.Mutex
	buffers map[string]Buffer
	timers  map[string]*time.Timer
}

// New creates a client. No server is started until Open.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		log:     logging.Null,
		buffers: make(map[string]Buffer),
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c.session = NewSession(cfg, c.log, c.httpClient)
	c.dispatcher = NewDispatcher(c.session, c.log, c.httpClient)
	c.dispatcher.SetExceptionHandler(
		NewRouter(cfg.ExtraConf, c.dispatcher, c.prompter, c.log))
	c.tracker = NewParseTracker()

	// A restarted server has no memory of prior analysis.
	c.session.OnClose(c.tracker.Reset)
	return c
}

// Open starts the server session.
func (c *Client) Open(ctx context.Context) error {
	return c.session.Open(ctx)
}

// Close stops all pending reparse timers and shuts the session down.
func (c *Client) Close() error {
	c.mu.Lock()
	for path, t := range c.timers {
		t.Stop()
		delete(c.timers, path)
	}
	c.mu.Unlock()
	return c.session.Close()
}

// IsRunning reports whether the server session is alive.
func (c *Client) IsRunning() bool {
	return c.session.IsRunning()
}

// Healthy issues an authenticated health probe.
func (c *Client) Healthy(ctx context.Context) error {
	return c.session.HealthCheck(ctx)
}

// OnParseResult registers an observer for parse completions.
func (c *Client) OnParseResult(fn ParseObserver) {
	c.tracker.Observe(fn)
}

// ParseStatus returns the parse state of an open buffer.
func (c *Client) ParseStatus(path string) ParseStatus {
	return c.tracker.Status(path)
}

// OpenBuffer registers a buffer and schedules its first parse.
func (c *Client) OpenBuffer(buf Buffer) error {
	path := buf.FilePath()
	c.mu.Lock()
	if _, ok := c.buffers[path]; ok {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.buffers[path] = buf
	c.mu.Unlock()

	c.log.Debug("buffer opened: %s", path)
	c.NotifyDeferred(path, c.cfg.Parse.FocusDebounce.Std())
	return nil
}

// CloseBuffer forgets a buffer and cancels any pending reparse.
func (c *Client) CloseBuffer(path string) error {
	c.mu.Lock()
	_, ok := c.buffers[path]
	delete(c.buffers, path)
	if t, tok := c.timers[path]; tok {
		t.Stop()
		delete(c.timers, path)
	}
	c.mu.Unlock()

	if !ok {
		return ErrBufferNotOpen
	}
	c.tracker.Forget(path)
	return nil
}

// Buffer returns an open buffer by path.
func (c *Client) Buffer(path string) (Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[path]
	return buf, ok
}

// BufferEdited invalidates the buffer's parse state and schedules a
// debounced reparse.
func (c *Client) BufferEdited(path string) {
	c.tracker.Invalidate(path)
	c.NotifyDeferred(path, c.cfg.Parse.IdleDebounce.Std())
}

// NotifyDeferred schedules a FileReadyToParse notification after delay.
// A pending notification for the same buffer is rescheduled, so a burst
// of edits produces one parse.
func (c *Client) NotifyDeferred(path string, delay time.Duration) {
	if delay <= 0 {
		delay = time.Millisecond
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[path]; ok {
		t.Stop()
	}
	c.timers[path] = time.AfterFunc(delay, func() {
		if err := c.NotifyReady(context.Background(), path); err != nil &&
			!errors.Is(err, ErrParseInFlight) && !errors.Is(err, ErrNotRunning) {
			c.log.Warn("deferred parse of %s: %v", path, err)
		}
	})
}

// NotifyReady sends a FileReadyToParse notification for the buffer and
// records the resulting diagnostics. At most one notification per
// buffer is in flight; a second call while one runs returns
// ErrParseInFlight.
func (c *Client) NotifyReady(ctx context.Context, path string) error {
	buf, ok := c.Buffer(path)
	if !ok {
		return ErrBufferNotOpen
	}
	if !c.tracker.Begin(path) {
		return ErrParseInFlight
	}

	req := EventRequest{
		RequestData: c.requestData(buf, 1, 1),
		EventName:   EventFileReadyToParse,
	}
	res, err := c.dispatcher.Send(ctx, PathEventNotification, req)
	if err != nil {
		var serr *ServerError
		if errors.As(err, &serr) && !IsHardError(serr) {
			// A soft failure leaves the buffer eligible for reparse,
			// never marking it errored.
			c.tracker.Dismiss(path, err)
			return err
		}
		c.tracker.Finish(path, nil, err)
		return err
	}

	c.tracker.Finish(path, res.Diagnostics, nil)
	return nil
}

// Completions requests completion candidates at a 1-based position.
// The request is refused while a parse notification for the buffer is
// in flight.
func (c *Client) Completions(ctx context.Context, path string, line, col int) (*CompletionResponse, error) {
	buf, err := c.semanticBuffer(path)
	if err != nil {
		return nil, err
	}

	res, err := c.dispatcher.Send(ctx, PathCompletions, c.requestData(buf, line, col))
	if err != nil {
		return nil, err
	}
	if res.Kind != ResultCompletions || res.Completions == nil {
		return nil, ErrNoResult
	}
	return res.Completions, nil
}

// Command runs a completer command at a 1-based position and returns
// the raw classified result.
func (c *Client) Command(ctx context.Context, path string, line, col int, args ...string) (Result, error) {
	buf, err := c.semanticBuffer(path)
	if err != nil {
		return Result{}, err
	}

	req := CommandRequest{
		RequestData:      c.requestData(buf, line, col),
		CommandArguments: args,
	}
	return c.dispatcher.Send(ctx, PathRunCompleterCommand, req)
}

// GoTo resolves the definition or declaration target under the cursor.
func (c *Client) GoTo(ctx context.Context, path string, line, col int) ([]Location, error) {
	res, err := c.Command(ctx, path, line, col, CommandGoTo)
	if err != nil {
		return nil, err
	}
	if res.Kind != ResultLocations {
		return nil, ErrNoResult
	}
	return res.Locations, nil
}

// GetType returns the type of the expression under the cursor.
func (c *Client) GetType(ctx context.Context, path string, line, col int) (string, error) {
	return c.messageCommand(ctx, path, line, col, CommandGetType)
}

// GetDoc returns documentation for the symbol under the cursor.
func (c *Client) GetDoc(ctx context.Context, path string, line, col int) (string, error) {
	return c.messageCommand(ctx, path, line, col, CommandGetDoc)
}

func (c *Client) messageCommand(ctx context.Context, path string, line, col int, command string) (string, error) {
	res, err := c.Command(ctx, path, line, col, command)
	if err != nil {
		return "", err
	}
	if msg := res.Message(); msg != "" {
		return msg, nil
	}
	return "", ErrNoResult
}

// FixIts requests automated fixes available at the cursor.
func (c *Client) FixIts(ctx context.Context, path string, line, col int) ([]FixIt, error) {
	res, err := c.Command(ctx, path, line, col, CommandFixIt)
	if err != nil {
		return nil, err
	}
	if res.Kind != ResultFixIts {
		return nil, ErrNoResult
	}
	return res.FixIts, nil
}

// RefactorRename renames the symbol under the cursor across files.
func (c *Client) RefactorRename(ctx context.Context, path string, line, col int, newName string) ([]FixIt, error) {
	res, err := c.Command(ctx, path, line, col, CommandRefactorRename, newName)
	if err != nil {
		return nil, err
	}
	if res.Kind != ResultFixIts {
		return nil, ErrNoResult
	}
	return res.FixIts, nil
}

// ApplyFixIt applies a fix-it's chunks to the open buffers they target.
// Every touched file must be open; edited buffers are invalidated and
// scheduled for reparse.
func (c *Client) ApplyFixIt(fix FixIt) error {
	groups := GroupChunksByFile(fix.Chunks)

	c.mu.Lock()
	for path := range groups {
		if _, ok := c.buffers[path]; !ok {
			c.mu.Unlock()
			return ErrBufferNotOpen
		}
	}
	targets := make(map[string]Buffer, len(groups))
	for path := range groups {
		targets[path] = c.buffers[path]
	}
	c.mu.Unlock()

	for path, chunks := range groups {
		if err := ApplyChunks(targets[path], chunks); err != nil {
			return err
		}
		c.BufferEdited(path)
	}
	return nil
}

// DebugInfo returns the server's debug report for the buffer's
// completer.
func (c *Client) DebugInfo(ctx context.Context, path string) (Result, error) {
	buf, ok := c.Buffer(path)
	if !ok {
		return Result{}, ErrBufferNotOpen
	}
	return c.dispatcher.Send(ctx, PathDebugInfo, c.requestData(buf, 1, 1))
}

// semanticBuffer fetches an open buffer and applies the busy guard:
// semantic requests are refused, without touching the network, while a
// parse notification for the buffer is in flight.
func (c *Client) semanticBuffer(path string) (Buffer, error) {
	buf, ok := c.Buffer(path)
	if !ok {
		return nil, ErrBufferNotOpen
	}
	if c.tracker.InFlight(path) {
		return nil, ErrParseInFlight
	}
	return buf, nil
}

// requestData builds the standard request content for a buffer and a
// 1-based cursor position.
func (c *Client) requestData(buf Buffer, line, col int) RequestData {
	return RequestData{
		FileData: map[string]FileData{
			buf.FilePath(): {
				Contents:  buf.Contents(),
				Filetypes: buf.Filetypes(),
			},
		},
		FilePath:  buf.FilePath(),
		LineNum:   line,
		ColumnNum: col,
	}
}
