package ycmd

import "sync"

// ParseStatus is the analysis state of one buffer.
type ParseStatus int

const (
	// ParseUnparsed means the buffer has never been analyzed, or its
	// last analysis was invalidated by an edit or session restart.
	ParseUnparsed ParseStatus = iota
	// ParseParsing means a FileReadyToParse notification is in flight.
	ParseParsing
	// ParseParsed means the last notification completed with diagnostics.
	ParseParsed
	// ParseErrored means the last notification failed.
	ParseErrored
)

// String returns a human-readable status name.
func (s ParseStatus) String() string {
	switch s {
	case ParseUnparsed:
		return "unparsed"
	case ParseParsing:
		return "parsing"
	case ParseParsed:
		return "parsed"
	case ParseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ParseResult is delivered to observers when a parse notification
// finishes. Exactly one of Diagnostics and Err is meaningful.
type ParseResult struct {
	FilePath    string
	Diagnostics []Diagnostic
	Err         error
}

// ParseObserver receives parse results. Observers run on the goroutine
// that finished the parse and must not block.
type ParseObserver func(ParseResult)

// ParseTracker enforces at most one in-flight parse notification per
// buffer and fans results out to observers.
type ParseTracker struct {
	mu        sync.Mutex
	states    map[string]ParseStatus
	observers []ParseObserver
}

// NewParseTracker creates an empty tracker.
func NewParseTracker() *ParseTracker {
	return &ParseTracker{states: make(map[string]ParseStatus)}
}

// Observe registers an observer for all future parse results.
func (t *ParseTracker) Observe(fn ParseObserver) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Status returns the buffer's current parse status. Unknown buffers are
// unparsed.
func (t *ParseTracker) Status(path string) ParseStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[path]
}

// InFlight reports whether a parse notification is running for path.
func (t *ParseTracker) InFlight(path string) bool {
	return t.Status(path) == ParseParsing
}

// Begin claims the in-flight slot for path. It returns false if a
// notification is already running; callers must not send one.
func (t *ParseTracker) Begin(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[path] == ParseParsing {
		return false
	}
	t.states[path] = ParseParsing
	return true
}

// Finish records the outcome of an in-flight notification and notifies
// observers. A Finish without a matching Begin is ignored.
func (t *ParseTracker) Finish(path string, diags []Diagnostic, err error) {
	status := ParseParsed
	if err != nil {
		status = ParseErrored
	}
	t.finish(path, status, diags, err)
}

// Dismiss records a recoverable failure of an in-flight notification.
// Observers still see the error, but the buffer lands directly on
// unparsed so a later notification can retry. A Dismiss without a
// matching Begin is ignored.
func (t *ParseTracker) Dismiss(path string, err error) {
	t.finish(path, ParseUnparsed, nil, err)
}

func (t *ParseTracker) finish(path string, status ParseStatus, diags []Diagnostic, err error) {
	t.mu.Lock()
	if t.states[path] != ParseParsing {
		t.mu.Unlock()
		return
	}
	t.states[path] = status
	observers := make([]ParseObserver, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	res := ParseResult{FilePath: path, Diagnostics: diags, Err: err}
	for _, fn := range observers {
		fn(res)
	}
}

// Invalidate marks the buffer unparsed. An edit landing while a
// notification is in flight does not cancel it; the eventual Finish
// still runs, but the buffer needs a fresh parse afterwards.
func (t *ParseTracker) Invalidate(path string) {
	t.mu.Lock()
	if t.states[path] != ParseParsing {
		t.states[path] = ParseUnparsed
	}
	t.mu.Unlock()
}

// Forget drops all state for a closed buffer.
func (t *ParseTracker) Forget(path string) {
	t.mu.Lock()
	delete(t.states, path)
	t.mu.Unlock()
}

// Reset marks every buffer unparsed. Used after a session restart,
// when all previous server-side analysis is gone.
func (t *ParseTracker) Reset() {
	t.mu.Lock()
	for path := range t.states {
		t.states[path] = ParseUnparsed
	}
	t.mu.Unlock()
}
