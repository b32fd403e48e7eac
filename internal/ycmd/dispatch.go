package ycmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/ycmd/internal/logging"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// ExceptionHandler decides what to do with a structured server
// exception. retry true asks the dispatcher to reissue the original
// request once against a fresh session snapshot.
type ExceptionHandler interface {
	Handle(ctx context.Context, serr *ServerError) (retry bool, err error)
}

// Future is the handle for an asynchronous request.
type Future struct {
	done chan struct{}
	res  Result
	err  error
}

// Done returns a channel closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Dispatcher signs, sends, and decodes requests against the current
// session generation. Responses that complete after the session they
// were issued against has closed are discarded.
type Dispatcher struct {
	session    *Session
	httpClient *http.Client
	log        *logging.Logger

	// openMu serializes the lazy-open path so concurrent requests
	// against a stopped session start exactly one server.
	openMu sync.Mutex

	handler ExceptionHandler
}

// NewDispatcher creates a dispatcher bound to a session.
func NewDispatcher(session *Session, log *logging.Logger, httpClient *http.Client) *Dispatcher {
	if log == nil {
		log = logging.Null
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{
		session:    session,
		httpClient: httpClient,
		log:        log.WithComponent("dispatch"),
	}
}

// SetExceptionHandler installs the server exception handler.
func (d *Dispatcher) SetExceptionHandler(h ExceptionHandler) {
	d.handler = h
}

// Send issues a signed POST to path with a JSON payload and decodes the
// response. Structured server exceptions are offered to the exception
// handler, which may resolve them and request a single retry.
func (d *Dispatcher) Send(ctx context.Context, path string, payload any) (Result, error) {
	return d.send(ctx, path, payload, true)
}

// SendNoRoute issues a request without exception handling or the busy
// guard. The exception handler uses it for its own resolution calls.
func (d *Dispatcher) SendNoRoute(ctx context.Context, path string, payload any) (Result, error) {
	return d.send(ctx, path, payload, false)
}

func (d *Dispatcher) send(ctx context.Context, path string, payload any, route bool) (Result, error) {
	res, err := d.once(ctx, path, payload)

	var serr *ServerError
	if route && errors.As(err, &serr) && d.handler != nil {
		retry, herr := d.handler.Handle(ctx, serr)
		if herr != nil {
			return Result{}, herr
		}
		if retry {
			return d.once(ctx, path, payload)
		}
	}
	return res, err
}

// once performs a single signed round trip against the current session
// snapshot.
func (d *Dispatcher) once(ctx context.Context, path string, payload any) (Result, error) {
	snap, ok := d.session.Snapshot()
	if !ok {
		// Lazy start: the first request after a stop brings the server
		// up. Losers of the lock reuse the winner's session.
		d.openMu.Lock()
		if snap, ok = d.session.Snapshot(); !ok {
			if err := d.session.Open(ctx); err != nil {
				d.openMu.Unlock()
				return Result{}, err
			}
			snap, ok = d.session.Snapshot()
		}
		d.openMu.Unlock()
		if !ok {
			return Result{}, ErrNotRunning
		}
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return Result{}, fmt.Errorf("encoding request for %s: %w", path, err)
		}
	}

	id := uuid.NewString()
	log := d.log.WithField("request", id[:8])

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, snap.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, snap.signer.SignBase64(http.MethodPost, path, body))

	log.Debug("POST %s (%d bytes)", path, len(body))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Result{}, &TransportError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, &TransportError{Path: path, Err: err}
	}

	// A response that lands after the session it was issued against has
	// been replaced or closed belongs to a dead conversation.
	if d.session.Generation() != snap.generation {
		return Result{}, ErrSessionClosed
	}

	if sig := resp.Header.Get(SignatureHeader); sig != "" {
		if !snap.signer.VerifyBody(respBody, sig) {
			return Result{}, &TransportError{Path: path, Err: errors.New("invalid hmac on response")}
		}
	}

	res, serr := decodeResponse(respBody)
	if serr != nil {
		log.Debug("server exception %s: %s", serr.Type, serr.Message)
		return Result{}, serr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &TransportError{Path: path, Err: fmt.Errorf("status %s", resp.Status)}
	}

	log.Debug("result kind %s", res.Kind)
	return res, nil
}

// SendAsync issues Send on a goroutine and returns a Future.
func (d *Dispatcher) SendAsync(ctx context.Context, path string, payload any) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		f.res, f.err = d.Send(ctx, path, payload)
		close(f.done)
	}()
	return f
}
