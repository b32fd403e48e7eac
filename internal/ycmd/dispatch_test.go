package ycmd

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dshills/ycmd/internal/config"
)

// testSession builds a session in the running state pointed at a local
// test server, bypassing process startup.
func testSession(t *testing.T, rawURL string) *Session {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	signer, err := NewSigner(testSecret())
	if err != nil {
		t.Fatal(err)
	}

	s := NewSession(config.Default(), nil, nil)
	s.host = u.Hostname()
	s.port = port
	s.signer = signer
	s.generation.Store(1)
	s.status.Store(int32(SessionRunning))
	return s
}

func TestDispatcherSend(t *testing.T) {
	var gotPath, gotSig string
	srv := httptest.NewServer(okJSON(`{"completions":[{"insertion_text":"Println"}],"completion_start_column":1}`, &gotPath, &gotSig))
	defer srv.Close()

	d := NewDispatcher(testSession(t, srv.URL), nil, nil)
	res, err := d.Send(context.Background(), PathCompletions, RequestData{FilePath: "/tmp/x.go", LineNum: 1, ColumnNum: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultCompletions {
		t.Fatalf("kind = %v, want completions", res.Kind)
	}
	if gotPath != PathCompletions {
		t.Errorf("request path = %q", gotPath)
	}
	if gotSig == "" {
		t.Error("request carried no signature header")
	}
	if _, err := base64.StdEncoding.DecodeString(gotSig); err != nil {
		t.Errorf("signature header is not base64: %v", err)
	}
}

func TestDispatcherLazyOpen(t *testing.T) {
	srv := httptest.NewServer(okJSON(`{"message":"up"}`, nil, nil))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	cfg := config.Default()
	cfg.Server.Command = []string{"/bin/sh", "-c",
		"echo \"serving on http://127.0.0.1:" + u.Port() + "\"; sleep 30"}
	cfg.Server.KeepaliveInterval = 0

	s := NewSession(cfg, nil, nil)
	defer s.Close()
	d := NewDispatcher(s, nil, nil)

	// No explicit Open: the first request starts the session.
	res, err := d.Send(context.Background(), PathRunCompleterCommand, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Message(); got != "up" {
		t.Errorf("message = %q", got)
	}
	if !s.IsRunning() {
		t.Error("session not running after lazy open")
	}
}

func TestDispatcherLazyOpenConcurrent(t *testing.T) {
	srv := httptest.NewServer(okJSON(`{"message":"up"}`, nil, nil))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	cfg := config.Default()
	cfg.Server.Command = []string{"/bin/sh", "-c",
		"echo \"serving on http://127.0.0.1:" + u.Port() + "\"; sleep 30"}
	cfg.Server.KeepaliveInterval = 0

	s := NewSession(cfg, nil, nil)
	defer s.Close()
	d := NewDispatcher(s, nil, nil)

	// Requests racing the lazy open must all be served by the one
	// session the winner starts.
	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Send(context.Background(), PathRunCompleterCommand, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d: %v", i, err)
		}
	}
	if got := s.Generation(); got != 1 {
		t.Errorf("generation = %d, want 1 (session opened more than once)", got)
	}
}

func TestDispatcherLazyOpenFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Command = nil
	s := NewSession(cfg, nil, nil)
	d := NewDispatcher(s, nil, nil)

	if _, err := d.Send(context.Background(), PathCompletions, nil); err == nil {
		t.Error("Send succeeded with no way to start a server")
	}
}

func TestDispatcherServerException(t *testing.T) {
	srv := httptest.NewServer(okJSON(`{"exception":{"TYPE":"RuntimeError"},"message":"still parsing"}`, nil, nil))
	defer srv.Close()

	d := NewDispatcher(testSession(t, srv.URL), nil, nil)
	_, err := d.Send(context.Background(), PathCompletions, nil)

	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *ServerError", err)
	}
	if serr.Type != ExceptionRuntimeError || serr.Message != "still parsing" {
		t.Errorf("server error = %+v", serr)
	}
}

type retryHandler struct {
	calls int32
	retry bool
}

func (h *retryHandler) Handle(context.Context, *ServerError) (bool, error) {
	atomic.AddInt32(&h.calls, 1)
	return h.retry, nil
}

func TestDispatcherRetriesAfterResolution(t *testing.T) {
	var reqs int32
	srv := httptest.NewServer(sequence(&reqs,
		`{"exception":{"TYPE":"UnknownExtraConf","extra_conf_file":"/p/.ycm_extra_conf.py"},"message":"found"}`,
		`{"completions":[],"completion_start_column":1}`,
	))
	defer srv.Close()

	d := NewDispatcher(testSession(t, srv.URL), nil, nil)
	h := &retryHandler{retry: true}
	d.SetExceptionHandler(h)

	res, err := d.Send(context.Background(), PathCompletions, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultCompletions {
		t.Errorf("kind = %v", res.Kind)
	}
	if h.calls != 1 {
		t.Errorf("handler calls = %d, want 1", h.calls)
	}
	if reqs != 2 {
		t.Errorf("server requests = %d, want 2", reqs)
	}
}

func TestDispatcherRetryIsBounded(t *testing.T) {
	var reqs int32
	body := `{"exception":{"TYPE":"UnknownExtraConf","extra_conf_file":"/p/.ycm_extra_conf.py"},"message":"found"}`
	srv := httptest.NewServer(sequence(&reqs, body, body, body))
	defer srv.Close()

	d := NewDispatcher(testSession(t, srv.URL), nil, nil)
	d.SetExceptionHandler(&retryHandler{retry: true})

	_, err := d.Send(context.Background(), PathCompletions, nil)
	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *ServerError", err)
	}
	if reqs != 2 {
		t.Errorf("server requests = %d, want exactly one retry", reqs)
	}
}

func TestDispatcherVerifiesResponseSignature(t *testing.T) {
	body := `{"message":"int"}`

	t.Run("valid", func(t *testing.T) {
		srv := httptest.NewServer(signedJSON(t, body, testSecret()))
		defer srv.Close()
		d := NewDispatcher(testSession(t, srv.URL), nil, nil)
		if _, err := d.Send(context.Background(), PathRunCompleterCommand, nil); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("forged", func(t *testing.T) {
		wrong := make([]byte, SecretLength)
		srv := httptest.NewServer(signedJSON(t, body, wrong))
		defer srv.Close()
		d := NewDispatcher(testSession(t, srv.URL), nil, nil)
		_, err := d.Send(context.Background(), PathRunCompleterCommand, nil)
		var terr *TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("err = %v, want *TransportError", err)
		}
	})
}

func TestDispatcherDiscardsStaleGeneration(t *testing.T) {
	// The session is replaced while the request is in flight; the
	// response belongs to a dead conversation.
	var sess *Session
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess.generation.Add(1)
		w.Write([]byte(`{"message":"x"}`))
	}))
	defer srv.Close()

	sess = testSession(t, srv.URL)
	d := NewDispatcher(sess, nil, nil)

	_, err := d.Send(context.Background(), PathCompletions, nil)
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

// okJSON serves a fixed JSON body, optionally recording the request
// path and signature header.
func okJSON(body string, path, sig *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path != nil {
			*path = r.URL.Path
		}
		if sig != nil {
			*sig = r.Header.Get(SignatureHeader)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

// sequence serves the nth body for the nth request, repeating the last
// one after the script runs out, and counts requests.
func sequence(count *int32, bodies ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(count, 1)
		i := int(n) - 1
		if i >= len(bodies) {
			i = len(bodies) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(bodies[i]))
	})
}

// signedJSON serves body with a response HMAC computed from secret.
func signedJSON(t *testing.T, body string, secret []byte) http.Handler {
	t.Helper()
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(SignatureHeader, sig)
		w.Write([]byte(body))
	})
}

func TestFutureWait(t *testing.T) {
	srv := httptest.NewServer(okJSON(`{"message":"int"}`, nil, nil))
	defer srv.Close()

	d := NewDispatcher(testSession(t, srv.URL), nil, nil)
	f := d.SendAsync(context.Background(), PathRunCompleterCommand, nil)

	res, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Message(); got != "int" {
		t.Errorf("message = %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := &Future{done: make(chan struct{})}
	if _, err := slow.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
