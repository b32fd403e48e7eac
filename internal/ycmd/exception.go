package ycmd

import (
	"context"
	"strings"
	"sync"

	"github.com/tidwall/match"

	"github.com/dshills/ycmd/internal/config"
	"github.com/dshills/ycmd/internal/logging"
)

// hardErrorFragments identify exceptions that mean the server cannot
// make progress at all for the buffer, as opposed to ordinary request
// failures.
var hardErrorFragments = []string{
	"no compile flags",
	"invalid hmac",
	"gocode binary not found",
	"gocode panicked",
}

// IsHardError reports whether a server exception indicates a
// configuration problem that will not resolve by retrying.
func IsHardError(serr *ServerError) bool {
	msg := strings.ToLower(serr.Message)
	for _, frag := range hardErrorFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// Prompter asks the user whether to trust an extra-conf file.
// Implementations must be safe for concurrent use.
type Prompter interface {
	ConfirmExtraConf(path string) (bool, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(path string) (bool, error)

// ConfirmExtraConf implements Prompter.
func (f PrompterFunc) ConfirmExtraConf(path string) (bool, error) {
	return f(path)
}

// sender is the slice of the dispatcher the router needs for its own
// resolution calls.
type sender interface {
	SendNoRoute(ctx context.Context, path string, payload any) (Result, error)
}

// Router resolves structured server exceptions. UnknownExtraConf is
// settled through the globlist, the configured policy, or a prompt and
// the original request retried; everything else is surfaced to the
// caller.
type Router struct {
	cfg      config.ExtraConfConfig
	send     sender
	prompter Prompter
	log      *logging.Logger

	mu      sync.Mutex
	decided map[string]bool
}

// NewRouter creates an exception router. prompter may be nil, in which
// case an ask policy falls back to ignoring the file.
func NewRouter(cfg config.ExtraConfConfig, send sender, prompter Prompter, log *logging.Logger) *Router {
	if log == nil {
		log = logging.Null
	}
	return &Router{
		cfg:      cfg,
		send:     send,
		prompter: prompter,
		log:      log.WithComponent("extraconf"),
		decided:  make(map[string]bool),
	}
}

// Handle implements ExceptionHandler.
func (r *Router) Handle(ctx context.Context, serr *ServerError) (bool, error) {
	if serr.Type != ExceptionUnknownExtraConf {
		return false, nil
	}
	if serr.ExtraConfFile == "" {
		r.log.Warn("unknown extra conf reported with no file path: %s", serr.Message)
		return false, nil
	}
	load, err := r.decide(serr.ExtraConfFile)
	if err != nil {
		return false, err
	}

	endpoint := PathIgnoreExtraConfFile
	if load {
		endpoint = PathLoadExtraConfFile
	}
	if _, err := r.send.SendNoRoute(ctx, endpoint, ExtraConfRequest{FilePath: serr.ExtraConfFile}); err != nil {
		return false, err
	}
	verb := "ignored"
	if load {
		verb = "loaded"
	}
	r.log.Info("extra conf %s: %s", serr.ExtraConfFile, verb)
	return true, nil
}

// decide resolves whether an extra-conf file should be loaded,
// remembering the answer so one file prompts at most once per session.
func (r *Router) decide(path string) (bool, error) {
	r.mu.Lock()
	if load, ok := r.decided[path]; ok {
		r.mu.Unlock()
		return load, nil
	}
	r.mu.Unlock()

	load, matched := matchGloblist(r.cfg.Globlist, path)
	if !matched {
		switch r.cfg.Policy {
		case config.PolicyLoad:
			load = true
		case config.PolicyIgnore:
			load = false
		default:
			if r.prompter == nil {
				load = false
			} else {
				var err error
				load, err = r.prompter.ConfirmExtraConf(path)
				if err != nil {
					return false, err
				}
			}
		}
	}

	r.mu.Lock()
	r.decided[path] = load
	r.mu.Unlock()
	return load, nil
}

// matchGloblist checks path against whitelist and blacklist entries.
// An entry starting with "!" blacklists matching paths. The first
// matching entry wins.
func matchGloblist(globlist []string, path string) (load, matched bool) {
	for _, pattern := range globlist {
		negated := strings.HasPrefix(pattern, "!")
		if negated {
			pattern = pattern[1:]
		}
		if match.Match(path, pattern) {
			return !negated, true
		}
	}
	return false, false
}
