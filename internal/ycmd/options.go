package ycmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dshills/ycmd/internal/config"
)

// Options is the transient configuration payload written to the one-time
// options file the server consumes at startup. The server deletes the
// file after reading it; the secret is never persisted anywhere else.
type Options struct {
	HMACSecret                     string   `json:"hmac_secret"`
	ServerKeepLogfiles             int      `json:"server_keep_logfiles"`
	ConfirmExtraConf               int      `json:"confirm_extra_conf"`
	ExtraConfGloblist              []string `json:"extra_conf_globlist"`
	GlobalYcmExtraConf             string   `json:"global_ycm_extra_conf"`
	MinNumIdentifierCandidateChars int      `json:"min_num_identifier_candidate_chars"`
	MinNumOfCharsForCompletion     int      `json:"min_num_of_chars_for_completion"`
	MaxNumIdentifierCandidates     int      `json:"max_num_identifier_candidates"`
	AutoTrigger                    int      `json:"auto_trigger"`
	GocodeBinaryPath               string   `json:"gocode_binary_path,omitempty"`
	GodefBinaryPath                string   `json:"godef_binary_path,omitempty"`
	RustSrcPath                    string   `json:"rust_src_path,omitempty"`
	PythonBinaryPath               string   `json:"python_binary_path,omitempty"`
}

// buildOptions derives the options payload from client configuration and
// the freshly generated session secret.
func buildOptions(cfg config.Config, secret []byte) Options {
	opts := Options{
		HMACSecret:                     base64.StdEncoding.EncodeToString(secret),
		ConfirmExtraConf:               1,
		ExtraConfGloblist:              cfg.ExtraConf.Globlist,
		GlobalYcmExtraConf:             cfg.ExtraConf.GlobalPath,
		MinNumIdentifierCandidateChars: cfg.Completion.MinIdentifierChars,
		MinNumOfCharsForCompletion:     cfg.Completion.MinChars,
		MaxNumIdentifierCandidates:     cfg.Completion.MaxIdentifierCandidates,
		GocodeBinaryPath:               cfg.Tools.Gocode,
		GodefBinaryPath:                cfg.Tools.Godef,
		RustSrcPath:                    cfg.Tools.RustSrc,
		PythonBinaryPath:               cfg.Tools.Python,
	}
	if opts.ExtraConfGloblist == nil {
		opts.ExtraConfGloblist = []string{}
	}
	if cfg.Server.KeepLogfiles {
		opts.ServerKeepLogfiles = 1
	}
	// With a load-always policy the server may load extra-conf files
	// without asking the client.
	if cfg.ExtraConf.Policy == config.PolicyLoad {
		opts.ConfirmExtraConf = 0
	}
	if cfg.Completion.AutoTrigger {
		opts.AutoTrigger = 1
	}
	return opts
}

// writeOptionsFile serializes opts to a new temporary file readable only
// by the current user and returns its path. The spawned server consumes
// and deletes the file.
func writeOptionsFile(opts Options) (string, error) {
	data, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("marshaling options: %w", err)
	}

	f, err := os.CreateTemp("", "ycmd_options_*.json")
	if err != nil {
		return "", fmt.Errorf("creating options file: %w", err)
	}

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("restricting options file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing options file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing options file: %w", err)
	}

	return f.Name(), nil
}
