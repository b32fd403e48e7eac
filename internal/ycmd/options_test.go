package ycmd

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/dshills/ycmd/internal/config"
)

func TestBuildOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Server.KeepLogfiles = true
	cfg.ExtraConf.Globlist = []string{"/proj/*", "!/other/*"}
	cfg.ExtraConf.GlobalPath = "/home/u/.ycm_extra_conf.py"
	cfg.Completion.MinChars = 2
	cfg.Completion.MinIdentifierChars = 0
	cfg.Completion.MaxIdentifierCandidates = 10
	cfg.Completion.AutoTrigger = true
	cfg.Tools.Gocode = "/usr/bin/gocode"

	secret := testSecret()
	opts := buildOptions(cfg, secret)

	if got, _ := base64.StdEncoding.DecodeString(opts.HMACSecret); string(got) != string(secret) {
		t.Error("hmac_secret does not round-trip the session secret")
	}
	if opts.ServerKeepLogfiles != 1 {
		t.Errorf("server_keep_logfiles = %d", opts.ServerKeepLogfiles)
	}
	if opts.ConfirmExtraConf != 1 {
		t.Errorf("confirm_extra_conf = %d, want 1 for ask policy", opts.ConfirmExtraConf)
	}
	if len(opts.ExtraConfGloblist) != 2 {
		t.Errorf("extra_conf_globlist = %v", opts.ExtraConfGloblist)
	}
	if opts.GlobalYcmExtraConf != "/home/u/.ycm_extra_conf.py" {
		t.Errorf("global_ycm_extra_conf = %q", opts.GlobalYcmExtraConf)
	}
	if opts.AutoTrigger != 1 {
		t.Errorf("auto_trigger = %d", opts.AutoTrigger)
	}
	if opts.GocodeBinaryPath != "/usr/bin/gocode" {
		t.Errorf("gocode_binary_path = %q", opts.GocodeBinaryPath)
	}
}

func TestBuildOptionsLoadPolicySkipsConfirm(t *testing.T) {
	cfg := config.Default()
	cfg.ExtraConf.Policy = config.PolicyLoad
	if opts := buildOptions(cfg, testSecret()); opts.ConfirmExtraConf != 0 {
		t.Errorf("confirm_extra_conf = %d, want 0 for load policy", opts.ConfirmExtraConf)
	}
}

func TestBuildOptionsGloblistNeverNull(t *testing.T) {
	opts := buildOptions(config.Default(), testSecret())
	data, err := json.Marshal(opts)
	if err != nil {
		t.Fatal(err)
	}
	if res := gjson.GetBytes(data, "extra_conf_globlist"); !res.IsArray() {
		t.Errorf("extra_conf_globlist serialized as %s, want []", res.Raw)
	}
}

func TestWriteOptionsFile(t *testing.T) {
	opts := buildOptions(config.Default(), testSecret())
	path, err := writeOptionsFile(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(path)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("options file mode = %o, want 600", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Options
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("options file is not valid JSON: %v", err)
	}
	if got.HMACSecret != opts.HMACSecret {
		t.Error("secret not preserved in options file")
	}
}
