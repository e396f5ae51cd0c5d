package telegram

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseRuntimeConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantErrSub string
		check      func(t *testing.T, cfg parsedRuntimeConfig)
	}{
		{
			name: "defaults",
			raw:  `{"app_id":1,"app_hash":" hash ","bot_token":"123:abc"}`,
			check: func(t *testing.T, cfg parsedRuntimeConfig) {
				if cfg.appID != 1 || cfg.appHash != "hash" || cfg.botToken != "123:abc" {
					t.Fatalf("cfg = %+v", cfg)
				}
				if cfg.rpcTimeout != defaultRuntimeRPCTimeout || cfg.authTimeout != defaultRuntimeAuthTimeout {
					t.Fatalf("timeouts = %v/%v", cfg.rpcTimeout, cfg.authTimeout)
				}
				if cfg.updateBuffer != defaultRuntimeUpdateBuffer || cfg.sessionFile != defaultRuntimeSessionFile {
					t.Fatalf("buffer/session = %d/%q", cfg.updateBuffer, cfg.sessionFile)
				}
			},
		},
		{
			name: "explicit timeouts",
			raw:  `{"app_id":1,"app_hash":"hash","bot_token":"t","rpc_timeout":"2s","auth_timeout":"30s","update_buffer":8}`,
			check: func(t *testing.T, cfg parsedRuntimeConfig) {
				if cfg.rpcTimeout != 2*time.Second || cfg.authTimeout != 30*time.Second || cfg.updateBuffer != 8 {
					t.Fatalf("cfg = %+v", cfg)
				}
			},
		},
		{name: "empty", raw: ``, wantErrSub: "missing config"},
		{name: "bad json", raw: `{`, wantErrSub: "unmarshal"},
		{name: "bad timeout", raw: `{"app_id":1,"app_hash":"hash","bot_token":"t","rpc_timeout":"bad"}`, wantErrSub: "rpc_timeout"},
		{name: "negative timeout", raw: `{"app_id":1,"app_hash":"hash","bot_token":"t","auth_timeout":"-1s"}`, wantErrSub: "auth_timeout"},
		{name: "missing app id", raw: `{"app_hash":"hash","bot_token":"t"}`, wantErrSub: "app_id"},
		{name: "missing app hash", raw: `{"app_id":1,"bot_token":"t"}`, wantErrSub: "app_hash"},
		{name: "missing bot token", raw: `{"app_id":1,"app_hash":"hash"}`, wantErrSub: "bot_token"},
		{name: "negative peer cache", raw: `{"app_id":1,"app_hash":"hash","bot_token":"t","peer_cache_size":-1}`, wantErrSub: "peer_cache_size"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseRuntimeConfig([]byte(testCase.raw))
			if testCase.wantErrSub != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSub) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testCase.check(t, cfg)
		})
	}
}

func TestBuildRuntimeFromConfig(t *testing.T) {
	t.Parallel()

	sessionPath := filepath.Join(t.TempDir(), "session.json")
	raw := `{"app_id":1,"app_hash":"hash","bot_token":"123:abc","session_file":"` + filepath.ToSlash(sessionPath) + `"}`

	driver, err := BuildRuntimeFromConfig("telegram-main", nil, []byte(raw))
	if err != nil {
		t.Fatalf("build runtime failed: %v", err)
	}
	if driver.Name() != "telegram-main" {
		t.Fatalf("name = %q, want telegram-main", driver.Name())
	}

	if _, err := BuildRuntimeFromConfig("telegram-main", nil, []byte(`{"app_id":1}`)); err == nil {
		t.Fatal("expected config error")
	}
}

func TestNewGotdSessionStorage(t *testing.T) {
	t.Parallel()

	sessionPath := filepath.Join(t.TempDir(), "nested", "telegram", "session.json")
	storage, err := newGotdSessionStorage(sessionPath)
	if err != nil {
		t.Fatalf("new gotd session storage failed: %v", err)
	}
	if !filepath.IsAbs(storage.Path) {
		t.Fatalf("session path = %q, want absolute", storage.Path)
	}
	if _, err := newGotdSessionStorage("   "); err == nil {
		t.Fatal("expected empty path error")
	}
}
