package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/pkg/api/client"
)

func TestExitCodeByKind(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:  ExitValidation,
		apperr.KindNotFound:    ExitNotFound,
		apperr.KindAmbiguous:   ExitAmbiguous,
		apperr.KindRuntime:     ExitRuntime,
		apperr.KindSource:      ExitSource,
		apperr.KindConsistency: ExitConsistency,
		apperr.KindInternal:    ExitFailure,
	}
	for kind, want := range cases {
		err := fmt.Errorf("scale: %w", client.APIError{Status: 400, Kind: kind, Message: "boom"})
		if got := ExitCode(err); got != want {
			t.Fatalf("expected exit %d for %s, got %d", want, kind, got)
		}
	}
}

func TestExitCodeForLocalErrors(t *testing.T) {
	if got := ExitCode(nil); got != ExitOK {
		t.Fatalf("expected 0 for nil, got %d", got)
	}
	if got := ExitCode(UsageError{Msg: "missing --instances"}); got != ExitValidation {
		t.Fatalf("expected usage error to exit %d, got %d", ExitValidation, got)
	}
	if got := ExitCode(errors.New("dial tcp: connection refused")); got != ExitFailure {
		t.Fatalf("expected transport error to exit %d, got %d", ExitFailure, got)
	}
	if got := ExitCode(apperr.New(apperr.KindAmbiguous, "stop", "my-app", "")); got != ExitAmbiguous {
		t.Fatalf("expected local ambiguous error to exit %d, got %d", ExitAmbiguous, got)
	}
}

func TestParseEnv(t *testing.T) {
	env, err := ParseEnv([]string{"A=1", "B=x=y", "C="})
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if env["A"] != "1" || env["B"] != "x=y" || env["C"] != "" || len(env) != 3 {
		t.Fatalf("unexpected env %v", env)
	}
	if _, err := ParseEnv([]string{"novalue"}); ExitCode(err) != ExitValidation {
		t.Fatalf("expected usage error, got %v", err)
	}
	if env, err := ParseEnv(nil); err != nil || env != nil {
		t.Fatalf("expected nil env, got %v %v", env, err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("RACER_API_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if cfg.APIURL != client.DefaultBaseURL {
		t.Fatalf("expected default url, got %q", cfg.APIURL)
	}
	cfg.APIURL = "http://racer.internal:8001"
	cfg.AdminToken = "tok"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	path, _ := ConfigPath()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	if filepath.Base(filepath.Dir(path)) != "racer" {
		t.Fatalf("unexpected config path %s", path)
	}

	t.Setenv("RACER_API_URL", "http://override:9000")
	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if loaded.APIURL != "http://override:9000" || loaded.AdminToken != "tok" {
		t.Fatalf("unexpected config %+v", loaded)
	}
}

func TestConfirmFrom(t *testing.T) {
	var out strings.Builder
	ok, err := ConfirmFrom(strings.NewReader("yes\n"), &out, "remove my-app?")
	if err != nil || !ok {
		t.Fatalf("expected confirmation, got %v %v", ok, err)
	}
	if !strings.Contains(out.String(), "remove my-app? [y/N]") {
		t.Fatalf("unexpected prompt %q", out.String())
	}
	ok, err = ConfirmFrom(strings.NewReader(""), &out, "remove?")
	if err != nil || ok {
		t.Fatalf("expected refusal on empty input, got %v %v", ok, err)
	}
}
