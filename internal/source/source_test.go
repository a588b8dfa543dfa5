package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jnoller/racer/internal/workspace"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestValidateAcceptsProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProjectFile, "name: demo\nversion: 1\nenvironments:\n  default: [environment.yml]\nchannels: [conda-forge]\n")
	v := Validate(dir)
	if !v.Valid || len(v.Issues) != 0 {
		t.Fatalf("expected valid project, got %+v", v)
	}
	if v.ProjectName != "demo" || v.Version != "1" || len(v.Environments) != 1 || v.Channels[0] != "conda-forge" {
		t.Fatalf("unexpected metadata %+v", v)
	}
	if len(v.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", v.Warnings)
	}
}

func TestValidateWarnings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProjectFile, "channels: []\n")
	writeFile(t, dir, "requirements.txt", "flask\n")
	v := Validate(dir)
	if !v.Valid {
		t.Fatalf("missing name should only warn, got %+v", v)
	}
	if len(v.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", v.Warnings)
	}
}

func TestValidateIssues(t *testing.T) {
	dir := t.TempDir()
	if v := Validate(dir); v.Valid || !strings.Contains(v.Issues[0], ProjectFile) {
		t.Fatalf("expected missing manifest issue, got %+v", v)
	}
	writeFile(t, dir, ProjectFile, "name: [unclosed\n")
	if v := Validate(dir); v.Valid || !strings.Contains(v.Issues[0], "invalid YAML") {
		t.Fatalf("expected yaml issue, got %+v", v)
	}
	if v := Validate(filepath.Join(dir, "missing")); v.Valid {
		t.Fatalf("expected missing path to be invalid")
	}
}

func TestResolverClonesRemoteSources(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var clonedInto string
	r := NewResolver(ws, 0, logger).WithClone(func(_ context.Context, url, dest string) error {
		clonedInto = dest
		return os.WriteFile(filepath.Join(dest, ProjectFile), []byte("name: remote\nenvironments: {default: []}\n"), 0o644)
	})
	v, err := r.Validate(context.Background(), "https://example.com/org/remote.git")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.Valid || v.GitURL == "" || v.ProjectName != "remote" {
		t.Fatalf("unexpected validation %+v", v)
	}
	if !strings.HasPrefix(filepath.Base(clonedInto), "racer_") {
		t.Fatalf("expected racer_ workspace, got %s", clonedInto)
	}
	if _, err := os.Stat(clonedInto); !os.IsNotExist(err) {
		t.Fatalf("expected clone to be released")
	}
}

func TestResolverCloneFailure(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	r := NewResolver(ws, 0, nil).WithClone(func(context.Context, string, string) error {
		return errors.New("auth required")
	})
	if _, err := r.Resolve(context.Background(), "git@github.com:org/app.git"); err == nil {
		t.Fatalf("expected clone error")
	}
	entries, _ := os.ReadDir(ws.Root())
	if len(entries) != 0 {
		t.Fatalf("expected failed clone to be cleaned up, found %d entries", len(entries))
	}
}

func TestRenderDockerfile(t *testing.T) {
	out, err := RenderDockerfile("", []string{"apt-get update", "  "})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(out, "FROM "+DefaultBaseImage) {
		t.Fatalf("expected default base image, got %q", out[:40])
	}
	if strings.Count(out, "RUN apt-get update") != 1 {
		t.Fatalf("expected custom command once")
	}
	if strings.Index(out, "RUN apt-get update") > strings.Index(out, `"prepare"`) {
		t.Fatalf("custom commands must precede prepare")
	}
	if _, err := RenderDockerfile("base", []string{"echo a\nFROM evil"}); err == nil {
		t.Fatalf("expected multi-line command to be rejected")
	}
}

func TestResolverDockerfile(t *testing.T) {
	r := NewResolver(nil, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	dir := t.TempDir()

	content, owned, err := r.Dockerfile(context.Background(), dir, "", []string{"apt-get update"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if owned || !strings.Contains(content, "RUN apt-get update") {
		t.Fatalf("expected rendered Dockerfile with custom command, got owned=%v\n%s", owned, content)
	}

	writeFile(t, dir, "Dockerfile", "FROM scratch\n")
	content, owned, err = r.Dockerfile(context.Background(), dir, "", []string{"apt-get update"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !owned || content != "FROM scratch\n" {
		t.Fatalf("expected project Dockerfile, got owned=%v %q", owned, content)
	}
}
