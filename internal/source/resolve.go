package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jnoller/racer/internal/git"
	"github.com/jnoller/racer/internal/workspace"
)

// CloneFunc fetches a remote repository into dest.
type CloneFunc func(ctx context.Context, repoURL, dest string) error

// Checkout is a local directory holding a project's sources.
type Checkout struct {
	Dir    string
	Remote bool

	cleanup func()
}

// Release removes any temporary clone backing the checkout.
func (c Checkout) Release() {
	if c.cleanup != nil {
		c.cleanup()
	}
}

// Resolver turns a local path or git URL into a Checkout.
type Resolver struct {
	ws           *workspace.Manager
	clone        CloneFunc
	cloneTimeout time.Duration
	logger       *slog.Logger
}

// NewResolver constructs a Resolver that clones into ws.
func NewResolver(ws *workspace.Manager, cloneTimeout time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{ws: ws, clone: git.Clone, cloneTimeout: cloneTimeout, logger: logger.With("component", "source")}
}

// WithClone overrides the clone implementation.
func (r *Resolver) WithClone(fn CloneFunc) *Resolver {
	r.clone = fn
	return r
}

// Resolve materialises source locally. Callers must Release the returned checkout.
func (r *Resolver) Resolve(ctx context.Context, source string) (Checkout, error) {
	if source == "" {
		return Checkout{}, fmt.Errorf("source cannot be empty")
	}
	if !git.IsRemote(source) {
		abs, err := filepath.Abs(source)
		if err != nil {
			return Checkout{}, fmt.Errorf("resolve project path: %w", err)
		}
		return Checkout{Dir: abs}, nil
	}
	if r.ws == nil {
		return Checkout{}, fmt.Errorf("git sources require a workspace")
	}
	dir, err := r.ws.Prepare(filepath.Base(source))
	if err != nil {
		return Checkout{}, err
	}
	cleanup := func() {
		if err := r.ws.Cleanup(dir); err != nil {
			r.logger.Warn("workspace cleanup failed", "dir", dir, "error", err)
		}
	}
	cloneCtx := ctx
	if r.cloneTimeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, r.cloneTimeout)
		defer cancel()
	}
	r.logger.Info("cloning repository", "url", source, "dir", dir)
	if err := r.clone(cloneCtx, source, dir); err != nil {
		cleanup()
		return Checkout{}, err
	}
	return Checkout{Dir: dir, Remote: true, cleanup: cleanup}, nil
}

// Validate resolves source and validates the checkout.
func (r *Resolver) Validate(ctx context.Context, source string) (Validation, error) {
	co, err := r.Resolve(ctx, source)
	if err != nil {
		return Validation{}, err
	}
	defer co.Release()
	v := Validate(co.Dir)
	if co.Remote {
		v.GitURL = source
	}
	return v, nil
}

// Dockerfile returns the Dockerfile a build of source would use. owned
// reports that the project ships its own file, in which case commands are ignored.
func (r *Resolver) Dockerfile(ctx context.Context, source, baseImage string, commands []string) (content string, owned bool, err error) {
	co, err := r.Resolve(ctx, source)
	if err != nil {
		return "", false, err
	}
	defer co.Release()
	data, err := os.ReadFile(filepath.Join(co.Dir, "Dockerfile"))
	switch {
	case err == nil:
		return string(data), true, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", false, fmt.Errorf("read project Dockerfile: %w", err)
	}
	content, err = RenderDockerfile(baseImage, commands)
	return content, false, err
}
