package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jnoller/racer/internal/docker"
	"github.com/jnoller/racer/internal/source"
)

// ImageBuilder is the subset of the Docker client used to build images.
type ImageBuilder interface {
	BuildImage(ctx context.Context, spec docker.BuildSpec, onOutput docker.BuildOutputCallback) error
}

// Builder turns a project checkout into a tagged image.
type Builder struct {
	docker    ImageBuilder
	prefix    string
	baseImage string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a Builder.
func New(d ImageBuilder, prefix, baseImage string, timeout time.Duration, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "racer"
	}
	return &Builder{
		docker:    d,
		prefix:    prefix,
		baseImage: baseImage,
		timeout:   timeout,
		logger:    logger.With("component", "builder"),
		now:       time.Now,
	}
}

// BuildImage builds dir into an image named after name and returns the image reference.
// A default Dockerfile is rendered when dir does not carry one and removed afterwards.
func (b *Builder) BuildImage(ctx context.Context, dir, name string, customCommands []string) (string, error) {
	if b.docker == nil {
		return "", fmt.Errorf("image builder not configured")
	}
	tag := b.Tag(name)
	dockerfile := filepath.Join(dir, "Dockerfile")
	_, statErr := os.Stat(dockerfile)
	switch {
	case errors.Is(statErr, fs.ErrNotExist):
		content, err := source.RenderDockerfile(b.baseImage, customCommands)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(dockerfile, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write dockerfile: %w", err)
		}
		defer os.Remove(dockerfile)
	case statErr != nil:
		return "", fmt.Errorf("stat dockerfile: %w", statErr)
	case len(customCommands) > 0:
		b.logger.Warn("custom commands ignored for project dockerfile", "dir", dir)
	}

	buildCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	start := b.now()
	b.logger.Info("image build started", "image", tag, "dir", dir)
	spec := docker.BuildSpec{
		Dir: dir,
		Tag: tag,
		Labels: map[string]string{
			docker.LabelManaged:     "true",
			docker.LabelProjectName: name,
		},
	}
	err := b.docker.BuildImage(buildCtx, spec, func(line string) {
		b.logger.Debug("build output", "image", tag, "line", line)
	})
	if err != nil {
		b.logger.Error("image build failed", "image", tag, "error", err)
		return "", err
	}
	b.logger.Info("image build finished", "image", tag, "duration", b.now().Sub(start))
	return tag, nil
}

// Tag returns the image reference used for name at the current time.
func (b *Builder) Tag(name string) string {
	return fmt.Sprintf("%s/%s:%d", b.prefix, imageName(name), b.now().Unix())
}

func imageName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	out := strings.Trim(sb.String(), "-._")
	if out == "" {
		return "app"
	}
	return out
}
