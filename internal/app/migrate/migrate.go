// Package migrate applies the racer schema with goose.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedded embed.FS

const embeddedDir = "migrations"

const runTimeout = time.Minute

// Step is one migration applied or rolled back.
type Step struct {
	Version   int64
	Path      string
	Direction string
	Duration  time.Duration
}

// State is the applied or pending state of one migration.
type State struct {
	Version   int64
	Path      string
	State     string
	AppliedAt time.Time
}

// Runner applies schema migrations over an existing pool.
type Runner struct {
	pool   *pgxpool.Pool
	fsys   fs.FS
	source string
	log    *slog.Logger
}

// New returns a Runner. An empty migrationsDir uses the migrations compiled
// into the binary.
func New(pool *pgxpool.Pool, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("migrate: pool is required")
	}
	if log == nil {
		log = slog.Default()
	}
	r := Runner{pool: pool, source: "embedded", log: log.With("component", "migrate")}
	if migrationsDir == "" {
		sub, err := fs.Sub(embedded, embeddedDir)
		if err != nil {
			return Runner{}, fmt.Errorf("open embedded migrations: %w", err)
		}
		r.fsys = sub
		return r, nil
	}
	if _, err := os.Stat(migrationsDir); err != nil {
		return Runner{}, fmt.Errorf("locate migrations dir: %w", err)
	}
	r.fsys = os.DirFS(migrationsDir)
	r.source = migrationsDir
	return r, nil
}

// Ensure applies every pending migration.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		results, err := p.Up(ctx)
		for _, step := range steps(results) {
			r.log.Info("migration applied", "version", step.Version, "path", step.Path, "duration", step.Duration)
		}
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		version, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		r.log.Info("schema up to date", "version", version, "source", r.source)
		return nil
	})
}

// Status lists every known migration in version order.
func (r Runner) Status(ctx context.Context) ([]State, error) {
	var out []State
	err := r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, s := range statuses {
			st := State{State: string(s.State), AppliedAt: s.AppliedAt}
			if s.Source != nil {
				st.Version, st.Path = s.Source.Version, s.Source.Path
			}
			out = append(out, st)
		}
		return nil
	})
	return out, err
}

// Down rolls back the latest migration, or every migration above target when
// target is positive.
func (r Runner) Down(ctx context.Context, target int64) ([]Step, error) {
	var out []Step
	err := r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		if target > 0 {
			results, err := p.DownTo(ctx, target)
			out = steps(results)
			if err != nil {
				return fmt.Errorf("roll back to version %d: %w", target, err)
			}
			return nil
		}
		result, err := p.Down(ctx)
		out = steps([]*goose.MigrationResult{result})
		if err != nil {
			return fmt.Errorf("roll back latest migration: %w", err)
		}
		return nil
	})
	for _, step := range out {
		r.log.Info("migration rolled back", "version", step.Version, "path", step.Path)
	}
	return out, err
}

// Ping checks that the database answers within five seconds.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (r Runner) withProvider(ctx context.Context, fn func(context.Context, *goose.Provider) error) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, r.fsys)
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	return fn(ctx, p)
}

func steps(results []*goose.MigrationResult) []Step {
	out := make([]Step, 0, len(results))
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		out = append(out, Step{
			Version:   res.Source.Version,
			Path:      res.Source.Path,
			Direction: res.Direction,
			Duration:  res.Duration,
		})
	}
	return out
}

