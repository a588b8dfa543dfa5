package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnoller/racer/internal/cli"
	"github.com/jnoller/racer/pkg/api/client"
)

var buildVersion = "dev"

type app struct {
	out     io.Writer
	errOut  io.Writer
	apiURL  string
	token   string
	timeout time.Duration
	jsonOut bool
	secret  func(prompt string) (string, error)
	confirm func(question string) (bool, error)
}

func newApp(out, errOut io.Writer) *app {
	a := &app{out: out, errOut: errOut}
	a.secret = func(prompt string) (string, error) { return cli.ReadSecret(a.errOut, prompt) }
	a.confirm = func(question string) (bool, error) { return cli.Confirm(a.errOut, question) }
	return a
}

func (a *app) config() (cli.Config, error) {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if url := strings.TrimSpace(a.apiURL); url != "" {
		cfg.APIURL = url
	}
	return cfg, nil
}

func (a *app) client() (*client.Client, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.APIURL, client.WithTimeout(a.timeout))
}

// adminToken prefers --token, then RACER_ADMIN_TOKEN, then the token saved by login.
func (a *app) adminToken() (string, error) {
	if t := strings.TrimSpace(a.token); t != "" {
		return t, nil
	}
	if t := strings.TrimSpace(os.Getenv("RACER_ADMIN_TOKEN")); t != "" {
		return t, nil
	}
	cfg, err := a.config()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cfg.AdminToken), nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "racerctl",
		Short:         "Administer a racer server",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return cli.UsageError{Msg: err.Error()}
	})
	pf := root.PersistentFlags()
	pf.StringVar(&a.apiURL, "api", "", "API base URL (default from config or RACER_API_URL)")
	pf.StringVar(&a.token, "token", "", "admin bearer token (default from racerctl login)")
	pf.DurationVar(&a.timeout, "timeout", time.Minute, "request timeout")
	pf.BoolVar(&a.jsonOut, "json", false, "print raw JSON results")

	root.AddCommand(
		a.probeCmd("health", "Show server health", func(ctx context.Context, c *client.Client) (any, error) { return c.Health(ctx) }),
		a.probeCmd("liveness", "Check that the server process is up", func(ctx context.Context, c *client.Client) (any, error) { return c.Liveness(ctx) }),
		a.probeCmd("readiness", "Check database and docker connectivity", func(ctx context.Context, c *client.Client) (any, error) { return c.Ready(ctx) }),
		a.probeCmd("info", "Show server and engine information", func(ctx context.Context, c *client.Client) (any, error) { return c.Info(ctx) }),
		a.loginCmd(),
		a.hashPasswordCmd(),
		a.containersCmd(),
		a.servicesCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp(os.Stdout, os.Stderr)).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(cli.ExitCode(err))
	}
}
