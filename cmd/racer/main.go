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

// app carries the state shared by every racer subcommand.
type app struct {
	out     io.Writer
	errOut  io.Writer
	apiURL  string
	timeout time.Duration
	jsonOut bool
	confirm func(question string) (bool, error)
}

func newApp(out, errOut io.Writer) *app {
	a := &app{out: out, errOut: errOut}
	a.confirm = func(question string) (bool, error) {
		return cli.Confirm(a.out, question)
	}
	return a
}

func (a *app) client() (*client.Client, error) {
	url := strings.TrimSpace(a.apiURL)
	if url == "" {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		url = cfg.APIURL
	}
	return client.New(url, client.WithTimeout(a.timeout))
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "racer",
		Short:         "Deploy and manage conda projects as containers",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return cli.UsageError{Msg: err.Error()}
	})
	root.PersistentFlags().StringVar(&a.apiURL, "api", "", "API base URL (default from config or RACER_API_URL)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print raw JSON results")

	root.AddCommand(
		a.deployCmd(),
		a.validateCmd(),
		a.dockerfileCmd(),
		a.statusCmd(),
		a.listCmd(),
		a.scaleCmd(),
		a.redeployCmd(),
		a.stopCmd(),
		a.removeCmd(),
		a.eventsCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(cli.ExitCode(err))
	}
}
