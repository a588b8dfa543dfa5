package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/cli"
	"github.com/jnoller/racer/internal/service/lifecycle"
)

// sourceArg returns the source to send: a git URL untouched, or a local
// directory made absolute. No argument means the working directory.
func sourceArg(args []string, gitURL string) (string, error) {
	if strings.TrimSpace(gitURL) != "" {
		return strings.TrimSpace(gitURL), nil
	}
	src := "."
	if len(args) > 0 {
		src = args[0]
	}
	if strings.Contains(src, "://") || strings.HasPrefix(src, "git@") {
		return src, nil
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", src, err)
	}
	return abs, nil
}

func (a *app) deployCmd() *cobra.Command {
	var (
		req     lifecycle.DeployRequest
		gitURL  string
		envVars []string
	)
	cmd := &cobra.Command{
		Use:   "deploy [path]",
		Short: "Build a project and start it in a new container",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sourceArg(args, gitURL)
			if err != nil {
				return err
			}
			req.Source = src
			if strings.TrimSpace(req.Name) == "" {
				req.Name = defaultName(src)
			}
			if req.Env, err = cli.ParseEnv(envVars); err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.errOut, "deploying %s from %s\n", req.Name, req.Source)
			res, err := c.Deploy(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, res)
			}
			fmt.Fprintf(a.out, "deployed %s\n", res.Project.Name)
			fmt.Fprintf(a.out, "  project id:   %s\n", res.Project.ID)
			fmt.Fprintf(a.out, "  container id: %s\n", shortID(res.Container.ContainerID))
			fmt.Fprintf(a.out, "  url:          %s\n", res.URL)
			printWarnings(a.out, res.Warnings)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "project name (default: directory name)")
	f.StringVar(&gitURL, "git-url", "", "deploy from a git repository instead of a local path")
	f.IntVar(&req.AppPort, "app-port", 0, "port the application listens on inside the container")
	f.StringArrayVar(&envVars, "env", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringVar(&req.Command, "command", "", "override the container command")
	f.StringArrayVar(&req.CustomCommands, "custom-command", nil, "extra Dockerfile RUN line (repeatable)")
	f.StringVar(&req.ProjectID, "project-id", "", "add a container to an existing project")
	return cmd
}

func defaultName(src string) string {
	base := filepath.Base(strings.TrimSuffix(strings.TrimRight(src, "/"), ".git"))
	if base == "." || base == string(os.PathSeparator) {
		return ""
	}
	return base
}

func (a *app) validateCmd() *cobra.Command {
	var gitURL string
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Check that a directory is a deployable conda project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sourceArg(args, gitURL)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			v, msg, err := c.Validate(cmd.Context(), src)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, v)
			}
			fmt.Fprintln(a.out, msg)
			if v.ProjectName != "" {
				fmt.Fprintf(a.out, "  name:         %s\n", v.ProjectName)
			}
			if v.Version != "" {
				fmt.Fprintf(a.out, "  version:      %s\n", v.Version)
			}
			if len(v.Environments) > 0 {
				fmt.Fprintf(a.out, "  environments: %s\n", strings.Join(v.Environments, ", "))
			}
			for _, issue := range v.Issues {
				fmt.Fprintf(a.out, "  issue: %s\n", issue)
			}
			if !v.Valid {
				return apperr.New(apperr.KindSource, "validate", src, "project is not valid")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&gitURL, "git-url", "", "validate a git repository instead of a local path")
	return cmd
}

func (a *app) dockerfileCmd() *cobra.Command {
	var (
		gitURL         string
		customCommands []string
	)
	cmd := &cobra.Command{
		Use:   "dockerfile [path]",
		Short: "Print the Dockerfile a deploy would build",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sourceArg(args, gitURL)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			df, err := c.Dockerfile(cmd.Context(), src, customCommands)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, df)
			}
			if df.ProjectDefined {
				fmt.Fprintln(a.errOut, "# using the project's own Dockerfile")
			}
			fmt.Fprint(a.out, df.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&gitURL, "git-url", "", "render for a git repository instead of a local path")
	cmd.Flags().StringArrayVar(&customCommands, "custom-command", nil, "extra Dockerfile RUN line (repeatable)")
	return cmd
}
