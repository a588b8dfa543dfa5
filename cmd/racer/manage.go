package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/cli"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/service/resolve"
	"github.com/jnoller/racer/pkg/api/client"
)

func refFlags(cmd *cobra.Command, ref *resolve.Reference) {
	f := cmd.Flags()
	f.StringVar(&ref.Name, "project-name", "", "select projects by name")
	f.StringVar(&ref.ProjectID, "project-id", "", "select a project by id")
	f.StringVar(&ref.ContainerID, "container-id", "", "select a project by container id or name")
}

// reference applies an optional positional project name and insists that
// something was selected.
func reference(ref resolve.Reference, args []string) (resolve.Reference, error) {
	if len(args) > 0 {
		if ref.Name != "" {
			return ref, cli.UsageError{Msg: "pass the project name either as an argument or with --project-name"}
		}
		ref.Name = args[0]
	}
	if ref.Empty() {
		return ref, cli.UsageError{Msg: "one of --project-name, --project-id or --container-id is required"}
	}
	return ref, nil
}

func (a *app) statusCmd() *cobra.Command {
	var (
		ref  resolve.Reference
		list bool
	)
	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show the merged runtime status of a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list {
				var err error
				if ref, err = reference(ref, args); err != nil {
					return err
				}
			} else {
				ref = resolve.Reference{}
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			views, err := c.Status(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, views)
			}
			if list {
				printProjects(a.out, views)
				return nil
			}
			for i, view := range views {
				if i > 0 {
					fmt.Fprintln(a.out)
				}
				printStatus(a.out, view)
			}
			return nil
		},
	}
	refFlags(cmd, &ref)
	cmd.Flags().BoolVar(&list, "list", false, "list every project")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List deployed projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			views, err := c.Projects(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, views)
			}
			printProjects(a.out, views)
			return nil
		},
	}
}

func (a *app) scaleCmd() *cobra.Command {
	var (
		ref       resolve.Reference
		instances int
		appPort   int
	)
	cmd := &cobra.Command{
		Use:   "scale [name]",
		Short: "Run a project as a replicated service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("instances") {
				return cli.UsageError{Msg: "--instances is required"}
			}
			if instances < 0 {
				return cli.UsageError{Msg: "--instances cannot be negative"}
			}
			target, err := reference(ref, args)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			return a.scale(cmd, c, target, instances, appPort)
		},
	}
	refFlags(cmd, &ref)
	cmd.Flags().IntVar(&instances, "instances", 0, "desired replica count")
	cmd.Flags().IntVar(&appPort, "app-port", 0, "application port when creating the service")
	cmd.AddCommand(a.scaleRelativeCmd("up", 1), a.scaleRelativeCmd("down", -1))
	return cmd
}

func (a *app) scaleRelativeCmd(use string, sign int) *cobra.Command {
	var (
		ref resolve.Reference
		by  int
	)
	cmd := &cobra.Command{
		Use:   use + " [name]",
		Short: fmt.Sprintf("Scale a project %s relative to its current size", use),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if by < 1 {
				return cli.UsageError{Msg: "--by must be at least 1"}
			}
			target, err := reference(ref, args)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			views, err := c.Status(cmd.Context(), target)
			if err != nil {
				return err
			}
			if len(views) != 1 {
				return apperr.New(apperr.KindAmbiguous, "scale", target.String(), fmt.Sprintf("%d projects match; use --project-id", len(views)))
			}
			current := currentInstances(views[0])
			desired := current + sign*by
			fmt.Fprintf(a.errOut, "scaling %s from %d to %d\n", views[0].Project.Name, current, desired)
			return a.scale(cmd, c, resolve.Reference{ProjectID: views[0].Project.ID}, desired, 0)
		},
	}
	refFlags(cmd, &ref)
	cmd.Flags().IntVar(&by, "by", 1, "number of instances to add or remove")
	return cmd
}

// currentInstances is the group's desired count, or the number of active
// containers for a project that was never scaled.
func currentInstances(view domain.StatusView) int {
	if view.Group != nil && view.Group.Group.Status == domain.GroupActive {
		return view.Group.Group.DesiredInstances
	}
	n := 0
	for _, c := range view.Containers {
		if c.Record.Active() {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

func (a *app) scale(cmd *cobra.Command, c *client.Client, ref resolve.Reference, instances, appPort int) error {
	if instances < 0 {
		instances = 0
	}
	res, msg, err := c.Scale(cmd.Context(), ref, instances, appPort)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return cli.PrintJSON(a.out, res)
	}
	fmt.Fprintln(a.out, msg)
	fmt.Fprintf(a.out, "  service:   %s\n", res.Group.ServiceName)
	fmt.Fprintf(a.out, "  instances: %d\n", res.Group.DesiredInstances)
	if res.URL != "" {
		fmt.Fprintf(a.out, "  url:       %s\n", res.URL)
	}
	if res.Clamped {
		fmt.Fprintf(a.out, "  note: %d requested, racer keeps at least one instance; use stop to halt the project\n", res.Requested)
	}
	printWarnings(a.out, res.Warnings)
	return nil
}

func (a *app) redeployCmd() *cobra.Command {
	var (
		ref            resolve.Reference
		noRebuild      bool
		envVars        []string
		command        string
		appPort        int
		customCommands []string
	)
	cmd := &cobra.Command{
		Use:     "redeploy [name]",
		Aliases: []string{"rerun"},
		Short:   "Replace a project's containers, rebuilding the image by default",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := reference(ref, args)
			if err != nil {
				return err
			}
			in := client.RedeployInput{
				Reference:      target,
				Rebuild:        !noRebuild,
				AppPort:        appPort,
				CustomCommands: customCommands,
			}
			if in.Env, err = cli.ParseEnv(envVars); err != nil {
				return err
			}
			if cmd.Flags().Changed("command") {
				in.Command = &command
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			res, msg, err := c.Redeploy(cmd.Context(), in)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, res)
			}
			fmt.Fprintln(a.out, msg)
			for _, rec := range res.Containers {
				fmt.Fprintf(a.out, "  container %s on port %d\n", shortID(rec.ContainerID), rec.HostPort)
			}
			for _, g := range res.Groups {
				fmt.Fprintf(a.out, "  service %s (%d instances)\n", g.ServiceName, g.DesiredInstances)
			}
			return nil
		},
	}
	refFlags(cmd, &ref)
	f := cmd.Flags()
	f.BoolVar(&noRebuild, "no-rebuild", false, "reuse the existing image")
	f.StringArrayVar(&envVars, "env", nil, "environment variable KEY=VALUE merged over the recorded ones (repeatable)")
	f.StringVar(&command, "command", "", "replace the container command")
	f.IntVar(&appPort, "app-port", 0, "change the application port")
	f.StringArrayVar(&customCommands, "custom-command", nil, "extra Dockerfile RUN line for the rebuild (repeatable)")
	return cmd
}

func (a *app) stopCmd() *cobra.Command {
	var (
		ref    resolve.Reference
		force  bool
		remove bool
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "stop [name]",
		Short: "Stop a project's containers or service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := reference(ref, args)
			if err != nil {
				return err
			}
			if remove && !yes {
				ok, err := a.confirm(fmt.Sprintf("remove %s and its containers?", target.String()))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.errOut, "aborted")
					return nil
				}
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			res, msg, err := c.Stop(cmd.Context(), target, force, remove)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, res)
			}
			fmt.Fprintln(a.out, msg)
			if res.ServiceRemoved != "" {
				fmt.Fprintf(a.out, "  service %s removed\n", res.ServiceRemoved)
			}
			if len(res.Stopped) > 0 {
				fmt.Fprintf(a.out, "  stopped: %s\n", joinShort(res.Stopped))
			}
			if len(res.Removed) > 0 {
				fmt.Fprintf(a.out, "  removed: %s\n", joinShort(res.Removed))
			}
			return nil
		},
	}
	refFlags(cmd, &ref)
	f := cmd.Flags()
	f.BoolVar(&force, "force", false, "kill without waiting for the grace period")
	f.BoolVar(&remove, "remove", false, "also remove containers and the project")
	f.BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove <project-id>",
		Short: "Remove a project and everything it runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if !yes {
				ok, err := a.confirm(fmt.Sprintf("remove project %s?", id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.errOut, "aborted")
					return nil
				}
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			res, err := c.RemoveProject(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, res)
			}
			fmt.Fprintf(a.out, "removed %s (%d containers)\n", res.Project.Name, len(res.Removed))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func (a *app) eventsCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow lifecycle events as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			return c.Events(cmd.Context(), projectID, func(evt domain.Event) {
				if a.jsonOut {
					_ = cli.PrintJSON(a.out, evt)
					return
				}
				fmt.Fprintf(a.out, "%s %-10s %s %s\n", evt.At.Local().Format("15:04:05"), evt.Type, evt.ProjectName, evt.Message)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "", "only events for this project")
	return cmd
}
