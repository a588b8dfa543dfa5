package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/jnoller/racer/internal/cli"
	"github.com/jnoller/racer/pkg/api/client"
)

var now = time.Now

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func uptime(started time.Time, state string) string {
	if started.IsZero() || state != "running" {
		return "-"
	}
	return units.HumanDuration(now().Sub(started))
}

// adminCall resolves the client and token every admin subcommand needs.
func (a *app) adminCall() (*client.Client, string, error) {
	c, err := a.client()
	if err != nil {
		return nil, "", err
	}
	token, err := a.adminToken()
	if err != nil {
		return nil, "", err
	}
	return c, token, nil
}

func (a *app) containersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "containers",
		Aliases: []string{"container"},
		Short:   "Inspect and manage racer containers",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List racer-managed containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			containers, err := c.Containers(cmd.Context(), token)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, containers)
			}
			if len(containers) == 0 {
				fmt.Fprintln(a.out, "no containers")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONTAINER\tNAME\tSTATE\tUPTIME\tIMAGE")
			for _, ctr := range containers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", shortID(ctr.ID), ctr.Name, ctr.State, uptime(ctr.StartedAt, ctr.State), ctr.Image)
			}
			return tw.Flush()
		},
	}

	status := &cobra.Command{
		Use:   "status <container-id>",
		Short: "Show one container's recorded and live state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			st, err := c.ContainerStatus(cmd.Context(), token, args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, st)
			}
			fmt.Fprintf(a.out, "container: %s\n", args[0])
			fmt.Fprintf(a.out, "state:     %s\n", st.State)
			if st.Health != "" {
				fmt.Fprintf(a.out, "health:    %s\n", st.Health)
			}
			if st.Record.ProjectID != "" {
				fmt.Fprintf(a.out, "project:   %s\n", st.Record.ProjectID)
				fmt.Fprintf(a.out, "port:      %d -> %d\n", st.Record.HostPort, st.Record.AppPort)
			}
			if st.Uptime != "" {
				fmt.Fprintf(a.out, "uptime:    %s\n", st.Uptime)
			}
			if st.URL != "" {
				fmt.Fprintf(a.out, "url:       %s\n", st.URL)
			}
			return nil
		},
	}

	var (
		tail   int
		follow bool
	)
	logs := &cobra.Command{
		Use:   "logs <container-id>",
		Short: "Print a container's output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			if follow {
				return c.FollowContainerLogs(cmd.Context(), token, args[0], tail, a.out)
			}
			text, err := c.ContainerLogs(cmd.Context(), token, args[0], tail)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, text)
			return nil
		},
	}
	logs.Flags().IntVar(&tail, "tail", 100, "number of lines from the end")
	logs.Flags().BoolVarP(&follow, "follow", "f", false, "stream new output until interrupted")

	var force bool
	stop := &cobra.Command{
		Use:   "stop <container-id>",
		Short: "Stop one container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			if err := c.StopContainer(cmd.Context(), token, args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "container %s stopped\n", shortID(args[0]))
			return nil
		},
	}
	stop.Flags().BoolVar(&force, "force", false, "kill without waiting for the grace period")

	var yes bool
	remove := &cobra.Command{
		Use:   "remove <container-id>",
		Short: "Force-remove one container and its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if proceed, err := a.ask(yes, fmt.Sprintf("remove container %s?", args[0])); err != nil || !proceed {
				return err
			}
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			if err := c.RemoveContainer(cmd.Context(), token, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "container %s removed\n", shortID(args[0]))
			return nil
		},
	}
	remove.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	var cleanupYes bool
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove every exited racer container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if proceed, err := a.ask(cleanupYes, "remove all stopped racer containers?"); err != nil || !proceed {
				return err
			}
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			res, err := c.Cleanup(cmd.Context(), token)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, res)
			}
			fmt.Fprintf(a.out, "removed %d containers\n", len(res.Removed))
			for _, id := range res.Removed {
				fmt.Fprintf(a.out, "  %s\n", shortID(id))
			}
			return nil
		},
	}
	cleanup.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(list, status, logs, stop, remove, cleanup)
	return cmd
}

// ask returns true when yes is set or the operator confirms.
func (a *app) ask(yes bool, question string) (bool, error) {
	if yes {
		return true, nil
	}
	ok, err := a.confirm(question)
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Fprintln(a.errOut, "aborted")
	}
	return ok, nil
}
