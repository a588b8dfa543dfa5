package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jnoller/racer/internal/cli"
)

func (a *app) servicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "services",
		Aliases: []string{"service"},
		Short:   "Inspect and manage swarm services backing scaled projects",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List racer-managed services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			services, err := c.Services(cmd.Context(), token)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, services)
			}
			if len(services) == 0 {
				fmt.Fprintln(a.out, "no services")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tREPLICAS\tIMAGE")
			for _, svc := range services {
				fmt.Fprintf(tw, "%s\t%d/%d\t%s\n", svc.Name, svc.Running, svc.Replicas, svc.Image)
			}
			return tw.Flush()
		},
	}

	status := &cobra.Command{
		Use:   "status <service-name>",
		Short: "Show a service's tasks and its scale group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			view, err := c.ServiceStatus(cmd.Context(), token, args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return cli.PrintJSON(a.out, view)
			}
			svc := view.Service
			fmt.Fprintf(a.out, "service:  %s\n", svc.Name)
			fmt.Fprintf(a.out, "replicas: %d/%d running\n", svc.Running, svc.Replicas)
			fmt.Fprintf(a.out, "image:    %s\n", svc.Image)
			if view.Group != nil {
				fmt.Fprintf(a.out, "project:  %s (group %s, %s)\n", view.Group.ProjectID, view.Group.ID, view.Group.Status)
			}
			if len(svc.Tasks) > 0 {
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SLOT\tTASK\tSTATE\tDESIRED\tERROR")
				for _, task := range svc.Tasks {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", task.Slot, shortID(task.ID), task.State, task.Desired, task.Error)
				}
				return tw.Flush()
			}
			return nil
		},
	}

	var tail int
	logs := &cobra.Command{
		Use:   "logs <service-name>",
		Short: "Print the combined output of a service's replicas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			text, err := c.ServiceLogs(cmd.Context(), token, args[0], tail)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, text)
			return nil
		},
	}
	logs.Flags().IntVar(&tail, "tail", 100, "number of lines from the end")

	var yes bool
	remove := &cobra.Command{
		Use:   "remove <service-name>",
		Short: "Delete a service and its scale group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if proceed, err := a.ask(yes, fmt.Sprintf("remove service %s?", args[0])); err != nil || !proceed {
				return err
			}
			c, token, err := a.adminCall()
			if err != nil {
				return err
			}
			if err := c.RemoveService(cmd.Context(), token, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "service %s removed\n", args[0])
			return nil
		},
	}
	remove.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(list, status, logs, remove)
	return cmd
}
