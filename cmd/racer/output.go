package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"

	"github.com/jnoller/racer/internal/domain"
)

var now = time.Now

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func joinShort(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return strings.Join(out, ", ")
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return units.HumanDuration(now().Sub(t)) + " ago"
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func printProjects(w io.Writer, views []domain.StatusView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "no projects deployed")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROJECT ID\tSTATE\tINSTANCES\tCREATED")
	for _, v := range views {
		state := v.State
		if v.Stale {
			state += " (stale)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", v.Project.Name, v.Project.ID, state, currentInstances(v), ago(v.Project.CreatedAt))
	}
	_ = tw.Flush()
}

func printStatus(w io.Writer, v domain.StatusView) {
	fmt.Fprintf(w, "%s (%s): %s\n", v.Project.Name, v.Project.ID, v.State)
	fmt.Fprintf(w, "  source:  %s\n", v.Project.Source)
	fmt.Fprintf(w, "  created: %s\n", ago(v.Project.CreatedAt))
	if v.Stale {
		fmt.Fprintln(w, "  runtime unreachable, showing recorded state")
	}
	if len(v.Containers) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  CONTAINER\tSTATE\tPORT\tUPTIME\tURL")
		for _, c := range v.Containers {
			uptime := c.Uptime
			if uptime == "" {
				uptime = "-"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\t%s\n", shortID(c.Record.ContainerID), c.State, c.Record.HostPort, uptime, c.URL)
		}
		_ = tw.Flush()
	}
	if g := v.Group; g != nil {
		fmt.Fprintf(w, "  service %s: %d/%d running", g.Group.ServiceName, g.Running, g.Group.DesiredInstances)
		if g.URL != "" {
			fmt.Fprintf(w, " at %s", g.URL)
		}
		fmt.Fprintln(w)
	}
	printWarnings(w, v.Warnings)
}
