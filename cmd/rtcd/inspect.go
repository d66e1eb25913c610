package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
)

func inspectCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the introspection report of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			report, err := fetchReport(ctx, url)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			renderReport(os.Stdout, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:9090", "daemon base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// fetchReport downloads <base>/introspection.json.
func fetchReport(ctx context.Context, base string) (introspection.Report, error) {
	var r introspection.Report
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/introspection.json", nil)
	if err != nil {
		return r, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return r, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return r, fmt.Errorf("inspect: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return r, fmt.Errorf("inspect: decode report: %w", err)
	}
	return r, nil
}

// renderReport writes the components, contexts, connectors and fatal
// exclusions of r as tables.
func renderReport(w io.Writer, r introspection.Report) {
	fmt.Fprintf(w, "Manager: %s\n", r.Manager)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Components")
	tw.AppendHeader(table.Row{"Name", "Type", "Category", "State", "Config Set", "Ports", "Contexts"})
	for _, c := range r.Components {
		ports := make([]string, 0, len(c.Ports))
		for _, p := range c.Ports {
			ports = append(ports, fmt.Sprintf("%s (%s)", p.Name, p.DataType))
		}
		bindings := make([]string, 0, len(c.Contexts))
		for _, b := range c.Contexts {
			bindings = append(bindings, fmt.Sprintf("%d:%s %s", b.ID, b.Context, b.State))
		}
		tw.AppendRow(table.Row{c.Name, c.Type, c.Category, c.State, c.ConfigSet,
			strings.Join(ports, "\n"), strings.Join(bindings, "\n")})
	}
	tw.Render()

	tw = table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Execution Contexts")
	tw.AppendHeader(table.Row{"Name", "Kind", "Owner", "Rate", "Running", "Participants"})
	for _, x := range r.Contexts {
		parts := make([]string, 0, len(x.Participants))
		for _, p := range x.Participants {
			s := fmt.Sprintf("%s %s", p.Component, p.State)
			if p.Fatal {
				s += " (fatal)"
			}
			parts = append(parts, s)
		}
		tw.AppendRow(table.Row{x.Name, x.Kind, x.Owner, x.Rate, x.Running, strings.Join(parts, "\n")})
	}
	tw.Render()

	conns := r.Connectors()
	tw = table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Connectors")
	tw.AppendHeader(table.Row{"ID", "Name", "Subscription", "Ports"})
	for _, id := range slices.Sorted(maps.Keys(conns)) {
		c := conns[id]
		tw.AppendRow(table.Row{c.ID, c.Name, c.Subscription, strings.Join(c.Ports, "\n")})
	}
	tw.Render()

	if len(r.Fatal) > 0 {
		tw = table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetTitle("Fatal")
		tw.AppendHeader(table.Row{"Component", "Context", "Callback", "At"})
		for _, f := range r.Fatal {
			tw.AppendRow(table.Row{f.Component, f.Context, f.Callback, f.At.Format(time.RFC3339)})
		}
		tw.Render()
	}
}
