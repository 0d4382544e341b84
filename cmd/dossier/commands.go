package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FranksOps/dossier/internal/api"
	"github.com/FranksOps/dossier/internal/app"
	"github.com/FranksOps/dossier/internal/metrics"
	"github.com/FranksOps/dossier/internal/pipeline"
	"github.com/FranksOps/dossier/internal/report"
	"github.com/FranksOps/dossier/internal/storage"
)

func (c *cli) researchCmd() *cobra.Command {
	var format, csvPath string

	cmd := &cobra.Command{
		Use:   "research <query>",
		Short: "Run a research query and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := a.Pipeline.Run(cmd.Context(), strings.Join(args, " "))
			if err := report.Write(cmd.OutOrStdout(), f, report.FromOutcome(out)); err != nil {
				return err
			}
			if csvPath != "" && len(out.Sources) > 0 {
				if err := writeCSVFile(csvPath, out.Sources); err != nil {
					return err
				}
			}
			if !out.Success {
				return errors.New(out.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, html or markdown")
	cmd.Flags().StringVar(&csvPath, "sources-csv", "", "also write the sources table to this CSV file")
	return cmd
}

func (c *cli) reportsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List saved research queries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			store, err := app.OpenStore(cmd.Context(), c.cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListQueries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				if list == nil {
					list = []storage.QuerySummary{}
				}
				return report.WriteJSON(cmd.OutOrStdout(), list)
			}
			return printReports(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", pipeline.DefaultReportLimit, "maximum number of queries to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printReports(w io.Writer, list []storage.QuerySummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSOURCES\tREPORT\tCREATED\tQUERY")
	for _, q := range list {
		hasReport := "no"
		if q.HasReport {
			hasReport = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			q.ID, q.Status, q.SourcesExtracted, q.SourcesFound, hasReport,
			q.CreatedAt.Local().Format("2006-01-02 15:04"), q.Text)
	}
	return tw.Flush()
}

func (c *cli) showCmd() *cobra.Command {
	var format, csvPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved query with its sources and report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), c.cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			q, err := store.GetQuery(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("query %s not found", args[0])
			}
			if err != nil {
				return err
			}

			if err := report.Write(cmd.OutOrStdout(), f, report.FromQuery(q)); err != nil {
				return err
			}
			if csvPath != "" {
				return writeCSVFile(csvPath, q.Sources)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, html or markdown")
	cmd.Flags().StringVar(&csvPath, "sources-csv", "", "also write the sources table to this CSV file")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := app.OpenStore(cmd.Context(), c.cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return report.WriteJSON(cmd.OutOrStdout(), st)
			}
			return printStats(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printStats(w io.Writer, st storage.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Queries:\t%d\n", st.TotalQueries)
	fmt.Fprintf(tw, "Sources:\t%d\n", st.TotalSources)
	fmt.Fprintf(tw, "Reports:\t%d\n", st.TotalReports)
	if st.DatabaseSize > 0 {
		fmt.Fprintf(tw, "Database size:\t%d bytes\n", st.DatabaseSize)
	}

	statuses := make([]string, 0, len(st.StatusCounts))
	for s := range st.StatusCounts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(tw, "  %s:\t%d\n", s, st.StatusCounts[storage.Status(s)])
	}
	return tw.Flush()
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the research API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = c.cfg.Server.Addr
			}

			a, err := app.New(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var ms *metrics.Server
			if c.cfg.Metrics.Port > 0 {
				ms = metrics.Start(c.cfg.Metrics.Port, c.logger)
				c.logger.Info("metrics server started", "port", c.cfg.Metrics.Port)
			}
			defer ms.Stop(context.WithoutCancel(cmd.Context()))

			return api.Serve(cmd.Context(), addr, api.NewRouter(a.Pipeline, c.logger), c.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func writeCSVFile(path string, sources []storage.Source) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.WriteSourcesCSV(f, sources); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
