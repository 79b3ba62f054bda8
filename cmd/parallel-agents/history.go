package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/parallel-agents/internal/persistence"
)

func historyCmd(g *globalFlags) *cobra.Command {
	var (
		dbPath     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history [task-id]",
		Short: "List recorded submissions, or show one with its microtasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := g.loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				dbPath = cfg.Store.Path
			}
			if dbPath == "" {
				return errors.New("no history database: pass --db or set store.path in the config")
			}

			store, err := persistence.NewSQLiteStore(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				sub, err := store.GetSubmission(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, sub)
				}
				return printSubmission(out, sub)
			}

			subs, err := store.ListSubmissions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, subs)
			}
			return printHistory(out, subs)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database (default: store.path from config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of submissions to list (0 = all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHistory(w io.Writer, subs []persistence.Submission) error {
	if len(subs) == 0 {
		_, err := fmt.Fprintln(w, "no submissions recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBMITTED\tID\tTYPE\tMODE\tSTRATEGY\tCONFIDENCE\tDURATION")
	for _, s := range subs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%v\n",
			s.SubmittedAt.Local().Format(time.DateTime),
			s.TaskID,
			s.Type,
			s.Mode,
			s.MergeStrategy,
			confidenceText(s.Confidence),
			s.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func printSubmission(w io.Writer, s *persistence.Submission) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "task\t%s\n", s.TaskID)
	fmt.Fprintf(tw, "submitted\t%s\n", s.SubmittedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "type\t%s (complexity %d)\n", s.Type, s.Complexity)
	fmt.Fprintf(tw, "mode\t%s\n", s.Mode)
	fmt.Fprintf(tw, "strategy\t%s\n", s.MergeStrategy)
	fmt.Fprintf(tw, "confidence\t%s\n", confidenceText(s.Confidence))
	fmt.Fprintf(tw, "attempts\t%d\n", s.Attempts)
	fmt.Fprintf(tw, "duration\t%v\n", s.Duration.Round(time.Millisecond))
	if s.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", s.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Microtasks) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MICROTASK\tAGENT\tSTATUS\tATTEMPTS\tDURATION\tERROR")
	for _, mt := range s.Microtasks {
		status := "ok"
		if !mt.Success {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\t%s\n", mt.ID, mt.AgentID, status, mt.Attempts, mt.Duration.Round(time.Millisecond), mt.Error)
	}
	return tw.Flush()
}

func confidenceText(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *c)
}
