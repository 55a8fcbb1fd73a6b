package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcwatch/rcwatch/internal/core/history"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently delivered alerts",
	RunE:  runHistory,
}

var historyCountsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show the number of alerts per watch",
	RunE:  runHistoryCounts,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete alerts older than a given age",
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyCountsCmd, historyPruneCmd)
	historyCmd.Flags().String("watch", "", "only alerts of this watch")
	historyCmd.Flags().Int("limit", history.DefaultListLimit, "maximum number of alerts")
	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "age of the alerts to delete")
}

func openRecorder(cmd *cobra.Command) (*history.Recorder, func(), error) {
	database, err := openDatabase(cmd.Context(), true)
	if err != nil {
		return nil, nil, err
	}
	if err := requireMigrated(cmd.Context(), database); err != nil {
		database.Close()
		return nil, nil, err
	}
	recorder, err := history.NewRecorder(database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return recorder, func() { database.Close() }, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	recorder, closeDB, err := openRecorder(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	watchName, _ := cmd.Flags().GetString("watch")
	limit, _ := cmd.Flags().GetInt("limit")

	alerts, err := recorder.Recent(cmd.Context(), watchName, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no alerts recorded")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tWATCH\tDESTINATION\tMESSAGE")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", humanize.Time(a.CreatedAt()), a.WatchName, a.Destination, a.Message)
	}
	return tw.Flush()
}

func runHistoryCounts(cmd *cobra.Command, args []string) error {
	recorder, closeDB, err := openRecorder(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	counts, err := recorder.CountByWatch(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WATCH\tALERTS")
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%s\n", c.WatchName, humanize.Comma(c.AlertCount))
	}
	return tw.Flush()
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	recorder, closeDB, err := openRecorder(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	age, _ := cmd.Flags().GetDuration("older-than")
	cutoff := time.Now().Add(-age)
	removed, err := recorder.Prune(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s alert(s) recorded before %s\n",
		humanize.Comma(removed), cutoff.UTC().Format(time.RFC3339))
	return nil
}
