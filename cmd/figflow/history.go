package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"figflow/pkg/eventlog"
	"figflow/pkg/logx"
	"figflow/pkg/persistence"
	"figflow/pkg/transcript"
)

const defaultHistoryLimit = 20

// openHistory opens the run database in the data directory without loading
// the config, so past runs stay readable when no endpoint is reachable.
func (o *rootOptions) openHistory() (*persistence.Store, func(), error) {
	path := filepath.Join(o.secretsDir(), databaseFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("no run history in %s", o.secretsDir())
	}
	db, err := persistence.Open(path)
	if err != nil {
		return nil, nil, logx.Wrap(err, "failed to open run history")
	}
	return persistence.NewStore(db), func() { _ = db.Close() }, nil
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs, or print the transcript of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := opts.openHistory()
			if err != nil {
				return err
			}
			defer closeStore()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return logx.Wrap(err, "failed to list runs")
				}
				for _, run := range runs {
					_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%d iteration(s)\t%s\n",
						run.ID, run.StartedAt.Local().Format(time.DateTime), run.Status, run.Iterations, run.Task)
				}
				return nil
			}

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return logx.Wrap(err, "failed to load run "+args[0])
			}
			turns, err := store.ListTurns(cmd.Context(), run.ID)
			if err != nil {
				return logx.Wrap(err, "failed to load turns of "+run.ID)
			}
			_, _ = fmt.Fprintf(out, "run %s (%s, %d iteration(s))\n", run.ID, run.Status, run.Iterations)
			if run.Error != "" {
				_, _ = fmt.Fprintf(out, "error: %s\n", run.Error)
			}
			c := newConsole(out, nil)
			for _, rec := range turns {
				turn := transcript.Turn{
					Source:    rec.Source,
					Type:      transcript.Type(rec.Type),
					Seq:       rec.Seq,
					Timestamp: rec.CreatedAt,
				}
				if err := json.Unmarshal([]byte(rec.Content), &turn.Content); err != nil {
					return logx.Wrap(err, fmt.Sprintf("turn %d of %s is corrupt", rec.Seq, run.ID))
				}
				c.print(c.renderTurn(&turn))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "number of runs to list")
	return cmd
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var runID, logDir string
	cmd := &cobra.Command{
		Use:   "replay [event-log]",
		Short: "Print the turns recorded in an event log",
		Long: `replay reads a JSONL event log and prints its turns the way the terminal
observer showed them. Without a file it reads the newest log in --log-dir.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				files, err := eventlog.ListLogFiles(logDir)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					return fmt.Errorf("no event logs in %s", logDir)
				}
				path = files[len(files)-1]
			}
			records, err := eventlog.ReadRecords(path)
			if err != nil {
				return err
			}
			return replayRecords(cmd.OutOrStdout(), records, runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only print turns of this run")
	cmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory holding event logs")
	return cmd
}

// replayRecords renders records, announcing each run as it starts.
func replayRecords(out io.Writer, records []*eventlog.Record, runID string) error {
	c := newConsole(out, nil)
	current, matched := "", 0
	for _, rec := range records {
		if runID != "" && rec.RunID != runID {
			continue
		}
		matched++
		if rec.RunID != current {
			current = rec.RunID
			c.print(c.styles.done.Render("== run "+current) + "\n")
		}
		c.print(c.renderTurn(&rec.Turn))
	}
	if matched == 0 && runID != "" {
		return fmt.Errorf("run %s is not in this log", runID)
	}
	return nil
}
