package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"figflow/pkg/logx"
	"figflow/pkg/orchestrator"
	"figflow/pkg/persistence"
	"figflow/pkg/utils"
)

const logFileName = "figflow.log"

func newRunCmd(opts *rootOptions) *cobra.Command {
	var web, clean bool
	cmd := &cobra.Command{
		Use:   "run <desktop-link> [mobile-link] | <desktop-link> <desktop-node-id> <mobile-link> <mobile-node-id>",
		Short: "Run the pipeline for a design in the terminal",
		Args:  cobra.RangeArgs(1, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := orchestrator.ParseArgs(args)
			if err != nil {
				return err
			}
			pw, err := opts.unlockSecrets()
			if err != nil {
				return err
			}
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			restore, err := logToFile(a.cfg.Paths.LogDir)
			if err != nil {
				return err
			}
			defer restore()

			if clean {
				if err := utils.CleanDirectoryContents(a.cfg.Paths.OutputDir); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if web || a.cfg.WebUI.Enabled {
				if err := a.serveInBackground(ctx, pw, cmd.OutOrStdout()); err != nil {
					return err
				}
			}

			out := a.runInTerminal(ctx, in, cmd.InOrStdin(), cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "\nrun %s %s after %d iteration(s); files in %s\n",
				out.Result.RunID, out.Status, out.Result.Iterations, a.cfg.Paths.OutputDir)
			if n := len(out.Result.States); n > 0 && out.Result.States[n-1].Similarity > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "last reported similarity: %.0f%%\n", out.Result.States[n-1].Similarity*100)
			}
			if out.Status == persistence.RunStatusFailed {
				return out.Err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&web, "web", false, "also serve the web UI while the run is active")
	cmd.Flags().BoolVar(&clean, "clean", false, "empty the output directory before the run")
	return cmd
}

// runInTerminal runs one pipeline with the console as observer. The first
// interrupt stops the run after the current worker; the second one exits.
func (a *app) runInTerminal(ctx context.Context, in orchestrator.DesignInput, stdin io.Reader, stdout io.Writer) orchestrator.Outcome {
	con := newConsole(stdout, a.bridge)
	con.start()
	defer con.stop()
	go con.readInput(stdin)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			con.print("\nstopping after the current worker (interrupt again to quit)\n")
			a.runner.Stop()
		case <-finished:
		}
	}()

	return a.runner.Run(ctx, in)
}

// logToFile sends log lines to the log directory so that they do not
// interleave with the console observer.
func logToFile(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logx.SetOutput(f)
	return func() {
		logx.SetOutput(os.Stderr)
		_ = f.Close()
	}, nil
}
