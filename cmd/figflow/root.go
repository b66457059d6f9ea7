package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"figflow/pkg/agent"
	"figflow/pkg/config"
	"figflow/pkg/logx"
	"figflow/pkg/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	rawClient  agent.RawClientFunc
	password   passwordSource
	configPath string
	dataDir    string
	domains    []string
	debug      bool
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&rootOptions{password: terminalPassword})
}

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "figflow",
		Short: "Generate frontend code from Figma designs with a team of LLM workers",
		Long: `figflow runs a fixed pipeline of workers over a Figma design: an analyst
asks for missing details, a writer produces HTML/CSS, and two reviewers gate
the result before you accept it or send a correction.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultConfigFile, "config file")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "",
		fmt.Sprintf("data directory holding the database and secrets (default %q)", config.DefaultDataDir))
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&opts.domains, "debug-domains", nil,
		"limit debug logging to these domains (e.g. router,scheduler); implies --debug")
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		if len(opts.domains) > 0 {
			opts.debug = true
			logx.SetDebugDomains(opts.domains)
		}
		if opts.debug {
			logx.SetDebug(true)
		}
	}

	rootCmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newSecretsCmd(opts),
		newHistoryCmd(opts),
		newReplayCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// secretsDir is where the encrypted secrets and the run database live. It is
// known before the config is loaded because config validation needs the secrets.
func (o *rootOptions) secretsDir() string {
	if o.dataDir != "" {
		return o.dataDir
	}
	return config.DefaultDataDir
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "figflow %s\n  commit: %s\n  built:  %s\n", version.Version, version.Commit, version.Date)
			return err
		},
	}
}
