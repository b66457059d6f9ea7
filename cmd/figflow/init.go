package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"figflow/pkg/config"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		provider, model string
		force           bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with one endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			switch provider {
			case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama, config.ProviderGoogle:
			default:
				return fmt.Errorf("unknown provider %q", provider)
			}

			cfg := config.Default()
			cfg.Endpoints = []config.Endpoint{{
				Name:      "primary",
				Provider:  provider,
				Model:     model,
				APIKeyEnv: config.DefaultKeyEnv(provider),
			}}
			if err := config.Save(cfg, opts.configPath); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "wrote %s\n", opts.configPath)
			if key := config.DefaultKeyEnv(provider); key != "" {
				_, _ = fmt.Fprintf(out, "store the API key with: figflow secrets set %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", config.ProviderOpenAI, "provider of the first endpoint (openai, anthropic, ollama, google)")
	cmd.Flags().StringVar(&model, "model", "gpt-4o", "model of the first endpoint")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
