package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"figflow/pkg/config"
)

func newSecretsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted API key store",
	}
	cmd.AddCommand(newSecretsSetCmd(opts), newSecretsListCmd(opts), newSecretsDeleteCmd(opts))
	return cmd
}

func newSecretsSetCmd(opts *rootOptions) *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Store a secret such as OPENAI_API_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("secret name must not be empty")
			}
			pw, err := opts.storePassword()
			if err != nil {
				return err
			}
			if value == "" {
				if value, err = opts.password(fmt.Sprintf("Value for %s: ", name)); err != nil {
					return err
				}
			}
			if value == "" {
				return fmt.Errorf("secret value must not be empty")
			}
			config.SetSecret(name, value)
			if err := config.SaveSecrets(opts.secretsDir(), pw); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", name)
			return err
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "secret value (prompted when omitted)")
	return cmd
}

func newSecretsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := opts.unlockSecrets(); err != nil {
				return err
			}
			for _, name := range config.SecretNames() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newSecretsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := opts.unlockSecrets()
			if err != nil {
				return err
			}
			if pw == "" {
				return fmt.Errorf("no secrets file in %s", opts.secretsDir())
			}
			if !config.DeleteSecret(args[0]) {
				return fmt.Errorf("secret %s not found", args[0])
			}
			if err := config.SaveSecrets(opts.secretsDir(), pw); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}

// storePassword unlocks an existing store or picks the password of a new one.
func (o *rootOptions) storePassword() (string, error) {
	if config.SecretsFileExists(o.secretsDir()) {
		return o.unlockSecrets()
	}
	return o.newPassword()
}
