package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"figflow/pkg/metrics"
	"figflow/pkg/webui"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		noAuth bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI; runs are started from the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := opts.unlockSecrets()
			if err != nil {
				return err
			}
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := a.webServer(pw, !noAuth, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.WebUI.Addr()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "web UI on http://%s\n", addr)
			err = srv.StartServer(ctx, addr)
			if a.bridge.Running() {
				a.runner.Stop()
			}
			a.runner.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config webui.host and webui.port)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "serve without basic auth when no password is configured")
	return cmd
}

// webServer builds the web UI over the app. Without a configured password
// and with auth required, a random one is generated and shown once.
func (a *app) webServer(secretsPassword string, auth bool, out io.Writer) (*webui.Server, error) {
	password := a.cfg.WebUI.Password
	if auth && password == "" {
		var err error
		if password, err = generatePassword(); err != nil {
			return nil, err
		}
		box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
		fmt.Fprintln(out, box.Render(fmt.Sprintf(
			"Web UI password generated\nUsername: %s\nPassword: %s\nSet webui.password to choose your own.",
			webui.Username, password)))
	}

	opts := webui.Options{
		Bridge:          a.bridge,
		Runner:          a.runner,
		Endpoints:       a.router,
		Runs:            a.store,
		Gatherer:        a.registry,
		OutputDir:       a.cfg.Paths.OutputDir,
		DataDir:         a.cfg.Paths.DataDir,
		Password:        password,
		SecretsPassword: secretsPassword,
	}
	if url := a.cfg.Metrics.PrometheusURL; url != "" {
		q, err := metrics.NewQueryService(url)
		if err != nil {
			return nil, err
		}
		opts.Usage = q
	}
	return webui.NewServer(opts)
}

// serveInBackground serves the web UI until ctx is done.
func (a *app) serveInBackground(ctx context.Context, secretsPassword string, out io.Writer) error {
	srv, err := a.webServer(secretsPassword, true, out)
	if err != nil {
		return err
	}
	addr := a.cfg.WebUI.Addr()
	fmt.Fprintf(out, "web UI on http://%s\n", addr)
	go func() {
		if err := srv.StartServer(ctx, addr); err != nil {
			a.logger.Error("web UI stopped: %v", err)
		}
	}()
	return nil
}

func generatePassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
