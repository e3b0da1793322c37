package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/giantswarm/mcp-aras/internal/aras"
	"github.com/giantswarm/mcp-aras/internal/config"
	"github.com/giantswarm/mcp-aras/internal/logging"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect Aras authentication",
	}

	authCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Request a token with the configured credentials",
		Long: `Requests an access token with the configured credentials and prints
the token endpoint and expiry. When no password is configured and stdin is a
terminal, the password is prompted for.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg, opts.noColor)

			var prompt func() (string, error)
			if term.IsTerminal(int(os.Stdin.Fd())) {
				prompt = func() (string, error) {
					return readPassword(os.Stderr, cfg.Aras.Username)
				}
			}
			return checkAuth(cmd.Context(), cfg, logger, cmd.OutOrStdout(), prompt)
		},
	})

	return authCmd
}

func readPassword(w io.Writer, username string) (string, error) {
	_, _ = fmt.Fprintf(w, "Password for %s: ", username)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// checkAuth requests one token. prompt is used when the password is empty;
// nil means no prompting is possible.
func checkAuth(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer, prompt func() (string, error)) error {
	if cfg.Aras.Password == "" && prompt != nil {
		password, err := prompt()
		if err != nil {
			return err
		}
		cfg.Aras.Password = strings.TrimRight(password, "\r\n")
	}

	tokens, err := aras.NewTokenManager(cfg.Credentials(),
		aras.WithTokenLogger(logger),
		aras.WithTokenTimeout(time.Duration(cfg.Client.Timeout)),
		aras.WithTokenDiscovery(cfg.Aras.DiscoverTokenEndpoint),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	if _, err := tokens.Token(ctx); err != nil {
		return err
	}

	expiry := tokens.Expiry()
	_, _ = fmt.Fprintf(out, "Authenticated as %s on database %s\n", cfg.Aras.Username, cfg.Aras.Database)
	_, _ = fmt.Fprintf(out, "Token endpoint: %s\n", tokens.TokenURL())
	_, _ = fmt.Fprintf(out, "Expires:        %s (in %s)\n", expiry.Format(time.RFC3339), time.Until(expiry).Round(time.Second))
	_, _ = fmt.Fprintf(out, "Round trip:     %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
