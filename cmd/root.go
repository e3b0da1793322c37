package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/giantswarm/mcp-aras/internal/aras"
	"github.com/giantswarm/mcp-aras/internal/config"
	"github.com/giantswarm/mcp-aras/internal/logging"
	"github.com/giantswarm/mcp-aras/internal/repl"
	"github.com/giantswarm/mcp-aras/internal/server"
)

// options holds the command-line flags. Connection flags override the
// config file and environment when set.
type options struct {
	configFile string
	transport  string
	listenAddr string
	repl       bool

	url                   string
	username              string
	database              string
	clientID              string
	discoverTokenEndpoint bool

	logLevel  string
	traceHTTP bool
	noColor   bool
}

var (
	version string
	opts    options
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-aras",
	Short: "MCP server for Aras Innovator PLM",
	Long: `mcp-aras exposes an Aras Innovator PLM server to AI assistants through
the Model Context Protocol.

It signs in with the OAuth password grant, keeps the bearer token fresh and
translates tool calls into Aras OData requests: querying, creating, updating
and deleting items, editing relationships, running server methods and
reading lists.

Modes:
- MCP server (default): serve tools over stdio, or streamable-http with
  --transport streamable-http
- REPL (--repl): type the same operations by hand

Connection settings come from an optional YAML file (--config), then the
environment (API_URL, API_USERNAME, API_PASSWORD, ARAS_DATABASE,
API_CLIENT_ID, API_TIMEOUT, API_RETRY_COUNT, API_RETRY_DELAY, API_RATE_LIMIT,
ARAS_DISCOVER_TOKEN_ENDPOINT, LOG_LEVEL), then flags. API_RETRY_COUNT is the
total number of attempts per request: 1 disables retries.

The password is only read from the file or API_PASSWORD, never from a flag.`,
	SilenceUsage: true,
	RunE:         runRoot,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Path to a YAML config file")
	pf.StringVar(&opts.url, "url", "", "Aras server URL (overrides API_URL)")
	pf.StringVar(&opts.username, "username", "", "Aras user name (overrides API_USERNAME)")
	pf.StringVar(&opts.database, "database", "", "Aras database (overrides ARAS_DATABASE)")
	pf.StringVar(&opts.clientID, "client-id", "", "OAuth client id (overrides API_CLIENT_ID, default IOMApp)")
	pf.BoolVar(&opts.discoverTokenEndpoint, "discover-token-endpoint", false, "Look up the token endpoint from the server's OAuth discovery document")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warning or error (overrides LOG_LEVEL)")
	pf.BoolVar(&opts.traceHTTP, "trace-http", false, "Log every HTTP request and response (needs debug level)")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.Flags().StringVar(&opts.transport, "transport", server.TransportStdio, "MCP server transport (stdio, streamable-http)")
	rootCmd.Flags().StringVar(&opts.listenAddr, "listen-addr", ":8899", "Listen address for streamable-http (path is fixed to /mcp)")
	rootCmd.Flags().BoolVar(&opts.repl, "repl", false, "Start interactive REPL mode instead of the MCP server")

	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

// loadConfig reads file and environment settings and applies flags the user
// changed on top.
func loadConfig(o options, changed func(name string) bool) (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	o.apply(cfg, changed)
	return cfg, nil
}

func (o options) apply(cfg *config.Config, changed func(name string) bool) {
	if changed("url") {
		cfg.Aras.URL = o.url
	}
	if changed("username") {
		cfg.Aras.Username = o.username
	}
	if changed("database") {
		cfg.Aras.Database = o.database
	}
	if changed("client-id") {
		cfg.Aras.ClientID = o.clientID
	}
	if changed("discover-token-endpoint") {
		cfg.Aras.DiscoverTokenEndpoint = o.discoverTokenEndpoint
	}
	if changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if changed("trace-http") {
		cfg.Logging.TraceHTTP = o.traceHTTP
	}
}

// newLogger writes to stderr; colour is used only when stderr is a terminal.
func newLogger(cfg *config.Config, noColor bool) *logging.Logger {
	useColor := !noColor && os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stderr.Fd()))
	return logging.NewLogger(cfg.LogLevel(), useColor, cfg.Logging.TraceHTTP)
}

// newArasClient wires the token manager and the OData client from cfg.
func newArasClient(cfg *config.Config, logger *logging.Logger) (*aras.TokenManager, *aras.Client, error) {
	policy := cfg.RetryPolicy()

	tokens, err := aras.NewTokenManager(cfg.Credentials(),
		aras.WithTokenLogger(logger),
		aras.WithTokenTimeout(policy.Timeout),
		aras.WithTokenDiscovery(cfg.Aras.DiscoverTokenEndpoint),
	)
	if err != nil {
		return nil, nil, err
	}

	client, err := aras.NewClient(aras.ClientConfig{
		ServerURL:  cfg.Credentials().URL,
		Tokens:     tokens,
		Retry:      policy,
		HTTPClient: &http.Client{},
		RateLimit:  cfg.Client.RateLimit,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return tokens, client, nil
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc, logger *logging.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received %s, shutting down gracefully...", sig)
		cancel()
	}()
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(opts, cmd.Flags().Changed)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg, opts.noColor)
	if cfg.Aras.Password == "" {
		logger.Warning("No password configured (%s); token requests will likely be rejected", config.EnvPassword)
	}

	tokens, client, err := newArasClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	setupSignalHandler(cancel, logger)

	if opts.repl {
		if err := repl.New(client, tokens, logger).Run(ctx); err != nil {
			return fmt.Errorf("REPL error: %w", err)
		}
		return nil
	}

	srv, err := server.New(client, opts.transport, version, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info("Starting mcp-aras %s for %s (database %s, transport %s)",
		version, cfg.Credentials().URL, cfg.Aras.Database, opts.transport)
	if err := srv.Start(ctx, opts.listenAddr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
