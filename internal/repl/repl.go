// Package repl provides an interactive console for issuing PLM operations by
// hand, mostly useful for checking credentials and filters before wiring the
// MCP server into a host.
package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/giantswarm/mcp-aras/internal/aras"
	"github.com/giantswarm/mcp-aras/internal/logging"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// Executor runs a PLM operation. *aras.Client implements it.
type Executor interface {
	Execute(ctx context.Context, op aras.Operation) *aras.Result
}

// TokenInspector exposes the token cache. *aras.TokenManager implements it.
type TokenInspector interface {
	Token(ctx context.Context) (string, error)
	TokenURL() string
	Expiry() time.Time
	Requests() int64
}

// commonItemTypes seed tab completion for item type arguments.
var commonItemTypes = []string{
	"Part", "Document", "CAD", "Manufacturer", "Manufacturer Part",
	"ECN", "ECR", "Express ECO", "Part BOM", "Part Document", "List",
}

// REPL represents the Read-Eval-Print Loop for PLM operations
type REPL struct {
	executor        Executor
	tokens          TokenInspector
	logger          *logging.Logger
	out             io.Writer
	now             func() time.Time
	commandHandlers map[string]commandHandler
}

// New creates a REPL. tokens may be nil, in which case the token command
// reports that no token information is available.
func New(executor Executor, tokens TokenInspector, logger *logging.Logger) *REPL {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &REPL{
		executor: executor,
		tokens:   tokens,
		logger:   logger,
		out:      os.Stdout,
		now:      time.Now,
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r
}

// Run starts the REPL
func (r *REPL) Run(ctx context.Context) error {
	config := &readline.Config{
		Prompt:          "aras> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".mcp_aras_history"),
		AutoComplete:    r.createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.out = rl.Stdout()

	r.logger.Info("Aras REPL started. Type 'help' for available commands. Use TAB for completion.")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("REPL shutting down...")
			return nil
		default:
		}

		input, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		} else if errors.Is(err, io.EOF) {
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}
	}
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// createCompleter creates the tab completion configuration
func (r *REPL) createCompleter() *readline.PrefixCompleter {
	types := make([]readline.PrefixCompleterInterface, len(commonItemTypes))
	for i, name := range commonItemTypes {
		if strings.Contains(name, " ") {
			name = `"` + name + `"`
		}
		types[i] = readline.PcItem(name)
	}

	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("token"),
		readline.PcItem("call"),
		readline.PcItem("list"),
	}
	for _, name := range []string{"get", "create", "update", "upsert", "set", "delete", "unlink", "clear"} {
		items = append(items, readline.PcItem(name, types...))
	}
	return readline.NewPrefixCompleter(items...)
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, input string) error
}

// buildCommandHandlers creates the map of command handlers
func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	handlers := map[string]commandHandler{
		"help": {handler: func(ctx context.Context, input string) error {
			return r.showHelp()
		}},
		"?": {handler: func(ctx context.Context, input string) error {
			return r.showHelp()
		}},
		"exit": {handler: func(ctx context.Context, input string) error {
			return errExit
		}},
		"quit": {handler: func(ctx context.Context, input string) error {
			return errExit
		}},
		"token": {handler: func(ctx context.Context, input string) error {
			return r.handleToken(ctx)
		}},
	}
	for name, p := range operationCommands {
		handlers[name] = commandHandler{
			minArgs: p.minArgs,
			usage:   p.usage,
			handler: r.handleOperation,
		}
	}
	return handlers
}

// executeCommand parses and executes a command
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])
	handler, exists := r.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}
	if len(parts)-1 < handler.minArgs {
		return errors.New(handler.usage)
	}
	return handler.handler(ctx, input)
}

func (r *REPL) handleOperation(ctx context.Context, input string) error {
	op, err := parseOperation(input)
	if err != nil {
		return err
	}

	r.logger.Debug("Executing %s", op.Kind)
	start := r.now()
	res := r.executor.Execute(ctx, op)
	elapsed := r.now().Sub(start)

	r.printf("%s\n", prettyJSON(res))
	if !res.Success {
		return res.Err()
	}
	r.logger.Success("%s completed in %s", op.Kind, elapsed.Round(time.Millisecond))
	return nil
}

func (r *REPL) handleToken(ctx context.Context) error {
	if r.tokens == nil {
		return fmt.Errorf("token information unavailable")
	}
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return err
	}

	expiry := r.tokens.Expiry()
	r.printf("Token endpoint: %s\n", r.tokens.TokenURL())
	r.printf("Token:          %s\n", maskToken(token))
	r.printf("Expires:        %s (in %s)\n", expiry.Format(time.RFC3339), expiry.Sub(r.now()).Round(time.Second))
	r.printf("Requests made:  %d\n", r.tokens.Requests())
	return nil
}

// showHelp displays available commands
func (r *REPL) showHelp() error {
	names := make([]string, 0, len(operationCommands))
	for name := range operationCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	r.printf("Available commands:\n")
	for _, name := range names {
		r.printf("  %s\n", strings.TrimPrefix(operationCommands[name].usage, "usage: "))
	}
	r.printf("  token\n")
	r.printf("  help, ?\n")
	r.printf("  exit, quit\n")
	r.printf("\n")
	r.printf("Quote names with spaces: unlink Part <id> \"Part BOM\" <related-id>\n")
	r.printf("Keyboard shortcuts: TAB completes, Ctrl+R searches history, Ctrl+D exits.\n")
	return nil
}

func (r *REPL) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..."
}

// prettyJSON formats v as indented JSON.
func prettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
