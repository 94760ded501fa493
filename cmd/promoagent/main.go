package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"promoagent/internal/cli"
	"promoagent/internal/config"
	"promoagent/internal/secrets"
	"promoagent/internal/security"
	"promoagent/internal/signals"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("promoagent %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

// secretsManagerFn returns the secrets store used by the secrets commands; tests replace it.
var secretsManagerFn = secrets.DefaultManager

// signalContext cancels long-running commands on SIGINT/SIGTERM; tests replace it.
var signalContext = signals.Context

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:           "promoagent",
		Short:         "Casino promotions assistant",
		Long:          "promoagent answers player questions about casino promotions using only catalog data.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().StringP("config", "c", "", "config file (JSON or YAML; default $"+cli.ConfigEnv+" or ./"+config.DefaultPath+")")

	root.AddCommand(
		newServeCommand(),
		newAskCommand(),
		newChatCommand(),
		newToolsCommand(),
		newCheckCommand(),
		newConfigCommand(),
		newSecretsCommand(),
		newCatalogCommand(),
	)
	return root
}

// loadApp resolves and loads the config, then builds the agent.
func loadApp(cmd *cobra.Command) (*cli.App, error) {
	flag, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cli.ResolveConfigPath(flag))
	if err != nil {
		return nil, err
	}
	logger := cli.NewLogger(cfg.Log, cmd.ErrOrStderr())
	return cli.Build(cmd.Context(), cfg, logger)
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool endpoints, /chat, /ws and (when enabled) Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			allowRoot, _ := cmd.Flags().GetBool("allow-root")
			return cli.Serve(ctx, app, cli.ServeOptions{AllowRoot: allowRoot}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Bool("allow-root", false, "allow serving as root (containers)")
	return cmd
}

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Answer one message and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			session, _ := cmd.Flags().GetString("session")
			asJSON, _ := cmd.Flags().GetBool("json")
			return cli.RunAsk(cmd.Context(), app, strings.Join(args, " "),
				cli.AskOptions{SessionID: session, JSON: asJSON}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("session", "", "session id (default: a new one)")
	cmd.Flags().Bool("json", false, "print the reply as JSON")
	return cmd
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			session, _ := cmd.Flags().GetString("session")
			transcript, _ := cmd.Flags().GetString("transcript")
			return cli.RunChat(ctx, app, cli.ChatOptions{SessionID: session, Transcript: transcript},
				cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("session", "", "session id (default: a new one)")
	cmd.Flags().String("transcript", "", "append turns to this JSONL file")
	return cmd
}

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the promotion tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			schemas, _ := cmd.Flags().GetBool("schema")
			return cli.RunToolsList(app.Registry, schemas, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Bool("schema", false, "print the JSON Schema of each tool")

	call := &cobra.Command{
		Use:   "call <name> [json-arguments]",
		Short: "Call a tool directly and print its envelope",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			return cli.RunToolCall(cmd.Context(), app.Registry, args[0], raw, cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(call)
	return cmd
}

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, catalog source, model provider and channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, _ := cmd.Flags().GetString("config")
			fix, _ := cmd.Flags().GetBool("fix")
			path := cli.ResolveConfigPath(flag)
			if path == "" && fix {
				path = config.DefaultPath
			}
			code := cli.RunCheck(cmd.Context(), cli.CheckOptions{ConfigPath: path, Fix: fix}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	cmd.Flags().Bool("fix", false, "write a default config if missing")
	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Get or change config values (dot paths, e.g. gateway.port)"}
	run := func(action string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			flag, _ := cmd.Flags().GetString("config")
			opts := cli.ConfigOptions{ConfigPath: cli.ResolveConfigPath(flag), Action: action, Path: args[0]}
			if len(args) > 1 {
				opts.Value = args[1]
			}
			if code := cli.RunConfig(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCodeErr(code)
			}
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "get <path>", Short: "Print a value", Args: cobra.ExactArgs(1), RunE: run("get")},
		&cobra.Command{Use: "set <path> <value>", Short: "Set a value", Args: cobra.ExactArgs(2), RunE: run("set")},
		&cobra.Command{Use: "unset <path>", Short: "Restore a value to its default", Args: cobra.ExactArgs(1), RunE: run("unset")},
	)
	return cmd
}

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "secrets", Short: "Store or retrieve API keys and tokens (encrypted, not in config)"}
	setCmd := &cobra.Command{Use: "set <name> <value>", Short: "Store a secret (e.g. openai, telegram)", Args: cobra.ExactArgs(2), RunE: runSecretsSet}
	getCmd := &cobra.Command{Use: "get <name>", Short: "Retrieve a secret by name", Args: cobra.ExactArgs(1), RunE: runSecretsGet}
	deleteCmd := &cobra.Command{Use: "delete <name>", Short: "Remove a secret by name", Args: cobra.ExactArgs(1), RunE: runSecretsDelete}
	cmd.AddCommand(setCmd, getCmd, deleteCmd)
	return cmd
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	m, err := secretsManagerFn()
	if err != nil {
		return err
	}
	if err := m.Set(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func runSecretsGet(cmd *cobra.Command, args []string) error {
	m, err := secretsManagerFn()
	if err != nil {
		return err
	}
	value, err := m.Get(args[0])
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return fmt.Errorf("secret %q not found", args[0])
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runSecretsDelete(cmd *cobra.Command, args []string) error {
	m, err := secretsManagerFn()
	if err != nil {
		return err
	}
	if err := m.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Manage the promotion catalog"}
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load a YAML catalog (or the built-in seed) into SQLite or libSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			database, _ := cmd.Flags().GetString("db")
			return cli.RunCatalogImport(cmd.Context(), cli.ImportOptions{File: file, Database: database}, cmd.OutOrStdout())
		},
	}
	importCmd.Flags().String("file", "", "YAML catalog (default: built-in seed)")
	importCmd.Flags().String("db", "", "database file or libsql:// URL")
	_ = importCmd.MarkFlagRequired("db")
	cmd.AddCommand(importCmd)
	return cmd
}

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// version is set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.0.0" -o promoagent ./cmd/promoagent
var version string

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with the given args and returns the exit code (0, 1, or 2).
func runApp(args []string) int {
	bm := newBuildMeta(getVersion(), "", "")
	root := newRootCommand(bm)
	root.SetArgs(args[1:])
	if err := root.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, security.ErrRunningAsRoot) {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, "Error:", secrets.Redact(err.Error()))
		return 1
	}
	return 0
}
