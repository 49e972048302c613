// Command nlweb exposes the tool suggestion router on the command line:
// one-shot suggestions, an interactive watch mode with a WebSocket event
// observer, and operator views of tools, health, and stats.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/reynard-dev/nlweb/internal/bus"
	"github.com/reynard-dev/nlweb/internal/config"
	"github.com/reynard-dev/nlweb/internal/history"
	"github.com/reynard-dev/nlweb/internal/suggest"
	"github.com/reynard-dev/nlweb/internal/tools"
)

var (
	cfgPath  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "nlweb",
		Short:             "Natural-language tool suggestion router",
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.nlweb/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

// newService builds and initializes a service, optionally wiring the
// history collector when persistence is enabled in config.
func newService() (*suggest.Service, *bus.Bus, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	eventBus := bus.New()
	svc := suggest.NewService(cfg, eventBus)
	if err := svc.Initialize(); err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {
		svc.Shutdown()
		eventBus.Close()
	}

	if cfg.History.Enabled {
		db, err := history.OpenDB(historyPath(cfg))
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		store, err := history.NewStore(db)
		if err != nil {
			db.Close()
			cleanup()
			return nil, nil, nil, err
		}
		collector := history.NewCollector(eventBus, store)
		collector.Start()
		inner := cleanup
		cleanup = func() {
			collector.Stop()
			db.Close()
			inner()
		}
	}

	return svc, eventBus, cleanup, nil
}

func suggestCmd() *cobra.Command {
	var (
		maxSuggestions int
		minScore       float64
		sessionID      string
		userID         string
		currentPath    string
		selected       []string
		branch         string
		category       string
		preferred      []string
		reasoning      bool
	)

	cmd := &cobra.Command{
		Use:   "suggest <query>",
		Short: "Suggest tools for a natural-language query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := newService()
			if err != nil {
				return err
			}
			defer cleanup()

			req := &suggest.Request{
				Query:            strings.Join(args, " "),
				MaxSuggestions:   maxSuggestions,
				MinScore:         minScore,
				IncludeReasoning: reasoning,
				Context:          buildContext(sessionID, userID, currentPath, branch, category, selected, preferred),
			}

			outcome, err := svc.Suggest(cmd.Context(), req)
			if err != nil {
				return err
			}
			if outcome.Rejected() {
				printJSON(outcome.Rejection)
				os.Exit(2)
			}
			printJSON(outcome.Response)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxSuggestions, "max", 0, "maximum suggestions (0 = config default)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum score 0-100 (0 = config default)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id for canary bucketing")
	cmd.Flags().StringVar(&userID, "user", "", "user id for rate limiting")
	cmd.Flags().StringVar(&currentPath, "path", "", "current working path hint")
	cmd.Flags().StringSliceVar(&selected, "select", nil, "selected item hints")
	cmd.Flags().StringVar(&branch, "branch", "", "current git branch hint")
	cmd.Flags().StringVar(&category, "category", "", "current application category")
	cmd.Flags().StringSliceVar(&preferred, "prefer", nil, "preferred tool names")
	cmd.Flags().BoolVar(&reasoning, "reasoning", false, "include scoring reasoning in suggestions")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		observe     bool
		observePort int
		sessionID   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Interactive mode: read queries from stdin, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, eventBus, cleanup, err := newService()
			if err != nil {
				return err
			}
			defer cleanup()

			if observe {
				observer := bus.NewObserver(eventBus, bus.ObserverConfig{Port: observePort})
				if err := observer.Start(); err != nil {
					return fmt.Errorf("start observer: %w", err)
				}
				defer observer.Stop()
				fmt.Fprintf(os.Stderr, "event observer listening on ws://localhost:%d/router-events\n", observePort)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintln(os.Stderr, "enter a query per line, ctrl-d to exit")
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				query := strings.TrimSpace(scanner.Text())
				if query == "" {
					continue
				}
				outcome, err := svc.Suggest(ctx, &suggest.Request{
					Query:   query,
					Context: &suggest.Context{SessionID: sessionID},
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				if outcome.Rejected() {
					printJSON(outcome.Rejection)
					continue
				}
				printJSON(outcome.Response)
				if ctx.Err() != nil {
					break
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().BoolVar(&observe, "observe", false, "serve router events over WebSocket")
	cmd.Flags().IntVar(&observePort, "observe-port", bus.DefaultObserverPort, "observer port")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id for canary bucketing")
	return cmd
}

func toolsCmd() *cobra.Command {
	var category string
	var tags []string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := newService()
			if err != nil {
				return err
			}
			defer cleanup()

			var list []tools.Tool
			switch {
			case category != "":
				list = svc.Registry().ByCategory(category)
			case len(tags) > 0:
				list = svc.Registry().ByTags(tags)
			default:
				list = svc.Registry().All()
			}
			printJSON(list)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "filter by exact category")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "filter by any matching tag")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := newService()
			if err != nil {
				return err
			}
			defer cleanup()
			printJSON(svc.ForceHealthCheck())
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show service info and persisted daily stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := newService()
			if err != nil {
				return err
			}
			defer cleanup()

			out := map[string]any{"service": svc.ServiceInfo()}

			cfg := svc.Config()
			if cfg.History.Enabled {
				db, err := history.OpenDB(historyPath(cfg))
				if err == nil {
					defer db.Close()
					if store, err := history.NewStore(db); err == nil {
						if daily, err := store.Daily(days); err == nil {
							out["daily"] = daily
						}
					}
				}
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "days of history to include")
	return cmd
}

func checklistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checklist",
		Short: "Run the deployment verification checklist",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := newService()
			if err != nil {
				return err
			}
			defer cleanup()

			list := svc.VerificationChecklist()
			printJSON(list)
			if list.Verdict == suggest.CheckFail {
				os.Exit(1)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printJSON(cfg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				path = home + "/.nlweb/config.yaml"
			}
			if err := config.Default().SaveToPath(path); err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	})

	return cmd
}

func historyPath(cfg *config.Config) string {
	if cfg.History.Path != "" {
		return cfg.History.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return home + "/.nlweb/history.db"
}

func buildContext(sessionID, userID, path, branch, category string, selected, preferred []string) *suggest.Context {
	if sessionID == "" && userID == "" && path == "" && branch == "" && category == "" &&
		len(selected) == 0 && len(preferred) == 0 {
		return nil
	}
	ctx := &suggest.Context{
		SessionID:     sessionID,
		UserID:        userID,
		CurrentPath:   path,
		SelectedItems: selected,
	}
	if branch != "" {
		ctx.GitStatus = &suggest.GitStatus{Branch: branch, IsRepository: true}
	}
	if category != "" {
		ctx.AppState = &suggest.AppState{CurrentCategory: category}
	}
	if len(preferred) > 0 {
		ctx.Preferences = &suggest.Preferences{PreferredTools: preferred}
	}
	return ctx
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
	}
}
