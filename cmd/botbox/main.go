// Package main is the entry point for the botbox CLI.
//
// Botbox runs robot matches: it resolves robot identities (published
// robots, local source files, arbitrary commands), compiles WebAssembly
// language runners through a content-addressed module cache, and drives
// two robots through a turn loop with per-turn timeouts. The serve
// subcommand starts a local watch server that streams match progress
// over server-sent events.
//
// The serve subcommand uses Uber's fx framework for dependency injection
// and lifecycle management, with zap for structured logging and viper
// for configuration.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/botbox/api"
	"github.com/isdmx/botbox/arena"
	"github.com/isdmx/botbox/config"
	"github.com/isdmx/botbox/logger"
	"github.com/isdmx/botbox/modcache"
	"github.com/isdmx/botbox/robotid"
	"github.com/isdmx/botbox/runner"
	"github.com/isdmx/botbox/server"
)

var (
	flagTurns   int
	flagTimeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "botbox",
		Short:         "Run and watch robot matches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVar(&flagTurns, "turns", 0, "number of turns per match (default from config)")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "per-turn timeout, e.g. 500ms (default from config)")

	root.AddCommand(newRunCmd(), newRunCommandCmd(), newWasmCmd(), newServeCmd(), newLoginCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the pieces the one-shot subcommands need. The serve
// subcommand builds the same pieces through fx instead.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	runtime *modcache.Runtime
	client  *api.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := modcache.New(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	client, err := api.New(log, cfg.API)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return &app{cfg: cfg, log: log, runtime: rt, client: client}, nil
}

func (a *app) close(ctx context.Context) {
	_ = a.runtime.Close(ctx)
	_ = a.log.Sync()
}

func (a *app) turns() int {
	if flagTurns > 0 {
		return flagTurns
	}
	return a.cfg.Match.Turns
}

func (a *app) runnerOptions(team runner.Team) []runner.Option {
	timeout := flagTimeout
	if timeout <= 0 {
		timeout = a.cfg.TurnTimeout()
	}
	return []runner.Option{
		runner.WithTimeout(timeout),
		runner.WithLogger(logger.ForTeam(a.log, string(team))),
	}
}

func (a *app) deps() runner.Deps {
	return runner.Deps{Runtime: a.runtime, API: a.client}
}

// builderFor resolves one identity into a RunnerBuilder for the driver
func (a *app) builderFor(team runner.Team, id robotid.Identity) arena.RunnerBuilder {
	return func(ctx context.Context) (runner.Runner, error) {
		return runner.FromIdentity(ctx, a.deps(), id, a.runnerOptions(team)...)
	}
}

// match drives one full match between two identities, printing per-turn
// progress and the final outcome.
func (a *app) match(ctx context.Context, blue, red robotid.Identity) error {
	driver, err := arena.NewDriver(a.log, arena.PassEngine{}, a.turns(), printTurn)
	if err != nil {
		return err
	}
	outcome, err := driver.Run(ctx, a.builderFor(runner.TeamBlue, blue), a.builderFor(runner.TeamRed, red))
	if err != nil {
		return err
	}
	printOutcome(outcome)
	return nil
}

func printTurn(r *arena.TurnRecord) {
	fmt.Printf("--- turn %d ---\n", r.Turn)
	for _, team := range []runner.Team{runner.TeamBlue, runner.TeamRed} {
		if pe := r.Errors[team]; pe != nil {
			fmt.Printf("[%s] error: %s\n", team, pe.Error())
			continue
		}
		out := r.Outputs[team]
		if out == nil {
			continue
		}
		for _, line := range out.Logs {
			fmt.Printf("[%s] %s\n", team, line)
		}
		units := make([]string, 0, len(out.Actions))
		for unit := range out.Actions {
			units = append(units, unit)
		}
		sort.Strings(units)
		for _, unit := range units {
			act := out.Actions[unit]
			fmt.Printf("[%s] %s: %s %s\n", team, unit, act.Type, act.Direction)
		}
	}
}

func printOutcome(o *arena.Outcome) {
	fmt.Printf("match %s finished after %d turns\n", o.MatchID, o.Turns)
	if o.Winner != nil {
		fmt.Printf("winner: %s\n", *o.Winner)
	} else {
		fmt.Println("no winner")
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run ROBOT1 ROBOT2",
		Short: "Run a match between two robots given by identity",
		Long: "Robot identities: USER/NAME (published), a source file path,\n" +
			"command:CMD, localrunner:CMD, or inline python/javascript source.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blue, err := robotid.Parse(args[0])
			if err != nil {
				return err
			}
			red, err := robotid.Parse(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return a.match(ctx, blue, red)
		},
	}
}

// commandIdentity builds a localrunner-style identity from an explicit
// command line and a source file. The source path is passed to the
// command as its final argument.
func commandIdentity(command, source string) (robotid.Identity, error) {
	parts, err := shlex.Split(command)
	if err != nil || len(parts) == 0 {
		return robotid.Identity{}, fmt.Errorf("invalid command %q", command)
	}
	return robotid.Identity{
		Kind:       robotid.KindLocalRunner,
		Program:    parts[0],
		Args:       parts[1:],
		SourcePath: source,
	}, nil
}

func newRunCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-command CMD1 SRC1 CMD2 SRC2",
		Short: "Run a match between two robots driven by external commands",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			blue, err := commandIdentity(args[0], args[1])
			if err != nil {
				return err
			}
			red, err := commandIdentity(args[2], args[3])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return a.match(ctx, blue, red)
		},
	}
}

func newWasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wasm MODULE1 SRC1 MODULE2 SRC2",
		Short: "Run a match between two explicit WebAssembly runner modules",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			builder := func(team runner.Team, module, source string) arena.RunnerBuilder {
				return func(ctx context.Context) (runner.Runner, error) {
					bytecode, err := os.ReadFile(module)
					if err != nil {
						return nil, fmt.Errorf("reading module %s: %w", module, err)
					}
					mod, err := a.runtime.GetOrCompile(ctx, bytecode)
					if err != nil {
						return nil, err
					}
					dir, err := runner.SourceDirForFile(source)
					if err != nil {
						return nil, err
					}
					opts := append(a.runnerOptions(team), runner.WithOwnedDir(dir))
					return runner.NewSandbox(ctx, a.runtime, mod, dir, nil, opts...)
				}
			}

			driver, err := arena.NewDriver(a.log, arena.PassEngine{}, a.turns(), printTurn)
			if err != nil {
				return err
			}
			outcome, err := driver.Run(ctx,
				builder(runner.TeamBlue, args[0], args[1]),
				builder(runner.TeamRed, args[2], args[3]))
			if err != nil {
				return err
			}
			printOutcome(outcome)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve ROBOT OPPONENT...",
		Short: "Start the watch server for the given robot roster",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roster := make([]robotid.Identity, 0, len(args))
			for _, token := range args {
				id, err := robotid.Parse(token)
				if err != nil {
					return err
				}
				roster = append(roster, id)
			}

			fxApp := fx.New(
				// Provide dependencies
				fx.Provide(
					config.New,
					logger.NewFromConfig,
					func(log *zap.Logger, cfg *config.Config) (*modcache.Runtime, error) {
						return modcache.New(context.Background(), log, cfg)
					},
					func(log *zap.Logger, cfg *config.Config) (*api.Client, error) {
						return api.New(log, cfg.API)
					},
					func(log *zap.Logger, cfg *config.Config, rt *modcache.Runtime, client *api.Client) (*server.Server, error) {
						a := &app{cfg: cfg, log: log, runtime: rt, client: client}
						defaultTurns := a.turns()
						match := func(ctx context.Context, blue, red robotid.Identity, turns int, cb arena.TurnCallback) (*arena.Outcome, error) {
							driver, err := arena.NewDriver(log, arena.PassEngine{}, turns, cb)
							if err != nil {
								return nil, err
							}
							return driver.Run(ctx, a.builderFor(runner.TeamBlue, blue), a.builderFor(runner.TeamRed, red))
						}
						return server.New(log, cfg.Server, roster, defaultTurns, match)
					},
				),

				fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *server.Server, rt *modcache.Runtime) {
					srvCtx, cancel := context.WithCancel(context.Background())
					lc.Append(fx.Hook{
						OnStart: func(context.Context) error {
							go func() {
								if err := srv.Serve(srvCtx); err != nil {
									_ = shutdowner.Shutdown()
								}
							}()
							return nil
						},
						OnStop: func(ctx context.Context) error {
							cancel()
							return rt.Close(ctx)
						},
					})
				}),

				// Use the application logger for fx logs
				fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: log}
				}),
			)

			fxApp.Run()
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to the robot service and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.New()
			if err != nil {
				return err
			}
			log, err := logger.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			client, err := api.New(log, cfg.API)
			if err != nil {
				return err
			}

			in := bufio.NewReader(cmd.InOrStdin())
			fmt.Fprint(cmd.OutOrStdout(), "username: ")
			username, err := in.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading username: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), "password: ")
			password, err := in.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}

			session, err := client.Authenticate(ctx, strings.TrimSpace(username), strings.TrimSpace(password))
			if err != nil {
				return err
			}

			cfg.API.Session = session
			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			if err := cfg.Write(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in, session saved to %s\n", path)
			return nil
		},
	}
}
