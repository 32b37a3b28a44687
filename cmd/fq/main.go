package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"frequency/internal/app"
	"frequency/internal/config"
	"frequency/internal/db"
	"frequency/internal/domain"
	"frequency/internal/engine"
	"frequency/internal/progress"
	"frequency/internal/repo"
	"frequency/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fq",
	Short: "Frequency CLI",
	Long: `Frequency tracks team objectives, their key results and the wins logged against them.
- Objectives are OKRs or goals, grouped by category and kept in a user-defined order.
- Key results are leading or lagging metrics (current / target) or win conditions.
- A win condition's current value is the number of wins logged against it.
- Wins can be attributed to people from the workspace directory.
- Every change is recorded in the event log; view it with 'fq log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FREQUENCY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("user", app.DefaultUser, "user id changes are attributed to")
	flags.String("db-driver", "sqlite", "database driver (sqlite or postgres)")
	flags.String("db-dsn", "", "database DSN (required for postgres)")
	flags.BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "json", "user", "db-driver", "db-dsn", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(objectiveCmd())
	rootCmd.AddCommand(krCmd())
	rootCmd.AddCommand(winCmd())
	rootCmd.AddCommand(personCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(logCmd())
}

func appOptions() app.Options {
	return app.Options{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("db-driver"),
		DSN:       viper.GetString("db-dsn"),
		User:      viper.GetString("user"),
		Logger:    slog.Default(),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, appOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func initCmd() *cobra.Command {
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and seed config and categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if writeConfig {
				if _, err := os.Stat(config.Path(workspace)); err == nil {
					return fmt.Errorf("%s already exists", config.Path(workspace))
				}
				if err := os.MkdirAll(workspace, 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault("frequency")), 0o644); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				cats, err := a.Engine.ListCategories(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workspace": a.Config.Workspace.Name, "db": a.Dialect, "categories": cats})
				}
				where := db.Path(workspace)
				if a.Dialect == db.Postgres {
					where = "postgres"
				}
				fmt.Printf("Workspace %q ready (%s), %d categories\n", a.Config.Workspace.Name, where, len(cats))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "also write a default frequency.yml")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("FREQUENCY_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				log := slog.Default()
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Repo:     a.Repo,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, DevAuth: devAuth || viper.GetBool("dev-auth"), Logger: log},
					Logger:   log,
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, a.Repo, a.Config, log)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Frequency API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devAuth, "dev-auth", false, "DEV ONLY: enable /auth/dev/login and the X-Frequency-User header")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if viper.GetBool("json") {
					return printJSON(a.Config)
				}
				data, err := a.Config.Marshal()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Repo.UpsertWorkspaceConfig(ctx, app.WorkspaceKey, cfg, a.User.ID); err != nil {
					return err
				}
				if _, err := app.SeedCategories(ctx, engine.New(a.Repo, cfg, slog.Default()), cfg, a.User.ID); err != nil {
					return err
				}
				fmt.Printf("Imported config for workspace %q\n", cfg.Workspace.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func objectiveCmd() *cobra.Command {
	obj := &cobra.Command{Use: "objective", Aliases: []string{"obj"}, Short: "Manage objectives"}
	obj.AddCommand(objectiveListCmd())
	obj.AddCommand(objectiveCreateCmd())
	obj.AddCommand(objectiveShowCmd())
	obj.AddCommand(objectiveUpdateCmd())
	obj.AddCommand(objectiveDeleteCmd())
	obj.AddCommand(objectiveReorderCmd())
	obj.AddCommand(objectiveMoveCmd())
	return obj
}

func objectiveListCmd() *cobra.Command {
	var typ, category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List objectives in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListObjectives(ctx, engine.ObjectiveQuery{Type: domain.ObjectiveType(typ), Category: categoryFilter(category)})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printObjectives(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(domain.ObjectiveOKR), "okr or goal")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	return cmd
}

func objectiveCreateCmd() *cobra.Command {
	var opts engine.ObjectiveCreateOptions
	var typ string
	var initiatives []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.Type = domain.ObjectiveType(typ)
				opts.Initiatives = parseInitiatives(initiatives)
				opts.ActorID = a.User.ID
				o, err := a.Engine.CreateObjective(ctx, opts)
				if err != nil {
					return err
				}
				return printObjective(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&typ, "type", string(domain.ObjectiveOKR), "okr or goal")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category (defaults to the configured default)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringArrayVar(&initiatives, "initiative", nil, `initiative text, optionally "text|||url" (repeatable)`)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func objectiveShowCmd() *cobra.Command {
	var next, prev bool
	var category string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an objective; --next/--prev step through the category view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				id := args[0]
				if next || prev {
					p, n, err := a.Engine.Neighbors(ctx, id, engine.NeighborQuery{Category: categoryFilter(category)})
					if err != nil {
						return err
					}
					target := n
					if prev {
						target = p
					}
					if target == "" {
						return fmt.Errorf("no objective in that direction")
					}
					id = target
				}
				o, err := a.Engine.GetObjective(ctx, id)
				if err != nil {
					return err
				}
				return printObjective(o)
			})
		},
	}
	cmd.Flags().BoolVar(&next, "next", false, "show the objective after this one")
	cmd.Flags().BoolVar(&prev, "prev", false, "show the objective before this one")
	cmd.Flags().StringVar(&category, "category", "", "view to navigate in")
	cmd.MarkFlagsMutuallyExclusive("next", "prev")
	return cmd
}

func objectiveUpdateCmd() *cobra.Command {
	var title, typ, category, description string
	var initiatives []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an objective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ObjectiveUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("type") {
				t := domain.ObjectiveType(typ)
				opts.Type = &t
			}
			if cmd.Flags().Changed("category") {
				opts.Category = &category
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("initiative") {
				parsed := parseInitiatives(initiatives)
				opts.Initiatives = &parsed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.ActorID = a.User.ID
				o, err := a.Engine.UpdateObjective(ctx, opts)
				if err != nil {
					return err
				}
				return printObjective(o)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&typ, "type", "", "okr or goal")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringArrayVar(&initiatives, "initiative", nil, "replace initiatives (repeatable)")
	return cmd
}

func objectiveDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an objective with its key results and wins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.DeleteObjective(ctx, args[0], a.User.ID); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func objectiveReorderCmd() *cobra.Command {
	var opts engine.ReorderObjectivesOptions
	var typ string
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Move the objective at --from to --to within the (type, category) view",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.Type = domain.ObjectiveType(typ)
				opts.Category = categoryFilter(opts.Category)
				opts.ActorID = a.User.ID
				items, err := a.Engine.ReorderObjectives(ctx, opts)
				return printReordered(items, err)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(domain.ObjectiveOKR), "okr or goal")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category view")
	cmd.Flags().IntVar(&opts.From, "from", 0, "current position in the view")
	cmd.Flags().IntVar(&opts.To, "to", 0, "new position in the view")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func objectiveMoveCmd() *cobra.Command {
	var opts engine.MoveObjectiveOptions
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Drop an objective onto another; crossing the privileged section re-tags it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.ID = args[0]
				opts.ActorID = a.User.ID
				items, err := a.Engine.MoveObjective(ctx, opts)
				return printReordered(items, err)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OverID, "over", "", "objective id to drop onto")
	cmd.Flags().StringVar(&opts.View, "view", engine.AllView, "view the drop happens in")
	_ = cmd.MarkFlagRequired("over")
	return cmd
}

func krCmd() *cobra.Command {
	kr := &cobra.Command{Use: "kr", Short: "Manage key results"}
	kr.AddCommand(krAddCmd())
	kr.AddCommand(krUpdateCmd())
	kr.AddCommand(krProgressCmd("set", "Set current to an absolute value", 0))
	kr.AddCommand(krProgressCmd("inc", "Increase current (default 1)", 1))
	kr.AddCommand(krProgressCmd("dec", "Decrease current (default 1), stopping at 0", -1))
	kr.AddCommand(krConvertCmd())
	kr.AddCommand(krDeleteCmd())
	kr.AddCommand(krReorderCmd())
	return kr
}

func krAddCmd() *cobra.Command {
	var opts engine.KeyResultCreateOptions
	var typ string
	var target float64
	cmd := &cobra.Command{
		Use:   "add <objective-id>",
		Short: "Add a key result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.ObjectiveID = args[0]
				opts.Type = domain.KeyResultType(typ)
				if cmd.Flags().Changed("target") {
					opts.Target = &target
				}
				opts.ActorID = a.User.ID
				kr, err := a.Engine.CreateKeyResult(ctx, opts)
				if err != nil {
					return err
				}
				return printKeyResult(kr)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&typ, "type", string(domain.KeyResultLeading), "leading, lagging or win_condition")
	cmd.Flags().Float64Var(&opts.Current, "current", 0, "starting value")
	cmd.Flags().Float64Var(&target, "target", 0, "target value")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func krUpdateCmd() *cobra.Command {
	var title, unit string
	var target float64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a key result's title, target or unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.KeyResultUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("target") {
				opts.Target = &target
			}
			if cmd.Flags().Changed("unit") {
				opts.Unit = &unit
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.ActorID = a.User.ID
				kr, err := a.Engine.UpdateKeyResult(ctx, opts)
				if err != nil {
					return err
				}
				return printKeyResult(kr)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().Float64Var(&target, "target", 0, "target value")
	cmd.Flags().StringVar(&unit, "unit", "", "unit")
	return cmd
}

// krProgressCmd builds set (sign 0), inc (+1) and dec (-1).
func krProgressCmd(use, short string, sign float64) *cobra.Command {
	args := cobra.RangeArgs(1, 2)
	usage := use + " <id> [amount]"
	if sign == 0 {
		args = cobra.ExactArgs(2)
		usage = use + " <id> <value>"
	}
	return &cobra.Command{
		Use:   usage,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			amount := 1.0
			if len(argv) == 2 {
				v, err := strconv.ParseFloat(argv[1], 64)
				if err != nil {
					return fmt.Errorf("invalid number %q", argv[1])
				}
				amount = v
			}
			opts := engine.ProgressOptions{ID: argv[0]}
			if sign == 0 {
				opts.Set = &amount
			} else {
				delta := sign * amount
				opts.Delta = &delta
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.ActorID = a.User.ID
				kr, err := a.Engine.SetProgress(ctx, opts)
				if err != nil {
					return err
				}
				return printKeyResult(kr)
			})
		},
	}
}

func krConvertCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "convert <id>",
		Short: "Change a key result's type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				kr, err := a.Engine.ConvertKeyResultType(ctx, args[0], domain.KeyResultType(to), a.User.ID)
				if err != nil {
					return err
				}
				return printKeyResult(kr)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "leading, lagging or win_condition")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func krDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a key result and its wins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.DeleteKeyResult(ctx, args[0], a.User.ID); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func krReorderCmd() *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "reorder <objective-id>",
		Short: "Move a key result within its objective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ReorderKeyResults(ctx, args[0], from, to, a.User.ID)
				var re engine.ReconciledError
				if errors.As(err, &re) {
					printKeyResults(re.KeyResults)
					return err
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printKeyResults(items)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "current position")
	cmd.Flags().IntVar(&to, "to", 0, "new position")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func winCmd() *cobra.Command {
	w := &cobra.Command{Use: "win", Short: "Log and browse wins"}
	w.AddCommand(winLogCmd())
	w.AddCommand(winDeleteCmd())
	w.AddCommand(winFeedCmd())
	return w
}

func winLogCmd() *cobra.Command {
	var opts engine.LogWinOptions
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log a win against an objective (--objective) or a win condition (--kr)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.ActorID = a.User.ID
				w, err := a.Engine.LogWin(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				fmt.Printf("logged win %s on %s\n", w.ID, w.Date)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Note, "note", "", "what happened")
	cmd.Flags().StringVar(&opts.ObjectiveID, "objective", "", "objective id")
	cmd.Flags().StringVar(&opts.KeyResultID, "kr", "", "win-condition key result id")
	cmd.Flags().StringVar(&opts.LinkedKeyResultID, "linked-kr", "", "with --objective: record the win on this win condition instead")
	cmd.Flags().StringArrayVar(&opts.AttributedTo, "by", nil, "person id to credit (repeatable)")
	_ = cmd.MarkFlagRequired("note")
	cmd.MarkFlagsMutuallyExclusive("objective", "kr")
	return cmd
}

func winDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a win",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.DeleteWin(ctx, args[0], a.User.ID); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func winFeedCmd() *cobra.Command {
	var q engine.FeedQuery
	var typ string
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Wins, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				q.Type = domain.ObjectiveType(typ)
				items, err := a.Engine.WinsFeed(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Date", "Note", "Source", "Category", "By"})
				for _, f := range items {
					source := f.ObjectiveTitle
					if f.KeyResultTitle != "" {
						source = f.ObjectiveTitle + " / " + f.KeyResultTitle
					}
					tw.AppendRow(table.Row{f.Win.Date, f.Win.Note, source, f.Category, attributionText(f.Attribution)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "okr or goal")
	cmd.Flags().StringVar(&q.PersonID, "person", "", "only wins credited to this person")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "max entries (0 for all)")
	return cmd
}

func personCmd() *cobra.Command {
	p := &cobra.Command{Use: "person", Short: "People directory"}
	p.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List people",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListPeople(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Initials", "Color"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Initials, p.Color})
				}
				tw.Render()
				return nil
			})
		},
	})
	var color string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a person",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				person, err := a.Engine.CreatePerson(ctx, engine.PersonCreateOptions{Name: strings.Join(args, " "), Color: color, ActorID: a.User.ID})
				if err != nil {
					return err
				}
				return printJSON(person)
			})
		},
	}
	add.Flags().StringVar(&color, "color", "", "palette color (derived from the name if empty)")
	p.AddCommand(add)
	p.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a person; wins keep their attribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.DeletePerson(ctx, args[0], a.User.ID); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	})
	return p
}

func categoryCmd() *cobra.Command {
	c := &cobra.Command{Use: "category", Short: "Manage categories"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListCategories(ctx)
				if err != nil {
					return err
				}
				return printCategories(items)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				cat, err := a.Engine.CreateCategory(ctx, args[0], a.User.ID)
				if err != nil {
					return err
				}
				return printJSON(cat)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a category; objectives keep their label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.DeleteCategory(ctx, args[0], a.User.ID); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	})
	var from, to int
	reorder := &cobra.Command{
		Use:   "reorder",
		Short: "Move a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ReorderCategories(ctx, from, to, a.User.ID)
				var re engine.ReconciledError
				if errors.As(err, &re) {
					_ = printCategories(re.Categories)
					return err
				}
				if err != nil {
					return err
				}
				return printCategories(items)
			})
		},
	}
	reorder.Flags().IntVar(&from, "from", 0, "current position")
	reorder.Flags().IntVar(&to, "to", 0, "new position")
	_ = reorder.MarkFlagRequired("from")
	_ = reorder.MarkFlagRequired("to")
	c.AddCommand(reorder)
	return c
}

func dashboardCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Totals and per-category progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.Dashboard(ctx, domain.ObjectiveType(typ))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Objectives: %d  Key results: %d  Wins: %d  Progress: %s\n", s.Objectives, s.KeyResults, s.Wins, percent(s.Progress))
				tw := newTable()
				tw.AppendHeader(table.Row{"Category", "Objectives", "Wins", "Progress"})
				for _, c := range s.Categories {
					tw.AppendRow(table.Row{c.Name, c.Objectives, c.Wins, percent(c.Progress)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "okr or goal")
	return cmd
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "API keys for headless clients"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --user; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				plain := "fq_" + hex.EncodeToString(buf)
				key := domain.APIKey{ID: uuid.NewString(), UserID: a.User.ID, Name: name, KeyHash: repo.HashAPIKey(plain)}
				if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": plain})
				}
				fmt.Printf("%s\n(id %s; store it now, it is not shown again)\n", plain, key.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List live API keys of --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				keys, err := a.Repo.ListAPIKeys(ctx, a.User.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key of --user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Repo.RevokeAPIKey(ctx, args[0], a.User.ID); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return k
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every change to objectives, key results, wins, people and categories, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				evts, err := a.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printObjectives(items []domain.Objective) {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "ID", "Title", "Category", "KRs", "Wins", "Progress"})
	for _, o := range items {
		tw.AppendRow(table.Row{o.Order, o.ID, o.Title, o.Category, len(o.KeyResults), progress.TotalWins(o), percent(progress.Objective(o))})
	}
	tw.Render()
}

func printObjective(o domain.Objective) error {
	if viper.GetBool("json") {
		return printJSON(o)
	}
	fmt.Printf("%s  [%s] %s\n", o.Title, o.Type, o.Category)
	fmt.Printf("id %s  progress %s  wins %d\n", o.ID, percent(progress.Objective(o)), progress.TotalWins(o))
	if o.Description != "" {
		fmt.Println(o.Description)
	}
	for _, it := range o.Initiatives {
		if it.URL != "" {
			fmt.Printf("  - %s <%s>\n", it.Text, it.URL)
		} else {
			fmt.Printf("  - %s\n", it.Text)
		}
	}
	if len(o.KeyResults) > 0 {
		printKeyResults(o.KeyResults)
	}
	if len(o.Wins) > 0 {
		tw := newTable()
		tw.AppendHeader(table.Row{"Win", "Date", "Note"})
		for _, w := range o.Wins {
			tw.AppendRow(table.Row{w.ID, w.Date, w.Note})
		}
		tw.Render()
	}
	return nil
}

func printKeyResult(kr domain.KeyResult) error {
	if viper.GetBool("json") {
		return printJSON(kr)
	}
	printKeyResults([]domain.KeyResult{kr})
	return nil
}

func printKeyResults(items []domain.KeyResult) {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "ID", "Title", "Type", "Current", "Target", "Progress"})
	for _, kr := range items {
		target := strconv.FormatFloat(kr.Target, 'f', -1, 64) + " " + kr.Unit
		if kr.IsWinCondition() {
			target = "-"
		}
		tw.AppendRow(table.Row{kr.Order, kr.ID, kr.Title, kr.Type, strconv.FormatFloat(kr.Current, 'f', -1, 64), target, percent(progress.KeyResult(kr))})
	}
	tw.Render()
}

func printCategories(items []domain.Category) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "ID", "Name"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.Order, c.ID, c.Name})
	}
	tw.Render()
	return nil
}

// printReordered shows the re-fetched list when a reorder could not be saved.
func printReordered(items []domain.Objective, err error) error {
	var re engine.ReconciledError
	if errors.As(err, &re) {
		printObjectives(re.Objectives)
		return err
	}
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(items)
	}
	printObjectives(items)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64) + "%"
}

func attributionText(items []domain.Attribution) string {
	names := make([]string, 0, len(items))
	for _, a := range items {
		name := a.Name
		if a.Removed {
			name += " (removed)"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func parseInitiatives(raw []string) []domain.Initiative {
	out := make([]domain.Initiative, 0, len(raw))
	for _, r := range raw {
		out = append(out, domain.ParseLegacyInitiative(r))
	}
	return out
}

// categoryFilter maps the All pseudo-category onto no filter.
func categoryFilter(c string) string {
	c = strings.TrimSpace(c)
	if strings.EqualFold(c, engine.AllView) {
		return ""
	}
	return c
}
