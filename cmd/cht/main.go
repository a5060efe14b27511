package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chantier/internal/app"
	"chantier/internal/db"
	"chantier/internal/domain"
	"chantier/internal/engine"
	"chantier/internal/migrate"
	"chantier/internal/repo"
	"chantier/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cht",
	Short: "Chantier CLI",
	Long: `Chantier coordinates field work on construction sites.
Core concepts:
- Workspace: a directory with a .chantier database and a chantier.yml config.
- Task: a unit of site work with planned dates, a status, and a progress ledger.
- Dependency: an ordering edge between tasks (finish-to-start, start-to-start,
  finish-to-finish) with an optional lag in days; moves are validated against it.
- Blockage: a declared freeze window at site or affaire level; active tasks
  overlapping it are suspended in one cascade.
- Daily report: one mutable progress entry per task and day; end-of-day
  confirmation freezes entries into the immutable archive.
- Event log: diary of every change, view with 'cht log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CHANTIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(blockageCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace, name)
			if err != nil {
				return err
			}
			fmt.Printf("Initialized workspace %s (db %s)\n", cfg.Workspace.Name, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workspace name")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks carry planned dates and a status: not_started, in_progress, suspended, delayed, extended, completed. Completion only happens through a 100% daily report.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskSuspendCmd())
	task.AddCommand(taskResumeCmd())
	task.AddCommand(taskDelayCmd())
	task.AddCommand(taskExtendCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&opts.AffaireID, "affaire", "", "affaire id")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.PlannedStart, "start", "", "planned start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.PlannedEnd, "end", "", "planned end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("site")
	_ = cmd.MarkFlagRequired("affaire")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Start", "End"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, fmt.Sprintf("%d%%", t.Progress), t.PlannedStart, t.PlannedEnd})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SiteID, "site", "", "site filter")
	cmd.Flags().StringVar(&f.AffaireID, "affaire", "", "affaire filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Start a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.StartTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskSuspendCmd() *cobra.Command {
	var cause string
	cmd := &cobra.Command{
		Use:   "suspend <task-id>",
		Short: "Suspend a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SuspendTask(ctx, engine.SuspendOptions{
					TaskID:  args[0],
					Cause:   cause,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&cause, "cause", "", "suspension cause (from the blockage catalog)")
	_ = cmd.MarkFlagRequired("cause")
	return cmd
}

func taskResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a suspended, delayed or extended task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ResumeTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDelayCmd() *cobra.Command {
	var reason, target string
	var openClaim bool
	cmd := &cobra.Command{
		Use:   "delay <task-id>",
		Short: "Record a delay intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.DelayTask(ctx, engine.DelayOptions{
					TaskID:    args[0],
					Reason:    reason,
					TargetDay: target,
					OpenClaim: openClaim,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "delay reason")
	cmd.Flags().StringVar(&target, "target", "", "new target day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&openClaim, "claim", false, "open a claim for the delay")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func taskExtendCmd() *cobra.Command {
	var days int
	var reason string
	cmd := &cobra.Command{
		Use:   "extend <task-id>",
		Short: "Extend the planned end date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ExtendTask(ctx, engine.ExtendOptions{
					TaskID:         args[0],
					AdditionalDays: days,
					Reason:         reason,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "additional days")
	cmd.Flags().StringVar(&reason, "reason", "", "extension reason")
	_ = cmd.MarkFlagRequired("days")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func scheduleCmd() *cobra.Command {
	sched := &cobra.Command{
		Use:   "schedule",
		Short: "Validate and commit schedule changes",
		Long:  "Preview checks a date move against dependencies and blockages without writing; commit runs the same checks and persists when clean.",
	}
	sched.AddCommand(schedulePreviewCmd())
	sched.AddCommand(scheduleCommitCmd())
	return sched
}

func schedulePreviewCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "preview <task-id>",
		Short: "Preview a schedule change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.PreviewScheduleChange(ctx, args[0], start, end)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "new start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "new end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func scheduleCommitCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "commit <task-id>",
		Short: "Commit a schedule change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, res, err := e.CommitScheduleChange(ctx, engine.CommitScheduleOptions{
					TaskID:   args[0],
					NewStart: start,
					NewEnd:   end,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					var conflict engine.ScheduleConflictError
					if errors.As(err, &conflict) {
						_ = printJSONOrTable(conflict.Result)
					}
					return err
				}
				return printJSONOrTable(map[string]any{"task": t, "result": res})
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "new start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "new end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func depCmd() *cobra.Command {
	dep := &cobra.Command{
		Use:   "dep",
		Short: "Manage dependencies",
	}
	dep.AddCommand(depAddCmd())
	return dep
}

func depAddCmd() *cobra.Command {
	var pred, succ, kind string
	var lag int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a dependency edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				edge, err := e.CreateDependency(ctx, engine.DependencyOptions{
					PredecessorID: pred,
					SuccessorID:   succ,
					Kind:          domain.DependencyKind(kind),
					LagDays:       lag,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(edge)
			})
		},
	}
	cmd.Flags().StringVar(&pred, "from", "", "predecessor task id")
	cmd.Flags().StringVar(&succ, "to", "", "successor task id")
	cmd.Flags().StringVar(&kind, "kind", "finish_to_start", "finish_to_start, start_to_start or finish_to_finish")
	cmd.Flags().IntVar(&lag, "lag", 0, "lag in days (may be negative)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func blockageCmd() *cobra.Command {
	blk := &cobra.Command{
		Use:   "blockage",
		Short: "Declare and list blockages",
		Long:  "A blockage freezes a site or an affaire for a date window; active tasks overlapping the window are suspended in one cascade.",
	}
	blk.AddCommand(blockageApplyCmd())
	blk.AddCommand(blockageListCmd())
	return blk
}

func blockageApplyCmd() *cobra.Command {
	var level, scopeID, cause, start, end string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Declare a blockage and cascade suspensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ApplyBlockage(ctx, engine.BlockageOptions{
					Level:    domain.ScopeLevel(level),
					ScopeID:  scopeID,
					Cause:    cause,
					StartDay: start,
					EndDay:   end,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "site", "site or affaire")
	cmd.Flags().StringVar(&scopeID, "scope", "", "site or affaire id")
	cmd.Flags().StringVar(&cause, "cause", "", "cause (from the blockage catalog)")
	cmd.Flags().StringVar(&start, "start", "", "window start (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "window end (YYYY-MM-DD, exclusive)")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("cause")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func blockageListCmd() *cobra.Command {
	var level, scopeID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blockages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListBlockages(ctx, level, scopeID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Level", "Scope", "Cause", "Start", "End"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Level, b.ScopeID, b.Cause, b.StartDay, b.EndDay})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "level filter")
	cmd.Flags().StringVar(&scopeID, "scope", "", "scope filter")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Daily progress reporting",
		Long:  "Each task gets at most one mutable report per day. Confirming a day freezes its reports into the immutable archive.",
	}
	rep.AddCommand(reportSubmitCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportConfirmCmd())
	rep.AddCommand(reportArchiveCmd())
	return rep
}

func reportSubmitCmd() *cobra.Command {
	var day, comment, delayReason string
	var progress, personnel int
	var hours float64
	cmd := &cobra.Command{
		Use:   "submit <task-id>",
		Short: "Submit or correct a daily report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.SubmitDailyProgress(ctx, engine.SubmitOptions{
					TaskID:      args[0],
					Day:         day,
					Progress:    progress,
					Personnel:   personnel,
					Hours:       hours,
					Comment:     comment,
					DelayReason: delayReason,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "report day (YYYY-MM-DD, defaults to today)")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percentage (0-100)")
	cmd.Flags().IntVar(&personnel, "personnel", 0, "personnel on site")
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours worked")
	cmd.Flags().StringVar(&comment, "comment", "", "free-text comment")
	cmd.Flags().StringVar(&delayReason, "delay-reason", "", "delay reason if reporting late work")
	_ = cmd.MarkFlagRequired("progress")
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id> <day>",
		Short: "Show a task's report for a day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.GetDailyReport(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func reportListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <day>",
		Short: "List a day's unconfirmed reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDailyReports(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Progress", "Personnel", "Hours", "By"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.TaskID, fmt.Sprintf("%d%%", d.Progress), d.Personnel, d.Hours, d.SubmittedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <day>",
		Short: "Confirm a day's reports into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ConfirmDay(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func reportArchiveCmd() *cobra.Command {
	var taskID, day string
	var limit int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Query the confirmed-report archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListArchive(ctx, taskID, day, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task filter")
	cmd.Flags().StringVar(&day, "day", "", "day filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var affaireID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, affaireID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&affaireID, "affaire", "", "affaire filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace, "")
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("CHANTIER_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CHANTIER_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Chantier API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace, "")
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
