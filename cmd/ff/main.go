package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/app"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/config"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/db"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/migrate"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/plan"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/repo"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/server"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/session"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/timer"
)

var rootCmd = &cobra.Command{
	Use:   "ff",
	Short: "Focus-Flow CLI",
	Long: `Focus-Flow runs focused work sessions over a shared task list.
- Workspace: your .focusflow directory holding the database; per-project
  config lives in the DB and is imported from focusflow.yml.
- Tasks: an ordered list the session edits live; new tasks carry tmp- ids
  until a save reconciles them to durable ids.
- Plan: 'ff plan refine' asks the AI collaborator for a modification batch
  (update/add/delete/reorder) and can apply it in place.
- Focus: 'ff focus' drives the work/break timer; completed work phases
  accumulate cycles and focused minutes, saved as sessions.
- Event log: diary of changes, view with 'ff log tail'.`,
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
	viper.SetEnvPrefix("FOCUSFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(focusCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p := domain.Project{
					ID:          id,
					Kind:        "focus-project",
					Status:      "active",
					Description: desc,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InitProject(ctx, p, config.Default(id), "local-user"); err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, _ *config.Config) error {
				p, err := r.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, _ *config.Config) error {
				return r.DeleteProject(ctx, projectID)
			})
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	cfg.AddCommand(projectConfigInitCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, cfg *config.Config) error {
				return printJSON(cfg)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if override := viper.GetString("project"); override != "" {
					projectID = override
				}
				if err := r.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default focusflow.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard for your project: open/completed task counts plus total cycles and focused minutes across recorded sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, _ *config.Config) error {
				p, err := r.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				counts, err := r.CountTasksByStatus(ctx, projectID)
				if err != nil {
					return err
				}
				cycles, minutes, err := r.FocusTotals(ctx, projectID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":      p.ID,
					"status":          p.Status,
					"task_counts":     counts,
					"cycles":          cycles,
					"focused_minutes": minutes,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Printf("Tasks: %d open, %d completed\n", counts["open"], counts["completed"])
				fmt.Printf("Focus: %d cycles, %d minutes\n", cycles, minutes)
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are the ordered work items of a project. 'ff task add' persists immediately with a durable id; ephemeral tmp- ids only exist inside a live session or plan batch.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, _ *config.Config) error {
				tasks, err := r.ListTasks(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	return cmd
}

func taskAddCmd() *cobra.Command {
	var title, action, details string
	var estimate int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, cfg *config.Config) error {
				t := domain.Task{
					ID:      cfg.Edits.EphemeralPrefix + "cli",
					Title:   title,
					Action:  action,
					Details: details,
				}
				if cmd.Flags().Changed("estimate") && estimate > 0 {
					t.EstimatedMinutes = &estimate
				}
				created, _, err := r.CreateTasks(ctx, projectID, []domain.Task{t})
				if err != nil {
					return err
				}
				return printJSON(created[0])
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&action, "action", "", "next concrete action")
	cmd.Flags().StringVar(&details, "details", "", "details")
	cmd.Flags().IntVar(&estimate, "estimate", 0, "estimated minutes")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, _ *config.Config) error {
				tasks, err := r.ListTasks(ctx, projectID)
				if err != nil {
					return err
				}
				found := false
				for i := range tasks {
					if tasks[i].ID == id {
						tasks[i].Completed = true
						found = true
					}
				}
				if !found {
					return repo.ErrNotFound
				}
				if err := r.SaveTasks(ctx, projectID, tasks); err != nil {
					return err
				}
				t, err := r.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteTask(ctx, args[0])
			})
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "plan",
		Short: "Refine the task plan with the AI collaborator",
	}
	p.AddCommand(planRefineCmd())
	return p
}

func planRefineCmd() *cobra.Command {
	var command string
	var apply bool
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "Ask for a modification batch against the current tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(command) == "" {
				return fmt.Errorf("--command required")
			}
			apiKey := os.Getenv("FOCUSFLOW_GENAI_API_KEY")
			if apiKey == "" {
				return fmt.Errorf("FOCUSFLOW_GENAI_API_KEY is required for plan refinement")
			}
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, cfg *config.Config) error {
				refiner, err := plan.NewGeminiRefiner(ctx, apiKey, cfg.AI.Model)
				if err != nil {
					return err
				}
				tasks, err := r.ListTasks(ctx, projectID)
				if err != nil {
					return err
				}
				result, err := refiner.Refine(ctx, command, tasks)
				if err != nil {
					return err
				}
				if !apply {
					return printJSON(result)
				}
				rec := session.New(session.Options{
					ProjectID:       projectID,
					Tasks:           tasks,
					EphemeralPrefix: cfg.Edits.EphemeralPrefix,
					StrictReorder:   cfg.Edits.StrictReorder,
					TaskStore:       r,
					SessionStore:    r,
					Logger:          newLogger(),
				})
				if _, err := rec.ApplyEdit(result.Modifications); err != nil {
					return err
				}
				if err := rec.Save(ctx, session.TriggerManual); err != nil {
					return err
				}
				if err := r.AppendPlanApplied(ctx, projectID, len(result.Modifications)); err != nil {
					return err
				}
				final, err := r.ListTasks(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"plan": result, "tasks": final})
				}
				if result.Explanation != "" {
					fmt.Println(result.Explanation)
				}
				renderTaskTable(final)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "natural-language instruction")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply and persist the returned batch")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func focusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Run a focus session",
		Long: `Drives the work/break timer over the project's tasks. While running:
  p  pause        r  resume       s  skip phase
  e  extend 5m    d <id> done     save  manual save
  q  save and quit
Completed work phases record a cycle and save automatically. Ctrl-C
attempts a best-effort save before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, cfg *config.Config) error {
				return runFocusSession(ctx, r, projectID, cfg)
			})
		},
	}
	return cmd
}

func runFocusSession(ctx context.Context, r repo.Repo, projectID string, cfg *config.Config) error {
	tasks, err := r.ListTasks(ctx, projectID)
	if err != nil {
		return err
	}
	rec := session.New(session.Options{
		ProjectID:       projectID,
		Tasks:           tasks,
		EphemeralPrefix: cfg.Edits.EphemeralPrefix,
		StrictReorder:   cfg.Edits.StrictReorder,
		TaskStore:       r,
		SessionStore:    r,
		Logger:          newLogger(),
	})
	machine := timer.New(timer.Config{
		Work:               time.Duration(cfg.Timer.WorkMinutes) * time.Minute,
		ShortBreak:         time.Duration(cfg.Timer.ShortBreakMinutes) * time.Minute,
		LongBreak:          time.Duration(cfg.Timer.LongBreakMinutes) * time.Minute,
		CyclesPerLongBreak: cfg.Timer.CyclesPerLongBreak,
	})
	machine.OnComplete = func(c timer.Completion) {
		if c.Phase == timer.PhaseWork {
			rec.RecordPomodoro(c.Focused)
			if err := rec.Save(context.Background(), session.TriggerAutoOnComplete); err != nil {
				fmt.Println("save failed:", err)
			}
			fmt.Printf("\nWork phase done (cycle %d). Break time.\n> ", c.Cycles)
			return
		}
		fmt.Printf("\nBreak over. Back to work.\n> ")
	}

	stop := timer.TickerScheduler{}.Every(timer.TickInterval, machine.Tick)
	defer stop()
	machine.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Printf("Focus session started: %d tasks, %dm work / %dm break.\n", len(tasks), cfg.Timer.WorkMinutes, cfg.Timer.ShortBreakMinutes)
	fmt.Print("> ")
	for {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted; attempting save...")
			// Best-effort: errors are logged by the recorder and swallowed.
			_ = rec.Save(context.Background(), session.TriggerInterrupt)
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = rec.Save(context.Background(), session.TriggerInterrupt)
				return nil
			}
			quit, err := handleFocusCommand(rec, machine, strings.TrimSpace(line))
			if err != nil {
				fmt.Println("error:", err)
			}
			if quit {
				return rec.Save(context.Background(), session.TriggerManual)
			}
			fmt.Print("> ")
		}
	}
}

func handleFocusCommand(rec *session.Recorder, machine *timer.Machine, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		printFocusStatus(rec, machine)
		return false, nil
	}
	switch fields[0] {
	case "p", "pause":
		machine.Pause()
	case "r", "resume":
		machine.Start()
	case "s", "skip":
		machine.Skip()
	case "e", "extend":
		minutes := 5
		if len(fields) > 1 {
			if n, convErr := strconv.Atoi(fields[1]); convErr == nil && n > 0 {
				minutes = n
			}
		}
		machine.Extend(time.Duration(minutes) * time.Minute)
	case "d", "done":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: done <task-id>")
		}
		completed := true
		_, err = rec.ApplyEdit([]domain.Modification{{
			Operation: domain.OpUpdate,
			TaskID:    fields[1],
			Changes:   &domain.TaskChanges{Completed: &completed},
		}})
		return false, err
	case "save":
		return false, rec.Save(context.Background(), session.TriggerManual)
	case "q", "quit":
		return true, nil
	default:
		printFocusStatus(rec, machine)
	}
	return false, nil
}

func printFocusStatus(rec *session.Recorder, machine *timer.Machine) {
	m := rec.Metrics()
	state := "running"
	if !machine.Running() {
		state = "paused"
	}
	fmt.Printf("%s %s, %s left of %s | cycles %d, focused %dm\n",
		machine.Phase(), state,
		machine.TimeLeft().Round(time.Second), machine.PhaseTotal(),
		m.CyclesCompleted, m.FocusedMinutes)
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, _ *config.Config) error {
				items, err := r.ListSessions(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Started", "Ended", "Cycles", "Minutes", "Trigger"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.StartedAt, s.EndedAt, s.CyclesCompleted, s.FocusedMinutes, s.Trigger})
				}
				tw.Render()
				return nil
			})
		},
	}
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
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, r repo.Repo, projectID string, _ *config.Config) error {
				events, err := r.ListEvents(ctx, projectID, n)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key, rec, err := r.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				// The plaintext key is shown once; only the hash is stored.
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "record": rec})
				}
				fmt.Printf("API key (save it now, it is not stored): %s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), r)
			if err != nil {
				return err
			}
			logger := newLogger()
			var refiner plan.Refiner
			if apiKey := os.Getenv("FOCUSFLOW_GENAI_API_KEY"); apiKey != "" {
				g, err := plan.NewGeminiRefiner(cmd.Context(), apiKey, cfg.AI.Model)
				if err != nil {
					return err
				}
				refiner = g
			} else {
				logger.Warn().Msg("FOCUSFLOW_GENAI_API_KEY not set; plan refinement disabled")
			}
			handler, err := server.New(server.Config{
				Repo:      r,
				AppConfig: cfg,
				Refiner:   refiner,
				BasePath:  basePath,
				Auth: server.AuthConfig{
					JWTSecret: os.Getenv("FOCUSFLOW_JWT_SECRET"),
					DevLogin:  devLogin,
					Logger:    logger,
				},
				Logger: logger,
			})
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
			fmt.Printf("Serving Focus-Flow API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (dev only)")
	return cmd
}

// --- helpers ---

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

func withProject(ctx context.Context, fn func(context.Context, repo.Repo, string, *config.Config) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		projectID, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), r)
		if err != nil {
			return err
		}
		return fn(ctx, r, projectID, cfg)
	})
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("FOCUSFLOW_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func renderTaskTable(tasks []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Title", "Action", "Est", "Done"})
	for i, t := range tasks {
		est := ""
		if t.EstimatedMinutes != nil {
			est = fmt.Sprintf("%dm", *t.EstimatedMinutes)
		}
		done := ""
		if t.Completed {
			done = "x"
		}
		tw.AppendRow(table.Row{i + 1, t.ID, t.Title, t.Action, est, done})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
