package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"acctsweep/internal/app"
	"acctsweep/internal/checkpoint"
	"acctsweep/internal/config"
	"acctsweep/internal/deletion"
	"acctsweep/internal/domain"
	"acctsweep/internal/engine"
	"acctsweep/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "acctsweep",
	Short: "Delete disabled directory accounts",
	Long: `acctsweep finds every disabled Employee and Client account of a directory
tenant, snapshots them to one CSV checkpoint per partition, and deletes them
with ownership of their items and groups reassigned to an administrator.
- run: resolve the admin, rediscover, checkpoint, then delete.
- resume: delete from the existing checkpoints without rediscovery.
- runs: inspect the run journal kept in .acctsweep/journal.db.
- serve: read-only HTTP API over the journal and checkpoints.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ACCTSWEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workdir", "w", ".", "working directory holding checkpoints and the journal")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workdir>/acctsweep.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workdir", rootCmd.PersistentFlags().Lookup("workdir"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(checkpointCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

type sweepFlags struct {
	admin  string
	dryRun bool
	yes    bool
}

func (f *sweepFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.admin, "admin", "", "administrator id or email receiving reassigned items and groups")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report what would be deleted without deleting")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "delete without asking for each account")
	_ = cmd.MarkFlagRequired("admin")
}

func (f *sweepFlags) policy() deletion.Policy {
	switch {
	case f.dryRun:
		return deletion.DryRun()
	case f.yes:
		return deletion.AutoConfirm()
	default:
		return deletion.ConfirmEach(promptConfirm(os.Stdin, os.Stderr))
	}
}

func runCmd() *cobra.Command {
	var f sweepFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover disabled accounts, checkpoint them and delete them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sweep(cmd.Context(), engine.RunOptions{AdminIdentifier: f.admin, Policy: f.policy()})
		},
	}
	f.bind(cmd)
	return cmd
}

func resumeCmd() *cobra.Command {
	var f sweepFlags
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Delete the accounts of the existing checkpoints without rediscovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sweep(cmd.Context(), engine.RunOptions{AdminIdentifier: f.admin, Policy: f.policy(), SkipDiscovery: true})
		},
	}
	f.bind(cmd)
	return cmd
}

func sweep(ctx context.Context, opts engine.RunOptions) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		client, err := ws.Directory()
		if err != nil {
			return err
		}
		e := ws.Engine(client)
		e.Observer = progressLogger(ws.Logger)
		summary, runErr := e.Run(ctx, opts)
		if hooks, ok := ws.Notifier(); ok {
			if err := hooks.Deliver(context.WithoutCancel(ctx), summary.RunID); err != nil {
				ws.Logger.Warn("webhook notification incomplete", zap.Error(err))
			}
		}
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		if err := printSummary(os.Stdout, summary); err != nil {
			return err
		}
		return runErr
	})
}

func progressLogger(logger *zap.Logger) domain.Observer {
	return domain.ObserverFunc(func(e domain.ProgressEvent) {
		logger.Debug("progress",
			zap.String("phase", string(e.Phase)),
			zap.String("partition", string(e.Partition)),
			zap.Int("index", e.Index),
			zap.Int("total", e.Total),
			zap.String("user_id", e.UserID))
	})
}

// promptConfirm asks on out and reads y/N answers from in. EOF declines.
func promptConfirm(in io.Reader, out io.Writer) deletion.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, req domain.DeletionRequest) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%s? [y/N] ", req)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func printSummary(w io.Writer, s domain.Summary) error {
	if viper.GetBool("json") {
		return writeJSON(w, s)
	}
	mode := "live"
	if s.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "run %s (%s) admin=%s <%s>\n", s.RunID, mode, s.Admin.ID, s.Admin.Email)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Partition", "Disabled", "Succeeded", "Failed", "Skipped", "Note"})
	for _, p := range s.Partitions {
		note := p.Warning
		if p.Aborted && note == "" {
			note = "aborted"
		}
		tw.AppendRow(table.Row{p.Partition, p.Disabled, p.Succeeded, p.Failed, p.Skipped, note})
	}
	tw.AppendFooter(table.Row{"Total", s.TotalDisabled, s.Succeeded, s.Failed, s.Skipped, ""})
	tw.Render()
	if !s.DeletionRan {
		fmt.Fprintln(w, "no disabled accounts to delete")
	}
	return nil
}

func checkpointCmd() *cobra.Command {
	cp := &cobra.Command{Use: "checkpoint", Short: "Inspect checkpoints"}
	cp.AddCommand(&cobra.Command{
		Use:       "show <employee|client>",
		Short:     "Print the checkpoint of a partition",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.PartitionEmployee), string(domain.PartitionClient)},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePartition(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := checkpoint.New(app.CheckpointDir(viper.GetString("workdir"), cfg))
			records, err := store.Read(p)
			if err != nil {
				return fmt.Errorf("%s: %w", store.Path(p), err)
			}
			if viper.GetBool("json") {
				return writeJSON(os.Stdout, records)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"UserId", "FullName", "Email"})
			for _, r := range records {
				tw.AppendRow(table.Row{r.UserID, r.FullName, r.Email})
			}
			tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d account(s)", len(records))})
			tw.Render()
			return nil
		},
	})
	return cp
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect the run journal"}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsShowCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r, ok := ws.Repo()
				if !ok {
					return errJournalDisabled
				}
				items, err := r.ListRuns(ctx, limit, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return writeJSON(os.Stdout, items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Started", "Status", "Admin", "Dry run", "Error"})
				for _, run := range items {
					tw.AppendRow(table.Row{run.ID, run.StartedAt, run.Status, run.AdminID, run.DryRun, run.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (running, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its per-user outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r, ok := ws.Repo()
				if !ok {
					return errJournalDisabled
				}
				run, err := r.GetRun(ctx, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				outcomes, err := r.ListOutcomes(ctx, run.ID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return writeJSON(os.Stdout, map[string]any{"run": run, "outcomes": outcomes})
				}
				if run.Summary != nil {
					var s domain.Summary
					if err := json.Unmarshal([]byte(*run.Summary), &s); err == nil {
						if err := printSummary(os.Stdout, s); err != nil {
							return err
						}
					}
				} else {
					fmt.Printf("run %s %s (started %s)\n", run.ID, run.Status, run.StartedAt)
				}
				if run.Error != "" {
					fmt.Println("error:", run.Error)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Partition", "UserId", "Status", "Class", "Reason"})
				for _, o := range outcomes {
					tw.AppendRow(table.Row{o.Partition, o.UserID, o.Status, o.Class, o.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "outcome filter (succeeded, failed, skipped)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("ACCTSWEEP_JWT_SECRET is required for bearer auth")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r, ok := ws.Repo()
				if !ok {
					return errJournalDisabled
				}
				handler, err := server.New(server.Config{
					Repo:     r,
					Store:    ws.Store,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, Logger: ws.Logger},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				ws.Logger.Info("serving status API", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving acctsweep API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage acctsweep.yml"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default acctsweep.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

// --- helpers ---

var errJournalDisabled = errors.New("run journal is disabled (journal.disabled: true)")

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workdir"))
}

// loadConfig reads the config file and applies ACCTSWEEP_* environment
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("directory.base_url"); v != "" {
		cfg.Directory.BaseURL = v
	}
	if v := viper.GetString("directory.token"); v != "" {
		cfg.Directory.Token = v
	}
	if v := viper.GetInt("directory.concurrency"); v > 0 {
		cfg.Directory.Concurrency = v
	}
	if v := viper.GetString("checkpoints.dir"); v != "" {
		cfg.Checkpoints.Dir = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	logger, err := app.NewLogger(viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer logger.Sync()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws, err := app.Open(ctx, app.Options{
		Workdir: viper.GetString("workdir"),
		Config:  cfg,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
