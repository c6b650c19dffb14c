package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sprintreport/internal/app"
	"sprintreport/internal/config"
	"sprintreport/internal/domain"
	"sprintreport/internal/jira"
	"sprintreport/internal/layout"
	"sprintreport/internal/logger"
	"sprintreport/internal/repo"
	"sprintreport/internal/schedule"
	"sprintreport/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sr",
	Short: "Sprint status reports from Jira",
	Long: `sr runs saved Jira searches and turns the issues into sprint status reports.
- Searches: named JQL queries in sprintreport.yml, optionally with a weekly schedule.
- Report: one group per sprint (active sprint first, backlog last) with resolved and unresolved
  story points per assignee and per priority.
- Export: reports can be stored in a local SQLite file and served over HTTP.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Load never overrides variables that are already set.
	for _, f := range envFiles(viper.GetString("config")) {
		_ = godotenv.Load(f)
	}
	viper.SetEnvPrefix("SPRINTREPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.FileName, "config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(searchesCmd())
	rootCmd.AddCommand(fieldsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(reportsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(tokenCmd())
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	for key, dst := range map[string]*string{
		"jira.username":      &cfg.Jira.Username,
		"jira.password":      &cfg.Jira.Password,
		"jira.host":          &cfg.Jira.Host,
		"server.jwt_secret":  &cfg.Server.JWTSecret,
		"export.sqlite_path": &cfg.Export.SQLitePath,
		"log.level":          &cfg.Log.Level,
	} {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withRunner(ctx context.Context, export bool, fn func(ctx context.Context, r *app.Runner) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r := app.NewRunner(cfg, logger.New(cfg.Log))
	if export {
		closeFn, err := r.OpenExport(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
	}
	return fn(ctx, r)
}

func withRepo(ctx context.Context, fn func(ctx context.Context, r *repo.Repo) error) error {
	return withRunner(ctx, true, func(ctx context.Context, r *app.Runner) error {
		return fn(ctx, r.Repo)
	})
}

func reportCmd() *cobra.Command {
	var search string
	var export, sheet bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a report for a saved search",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), export, func(ctx context.Context, r *app.Runner) error {
				report, err := r.Run(ctx, search, app.RunOptions{Export: export})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				if sheet {
					fmt.Print(layout.RenderText(layout.BuildWorkbook(report)))
					return nil
				}
				printReportSummary(report)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "saved search name")
	cmd.Flags().BoolVar(&export, "export", false, "store the report in export.sqlite_path")
	cmd.Flags().BoolVar(&sheet, "sheet", false, "print the full sheet layout")
	return cmd
}

func printReportSummary(report domain.Report) {
	fmt.Println(report.Title)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Sprint", "State", "Issues", "Resolved", "Unresolved", "Remaining"})
	for _, g := range report.Groups {
		state := ""
		if g.Sprint != nil {
			state = g.Sprint.State
		}
		tw.AppendRow(table.Row{g.Label, state, len(g.Records), g.Stats.ResolvedPoints, g.Stats.UnresolvedPoints, g.Stats.UnresolvedRemaining})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
	if len(report.Warnings) > 0 {
		fmt.Printf("%d warnings (use --json to list them)\n", len(report.Warnings))
	}
}

func searchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "searches",
		Short: "List saved searches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg.Searches)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Schedule", "JQL"})
			for _, s := range cfg.Searches {
				spec := ""
				if s.Schedule != nil {
					spec = s.Schedule.CronSpec()
				}
				tw.AppendRow(table.Row{s.Name, spec, s.JQL})
			}
			tw.SetStyle(table.StyleLight)
			tw.Render()
			return nil
		},
	}
}

func fieldsCmd() *cobra.Command {
	var customOnly bool
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "List the tracker field catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := jira.NewClient(cfg.Jira, logger.New(cfg.Log))
			fields, err := client.ListFields(cmd.Context())
			if err != nil {
				return err
			}
			if customOnly {
				kept := fields[:0]
				for _, f := range fields {
					if f.Custom {
						kept = append(kept, f)
					}
				}
				fields = kept
			}
			if viper.GetBool("json") {
				return printJSON(fields)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Custom"})
			for _, f := range fields {
				tw.AppendRow(table.Row{f.ID, f.Name, f.Custom})
			}
			tw.SetStyle(table.StyleLight)
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&customOnly, "custom", false, "only custom fields")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create sprintreport.yml",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Jira.Password != "" {
				shown.Jira.Password = "***"
			}
			if shown.Server.JWTSecret != "" {
				shown.Server.JWTSecret = "***"
			}
			return printJSON(shown)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var host, username, password string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" {
				return fmt.Errorf("--host required")
			}
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(host)), 0o644); err != nil {
				return err
			}
			envPath := envFile(path)
			if username != "" {
				if err := setEnvValue(envPath, "SPRINTREPORT_JIRA_USERNAME", username); err != nil {
					return err
				}
			}
			if password != "" {
				if err := setEnvValue(envPath, "SPRINTREPORT_JIRA_PASSWORD", password); err != nil {
					return err
				}
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Jira host, e.g. jira.example.com")
	cmd.Flags().StringVar(&username, "username", "", "Jira username, stored in .env")
	cmd.Flags().StringVar(&password, "password", "", "Jira password or API token, stored in .env")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func reportsCmd() *cobra.Command {
	rep := &cobra.Command{Use: "reports", Short: "Browse exported reports"}
	rep.AddCommand(reportsListCmd())
	rep.AddCommand(reportsShowCmd())
	rep.AddCommand(reportsDeleteCmd())
	return rep
}

func reportsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an exported report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				if err := r.DeleteReport(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func reportsListCmd() *cobra.Command {
	var search string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exported reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				items, err := r.ListReports(ctx, repo.ListFilter{Search: search, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Search", "Generated", "Issues", "Groups"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Search, s.GeneratedAt, s.IssueCount, s.GroupCount})
				}
				tw.SetStyle(table.StyleLight)
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "only reports of this search")
	cmd.Flags().IntVar(&limit, "limit", 20, "max reports")
	return cmd
}

func reportsShowCmd() *cobra.Command {
	var email bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an exported report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				report, err := r.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				if email {
					msg := layout.RenderEmail(report)
					fmt.Printf("Subject: %s\n\n%s", msg.Subject, msg.TextBody)
					return nil
				}
				printReportSummary(report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&email, "email", false, "print the status email text")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log)
			r := app.NewRunner(cfg, log)
			if cfg.Export.SQLitePath != "" {
				closeFn, err := r.OpenExport(cmd.Context())
				if err != nil {
					return err
				}
				defer closeFn()
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			if cfg.Server.JWTSecret == "" {
				log.Warn().Msg("server.jwt_secret not set; API is unauthenticated")
			}
			handler, err := server.New(server.Config{
				Runner:   r,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
				Log:      log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving sprint reports on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var export bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run saved searches on their schedules until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), export, func(ctx context.Context, r *app.Runner) error {
				log := r.Log
				s := schedule.New(r, schedule.Options{
					Export:  export,
					Timeout: timeout,
					OnReport: func(report domain.Report) {
						msg := layout.RenderEmail(report)
						log.Info().Str("search", report.Search).Str("subject", msg.Subject).Msg("status email ready")
					},
				}, log)
				n, err := s.AddSearches(r.Config.Searches)
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("no searches have a schedule")
				}
				s.Start()
				for _, j := range s.Jobs() {
					log.Info().Str("search", j.Search).Str("spec", j.Spec).Time("next", j.Next).Msg("scheduled")
				}
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				s.Stop(stopCtx)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "store every report in export.sqlite_path")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "per-run timeout")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if subject == "" {
				return fmt.Errorf("--subject required")
			}
			claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(time.Now())}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
			}
			token, err := server.IssueToken(cfg.Server.JWTSecret, subject, claims)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setEnvValue sets key in the .env file at path, keeping other entries.
// Values are written quoted so godotenv reads them back verbatim.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		env = map[string]string{}
	} else if err != nil {
		return err
	}
	env[key] = value
	if err := godotenv.Write(env, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// envFiles lists the .env files to load: the one beside the config file
// first, then the working directory's.
func envFiles(configPath string) []string {
	files := []string{envFile(configPath)}
	if files[0] != ".env" {
		files = append(files, ".env")
	}
	return files
}

func envFile(configPath string) string {
	if configPath == "" {
		configPath = config.FileName
	}
	return filepath.Join(filepath.Dir(configPath), ".env")
}
