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

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/notify"
	"crewline/internal/repo"
	"crewline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cw",
	Short: "Crewline CLI",
	Long: `Crewline coordinates field crews around scheduled assignments.
- Assignments: a job on a date with a ceremony start, an arrival target, and one or two crew members.
- Confirmation: every assigned crew member must confirm before the job is locked in; the last confirmation flips the assignment to confirmed and opens progress tracking.
- Progress: crew report wakeup -> departure -> arrival -> completed on the day.
- Escalation: 'cw escalate run' (or the /cron/escalate endpoint) checks the deadline windows, nudges late crew, marks overdue milestones delayed, and alerts supervisors.
- Event log: diary of changes, view with 'cw log tail'.`,
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
	viper.SetEnvPrefix("CREWLINE")
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
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(todayCmd())
	rootCmd.AddCommand(assignedCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(escalateCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func assignmentCmd() *cobra.Command {
	asg := &cobra.Command{
		Use:   "assignment",
		Short: "Manage assignments",
		Long:  "Assignments are the scheduled jobs. They flow unassigned -> assigned -> confirmed; confirmed never reverts.",
	}
	asg.AddCommand(assignmentCreateCmd())
	asg.AddCommand(assignmentListCmd())
	asg.AddCommand(assignmentShowCmd())
	asg.AddCommand(assignmentUpdateCmd())
	asg.AddCommand(assignmentDeleteCmd())
	return asg
}

func assignmentCreateCmd() *cobra.Command {
	var opts engine.AssignmentCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAssignment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "assignment id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.PrimaryID, "primary", "", "primary participant id")
	cmd.Flags().StringVar(&opts.SecondaryID, "secondary", "", "secondary participant id")
	cmd.Flags().StringVar(&opts.Couple, "couple", "", "couple name")
	cmd.Flags().StringVar(&opts.Date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.StartTime, "start", "", "ceremony start (HH:MM)")
	cmd.Flags().StringVar(&opts.ArrivalTime, "arrival", "", "arrival target (HH:MM)")
	cmd.Flags().StringVar(&opts.Venue, "venue", "", "venue name")
	cmd.Flags().StringVar(&opts.Location, "location", "", "venue address")
	cmd.Flags().StringVar(&opts.Memo, "memo", "", "memo")
	_ = cmd.MarkFlagRequired("primary")
	_ = cmd.MarkFlagRequired("couple")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func assignmentListCmd() *cobra.Command {
	var filters repo.AssignmentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAssignments(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Start", "Couple", "Primary", "Secondary", "Status"})
				for _, a := range items {
					secondary := ""
					if a.SecondaryID != nil {
						secondary = *a.SecondaryID
					}
					tw.AppendRow(table.Row{a.ID, a.Date, a.StartTime, a.Couple, a.PrimaryID, secondary, a.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filters.Date, "date", "", "exact date filter (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filters.FromDate, "from", "", "from date filter (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filters.Status, "status", "", "status filter (unassigned, assigned, confirmed)")
	cmd.Flags().StringVar(&filters.ParticipantID, "participant", "", "participant filter")
	cmd.Flags().IntVar(&filters.Limit, "limit", 0, "max rows")
	return cmd
}

func assignmentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an assignment with progress and confirmations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAssignment(ctx, args[0])
				if err != nil {
					return err
				}
				confirmations, err := e.Repo.ListConfirmations(ctx, a.ID)
				if err != nil {
					return err
				}
				progress, err := e.Repo.ListProgressByAssignment(ctx, a.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"assignment":    a,
					"confirmations": confirmations,
					"progress":      progress,
				})
			})
		},
	}
	return cmd
}

func assignmentUpdateCmd() *cobra.Command {
	var primary, secondary, couple, date, start, arrival, venue, location, memo, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.AssignmentUpdateOptions{ActorID: viper.GetString("actor-id")}
			set := func(name string, target **string, value *string) {
				if cmd.Flags().Changed(name) {
					*target = value
				}
			}
			set("primary", &opts.PrimaryID, &primary)
			set("secondary", &opts.SecondaryID, &secondary)
			set("couple", &opts.Couple, &couple)
			set("date", &opts.Date, &date)
			set("start", &opts.StartTime, &start)
			set("arrival", &opts.ArrivalTime, &arrival)
			set("venue", &opts.Venue, &venue)
			set("location", &opts.Location, &location)
			set("memo", &opts.Memo, &memo)
			set("status", &opts.Status, &status)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateAssignment(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&primary, "primary", "", "primary participant id")
	cmd.Flags().StringVar(&secondary, "secondary", "", "secondary participant id (empty clears)")
	cmd.Flags().StringVar(&couple, "couple", "", "couple name")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&start, "start", "", "ceremony start (HH:MM)")
	cmd.Flags().StringVar(&arrival, "arrival", "", "arrival target (HH:MM, empty clears)")
	cmd.Flags().StringVar(&venue, "venue", "", "venue name")
	cmd.Flags().StringVar(&location, "location", "", "venue address")
	cmd.Flags().StringVar(&memo, "memo", "", "memo")
	cmd.Flags().StringVar(&status, "status", "", "status (forward transitions only)")
	return cmd
}

func assignmentDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAssignment(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func participantCmd() *cobra.Command {
	prt := &cobra.Command{Use: "participant", Short: "Manage participants"}
	prt.AddCommand(participantAddCmd())
	prt.AddCommand(participantListCmd())
	prt.AddCommand(participantKeyCmd())
	prt.AddCommand(participantKeysCmd())
	prt.AddCommand(participantKeyRevokeCmd())
	return prt
}

func participantAddCmd() *cobra.Command {
	var id, name, phone string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateParticipant(ctx, id, name, phone, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "participant id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func participantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListParticipants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Phone"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Phone})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func participantKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "key <participant-id>",
		Short: "Mint an API key (plaintext shown once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, plaintext, err := e.MintAPIKey(ctx, args[0], name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":             k.ID,
					"participant_id": k.ParticipantID,
					"name":           k.Name,
					"key":            plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func participantKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys <participant-id>",
		Short: "List a participant's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func participantKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key-revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	return cmd
}

func confirmCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "confirm <assignment-id> [assignment-id...]",
		Short: "Confirm assignments as a participant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if participant == "" {
				participant = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				results := e.ConfirmBatch(ctx, args, participant, viper.GetString("actor-id"))
				return printJSONOrTable(results)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id (defaults to --actor-id)")
	return cmd
}

func reportCmd() *cobra.Command {
	var opts engine.ReportOptions
	var status string
	cmd := &cobra.Command{
		Use:   "report <assignment-id>",
		Short: "Report a progress milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.AssignmentID = args[0]
			opts.Status = domain.ProgressStatus(status)
			opts.ActorID = viper.GetString("actor-id")
			if opts.ParticipantID == "" {
				opts.ParticipantID = opts.ActorID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ReportProgress(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ParticipantID, "participant", "", "participant id (defaults to --actor-id)")
	cmd.Flags().StringVar(&status, "status", "", "milestone (wakeup, departure, arrival, completed)")
	cmd.Flags().StringVar(&opts.Memo, "memo", "", "memo")
	cmd.Flags().StringVar(&opts.EstimatedTime, "eta", "", "estimated arrival (HH:MM)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func todayCmd() *cobra.Command {
	var date, participant string
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Confirmed assignments for a date with progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.TodayAssignments(ctx, date, participant)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Assignment", "Couple", "Start", "Participant", "Role", "Status"})
				for _, v := range items {
					for _, p := range v.Progress {
						tw.AppendRow(table.Row{v.Assignment.ID, v.Assignment.Couple, v.Assignment.StartTime, p.ParticipantID, p.Role, p.Status})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (defaults to today)")
	cmd.Flags().StringVar(&participant, "participant", "", "participant filter")
	return cmd
}

func assignedCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "assigned",
		Short: "Assignments awaiting a participant's confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if participant == "" {
				participant = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.AssignedAssignments(ctx, participant)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id (defaults to --actor-id)")
	return cmd
}

func progressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <assignment-id>",
		Short: "List progress records for an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProgress(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func escalateCmd() *cobra.Command {
	esc := &cobra.Command{Use: "escalate", Short: "Escalation passes"}
	esc.AddCommand(escalateRunCmd())
	return esc
}

func escalateRunCmd() *cobra.Command {
	var nowRaw string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one escalation pass over today's confirmed assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			var nowOverride *time.Time
			if nowRaw != "" {
				ts, err := time.Parse(time.RFC3339, nowRaw)
				if err != nil {
					return fmt.Errorf("--now must be RFC3339: %w", err)
				}
				nowOverride = &ts
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.RunEscalationPass(ctx, nowOverride)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	cmd.Flags().StringVar(&nowRaw, "now", "", "RFC3339 override of the pass time")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configCheckCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	var showDefault bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showDefault {
				fmt.Print(config.GenerateDefault())
				return nil
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	cmd.Flags().BoolVar(&showDefault, "default", false, "print the default YAML template")
	return cmd
}

func configCheckCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filePath
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (defaults to the workspace config)")
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
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, notify.FromConfig(cfg))
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Server.JWTSecret,
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if s := os.Getenv("CREWLINE_JWT_SECRET"); s != "" {
				authCfg.JWTSecret = s
			}
			cronSecret := cfg.Server.CronSecret
			if s := os.Getenv("CREWLINE_CRON_SECRET"); s != "" {
				cronSecret = s
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("set server.jwt_secret (or CREWLINE_JWT_SECRET) or allow_legacy_actor_header")
			}
			handler, err := server.New(server.Config{
				Engine:     e,
				BasePath:   basePath,
				Auth:       authCfg,
				CronSecret: cronSecret,
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
			fmt.Printf("Serving Crewline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
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
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, notify.FromConfig(cfg))
	return fn(ctx, e)
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
