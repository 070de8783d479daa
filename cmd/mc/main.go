package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"maincontrol/internal/app"
	"maincontrol/internal/calendar"
	"maincontrol/internal/config"
	"maincontrol/internal/domain"
	"maincontrol/internal/engine"
	"maincontrol/internal/repo"
	"maincontrol/internal/server"
	"maincontrol/internal/urgency"
)

var rootCmd = &cobra.Command{
	Use:   "mc",
	Short: "maincontrol production queue",
	Long: `maincontrol ranks textile work orders for the production floor.
- Work orders move pending -> in_production -> quality_check -> ready -> shipped; cancelled is the exit.
- The queue ranks every active order together: Canary shipping window first, then orders sharing fabric and due date, then due date urgency.
- Deadlines count workdays (Monday to Friday) against each region's SLA budget.
- Event log: every change is recorded, view with 'mc log tail'.`,
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
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MAINCONTROL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(slaCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{
		Use:     "order",
		Aliases: []string{"orders"},
		Short:   "Manage work orders",
	}
	order.AddCommand(orderCreateCmd())
	order.AddCommand(orderListCmd())
	order.AddCommand(orderShowCmd())
	order.AddCommand(orderUpdateCmd())
	return order
}

func orderCreateCmd() *cobra.Command {
	var opts engine.WorkOrderCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order",
		Long:  "Creates a pending work order. Without --due the due date is today plus the region's SLA in workdays.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = viper.GetString("actor-id")
				wo, err := e.CreateWorkOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OrderNumber, "number", "", "order number")
	cmd.Flags().StringVar(&opts.Customer, "customer", "", "customer name")
	cmd.Flags().StringVar(&opts.Region, "region", "", "delivery region")
	cmd.Flags().StringVar(&opts.Fabric, "fabric", "", "fabric or material")
	cmd.Flags().IntVar(&opts.Quantity, "quantity", 1, "units")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free text notes")
	_ = cmd.MarkFlagRequired("number")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func orderListCmd() *cobra.Command {
	var status string
	var f repo.WorkOrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				for _, st := range strings.Split(status, ",") {
					if st = strings.TrimSpace(st); st != "" {
						f.Statuses = append(f.Statuses, st)
					}
				}
				items, err := e.ListWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Order", "Customer", "Region", "Fabric", "Qty", "Status", "Due"})
				for _, wo := range items {
					tw.AppendRow(table.Row{wo.OrderNumber, wo.Customer, wo.Region, strValue(wo.Fabric), wo.Quantity, wo.Status, strValue(wo.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated status filter")
	cmd.Flags().StringVar(&f.Region, "region", "", "region filter")
	cmd.Flags().StringVar(&f.Fabric, "fabric", "", "fabric filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id|order-number>",
		Short: "Show a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wo, err := e.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	return cmd
}

func orderUpdateCmd() *cobra.Command {
	var status, customer, region, fabric, due, notes string
	var quantity int
	var force bool
	cmd := &cobra.Command{
		Use:   "update <id|order-number>",
		Short: "Update a work order",
		Long:  "Changes fields or moves the order along its status chain. --force skips the transition rules.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkOrderUpdateOptions{
				ID:      args[0],
				Status:  status,
				ActorID: viper.GetString("actor-id"),
				Force:   force,
			}
			flags := cmd.Flags()
			if flags.Changed("customer") {
				opts.Customer = &customer
			}
			if flags.Changed("region") {
				opts.Region = &region
			}
			if flags.Changed("fabric") {
				opts.Fabric = &fabric
			}
			if flags.Changed("due") {
				opts.DueDate = &due
			}
			if flags.Changed("notes") {
				opts.Notes = &notes
			}
			if flags.Changed("quantity") {
				opts.Quantity = &quantity
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wo, err := e.UpdateWorkOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&customer, "customer", "", "customer name")
	cmd.Flags().StringVar(&region, "region", "", "delivery region")
	cmd.Flags().StringVar(&fabric, "fabric", "", "fabric (empty clears)")
	cmd.Flags().StringVar(&due, "due", "", "due date (empty clears)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().IntVar(&quantity, "quantity", 0, "units")
	cmd.Flags().BoolVar(&force, "force", false, "skip status transition rules")
	return cmd
}

func queueCmd() *cobra.Command {
	var opts engine.QueueOptions
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the ranked production queue",
		Long:  "Ranks every active order together, then narrows by --region and --limit. Grouping is computed across the whole batch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ProductionQueue(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Order", "Region", "Fabric", "Due", "Days", "Score", "Level", "Badge"})
				for i, it := range items {
					tw.AppendRow(table.Row{
						i + 1, it.OrderNumber, it.Region, groupLabel(it.PrioritizedWorkOrder), strValue(it.DueDate),
						daysLabel(it), it.PriorityScore, it.PriorityLevel, badgeLabel(it.Badge),
					})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("%d orders", len(items)), "", "", "", "", "", "", e.Clock().Format("Mon 2006-01-02")})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Region, "region", "", "only show this region")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show work order counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Work orders: %d (%d active)\n", st.Total, st.Active)
				for _, s := range domain.Statuses {
					fmt.Printf("  %s: %d\n", s, st.ByStatus[s])
				}
				return nil
			})
		},
	}
	return cmd
}

func slaCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "sla",
		Short: "Regional SLA budgets",
		Long:  "Each region splits its total workdays into reception, production and shipping. Unknown regions use DEFAULT.",
	}
	s.AddCommand(slaListCmd())
	s.AddCommand(slaShowCmd())
	return s
}

func slaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured regions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				slas := cfg.SLATable()
				if viper.GetBool("json") {
					out := map[string]any{}
					for _, r := range slas.Regions() {
						out[r] = slas.Breakdown(r)
					}
					return printJSON(out)
				}
				tw := newTable()
				tw.AppendHeader(tableRow("Region", "Total", "Reception", "Production", "Shipping", "Urgent at"))
				for _, r := range slas.Regions() {
					b := slas.Breakdown(r)
					tw.AppendRow(tableRow(r, b.TotalDays, b.ReceptionDays, b.ProductionDays, b.ShippingDays, urgency.Threshold(slas, r)))
				}
				tw.Render()
				return nil
			})
		},
	}
}

func slaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <region>",
		Short: "Show the budget a region resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				slas := cfg.SLATable()
				return printJSONOrTable(map[string]any{
					"region":           args[0],
					"budget":           slas.Breakdown(args[0]),
					"urgent_threshold": urgency.Threshold(slas, args[0]),
				})
			})
		},
	}
}

func calendarCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "calendar",
		Short: "Workday arithmetic",
		Long:  "Workdays are Monday to Friday. Holidays are not taken into account.",
	}
	c.AddCommand(calendarScheduleCmd())
	c.AddCommand(calendarAddCmd())
	c.AddCommand(calendarBetweenCmd())
	return c
}

func calendarScheduleCmd() *cobra.Command {
	var region, start string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Project SLA milestones for a region",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				from, err := parseDateFlag(cfg, "start", start)
				if err != nil {
					return err
				}
				s := cfg.SLATable().Schedule(from, region)
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := newTable()
				tw.AppendHeader(tableRow("Milestone", "Date", "Workdays"))
				tw.AppendRow(tableRow("start", calendar.FormatDate(s.Start), 0))
				tw.AppendRow(tableRow("reception", calendar.FormatDate(s.ReceptionEnd), s.Budget.ReceptionDays))
				tw.AppendRow(tableRow("production", calendar.FormatDate(s.ProductionEnd), s.Budget.ProductionDays))
				tw.AppendRow(tableRow("delivery", calendar.FormatDate(s.DeliveryDate), s.Budget.ShippingDays))
				tw.AppendFooter(tableRow(s.Region, "", s.Budget.TotalDays))
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "delivery region")
	cmd.Flags().StringVar(&start, "start", "", "start date (default today)")
	return cmd
}

func calendarAddCmd() *cobra.Command {
	var start string
	var days int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add workdays to a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				from, err := parseDateFlag(cfg, "start", start)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"start":    calendar.FormatDate(from),
					"workdays": days,
					"result":   calendar.FormatDate(calendar.AddWorkdays(from, days)),
				})
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date (default today)")
	cmd.Flags().IntVar(&days, "days", 0, "workdays to add")
	return cmd
}

func calendarBetweenCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "between",
		Short: "Count workdays between two dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				from, err := parseDateFlag(cfg, "start", start)
				if err != nil {
					return err
				}
				to, err := parseDateFlag(cfg, "end", end)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"start":    calendar.FormatDate(from),
					"end":      calendar.FormatDate(to),
					"workdays": calendar.WorkdaysBetween(from, to),
				})
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date (default today)")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "maincontrol.yml holds the timezone, SLA overrides, queue statuses, logging and server settings. It is optional.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default maincontrol.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s already exists; use --overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				return printJSONOrTable(cfg)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate maincontrol.yml",
		Long:  "Reads maincontrol.yml from the workspace. A missing file is an error here, unlike the other commands which fall back to defaults.",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := validateConfig(viper.GetString("workspace"))
			if viper.GetBool("json") {
				if perr := printJSON(res); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK:", res.Path)
			return nil
		},
	}
}

type configValidation struct {
	OK    bool   `json:"ok"`
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

func validateConfig(workspace string) (configValidation, error) {
	res := configValidation{Path: config.Path(workspace)}
	if _, err := config.Load(workspace); err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.OK = true
	return res, nil
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every work order creation, edit and status move.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if entityID != "" {
					wo, err := e.GetWorkOrder(ctx, entityID)
					if err == nil {
						entityID = wo.ID
					} else if !errors.Is(err, repo.ErrNotFound) {
						return err
					}
				}
				events, err := e.LatestEvents(ctx, n, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(tableRow("ID", "Time", "Type", "Entity", "Actor", "Payload"))
				for _, ev := range events {
					tw.AppendRow(tableRow(ev.ID, ev.TS, ev.Type, ev.EntityID, ev.ActorID, ev.Payload))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "work order id or number")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ac.Close()
			if !cmd.Flags().Changed("addr") && ac.Config.Server.Addr != "" {
				addr = ac.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && ac.Config.Server.BasePath != "" {
				basePath = ac.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: ac.Engine, BasePath: basePath, Logger: ac.Logger})
			if err != nil {
				return err
			}
			server.StartWebhooks(cmd.Context(), ac.Engine, ac.Logger)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			ac.Logger.Info("serving maincontrol API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", "/docs")
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

func openWorkspace(ctx context.Context) (*app.Context, error) {
	return app.Open(ctx, viper.GetString("workspace"), app.Options{LogLevel: viper.GetString("log-level")})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ac, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ac.Close()
	return fn(ctx, ac.Engine)
}

// withConfig runs fn against the workspace config without opening the database.
func withConfig(fn func(*config.Config) error) error {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	return fn(cfg)
}

func parseDateFlag(cfg *config.Config, name, value string) (time.Time, error) {
	loc := cfg.Location()
	if strings.TrimSpace(value) == "" {
		return time.Now().In(loc), nil
	}
	t, ok := calendar.ParseDate(value, loc)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid --%s %q", name, value)
	}
	return t, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func tableRow(cells ...any) table.Row {
	return table.Row(cells)
}

// printJSONOrTable prints v as JSON with --json, otherwise as a field/value table.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	return renderRecord(os.Stdout, v)
}

// renderRecord writes one row per top-level JSON field of v, sorted by name.
func renderRecord(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("render %T: %w", v, err)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(tableRow("Field", "Value"))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		tw.AppendRow(tableRow(k, cellValue(fields[k])))
	}
	tw.Render()
	return nil
}

func cellValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func groupLabel(p domain.PrioritizedWorkOrder) string {
	fabric := strValue(p.Fabric)
	if p.IsGroupedMaterial {
		return fabric + " (grouped)"
	}
	return fabric
}

// daysLabel leaves undated orders blank; the badge tells whether a date parsed.
func daysLabel(it engine.QueueItem) string {
	if it.Badge == nil {
		return "-"
	}
	return strconv.Itoa(it.DaysRemaining)
}

func badgeLabel(b *urgency.Badge) string {
	if b == nil {
		return ""
	}
	return b.Label
}
