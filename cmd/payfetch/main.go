package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/livinlefevreloca/payfetch/internal/config"
	"github.com/livinlefevreloca/payfetch/internal/cron"
	"github.com/livinlefevreloca/payfetch/internal/gmail"
	"github.com/livinlefevreloca/payfetch/internal/history"
	"github.com/livinlefevreloca/payfetch/internal/orchestrator"
	"github.com/livinlefevreloca/payfetch/internal/pipeline"
	"github.com/livinlefevreloca/payfetch/internal/ratelimit"
	"github.com/livinlefevreloca/payfetch/internal/schedule"
)

const usage = `Usage: payfetch [flags] <command>

Commands:
  run       process every due schedule once (default)
  add       add a schedule
  list      list schedules
  rm        remove a schedule
  enable    enable a schedule
  disable   disable a schedule
  next      show upcoming occurrences of a schedule
  history   show recent processing passes

Run 'payfetch <command> -h' for command flags.
`

func main() {
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "payfetch: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "payfetch: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	command := "run"
	args := flag.Args()
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	var code int
	switch command {
	case "run":
		code = runPass(cfg, logger)
	case "add":
		code = addSchedule(cfg, logger, args)
	case "list":
		code = listSchedules(cfg, logger)
	case "rm":
		code = removeSchedule(cfg, logger, args)
	case "enable":
		code = setScheduleEnabled(cfg, logger, args, true)
	case "disable":
		code = setScheduleEnabled(cfg, logger, args, false)
	case "next":
		code = showNext(args)
	case "history":
		code = showHistory(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "payfetch: unknown command %q\n\n%s", command, usage)
		code = 2
	}

	os.Exit(code)
}

func openStore(cfg *config.Config, logger *slog.Logger) (*schedule.Store, error) {
	return schedule.NewStore(cfg.Schedules, logger)
}

// runPass wires the full pipeline and executes one pass over the schedules
func runPass(cfg *config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open schedule store", "error", err)
		return 1
	}

	svc, err := gmail.NewService(ctx, cfg.Gmail, logger)
	if err != nil {
		logger.Error("failed to create gmail service", "error", err)
		return 1
	}

	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		logger.Error("failed to create rate limiter", "error", err)
		return 1
	}

	client := gmail.NewClient(svc, limiter, cfg.Retry, logger)

	downloader, err := pipeline.New(client, cfg.Downloads, logger)
	if err != nil {
		logger.Error("failed to create download pipeline", "error", err)
		return 1
	}

	// The ledger is best-effort; a broken database does not block downloads
	var ledger orchestrator.Ledger
	if db, err := history.Open(cfg.History); err != nil {
		logger.Warn("history ledger unavailable", "path", cfg.History.Path, "error", err)
	} else {
		defer db.Close()
		ledger = db
	}

	orch, err := orchestrator.New(store, client, downloader, ledger, cfg.Orchestrator, logger)
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		return 1
	}

	summary, err := orch.RunOnce(ctx)
	if err != nil {
		logger.Error("pass aborted", "error", err)
		return 1
	}

	return summary.ExitCode()
}

func addSchedule(cfg *config.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	sender := fs.String("sender", "", "Sender email address (required)")
	keywords := fs.String("keywords", "", "Subject keywords to match")
	cronExpr := fs.String("cron", "", "Five-field cron expression (required)")
	description := fs.String("description", "", "Schedule description")
	disabled := fs.Bool("disabled", false, "Create the schedule disabled")
	fs.Parse(args)

	if *sender == "" || *cronExpr == "" {
		fmt.Fprintln(os.Stderr, "payfetch add: -sender and -cron are required")
		return 2
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open schedule store", "error", err)
		return 1
	}

	rec, err := store.Create(schedule.CreateInput{
		SenderEmail:     *sender,
		SubjectKeywords: *keywords,
		Cron:            *cronExpr,
		Description:     *description,
		Disabled:        *disabled,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "payfetch add: %v\n", err)
		return 1
	}

	fmt.Println(rec.ID)
	return 0
}

func listSchedules(cfg *config.Config, logger *slog.Logger) int {
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open schedule store", "error", err)
		return 1
	}

	records, err := store.List(schedule.Filter{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "payfetch list: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSENDER\tCRON\tENABLED\tLAST RUN\tDESCRIPTION")
	for _, rec := range records {
		lastRun := "never"
		if rec.LastRun != nil {
			lastRun = rec.LastRun.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			rec.ID, rec.SenderEmail, rec.Cron, rec.Enabled, lastRun, rec.Description)
	}
	w.Flush()
	return 0
}

func removeSchedule(cfg *config.Config, logger *slog.Logger, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "payfetch rm: expected exactly one schedule id")
		return 2
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open schedule store", "error", err)
		return 1
	}

	if err := store.Delete(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "payfetch rm: %v\n", err)
		return 1
	}
	return 0
}

func setScheduleEnabled(cfg *config.Config, logger *slog.Logger, args []string, enabled bool) int {
	name := "disable"
	if enabled {
		name = "enable"
	}
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "payfetch %s: expected exactly one schedule id\n", name)
		return 2
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open schedule store", "error", err)
		return 1
	}

	if err := store.SetEnabled(args[0], enabled); err != nil {
		fmt.Fprintf(os.Stderr, "payfetch %s: %v\n", name, err)
		return 1
	}
	return 0
}

func showNext(args []string) int {
	fs := flag.NewFlagSet("next", flag.ExitOnError)
	count := fs.Int("n", 3, "Number of occurrences to show")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "payfetch next: expected exactly one cron expression")
		return 2
	}

	sched, err := cron.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "payfetch next: %v\n", err)
		return 1
	}

	for _, t := range sched.Next(time.Now(), *count) {
		fmt.Println(t.Format(time.RFC3339))
	}
	return 0
}

func showHistory(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	count := fs.Int("n", 10, "Number of passes to show")
	fs.Parse(args)

	db, err := history.Open(cfg.History)
	if err != nil {
		fmt.Fprintf(os.Stderr, "payfetch history: %v\n", err)
		return 1
	}
	defer db.Close()

	passes, err := db.RecentPasses(*count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "payfetch history: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PASS\tSTARTED\tPROCESSED\tFAILED")
	for _, p := range passes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n",
			p.ID, p.StartedAt.Local().Format(time.RFC3339), p.SchedulesProcessed, p.SchedulesFailed)

		runs, err := db.GetScheduleRuns(p.ID)
		if err != nil {
			continue
		}
		for _, r := range runs {
			detail := ""
			if r.Error != nil {
				detail = *r.Error
			}
			fmt.Fprintf(w, "  %s\t%s\t%d found / %d downloaded\t%s\n",
				r.ScheduleID, r.Status, r.EmailsFound, r.Downloaded, detail)
		}
	}
	w.Flush()
	return 0
}
