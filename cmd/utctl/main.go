// main.go - admin control tool for the visit tracker
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/term"

	"usertracker/internal"
	"usertracker/internal/aggregation"
	"usertracker/internal/export"
	"usertracker/internal/seeder"
	"usertracker/internal/settings"
	"usertracker/internal/timeframe"
	"usertracker/internal/visits"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

var commands = []Command{
	&MigrateCommand{},
	&AggregateCommand{},
	&PurgeCommand{},
	&ExportCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if _, isHelp := cmd.(*HelpCommand); !isHelp {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Fatalf("Failed to initialize app: %v", err)
		}
	}

	err := cmd.Execute(ctx, app, args)

	if app != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		if serr := app.Shutdown(shutdownCtx); serr != nil {
			log.Printf("Warning: Cleanup error: %v", serr)
		}
		cancelShutdown()
	}

	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}
	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// AggregateCommand rebuilds daily summaries for one day or a range.
type AggregateCommand struct{}

func (c *AggregateCommand) Name() string { return "aggregate" }
func (c *AggregateCommand) Description() string {
	return "Aggregates visits into daily summaries: aggregate [YYYY-MM-DD | FROM TO] (default yesterday)"
}

func (c *AggregateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	agg := app.Services.Aggregator

	var (
		rows int
		err  error
	)
	switch len(args) {
	case 0:
		rows, err = agg.Aggregate(ctx, "")
	case 1:
		rows, err = agg.Aggregate(ctx, args[0])
	case 2:
		rows, err = agg.AggregateRange(ctx, args[0], args[1])
	default:
		return fmt.Errorf("usage: %s [day | from to]", c.Name())
	}
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %d summary rows\n", rows)
	return nil
}

// PurgeCommand applies the retention policy immediately.
type PurgeCommand struct{}

func (c *PurgeCommand) Name() string { return "purge" }
func (c *PurgeCommand) Description() string {
	return "Deletes visits, logs and summaries older than N days: purge [days]"
}

func (c *PurgeCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	days := app.Services.Config.RetentionDays
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid days %q: %w", args[0], err)
		}
		days = n
	}

	res, err := app.Services.Purger.Purge(ctx, days)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d visits, %d log entries, %d daily rows\n",
		res.Visits, res.Logs, res.Daily)
	return nil
}

// ExportCommand writes visits or page reports as CSV or XLSX.
type ExportCommand struct {
	// stdout is swapped in tests.
	stdout io.Writer
	isTTY  func() bool
}

func (c *ExportCommand) Name() string { return "export" }
func (c *ExportCommand) Description() string {
	return "Exports visits or pages: export [-format csv|xlsx] [-o file] [-from day] [-to day] [-search q] [-hide-bots] visits|pages"
}

func (c *ExportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "csv", "csv or xlsx")
	output := fs.String("o", "", "output file (stdout when empty)")
	from := fs.String("from", "", "first day, YYYY-MM-DD")
	to := fs.String("to", "", "last day, YYYY-MM-DD")
	search := fs.String("search", "", "substring match on page URL or country")
	hideBots := fs.Bool("hide-bots", false, "exclude bot traffic")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s [flags] visits|pages", c.Name())
	}

	f, err := export.ParseFormat(*format)
	if err != nil {
		return err
	}

	var w io.Writer = c.out()
	if *output != "" {
		file, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("create %s: %w", *output, err)
		}
		defer file.Close()
		w = file
	} else if f == export.XLSX && c.terminal() {
		return errors.New("refusing to write xlsx to a terminal, use -o or redirect stdout")
	}

	db := app.DBManager.GetConnection()
	filter := visits.Filter{From: *from, To: *to, Search: *search, HideBots: *hideBots}

	switch fs.Arg(0) {
	case "visits":
		n, err := export.Visits(ctx, db, filter, f, w)
		if err != nil {
			return err
		}
		log.Printf("Exported %d visits", n)
	case "pages":
		rows, err := pageRows(ctx, app, filter)
		if err != nil {
			return err
		}
		if err := export.Pages(rows, f, w); err != nil {
			return err
		}
		log.Printf("Exported %d pages", len(rows))
	default:
		return fmt.Errorf("unknown export target %q", fs.Arg(0))
	}
	return nil
}

func (c *ExportCommand) out() io.Writer {
	if c.stdout != nil {
		return c.stdout
	}
	return os.Stdout
}

func (c *ExportCommand) terminal() bool {
	if c.isTTY != nil {
		return c.isTTY()
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// pageRows reads from the daily summaries when a full range is given and
// from raw visits otherwise, like the admin pages report.
func pageRows(ctx context.Context, app *internal.Application, filter visits.Filter) ([]export.PageRow, error) {
	db := app.DBManager.GetConnection()
	if filter.From != "" && filter.To != "" {
		stats, err := aggregation.PageStats(ctx, db, filter.From, filter.To, "")
		if err != nil {
			return nil, err
		}
		rows := make([]export.PageRow, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, export.PageRow{PageURL: s.PageURL, Visits: s.Visits, Landings: s.Landings})
		}
		return rows, nil
	}

	top, err := visits.TopPages(ctx, db, filter, 1000)
	if err != nil {
		return nil, err
	}
	rows := make([]export.PageRow, 0, len(top))
	for _, p := range top {
		rows = append(rows, export.PageRow{PageURL: p.PageURL, PageType: p.PageType, Visits: p.Visits, Landings: p.Landings})
	}
	return rows, nil
}

// SeedCommand populates the DB with sample visits
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample visits" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("visits", seeder.DefaultVisitCount, "number of page views to generate")
	days := fs.Int("days", seeder.DefaultDays, "spread visits over this many past days")
	skipAggregate := fs.Bool("no-aggregate", false, "do not rebuild daily summaries afterwards")
	if err := fs.Parse(args); err != nil {
		return err
	}

	se := seeder.NewSeeder(app.Services, slog.Default(), *count)
	se.Days = *days
	se.Aggregate = !*skipAggregate

	res, err := se.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded %d visits across %d sessions (%d skipped)\n", res.Recorded, res.Sessions, res.Skipped)
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection().WithContext(ctx)

	var total, bots int64
	if err := db.Model(&visits.Visit{}).Count(&total).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&visits.Visit{}).Where("is_bot = ?", true).Count(&bots).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	lastDay, err := settings.GetLastAggregateDay(db)
	if err != nil || lastDay == "" {
		lastDay = "never"
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Visits: %d (%d bots)", total, bots)
	log.Printf("- Last aggregated day: %s (yesterday is %s)", lastDay, timeframe.Yesterday(app.Services.Clock))
	log.Printf("- Retention: %d days", app.Services.Config.RetentionDays)
	if gl := app.Services.GeoLite; gl != nil {
		log.Printf("- GeoLite database: %s (loaded: %v)", gl.Path(), gl.Loaded())
	}
	if geo, ok := app.Services.GeoCacheStats(ctx); ok {
		log.Printf("- Geo cache: %d entries (%s, %d expired)", geo.Entries, geo.Backend, geo.ExpiredEntries)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	stats := sqlDB.Stats()
	log.Printf("- Max Open Connections: %d", stats.MaxOpenConnections)
	log.Printf("- Open Connections: %d", stats.OpenConnections)
	log.Printf("- In Use: %d", stats.InUse)
	log.Printf("- Idle: %d", stats.Idle)
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage(os.Stdout)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: utctl [command] [args...]")
	fmt.Fprintln(w, "Available commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func showUsageAndExit() {
	printUsage(os.Stderr)
	os.Exit(1)
}
