package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/skobkin/commandstate/internal/api"
	"github.com/skobkin/commandstate/internal/classify"
	"github.com/skobkin/commandstate/internal/config"
	"github.com/skobkin/commandstate/internal/engine"
	"github.com/skobkin/commandstate/internal/pipeline"
	"github.com/skobkin/commandstate/internal/signals"
	"github.com/skobkin/commandstate/internal/snapshot"
)

const exitNotDelivered = 2

type options struct {
	filter     string
	search     string
	sortBy     string
	ascending  bool
	jsonOutput bool
	limit      int
	settle     time.Duration
	noColor    bool
	signal     string
	pid        int
}

func parseFlags(defaults pipeline.Query) options {
	var opts options
	flag.StringVar(&opts.filter, "filter", defaults.Filter.String(), "Filter: all, user, high_cpu, high_mem")
	flag.StringVar(&opts.search, "search", defaults.Search, "Case-insensitive substring to match in process names")
	flag.StringVar(&opts.sortBy, "sort", defaults.SortBy.String(), "Sort key: cpu, memory, pid, name")
	flag.BoolVar(&opts.ascending, "asc", defaults.Direction == pipeline.Ascending, "Sort ascending instead of descending")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit the result as JSON")
	flag.IntVar(&opts.limit, "limit", 0, "Show at most this many rows (0 = all)")
	flag.DurationVar(&opts.settle, "settle", 0, "Capture twice this far apart so CPU% covers the interval")
	flag.BoolVar(&opts.noColor, "no-color", false, "Disable tier colouring in table output")
	flag.StringVar(&opts.signal, "signal", "", "Send this signal (e.g. SIGTERM, kill, 9) to -pid instead of listing")
	flag.IntVar(&opts.pid, "pid", 0, "Target process for -signal")
	flag.Parse()
	return opts
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	opts := parseFlags(cfg.DefaultQuery)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, logger, cfg, opts, os.Stdout))
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, opts options, out io.Writer) int {
	collector := snapshot.NewCollector(logger.With("component", "snapshot_collector"))

	snap, err := capture(ctx, collector, opts.settle)
	if err != nil {
		logger.Error("capture failed", "err", err)
		return 1
	}

	if opts.signal != "" {
		return sendSignal(logger, snap, opts, out)
	}

	dir := "desc"
	if opts.ascending {
		dir = "asc"
	}
	query, err := pipeline.ParseQuery(opts.filter, opts.search, opts.sortBy, dir)
	if err != nil {
		logger.Error("invalid query", "err", err)
		return 1
	}

	p := pipeline.New(pipeline.Options{
		HighCPUThreshold: cfg.HighCPUThreshold,
		HighMemThreshold: cfg.HighMemThreshold,
	})
	procs, err := p.Apply(snap, query)
	if err != nil {
		logger.Error("apply query", "err", err)
		return 1
	}
	if opts.limit > 0 && len(procs) > opts.limit {
		procs = procs[:opts.limit]
	}

	list := api.NewProcessList(snap, query, procs)
	summary := engine.Summarize(snap)

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(api.NewProcsMessage(list, summary)); err != nil {
			logger.Error("encode output", "err", err)
			return 1
		}
		return 0
	}

	renderSummary(out, summary)
	renderTable(out, list.Rows, !opts.noColor)
	return 0
}

// capture takes one snapshot, or two settle apart so CPU% reflects the
// interval rather than the lifetime average.
func capture(ctx context.Context, collector *snapshot.Collector, settle time.Duration) (*snapshot.Snapshot, error) {
	snap, err := collector.Capture(ctx)
	if err != nil || settle <= 0 {
		return snap, err
	}

	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return collector.Capture(ctx)
}

func sendSignal(logger *slog.Logger, snap *snapshot.Snapshot, opts options, out io.Writer) int {
	kind, err := signals.ParseKind(opts.signal)
	var result signals.Result
	if err != nil {
		result = signals.Result{
			Request: signals.Request{PID: opts.pid, Signal: signals.Kind(opts.signal)},
			Outcome: signals.InvalidSignal,
			Cause:   err,
		}
	} else {
		dispatcher := signals.NewDispatcher(logger.With("component", "signal_dispatcher"))
		result = dispatcher.Dispatch(snap, signals.Request{PID: opts.pid, Signal: kind})
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(api.NewSignalResult(result)); err != nil {
			logger.Error("encode output", "err", err)
			return 1
		}
	} else {
		fmt.Fprintln(out, result.Message())
	}

	if result.Outcome != signals.Delivered {
		return exitNotDelivered
	}
	return 0
}

func renderSummary(out io.Writer, summary engine.Summary) {
	fmt.Fprintf(out, "CPU %5.1f%% (%d cores @ %.0f MHz)  MEM %5.1f%%  SWAP %5.1f%%  LOAD %.2f %.2f %.2f  UP %s  PROCS %d\n",
		summary.CPUPercent, summary.CoreCount, summary.FrequencyMHz,
		summary.MemoryPercent, summary.SwapPercent,
		summary.Load1, summary.Load5, summary.Load15,
		summary.Uptime.Truncate(time.Second), summary.ProcessCount,
	)
}

func renderTable(out io.Writer, rows []api.ProcessRow, color bool) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatUpper
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"PID", "Name", "CPU%", "MEM%", "MEM MB", "St", "User", "Command"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 8, WidthMax: 60},
	})

	for _, row := range rows {
		t.AppendRow(table.Row{
			row.PID,
			row.Name,
			tierColor(row.CPUTier, color).Sprintf("%.1f", row.CPUPercent),
			tierColor(row.MemTier, color).Sprintf("%.1f", row.MemoryPercent),
			fmt.Sprintf("%.1f", row.MemoryMB),
			row.StatusShort,
			row.User,
			row.Command,
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d shown", len(rows))})
	t.Render()
}

func tierColor(tier classify.Tier, enabled bool) text.Colors {
	if !enabled {
		return nil
	}
	switch tier {
	case classify.High:
		return text.Colors{text.FgHiRed, text.Bold}
	case classify.Medium:
		return text.Colors{text.FgYellow}
	case classify.Normal:
		return text.Colors{text.FgGreen}
	default:
		return nil
	}
}
