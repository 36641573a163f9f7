package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docscan/internal/cli"
	"github.com/hyperjump/docscan/internal/config"
	"github.com/hyperjump/docscan/internal/export"
	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/pipeline"
	"github.com/hyperjump/docscan/internal/scheduler"
	"github.com/hyperjump/docscan/internal/server"
	"github.com/hyperjump/docscan/internal/service"
	"github.com/hyperjump/docscan/internal/watcher"
	"github.com/hyperjump/docscan/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docscan/config.yaml"

const shutdownTimeout = 10 * time.Second

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if present; when neither exists the built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "process":
		runProcess()
	case "compare":
		runCompare()
	case "history":
		runHistory()
	case "status":
		runStatus()
	case "version":
		fmt.Printf("docscan %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every command.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func parseOutput(raw string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, componentOptions{})
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	if err := components.Service.EnsureReady(ctx); err != nil {
		logger.Warn("recognition engine not ready; documents needing OCR will fail", zap.Error(err))
	}

	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		sched := components.Scheduler
		watchSvc = watcher.New(cfg.Watch.Directories, cfg.Watch.Extensions,
			func(path string) {
				if _, err := sched.Submit(path, scheduler.SubmitOptions{Priority: cfg.Watch.Priority}); err != nil {
					logger.Warn("watch submit failed", zap.String("path", path), zap.Error(err))
				}
			},
			watcher.WithLogger(utils.Named(logger, "watcher")),
			watcher.WithDebounce(cfg.Watch.Debounce),
		)
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.ScanExisting()
	}

	srv := server.NewServer(
		components.Scheduler,
		components.Service,
		components.History,
		components.Comparator,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if watchSvc != nil {
		watchSvc.Stop()
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := components.Close(shutdownCtx); err != nil {
		logger.Error("Component shutdown error", zap.Error(err))
	}
}

// reorderArgs moves trailing flags ahead of positional args so that both
// "process a.pdf -export out.xlsx" and "process -export out.xlsx a.pdf" parse.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// expandInputs resolves directories to the supported documents inside them. Explicit
// files are kept as given so an unsupported one fails visibly in the batch.
func expandInputs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if pipeline.Supported(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// parseTags splits a comma-separated tag list, dropping blanks.
func parseTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func runProcess() {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	exportPath := fs.String("export", "", "write the batch results to this file (.json or .xlsx)")
	priority := fs.Int("priority", 0, "job priority; higher runs first")
	force := fs.Bool("force", false, "bypass the result cache")
	noHistory := fs.Bool("no-history", false, "do not record results in the history store")
	tags := fs.String("tags", "", "comma-separated tags stored with each result")
	notes := fs.String("notes", "", "free-form note stored with each result")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: docscan process [options] <file|dir>...\n\nOptions:\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}
	format := parseOutput(*outputFormat)

	paths, err := expandInputs(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid input: %v\n", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "No supported documents found")
		os.Exit(1)
	}

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, componentOptions{NoHistory: *noHistory})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	exit := func(code int) {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := components.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
		_ = logger.Sync()
		os.Exit(code)
	}

	sched := components.Scheduler
	if format == cli.OutputText {
		unsubscribe := sched.Subscribe(func(e scheduler.Event) {
			writeProgress(os.Stderr, e)
		})
		defer unsubscribe()
	}

	if _, err := sched.SubmitMany(paths, scheduler.SubmitOptions{
		Priority:       *priority,
		ForceReprocess: *force,
		Tags:           parseTags(*tags),
		Notes:          *notes,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Submit failed: %v\n", err)
		exit(1)
	}
	if err := sched.Wait(ctx); err != nil {
		sched.CancelAll()
		fmt.Fprintln(os.Stderr, "Interrupted; pending jobs cancelled")
	}

	if format == cli.OutputText {
		fmt.Println()
		_ = cli.WriteJobs(os.Stdout, sched.Jobs(), format)
		fmt.Println()
		_ = cli.WriteStatistics(os.Stdout, sched.Statistics(), format)
	} else {
		_ = cli.WriteJobs(os.Stdout, sched.Jobs(), format)
	}

	if *exportPath != "" {
		if err := writeExport(*exportPath, sched.Export()); err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			exit(1)
		}
		fmt.Fprintf(os.Stderr, "Exported results to %s\n", *exportPath)
	}
	code := 0
	if sched.Statistics().Failed > 0 {
		code = 2
	}
	exit(code)
}

func writeProgress(w io.Writer, e scheduler.Event) {
	switch e.Type {
	case scheduler.EventJobCompleted:
		fmt.Fprintf(w, "done    %s (%s)\n", e.Job.FileName, e.Job.Duration.Round(time.Millisecond))
	case scheduler.EventJobFailed:
		fmt.Fprintf(w, "failed  %s after %d attempt(s): %s\n", e.Job.FileName, e.Attempt, e.Job.Error)
	case scheduler.EventJobRetry:
		fmt.Fprintf(w, "retry   %s (attempt %d of %d failed)\n", e.Job.FileName, e.Attempt, e.MaxAttempts+1)
	}
}

func writeExport(path string, snap scheduler.ExportSnapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.Write(f, export.FormatForPath(path), snap); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// historyRef parses "@<id>" as a history record reference.
func historyRef(arg string) (int64, bool) {
	if !strings.HasPrefix(arg, "@") {
		return 0, false
	}
	id, err := strconv.ParseInt(arg[1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// needsHistory reports whether any argument is a history reference.
func needsHistory(args []string) bool {
	for _, a := range args {
		if _, ok := historyRef(a); ok {
			return true
		}
	}
	return false
}

func runCompare() {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: docscan compare [options] <a> <b>\n\n"+
			"Each side is a document path or @<history id>.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(reorderArgs(os.Args[2:]))
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	format := parseOutput(*outputFormat)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, componentOptions{NoHistory: !needsHistory(fs.Args())})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = components.Close(context.Background()) }()

	results := make([]*models.ExtractionResult, 2)
	for i, arg := range fs.Args() {
		res, err := resolveDocument(ctx, components, arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
			os.Exit(1)
		}
		results[i] = res
	}
	_ = cli.WriteComparison(os.Stdout, components.Comparator.Compare(results[0], results[1]), format)
}

func resolveDocument(ctx context.Context, c *Components, arg string) (*models.ExtractionResult, error) {
	if id, ok := historyRef(arg); ok {
		rec, err := c.History.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return rec.Result(), nil
	}
	return c.Service.Extract(ctx, arg, service.ExtractOptions{})
}

func runHistory() {
	if len(os.Args) < 3 {
		printHistoryUsage()
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("history "+sub, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	limit := fs.Int("limit", 0, "maximum number of records")
	docType := fs.String("type", "", "only records of this document type (search)")
	from := fs.String("from", "", "earliest processing time, YYYY-MM-DD or RFC 3339 (search)")
	to := fs.String("to", "", "latest processing time, YYYY-MM-DD or RFC 3339 (search)")
	fuzzy := fs.Int("fuzzy", 0, "edit distance tolerated per query term (search)")
	_ = fs.Parse(reorderArgs(os.Args[3:]))
	format := parseOutput(*outputFormat)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()

	components, err := initializeComponents(ctx, cfg, logger, componentOptions{Fuzziness: *fuzzy})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = components.Close(ctx) }()
	hist := components.History

	switch sub {
	case "search":
		filter := models.HistoryFilter{DocumentType: *docType, Limit: *limit}
		if filter.From, err = models.ParseFilterTime(*from, false); err == nil {
			filter.To, err = models.ParseFilterTime(*to, true)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid date: %v\n", err)
			os.Exit(1)
		}
		query := strings.TrimSpace(strings.Join(fs.Args(), " "))
		recs, err := hist.Search(ctx, query, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteHistory(os.Stdout, recs, format)
	case "recent":
		recs, err := hist.Recent(ctx, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Recent failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteHistory(os.Stdout, recs, format)
	case "show":
		if fs.NArg() != 1 {
			printHistoryUsage()
			os.Exit(1)
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(fs.Arg(0), "@"), 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid id %q\n", fs.Arg(0))
			os.Exit(1)
		}
		rec, err := hist.Get(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Get failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteHistory(os.Stdout, []*models.HistoryRecord{rec}, format)
	case "summary":
		sum, err := hist.Summary(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Summary failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteSummary(os.Stdout, sum, format)
	case "reindex":
		if err := hist.Reindex(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Reindex failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("History index rebuilt")
	default:
		fmt.Fprintf(os.Stderr, "Unknown history command: %s\n\n", sub)
		printHistoryUsage()
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "query a running server instead of local storage (e.g. http://localhost:8090)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		if err := statusViaHTTP(os.Stdout, *serverURL); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = components.Close(ctx) }()

	resp := map[string]interface{}{"engine": components.Service.Status()}
	if sum, err := components.History.Summary(ctx); err == nil {
		resp["history_documents"] = sum.TotalDocuments
	}
	if usage, err := components.History.DiskUsage(); err == nil {
		resp["disk_usage_bytes"] = usage
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
}

func statusViaHTTP(w io.Writer, baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimSuffix(baseURL, "/") + "/api/v1/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	var body interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(body)
}

func printHistoryUsage() {
	fmt.Fprint(os.Stderr, `Usage: docscan history <command> [options]

Commands:
  search [query]   Full-text search, narrowed by -type, -from, -to and -limit
  recent           Most recently processed documents (-limit, default 50)
  show <id>        One record
  summary          Totals, average confidence and document type distribution
  reindex          Rebuild the full-text index from the database
`)
}

func printUsage() {
	fmt.Print(`docscan - document OCR and batch extraction

Usage:
  docscan <command> [options]

Commands:
  server     Start the HTTP API, the batch scheduler and the inbox watcher
  process    Extract one or more documents as a batch and wait for it
  compare    Compare two documents or history records
  history    Search and summarize previously processed documents
  status     Show engine, cache and history status
  version    Print the version
  help       Show this help

Examples:
  docscan server --config ./config.yaml
  docscan process scans/ --export results.xlsx
  docscan process invoice.pdf receipt.png --priority 5 --tags q1,audit
  docscan compare old.pdf new.pdf
  docscan compare @12 new.pdf --output json
  docscan history search "acme invoice" --type Invoice --from 2024-01-01
  docscan history recent --limit 10
  docscan status --server http://localhost:8090

Every command accepts --config (default: ./config.yaml if present, else
` + defaultConfigPath + `, else built-in defaults).
`)
}
