// hubverify checks a running hub against its HTTP contract.
//
// Usage:
//
//	hubverify run                 Run every check
//	hubverify pagination          Pagination round trip and earliest boundary
//	hubverify earliest            Earliest boundary only
//	hubverify webhook [policy]    Webhook delivery (policy overrides start_item)
//	hubverify channel             Channel CRUD checks
//	hubverify history [n]         List the n most recent stored runs
//	hubverify history show <id>   Print a stored run
//	hubverify version             Print the hubverify version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/wondertwin-ai/hubverify/internal/channelcheck"
	"github.com/wondertwin-ai/hubverify/internal/config"
	"github.com/wondertwin-ai/hubverify/internal/history"
	"github.com/wondertwin-ai/hubverify/internal/hubclient"
	"github.com/wondertwin-ai/hubverify/internal/pagination"
	"github.com/wondertwin-ai/hubverify/internal/suite"
	"github.com/wondertwin-ai/hubverify/internal/webhook"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// errChecksFailed signals a completed run with at least one failing check.
var errChecksFailed = errors.New("one or more checks failed")

type options struct {
	command    string
	args       []string
	configPath string
	verbose    bool
	jsonOut    bool
}

func main() {
	opts := parseArgs(os.Args[1:], os.Getenv)

	if opts.command == "" || opts.command == "help" || opts.command == "--help" || opts.command == "-h" {
		printUsage(os.Stdout)
		if opts.command == "" {
			os.Exit(1)
		}
		return
	}
	if opts.command == "version" || opts.command == "--version" || opts.command == "-v" {
		fmt.Printf("hubverify version %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := execute(ctx, opts, os.Stdout)
	if errors.Is(err, errChecksFailed) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubverify: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs extracts the subcommand, positional args and global flags.
func parseArgs(raw []string, getenv func(string) string) options {
	var opts options
	var filtered []string
	for i := 0; i < len(raw); i++ {
		switch {
		case raw[i] == "--config" && i+1 < len(raw):
			opts.configPath = raw[i+1]
			i++
		case raw[i] == "--verbose":
			opts.verbose = true
		case raw[i] == "--json":
			opts.jsonOut = true
		default:
			filtered = append(filtered, raw[i])
		}
	}
	opts.configPath = config.Path(opts.configPath, getenv)

	if len(filtered) > 0 {
		opts.command = filtered[0]
		opts.args = filtered[1:]
	}
	return opts
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `hubverify: hub contract verifier %s

Usage:
  hubverify [--config <path>] [--verbose] [--json] <command> [arguments]

Commands:
  run                   Run every check
  pagination            Pagination round trip and earliest boundary
  earliest              Earliest boundary only
  webhook [policy]      Webhook delivery (continue|previous|earliest|exact)
  channel               Channel creation and TTL patch checks
  history [n]           List the n most recent stored runs (default 10)
  history show <id>     Print a stored run
  version               Print the hubverify version

Options:
  --config <path>   Path to config (default: ./hubverify.yaml)
  --verbose         Debug logging in text format
  --json            Print the report as JSON

Environment:
  HUBVERIFY_CONFIG  Override default config path
  HUB_URL           Override hub_url
  CALLBACK_DOMAIN   Override callback_domain
  CALLBACK_PORT     Override callback_port
`, version)
}

func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if verbose || cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
}

func execute(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := config.Load(opts.configPath, os.Getenv)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, opts.verbose)
	slog.SetDefault(logger)

	if opts.command == "history" {
		return cmdHistory(ctx, cfg, opts.args, out)
	}

	checks, err := buildChecks(cfg, opts.command, opts.args, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Verifying %s...\n\n", cfg.HubURL)
	report := suite.Run(ctx, checks, suite.Options{HubURL: cfg.HubURL, Logger: logger})

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		report.Print(out)
	}

	if cfg.History.Path != "" {
		if err := saveReport(ctx, cfg.History.Path, report); err != nil {
			logger.Warn("saving run history failed", "path", cfg.History.Path, "err", err)
		}
	}

	if report.Failed > 0 {
		return errChecksFailed
	}
	return nil
}

// buildChecks maps a command to the checks it runs.
func buildChecks(cfg *config.Config, command string, args []string, logger *slog.Logger) ([]suite.Check, error) {
	client := hubclient.New(hubclient.Options{Timeout: cfg.HTTPTimeout, Logger: logger})
	channelURL := hubclient.ChannelURL(cfg.HubURL, cfg.Pagination.Channel)

	paginationChecks := []suite.Check{
		pagination.NewVerifier(client, pagination.VerifierOptions{
			ChannelURL:   channelURL,
			WindowOffset: cfg.Pagination.WindowOffset,
			Logger:       logger,
		}),
		pagination.NewEarliestCheck(client, channelURL, logger),
	}
	channelOpts := channelcheck.Options{
		HubURL:      cfg.HubURL,
		Description: cfg.ChannelCheck.Description,
		Logger:      logger,
	}
	channelChecks := []suite.Check{
		channelcheck.NewDescriptionCheck(client, channelOpts),
		channelcheck.NewTTLNullCheck(client, channelOpts),
	}

	webhookCheck := func() (suite.Check, error) {
		wc := cfg.WebhookConfig()
		if len(args) > 0 {
			policy, err := webhook.ParsePolicy(args[0])
			if err != nil {
				return nil, err
			}
			wc.StartItem = policy
		}
		return webhook.NewHarness(wc, webhook.Options{Client: client, Logger: logger}), nil
	}

	switch command {
	case "run":
		wh, err := webhookCheck()
		if err != nil {
			return nil, err
		}
		checks := append([]suite.Check{}, paginationChecks...)
		checks = append(checks, wh)
		return append(checks, channelChecks...), nil
	case "pagination":
		return paginationChecks, nil
	case "earliest":
		return paginationChecks[1:], nil
	case "webhook":
		wh, err := webhookCheck()
		if err != nil {
			return nil, err
		}
		return []suite.Check{wh}, nil
	case "channel":
		return channelChecks, nil
	}
	return nil, fmt.Errorf("unknown command %q (see hubverify help)", command)
}

func saveReport(ctx context.Context, path string, report *suite.Report) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(ctx, report)
}

// ---------------------------------------------------------------------------
// hubverify history
// ---------------------------------------------------------------------------

func cmdHistory(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if cfg.History.Path == "" {
		return errors.New("history.path is not set in the config")
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) >= 1 && args[0] == "show" {
		if len(args) < 2 {
			return errors.New("usage: hubverify history show <run-id>")
		}
		report, err := store.Get(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Run %s against %s at %s\n\n", report.RunID, report.HubURL, report.StartedAt.Format("2006-01-02 15:04:05"))
		report.Print(out)
		return nil
	}

	n := 10
	if len(args) >= 1 {
		n, err = strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
	}
	runs, err := store.Recent(ctx, n)
	if err != nil {
		return err
	}
	history.PrintRuns(out, runs)
	return nil
}
