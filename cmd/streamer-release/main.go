package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/omer-dayan/runai-model-streamer/pkg/artifacts"
	"github.com/omer-dayan/runai-model-streamer/pkg/assemble"
	"github.com/omer-dayan/runai-model-streamer/pkg/build"
	"github.com/omer-dayan/runai-model-streamer/pkg/config"
	"github.com/omer-dayan/runai-model-streamer/pkg/observe"
	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
	"github.com/omer-dayan/runai-model-streamer/pkg/publish"
	"github.com/omer-dayan/runai-model-streamer/pkg/release"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "build":
		return runBuildCmd(args[2:], stdout, stderr)
	case "package":
		return runPackageCmd(args[2:], stdout, stderr)
	case "release":
		return runReleaseCmd(args[2:], stdout, stderr)
	case "rollback":
		return runRollbackCmd(args[2:], stdout, stderr)
	case "ledger":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: streamer-release ledger <verify|list>")
			return 2
		}
		return runLedgerCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "streamer-release: native library build and publish pipeline")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  streamer-release <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "PIPELINE:")
	printCommand(w, "build", "Compile native libraries for the platform matrix")
	printCommand(w, "package", "Assemble and validate packages from staged artifacts")
	printCommand(w, "release", "Run the full pipeline: build, package, publish")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "PUBLISH MANAGEMENT:")
	printCommand(w, "rollback", "Yank one platform's published version (--platform, --version)")
	printCommand(w, "ledger", "Inspect the publish ledger (verify/list)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "UTILITIES:")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-12s %s\n", name, desc)
}

// signalContext cancels on SIGINT/SIGTERM so running builds can finish
// and nothing half-done gets published.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loadConfig(fs *flag.FlagSet, args []string, stderr io.Writer) (*config.Config, int) {
	configPath := fs.String("config", "release.yaml", "Path to the release configuration")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 2
	}
	setupLogger(cfg.LogLevel, stderr)
	return cfg, 0
}

func setupLogger(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func parsePlatforms(specs []string) ([]platform.Tag, error) {
	tags := make([]platform.Tag, 0, len(specs))
	for _, spec := range specs {
		tag, err := platform.ParseTag(spec)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// openLedger picks the publish ledger backend from the config: an
// in-memory hash chain when no driver is set, SQLite or Postgres
// through database/sql otherwise.
func openLedger(ctx context.Context, cfg *config.Config) (publish.Ledger, func(), error) {
	if cfg.Ledger.Driver == "" {
		return publish.NewChainLedger(), func() {}, nil
	}

	db, err := sql.Open(cfg.Ledger.Driver, cfg.Ledger.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ledger database ping failed: %w", err)
	}

	ledger := publish.NewSQLLedger(db)
	if err := ledger.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return ledger, func() { _ = db.Close() }, nil
}

func newCoordinator(ctx context.Context, cfg *config.Config) (*build.Coordinator, artifacts.Store, error) {
	store, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init artifact store: %w", err)
	}
	timeout, err := cfg.BuildTimeout()
	if err != nil {
		return nil, nil, err
	}
	compiler := &build.ExecCompiler{
		Command:   cfg.Toolchain.Command,
		Args:      cfg.Toolchain.Args,
		OutputDir: cfg.Toolchain.OutputDir,
	}
	return build.NewCoordinator(compiler, store, timeout), store, nil
}

func newAssembler(cfg *config.Config) *assemble.Assembler {
	repairer := &assemble.ExecRepairer{
		LinuxCommand: cfg.Repair.LinuxCommand,
		MacOSCommand: cfg.Repair.MacOSCommand,
	}
	return assemble.NewAssembler(repairer, nil, cfg.WorkDir)
}

// newObserver enables telemetry only when an OTLP endpoint is present
// in the environment; CI runs without one stay silent.
func newObserver(ctx context.Context) (*observe.Provider, error) {
	obsCfg := observe.DefaultConfig()
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		obsCfg.Enabled = true
		obsCfg.OTLPEndpoint = ep
		obsCfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	return observe.New(ctx, obsCfg)
}

func runBuildCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	cfg, code := loadConfig(fs, args, stderr)
	if cfg == nil {
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()

	manifest, err := assemble.LoadManifest(cfg.ManifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	tags, err := parsePlatforms(cfg.Platforms)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	expanded, err := platform.ExpandMatrix(tags)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	coordinator, _, err := newCoordinator(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	jobs := coordinator.BuildAll(ctx, expanded, manifest.Libraries)
	failed := 0
	for i, job := range jobs {
		if job.Status == build.StatusSucceeded {
			fmt.Fprintf(stdout, "%-20s %s\n", expanded[i], job.Status)
			continue
		}
		failed++
		fmt.Fprintf(stderr, "%-20s %s: %v\n", expanded[i], job.Status, job.Err)
	}
	if failed > 0 {
		fmt.Fprintf(stderr, "%d of %d platforms failed\n", failed, len(expanded))
		return 1
	}
	return 0
}

func runPackageCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("package", flag.ContinueOnError)
	cfg, code := loadConfig(fs, args, stderr)
	if cfg == nil {
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()

	manifest, err := assemble.LoadManifest(cfg.ManifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	tags, err := parsePlatforms(cfg.Platforms)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	expanded, err := platform.ExpandMatrix(tags)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	store, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	results := newAssembler(cfg).AssembleAll(ctx, expanded, manifest, store)
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			fmt.Fprintf(stderr, "%-20s failed: %v\n", result.Platform, result.Err)
			continue
		}
		name, _ := result.Package.FileName()
		fmt.Fprintf(stdout, "%-20s %s\n", result.Platform, name)
	}
	if failed > 0 {
		fmt.Fprintf(stderr, "%d of %d platforms failed\n", failed, len(expanded))
		return 1
	}
	return 0
}

func runReleaseCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("release", flag.ContinueOnError)
	cfg, code := loadConfig(fs, args, stderr)
	if cfg == nil {
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()

	manifest, err := assemble.LoadManifest(cfg.ManifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	tags, err := parsePlatforms(cfg.Platforms)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	coordinator, store, err := newCoordinator(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeLedger()

	index, err := publish.NewS3Index(ctx, publish.S3IndexConfig{
		Bucket:    cfg.Index.Bucket,
		Region:    cfg.Index.Region,
		Endpoint:  cfg.Index.Endpoint,
		Prefix:    cfg.Index.Prefix,
		UploadRPS: cfg.Index.UploadRPS,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	obs, err := newObserver(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	runner := release.NewRunner(
		coordinator,
		newAssembler(cfg),
		publish.NewManager(ledger, index),
		store,
		obs,
		cfg.StatePath,
	)

	report, err := runner.Run(ctx, tags, manifest)
	if report != nil {
		for _, p := range report.FailedPlatforms() {
			fmt.Fprintf(stderr, "%-20s failed in %s: %v\n", p.Platform, p.Phase, p.Err)
		}
		for _, r := range report.Records {
			fmt.Fprintf(stdout, "%-20s published %s %s (%s)\n", r.Platform, r.PackageName, r.Version, r.ID)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Release failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Release %s complete: %d platforms published\n", report.RunID, len(report.Records))
	return 0
}

func runRollbackCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	platformSpec := fs.String("platform", "", "Platform to yank, e.g. linux/x86_64 (REQUIRED)")
	version := fs.String("version", "", "Published version to yank (REQUIRED)")
	cfg, code := loadConfig(fs, args, stderr)
	if cfg == nil {
		return code
	}
	if *platformSpec == "" || *version == "" {
		fmt.Fprintln(stderr, "Error: --platform and --version are required")
		fs.Usage()
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	tag, err := platform.ParseTag(*platformSpec)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeLedger()

	index, err := publish.NewS3Index(ctx, publish.S3IndexConfig{
		Bucket:    cfg.Index.Bucket,
		Region:    cfg.Index.Region,
		Endpoint:  cfg.Index.Endpoint,
		Prefix:    cfg.Index.Prefix,
		UploadRPS: cfg.Index.UploadRPS,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	record, err := publish.NewManager(ledger, index).Rollback(ctx, tag, *version)
	if err != nil {
		fmt.Fprintf(stderr, "Rollback failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Yanked %s %s on %s (record %s)\n", record.PackageName, record.Version, record.Platform, record.ID)
	return 0
}

func runLedgerCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	fs := flag.NewFlagSet("ledger "+sub, flag.ContinueOnError)
	cfg, code := loadConfig(fs, args[1:], stderr)
	if cfg == nil {
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()

	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeLedger()

	records, err := ledger.Records(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch sub {
	case "list":
		for _, r := range records {
			fmt.Fprintf(stdout, "%s  %-20s %-10s %-7s %s\n",
				r.PublishedAt.Format("2006-01-02T15:04:05Z"), r.Platform, r.Version, r.Status, r.ID)
		}
		return 0
	case "verify":
		if problems := verifyHistory(records); len(problems) > 0 {
			for _, p := range problems {
				fmt.Fprintln(stderr, p)
			}
			return 1
		}
		fmt.Fprintf(stdout, "Ledger OK: %d records\n", len(records))
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown ledger subcommand: %s\n", sub)
		return 2
	}
}

// verifyHistory checks the append-only invariants the ledger must
// uphold: unique record IDs, and every yank preceded by a live record
// for the same platform and version.
func verifyHistory(records []publish.Record) []string {
	var problems []string
	seen := make(map[string]bool, len(records))
	live := make(map[string]bool)

	for i, r := range records {
		if r.ID == "" {
			problems = append(problems, fmt.Sprintf("record %d has no ID", i))
			continue
		}
		if seen[r.ID] {
			problems = append(problems, fmt.Sprintf("duplicate record ID %s", r.ID))
		}
		seen[r.ID] = true

		key := r.Platform + "@" + r.Version
		switch r.Status {
		case publish.StatusLive:
			live[key] = true
		case publish.StatusYanked:
			if !live[key] {
				problems = append(problems, fmt.Sprintf("yank of %s without a prior live record", key))
			}
			live[key] = false
		default:
			problems = append(problems, fmt.Sprintf("record %s has unknown status %q", r.ID, r.Status))
		}
	}
	return problems
}
