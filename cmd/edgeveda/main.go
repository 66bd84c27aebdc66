// Command edgeveda is an operator CLI exercising the core runtime module
// end to end outside of a mobile host app: it validates a model registry
// file, ranks registry candidates for a device profile and use case via
// the model advisor, runs a scheduler dry-run against a synthetic
// telemetry source, and fetches a model blob through the resumable
// downloader.
//
// Grounded on cmd/glyphoxa/main.go's flag-based entrypoint,
// signal.NotifyContext shutdown, ASCII startup-summary box, and
// subcommand dispatch shape from the teacher, generalized from a single
// long-running server process to a handful of short-lived operator
// subcommands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edge-veda/runtime/internal/advisor"
	"github.com/edge-veda/runtime/internal/scheduler"
	"github.com/edge-veda/runtime/pkg/download"
	"github.com/edge-veda/runtime/pkg/model"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(args) == 0 {
		usage()
		return 1
	}

	var err error
	switch args[0] {
	case "validate":
		err = runValidate(args[1:])
	case "recommend":
		err = runRecommend(args[1:])
	case "dryrun":
		err = runDryRun(args[1:])
	case "fetch":
		err = runFetch(args[1:])
	default:
		usage()
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgeveda: %v\n", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: edgeveda <command> [flags]

commands:
  validate  -registry FILE
  recommend -registry FILE -usecase NAME -ram MIB [-chip FLOAT] [-context N]
  dryrun    -seconds N [-profile conservative|balanced|aggressive]
  fetch     -url URL -dest PATH [-sha256 HEX]`)
}

// ── validate ─────────────────────────────────────────────────────────────────

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	registryPath := fs.String("registry", "", "path to the YAML model registry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *registryPath == "" {
		return errors.New("validate: -registry is required")
	}

	reg, err := model.LoadRegistry(*registryPath)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	descriptors := reg.All()
	slog.Info("registry loaded", "path", *registryPath, "models", len(descriptors))
	printRegistrySummary(descriptors)
	return nil
}

func printRegistrySummary(descriptors []model.Descriptor) {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║            edgeveda — registry summary                ║")
	fmt.Println("╠══════════════════════════════════════════════════════╣")
	for _, d := range descriptors {
		sizeMiB := float64(d.SizeBytes) / (1024 * 1024)
		fmt.Printf("║  %-20s %6.0f MiB  %-10s ║\n", truncate(d.ID, 20), sizeMiB, d.Family)
	}
	fmt.Printf("║  total models: %-39d ║\n", len(descriptors))
	fmt.Println("╚══════════════════════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// ── recommend ────────────────────────────────────────────────────────────────

func runRecommend(args []string) error {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	registryPath := fs.String("registry", "", "path to the YAML model registry")
	useCase := fs.String("usecase", "chat", "chat|reasoning|tool-calling|vision|stt|embedding|fast")
	ramMiB := fs.Float64("ram", 4096, "device total RAM in MiB")
	chipMultiplier := fs.Float64("chip", 1.0, "device decode-speed class, 1.0 = baseline")
	targetContext := fs.Int("context", 4096, "target context length in tokens")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *registryPath == "" {
		return errors.New("recommend: -registry is required")
	}

	reg, err := model.LoadRegistry(*registryPath)
	if err != nil {
		return fmt.Errorf("recommend: %w", err)
	}

	profile := advisor.DeviceProfile{TotalRAMMiB: *ramMiB, ChipMultiplier: *chipMultiplier}
	req := advisor.Request{
		UseCase:             advisor.UseCase(*useCase),
		TargetContextTokens: *targetContext,
		KVQuantKey:          "F16",
		KVQuantValue:        "F16",
	}

	candidates, err := advisor.Recommend(reg.All(), profile, req)
	if err != nil {
		return fmt.Errorf("recommend: %w", err)
	}

	best, ok := advisor.BestFit(candidates)
	printCandidates(candidates, best, ok)
	return nil
}

func printCandidates(candidates []advisor.Candidate, best advisor.Candidate, hasBest bool) {
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║  rank  model                   fit score  final  mem MiB  fits?   ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	for i, c := range candidates {
		marker := " "
		if hasBest && c.Descriptor.ID == best.Descriptor.ID {
			marker = "*"
		}
		fmt.Printf("║ %s%3d  %-22s  %5.0f  %5.1f  %8.0f  %-6v ║\n",
			marker, i+1, truncate(c.Descriptor.ID, 22), c.Score.Fit, c.Score.Final, c.Memory.TotalMiB, c.Fits)
	}
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	if hasBest {
		fmt.Printf("recommended: %s\n", best.Descriptor.ID)
	} else {
		fmt.Println("recommended: none of the candidates fit this device's safe budget")
	}
}

// ── dryrun ───────────────────────────────────────────────────────────────────

func runDryRun(args []string) error {
	fs := flag.NewFlagSet("dryrun", flag.ExitOnError)
	seconds := fs.Int("seconds", 20, "how long to run the scheduler tick loop")
	profileName := fs.String("profile", "balanced", "conservative|balanced|aggressive")
	if err := fs.Parse(args); err != nil {
		return err
	}

	budget := scheduler.NewAdaptiveBudget(scheduler.Profile(*profileName))
	src := newDegradingTelemetry()
	sched := scheduler.New(src, nil, budget)

	sched.RegisterWorkload(scheduler.WorkloadText, scheduler.PriorityHigh)
	sched.RegisterWorkload(scheduler.WorkloadVision, scheduler.PriorityMedium)
	sched.RegisterWorkload(scheduler.WorkloadEmbedding, scheduler.PriorityLow)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(*seconds)*time.Second)
	defer cancel()

	slog.Info("dry-run started", "profile", *profileName, "seconds", *seconds)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-sched.Violations():
				if !ok {
					return
				}
				slog.Warn("violation", "constraint", v.Constraint, "kind", v.Kind, "current", v.Current, "budget", v.Budget)
			}
		}
	}()

	sched.Run(ctx)

	for _, id := range []scheduler.WorkloadID{scheduler.WorkloadText, scheduler.WorkloadVision, scheduler.WorkloadEmbedding} {
		slog.Info("final QoS level", "workload", id, "level", sched.LevelFor(id).String())
	}
	return nil
}

// degradingTelemetry synthesizes a device that grows hotter and loses
// battery over time, standing in for the platform-specific
// scheduler.TelemetrySource adapters this module intentionally does not
// ship (spec.md's Non-goals exclude OS/platform bridge code).
type degradingTelemetry struct {
	start time.Time
}

func newDegradingTelemetry() *degradingTelemetry {
	return &degradingTelemetry{start: time.Now()}
}

func (t *degradingTelemetry) Sample() scheduler.TelemetrySample {
	elapsed := time.Since(t.start)
	thermal := int(elapsed / (5 * time.Second))
	if thermal > 3 {
		thermal = 3
	}
	battery := 100 - elapsed.Seconds()*0.5
	if battery < 0 {
		battery = 0
	}
	return scheduler.TelemetrySample{
		ThermalIndex:   thermal,
		BatteryPercent: battery,
		RSSBytes:       512 * 1024 * 1024,
		AvailableBytes: 2048 * 1024 * 1024,
		LowPower:       false,
	}
}

// ── fetch ────────────────────────────────────────────────────────────────────

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	url := fs.String("url", "", "source URL")
	dest := fs.String("dest", "", "destination path")
	sha256hex := fs.String("sha256", "", "expected SHA-256 checksum (hex), optional")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" || *dest == "" {
		return errors.New("fetch: -url and -dest are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var lastPct int
	opts := download.Options{
		URL:      *url,
		DestPath: *dest,
		SHA256:   *sha256hex,
		OnProgress: func(p download.Progress) {
			if p.TotalBytes <= 0 {
				return
			}
			pct := int(100 * p.DownloadedBytes / p.TotalBytes)
			if pct != lastPct {
				lastPct = pct
				slog.Info("downloading", "percent", pct, "bps", p.BytesPerSecond, "eta", p.ETA)
			}
		},
	}

	if err := download.Fetch(ctx, http.DefaultClient, opts); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	slog.Info("fetch complete", "dest", *dest)
	return nil
}
