package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cloud-Foundations/abupdate/lib/attempter"
	liblog "github.com/Cloud-Foundations/abupdate/lib/log"
	"github.com/Cloud-Foundations/abupdate/lib/policy"
	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/lib/sign"
	"github.com/Cloud-Foundations/abupdate/lib/statusserver"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the update-engine daemon loop",
	RunE:  runRun,
}

// runRun ticks CheckAndApply on cfg.CheckIntervalSecs and serves the
// read-only status surface, shutting down cleanly on SIGINT/SIGTERM, the
// way LanternOps-breeze's runAgent() drives its own poll loop.
func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	hal, err := resolveHAL(cfg)
	if err != nil {
		return fmt.Errorf("update-engine: resolving boot-slot HAL: %w", err)
	}
	store, err := prefs.Open(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("update-engine: opening state dir %s: %w", cfg.StateDir, err)
	}
	if err := reconcileReboot(store); err != nil {
		fmt.Fprintf(os.Stderr, "update-engine: reconciling reboot bookkeeping: %v\n", err)
	}

	var certBundle *sign.CertificateBundle
	if cfg.CertBundlePath != "" {
		data, err := os.ReadFile(cfg.CertBundlePath)
		if err != nil {
			return fmt.Errorf("update-engine: reading cert bundle: %w", err)
		}
		certBundle, err = sign.LoadCertificateBundle(data)
		if err != nil {
			return fmt.Errorf("update-engine: loading cert bundle: %w", err)
		}
	}

	logger := liblog.New(log.New(os.Stderr, "update-engine: ", log.LstdFlags), 0)
	check := newFileCheckCollaborator(cfg.InstallPlanPath)
	newPipe := newPipelineFactory(hal, store, certBundle, logger)
	a := attempter.New(hal, store, check, newPipe, nil, logger)

	srv := statusserver.New(a, hal, cfg.ListenAddress)
	go func() {
		if err := srv.Serve(); err != nil {
			fmt.Fprintf(os.Stderr, "update-engine: status server: %v\n", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "update-engine: shutting down")
		cancel()
		a.Cancel()
	}()

	scheduler := newReevalScheduler(time.Duration(cfg.ExpirationTimeoutMs) * time.Millisecond)
	reevalCh := make(chan struct{}, 1)
	if cfg.PolicyFilePath != "" {
		watcher, err := prefs.WatchPolicyFile(cfg.PolicyFilePath, logger, func() {
			select {
			case reevalCh <- struct{}{}:
			default:
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "update-engine: watching device policy file: %v\n", err)
		} else {
			defer watcher.Close()
		}
	}

	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, a, cfg, store, scheduler)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		case <-ticker.C:
			runOnce(ctx, a, cfg, store, scheduler)
		case <-reevalCh:
			if scheduler.shouldReevaluate(time.Now()) {
				runOnce(ctx, a, cfg, store, scheduler)
			}
		}
	}
}

// runOnce drives one check/apply attempt. Before calling CheckAndApply
// it probes all three canonical composites itself (each timed against
// cfg's evaluation_timeout_ms budget, which is logged on overrun but not
// enforced), purely so scheduler can learn which
// Vars this cycle consulted (spec.md sec.4.5's re-evaluation-trigger
// rule). update_can_be_applied/update_can_start run ahead of a resolved
// plan here, since MinimumVersionCheck/DisallowedTimeIntervals/
// BackoffGate already read their Vars unconditionally (absent an
// interactive request) regardless of plan-specific fields like
// TargetVersion. CheckAndApply then runs its own evaluation of the same
// ctxPolicy as usual; this probe never gates the attempt.
func runOnce(ctx context.Context, a *attempter.Attempter, cfg *config, store *prefs.Store, scheduler *reevalScheduler) {
	polCtx, err := buildPolicyContext(cfg, store, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "update-engine: building policy context: %v\n", err)
		return
	}
	budget := time.Duration(cfg.EvaluationTimeoutMs) * time.Millisecond
	checkDecision := evaluateWithTimeout(policy.UpdateCheckAllowed, polCtx, budget)
	applyDecision := evaluateWithTimeout(policy.UpdateCanBeApplied, polCtx, budget)
	startDecision := evaluateWithTimeout(policy.UpdateCanStart, polCtx, budget)
	scheduler.record(anyDeferred(checkDecision, applyDecision, startDecision), polCtx, time.Now())

	if err := a.CheckAndApply(ctx, polCtx); err != nil {
		fmt.Fprintf(os.Stderr, "update-engine: check failed: %v\n", err)
	}
}
