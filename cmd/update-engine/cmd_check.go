package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/Cloud-Foundations/abupdate/lib/attempter"
	liblog "github.com/Cloud-Foundations/abupdate/lib/log"
	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/lib/sign"
)

var checkInteractive bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Force a single update check and apply it if one is available",
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkInteractive, "interactive", true, "mark this check as user-initiated")
}

func runCheck(cmd *cobra.Command, args []string) error {
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

	polCtx, err := buildPolicyContext(cfg, store, checkInteractive)
	if err != nil {
		return err
	}
	err = a.CheckAndApply(context.Background(), polCtx)
	status := a.Status()
	fmt.Printf("state: %s\n", status.State)
	if status.NewVersion != "" {
		fmt.Printf("new version: %s\n", status.NewVersion)
	}
	if err != nil {
		if errors.Is(err, attempter.ErrAlreadyRunning) {
			return err
		}
		return fmt.Errorf("update-engine: check failed: %w", err)
	}
	return nil
}
