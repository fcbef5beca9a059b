package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Cloud-Foundations/abupdate/lib/prefs"
)

var dumpPlanCmd = &cobra.Command{
	Use:   "dump-plan",
	Short: "Print the configured install plan as YAML",
	RunE:  runDumpPlan,
}

func runDumpPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if cfg.InstallPlanPath == "" {
		return fmt.Errorf("update-engine: no install_plan_path configured")
	}
	data, err := os.ReadFile(cfg.InstallPlanPath)
	if err != nil {
		return fmt.Errorf("update-engine: reading install plan: %w", err)
	}
	var plan interface{}
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return fmt.Errorf("update-engine: parsing install plan: %w", err)
	}
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(plan)
}

// dumpPrefsKeys lists the keys of lib/prefs's closed Key enumeration
// except ManifestSnapshot, since Store itself exposes only per-key
// getters and no iteration method.
var dumpPrefsKeys = []prefs.Key{
	prefs.PreviousVersion,
	prefs.BootID,
	prefs.NumReboots,
	prefs.PayloadAttemptNumber,
	prefs.UpdateTimestampStart,
	prefs.SystemUpdatedMarker,
	prefs.CurrentBytesDownloaded,
	prefs.TotalBytesDownloaded,
	prefs.CurrentResponseSignature,
	prefs.ResumeOffset,
	prefs.ManifestMetadataSize,
	prefs.UpdateCompletedOnBootID,
	prefs.RollbackHappened,
	prefs.BackoffExpiry,
	prefs.ConsumerAutoUpdateDisable,
	prefs.ProgressCursor,
}

var dumpPrefsCmd = &cobra.Command{
	Use:   "dump-prefs",
	Short: "Print the known keys (all but the manifest snapshot) in the durable state store",
	RunE:  runDumpPrefs,
}

func runDumpPrefs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	store, err := prefs.Open(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("update-engine: opening state dir %s: %w", cfg.StateDir, err)
	}
	for _, key := range dumpPrefsKeys {
		if key == prefs.ProgressCursor {
			cursor, ok, err := loadCursor(store)
			if err != nil {
				return fmt.Errorf("update-engine: reading %s: %w", key, err)
			}
			if ok {
				fmt.Printf("%s = %+v\n", key, cursor)
			}
			continue
		}
		value, ok, err := store.GetString(key)
		if err != nil {
			return fmt.Errorf("update-engine: reading %s: %w", key, err)
		}
		if !ok {
			continue
		}
		fmt.Printf("%s = %s\n", key, value)
	}
	return nil
}
