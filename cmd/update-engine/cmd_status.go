package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running update-engine daemon's status over HTTP",
	RunE:  runStatus,
}

type statusEnvelope struct {
	Type   string                 `json:"type"`
	Status int                    `json:"status-code"`
	Result map[string]interface{} `json:"result"`
	Error  string                 `json:"error"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + cfg.ListenAddress + "/v1/status")
	if err != nil {
		return fmt.Errorf("update-engine: querying status: %w", err)
	}
	defer resp.Body.Close()

	var envelope statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("update-engine: decoding status response: %w", err)
	}
	if envelope.Type == "error" {
		return fmt.Errorf("update-engine: daemon reported error: %s", envelope.Error)
	}
	for _, key := range []string{"state", "current-version", "new-version", "progress", "last-checked-at", "last-error", "consecutive-failures"} {
		if v, ok := envelope.Result[key]; ok {
			fmt.Printf("%s: %v\n", key, v)
		}
	}
	return nil
}
