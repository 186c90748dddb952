package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"locker-kiosk-backend/internal/hardware"
	"locker-kiosk-backend/internal/locker"
	"locker-kiosk-backend/internal/store"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile once and print the locker table as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
		}
		defer st.Close()

		table := locker.NewTable(st, hardware.NewClient(cfg.Hardware))
		defer table.Close()

		result, err := table.Reconcile(context.Background())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}
