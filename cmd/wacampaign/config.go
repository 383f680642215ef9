package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/wacampaign/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database: %s\n", cfg.Database.Driver)
	if cfg.Database.Driver == "sqlite3" {
		fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	}
	fmt.Printf("  Dispatch mode: %s\n", cfg.Dispatch.Mode)
	if cfg.Dispatch.Mode == config.DispatchIntent {
		fmt.Printf("  Outbox: %s\n", cfg.Dispatch.OutboxPath)
	}
	fmt.Printf("  Status poll: %s\n", cfg.Polling.StatusInterval)
	fmt.Printf("  QR poll: %s\n", cfg.Polling.QRInterval)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)
	fmt.Printf("  AMQP events: %v\n", cfg.Events.AMQPURL != "")

	fmt.Println("  Webhooks:")
	fmt.Printf("    - campaign dispatch:  %s\n", cfg.Webhooks.CampaignDispatch)
	fmt.Printf("    - create instance:    %s\n", cfg.Webhooks.CreateInstance)
	fmt.Printf("    - confirm connection: %s\n", cfg.Webhooks.ConfirmConnection)
	fmt.Printf("    - refresh qr code:    %s\n", cfg.Webhooks.RefreshQRCode)

	return nil
}
