package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/ux-auditor/internal/server"
)

var (
	widgetSiteID  string
	widgetOrigins []string
	widgetTTL     time.Duration
)

var widgetKeyCmd = &cobra.Command{
	Use:   "widget-key",
	Short: "Issue an embeddable widget key",
	Long: `Sign a widget key for a site. The key authorizes POST /widget/audit from the listed
origins until it expires. Requires widget.secret (UXA_WIDGET_SECRET).`,
	Example: `  ux_auditor widget-key --site acme --origin https://acme.example.com --ttl 720h`,
	RunE:    runWidgetKey,
}

func init() {
	widgetKeyCmd.Flags().StringVar(&widgetSiteID, "site", "", "Site identifier embedded in the key")
	widgetKeyCmd.Flags().StringArrayVar(&widgetOrigins, "origin", nil, "Allowed origin (repeatable)")
	widgetKeyCmd.Flags().DurationVar(&widgetTTL, "ttl", 0, "Key lifetime (defaults to widget.key_ttl)")
	_ = widgetKeyCmd.MarkFlagRequired("site")
	_ = widgetKeyCmd.MarkFlagRequired("origin")
	rootCmd.AddCommand(widgetKeyCmd)
}

func runWidgetKey(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Widget.Enabled() {
		return fmt.Errorf("widget.secret is not configured")
	}
	key, err := server.NewWidgetKeyService(cfg.Widget).GenerateKey(widgetSiteID, widgetOrigins, widgetTTL)
	if err != nil {
		return fmt.Errorf("failed to generate widget key: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}
