package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/wacampaign/internal/models"
)

var campaignSendType string

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign history commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored campaigns, newest first",
	RunE:  runCampaignList,
}

var campaignStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show campaign statistics",
	RunE:  runCampaignStats,
}

func init() {
	campaignCmd.PersistentFlags().StringVar(&campaignSendType, "type", "", "Filter by send type (text, image, image_text)")

	campaignCmd.AddCommand(campaignListCmd, campaignStatsCmd)
	rootCmd.AddCommand(campaignCmd)
}

func campaignFilter() (models.CampaignListFilter, error) {
	var filter models.CampaignListFilter
	if campaignSendType != "" {
		st := models.SendType(campaignSendType)
		if !st.Valid() {
			return filter, fmt.Errorf("invalid send type: %s", campaignSendType)
		}
		filter.SendType = st
	}
	return filter, nil
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	filter, err := campaignFilter()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	list, err := application.Campaigns().List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No campaigns")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tINSTANCE\tTYPE\tPHONES\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t----\t--------\t----\t------\t------\t-------")

	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncate(c.ID, 8),
			truncate(c.Name, 30),
			c.InstanceName,
			c.SendType,
			c.PhoneCount,
			c.Status,
			c.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d campaigns\n", len(list))

	return nil
}

func runCampaignStats(cmd *cobra.Command, args []string) error {
	filter, err := campaignFilter()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	stats, err := application.Campaigns().Stats(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Campaign Statistics")
	fmt.Println("===================")
	fmt.Printf("Total:      %d\n", stats.Total)
	fmt.Printf("Recipients: %d\n", stats.TotalPhones)
	if stats.LastCreated != nil {
		fmt.Printf("Last:       %s\n", stats.LastCreated.Format("2006-01-02 15:04"))
	}

	fmt.Println("\nBy send type:")
	for _, st := range []models.SendType{models.SendTypeText, models.SendTypeImage, models.SendTypeImageText} {
		fmt.Printf("  %-11s %d\n", st, stats.BySendType[st])
	}

	fmt.Println("\nBy status:")
	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("  %-11s %d\n", s, stats.ByStatus[models.CampaignStatus(s)])
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
