package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/campaign"
	"github.com/foxzi/wacampaign/internal/models"
)

var (
	dispatchName       string
	dispatchMessage    string
	dispatchInstance   string
	dispatchSendType   string
	dispatchImageURL   string
	dispatchDelay      int
	dispatchPhones     string
	dispatchPhonesFile string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Validate a campaign and hand it to the automation engine",
	Long: `Validates a campaign, stores it and posts it to the campaign dispatch
webhook. In intent mode the outbox is locked by a running server; send the
campaign through POST /api/v1/campaigns instead.`,
	Example: `  wacampaign dispatch --name launch --instance main --message "Hello" --phones 11999999999,11988888888
  wacampaign dispatch --name promo --instance main --type image --image-url https://example.com/a.png --phones-file phones.csv`,
	RunE: runDispatch,
}

func init() {
	f := dispatchCmd.Flags()
	f.StringVar(&dispatchName, "name", "", "Campaign name")
	f.StringVar(&dispatchMessage, "message", "", "Message body")
	f.StringVar(&dispatchInstance, "instance", "", "Instance that sends the campaign")
	f.StringVar(&dispatchSendType, "type", string(models.SendTypeText), "Send type (text, image, image_text)")
	f.StringVar(&dispatchImageURL, "image-url", "", "Image URL for image sends")
	f.IntVar(&dispatchDelay, "delay", models.DefaultDelaySeconds, "Delay between messages in seconds")
	f.StringVar(&dispatchPhones, "phones", "", "Recipients separated by newlines, commas or semicolons")
	f.StringVar(&dispatchPhonesFile, "phones-file", "", "CSV file with recipients, replaces --phones")

	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	raw := dispatchPhones
	if dispatchPhonesFile != "" {
		if !strings.EqualFold(filepath.Ext(dispatchPhonesFile), ".csv") {
			return fmt.Errorf("phones file must be a .csv file")
		}
		data, err := os.ReadFile(dispatchPhonesFile)
		if err != nil {
			return fmt.Errorf("failed to read phones file: %w", err)
		}
		raw = string(data)
	}

	draft := &models.CampaignDraft{
		Name:         dispatchName,
		Message:      dispatchMessage,
		InstanceName: dispatchInstance,
		SendType:     models.SendType(dispatchSendType),
		ImageURL:     dispatchImageURL,
		DelaySeconds: dispatchDelay,
		RawPhones:    raw,
	}

	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	c, err := application.Dispatcher().Dispatch(ctx, draft)
	if err != nil {
		return describeError("dispatch failed", err)
	}

	fmt.Printf("Campaign dispatched: %s\n", c.ID)
	fmt.Printf("  Name:       %s\n", c.Name)
	fmt.Printf("  Instance:   %s\n", c.InstanceName)
	fmt.Printf("  Send type:  %s\n", c.SendType)
	fmt.Printf("  Recipients: %d\n", c.PhoneCount)
	fmt.Printf("  Delay:      %ds\n", c.DelaySeconds)
	fmt.Printf("  Status:     %s\n", c.Status)

	return nil
}

// describeError turns an operation error into a one-line message for the
// terminal, keeping the dispatch leg when there is one
func describeError(prefix string, err error) error {
	res := apperrors.Describe(err)

	msg := fmt.Sprintf("%s: %s", prefix, res.Message)
	if res.Reason != "" {
		msg += fmt.Sprintf(" (%s)", res.Reason)
	}

	var de *campaign.DispatchError
	if errors.As(err, &de) {
		msg += fmt.Sprintf(" [leg=%s campaign=%s]", de.Leg, de.CampaignID)
	}
	return errors.New(msg)
}
