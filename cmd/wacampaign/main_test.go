package main

import (
	"strings"
	"testing"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/campaign"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in       string
		n        int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly8", 8, "exactly8"},
		{"a-much-longer-name", 8, "a-mu..."},
		{"abcdef", 2, "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.expected)
			}
		})
	}
}

func TestDescribeErrorValidation(t *testing.T) {
	err := describeError("dispatch failed", apperrors.NewValidation(apperrors.ReasonPhonesRequired))

	msg := err.Error()
	if !strings.HasPrefix(msg, "dispatch failed: ") {
		t.Errorf("message %q should start with the prefix", msg)
	}
	if !strings.Contains(msg, string(apperrors.ReasonPhonesRequired)) {
		t.Errorf("message %q should name the reason", msg)
	}
}

func TestDescribeErrorDispatchLeg(t *testing.T) {
	de := &campaign.DispatchError{
		Leg:        campaign.LegGateway,
		CampaignID: "c-1",
		Gateway:    &apperrors.GatewayError{Call: "campaign_dispatch", StatusCode: 500, Message: "boom"},
	}

	msg := describeError("dispatch failed", de).Error()
	if !strings.Contains(msg, "leg=gateway") || !strings.Contains(msg, "campaign=c-1") {
		t.Errorf("message %q should carry leg and campaign id", msg)
	}
}

func TestCampaignFilter(t *testing.T) {
	defer func() { campaignSendType = "" }()

	campaignSendType = "image"
	filter, err := campaignFilter()
	if err != nil {
		t.Fatalf("campaignFilter failed: %v", err)
	}
	if filter.SendType != "image" {
		t.Errorf("send type = %q, want image", filter.SendType)
	}

	campaignSendType = "video"
	if _, err := campaignFilter(); err == nil {
		t.Error("expected error for unknown send type")
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	old := cfgFile
	defer func() { cfgFile = old }()

	cfgFile = ""
	if _, err := loadConfig(); err == nil {
		t.Error("expected error without a config path")
	}
}
