package campaign

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/models"
)

func validDraft() *models.CampaignDraft {
	return &models.CampaignDraft{
		Name:         "Promo",
		InstanceName: "loja1",
		SendType:     models.SendTypeText,
		Message:      "Hello",
		RawPhones:    "11999999999\n11988888888",
		DelaySeconds: 2,
	}
}

func manyPhones(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "1199999%04d\n", i)
	}
	return b.String()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *models.CampaignDraft)
		want   apperrors.Reason
	}{
		{"valid", func(d *models.CampaignDraft) {}, ""},
		{"missing instance", func(d *models.CampaignDraft) { d.InstanceName = "  " }, apperrors.ReasonInstanceNameRequired},
		{"missing name", func(d *models.CampaignDraft) { d.Name = "" }, apperrors.ReasonNameRequired},
		{"instance checked before name", func(d *models.CampaignDraft) { d.Name = ""; d.InstanceName = "" }, apperrors.ReasonInstanceNameRequired},
		{"unknown send type", func(d *models.CampaignDraft) { d.SendType = "video" }, apperrors.ReasonInvalidSendType},
		{"missing message", func(d *models.CampaignDraft) { d.Message = "" }, apperrors.ReasonMessageRequired},
		{"image without message", func(d *models.CampaignDraft) {
			d.SendType = models.SendTypeImage
			d.Message = ""
			d.ImageURL = "https://cdn.example.com/a.png"
		}, ""},
		{"image_text without message", func(d *models.CampaignDraft) {
			d.SendType = models.SendTypeImageText
			d.Message = ""
			d.ImageURL = "https://cdn.example.com/a.png"
		}, apperrors.ReasonMessageRequired},
		{"message of 1000 chars", func(d *models.CampaignDraft) { d.Message = strings.Repeat("a", 1000) }, ""},
		{"message of 1001 chars", func(d *models.CampaignDraft) { d.Message = strings.Repeat("a", 1001) }, apperrors.ReasonMessageTooLong},
		{"multibyte message counts characters", func(d *models.CampaignDraft) { d.Message = strings.Repeat("é", 1000) }, ""},
		{"zero delay", func(d *models.CampaignDraft) { d.DelaySeconds = 0 }, apperrors.ReasonInvalidDelay},
		{"too long checked before delay", func(d *models.CampaignDraft) {
			d.Message = strings.Repeat("a", 1001)
			d.DelaySeconds = 0
		}, apperrors.ReasonMessageTooLong},
		{"image_text without url", func(d *models.CampaignDraft) {
			d.SendType = models.SendTypeImageText
			d.ImageURL = ""
		}, apperrors.ReasonImageURLRequired},
		{"image without url", func(d *models.CampaignDraft) {
			d.SendType = models.SendTypeImage
			d.ImageURL = ""
		}, apperrors.ReasonImageURLRequired},
		{"no valid phones", func(d *models.CampaignDraft) { d.RawPhones = "abc, 123" }, apperrors.ReasonPhonesRequired},
		{"exactly 1000 phones", func(d *models.CampaignDraft) { d.RawPhones = manyPhones(1000) }, ""},
		{"1001 phones", func(d *models.CampaignDraft) { d.RawPhones = manyPhones(1001) }, apperrors.ReasonTooManyPhones},
		{"empty send type defaults to text", func(d *models.CampaignDraft) { d.SendType = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(d)

			list, err := Validate(d)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				if len(list) == 0 {
					t.Error("Validate() returned no phones")
				}
				return
			}

			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if ve.Reason != tt.want {
				t.Errorf("Reason = %v, want %v", ve.Reason, tt.want)
			}
		})
	}
}

func TestValidateNormalizesPhones(t *testing.T) {
	d := validDraft()
	d.RawPhones = "abc, 11999999999"

	list, err := Validate(d)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(list) != 1 || list[0] != "11999999999" {
		t.Errorf("phones = %v, want [11999999999]", list)
	}
}
