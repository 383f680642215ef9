// Package campaign validates campaign drafts and dispatches them to the
// automation gateway and the state store.
package campaign

import (
	"strings"
	"unicode/utf8"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/phones"
)

// Validate checks a draft and returns its normalized phone list. Checks run in
// a fixed order and the first failure is returned. An empty send type is
// treated as text.
func Validate(draft *models.CampaignDraft) ([]string, error) {
	sendType := draft.SendType
	if sendType == "" {
		sendType = models.SendTypeText
	}

	switch {
	case strings.TrimSpace(draft.InstanceName) == "":
		return nil, apperrors.NewValidation(apperrors.ReasonInstanceNameRequired)
	case strings.TrimSpace(draft.Name) == "":
		return nil, apperrors.NewValidation(apperrors.ReasonNameRequired)
	case !sendType.Valid():
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidSendType)
	case sendType != models.SendTypeImage && strings.TrimSpace(draft.Message) == "":
		return nil, apperrors.NewValidation(apperrors.ReasonMessageRequired)
	case utf8.RuneCountInString(draft.Message) > models.MaxMessageLength:
		return nil, apperrors.NewValidation(apperrors.ReasonMessageTooLong)
	case draft.DelaySeconds < 1:
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidDelay)
	case sendType.HasImage() && strings.TrimSpace(draft.ImageURL) == "":
		return nil, apperrors.NewValidation(apperrors.ReasonImageURLRequired)
	}

	list := phones.Extract(draft.RawPhones)
	if len(list) == 0 {
		return nil, apperrors.NewValidation(apperrors.ReasonPhonesRequired)
	}
	if len(list) > phones.MaxPerCampaign {
		return nil, apperrors.NewValidation(apperrors.ReasonTooManyPhones)
	}

	return list, nil
}
