// Package phones turns free-form recipient input into an ordered dispatch list.
package phones

import (
	"regexp"
	"strings"
)

// MaxPerCampaign is the upper bound of recipients accepted for one campaign.
const MaxPerCampaign = 1000

// CSVTemplate is the sample file offered to operators. The header line is not
// a valid phone and is dropped by Extract.
const CSVTemplate = "telefone\n11999999999\n11988888888\n11977777777"

var (
	separators = regexp.MustCompile(`\r?\n|,|;`)
	validPhone = regexp.MustCompile(`^\d{10,15}(@s\.whatsapp\.net)?$`)
)

// Extract splits raw on newlines, commas and semicolons, trims each token and
// keeps the ones that look like phone numbers. Order is preserved and duplicates
// are kept.
func Extract(raw string) []string {
	tokens := separators.Split(raw, -1)

	result := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if validPhone.MatchString(tok) {
			result = append(result, tok)
		}
	}
	return result
}

// Valid reports whether a single token is an acceptable phone.
func Valid(phone string) bool {
	return validPhone.MatchString(phone)
}
