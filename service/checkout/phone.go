package checkout

import (
	"strings"
)

const (
	kenyaCountryCode     = "254"
	subscriberNumberSize = 9
)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// ValidatePhone normalises a Safaricom M-Pesa number into the dialable 2547XXXXXXXX or
// 2541XXXXXXXX form. Accepted inputs are the local 07/01 forms, the bare nine digit
// subscriber number, and the 254 country code with or without a leading plus.
func ValidatePhone(raw string) (string, error) {
	cleaned := phoneSeparators.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return "", &ValidationError{Field: "phone", Reason: "Phone number is required"}
	}

	international := strings.HasPrefix(cleaned, "+")
	cleaned = strings.TrimPrefix(cleaned, "+")

	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", &ValidationError{Field: "phone", Reason: "Phone number may only contain digits"}
		}
	}

	var subscriber string
	switch {
	case strings.HasPrefix(cleaned, kenyaCountryCode):
		subscriber = strings.TrimPrefix(cleaned, kenyaCountryCode)
	case international:
		return "", &ValidationError{Field: "phone", Reason: "Only Kenyan numbers starting with +254 are supported"}
	case strings.HasPrefix(cleaned, "0"):
		subscriber = strings.TrimPrefix(cleaned, "0")
	default:
		subscriber = cleaned
	}

	if len(subscriber) != subscriberNumberSize {
		return "", &ValidationError{Field: "phone", Reason: "Enter a valid phone number, for example 0712 345 678"}
	}

	if subscriber[0] != '7' && subscriber[0] != '1' {
		return "", &ValidationError{Field: "phone", Reason: "Use an M-Pesa number starting with 07 or 01"}
	}

	return kenyaCountryCode + subscriber, nil
}
