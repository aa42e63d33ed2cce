package dlp

import "strings"

var bankContextKeywords = []string{"account", "bank", "acc", "a/c"}

// Score returns the likelihood in [0,1] that value is a genuine identifier of
// type t. context is the surrounding text of the field; only bank account
// scoring reads it.
func Score(t PIIType, value, context string) float64 {
	switch t {
	case PIITypeCreditCard:
		if Luhn(value) {
			return 0.95
		}
		return 0.3

	case PIITypeAadhaar:
		digits := digitsOnly(value)
		if len(digits) != 12 {
			return 0.3
		}
		if Verhoeff(digits) {
			return 0.95
		}
		return 0.7

	case PIITypePhone:
		if ValidPhone(value) {
			return 0.9
		}
		return 0.4

	case PIITypeIFSC:
		if ValidIFSC(value) {
			return 0.95
		}
		return 0.5

	case PIITypeBankAccount:
		n := len(digitsOnly(value))
		if n < 9 || n > 18 {
			return 0.3
		}
		lower := strings.ToLower(context)
		for _, kw := range bankContextKeywords {
			if strings.Contains(lower, kw) {
				return 0.8
			}
		}
		return 0.6

	case PIITypeVoterID:
		if ValidVoterID(value) {
			return 0.9
		}
		return 0.4

	case PIITypeDrivingLicense:
		if ValidDrivingLicense(value) {
			return 0.9
		}
		return 0.4

	case PIITypeIPAddress:
		if ValidIP(value) {
			return 0.95
		}
		return 0.5

	case PIITypeDOB:
		if ValidDOB(value) {
			return 0.8
		}
		return 0.3

	case PIITypeMedicalID:
		if ValidMedicalID(value) {
			return 0.7
		}
		return 0.3
	}

	// PAN and email: the pattern already is the full structural check.
	return 1.0
}
