package dlp

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Filler replaces masked digits.
const Filler = 'X'

// Mask returns the deterministic replacement for a raw value of type t.
// Tokenized types never contain the raw value; masked types keep every
// non-digit character at its original position.
func Mask(t PIIType, raw string) string {
	switch t {
	case PIITypeCreditCard:
		return maskDigits(raw, 13, 4)
	case PIITypePhone:
		return maskDigits(raw, 10, 4)
	case PIITypeAadhaar:
		return maskAadhaar(raw)
	case PIITypePAN:
		return "PAN_" + token(raw, 10)
	case PIITypeEmail:
		return maskEmail(raw)
	case PIITypeIFSC:
		return maskIFSC(raw)
	case PIITypeBankAccount:
		return "ACCT_" + token(raw, 12)
	case PIITypeVoterID:
		return maskVoterID(raw)
	case PIITypeDrivingLicense:
		return maskDrivingLicense(raw)
	case PIITypeIPAddress:
		return maskIP(raw)
	case PIITypeDOB:
		return maskDOB(raw)
	case PIITypeMedicalID:
		return "MED" + token(raw, 8)
	default:
		return strings.Repeat(string(Filler), len(raw))
	}
}

// maskDigits blanks all but the last keep digits and leaves separators alone.
// Values with fewer than minDigits digits are returned unchanged.
func maskDigits(raw string, minDigits, keep int) string {
	total := len(digitsOnly(raw))
	if total < minDigits {
		return raw
	}

	out := []byte(raw)
	seen := 0
	for i := 0; i < len(out); i++ {
		if out[i] < '0' || out[i] > '9' {
			continue
		}
		if seen < total-keep {
			out[i] = Filler
		}
		seen++
	}
	return string(out)
}

// maskAadhaar keeps the first and last four digits. Spaced input keeps the
// dddd XXXX dddd grouping.
func maskAadhaar(raw string) string {
	digits := digitsOnly(raw)
	if len(digits) != 12 {
		return raw
	}
	if strings.Contains(raw, " ") {
		return digits[:4] + " XXXX " + digits[8:]
	}
	return digits[:4] + "XXXX" + digits[8:]
}

func maskEmail(raw string) string {
	_, domain, ok := strings.Cut(raw, "@")
	if !ok {
		return "xxxx@"
	}
	return "xxxx@" + domain
}

// maskIFSC keeps the 4-letter bank code and tokenizes the branch.
func maskIFSC(raw string) string {
	code := raw
	if len(code) > 4 {
		code = code[:4]
	}
	return code + "0" + token(raw, 6)
}

func maskVoterID(raw string) string {
	if len(raw) < 6 {
		return strings.Repeat(string(Filler), len(raw))
	}
	return raw[:3] + "XXXX" + raw[len(raw)-3:]
}

func maskDrivingLicense(raw string) string {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return raw
	}
	return parts[0] + "/XXXXXX/" + parts[2]
}

func maskIP(raw string) string {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return raw
	}
	return parts[0] + "." + parts[1] + ".X.X"
}

func maskDOB(raw string) string {
	parts := strings.Split(raw, "/")
	return "XX/XX/" + parts[len(parts)-1]
}

// token derives a one-way uppercase hex token of length n from raw.
func token(raw string, n int) string {
	sum := sha256.Sum256([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:n])
}
