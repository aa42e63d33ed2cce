package dlp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	verhoeffD = [10][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
		{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
		{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
		{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
		{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
		{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
		{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
		{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
		{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	}
	verhoeffP = [8][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
		{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
		{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
		{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
		{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
		{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
		{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
	}

	ifscExpr           = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	voterIDExpr        = regexp.MustCompile(`^[A-Z]{3}\d{7}$`)
	drivingLicenseExpr = regexp.MustCompile(`^[A-Z]{2}\d{2}/\d{6}/\d{4}$`)
	medicalIDExpr      = regexp.MustCompile(`^MED[A-Z0-9]{8}$`)
)

// Verhoeff reports whether num passes the Verhoeff checksum used by Aadhaar.
// Any non-digit character makes the number invalid.
func Verhoeff(num string) bool {
	if num == "" {
		return false
	}
	c := 0
	for i := 0; i < len(num); i++ {
		ch := num[len(num)-1-i]
		if ch < '0' || ch > '9' {
			return false
		}
		c = verhoeffD[c][verhoeffP[i%8][ch-'0']]
	}
	return c == 0
}

// Luhn reports whether number passes the mod-10 check. Separators are ignored
// and the number must carry 13 to 19 digits.
func Luhn(number string) bool {
	digits := digitsOnly(number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// ValidPhone checks for a 10-digit Indian mobile number starting with 6-9.
func ValidPhone(phone string) bool {
	digits := digitsOnly(phone)
	return len(digits) == 10 && strings.ContainsRune("6789", rune(digits[0]))
}

// ValidIFSC checks the IFSC layout: 4 letters, a literal 0, 6 alphanumerics.
func ValidIFSC(ifsc string) bool {
	return ifscExpr.MatchString(strings.ToUpper(ifsc))
}

// ValidVoterID checks the EPIC layout: 3 letters followed by 7 digits.
func ValidVoterID(id string) bool {
	return voterIDExpr.MatchString(strings.ToUpper(id))
}

// ValidDrivingLicense checks the SSNN/NNNNNN/YYYY layout.
func ValidDrivingLicense(dl string) bool {
	return drivingLicenseExpr.MatchString(strings.ToUpper(dl))
}

// ValidMedicalID checks for MED followed by 8 alphanumerics.
func ValidMedicalID(id string) bool {
	return medicalIDExpr.MatchString(strings.ToUpper(id))
}

// ValidIP checks for four dot-separated octets. Numeric octets must fall in 0-255.
func ValidIP(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || digitsOnly(p) != p {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

// ValidDOB checks that dob parses as a dd/mm/yyyy calendar date.
func ValidDOB(dob string) bool {
	_, err := time.Parse("02/01/2006", dob)
	return err == nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
