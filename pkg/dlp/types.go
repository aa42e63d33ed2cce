package dlp

import (
	"fmt"
	"regexp"
	"strings"
)

// PIIType identifies one class of India-specific identifier.
type PIIType string

const (
	PIITypeAadhaar        PIIType = "aadhaar"
	PIITypePAN            PIIType = "pan"
	PIITypeCreditCard     PIIType = "credit_card"
	PIITypeEmail          PIIType = "email"
	PIITypePhone          PIIType = "phone"
	PIITypeIFSC           PIIType = "ifsc"
	PIITypeBankAccount    PIIType = "bank_account"
	PIITypeVoterID        PIIType = "voter_id"
	PIITypeDrivingLicense PIIType = "driving_license"
	PIITypeIPAddress      PIIType = "ip_address"
	PIITypeDOB            PIIType = "dob"
	PIITypeMedicalID      PIIType = "medical_id"
)

// allTypes is the registry order. It doubles as the tie-break order used by
// the redactor when two matches share a span.
var allTypes = []PIIType{
	PIITypeAadhaar,
	PIITypePAN,
	PIITypeCreditCard,
	PIITypeEmail,
	PIITypePhone,
	PIITypeIFSC,
	PIITypeBankAccount,
	PIITypeVoterID,
	PIITypeDrivingLicense,
	PIITypeIPAddress,
	PIITypeDOB,
	PIITypeMedicalID,
}

// AllPIITypes returns every supported type in registry order.
func AllPIITypes() []PIIType {
	out := make([]PIIType, len(allTypes))
	copy(out, allTypes)
	return out
}

// ParsePIIType resolves a wire name such as "credit_card".
func ParsePIIType(name string) (PIIType, error) {
	key := PIIType(strings.ToLower(strings.TrimSpace(name)))
	for _, t := range allTypes {
		if t == key {
			return t, nil
		}
	}
	return "", fmt.Errorf("dlp: unknown pii type %q", name)
}

// Strategy describes how a rule's matches are replaced.
type Strategy string

const (
	// StrategyMask keeps the layout and blanks the sensitive characters.
	StrategyMask Strategy = "mask"
	// StrategyTokenize replaces the value with a one-way hash-derived token.
	StrategyTokenize Strategy = "tokenize"
	// StrategyPartial keeps a non-identifying part and replaces the rest.
	StrategyPartial Strategy = "partial"
)

// Rule declares the detection pattern for one PII type.
type Rule struct {
	Type     PIIType
	Pattern  string
	Strategy Strategy
}

// Candidate is one raw pattern match inside a field, before scoring.
// Start and End are byte offsets into the unmodified field text.
type Candidate struct {
	Type  PIIType
	Value string
	Start int
	End   int
}

// Match is a scored candidate that met the confidence threshold.
type Match struct {
	Candidate
	Confidence float64
}

// Detection is one accepted, masked and position-tagged PII occurrence.
type Detection struct {
	RowIndex   int     `json:"row_index"`
	Column     string  `json:"column_name"`
	Type       PIIType `json:"pii_type"`
	Value      string  `json:"raw_value"`
	Masked     string  `json:"masked_value"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context"`
}

// DetectionLog is the ordered list of detections of one processing run.
type DetectionLog []Detection

// ContextLimit is the maximum number of runes kept from a field's context.
const ContextLimit = 100

// compiledRule is an internal representation of a Rule with a compiled regex.
type compiledRule struct {
	kind     PIIType
	expr     *regexp.Regexp
	strategy Strategy
	order    int
}

// isValidStrategy checks if the given strategy is known.
func isValidStrategy(s Strategy) bool {
	switch s {
	case StrategyMask, StrategyTokenize, StrategyPartial:
		return true
	default:
		return false
	}
}
