package dlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, AllPIITypes(), reg.Types())
	assert.Same(t, reg, DefaultRegistry())

	rule, ok := reg.Resolve(PIITypePAN)
	require.True(t, ok)
	assert.Equal(t, StrategyTokenize, rule.Strategy)

	rule, ok = reg.Resolve(PIITypeEmail)
	require.True(t, ok)
	assert.Equal(t, StrategyPartial, rule.Strategy)
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"unknown type", []Rule{{Type: "ssn", Pattern: `\d+`}}},
		{"duplicate", []Rule{{Type: PIITypePAN, Pattern: `x`}, {Type: PIITypePAN, Pattern: `y`}}},
		{"empty pattern", []Rule{{Type: PIITypePAN}}},
		{"bad pattern", []Rule{{Type: PIITypePAN, Pattern: `(`}}},
		{"bad strategy", []Rule{{Type: PIITypePAN, Pattern: `x`, Strategy: "encrypt"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.rules)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_WithTypes(t *testing.T) {
	reg, err := DefaultRegistry().WithTypes(PIITypePhone, PIITypeAadhaar, PIITypePhone)
	require.NoError(t, err)
	assert.Equal(t, []PIIType{PIITypePhone, PIITypeAadhaar}, reg.Types())

	same, err := DefaultRegistry().WithTypes()
	require.NoError(t, err)
	assert.Same(t, DefaultRegistry(), same)

	_, err = DefaultRegistry().WithTypes("passport")
	assert.Error(t, err)
}

func TestParsePIIType(t *testing.T) {
	got, err := ParsePIIType(" Credit_Card ")
	require.NoError(t, err)
	assert.Equal(t, PIITypeCreditCard, got)

	_, err = ParsePIIType("ssn")
	assert.Error(t, err)
}

func TestScore(t *testing.T) {
	tests := []struct {
		kind    PIIType
		value   string
		context string
		want    float64
	}{
		{PIITypeCreditCard, "4111111111111111", "", 0.95},
		{PIITypeCreditCard, "4111111111111112", "", 0.3},
		{PIITypeAadhaar, "234123412346", "", 0.95},
		{PIITypeAadhaar, "1234 5678 9012", "", 0.7},
		{PIITypeAadhaar, "12345", "", 0.3},
		{PIITypePhone, "9876543210", "", 0.9},
		{PIITypeIFSC, "SBIN0001234", "", 0.95},
		{PIITypeBankAccount, "123456789", "Bank of India", 0.8},
		{PIITypeBankAccount, "123456789", "", 0.6},
		{PIITypeBankAccount, "12345678", "account", 0.3},
		{PIITypeIPAddress, "10.0.0.1", "", 0.95},
		{PIITypeIPAddress, "999.0.0.1", "", 0.5},
		{PIITypeDOB, "31/02/1990", "", 0.3},
		{PIITypeMedicalID, "MEDAB12CD34", "", 0.7},
		{PIITypePAN, "ABCDE1234F", "", 1.0},
		{PIITypeEmail, "a@b.io", "", 1.0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, Score(tt.kind, tt.value, tt.context), 1e-9, "Score(%s, %q)", tt.kind, tt.value)
	}
}
