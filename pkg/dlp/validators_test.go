package dlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerhoeff(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"234123412346", true},
		{"499812345673", true},
		{"123456789010", true},
		{"123456789012", false},
		{"411111111111", false},
		{"2363", true},
		{"2364", false},
		{"", false},
		{"2341 2341 2346", false},
		{"23412341234a", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Verhoeff(tt.in), "Verhoeff(%q)", tt.in)
	}
}

func TestLuhn(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"4111111111111111", true},
		{"4111 1111 1111 1111", true},
		{"4111-1111-1111-1111", true},
		{"4111111111111112", false},
		{"5500005555555559", true},
		{"411111111111", false},
		{"41111111111111111111", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Luhn(tt.in), "Luhn(%q)", tt.in)
	}
}

func TestStructuralValidators(t *testing.T) {
	assert.True(t, ValidPhone("9876543210"))
	assert.True(t, ValidPhone("987-654-3210"))
	assert.False(t, ValidPhone("5876543210"))
	assert.False(t, ValidPhone("98765432"))

	assert.True(t, ValidIFSC("SBIN0001234"))
	assert.True(t, ValidIFSC("sbin0001234"))
	assert.False(t, ValidIFSC("SBIN1001234"))

	assert.True(t, ValidVoterID("ABC1234567"))
	assert.False(t, ValidVoterID("AB12345678"))

	assert.True(t, ValidDrivingLicense("MH12/123456/2011"))
	assert.False(t, ValidDrivingLicense("MH12-123456-2011"))

	assert.True(t, ValidMedicalID("MEDAB12CD34"))
	assert.False(t, ValidMedicalID("MEDAB12CD3"))

	assert.True(t, ValidIP("192.168.1.10"))
	assert.False(t, ValidIP("192.168.1.300"))
	assert.False(t, ValidIP("192.168.1"))

	assert.True(t, ValidDOB("15/08/1990"))
	assert.True(t, ValidDOB("29/02/2000"))
	assert.False(t, ValidDOB("31/02/1990"))
	assert.False(t, ValidDOB("15/13/1990"))
}
