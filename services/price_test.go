package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter func(string) string
		in     string
		want   string
	}{
		{"three comma zero tail", ThreeCommaFilter, "1,234,567,000", "1,234,567"},
		{"three comma non zero tail", ThreeCommaFilter, "1,234,567,890", "1,234,567,890"},
		{"three comma needs three commas", ThreeCommaFilter, "123,456,000", "123,456,000"},
		{"two comma zero tail", TwoCommaZeroTrailFilter, "123,456,000", "123,456"},
		{"two comma zero tail short", TwoCommaZeroTrailFilter, "1,200,000", "1,200,000"},
		{"two comma non zero", TwoCommaNonZeroFilter, "450,000,500", "450,0,500"},
		{"two comma non zero short", TwoCommaNonZeroFilter, "1,200,500", "1,200,500"},
		{"two comma non zero with zero tail", TwoCommaNonZeroFilter, "123,456,000", "123,456,000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter(tt.in))
		})
	}
}

func TestStripPricePrefix(t *testing.T) {
	assert.Equal(t, "500,000 - 700,000", StripPricePrefix("From RM 500,000 - RM 700,000"))
	assert.Equal(t, "680,000", StripPricePrefix("  rm 680,000 "))
}

func TestParseHousePrice(t *testing.T) {
	tests := []struct {
		raw       string
		houseType string
		want      float64
		wantOK    bool
	}{
		{"RM 123,456,000", "Terrace House", 123456, true},
		{"RM 123,456,000", "Bungalow", 123456000, true},
		{"rm 123,456,000", "residential land", 123456000, true},
		{"RM 1,250,000,000", "Condominium", 1250000, true},
		{"RM 450,000,500", "Condominium", 4500500, true},
		{"RM 680,000", "Condominium", 680000, true},
		{"from RM 500,000 - RM 700,000", "Serviced Residence", 600000, true},
		{"contact agent", "Condominium", 0, false},
		{"", "Condominium", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseHousePrice(tt.raw, tt.houseType)
		assert.Equal(t, tt.wantOK, ok, "ParseHousePrice(%q, %q) ok", tt.raw, tt.houseType)
		assert.Equal(t, tt.want, got, "ParseHousePrice(%q, %q)", tt.raw, tt.houseType)
	}
}
