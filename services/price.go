package services

import "strings"

// House types whose prices are taken verbatim by the disambiguator.
var trustedPriceTypes = map[string]bool{
	"Residential Land": true,
	"Bungalow":         true,
}

// StripPricePrefix lower-cases a price and removes the "rm " currency and
// "from " qualifiers wherever they appear.
func StripPricePrefix(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "rm ", "")
	s = strings.ReplaceAll(s, "from ", "")
	return strings.TrimSpace(s)
}

func countDigits(s string) (n int, lastThree string) {
	var digits []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) >= 3 {
		lastThree = string(digits[len(digits)-3:])
	}
	return len(digits), lastThree
}

// ThreeCommaFilter drops a spurious trailing ",000" group from prices with
// three or more commas, at least nine digits and a "000" tail.
func ThreeCommaFilter(s string) string {
	if strings.Count(s, ",") < 3 || len(s) < 4 {
		return s
	}
	n, tail := countDigits(s)
	if n < 9 || tail != "000" {
		return s
	}
	return s[:len(s)-4]
}

// TwoCommaNonZeroFilter shortens the first ",000" group to ",0" in nine-digit
// prices with exactly two commas whose last three digits are not all zero.
func TwoCommaNonZeroFilter(s string) string {
	if strings.Count(s, ",") != 2 {
		return s
	}
	n, tail := countDigits(s)
	if n != 9 || tail == "000" {
		return s
	}
	return strings.Replace(s, ",000", ",0", 1)
}

// TwoCommaZeroTrailFilter drops the trailing ",000" group from nine-digit
// prices with exactly two commas and a "000" tail.
func TwoCommaZeroTrailFilter(s string) string {
	if strings.Count(s, ",") != 2 || len(s) < 4 {
		return s
	}
	n, tail := countDigits(s)
	if n != 9 || tail != "000" {
		return s
	}
	return s[:len(s)-4]
}

// DisambiguatePrice repairs the extra/missing thousand group artifact in a
// prefix-free price string. Land and bungalow prices are returned unchanged.
func DisambiguatePrice(price, houseType string) string {
	if trustedPriceTypes[CleanAndCapitalize(houseType)] {
		return price
	}
	price = TwoCommaNonZeroFilter(price)
	price = TwoCommaZeroTrailFilter(price)
	return ThreeCommaFilter(price)
}

// ParseHousePrice turns raw price text into a number: prefixes stripped,
// disambiguated, commas removed, ranges collapsed to their midpoint.
func ParseHousePrice(raw, houseType string) (float64, bool) {
	s := StripPricePrefix(raw)
	s = DisambiguatePrice(s, houseType)
	s = strings.ReplaceAll(s, ",", "")
	return MidValue(s)
}
