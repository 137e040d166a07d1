package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// nonNumericRegexp matches everything that is not part of a decimal number
	nonNumericRegexp = regexp.MustCompile(`[^\d.]+`)
	// clockRegexp captures a 12-hour "HH:MM am" time of day
	clockRegexp = regexp.MustCompile(`(\d{2}:\d{2} [ap]m)`)
)

// Absolute posted-date layouts, with and without a time of day.
var postedLayouts = []string{
	"2 Jan 2006 3:04 pm",
	"2 Jan 2006",
}

// CleanSquareFootage extracts the floor area from text such as
// "from 1,200 - 1,500 sq. ft.". A range yields its lower bound. The bool is
// false when no number can be read.
func CleanSquareFootage(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "from ", "")
	s = strings.ReplaceAll(s, "sq. ft.", "")
	if i := strings.Index(s, " - "); i >= 0 {
		s = s[:i]
	}
	s = nonNumericRegexp.ReplaceAllString(s, "")

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

// ParsePostedDate resolves "today 02:30 pm", "yesterday [02:30 pm]" and
// "posted on 5 Jan 2023 [2:30 pm]" against now. Any other text yields nil.
func ParsePostedDate(raw string, now time.Time) *time.Time {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}

	switch {
	case strings.Contains(s, "today"):
		clock := clockRegexp.FindString(s)
		if clock == "" {
			return nil
		}
		return atClock(now, clock)

	case strings.Contains(s, "yesterday"):
		clock := clockRegexp.FindString(s)
		if clock == "" {
			clock = "12:00 am"
		}
		return atClock(now.AddDate(0, 0, -1), clock)
	}

	datePart := strings.TrimSpace(strings.ReplaceAll(s, "posted on ", ""))
	for _, layout := range postedLayouts {
		if t, err := time.ParseInLocation(layout, datePart, now.Location()); err == nil {
			return &t
		}
	}
	return nil
}

func atClock(day time.Time, clock string) *time.Time {
	c, err := time.Parse("03:04 pm", clock)
	if err != nil {
		return nil
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location())
	return &t
}

// CleanAndCapitalize collapses whitespace, turns hyphens into spaces and
// capitalises every word: "semi-d  HOUSE" becomes "Semi D House".
func CleanAndCapitalize(text string) string {
	words := strings.Fields(strings.ReplaceAll(text, "-", " "))
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(word string) string {
	runes := []rune(strings.ToLower(word))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// BlankNaN empties strings that start with "nan", the stringified form of a
// missing value.
func BlankNaN(s string) string {
	if len(s) >= 3 && strings.EqualFold(s[:3], "nan") {
		return ""
	}
	return s
}

// ParsePricePerSqft reads "rm 1,234.50" style values. Unreadable or negative
// input yields 0.
func ParsePricePerSqft(raw string) float64 {
	s := StripPricePrefix(raw)
	s = strings.ReplaceAll(s, ",", "")

	val, err := strconv.ParseFloat(s, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

// MidValue parses a comma-free price: "A-B" yields the midpoint and a bare
// integer yields itself. Anything else is not a price.
func MidValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)

	if strings.Contains(s, "-") {
		parts := strings.Split(s, "-")
		if len(parts) != 2 {
			return 0, false
		}
		lo, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		hi, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return (lo + hi) / 2, true
	}

	if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, false
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}
