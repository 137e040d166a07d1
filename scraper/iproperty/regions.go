package iproperty

import (
	"fmt"
	"time"
)

// Region is a Malaysian state or federal territory listed on iproperty.
type Region struct {
	Code string
	Slug string
}

// AllRegions lists every region in extraction order.
var AllRegions = []Region{
	{"01", "kuala-lumpur"},
	{"02", "selangor"},
	{"03", "johor"},
	{"04", "penang"},
	{"05", "perak"},
	{"06", "negeri-sembilan"},
	{"07", "melaka"},
	{"08", "pahang"},
	{"09", "sabah"},
	{"10", "sarawak"},
	{"11", "kedah"},
	{"12", "putrajaya"},
	{"13", "kelantan"},
	{"14", "terengganu"},
	{"15", "perlis"},
	{"16", "labuan"},
}

// SelectRegions returns the regions whose slug or code is in filter, in
// extraction order. An empty filter selects every region.
func SelectRegions(filter []string) []Region {
	if len(filter) == 0 {
		return AllRegions
	}
	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		want[f] = true
	}
	var out []Region
	for _, r := range AllRegions {
		if want[r.Slug] || want[r.Code] {
			out = append(out, r)
		}
	}
	return out
}

// BatchFileName names the raw file of one region scrape, e.g.
// "batch1_03_johor_iproperty_20240310_090000.csv".
func BatchFileName(batch int, r Region, at time.Time) string {
	return fmt.Sprintf("batch%d_%s_%s_iproperty_%s.csv", batch, r.Code, r.Slug, at.Format("20060102_150405"))
}
