package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"iproperty-etl/models"
	"iproperty-etl/utils"
)

// topAreaCount is how many areas the report ranks.
const topAreaCount = 5

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarises the current staging rows. Rows that are no longer
// current are ignored.
func (s *InsightService) Generate(rows []*models.StagingRow) *models.InsightReport {
	report := &models.InsightReport{
		ListingsByState: make(map[string]int),
		ListingsByType:  make(map[string]int),
	}

	var total, psfTotal float64
	psfCount := 0
	areas := make(map[string]int)

	for _, r := range rows {
		if !r.IsCurrent {
			continue
		}
		report.TotalListings++

		if report.MostExpensive == nil || r.HousePrice > report.MaxPrice {
			report.MaxPrice = r.HousePrice
			report.MostExpensive = r
		}
		if report.TotalListings == 1 || r.HousePrice < report.MinPrice {
			report.MinPrice = r.HousePrice
		}
		total += r.HousePrice

		if r.PricePerSqft > 0 {
			psfTotal += r.PricePerSqft
			psfCount++
		}
		if r.State != "" {
			report.ListingsByState[r.State]++
		}
		if r.HouseType != "" {
			report.ListingsByType[r.HouseType]++
		}
		if r.Area != "" {
			areas[r.Area]++
		}
	}

	if report.TotalListings == 0 {
		return report
	}

	report.AveragePrice = round2(total / float64(report.TotalListings))
	report.MinPrice = round2(report.MinPrice)
	report.MaxPrice = round2(report.MaxPrice)
	report.MostExpensiveID = report.MostExpensive.PropertyID
	if psfCount > 0 {
		report.AveragePSF = round2(psfTotal / float64(psfCount))
	}
	report.TopAreas = rankAreas(areas, topAreaCount)

	s.logger.Info("[insights] %d current listings, avg price RM %.2f", report.TotalListings, report.AveragePrice)
	return report
}

// rankAreas orders areas by count descending, then by name.
func rankAreas(areas map[string]int, limit int) []models.AreaCount {
	ranked := make([]models.AreaCount, 0, len(areas))
	for a, c := range areas {
		ranked = append(ranked, models.AreaCount{Area: a, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Area < ranked[j].Area
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Print writes a human readable report to w.
func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 IPROPERTY STAGING INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Current listings : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.TotalListings > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32mRM %.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32mRM %.2f\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32mRM %.2f\033[0m\n", r.MaxPrice)
		if r.AveragePSF > 0 {
			fmt.Fprintf(w, "  Average psf   : \033[1;32mRM %.2f\033[0m\n", r.AveragePSF)
		}
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.HouseName, 50))
		fmt.Fprintf(w, "  Location : %s, %s\n", r.MostExpensive.Area, r.MostExpensive.State)
		fmt.Fprintf(w, "  Price    : \033[1;31mRM %.2f\033[0m\n", r.MostExpensive.HousePrice)
		fmt.Fprintln(w)
	}

	printCounts(w, "Listings by State", r.ListingsByState, thin)
	printCounts(w, "Listings by House Type", r.ListingsByType, thin)

	fmt.Fprintf(w, "\033[1;33m  Top %d Areas\033[0m\n", topAreaCount)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopAreas) == 0 {
		fmt.Fprintf(w, "  No area data\n")
	}
	for i, a := range r.TopAreas {
		fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s %d\n", i+1, truncate(a.Area, 38), a.Count)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func printCounts(w io.Writer, title string, counts map[string]int, thin string) {
	fmt.Fprintf(w, "\033[1;33m  %s\033[0m\n", title)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(counts) == 0 {
		fmt.Fprintf(w, "  No data\n\n")
		return
	}
	ranked := rankAreas(counts, len(counts))
	for _, c := range ranked {
		bar := strings.Repeat("█", min(c.Count, 40))
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(c.Area, 28), bar, c.Count)
	}
	fmt.Fprintln(w)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
