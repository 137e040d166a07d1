package iproperty

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iproperty-etl/config"
	"iproperty-etl/models"
	"iproperty-etl/storage"
	"iproperty-etl/utils"
)

var scrapeTime = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func TestParseListings(t *testing.T) {
	records, err := ParseListings(fixture(t, "listings_page1.html"), scrapeTime)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, &models.RawRecord{
		PageLink:       "https://www.iproperty.com.my/property/skudai/sale-108234567/",
		Source:         "iproperty",
		AgentName:      "tan ah kow",
		PostedDate:     "posted on 5 jan 2024 2:30 pm",
		HousePrice:     "rm 680,000",
		PricePerSqft:   "rm 412.12",
		HouseName:      "taman universiti",
		HouseLocation:  "skudai, johor",
		HouseType:      "2-sty terraced/link house",
		LotType:        "intermediate",
		SquareFootage:  "1650",
		HouseFurniture: "partly furnished",
		CreatedAt:      "2024-03-10 09:00:00",
	}, records[0])

	basic := records[1]
	assert.Equal(t, "lim properties", basic.AgentName)
	assert.Equal(t, "yesterday", basic.PostedDate)
	assert.Equal(t, "from rm 500,000 - rm 700,000", basic.HousePrice)
	assert.Empty(t, basic.PricePerSqft)
	assert.Equal(t, "bandar indahpura", basic.HouseName)
	assert.Equal(t, "residential land", basic.HouseType)
	assert.Equal(t, "corner lot", basic.LotType)
	assert.Equal(t, "4356", basic.SquareFootage)
	assert.Empty(t, basic.HouseFurniture)
}

func TestParseListingsWithoutLotType(t *testing.T) {
	records, err := ParseListings(fixture(t, "listings_page2.html"), scrapeTime)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "serviced residence", r.HouseType)
	assert.Empty(t, r.LotType)
	assert.Equal(t, "850", r.SquareFootage)
	assert.Equal(t, "fully furnished", r.HouseFurniture)
	assert.Equal(t, "contact agent for price", r.HousePrice)
}

func TestParseListingsEmptyPage(t *testing.T) {
	records, err := ParseListings("<html><body><p>No results</p></body></html>", scrapeTime)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNextPageURL(t *testing.T) {
	base := "https://www.iproperty.com.my/sale/johor/all-residential/"

	next, err := NextPageURL(fixture(t, "listings_page1.html"), base)
	require.NoError(t, err)
	assert.Equal(t, base+"?page=2", next)

	last, err := NextPageURL(fixture(t, "listings_page2.html"), base+"?page=2")
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestSourceAndPSFHelpers(t *testing.T) {
	assert.Equal(t, "iproperty", sourceOf("https://www.iproperty.com.my/property/a/sale-1/"))
	assert.Empty(t, sourceOf("localhost"))
	assert.Equal(t, "RM 450", pricePerSqft("(RM 450 psf)"))
	assert.Empty(t, pricePerSqft("psf"))
}

func TestSelectRegions(t *testing.T) {
	assert.Len(t, SelectRegions(nil), 16)

	got := SelectRegions([]string{"labuan", "03", "atlantis"})
	assert.Equal(t, []Region{{"03", "johor"}, {"16", "labuan"}}, got)
}

func TestBatchFileName(t *testing.T) {
	name := BatchFileName(2, Region{"06", "negeri-sembilan"}, scrapeTime)
	assert.Equal(t, "batch2_06_negeri-sembilan_iproperty_20240310_090000.csv", name)
}

type fakeFetcher struct {
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (string, error) {
	f.calls = append(f.calls, pageURL)
	html, ok := f.pages[pageURL]
	if !ok {
		return "", fmt.Errorf("no fixture for %s", pageURL)
	}
	return html, nil
}

func TestScrapeWritesBatchFile(t *testing.T) {
	base := "https://www.iproperty.com.my/sale/johor/all-residential/"
	fetcher := &fakeFetcher{pages: map[string]string{
		base:              fixture(t, "listings_page1.html"),
		base + "?page=2": fixture(t, "listings_page2.html"),
	}}

	cfg := &config.Config{
		RawDir:         t.TempDir(),
		ScrapeBaseURL:  "https://www.iproperty.com.my/sale/%s/all-residential/",
		ScrapeRegions:  []string{"johor", "perlis"},
		MaxConcurrency: 1,
		PagesToScrape:  5,
		MaxRetries:     1,
	}
	logger := utils.NewLoggerTo(io.Discard, logrus.ErrorLevel)

	files, err := New(cfg, logger).
		WithFetcher(fetcher).
		WithClock(func() time.Time { return scrapeTime }).
		Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "batch1_03_johor_iproperty_20240310_090000.csv", filepath.Base(files[0]))

	batch, err := storage.ReadRawFile(files[0])
	require.NoError(t, err)
	assert.Len(t, batch.Records, 3)
	assert.Equal(t, []string{base, base + "?page=2", "https://www.iproperty.com.my/sale/perlis/all-residential/"},
		sortedCalls(fetcher.calls))

	_, err = os.Stat(filepath.Join(cfg.RawDir, "batch2_15_perlis_iproperty_20240310_090000.csv"))
	assert.True(t, os.IsNotExist(err), "failed region leaves no file")
}

func TestScrapeRunsRepeatedly(t *testing.T) {
	base := "https://www.iproperty.com.my/sale/johor/all-residential/"
	fetcher := &fakeFetcher{pages: map[string]string{
		base:              fixture(t, "listings_page1.html"),
		base + "?page=2": fixture(t, "listings_page2.html"),
	}}
	cfg := &config.Config{
		RawDir:         t.TempDir(),
		ScrapeBaseURL:  "https://www.iproperty.com.my/sale/%s/all-residential/",
		ScrapeRegions:  []string{"johor"},
		MaxConcurrency: 1,
		PagesToScrape:  5,
		MaxRetries:     1,
	}
	logger := utils.NewLoggerTo(io.Discard, logrus.ErrorLevel)

	now := scrapeTime
	s := New(cfg, logger).WithFetcher(fetcher).WithClock(func() time.Time { return now })

	for i, want := range []string{
		"batch1_03_johor_iproperty_20240310_090000.csv",
		"batch1_03_johor_iproperty_20240310_210000.csv",
	} {
		now = scrapeTime.Add(time.Duration(i) * 12 * time.Hour)
		files, err := s.Scrape(context.Background())
		require.NoError(t, err, "run %d", i+1)
		require.Len(t, files, 1)
		assert.Equal(t, want, filepath.Base(files[0]))

		batch, err := storage.ReadRawFile(files[0])
		require.NoError(t, err)
		assert.Len(t, batch.Records, 3, "run %d", i+1)
	}
	assert.Len(t, fetcher.calls, 4, "both runs visit both pages")
}

func TestScrapeFailsWithoutAnyRegion(t *testing.T) {
	cfg := &config.Config{
		RawDir:         t.TempDir(),
		ScrapeBaseURL:  "https://www.iproperty.com.my/sale/%s/all-residential/",
		ScrapeRegions:  []string{"perlis"},
		MaxConcurrency: 1,
		PagesToScrape:  1,
		MaxRetries:     1,
	}
	logger := utils.NewLoggerTo(io.Discard, logrus.ErrorLevel)

	_, err := New(cfg, logger).WithFetcher(&fakeFetcher{}).Scrape(context.Background())
	assert.Error(t, err)
}

func sortedCalls(calls []string) []string {
	out := append([]string{}, calls...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
