package services

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"iproperty-etl/models"
	"iproperty-etl/utils"
)

// MinHousePrice is the lowest price kept by the transformer. Anything cheaper
// is a rental or a parsing artifact.
const MinHousePrice = 25000

// ErrNoState is returned when a raw batch file name carries no region token.
var ErrNoState = errors.New("transformer: no state in file name")

var (
	propertyIDRegexp = regexp.MustCompile(`([^/]+)/?$`)
	areaRegexp       = regexp.MustCompile(`/property/([^/]+)/`)
	stateFileRegexp  = regexp.MustCompile(`batch\d+_\d+_([^_]+)_iproperty_\d+_\d+\.csv`)
)

var houseTypeReplacements = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`\bHomes\b`), "House"},
	{regexp.MustCompile(`\bSty\b`), "Storey"},
	{regexp.MustCompile(`\blink\b`), "Link"},
}

// Transformer turns raw batches into canonical records.
type Transformer struct {
	logger *utils.Logger
	now    func() time.Time
}

func NewTransformer(logger *utils.Logger) *Transformer {
	return &Transformer{logger: logger, now: time.Now}
}

// WithClock replaces the clock used for relative posted dates and missing
// creation times.
func (t *Transformer) WithClock(now func() time.Time) *Transformer {
	t.now = now
	return t
}

// StateFromFileName derives the state from a batch file name such as
// "batch1_02_negeri-sembilan_iproperty_20240101_101500.csv".
func StateFromFileName(name string) (string, error) {
	m := stateFileRegexp.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", fmt.Errorf("%w: %s", ErrNoState, name)
	}
	return CleanAndCapitalize(m[1]), nil
}

// Transform cleans every record of batch. Rows without a page link, rows
// asking to contact the agent for a price and rows below MinHousePrice are
// dropped.
func (t *Transformer) Transform(batch *models.RawBatch) ([]*models.CanonicalRecord, error) {
	state, err := StateFromFileName(batch.FileName)
	if err != nil {
		return nil, err
	}

	now := t.now()
	out := make([]*models.CanonicalRecord, 0, len(batch.Records))
	dropped := 0

	for _, r := range batch.Records {
		if strings.TrimSpace(r.PageLink) == "" || strings.Contains(strings.ToLower(r.HousePrice), "contact") {
			dropped++
			continue
		}
		rec, ok := t.transformRecord(r, state, now)
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}

	t.logger.Info("[transformer] %s: %d rows in, %d kept, %d dropped",
		filepath.Base(batch.FileName), len(batch.Records), len(out), dropped)
	return out, nil
}

func (t *Transformer) transformRecord(r *models.RawRecord, state string, now time.Time) (*models.CanonicalRecord, bool) {
	link := strings.TrimSpace(r.PageLink)
	id := propertyID(link)
	if id == "" {
		return nil, false
	}

	price, ok := ParseHousePrice(r.HousePrice, r.HouseType)
	if !ok || price < MinHousePrice {
		return nil, false
	}

	sqft, _ := CleanSquareFootage(r.SquareFootage)

	rec := &models.CanonicalRecord{
		PropertyID:     id,
		PageLink:       link,
		Source:         BlankNaN(strings.TrimSpace(r.Source)),
		AgentName:      BlankNaN(CleanAndCapitalize(r.AgentName)),
		State:          state,
		Area:           BlankNaN(areaFromLink(link)),
		HousePrice:     price,
		PricePerSqft:   ParsePricePerSqft(r.PricePerSqft),
		HouseName:      BlankNaN(CleanAndCapitalize(r.HouseName)),
		HouseLocation:  BlankNaN(CleanAndCapitalize(r.HouseLocation)),
		HouseType:      BlankNaN(normalizeHouseType(r.HouseType)),
		LotType:        BlankNaN(CleanAndCapitalize(r.LotType)),
		SquareFootage:  sqft,
		HouseFurniture: BlankNaN(CleanAndCapitalize(r.HouseFurniture)),
		PostedDate:     ParsePostedDate(r.PostedDate, now),
		CreatedAt:      parseCreatedAt(r.CreatedAt, now),
	}
	return rec, true
}

func propertyID(link string) string {
	m := propertyIDRegexp.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

func areaFromLink(link string) string {
	m := areaRegexp.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return CleanAndCapitalize(m[1])
}

func normalizeHouseType(raw string) string {
	s := CleanAndCapitalize(raw)
	for _, r := range houseTypeReplacements {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

func parseCreatedAt(raw string, now time.Time) time.Time {
	if ts, err := time.ParseInLocation(models.TimeLayout, strings.TrimSpace(raw), now.Location()); err == nil {
		return ts
	}
	return now
}
