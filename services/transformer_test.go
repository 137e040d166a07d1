package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iproperty-etl/models"
)

var transformNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestTransformer() *Transformer {
	return NewTransformer(newTestLogger()).WithClock(func() time.Time { return transformNow })
}

func TestStateFromFileName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"batch1_02_negeri-sembilan_iproperty_20240310_090000.csv", "Negeri Sembilan", false},
		{"/data/raw/batch3_16_labuan_iproperty_20240101_000000.csv", "Labuan", false},
		{"batch1_01_kuala-lumpur_iproperty_20240101_101010.csv", "Kuala Lumpur", false},
		{"listings.csv", "", true},
	}

	for _, tt := range tests {
		got, err := StateFromFileName(tt.name)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrNoState), "StateFromFileName(%q) err = %v", tt.name, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func rawListing() *models.RawRecord {
	return &models.RawRecord{
		PageLink:       "https://www.iproperty.com.my/property/seremban-2/sale-108234567/",
		Source:         "iproperty",
		AgentName:      "john  doe",
		PostedDate:     "today 02:30 pm",
		HousePrice:     "rm 680,000",
		PricePerSqft:   "rm 450",
		HouseName:      "taman  sutera",
		HouseLocation:  "seremban 2, negeri sembilan",
		HouseType:      "2-sty terraced/link house",
		LotType:        "intermediate",
		SquareFootage:  "1,650 sq. ft.",
		HouseFurniture: "partly furnished",
		CreatedAt:      "2024-03-10 08:00:00",
	}
}

func TestTransformCleansRecord(t *testing.T) {
	batch := &models.RawBatch{
		FileName: "batch1_06_negeri-sembilan_iproperty_20240310_090000.csv",
		Records:  []*models.RawRecord{rawListing()},
	}

	out, err := newTestTransformer().Transform(batch)
	require.NoError(t, err)
	require.Len(t, out, 1)

	rec := out[0]
	assert.Equal(t, "sale-108234567", rec.PropertyID)
	assert.Equal(t, "Negeri Sembilan", rec.State)
	assert.Equal(t, "Seremban 2", rec.Area)
	assert.Equal(t, "John Doe", rec.AgentName)
	assert.Equal(t, "Taman Sutera", rec.HouseName)
	assert.Equal(t, "Seremban 2, Negeri Sembilan", rec.HouseLocation)
	assert.Equal(t, "2 Storey Terraced/Link House", rec.HouseType)
	assert.Equal(t, "Intermediate", rec.LotType)
	assert.Equal(t, "Partly Furnished", rec.HouseFurniture)
	assert.Equal(t, 680000.0, rec.HousePrice)
	assert.Equal(t, 450.0, rec.PricePerSqft)
	assert.Equal(t, 1650.0, rec.SquareFootage)
	require.NotNil(t, rec.PostedDate)
	assert.True(t, rec.PostedDate.Equal(time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)))
	assert.True(t, rec.CreatedAt.Equal(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)))
}

func TestTransformDropsUnusableRows(t *testing.T) {
	contact := rawListing()
	contact.HousePrice = "Contact agent for price"

	cheap := rawListing()
	cheap.HousePrice = "rm 1,800"

	noLink := rawListing()
	noLink.PageLink = "  "

	noPrice := rawListing()
	noPrice.HousePrice = ""

	batch := &models.RawBatch{
		FileName: "batch1_01_kuala-lumpur_iproperty_20240310_090000.csv",
		Records:  []*models.RawRecord{contact, cheap, noLink, noPrice, rawListing()},
	}

	out, err := newTestTransformer().Transform(batch)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Kuala Lumpur", out[0].State)
}

func TestTransformFillsMissingValues(t *testing.T) {
	r := rawListing()
	r.AgentName = "nan"
	r.HousePrice = "RM 123,456,000"
	r.HouseType = "terrace house"
	r.SquareFootage = ""
	r.PricePerSqft = ""
	r.PostedDate = ""
	r.CreatedAt = ""

	out, err := newTestTransformer().Transform(&models.RawBatch{
		FileName: "batch1_02_selangor_iproperty_20240310_090000.csv",
		Records:  []*models.RawRecord{r},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	rec := out[0]
	assert.Empty(t, rec.AgentName)
	assert.Equal(t, 123456.0, rec.HousePrice)
	assert.Zero(t, rec.SquareFootage)
	assert.Zero(t, rec.PricePerSqft)
	assert.Nil(t, rec.PostedDate)
	assert.True(t, rec.CreatedAt.Equal(transformNow))
}

func TestTransformRejectsUnnamedBatch(t *testing.T) {
	_, err := newTestTransformer().Transform(&models.RawBatch{FileName: "dump.csv"})
	assert.ErrorIs(t, err, ErrNoState)
}
