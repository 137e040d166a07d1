package models

import (
	"strconv"
	"time"
)

// TimeLayout is the textual timestamp form used in raw and staging CSV files.
const TimeLayout = "2006-01-02 15:04:05"

// RawColumns is the header of every raw batch file, in extractor order.
var RawColumns = []string{
	"Page_Link", "Source", "Agent_Name", "Posted_Date", "House_Price", "Price_Square_Feet",
	"House_Name", "House_Location", "House_Type", "Lot_Type", "Square_Footage",
	"House_Furniture", "Created_At",
}

// RawRecord holds one unprocessed scraped listing. An empty field means the
// value was missing on the page.
type RawRecord struct {
	PageLink       string
	Source         string
	AgentName      string
	PostedDate     string
	HousePrice     string
	PricePerSqft   string
	HouseName      string
	HouseLocation  string
	HouseType      string
	LotType        string
	SquareFootage  string
	HouseFurniture string
	CreatedAt      string
}

// Values returns the record fields in RawColumns order.
func (r *RawRecord) Values() []string {
	return []string{
		r.PageLink, r.Source, r.AgentName, r.PostedDate, r.HousePrice, r.PricePerSqft,
		r.HouseName, r.HouseLocation, r.HouseType, r.LotType, r.SquareFootage,
		r.HouseFurniture, r.CreatedAt,
	}
}

// RawRecordFromValues builds a RawRecord from values keyed by RawColumns name.
func RawRecordFromValues(v map[string]string) *RawRecord {
	return &RawRecord{
		PageLink:       v["Page_Link"],
		Source:         v["Source"],
		AgentName:      v["Agent_Name"],
		PostedDate:     v["Posted_Date"],
		HousePrice:     v["House_Price"],
		PricePerSqft:   v["Price_Square_Feet"],
		HouseName:      v["House_Name"],
		HouseLocation:  v["House_Location"],
		HouseType:      v["House_Type"],
		LotType:        v["Lot_Type"],
		SquareFootage:  v["Square_Footage"],
		HouseFurniture: v["House_Furniture"],
		CreatedAt:      v["Created_At"],
	}
}

// RawBatch is the content of one raw batch file.
type RawBatch struct {
	FileName string
	Records  []*RawRecord
}

// CanonicalColumns is the canonical staging schema order.
var CanonicalColumns = []string{
	"property_id", "page_link", "source", "agent_name", "state", "area",
	"house_price", "price_per_sqft", "house_name", "house_location", "house_type",
	"lot_type", "square_footage", "house_furniture", "posted_date", "created_at",
}

// CanonicalRecord is a cleaned, typed listing ready for staging.
type CanonicalRecord struct {
	PropertyID     string     `json:"property_id"`
	PageLink       string     `json:"page_link"`
	Source         string     `json:"source"`
	AgentName      string     `json:"agent_name"`
	State          string     `json:"state"`
	Area           string     `json:"area"`
	HousePrice     float64    `json:"house_price"`
	PricePerSqft   float64    `json:"price_per_sqft"`
	HouseName      string     `json:"house_name"`
	HouseLocation  string     `json:"house_location"`
	HouseType      string     `json:"house_type"`
	LotType        string     `json:"lot_type"`
	SquareFootage  float64    `json:"square_footage"`
	HouseFurniture string     `json:"house_furniture"`
	PostedDate     *time.Time `json:"posted_date"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Fields returns the textual form of every business column in
// CanonicalColumns order. A null posted date is the empty string.
func (c *CanonicalRecord) Fields() []string {
	posted := ""
	if c.PostedDate != nil {
		posted = c.PostedDate.Format(TimeLayout)
	}
	return []string{
		c.PropertyID, c.PageLink, c.Source, c.AgentName, c.State, c.Area,
		formatDecimal(c.HousePrice), formatDecimal(c.PricePerSqft),
		c.HouseName, c.HouseLocation, c.HouseType, c.LotType,
		formatDecimal(c.SquareFootage), c.HouseFurniture,
		posted, c.CreatedAt.Format(TimeLayout),
	}
}

func formatDecimal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StagingRow is a CanonicalRecord as persisted in the staging table.
type StagingRow struct {
	CanonicalRecord
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
	IsCurrent bool       `json:"is_current"`
	RowHash   string     `json:"row_hash"`
}

// LoadStats counts what one staging load did.
type LoadStats struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Processed is the number of incoming rows the load accounted for.
func (s LoadStats) Processed() int {
	return s.Inserted + s.Updated + s.Unchanged
}

// Add accumulates o into s.
func (s *LoadStats) Add(o LoadStats) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
}

// InsightReport summarises the current staging rows.
type InsightReport struct {
	TotalListings   int            `json:"total_listings"`
	AveragePrice    float64        `json:"average_price"`
	MinPrice        float64        `json:"min_price"`
	MaxPrice        float64        `json:"max_price"`
	AveragePSF      float64        `json:"average_price_per_sqft"`
	MostExpensive   *StagingRow    `json:"-"`
	MostExpensiveID string         `json:"most_expensive_property_id,omitempty"`
	ListingsByState map[string]int `json:"listings_by_state"`
	ListingsByType  map[string]int `json:"listings_by_house_type"`
	TopAreas        []AreaCount    `json:"top_areas"`
}

// AreaCount is one entry of the busiest-areas ranking.
type AreaCount struct {
	Area  string `json:"area"`
	Count int    `json:"count"`
}
