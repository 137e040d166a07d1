package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"iproperty-etl/models"
)

// StagingFileName is the file the transform stage hands to the load stage.
const StagingFileName = "staging_data.csv"

// nullToken marks a missing raw value on disk.
const nullToken = "null"

// ErrBadHeader is returned for a CSV file lacking an expected column.
var ErrBadHeader = errors.New("csv: header is missing columns")

var missingTokens = map[string]bool{
	"": true, "null": true, "nan": true, "none": true, "n/a": true, "na": true,
}

// RawCSVWriter writes raw (uncleaned) listings to one batch file.
// It is safe for concurrent use.
type RawCSVWriter struct {
	mu     sync.Mutex
	path   string
	rows   int
	file   *os.File
	writer *csv.Writer
}

// NewRawCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewRawCSVWriter(path string) (*RawCSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(models.RawColumns); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &RawCSVWriter{path: path, file: f, writer: w}, nil
}

// WriteRaw appends records. Empty values are written as "null".
func (c *RawCSVWriter) WriteRaw(records []*models.RawRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		row := r.Values()
		for i, v := range row {
			if v == "" {
				row[i] = nullToken
			}
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
		c.rows++
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Path returns the file being written.
func (c *RawCSVWriter) Path() string { return c.path }

// Rows returns how many records were written so far.
func (c *RawCSVWriter) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Close flushes and closes the underlying file.
func (c *RawCSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		_ = c.file.Close()
		return fmt.Errorf("csv: flush: %w", err)
	}
	return c.file.Close()
}

// ListFiles returns the files in dir matching pattern, sorted by name.
func ListFiles(dir, pattern string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("csv: list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadRawFile reads one raw batch file. Missing-value tokens such as "null"
// or "n/a" become empty strings.
func ReadRawFile(path string) (*models.RawBatch, error) {
	rows, err := readCSV(path, models.RawColumns)
	if err != nil {
		return nil, err
	}

	batch := &models.RawBatch{FileName: filepath.Base(path)}
	for _, row := range rows {
		for k, v := range row {
			v = strings.TrimSpace(v)
			if missingTokens[strings.ToLower(v)] {
				v = ""
			}
			row[k] = v
		}
		batch.Records = append(batch.Records, models.RawRecordFromValues(row))
	}
	return batch, nil
}

// WriteStagingCSV writes records with the full canonical header. The file is
// written beside path and renamed over it, so readers see either the old or
// the new content in full.
func WriteStagingCSV(path string, records []*models.CanonicalRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("csv: create output dir: %w", err)
	}
	// the temp name must not match the staging*.csv pattern the loader reads
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("csv: create temp file for %q: %w", path, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(models.CanonicalColumns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(r.Fields()); err != nil {
			return fmt.Errorf("csv: write row %s: %w", r.PropertyID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv: flush %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("csv: sync %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("csv: close %q: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		return fmt.Errorf("csv: chmod %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("csv: replace %q: %w", path, err)
	}
	return nil
}

// ReadStagingCSV reads a file written by WriteStagingCSV. Timestamps are read
// in the local time zone.
func ReadStagingCSV(path string) ([]*models.CanonicalRecord, error) {
	rows, err := readCSV(path, models.CanonicalColumns)
	if err != nil {
		return nil, err
	}

	out := make([]*models.CanonicalRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := canonicalFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("csv: %s line %d: %w", filepath.Base(path), i+2, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func canonicalFromRow(row map[string]string) (*models.CanonicalRecord, error) {
	rec := &models.CanonicalRecord{
		PropertyID:     row["property_id"],
		PageLink:       row["page_link"],
		Source:         row["source"],
		AgentName:      row["agent_name"],
		State:          row["state"],
		Area:           row["area"],
		HouseName:      row["house_name"],
		HouseLocation:  row["house_location"],
		HouseType:      row["house_type"],
		LotType:        row["lot_type"],
		HouseFurniture: row["house_furniture"],
	}

	var err error
	if rec.HousePrice, err = parseDecimal(row["house_price"]); err != nil {
		return nil, fmt.Errorf("house_price: %w", err)
	}
	if rec.PricePerSqft, err = parseDecimal(row["price_per_sqft"]); err != nil {
		return nil, fmt.Errorf("price_per_sqft: %w", err)
	}
	if rec.SquareFootage, err = parseDecimal(row["square_footage"]); err != nil {
		return nil, fmt.Errorf("square_footage: %w", err)
	}

	if v := row["posted_date"]; v != "" {
		t, err := time.ParseInLocation(models.TimeLayout, v, time.Local)
		if err != nil {
			return nil, fmt.Errorf("posted_date: %w", err)
		}
		rec.PostedDate = &t
	}
	if rec.CreatedAt, err = time.ParseInLocation(models.TimeLayout, row["created_at"], time.Local); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return rec, nil
}

func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// readCSV returns every data row keyed by header name, failing when any of
// required is absent from the header.
func readCSV(path string, required []string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %s is empty", ErrBadHeader, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header %q: %w", path, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range required {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s lacks %s", ErrBadHeader, filepath.Base(path), strings.Join(missing, ", "))
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read %q: %w", path, err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
