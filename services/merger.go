package services

import (
	"strings"

	"iproperty-etl/models"
	"iproperty-etl/utils"
)

// Merger concatenates transformed batches into one canonical batch.
type Merger struct {
	logger *utils.Logger
}

func NewMerger(logger *utils.Logger) *Merger {
	return &Merger{logger: logger}
}

// Merge removes rows that are equal after trimming and lower-casing every
// field, then keeps a single row per property id: the one posted last, or
// created last when posting times tie. Input order is otherwise preserved.
func (m *Merger) Merge(batches ...[]*models.CanonicalRecord) []*models.CanonicalRecord {
	seen := make(map[string]struct{})
	byID := make(map[string]int)
	var out []*models.CanonicalRecord
	total, duplicates, collisions := 0, 0, 0

	for _, batch := range batches {
		for _, rec := range batch {
			total++
			key := dedupeKey(rec)
			if _, dup := seen[key]; dup {
				duplicates++
				continue
			}
			seen[key] = struct{}{}

			if idx, ok := byID[rec.PropertyID]; ok {
				collisions++
				if supersedes(rec, out[idx]) {
					out[idx] = rec
				}
				continue
			}
			byID[rec.PropertyID] = len(out)
			out = append(out, rec)
		}
	}

	m.logger.Info("[merger] %d batches, %d rows in, %d duplicates, %d id collisions, %d rows out",
		len(batches), total, duplicates, collisions, len(out))
	return out
}

func dedupeKey(rec *models.CanonicalRecord) string {
	fields := rec.Fields()
	for i, f := range fields {
		fields[i] = strings.ToLower(strings.TrimSpace(f))
	}
	return strings.Join(fields, "\x1f")
}

// supersedes reports whether next should replace cur for the same property.
func supersedes(next, cur *models.CanonicalRecord) bool {
	switch {
	case next.PostedDate != nil && cur.PostedDate == nil:
		return true
	case next.PostedDate == nil && cur.PostedDate != nil:
		return false
	case next.PostedDate != nil && !next.PostedDate.Equal(*cur.PostedDate):
		return next.PostedDate.After(*cur.PostedDate)
	}
	return !next.CreatedAt.Before(cur.CreatedAt)
}
