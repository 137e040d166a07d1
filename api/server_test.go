package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iproperty-etl/models"
	"iproperty-etl/services"
	"iproperty-etl/storage"
	"iproperty-etl/utils"
)

type fakeStaging struct {
	rows []*models.StagingRow
	err  error
}

func (f *fakeStaging) FetchAll(context.Context) ([]*models.StagingRow, error) {
	return f.rows, f.err
}

func (f *fakeStaging) Get(_ context.Context, id string) (*models.StagingRow, error) {
	for _, r := range f.rows {
		if r.PropertyID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
}

type fakeRuns map[string]*models.Run

func (f fakeRuns) Last(_ context.Context, stage string) (*models.Run, error) {
	if run, ok := f[stage]; ok {
		return run, nil
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrNoRuns, stage)
}

func stagingRow(id, state string, price float64) *models.StagingRow {
	return &models.StagingRow{
		CanonicalRecord: models.CanonicalRecord{
			PropertyID: id,
			State:      state,
			Area:       "Cheras",
			HouseType:  "Condominium",
			HousePrice: price,
		},
		IsCurrent: true,
	}
}

func newTestServer(t *testing.T, staging storage.StagingReader, runs storage.RunReader) *httptest.Server {
	t.Helper()
	logger := utils.NewLoggerTo(io.Discard, logrus.ErrorLevel)
	srv := httptest.NewServer(NewRouter(NewHandler(staging, runs, services.NewInsightService(logger), logger)))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeStaging{}, fakeRuns{})

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestReport(t *testing.T) {
	staging := &fakeStaging{rows: []*models.StagingRow{
		stagingRow("sale-1", "Selangor", 500000),
		stagingRow("sale-2", "Selangor", 900000),
		stagingRow("sale-3", "Johor", 400000),
	}}
	srv := newTestServer(t, staging, fakeRuns{})

	var report models.InsightReport
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/report", &report))
	assert.Equal(t, 3, report.TotalListings)
	assert.Equal(t, 900000.0, report.MaxPrice)
	assert.Equal(t, "sale-2", report.MostExpensiveID)
	assert.Equal(t, map[string]int{"Selangor": 2, "Johor": 1}, report.ListingsByState)
}

func TestReportStoreFailure(t *testing.T) {
	srv := newTestServer(t, &fakeStaging{err: errors.New("connection reset")}, fakeRuns{})

	var body map[string]string
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/report", &body))
	assert.Contains(t, body["error"], "connection reset")
}

func TestLastRun(t *testing.T) {
	finished := time.Date(2024, 3, 10, 9, 5, 0, 0, time.UTC)
	runs := fakeRuns{"load": {
		ID:         "b7c9",
		Stage:      "load",
		Status:     models.RunSucceeded,
		StartedAt:  finished.Add(-5 * time.Minute),
		FinishedAt: &finished,
		Inserted:   12,
	}}
	srv := newTestServer(t, &fakeStaging{}, runs)

	t.Run("recorded", func(t *testing.T) {
		var run models.Run
		require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/runs/load/last", &run))
		assert.Equal(t, "b7c9", run.ID)
		assert.Equal(t, 12, run.Inserted)
		require.NotNil(t, run.FinishedAt)
		assert.True(t, finished.Equal(*run.FinishedAt))
	})

	t.Run("never ran", func(t *testing.T) {
		var body map[string]string
		assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/runs/extract/last", &body))
	})
}

func TestProperty(t *testing.T) {
	srv := newTestServer(t, &fakeStaging{rows: []*models.StagingRow{stagingRow("sale-1", "Selangor", 500000)}}, fakeRuns{})

	var row map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/properties/sale-1", &row))
	assert.Equal(t, "sale-1", row["property_id"])
	assert.Equal(t, true, row["is_current"])

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/properties/sale-9", &body))
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeStaging{}, fakeRuns{})

	resp, err := http.Post(srv.URL+"/report", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	logger := utils.NewLoggerTo(io.Discard, logrus.ErrorLevel)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- ListenAndServe(ctx, "127.0.0.1:0", http.NotFoundHandler(), logger) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
