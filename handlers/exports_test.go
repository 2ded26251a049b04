package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"testing"
	"time"

	"gdp_atlas_go/logging"
	"gdp_atlas_go/models"
	"gdp_atlas_go/services"
	"gdp_atlas_go/testutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDownloadDatasetHandler(t *testing.T) {
	e, _ := setupAPI(t)
	for _, payload := range []map[string]interface{}{
		{"country_code": "US", "year": 2020, "gdp": 21.06e12},
		{"country_code": "CA", "year": 2020},
	} {
		rec := doJSON(t, e, http.MethodPost, "/api/entries", payload)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	t.Run("CSV", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/dataset?order=country_code", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")

		records, err := csv.NewReader(bytes.NewReader(rec.Body.Bytes())).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, services.ExportHeader(), records[0])
		assert.Equal(t, []string{"CA", "Canada", "2020"}, records[1][:3])
		assert.Equal(t, "", records[1][3])
		assert.Equal(t, "21060000000000", records[2][3])
	})

	t.Run("XLSXFiltered", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/dataset?format=xlsx&country=US", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("Data")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "US", rows[1][0])
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/dataset?format=pdf", nil, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestPublishAndDownloadExport(t *testing.T) {
	e, _ := setupAPI(t)
	rec := doJSON(t, e, http.MethodPost, "/api/entries", map[string]interface{}{"country_code": "MX", "year": 2020, "gdp": 1.12e12})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(e, http.MethodPost, "/api/exports?format=csv", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var export models.DatasetExport
	decodeBody(t, rec, &export)
	assert.Equal(t, models.ExportFormatCSV, export.Format)
	assert.Equal(t, 1, export.RowCount)
	assert.Equal(t, services.ExportTriggerAPI, export.TriggeredBy)
	assert.Positive(t, export.SizeBytes)

	rec = doRequest(e, http.MethodGet, "/api/exports", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var exports []models.DatasetExport
	decodeBody(t, rec, &exports)
	require.Len(t, exports, 1)
	assert.Equal(t, export.ID, exports[0].ID)

	rec = doRequest(e, http.MethodGet, "/api/exports/"+export.ID+"/file", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "MX,Mexico,2020")

	rec = doRequest(e, http.MethodGet, "/api/exports/does-not-exist/file", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// signingStorage stores files locally but hands out signed URLs like object storage
type signingStorage struct {
	*services.LocalStorage
	err error
}

func (s signingStorage) GetSignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://cdn.example.com/" + key + "?sig=abc", nil
}

func TestDownloadExportFromObjectStorage(t *testing.T) {
	publish := func(t *testing.T, storage services.StorageProvider) (*echo.Echo, models.DatasetExport) {
		t.Helper()
		database := testutil.NewTestDB(t)
		testutil.SeedCountries(t, database)

		e := echo.New()
		NewAPI(database, storage, logging.Nop()).Register(e)

		rec := doRequest(e, http.MethodPost, "/api/exports?format=csv", nil, "")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var export models.DatasetExport
		decodeBody(t, rec, &export)
		return e, export
	}

	t.Run("RedirectsToSignedURL", func(t *testing.T) {
		e, export := publish(t, signingStorage{LocalStorage: services.NewLocalStorage(t.TempDir())})

		rec := doRequest(e, http.MethodGet, "/api/exports/"+export.ID+"/file", nil, "")
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://cdn.example.com/"+export.StorageKey+"?sig=abc", rec.Header().Get(echo.HeaderLocation))
	})

	t.Run("StreamsWhenSigningFails", func(t *testing.T) {
		e, export := publish(t, signingStorage{
			LocalStorage: services.NewLocalStorage(t.TempDir()),
			err:          errors.New("presign unavailable"),
		})

		rec := doRequest(e, http.MethodGet, "/api/exports/"+export.ID+"/file", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "country_code,country_name,year")
	})
}
