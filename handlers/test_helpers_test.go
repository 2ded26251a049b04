package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"gdp_atlas_go/logging"
	"gdp_atlas_go/services"
	"gdp_atlas_go/testutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func setupAPI(t *testing.T) (*echo.Echo, *API) {
	t.Helper()

	database := testutil.NewTestDB(t)
	testutil.SeedCountries(t, database)

	api := NewAPI(database, services.NewLocalStorage(t.TempDir()), logging.Nop())
	e := echo.New()
	api.Register(e)
	return e, api
}

func doRequest(e *echo.Echo, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return doRequest(e, method, path, body, echo.MIMEApplicationJSON)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	decodeBody(t, rec, &body)
	return body.Message
}
