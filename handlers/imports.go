package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"gdp_atlas_go/services"

	"github.com/labstack/echo/v4"
)

const defaultLogLimit = 50

// ImportEntriesHandler imports an uploaded CSV or XLSX file
// POST /api/imports (multipart: file, mode=insert|upsert)
func (a *API) ImportEntriesHandler(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	}

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to open file")
	}
	defer src.Close()

	opts := services.ImportOptions{Mode: c.FormValue("mode"), Source: file.Filename}
	result, err := a.Importer.ImportReader(c.Request().Context(), file.Filename, src, opts)
	if err != nil {
		if errors.Is(err, services.ErrDuplicateEntry) {
			// Nothing was saved; return the summary so the caller can see why
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"message": err.Error(),
				"result":  result,
			})
		}
		return a.storeError(c, err, "import file")
	}

	return c.JSON(http.StatusOK, result)
}

// ListImportsHandler returns the most recent import runs
// GET /api/imports?limit=50
func (a *API) ListImportsHandler(c echo.Context) error {
	limit, err := logLimit(c)
	if err != nil {
		return a.storeError(c, err, "parse limit")
	}

	runs, err := services.ListImportRuns(c.Request().Context(), a.DB, limit)
	if err != nil {
		return a.storeError(c, err, "fetch import runs")
	}
	return c.JSON(http.StatusOK, runs)
}

func logLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultLogLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &services.ValidationError{Field: "limit", Reason: "must be a positive integer"}
	}
	return n, nil
}
