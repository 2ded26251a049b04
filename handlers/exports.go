package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gdp_atlas_go/models"
	"gdp_atlas_go/services"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// signedURLExpiry bounds redirects to snapshots held in object storage
const signedURLExpiry = 15 * time.Minute

// DownloadDatasetHandler renders the filtered dataset as a file download
// GET /api/dataset?format=csv|xlsx (accepts the same filters as /api/entries)
func (a *API) DownloadDatasetHandler(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = models.ExportFormatCSV
	}

	filter, err := parseEntryFilter(c)
	if err != nil {
		return a.storeError(c, err, "parse filter")
	}

	var buf bytes.Buffer
	if _, err := a.Exporter.Write(c.Request().Context(), &buf, format, filter); err != nil {
		return a.storeError(c, err, "export dataset")
	}

	filename := fmt.Sprintf("dataset_%s.%s", time.Now().UTC().Format("20060102"), format)
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+filename)
	return c.Blob(http.StatusOK, services.ContentType(format), buf.Bytes())
}

// PublishExportHandler publishes a snapshot of the dataset to storage
// POST /api/exports?format=csv|xlsx
func (a *API) PublishExportHandler(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = models.ExportFormatCSV
	}

	filter, err := parseEntryFilter(c)
	if err != nil {
		return a.storeError(c, err, "parse filter")
	}

	export, err := a.Exporter.Publish(c.Request().Context(), format, filter, services.ExportTriggerAPI)
	if err != nil {
		return a.storeError(c, err, "publish dataset")
	}

	a.Logger.Infow("dataset snapshot published", "id", export.ID, "format", export.Format, "rows", export.RowCount)
	return c.JSON(http.StatusCreated, export)
}

// ListExportsHandler returns the most recent published snapshots
// GET /api/exports?limit=50
func (a *API) ListExportsHandler(c echo.Context) error {
	limit, err := logLimit(c)
	if err != nil {
		return a.storeError(c, err, "parse limit")
	}

	exports, err := services.ListDatasetExports(c.Request().Context(), a.DB, limit)
	if err != nil {
		return a.storeError(c, err, "fetch exports")
	}
	return c.JSON(http.StatusOK, exports)
}

// DownloadExportHandler serves a published snapshot, redirecting to a presigned URL
// when storage supports one
// GET /api/exports/:id/file
func (a *API) DownloadExportHandler(c echo.Context) error {
	ctx := c.Request().Context()

	var export models.DatasetExport
	err := a.DB.WithContext(ctx).Where("id = ?", c.Param("id")).First(&export).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Export not found")
	}
	if err != nil {
		return a.storeError(c, err, "fetch export")
	}

	// Object storage serves the file itself through a presigned URL
	signed, err := a.Storage.GetSignedURL(ctx, export.StorageKey, signedURLExpiry)
	if err != nil {
		a.Logger.Warnw("failed to sign snapshot URL, serving directly", "id", export.ID, "key", export.StorageKey, "error", err)
	} else if signed != "" {
		return c.Redirect(http.StatusFound, signed)
	}

	reader, contentType, err := a.Storage.Get(ctx, export.StorageKey)
	if err != nil {
		a.Logger.Errorw("failed to read snapshot from storage", "id", export.ID, "key", export.StorageKey, "error", err)
		return echo.NewHTTPError(http.StatusNotFound, "Export file not available")
	}
	defer reader.Close()

	filename := fmt.Sprintf("dataset_%s.%s", export.CreatedAt.UTC().Format("20060102"), export.Format)
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+filename)
	return c.Stream(http.StatusOK, contentType, reader)
}
