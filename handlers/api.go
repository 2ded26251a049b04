package handlers

import (
	"errors"
	"net/http"

	"gdp_atlas_go/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// API holds the dependencies of the HTTP handlers
type API struct {
	DB       *gorm.DB
	Store    *services.DataEntryStore
	Importer *services.EntryImporter
	Exporter *services.DatasetExporter
	Storage  services.StorageProvider
	Logger   *zap.SugaredLogger
}

// NewAPI wires the services used by the handlers around a single database handle
func NewAPI(db *gorm.DB, storage services.StorageProvider, logger *zap.SugaredLogger) *API {
	return &API{
		DB:       db,
		Store:    services.NewDataEntryStore(db),
		Importer: services.NewEntryImporter(db, logger),
		Exporter: services.NewDatasetExporter(db, storage),
		Storage:  storage,
		Logger:   logger,
	}
}

// Register mounts the API routes. write is applied to every route that modifies data.
func (a *API) Register(e *echo.Echo, write ...echo.MiddlewareFunc) {
	e.GET("/health", a.HealthHandler)

	api := e.Group("/api")
	api.GET("/countries", a.ListCountriesHandler)
	api.GET("/countries/:code", a.GetCountryHandler)

	api.GET("/entries", a.ListEntriesHandler)
	api.GET("/entries/:code/:year", a.GetEntryHandler)
	api.POST("/entries", a.CreateEntryHandler, write...)
	api.PUT("/entries", a.UpsertEntryHandler, write...)
	api.PATCH("/entries/:code/:year", a.UpdateEntryHandler, write...)
	api.DELETE("/entries/:code/:year", a.DeleteEntryHandler, write...)

	api.GET("/imports", a.ListImportsHandler)
	api.POST("/imports", a.ImportEntriesHandler, write...)

	api.GET("/dataset", a.DownloadDatasetHandler)
	api.GET("/exports", a.ListExportsHandler)
	api.GET("/exports/:id/file", a.DownloadExportHandler)
	api.POST("/exports", a.PublishExportHandler, write...)
}

// HealthHandler reports whether the database is reachable
// GET /health
func (a *API) HealthHandler(c echo.Context) error {
	sqlDB, err := a.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request().Context())
	}
	if err != nil {
		a.Logger.Errorw("health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// storeError maps store errors onto HTTP errors. Unexpected errors are logged and
// reported without detail.
func (a *API) storeError(c echo.Context, err error, action string) error {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ve.Error())
	case errors.Is(err, services.ErrDuplicateEntry):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrUnknownCountry):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrEntryNotFound), errors.Is(err, services.ErrCountryNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	a.Logger.Errorw("request failed", "action", action, "path", c.Path(), "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "Failed to "+action)
}
