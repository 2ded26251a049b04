package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"gdp_atlas_go/models"
	"gdp_atlas_go/services"

	"github.com/labstack/echo/v4"
)

// ListEntriesHandler returns entries matching the query filters
// GET /api/entries?country=US,CA&year_from=2000&year_to=2020&where=gdp:gt:1e12&order=gdp&desc=true&limit=50&offset=0
func (a *API) ListEntriesHandler(c echo.Context) error {
	filter, err := parseEntryFilter(c)
	if err != nil {
		return a.storeError(c, err, "parse filter")
	}

	entries, err := a.Store.Query(c.Request().Context(), filter)
	if err != nil {
		return a.storeError(c, err, "fetch entries")
	}
	return c.JSON(http.StatusOK, entries)
}

// GetEntryHandler returns a single entry
// GET /api/entries/:code/:year
func (a *API) GetEntryHandler(c echo.Context) error {
	key, err := entryKeyParam(c)
	if err != nil {
		return err
	}

	entry, err := a.Store.Get(c.Request().Context(), key)
	if err != nil {
		return a.storeError(c, err, "fetch entry")
	}
	return c.JSON(http.StatusOK, entry)
}

// CreateEntryHandler stores a new entry
// POST /api/entries
func (a *API) CreateEntryHandler(c echo.Context) error {
	var entry models.DataEntry
	if err := c.Bind(&entry); err != nil {
		return err
	}

	created, err := a.Store.Create(c.Request().Context(), &entry)
	if err != nil {
		return a.storeError(c, err, "create entry")
	}

	a.Logger.Infow("data entry created", "country_code", created.CountryCode, "year", created.Year)
	return c.JSON(http.StatusCreated, created)
}

// UpsertEntryHandler creates an entry or revises the stored one
// PUT /api/entries
func (a *API) UpsertEntryHandler(c echo.Context) error {
	var entry models.DataEntry
	if err := c.Bind(&entry); err != nil {
		return err
	}

	saved, created, err := a.Store.Upsert(c.Request().Context(), &entry)
	if err != nil {
		return a.storeError(c, err, "save entry")
	}

	if created {
		return c.JSON(http.StatusCreated, saved)
	}
	return c.JSON(http.StatusOK, saved)
}

// UpdateEntryHandler applies a partial update. A JSON null marks an indicator unknown;
// omitted indicators are left as they are.
// PATCH /api/entries/:code/:year
func (a *API) UpdateEntryHandler(c echo.Context) error {
	key, err := entryKeyParam(c)
	if err != nil {
		return err
	}

	var changes services.EntryChanges
	decoder := json.NewDecoder(c.Request().Body)
	decoder.UseNumber()
	if err := decoder.Decode(&changes); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Request body must be a JSON object")
	}

	updated, err := a.Store.Update(c.Request().Context(), key, changes)
	if err != nil {
		return a.storeError(c, err, "update entry")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteEntryHandler removes an entry. Deleting a missing entry is a 404.
// DELETE /api/entries/:code/:year
func (a *API) DeleteEntryHandler(c echo.Context) error {
	key, err := entryKeyParam(c)
	if err != nil {
		return err
	}

	if err := a.Store.Delete(c.Request().Context(), key); err != nil {
		return a.storeError(c, err, "delete entry")
	}

	a.Logger.Infow("data entry deleted", "country_code", key.CountryCode, "year", key.Year)
	return c.NoContent(http.StatusNoContent)
}

func entryKeyParam(c echo.Context) (services.EntryKey, error) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		return services.EntryKey{}, echo.NewHTTPError(http.StatusBadRequest, "year must be an integer")
	}
	return services.EntryKey{CountryCode: c.Param("code"), Year: year}, nil
}

func parseEntryFilter(c echo.Context) (services.EntryFilter, error) {
	var filter services.EntryFilter
	params := c.QueryParams()

	for _, value := range params["country"] {
		for _, code := range strings.Split(value, ",") {
			if code = strings.TrimSpace(code); code != "" {
				filter.CountryCodes = append(filter.CountryCodes, code)
			}
		}
	}

	var err error
	if filter.YearFrom, err = optionalInt(c, "year_from"); err != nil {
		return filter, err
	}
	if filter.YearTo, err = optionalInt(c, "year_to"); err != nil {
		return filter, err
	}

	for _, raw := range params["where"] {
		cond, err := services.ParseCondition(raw)
		if err != nil {
			return filter, err
		}
		filter.Conditions = append(filter.Conditions, cond)
	}

	filter.OrderBy = c.QueryParam("order")
	if desc := c.QueryParam("desc"); desc != "" {
		if filter.Descending, err = strconv.ParseBool(desc); err != nil {
			return filter, &services.ValidationError{Field: "desc", Reason: "must be true or false"}
		}
	}

	limit, err := optionalInt(c, "limit")
	if err != nil {
		return filter, err
	}
	if limit != nil {
		filter.Limit = *limit
	}
	offset, err := optionalInt(c, "offset")
	if err != nil {
		return filter, err
	}
	if offset != nil {
		filter.Offset = *offset
	}

	return filter, nil
}

func optionalInt(c echo.Context, name string) (*int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &services.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return &n, nil
}
