package handlers

import (
	"net/http"

	"gdp_atlas_go/services"

	"github.com/labstack/echo/v4"
)

// ListCountriesHandler returns the country reference table
// GET /api/countries
func (a *API) ListCountriesHandler(c echo.Context) error {
	countries, err := services.ListCountries(c.Request().Context(), a.DB)
	if err != nil {
		return a.storeError(c, err, "fetch countries")
	}
	return c.JSON(http.StatusOK, countries)
}

// GetCountryHandler returns a single country
// GET /api/countries/:code
func (a *API) GetCountryHandler(c echo.Context) error {
	country, err := services.GetCountry(c.Request().Context(), a.DB, c.Param("code"))
	if err != nil {
		return a.storeError(c, err, "fetch country")
	}
	return c.JSON(http.StatusOK, country)
}
