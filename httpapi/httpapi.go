// Package httpapi is a thin Echo adapter over queryapi.API: one route per
// read-side operation, plus a /healthz endpoint. It holds no business logic
// of its own, only request parsing and osmerr.Kind-to-status mapping.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/osmerr"
	"osmcore.dev/queryapi"
	"osmcore.dev/store"
)

// Handler wraps a queryapi.API with Echo routes.
type Handler struct {
	api     *queryapi.API
	version string
}

// New builds a Handler. version is reported on /healthz.
func New(api *queryapi.API, version string) *Handler {
	return &Handler{api: api, version: version}
}

// RegisterRoutes adds the read-side endpoints to an Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/healthz", h.handleHealthz)
	g.GET("/elements/:id", h.handleGetElement)
	g.GET("/elements/:id/geometry", h.handleGetGeometry)
	g.GET("/elements/:id/history", h.handleHistory)
	g.GET("/elements/:id/parents", h.handleParentsOf)
	g.GET("/elements", h.handleElementsInBBox)
	g.GET("/cells/:cell/elements", h.handleElementsInH3)
}

func (h *Handler) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "osmcore",
		"version": h.version,
	})
}

func (h *Handler) handleGetElement(c echo.Context) error {
	id, err := parseTypedId(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	var version *int64
	if raw := c.QueryParam("version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid version"})
		}
		version = &v
	}

	at, err := parseAt(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	el, err := h.api.GetElement(c.Request().Context(), id, version, at)
	if err != nil {
		return statusFor(c, err)
	}
	return c.JSON(http.StatusOK, el)
}

func (h *Handler) handleGetGeometry(c echo.Context) error {
	id, err := parseTypedId(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}
	at, err := parseAt(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	g, err := h.api.GetGeometry(c.Request().Context(), id, at)
	if err != nil {
		return statusFor(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) handleHistory(c echo.Context) error {
	id, err := parseTypedId(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}
	at, err := parseAt(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	history, err := h.api.History(c.Request().Context(), id, at)
	if err != nil {
		return statusFor(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) handleParentsOf(c echo.Context) error {
	id, err := parseTypedId(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}
	at, err := parseAt(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	parents, err := h.api.ParentsOf(c.Request().Context(), id, at)
	if err != nil {
		return statusFor(c, err)
	}
	return c.JSON(http.StatusOK, parents)
}

func (h *Handler) handleElementsInBBox(c echo.Context) error {
	bbox, err := parseBBox(c.QueryParam("bbox"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}
	at, err := parseAt(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	ids, err := h.api.ElementsInBBox(c.Request().Context(), bbox, at)
	if err != nil {
		return statusFor(c, err)
	}
	return c.JSON(http.StatusOK, ids)
}

func (h *Handler) handleElementsInH3(c echo.Context) error {
	raw, err := strconv.ParseUint(c.Param("cell"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid cell"})
	}
	at, err := parseAt(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	ids, err := h.api.ElementsInH3(c.Request().Context(), []geom.Cell{geom.Cell(raw)}, at)
	if err != nil {
		return statusFor(c, err)
	}
	return c.JSON(http.StatusOK, ids)
}

func parseTypedId(raw string) (idcodec.TypedId, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, osmerr.Errorf(osmerr.KindBadTypedId, "httpapi.parseTypedId", err)
	}
	if _, _, err := idcodec.Decode(idcodec.TypedId(v)); err != nil {
		return 0, err
	}
	return idcodec.TypedId(v), nil
}

// parseAt reads an optional ?at=<sequence_id> watermark pin.
func parseAt(c echo.Context) (*store.SequenceID, error) {
	raw := c.QueryParam("at")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, osmerr.Errorf(osmerr.KindBadReference, "httpapi.parseAt", err)
	}
	sid := store.SequenceID(v)
	return &sid, nil
}

// parseBBox reads "min_lon,min_lat,max_lon,max_lat".
func parseBBox(raw string) (geom.Envelope, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return geom.Envelope{}, osmerr.Errorf(osmerr.KindBadReference, "httpapi.parseBBox", nil)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Envelope{}, osmerr.Errorf(osmerr.KindBadReference, "httpapi.parseBBox", err)
		}
		vals[i] = v
	}
	return geom.Envelope{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3], Valid: true}, nil
}

func errBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

// statusFor maps an osmerr.Kind to the HTTP status the query facade reports.
func statusFor(c echo.Context, err error) error {
	switch {
	case osmerr.Is(err, osmerr.KindNotFound):
		return c.JSON(http.StatusNotFound, errBody(err))
	case osmerr.Is(err, osmerr.KindTooManyResults):
		return c.JSON(http.StatusRequestEntityTooLarge, errBody(err))
	case osmerr.Is(err, osmerr.KindBadReference), osmerr.Is(err, osmerr.KindBadTypedId):
		return c.JSON(http.StatusBadRequest, errBody(err))
	case osmerr.Is(err, osmerr.KindUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errBody(err))
	default:
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}
}
