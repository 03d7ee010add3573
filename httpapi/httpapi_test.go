package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/httpapi"
	"osmcore.dev/idcodec"
	"osmcore.dev/queryapi"
	"osmcore.dev/store"
	"osmcore.dev/store/storebolt"
)

type fixedWatermark store.SequenceID

func (f fixedWatermark) GlobalWatermark() store.SequenceID { return store.SequenceID(f) }

func newTestHandler(t *testing.T) (*httpapi.Handler, idcodec.TypedId) {
	t.Helper()
	st, err := storebolt.Open(t.TempDir() + "/httpapi-test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	nodeID, err := idcodec.Encode(idcodec.KindNode, 1)
	require.NoError(t, err)

	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		{TypedId: nodeID, Version: 1, ChangesetId: 1, Visible: true, SequenceId: 1,
			Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 5, Lat: 6}}},
	}))
	_, err = st.Commit(ctx, txn)
	require.NoError(t, err)

	api := queryapi.New(st, fixedWatermark(1), queryapi.Config{})
	return httpapi.New(api, "test"), nodeID
}

func doRequest(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Healthz(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e.Group(""))

	rec := doRequest(e, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_GetElement(t *testing.T) {
	h, nodeID := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e.Group(""))

	rec := doRequest(e, http.MethodGet, "/elements/"+itoa(nodeID))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_GetElement_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e.Group(""))

	missing, err := idcodec.Encode(idcodec.KindNode, 9999)
	require.NoError(t, err)

	rec := doRequest(e, http.MethodGet, "/elements/"+itoa(missing))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ElementsInBBox_BadParam(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e.Group(""))

	rec := doRequest(e, http.MethodGet, "/elements?bbox=not-a-bbox")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(id idcodec.TypedId) string {
	return strconv.FormatUint(uint64(id), 10)
}
