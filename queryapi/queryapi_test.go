package queryapi_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/materializer"
	"osmcore.dev/osmerr"
	"osmcore.dev/queryapi"
	"osmcore.dev/store"
	"osmcore.dev/store/storebolt"
)

type fixedWatermark store.SequenceID

func (f fixedWatermark) GlobalWatermark() store.SequenceID { return store.SequenceID(f) }

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := storebolt.Open(t.TempDir() + "/queryapi-test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAPI_GetElementAndHistory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	nodeID, err := idcodec.Encode(idcodec.KindNode, 1)
	require.NoError(t, err)

	txn, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		{TypedId: nodeID, Version: 1, ChangesetId: 1, Visible: true, SequenceId: 1,
			Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 1, Lat: 2}}},
		{TypedId: nodeID, Version: 2, ChangesetId: 1, Visible: true, SequenceId: 2,
			Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 3, Lat: 4}}},
	}))
	_, err = st.Commit(ctx, txn)
	require.NoError(t, err)

	api := queryapi.New(st, fixedWatermark(2), queryapi.Config{})

	latest, err := api.GetElement(ctx, nodeID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), latest.Version)

	v1 := int64(1)
	first, err := api.GetElement(ctx, nodeID, &v1, nil)
	require.NoError(t, err)
	require.Equal(t, geom.Point{Lon: 1, Lat: 2}, first.Body.Point)

	history, err := api.History(ctx, nodeID, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestAPI_GetGeometry_NotFound(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	api := queryapi.New(st, fixedWatermark(0), queryapi.Config{})

	_, err := api.GetGeometry(ctx, idcodec.TypedId(42), nil)
	require.Error(t, err)
	require.True(t, osmerr.Is(err, osmerr.KindNotFound))
}

func TestAPI_ElementsInBBox(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	nodeID, err := idcodec.Encode(idcodec.KindNode, 1)
	require.NoError(t, err)

	txn, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, materializer.PutGeometry(ctx, txn, materializer.MaterializedGeometry{
		TypedId: nodeID, SequenceId: 1, Geom: geom.NewPoint(geom.Point{Lon: 10, Lat: 10}),
	}))
	_, err = st.Commit(ctx, txn)
	require.NoError(t, err)

	api := queryapi.New(st, fixedWatermark(1), queryapi.Config{H3Resolution: geom.CellResolution(6)})
	ids, err := api.ElementsInBBox(ctx, geom.Envelope{MinLon: 9, MinLat: 9, MaxLon: 11, MaxLat: 11, Valid: true}, nil)
	require.NoError(t, err)
	require.Contains(t, ids, nodeID)
}

func TestAPI_TooManyResults(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	nodeID, err := idcodec.Encode(idcodec.KindNode, 1)
	require.NoError(t, err)
	txn, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		{TypedId: nodeID, Version: 1, ChangesetId: 1, Visible: true, SequenceId: 1,
			Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 1, Lat: 1}}},
		{TypedId: nodeID, Version: 2, ChangesetId: 1, Visible: true, SequenceId: 2,
			Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 2, Lat: 2}}},
	}))
	_, err = st.Commit(ctx, txn)
	require.NoError(t, err)

	tiny := queryapi.New(st, fixedWatermark(2), queryapi.Config{MaxResults: 1})
	_, err = tiny.History(ctx, nodeID, nil)
	require.Error(t, err)
	require.True(t, osmerr.Is(err, osmerr.KindTooManyResults))
}
