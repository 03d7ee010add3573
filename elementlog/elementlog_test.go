package elementlog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/osmerr"
	"osmcore.dev/store"
	"osmcore.dev/store/storebolt"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "elementlog.db")
	db, err := storebolt.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(); os.Remove(path) })
	return db
}

func nodeVersion(id idcodec.TypedId, version int64, seq store.SequenceID, p geom.Point) elementlog.ElementVersion {
	return elementlog.ElementVersion{
		TypedId:     id,
		Version:     version,
		ChangesetId: 1,
		Visible:     true,
		Body:        elementlog.Body{Kind: elementlog.BodyKindNode, Point: p},
		SequenceId:  seq,
		Latest:      true,
	}
}

func TestAppend_FirstVersionMustBeOne(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	n1, err := idcodec.Encode(idcodec.KindNode, 1)
	require.NoError(t, err)

	t.Run("version 1 succeeds", func(t *testing.T) {
		err := elementlog.Append(ctx, txn, []elementlog.ElementVersion{
			nodeVersion(n1, 1, 1, geom.Point{Lon: 2.0, Lat: 49.0}),
		})
		require.NoError(t, err)
	})

	t.Run("first version other than 1 conflicts", func(t *testing.T) {
		n2, err := idcodec.Encode(idcodec.KindNode, 2)
		require.NoError(t, err)
		err = elementlog.Append(ctx, txn, []elementlog.ElementVersion{
			nodeVersion(n2, 2, 2, geom.Point{}),
		})
		assert.True(t, osmerr.Is(err, osmerr.KindVersionConflict))
	})
}

func TestAppend_LatestFlips(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	n1, err := idcodec.Encode(idcodec.KindNode, 7)
	require.NoError(t, err)

	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		nodeVersion(n1, 1, 1, geom.Point{Lon: 0, Lat: 0}),
	}))
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		nodeVersion(n1, 2, 2, geom.Point{Lon: 1, Lat: 1}),
	}))

	latest, err := elementlog.GetLatest(ctx, txn, n1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, latest.Version)
	assert.Equal(t, 1.0, latest.Body.Point.Lon)

	history, err := elementlog.History(ctx, txn, n1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.EqualValues(t, 1, history[0].Version)
	assert.EqualValues(t, 2, history[1].Version)
	assert.False(t, history[0].Latest, "superseded version must be flipped to latest=false")
	assert.True(t, history[1].Latest)
}

func TestAppend_OutOfOrderVersionRejected(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	n1, err := idcodec.Encode(idcodec.KindNode, 9)
	require.NoError(t, err)
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		nodeVersion(n1, 1, 1, geom.Point{}),
	}))

	err = elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		nodeVersion(n1, 3, 2, geom.Point{}),
	})
	assert.True(t, osmerr.Is(err, osmerr.KindVersionConflict))
}

func TestParentsOf(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	n1, _ := idcodec.Encode(idcodec.KindNode, 1)
	n2, _ := idcodec.Encode(idcodec.KindNode, 2)
	n3, _ := idcodec.Encode(idcodec.KindNode, 3)
	w1, _ := idcodec.Encode(idcodec.KindWay, 1)

	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		nodeVersion(n1, 1, 1, geom.Point{Lon: 0, Lat: 0}),
		nodeVersion(n2, 1, 2, geom.Point{Lon: 1, Lat: 0}),
		nodeVersion(n3, 1, 3, geom.Point{Lon: 1, Lat: 1}),
	}))
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		{
			TypedId:     w1,
			Version:     1,
			ChangesetId: 1,
			Visible:     true,
			Body:        elementlog.Body{Kind: elementlog.BodyKindWay, Refs: []idcodec.TypedId{n1, n2, n3}},
			SequenceId:  4,
			Latest:      true,
		},
	}))

	parents, err := elementlog.ParentsOf(ctx, txn, n2)
	require.NoError(t, err)
	assert.Equal(t, []idcodec.TypedId{w1}, parents)

	parents, err = elementlog.ParentsOf(ctx, txn, n1)
	require.NoError(t, err)
	assert.Equal(t, []idcodec.TypedId{w1}, parents)
}

func TestScanBySequence(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		id, _ := idcodec.Encode(idcodec.KindNode, uint64(i))
		require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
			nodeVersion(id, 1, store.SequenceID(i), geom.Point{Lon: float64(i)}),
		}))
	}

	versions, err := elementlog.ScanBySequence(ctx, txn, 2, 5)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.EqualValues(t, 2, versions[0].SequenceId)
	assert.EqualValues(t, 4, versions[2].SequenceId)
}
