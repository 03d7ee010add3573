package commit

import (
	"context"
	"testing"

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
	db, err := storebolt.Open(t.TempDir() + "/commit-test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestValidateRefs_MissingNodeRejectedUnderStrictPolicy(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	missingNode := idcodec.TypedId(5)
	body := elementlog.Body{Kind: elementlog.BodyKindWay, Refs: []idcodec.TypedId{missingNode}}

	err = validateRefs(ctx, txn, body, ReferencePolicyStrict)
	require.Error(t, err)
	require.True(t, osmerr.Is(err, osmerr.KindBadReference))
}

func TestValidateRefs_AllowDanglingSkipsCheck(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	body := elementlog.Body{Kind: elementlog.BodyKindWay, Refs: []idcodec.TypedId{idcodec.TypedId(99)}}
	require.NoError(t, validateRefs(ctx, txn, body, ReferencePolicyAllowDangling))
}

func TestValidateRefs_ExistingNodeAccepted(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	nodeID, err := idcodec.Encode(idcodec.KindNode, 1)
	require.NoError(t, err)
	v := elementlog.ElementVersion{
		TypedId: nodeID, Version: 1, ChangesetId: 1, Visible: true,
		Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 1, Lat: 2}},
		SequenceId: 1,
	}
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{v}))

	body := elementlog.Body{Kind: elementlog.BodyKindWay, Refs: []idcodec.TypedId{nodeID}}
	require.NoError(t, validateRefs(ctx, txn, body, ReferencePolicyStrict))
}

func TestGeometryHint_WayUnionsResolvedNodes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	n1, _ := idcodec.Encode(idcodec.KindNode, 1)
	n2, _ := idcodec.Encode(idcodec.KindNode, 2)
	versions := []elementlog.ElementVersion{
		{TypedId: n1, Version: 1, ChangesetId: 1, Visible: true, SequenceId: 1,
			Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 0, Lat: 0}}},
		{TypedId: n2, Version: 1, ChangesetId: 1, Visible: true, SequenceId: 2,
			Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 1, Lat: 1}}},
	}
	require.NoError(t, elementlog.Append(ctx, txn, versions))

	wayBody := elementlog.Body{Kind: elementlog.BodyKindWay, Refs: []idcodec.TypedId{n1, n2}}
	env := geometryHint(ctx, txn, wayBody)
	require.True(t, env.Valid)
	require.Equal(t, 0.0, env.MinLon)
	require.Equal(t, 1.0, env.MaxLon)
}
