package dependency_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osmcore.dev/dependency"
	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/store"
	"osmcore.dev/store/storebolt"
)

func setup(t *testing.T) (store.Store, store.Txn) {
	t.Helper()
	db, err := storebolt.Open(filepath.Join(t.TempDir(), "dep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	txn, err := db.Begin(context.Background())
	require.NoError(t, err)
	return db, txn
}

func node(id idcodec.TypedId, seq store.SequenceID) elementlog.ElementVersion {
	return elementlog.ElementVersion{
		TypedId: id, Version: 1, ChangesetId: 1, Visible: true,
		Body:       elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{}},
		SequenceId: seq, Latest: true,
	}
}

func way(id idcodec.TypedId, refs []idcodec.TypedId, seq store.SequenceID) elementlog.ElementVersion {
	return elementlog.ElementVersion{
		TypedId: id, Version: 1, ChangesetId: 1, Visible: true,
		Body:       elementlog.Body{Kind: elementlog.BodyKindWay, Refs: refs},
		SequenceId: seq, Latest: true,
	}
}

func relation(id idcodec.TypedId, members []elementlog.Member, seq store.SequenceID) elementlog.ElementVersion {
	return elementlog.ElementVersion{
		TypedId: id, Version: 1, ChangesetId: 1, Visible: true,
		Body:       elementlog.Body{Kind: elementlog.BodyKindRelation, Members: members},
		SequenceId: seq, Latest: true,
	}
}

func TestDependents_WayDependsOnNode(t *testing.T) {
	ctx := context.Background()
	_, txn := setup(t)

	n1, _ := idcodec.Encode(idcodec.KindNode, 1)
	n2, _ := idcodec.Encode(idcodec.KindNode, 2)
	w1, _ := idcodec.Encode(idcodec.KindWay, 1)

	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{node(n1, 1), node(n2, 2)}))
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{way(w1, []idcodec.TypedId{n1, n2}, 3)}))

	r := dependency.New(5)
	depth, err := r.Dependents(ctx, txn, []idcodec.TypedId{n1}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[idcodec.TypedId]int{w1: 1}, depth)
}

func TestDependents_RelationOfRelation(t *testing.T) {
	ctx := context.Background()
	_, txn := setup(t)

	w1, _ := idcodec.Encode(idcodec.KindWay, 1)
	rel1, _ := idcodec.Encode(idcodec.KindRelation, 1)
	rel2, _ := idcodec.Encode(idcodec.KindRelation, 2)

	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{way(w1, nil, 1)}))
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		relation(rel1, []elementlog.Member{{Role: "outer", Ref: w1}}, 2),
	}))
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		relation(rel2, []elementlog.Member{{Role: "", Ref: rel1}}, 3),
	}))

	r := dependency.New(5)
	depth, err := r.Dependents(ctx, txn, []idcodec.TypedId{w1}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, depth[rel1])
	assert.Equal(t, 2, depth[rel2])

	order := dependency.Ordered(depth)
	assert.Equal(t, []idcodec.TypedId{rel1, rel2}, order)
}

func TestDependents_DepthBound(t *testing.T) {
	ctx := context.Background()
	_, txn := setup(t)

	n1, _ := idcodec.Encode(idcodec.KindNode, 1)
	w1, _ := idcodec.Encode(idcodec.KindWay, 1)
	rel1, _ := idcodec.Encode(idcodec.KindRelation, 1)

	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{node(n1, 1)}))
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{way(w1, []idcodec.TypedId{n1}, 2)}))
	require.NoError(t, elementlog.Append(ctx, txn, []elementlog.ElementVersion{
		relation(rel1, []elementlog.Member{{Role: "", Ref: w1}}, 3),
	}))

	r := dependency.New(1)
	depth, err := r.Dependents(ctx, txn, []idcodec.TypedId{n1}, 1)
	require.NoError(t, err)
	assert.Equal(t, map[idcodec.TypedId]int{w1: 1}, depth)
	assert.NotContains(t, depth, rel1)
}
