package idcodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osmcore.dev/idcodec"
	"osmcore.dev/osmerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, kind := range []idcodec.Kind{idcodec.KindNode, idcodec.KindWay, idcodec.KindRelation} {
		for _, id := range []uint64{1, idcodec.Budget - 1} {
			typed, err := idcodec.Encode(kind, id)
			require.NoError(t, err)

			gotKind, gotID, err := idcodec.Decode(typed)
			require.NoError(t, err)
			assert.Equal(t, kind, gotKind)
			assert.Equal(t, id, gotID)
		}
	}
}

func TestEncodeOverflow(t *testing.T) {
	_, err := idcodec.Encode(idcodec.KindNode, idcodec.Budget)
	assert.True(t, osmerr.Is(err, osmerr.KindIdOverflow))

	_, err = idcodec.Encode(idcodec.KindNode, 0)
	assert.Error(t, err)
}

func TestDecodeReservedRange(t *testing.T) {
	_, _, err := idcodec.Decode(0)
	assert.Error(t, err)

	_, _, err = idcodec.Decode(idcodec.TypedId(3 * idcodec.Budget))
	assert.Error(t, err)
}

func TestKindPartitionsOrdering(t *testing.T) {
	node, err := idcodec.Encode(idcodec.KindNode, idcodec.Budget-1)
	require.NoError(t, err)
	way, err := idcodec.Encode(idcodec.KindWay, 1)
	require.NoError(t, err)
	assert.Less(t, node, way)
}

func TestParseRef(t *testing.T) {
	n, err := idcodec.Encode(idcodec.KindNode, 5)
	require.NoError(t, err)

	typed, version, err := idcodec.ParseRef("5v2")
	require.NoError(t, err)
	assert.Equal(t, n, typed)
	assert.EqualValues(t, 2, version)

	_, _, err = idcodec.ParseRef("0v1")
	assert.Error(t, err)

	_, _, err = idcodec.ParseRef("5v0")
	assert.Error(t, err)

	_, _, err = idcodec.ParseRef("5")
	assert.Error(t, err)

	_, _, err = idcodec.ParseRef("v5")
	assert.Error(t, err)
}
