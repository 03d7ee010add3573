package commit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
)

func TestFingerprint_StableForIdenticalInput(t *testing.T) {
	body := elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 1, Lat: 2}}
	tags := map[string]string{"b": "2", "a": "1"}

	fp1, err := Fingerprint(10, body, tags, true)
	require.NoError(t, err)
	fp2, err := Fingerprint(10, body, map[string]string{"a": "1", "b": "2"}, true)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2, "tag key order must not affect the fingerprint")
}

func TestFingerprint_DiffersOnVisibility(t *testing.T) {
	body := elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 1, Lat: 2}}

	visible, err := Fingerprint(10, body, nil, true)
	require.NoError(t, err)
	deleted, err := Fingerprint(10, body, nil, false)
	require.NoError(t, err)

	assert.NotEqual(t, visible, deleted)
}

func TestFingerprint_DiffersOnTypedId(t *testing.T) {
	body := elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 1, Lat: 2}}

	a, err := Fingerprint(10, body, nil, true)
	require.NoError(t, err)
	b, err := Fingerprint(11, body, nil, true)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
