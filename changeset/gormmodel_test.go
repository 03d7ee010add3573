package changeset

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTags_ScanValue(t *testing.T) {
	t.Run("round trip through Value/Scan", func(t *testing.T) {
		tags := Tags{"highway": "residential", "name": "Main St"}
		raw, err := tags.Value()
		require.NoError(t, err)

		var out Tags
		require.NoError(t, out.Scan(raw))
		assert.Equal(t, tags, out)
	})

	t.Run("nil tags value as empty object", func(t *testing.T) {
		var tags Tags
		raw, err := tags.Value()
		require.NoError(t, err)
		assert.Equal(t, "{}", raw)
	})

	t.Run("scan nil clears map", func(t *testing.T) {
		tags := Tags{"a": "b"}
		require.NoError(t, tags.Scan(nil))
		assert.Nil(t, tags)
	})

	t.Run("scan string form", func(t *testing.T) {
		var tags Tags
		require.NoError(t, tags.Scan(`{"surface":"paved"}`))
		assert.Equal(t, Tags{"surface": "paved"}, tags)
	})

	t.Run("scan rejects unsupported type", func(t *testing.T) {
		var tags Tags
		err := tags.Scan(42)
		assert.Error(t, err)
	})
}

func TestChangeset_TableName(t *testing.T) {
	assert.Equal(t, "changeset", Changeset{}.TableName())
	assert.Equal(t, "changeset_bounds", ChangesetBounds{}.TableName())
}

func TestChangeset_JSONRoundTrip(t *testing.T) {
	now := time.Now()
	userID := int64(7)
	cs := Changeset{
		ID:          1,
		UserID:      &userID,
		Tags:        Tags{"created_by": "editor"},
		CreatedAt:   now,
		UpdatedAt:   now,
		Size:        3,
		CountCreate: 2,
		CountModify: 1,
	}

	data, err := json.Marshal(cs)
	require.NoError(t, err)

	var decoded Changeset
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, cs.ID, decoded.ID)
	assert.Equal(t, cs.Tags, decoded.Tags)
	assert.Equal(t, cs.Size, decoded.Size)
}
