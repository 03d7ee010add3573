package commit

import (
	"encoding/binary"
	"encoding/json"
	"sort"

	"golang.org/x/crypto/blake2b"

	"osmcore.dev/elementlog"
	"osmcore.dev/idcodec"
)

// Fingerprint content-hashes (typed_id, body, tags, visible) so
// CommitPipeline can recognize a Modify identical to the element's current
// latest version and skip it before it consumes a version slot. The
// base_version check runs first, so a resubmitted edit whose base version
// has already been superseded fails with VersionConflict instead.
func Fingerprint(id idcodec.TypedId, body elementlog.Body, tags map[string]string, visible bool) ([16]byte, error) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	orderedTags := make([][2]string, 0, len(keys))
	for _, k := range keys {
		orderedTags = append(orderedTags, [2]string{k, tags[k]})
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return [16]byte{}, err
	}
	tagsJSON, err := json.Marshal(orderedTags)
	if err != nil {
		return [16]byte{}, err
	}

	h, err := blake2b.New(16, nil)
	if err != nil {
		return [16]byte{}, err
	}
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(id))
	_, _ = h.Write(idBuf[:])
	_, _ = h.Write(bodyJSON)
	_, _ = h.Write(tagsJSON)
	if visible {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}

	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
