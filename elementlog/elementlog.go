// Package elementlog is the append-only log of OSM element versions: the
// source of truth for both history and current state. Every other
// write-side component (changeset, commit, dependency, materializer)
// reads and appends through this package rather than touching store.Store
// directly.
package elementlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"

	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/osmerr"
	"osmcore.dev/store"
)

const (
	tableElement       = "element"
	tableElementLatest = "element_latest"
	indexBySequence    = "element_by_sequence"
	indexByChangeset   = "element_by_changeset"
	indexMembers       = "element_members"
)

// BodyKind discriminates the three Body variants.
type BodyKind int

const (
	BodyKindNode BodyKind = iota
	BodyKindWay
	BodyKindRelation
)

// Member is one (role, typed_id) pair inside a RelationRefs body.
type Member struct {
	Role string        `json:"role"`
	Ref  idcodec.TypedId `json:"ref"`
}

// Body is the tagged variant a version's payload holds, replacing the
// dynamic dict-shaped element payloads of an OSM-style element with
// explicit, typed fields.
type Body struct {
	Kind BodyKind `json:"kind"`

	// Node
	Point geom.Point `json:"point,omitempty"`

	// Way
	Refs []idcodec.TypedId `json:"refs,omitempty"`

	// Relation
	Members []Member `json:"members,omitempty"`
}

// ElementVersion is one immutable row of the log.
type ElementVersion struct {
	TypedId     idcodec.TypedId   `json:"typed_id"`
	Version     int64             `json:"version"`
	ChangesetId int64             `json:"changeset_id"`
	Visible     bool              `json:"visible"`
	Tags        map[string]string `json:"tags,omitempty"`
	Body        Body              `json:"body"`
	CreatedAt   int64             `json:"created_at"` // unix nanos, caller-supplied
	SequenceId  store.SequenceID  `json:"sequence_id"`
	Latest      bool              `json:"latest"`
	// Fingerprint is a content hash of (typed_id, body, tags, visible).
	// CommitPipeline compares a Modify's fingerprint with the current latest
	// version's and skips the Modify, without consuming a version slot, when
	// they are equal.
	Fingerprint [16]byte `json:"fingerprint"`
}

func elementKey(id idcodec.TypedId, version int64) store.Key {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(id))
	binary.BigEndian.PutUint64(b[8:16], uint64(version))
	return b
}

func latestKey(id idcodec.TypedId) store.Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func sequenceIndexKey(seq store.SequenceID) store.Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}

func changesetIndexKey(changesetID int64, seq store.SequenceID) store.Key {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(changesetID))
	binary.BigEndian.PutUint64(b[8:16], uint64(seq))
	return b
}

func memberIndexKey(ref idcodec.TypedId, owner idcodec.TypedId) store.Key {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(ref))
	binary.BigEndian.PutUint64(b[8:16], uint64(owner))
	return b
}

// Append writes a batch of new versions inside the caller's transaction.
// Every version must be exactly max_version(typed_id)+1 as observed under
// txn; visible=false is only legal when a prior visible version exists for
// that typed_id within the batch or in the log already. On success exactly
// one row per typed_id in the batch carries latest=true and any row it
// superseded is flipped to false in the same transaction.
func Append(ctx context.Context, txn store.Txn, batch []ElementVersion) error {
	for _, v := range batch {
		prev, err := GetLatest(ctx, txn, v.TypedId)
		switch {
		case err == nil:
			if v.Version != prev.Version+1 {
				return osmerr.Errorf(osmerr.KindVersionConflict, "elementlog.Append", nil)
			}
		case osmerr.Is(err, osmerr.KindNotFound):
			if v.Version != 1 {
				return osmerr.Errorf(osmerr.KindVersionConflict, "elementlog.Append", nil)
			}
		default:
			return err
		}
		if !v.Visible && (err != nil || !prev.Visible) {
			return osmerr.Errorf(osmerr.KindBadReference, "elementlog.Append", nil)
		}

		if err == nil {
			prev.Latest = false
			prevRaw, perr := json.Marshal(prev)
			if perr != nil {
				return perr
			}
			if err := txn.Put(ctx, tableElement, elementKey(prev.TypedId, prev.Version), prevRaw); err != nil {
				return err
			}
			// Drop the superseded version's member index rows; indexMembersOf
			// below re-adds the new version's own references.
			prevRefs := prev.Body.Refs
			for _, m := range prev.Body.Members {
				prevRefs = append(prevRefs, m.Ref)
			}
			for _, ref := range prevRefs {
				if err := txn.IndexDelete(ctx, indexMembers, memberIndexKey(ref, prev.TypedId), latestKey(prev.TypedId)); err != nil {
					return err
				}
			}
		}

		raw, merr := json.Marshal(v)
		if merr != nil {
			return merr
		}
		if err := txn.Put(ctx, tableElement, elementKey(v.TypedId, v.Version), raw); err != nil {
			return err
		}
		if err := txn.Put(ctx, tableElementLatest, latestKey(v.TypedId), raw); err != nil {
			return err
		}
		if err := txn.IndexPut(ctx, indexBySequence, sequenceIndexKey(v.SequenceId), elementKey(v.TypedId, v.Version)); err != nil {
			return err
		}
		if err := txn.IndexPut(ctx, indexByChangeset, changesetIndexKey(v.ChangesetId, v.SequenceId), elementKey(v.TypedId, v.Version)); err != nil {
			return err
		}
		if err := indexMembersOf(ctx, txn, v); err != nil {
			return err
		}
	}
	return nil
}

func indexMembersOf(ctx context.Context, txn store.Txn, v ElementVersion) error {
	switch v.Body.Kind {
	case BodyKindWay:
		for _, ref := range v.Body.Refs {
			if err := txn.IndexPut(ctx, indexMembers, memberIndexKey(ref, v.TypedId), latestKey(v.TypedId)); err != nil {
				return err
			}
		}
	case BodyKindRelation:
		for _, m := range v.Body.Members {
			if err := txn.IndexPut(ctx, indexMembers, memberIndexKey(m.Ref, v.TypedId), latestKey(v.TypedId)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns one specific version of a typed_id.
func Get(ctx context.Context, txn store.Txn, id idcodec.TypedId, version int64) (ElementVersion, error) {
	raw, err := txn.Read(ctx, tableElement, elementKey(id, version))
	if err != nil {
		return ElementVersion{}, err
	}
	var v ElementVersion
	if err := json.Unmarshal(raw, &v); err != nil {
		return ElementVersion{}, err
	}
	return v, nil
}

// GetLatest returns the current (latest=true) version of a typed_id.
func GetLatest(ctx context.Context, txn store.Txn, id idcodec.TypedId) (ElementVersion, error) {
	raw, err := txn.Read(ctx, tableElementLatest, latestKey(id))
	if err != nil {
		return ElementVersion{}, err
	}
	var v ElementVersion
	if err := json.Unmarshal(raw, &v); err != nil {
		return ElementVersion{}, err
	}
	return v, nil
}

// ScanBySequence returns every ElementVersion with sequence_id in [from, to)
// in ascending sequence order, the feed SpatialMaterializer and QueryAPI's
// history views consume.
func ScanBySequence(ctx context.Context, txn store.Txn, from, to store.SequenceID) ([]ElementVersion, error) {
	it, err := txn.IndexScan(ctx, indexBySequence, store.KeyRange{
		Start: sequenceIndexKey(from),
		End:   sequenceIndexKey(to),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []ElementVersion
	for {
		_, primaryKey, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		raw, err := txn.Read(ctx, tableElement, primaryKey)
		if err != nil {
			return nil, err
		}
		var v ElementVersion
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ParentsOf returns the typed_ids of every latest-version way or relation
// that currently references id, via the members secondary index.
func ParentsOf(ctx context.Context, txn store.Txn, id idcodec.TypedId) ([]idcodec.TypedId, error) {
	start := memberIndexKey(id, 0)
	end := memberIndexKey(id+1, 0)
	it, err := txn.IndexScan(ctx, indexMembers, store.KeyRange{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	seen := make(map[idcodec.TypedId]bool)
	var out []idcodec.TypedId
	for {
		key, _, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		owner := idcodec.TypedId(binary.BigEndian.Uint64(key[8:16]))
		if !seen[owner] {
			seen[owner] = true
			out = append(out, owner)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// History returns every version of id in ascending version order.
func History(ctx context.Context, txn store.Txn, id idcodec.TypedId) ([]ElementVersion, error) {
	it, err := txn.Scan(ctx, tableElement, store.KeyRange{
		Start: elementKey(id, 0),
		End:   elementKey(id+1, 0),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []ElementVersion
	for {
		_, raw, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		var v ElementVersion
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
