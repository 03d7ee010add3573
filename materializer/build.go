package materializer

import (
	"context"

	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/store"
)

// ReferencePolicy controls how the materializer treats a way or relation
// whose referenced geometry cannot be resolved.
type ReferencePolicy int

const (
	PolicyStrict ReferencePolicy = iota
	PolicyLenient
)

// RelationGeometryMode picks between a full member-geometry union and an
// envelope-only summary for a relation's materialized geometry.
type RelationGeometryMode int

const (
	RelationGeometryCollection RelationGeometryMode = iota
	RelationGeometryEnvelope
)

// BuildConfig bundles the policy knobs build needs.
type BuildConfig struct {
	ReferencePolicy      ReferencePolicy
	RelationGeometryMode RelationGeometryMode
}

// buildOutcome is the result of attempting to (re)materialize one typed-id.
type buildOutcome struct {
	id         idcodec.TypedId
	geometry   *geom.Geometry // nil means "delete the materialized row"
	contributingSeq store.SequenceID
}

// geometryOverlay holds the geometries this tick has already (re)built,
// keyed by typed-id. A present key with a nil value records that the id was
// deleted/unresolvable this tick, overriding whatever snap still shows.
// build consults the overlay before falling back to snap so a depth-1
// entry sees a depth-0 dependency's freshly rebuilt geometry within the
// same tick, rather than the pre-tick snapshot.
type geometryOverlay map[idcodec.TypedId]*MaterializedGeometry

// resolveGeometry looks up id's current geometry, preferring anything
// already rebuilt this tick over the pinned snapshot.
func resolveGeometry(ctx context.Context, snap store.Snapshot, overlay geometryOverlay, id idcodec.TypedId) (MaterializedGeometry, bool, error) {
	if g, ok := overlay[id]; ok {
		if g == nil {
			return MaterializedGeometry{}, false, nil
		}
		return *g, true, nil
	}
	return GetGeometry(ctx, snap, id)
}

// build computes the materialized geometry for id from its latest
// ElementVersion, resolving node/member references from overlay (this
// tick's already-rebuilt geometries) falling back to the snapshot.
func build(ctx context.Context, txn store.Txn, snap store.Snapshot, overlay geometryOverlay, cfg BuildConfig, id idcodec.TypedId) (buildOutcome, error) {
	latest, err := elementlog.GetLatest(ctx, txn, id)
	if err != nil {
		return buildOutcome{id: id}, nil // element gone entirely, nothing to materialize
	}
	if !latest.Visible {
		return buildOutcome{id: id, contributingSeq: latest.SequenceId}, nil
	}

	switch latest.Body.Kind {
	case elementlog.BodyKindNode:
		g := geom.NewPoint(latest.Body.Point)
		return buildOutcome{id: id, geometry: &g, contributingSeq: latest.SequenceId}, nil

	case elementlog.BodyKindWay:
		return buildWay(ctx, snap, overlay, cfg, latest)

	case elementlog.BodyKindRelation:
		return buildRelation(ctx, snap, overlay, cfg, latest)
	}
	return buildOutcome{id: id, contributingSeq: latest.SequenceId}, nil
}

func buildWay(ctx context.Context, snap store.Snapshot, overlay geometryOverlay, cfg BuildConfig, v elementlog.ElementVersion) (buildOutcome, error) {
	contributing := v.SequenceId
	line := make(geom.LineString, 0, len(v.Body.Refs))
	missing := false

	for _, ref := range v.Body.Refs {
		g, ok, err := resolveGeometry(ctx, snap, overlay, ref)
		if err != nil {
			return buildOutcome{}, err
		}
		if !ok {
			missing = true
			continue
		}
		if g.SequenceId > contributing {
			contributing = g.SequenceId
		}
		if g.Geom.Kind == geom.KindPoint {
			line = append(line, g.Geom.Point)
		}
	}

	if missing && cfg.ReferencePolicy == PolicyStrict {
		return buildOutcome{id: v.TypedId, contributingSeq: contributing}, nil
	}
	if len(line) == 0 {
		return buildOutcome{id: v.TypedId, contributingSeq: contributing}, nil
	}

	built := geom.NewLineString(line, missing)
	return buildOutcome{id: v.TypedId, geometry: &built, contributingSeq: contributing}, nil
}

func buildRelation(ctx context.Context, snap store.Snapshot, overlay geometryOverlay, cfg BuildConfig, v elementlog.ElementVersion) (buildOutcome, error) {
	contributing := v.SequenceId
	members := make([]geom.Geometry, 0, len(v.Body.Members))
	missing := false

	for _, m := range v.Body.Members {
		g, ok, err := resolveGeometry(ctx, snap, overlay, m.Ref)
		if err != nil {
			return buildOutcome{}, err
		}
		if !ok {
			missing = true
			continue
		}
		if g.SequenceId > contributing {
			contributing = g.SequenceId
		}
		members = append(members, g.Geom)
	}

	if missing && cfg.ReferencePolicy == PolicyStrict {
		return buildOutcome{id: v.TypedId, contributingSeq: contributing}, nil
	}
	if len(members) == 0 {
		return buildOutcome{id: v.TypedId, contributingSeq: contributing}, nil
	}

	var built geom.Geometry
	if cfg.RelationGeometryMode == RelationGeometryEnvelope {
		built = geom.NewEnvelopeOnly(members, missing)
	} else {
		built = geom.NewCollection(members, missing)
	}
	return buildOutcome{id: v.TypedId, geometry: &built, contributingSeq: contributing}, nil
}
