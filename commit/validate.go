package commit

import (
	"context"

	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/osmerr"
	"osmcore.dev/store"
)

// ReferencePolicy controls whether a dangling member reference fails the
// commit or is permitted through.
type ReferencePolicy int

const (
	ReferencePolicyStrict ReferencePolicy = iota
	ReferencePolicyAllowDangling
)

// validateRefs checks that every TypedId a way/relation body mentions
// exists in ElementLog under any version, visible or not.
func validateRefs(ctx context.Context, txn store.Txn, body elementlog.Body, policy ReferencePolicy) error {
	if policy == ReferencePolicyAllowDangling {
		return nil
	}
	switch body.Kind {
	case elementlog.BodyKindWay:
		for _, ref := range body.Refs {
			if err := mustExist(ctx, txn, ref); err != nil {
				return err
			}
		}
	case elementlog.BodyKindRelation:
		for _, m := range body.Members {
			if err := mustExist(ctx, txn, m.Ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func mustExist(ctx context.Context, txn store.Txn, id idcodec.TypedId) error {
	history, err := elementlog.History(ctx, txn, id)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return osmerr.Errorf(osmerr.KindBadReference, "commit.validateRefs", nil)
	}
	return nil
}

// geometryHint returns the envelope a body contributes to a commit's
// changeset bounds update: a node's own point, the union of a way's
// resolvable referenced node points, or an empty envelope for a relation
// (purely derived, so skipped here).
func geometryHint(ctx context.Context, txn store.Txn, body elementlog.Body) geom.Envelope {
	switch body.Kind {
	case elementlog.BodyKindNode:
		return geom.EnvelopeOf(body.Point)
	case elementlog.BodyKindWay:
		var env geom.Envelope
		for _, ref := range body.Refs {
			v, err := elementlog.GetLatest(ctx, txn, ref)
			if err != nil || !v.Visible || v.Body.Kind != elementlog.BodyKindNode {
				continue
			}
			env = env.Union(geom.EnvelopeOf(v.Body.Point))
		}
		return env
	default:
		return geom.Envelope{}
	}
}
