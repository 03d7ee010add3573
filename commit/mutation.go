package commit

import (
	"osmcore.dev/elementlog"
	"osmcore.dev/idcodec"
)

// MutationKind discriminates the three mutation variants a batch may mix.
type MutationKind int

const (
	MutationCreate MutationKind = iota
	MutationModify
	MutationDelete
)

// Mutation is one element change submitted within a commit batch.
// Create leaves TypedId/BaseVersion zero; CommitPipeline allocates the id.
// Modify and Delete must name the typed_id and the version they were edited
// against, checked against ElementLog's current latest.
type Mutation struct {
	Kind        MutationKind
	TypedId     idcodec.TypedId // Modify, Delete
	ElementKind idcodec.Kind    // Create
	BaseVersion int64           // Modify, Delete
	Tags        map[string]string
	Body        elementlog.Body
}
