// Package models defines the domain types for Weft.
package models

import "time"

// BindingStatus is the lifecycle status of a binding. "deleted" is terminal.
type BindingStatus string

// Binding lifecycle statuses.
const (
	StatusPending BindingStatus = "pending"
	StatusVisible BindingStatus = "visible"
	StatusHidden  BindingStatus = "hidden"
	StatusDeleted BindingStatus = "deleted"
)

// Valid reports whether s is a known lifecycle status.
func (s BindingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVisible, StatusHidden, StatusDeleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s BindingStatus) Terminal() bool {
	return s == StatusDeleted
}

// TransitionType classifies who/what caused a status transition.
type TransitionType string

// Transition types.
const (
	TransitionArbitrationApprove TransitionType = "arbitration_approve"
	TransitionArbitrationReject  TransitionType = "arbitration_reject"
	TransitionUserHide           TransitionType = "user_hide"
	TransitionUserRestore        TransitionType = "user_restore"
	TransitionUserDelete         TransitionType = "user_delete"
	TransitionSystemReconcile    TransitionType = "system_reconcile"
)

// Valid reports whether t is a known transition type.
func (t TransitionType) Valid() bool {
	switch t {
	case TransitionArbitrationApprove, TransitionArbitrationReject,
		TransitionUserHide, TransitionUserRestore,
		TransitionUserDelete, TransitionSystemReconcile:
		return true
	}
	return false
}

// Provenance records the origin of an anchor or binding.
type Provenance string

// Provenance values. ProvenanceUserRejected marks an anchor whose concept the
// user explicitly rejected; automated passes must not re-propose it.
const (
	ProvenanceAI           Provenance = "ai"
	ProvenanceUser         Provenance = "user"
	ProvenanceHybrid       Provenance = "hybrid"
	ProvenanceUserRejected Provenance = "user_rejected"
)

// Valid reports whether p is a known provenance tag.
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceAI, ProvenanceUser, ProvenanceHybrid, ProvenanceUserRejected:
		return true
	}
	return false
}

// ReviewState is the human review/approval state of a binding, independent of
// its lifecycle status.
type ReviewState string

// Review states.
const (
	ReviewPending  ReviewState = "pending"
	ReviewApproved ReviewState = "approved"
	ReviewRejected ReviewState = "rejected"
	ReviewModified ReviewState = "modified"
)

// ActorType identifies the kind of actor behind a transition.
type ActorType string

// Actor types.
const (
	ActorUser   ActorType = "user"
	ActorAI     ActorType = "ai"
	ActorSystem ActorType = "system"
)

// Binding links a document-side locus (block + optional offset range, optional
// concept) to a canvas-side target (element or compound node). Bindings are
// soft-deleted through status transitions; rows are removed physically only
// when the owning document is deleted.
type Binding struct {
	ID             string         `json:"id"`
	DocumentID     string         `json:"documentId"`
	CanvasID       string         `json:"canvasId"`
	BlockID        string         `json:"blockId,omitempty"`
	ElementID      string         `json:"elementId,omitempty"`
	CompoundNodeID string         `json:"compoundNodeId,omitempty"`
	ConceptID      string         `json:"conceptId,omitempty"`
	StartOffset    *int           `json:"startOffset,omitempty"`
	EndOffset      *int           `json:"endOffset,omitempty"`
	BindingType    string         `json:"bindingType"`
	Direction      string         `json:"direction"`
	Provenance     Provenance     `json:"provenance"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Review         ReviewState    `json:"status"`
	CurrentStatus  BindingStatus  `json:"currentStatus"`
	AnchorText     string         `json:"anchorText,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Anchor is a located claim that a concept is referenced in a block. Offsets
// are a half-open interval [Start, End) of characters in the block's plain
// text. Locked anchors are immune to automated re-annotation.
type Anchor struct {
	ID           string     `json:"id"`
	BlockID      string     `json:"blockId"`
	OwnerID      string     `json:"ownerId"`
	Start        int        `json:"start"`
	End          int        `json:"end"`
	ConceptID    string     `json:"conceptId,omitempty"`
	ConceptTitle string     `json:"conceptTitle"`
	ConceptType  string     `json:"conceptType"`
	Provenance   Provenance `json:"provenance"`
	Locked       bool       `json:"locked"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Concept is a canonical, user-scoped named entity. Identity is
// (owner, title, type), case-insensitively unique. Concepts are created only
// through the explicit creation path, never as a side effect of resolution.
type Concept struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// Proposal is an ephemeral candidate anchor produced by an analyzer. It exists
// only within one synchronization pass and is never persisted.
type Proposal struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Block is one entry in the flat, ordered structural projection of a document.
// PlainText concatenates the inline text runs of the source block.
type Block struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Type       string `json:"type"`
	PlainText  string `json:"plainText"`
	Order      int    `json:"order"`
}

// StatusLogEntry is one immutable audit record of a binding status transition.
type StatusLogEntry struct {
	ID             string         `json:"id"`
	BindingID      string         `json:"bindingId"`
	NewStatus      BindingStatus  `json:"newStatus"`
	PreviousStatus BindingStatus  `json:"previousStatus"`
	Transition     TransitionType `json:"transitionType"`
	ActorID        string         `json:"actorId"`
	ActorType      ActorType      `json:"actorType"`
	Reason         string         `json:"reason,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Binding change notification event names. Hide/show/delete operations carry
// the action-specific name; transitions applied remotely (explicit or batch)
// use EventStatusChanged.
const (
	EventBindingHidden  = "binding.hidden"
	EventBindingShown   = "binding.shown"
	EventBindingDeleted = "binding.deleted"
	EventStatusChanged  = "binding.status-changed"
)

// StatusEventType maps a target lifecycle status to its action-specific
// notification event name.
func StatusEventType(s BindingStatus) string {
	switch s {
	case StatusHidden:
		return EventBindingHidden
	case StatusVisible:
		return EventBindingShown
	case StatusDeleted:
		return EventBindingDeleted
	}
	return EventStatusChanged
}

// BindingChange is the payload of binding change notification events.
type BindingChange struct {
	BindingID      string        `json:"bindingId"`
	ElementID      string        `json:"elementId,omitempty"`
	BlockID        string        `json:"blockId,omitempty"`
	Status         BindingStatus `json:"status"`
	PreviousStatus BindingStatus `json:"previousStatus"`
}

// InconsistencyKind classifies a detected mismatch between a binding's
// recorded status and the observed existence of its counterparts.
type InconsistencyKind string

// Inconsistency kinds.
const (
	InconsistencyOrphaned       InconsistencyKind = "orphaned"
	InconsistencyMissingMark    InconsistencyKind = "missing-mark"
	InconsistencyStatusMismatch InconsistencyKind = "status-mismatch"
	InconsistencyGhostBinding   InconsistencyKind = "ghost-binding"
)

// SuggestedResolution is the recommended corrective action for an
// inconsistency. Applying it is an audited, explicit operation.
type SuggestedResolution string

// Suggested resolutions.
const (
	ResolveDeleteBinding   SuggestedResolution = "delete-binding"
	ResolveRestoreElement  SuggestedResolution = "restore-element"
	ResolveDemoteToPending SuggestedResolution = "demote-to-pending"
	ResolveUpdateStatus    SuggestedResolution = "update-status"
	ResolveManualReview    SuggestedResolution = "manual-review"
)

// Inconsistency is a detected status/existence mismatch for one binding.
// Mutable only to record its resolution.
type Inconsistency struct {
	ID         string              `json:"id"`
	BindingID  string              `json:"bindingId"`
	DocumentID string              `json:"documentId"`
	Kind       InconsistencyKind   `json:"kind"`
	Suggested  SuggestedResolution `json:"suggestedResolution"`
	Confidence float64             `json:"confidence"`
	DetectedAt time.Time           `json:"detectedAt"`
	ResolvedAt *time.Time          `json:"resolvedAt,omitempty"`
	ResolvedBy string              `json:"resolvedBy,omitempty"`
	Resolution string              `json:"resolution,omitempty"`
}

// ExistenceFacts are independently observed existence facts for one binding,
// reported by the canvas/editor side. They are inputs to inconsistency
// detection, never authoritative state.
type ExistenceFacts struct {
	BindingID     string `json:"bindingId"`
	ElementExists bool   `json:"elementExists"`
	MarkExists    bool   `json:"markExists"`
}

// DocumentMetadata is a lightweight representation returned by list operations.
type DocumentMetadata struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}
