package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Record is the persisted form of a conversation. Older records carry only
// the flat Messages list; migrated records carry the tree alongside a flat
// mirror kept in sync for readers that do not understand the tree schema.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	Nodes              []*Node  `json:"nodes,omitempty"`
	CurrentVariantPath []string `json:"currentVariantPath,omitempty"`
	// VariantMemory carries the tree's switch-back memory. It is not part of
	// the projection path; viewers that only replay currentVariantPath can
	// ignore it.
	VariantMemory []string `json:"variantMemory,omitempty"`

	// Messages mirrors the active projection. It is the source of truth only
	// for records that predate the tree schema.
	Messages Conversation `json:"messages"`
}

func NewRecord() *Record {
	now := time.Now()
	return &Record{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsMigrated reports whether the record already carries tree data.
func (r *Record) IsMigrated() bool {
	return len(r.Nodes) > 0
}

// Migrate converts a flat-list record into tree form. Calling it on an
// already migrated record is a no-op, so load paths can migrate
// unconditionally.
func (r *Record) Migrate() *Tree {
	if r.IsMigrated() {
		return r.Tree()
	}

	t := NewTreeFromMessages(r.Messages)
	r.ApplyTree(t)
	log.Debug().
		Str("conversation_id", r.ID).
		Int("messages", len(r.Messages)).
		Int("nodes", len(t.Nodes)).
		Msg("migrated flat conversation to tree")
	return t
}

// Tree reconstructs the live tree from the record's wire fields.
func (r *Record) Tree() *Tree {
	return &Tree{Nodes: r.Nodes, Path: r.CurrentVariantPath, Memory: r.VariantMemory}
}

// ApplyTree writes the tree back into the record and refreshes the flat
// mirror from the active projection.
func (r *Record) ApplyTree(t *Tree) {
	r.Nodes = t.Nodes
	r.CurrentVariantPath = t.Path
	r.VariantMemory = t.Memory
	r.Messages = t.Projection()
	r.UpdatedAt = time.Now()
}

// ParseRecord decodes a persisted conversation and migrates it if needed.
func ParseRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "could not parse conversation record")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Migrate()
	return &r, nil
}

func (r *Record) MarshalIndent() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize conversation record")
	}
	return b, nil
}
