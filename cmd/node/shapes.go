package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"swarmhive/internal/model"
	"swarmhive/internal/shape"
	"swarmhive/internal/store"
)

// labelMaterializer replicates the hive's swarm-wide label table into the
// node's local labels table. Projects and task lifecycle are carried over
// the session connection's ProjectSync/TaskAssign/TaskSyncResponse messages
// instead (the session peer already owns those, and giving them a second,
// independently-polled channel here would just be two sources of truth for
// the same row); labels get their own shape
// because the version-monotonicity merge needs every node to observe
// every other node's label edits, not just the one node that made them.
type labelMaterializer struct {
	store *store.Store
}

type labelRow struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organization_id"`
	ProjectID      string  `json:"project_id"`
	OriginNodeID   string  `json:"origin_node_id"`
	Name           string  `json:"name"`
	Icon           string  `json:"icon"`
	Color          string  `json:"color"`
	Version        int64   `json:"version"`
	DeletedAt      *string `json:"deleted_at"`
}

func (m *labelMaterializer) apply(value json.RawMessage) error {
	var row labelRow
	if err := json.Unmarshal(value, &row); err != nil {
		return fmt.Errorf("labels shape: decode row: %w", err)
	}
	l := model.Label{
		ID:           row.ID,
		OrgID:        row.OrganizationID,
		ProjectID:    row.ProjectID,
		OriginNodeID: row.OriginNodeID,
		Name:         row.Name,
		Icon:         row.Icon,
		Color:        row.Color,
		Version:      row.Version,
	}
	if row.DeletedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *row.DeletedAt); err == nil {
			l.DeletedAt = &t
		}
	}
	return m.store.UpsertFromNode(context.Background(), l)
}

func (m *labelMaterializer) Insert(_ string, value json.RawMessage) error { return m.apply(value) }
func (m *labelMaterializer) Update(_ string, value json.RawMessage) error { return m.apply(value) }

// Delete is a no-op: labels are soft-deleted (deleted_at + version bump)
// and arrive as an Update, never a hard Delete.
func (m *labelMaterializer) Delete(key string) error { return nil }

// Reset is a no-op: the next full resnapshot simply replays every label as
// an Update, and UpsertFromNode's version check makes that idempotent.
func (m *labelMaterializer) Reset() error { return nil }

var _ shape.Materializer = (*labelMaterializer)(nil)

func newLabelShapeConsumer(baseURL string, s *store.Store, logger *log.Logger) *shape.Consumer {
	return shape.New(shape.ShapeSpec{
		BaseURL: baseURL,
		Table:   "labels",
	}, &labelMaterializer{store: s}, logger)
}
