package store

import (
	"context"
	"testing"
	"time"

	"swarmhive/internal/model"
)

func TestUpsertFromNodeVersionMonotonicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := model.Label{ID: "l1", OrgID: "org1", Name: "bug", Color: "#f00", Version: 3}
	if err := s.UpsertFromNode(ctx, base); err != nil {
		t.Fatalf("insert label: %v", err)
	}

	stale := base
	stale.Version = 2
	stale.Name = "stale-name"
	if err := s.UpsertFromNode(ctx, stale); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	got, err := s.GetLabel(ctx, "l1")
	if err != nil {
		t.Fatalf("get label: %v", err)
	}
	if got.Version != 3 || got.Name != "bug" {
		t.Fatalf("stale version overwrote the row: %+v", got)
	}

	newer := base
	newer.Version = 4
	newer.Name = "defect"
	if err := s.UpsertFromNode(ctx, newer); err != nil {
		t.Fatalf("newer upsert: %v", err)
	}
	got, err = s.GetLabel(ctx, "l1")
	if err != nil {
		t.Fatalf("get label: %v", err)
	}
	if got.Version != 4 || got.Name != "defect" {
		t.Fatalf("newer version did not win: %+v", got)
	}
}

func TestUpsertFromNodeAppliesSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertFromNode(ctx, model.Label{ID: "l2", OrgID: "org1", Name: "wip", Version: 1}); err != nil {
		t.Fatalf("insert label: %v", err)
	}
	now := time.Now().UTC()
	deleted := model.Label{ID: "l2", OrgID: "org1", Name: "wip", Version: 2, DeletedAt: &now}
	if err := s.UpsertFromNode(ctx, deleted); err != nil {
		t.Fatalf("delete upsert: %v", err)
	}

	labels, err := s.ListLabels(ctx, "")
	if err != nil {
		t.Fatalf("list labels: %v", err)
	}
	for _, l := range labels {
		if l.ID == "l2" {
			t.Fatalf("soft-deleted label still listed: %+v", l)
		}
	}
}
