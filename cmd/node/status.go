package main

import (
	"context"

	"swarmhive/internal/node"
	"swarmhive/internal/store"
)

// statusTracker reports this node's load by reading the store directly,
// the single source of truth the heartbeat ticker and StatusRequest
// handler both read.
type statusTracker struct {
	maxTasks int
	store    *store.Store
}

func (t *statusTracker) Status() node.Status {
	active, err := t.store.CountActiveTasks(context.Background())
	if err != nil {
		active = 0
	}
	capacity := t.maxTasks - active
	if capacity < 0 {
		capacity = 0
	}
	return node.Status{
		ActiveTasks:       active,
		AvailableCapacity: capacity,
	}
}

var _ node.StatusProvider = (*statusTracker)(nil)
