package hivestore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
	"swarmhive/internal/wire"
)

// Node is a registered swarm node.
type Node struct {
	ID                string
	OrgID             string
	MachineID         string
	Name              string
	Status            wire.NodeStatus
	APIKeyHash        string
	APIKeyPrefix      string
	Capabilities      wire.Capabilities
	PublicURL         string
	ActiveTasks       int
	AvailableCapacity int
	LastSeenAt        *time.Time
	LastUsedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func scanNode(row rowScanner) (Node, error) {
	var n Node
	var capsJSON []byte
	var lastSeen, lastUsed sql.NullTime
	err := row.Scan(&n.ID, &n.OrgID, &n.MachineID, &n.Name, &n.Status, &n.APIKeyHash,
		&n.APIKeyPrefix, &capsJSON, &n.PublicURL, &n.ActiveTasks, &n.AvailableCapacity,
		&lastSeen, &lastUsed, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, fmt.Errorf("node: %w", apperr.ErrNotFound)
		}
		return Node{}, fmt.Errorf("scan node: %w", apperr.ErrDatabase)
	}
	_ = unmarshalCaps(capsJSON, &n.Capabilities)
	n.LastSeenAt = timePtr(lastSeen)
	n.LastUsedAt = timePtr(lastUsed)
	return n, nil
}

const nodeSelect = `
	SELECT id, organization_id, machine_id, name, status, api_key_hash, api_key_prefix,
		capabilities, public_url, active_tasks, available_capacity, last_seen_at, last_used_at,
		created_at, updated_at
	FROM nodes`

// GetNode fetches a node scoped to orgID.
func (s *Store) GetNode(ctx context.Context, orgID, id string) (Node, error) {
	row := s.db.QueryRowContext(ctx, nodeSelect+` WHERE id = $1`, id)
	n, err := scanNode(row)
	if err != nil {
		return Node{}, err
	}
	if n.OrgID != orgID {
		return Node{}, fmt.Errorf("node %s: %w", id, apperr.ErrForbidden)
	}
	return n, nil
}

// ListNodes returns every node in orgID.
func (s *Store) ListNodes(ctx context.Context, orgID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, nodeSelect+` WHERE organization_id = $1 ORDER BY name ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpsertByMachineID registers or updates a node keyed by (organization_id,
// machine_id).
func (s *Store) UpsertByMachineID(ctx context.Context, orgID, machineID, name string, caps wire.Capabilities, publicURL string) (Node, error) {
	now := time.Now().UTC()
	capsJSON, err := marshalCaps(caps)
	if err != nil {
		return Node{}, fmt.Errorf("upsert node: %w", err)
	}
	id := model.NewID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, organization_id, machine_id, name, status, capabilities, public_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (organization_id, machine_id) DO UPDATE SET
			name = excluded.name, capabilities = excluded.capabilities,
			public_url = excluded.public_url, updated_at = excluded.updated_at
	`, id, orgID, machineID, name, wire.StatusPending, capsJSON, publicURL, now, now)
	if err != nil {
		return Node{}, fmt.Errorf("upsert node: %w", apperr.ErrDatabase)
	}
	row := s.db.QueryRowContext(ctx, nodeSelect+` WHERE organization_id = $1 AND machine_id = $2`, orgID, machineID)
	return scanNode(row)
}

// IssueAPIKey generates a fresh key, stores sha256(raw) and its 8-character
// prefix, and returns the raw key to hand back to the node exactly once.
func (s *Store) IssueAPIKey(ctx context.Context, orgID, nodeID string) (rawKey string, err error) {
	if _, err := s.GetNode(ctx, orgID, nodeID); err != nil {
		return "", err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("issue api key: %w", err)
	}
	rawKey = "shk_" + hex.EncodeToString(buf)
	hash := sha256.Sum256([]byte(rawKey))
	prefix := rawKey[:8]
	_, err = s.db.ExecContext(ctx, `
		UPDATE nodes SET api_key_hash = $1, api_key_prefix = $2, updated_at = now()
		WHERE id = $3
	`, hex.EncodeToString(hash[:]), prefix, nodeID)
	if err != nil {
		return "", fmt.Errorf("issue api key: %w", apperr.ErrDatabase)
	}
	return rawKey, nil
}

// ValidateAPIKey verifies the prefix then the full hash, rejects revoked
// (empty-hash) keys, and touches last_used_at on success.
func (s *Store) ValidateAPIKey(ctx context.Context, rawKey string) (Node, error) {
	if len(rawKey) < 8 {
		return Node{}, fmt.Errorf("api key: %w", apperr.ErrAuth)
	}
	prefix := rawKey[:8]
	row := s.db.QueryRowContext(ctx, nodeSelect+` WHERE api_key_prefix = $1`, prefix)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Node{}, fmt.Errorf("api key: %w", apperr.ErrAuth)
		}
		return Node{}, err
	}
	if n.APIKeyHash == "" {
		return Node{}, fmt.Errorf("api key revoked: %w", apperr.ErrAuth)
	}
	hash := sha256.Sum256([]byte(rawKey))
	if hex.EncodeToString(hash[:]) != n.APIKeyHash {
		return Node{}, fmt.Errorf("api key: %w", apperr.ErrAuth)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE nodes SET last_used_at = now() WHERE id = $1`, n.ID); err != nil {
		return Node{}, fmt.Errorf("touch api key: %w", apperr.ErrDatabase)
	}
	return n, nil
}

// RevokeAPIKey clears a node's stored key, making future ValidateAPIKey
// calls for it fail.
func (s *Store) RevokeAPIKey(ctx context.Context, orgID, nodeID string) error {
	if _, err := s.GetNode(ctx, orgID, nodeID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET api_key_hash = '', api_key_prefix = '', updated_at = now() WHERE id = $1
	`, nodeID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", apperr.ErrDatabase)
	}
	return nil
}

// SetStatus updates a node's liveness status and load snapshot, e.g. from a
// Heartbeat.
func (s *Store) SetStatus(ctx context.Context, nodeID string, status wire.NodeStatus, activeTasks, availableCapacity int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = $1, active_tasks = $2, available_capacity = $3,
			last_seen_at = now(), updated_at = now()
		WHERE id = $4
	`, status, activeTasks, availableCapacity, nodeID)
	if err != nil {
		return fmt.Errorf("set node status: %w", apperr.ErrDatabase)
	}
	return nil
}

// MarkOffline transitions a node to offline and bulk-fails every active
// assignment it held.
func (s *Store) MarkOffline(ctx context.Context, nodeID, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark node offline: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE nodes SET status = $1, updated_at = now() WHERE id = $2
	`, wire.StatusOffline, nodeID); err != nil {
		return fmt.Errorf("mark node offline: %w", apperr.ErrDatabase)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE node_task_assignments SET status = 'failed', failed_reason = $1, updated_at = now()
		WHERE node_id = $2 AND status = 'active'
	`, reason, nodeID); err != nil {
		return fmt.Errorf("bulk-fail assignments: %w", apperr.ErrDatabase)
	}
	return tx.Commit()
}

// MarkStaleNodesOffline transitions every node whose last heartbeat predates
// cutoff to offline, bulk-failing the active assignments each held. Nodes
// that never reported a heartbeat are left alone. Returns how many nodes
// were transitioned.
func (s *Store) MarkStaleNodesOffline(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mark stale nodes offline: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE node_task_assignments SET status = 'failed',
			failed_reason = 'node heartbeat timed out', updated_at = now()
		WHERE status = 'active' AND node_id IN (
			SELECT id FROM nodes
			WHERE status NOT IN ($1, $2) AND last_seen_at IS NOT NULL AND last_seen_at < $3
		)
	`, wire.StatusOffline, wire.StatusPending, cutoff); err != nil {
		return 0, fmt.Errorf("bulk-fail stale assignments: %w", apperr.ErrDatabase)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE nodes SET status = $1, updated_at = now()
		WHERE status NOT IN ($1, $2) AND last_seen_at IS NOT NULL AND last_seen_at < $3
	`, wire.StatusOffline, wire.StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale nodes offline: %w", apperr.ErrDatabase)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mark stale nodes offline: %w", apperr.ErrDatabase)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func marshalCaps(c wire.Capabilities) ([]byte, error) {
	return jsonMarshal(c)
}

func unmarshalCaps(raw []byte, out *wire.Capabilities) error {
	if len(raw) == 0 {
		return nil
	}
	return jsonUnmarshal(raw, out)
}
