package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PermissionNode mirrors the permission_nodes row (spec §6).
type PermissionNode struct {
	NodeName     string
	Plugin       string
	Description  string
	DefaultGrant bool
}

// ErrNodeNotFound is returned by grant/check when node_name has never
// been registered via RegisterNode. Revoke does not look the node up.
var ErrNodeNotFound = errors.New("store: permission node not registered")

// RegisterNode upserts a permission_nodes row (spec §6). Plugin component
// registration does not call it; callers register nodes explicitly.
func (s *Store) RegisterNode(ctx context.Context, n PermissionNode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_nodes (node_name, plugin, description, default_grant)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_name) DO UPDATE SET
			plugin = EXCLUDED.plugin, description = EXCLUDED.description, default_grant = EXCLUDED.default_grant
	`, n.NodeName, n.Plugin, n.Description, n.DefaultGrant)
	return err
}

// Nodes lists every registered permission node.
func (s *Store) Nodes(ctx context.Context) ([]PermissionNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT node_name, plugin, description, default_grant FROM permission_nodes ORDER BY node_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermissionNode
	for rows.Next() {
		var n PermissionNode
		if err := rows.Scan(&n.NodeName, &n.Plugin, &n.Description, &n.DefaultGrant); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) node(ctx context.Context, name string) (PermissionNode, error) {
	var n PermissionNode
	err := s.db.QueryRowContext(ctx, `SELECT node_name, plugin, description, default_grant FROM permission_nodes WHERE node_name = $1`, name).
		Scan(&n.NodeName, &n.Plugin, &n.Description, &n.DefaultGrant)
	if errors.Is(err, sql.ErrNoRows) {
		return PermissionNode{}, ErrNodeNotFound
	}
	return n, err
}

// Grant records that (platform, userID) holds node (spec §6 `grant`
// command). Idempotent.
func (s *Store) Grant(ctx context.Context, platform, userID, node string) error {
	if _, err := s.node(ctx, node); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permissions (platform, user_id, node_name, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform, user_id, node_name) DO NOTHING
	`, platform, userID, node, time.Now())
	return err
}

// Revoke removes a previously-granted node (spec §6 `revoke` command).
func (s *Store) Revoke(ctx context.Context, platform, userID, node string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_permissions WHERE platform = $1 AND user_id = $2 AND node_name = $3
	`, platform, userID, node)
	return err
}

// ListGrants lists every node explicitly granted to (platform, userID)
// (spec §6 `list` command).
func (s *Store) ListGrants(ctx context.Context, platform, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_name FROM user_permissions WHERE platform = $1 AND user_id = $2 ORDER BY node_name
	`, platform, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var node string
		if err := rows.Scan(&node); err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

// Check reports whether (platform, userID) holds node, either via an
// explicit grant or the node's default_grant flag (spec §6 `check`
// command). Returns ErrNodeNotFound if node was never registered.
func (s *Store) Check(ctx context.Context, platform, userID, node string) (bool, error) {
	n, err := s.node(ctx, node)
	if err != nil {
		return false, err
	}
	if n.DefaultGrant {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_permissions WHERE platform = $1 AND user_id = $2 AND node_name = $3)
	`, platform, userID, node).Scan(&exists)
	return exists, err
}
