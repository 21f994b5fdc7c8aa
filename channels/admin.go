package channels

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Admin provides CRUD operations on the channels table.
//
// All mutations go through SQLite, so the Watch loop automatically
// picks up changes — no need to call Reload manually.
type Admin struct {
	db *sql.DB
}

// NewAdmin creates an Admin backed by the given database.
// The database must have the channels schema applied (via Init).
func NewAdmin(db *sql.DB) *Admin {
	return &Admin{db: db}
}

// ChannelRow represents a single row from the channels table.
type ChannelRow struct {
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config,omitempty"`
	UpdatedAt int64           `json:"updated_at"`
}

// List returns all channels from the SQLite table.
func (a *Admin) List(ctx context.Context) ([]ChannelRow, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT name, kind, enabled, COALESCE(config, '{}'), updated_at FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("admin: list channels: %w", err)
	}
	defer rows.Close()

	var result []ChannelRow
	for rows.Next() {
		var r ChannelRow
		var cfgStr string
		var enabled int
		if err := rows.Scan(&r.Name, &r.Kind, &enabled, &cfgStr, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("admin: scan channel: %w", err)
		}
		r.Enabled = enabled == 1
		r.Config = json.RawMessage(cfgStr)
		result = append(result, r)
	}
	return result, rows.Err()
}

// Get returns a single channel by name, or nil if it doesn't exist.
func (a *Admin) Get(ctx context.Context, name string) (*ChannelRow, error) {
	var r ChannelRow
	var cfgStr string
	var enabled int
	err := a.db.QueryRowContext(ctx,
		`SELECT name, kind, enabled, COALESCE(config, '{}'), updated_at FROM channels WHERE name = ?`,
		name).Scan(&r.Name, &r.Kind, &enabled, &cfgStr, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("admin: get channel: %w", err)
	}
	r.Enabled = enabled == 1
	r.Config = json.RawMessage(cfgStr)
	return &r, nil
}

// Upsert inserts or updates a channel in the channels table.
// The watcher will detect the change and trigger a Reload automatically.
func (a *Admin) Upsert(ctx context.Context, name, kind string, enabled bool, config json.RawMessage) error {
	if config == nil {
		config = json.RawMessage(`{}`)
	}
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO channels (name, kind, enabled, config)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		     kind    = excluded.kind,
		     enabled = excluded.enabled,
		     config  = excluded.config`,
		name, kind, enabledInt, string(config))
	if err != nil {
		return fmt.Errorf("admin: upsert channel: %w", err)
	}
	return nil
}

// Delete removes a channel from the channels table.
// The watcher will detect the change and drop the running channel.
func (a *Admin) Delete(ctx context.Context, name string) error {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM channels WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("admin: delete channel: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("admin: channel %q not found", name)
	}
	return nil
}

// SetEnabled enables or disables a channel without deleting its config.
func (a *Admin) SetEnabled(ctx context.Context, name string, enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	result, err := a.db.ExecContext(ctx,
		`UPDATE channels SET enabled = ? WHERE name = ?`,
		enabledInt, name)
	if err != nil {
		return fmt.Errorf("admin: set enabled: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("admin: channel %q not found", name)
	}
	return nil
}
