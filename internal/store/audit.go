package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuditEntry is an append-only record of a privileged action.
type AuditEntry struct {
	ID         string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Details    json.RawMessage
	IP         string
	CreatedAt  time.Time
}

// InsertAuditEntry appends a new entry. Audit entries are never mutated or
// deleted once written.
func (p *Pool) InsertAuditEntry(ctx context.Context, e AuditEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Details == nil {
		e.Details = json.RawMessage("{}")
	}
	_, err := p.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, target_type, target_id, details, ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ActorID, e.Action, e.TargetType, e.TargetID, e.Details, e.IP)
	return e.ID, err
}

// ListAuditEntries returns the most recent entries, optionally filtered to
// one actor, newest first.
func (p *Pool) ListAuditEntries(ctx context.Context, actorID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows pgx.Rows
	var err error
	if actorID == "" {
		rows, err = p.Query(ctx, `
			SELECT id, actor_id, action, target_type, target_id, details, ip, created_at
			FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = p.Query(ctx, `
			SELECT id, actor_id, action, target_type, target_id, details, ip, created_at
			FROM audit_log WHERE actor_id = $1 ORDER BY created_at DESC LIMIT $2`, actorID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &e.Details, &e.IP, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
