package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/4xmen/medchat/internal/models"
)

type auditRow struct {
	models.AuditLog
	MetadataJSON sql.NullString `db:"metadata"`
}

func (s *Store) InsertAudit(ctx context.Context, entry *models.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	row := auditRow{AuditLog: *entry}
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		row.MetadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, action, user_id, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (:id, :action, :user_id, :resource_type, :resource_id, :metadata, :ip_address, :user_agent, :created_at)
	`, row)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, action string, limit int) ([]*models.AuditLog, error) {
	query := `SELECT id, action, user_id, resource_type, resource_id, metadata,
		COALESCE(ip_address, '') AS ip_address, COALESCE(user_agent, '') AS user_agent, created_at
		FROM audit_logs`
	args := []any{}
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}

	out := make([]*models.AuditLog, 0, len(rows))
	for i := range rows {
		entry := rows[i].AuditLog
		if rows[i].MetadataJSON.Valid {
			if err := json.Unmarshal([]byte(rows[i].MetadataJSON.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, &entry)
	}
	return out, nil
}
