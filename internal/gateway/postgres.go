package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dinsac/support-chat/internal/chat"
)

// PostgresGateway serves the message-store contract straight from the
// store's database when the coordinator is deployed next to it. Expected
// schema:
//
//	sessions (id text primary key, display_name text, created_at timestamptz)
//	messages (session_id text, sender text, body text, sent_at timestamptz)
//
// Attachments are written to fileDir and referenced under
// baseURL + "/files/".
type PostgresGateway struct {
	db      *sql.DB
	fileDir string
	baseURL string
}

func NewPostgres(db *sql.DB, fileDir, baseURL string) *PostgresGateway {
	return &PostgresGateway{
		db:      db,
		fileDir: fileDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (g *PostgresGateway) ListSessions(ctx context.Context) ([]chat.Session, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, display_name
		FROM sessions
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Session
	for rows.Next() {
		var s chat.Session
		if err := rows.Scan(&s.ID, &s.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (g *PostgresGateway) FetchHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT sender, body, session_id, sent_at
		FROM messages
		WHERE session_id = $1
		ORDER BY sent_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		var sender string
		if err := rows.Scan(&sender, &m.Body, &m.SessionID, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Sender = chat.Sender(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (g *PostgresGateway) DeleteHistory(ctx context.Context, sessionID string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (g *PostgresGateway) UploadAttachment(ctx context.Context, sessionID, filename string, data io.Reader) (string, error) {
	if err := os.MkdirAll(g.fileDir, 0o755); err != nil {
		return "", err
	}
	name := uuid.New().String() + filepath.Ext(filename)

	dst, err := os.Create(filepath.Join(g.fileDir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, data); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/files/%s", g.baseURL, name), nil
}
