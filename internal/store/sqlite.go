package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/avelasco/chatrelay/internal/model/chat"
)

// SQL persists messages in a single append-only table, either in a local
// SQLite file or a remote libSQL endpoint. Id assignment rides on the
// table's AUTOINCREMENT primary key, so it is atomic with the insert.
type SQL struct {
	db *sql.DB
}

// Open picks a driver from the endpoint URL: libsql, wss and https schemes
// go to the remote libSQL client with the credential token attached,
// anything else is treated as a local SQLite file.
func Open(endpoint, token string) (*SQL, error) {
	driver := "sqlite"
	dsn := endpoint

	if remoteEndpoint(endpoint) {
		driver = "libsql"
		if token != "" {
			sep := "?"
			if strings.Contains(endpoint, "?") {
				sep = "&"
			}
			dsn = endpoint + sep + "authToken=" + url.QueryEscape(token)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}

	if driver == "sqlite" {
		// A local SQLite file allows one writer at a time; funneling the
		// pool through a single connection serializes appends instead of
		// surfacing busy errors.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	return &SQL{db: db}, nil
}

func remoteEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "libsql://") ||
		strings.HasPrefix(endpoint, "wss://") ||
		strings.HasPrefix(endpoint, "https://")
}

// EnsureSchema creates the messages table if it does not exist. It must
// complete before the server accepts connections. Enrichment lives in one
// opaque JSON column rather than a column per metadata source.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT,
			user TEXT,
			meta TEXT
		)`)
	if err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
	}
	return nil
}

// Append commits one record and returns it with the assigned id.
func (s *SQL) Append(ctx context.Context, content, author string, meta map[string]string) (chat.MessageRecord, error) {
	var metaJSON sql.NullString
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return chat.MessageRecord{}, fmt.Errorf("encode meta: %w", err)
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (content, user, meta) VALUES (?, ?, ?)`,
		content, author, metaJSON)
	if err != nil {
		return chat.MessageRecord{}, fmt.Errorf("%w: append: %v", ErrUnavailable, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return chat.MessageRecord{}, fmt.Errorf("%w: append id: %v", ErrUnavailable, err)
	}

	return chat.MessageRecord{ID: id, Content: content, Author: author, Meta: meta}, nil
}

// Since returns every record with id > watermark, ascending by id.
func (s *SQL) Since(ctx context.Context, watermark int64) ([]chat.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, user, meta FROM messages WHERE id > ? ORDER BY id ASC`,
		watermark)
	if err != nil {
		return nil, fmt.Errorf("%w: read since %d: %v", ErrUnavailable, watermark, err)
	}
	defer rows.Close()

	records := make([]chat.MessageRecord, 0, 16)
	for rows.Next() {
		var (
			rec     chat.MessageRecord
			content sql.NullString
			author  sql.NullString
			meta    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &content, &author, &meta); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
		}
		rec.Content = content.String
		rec.Author = author.String
		if meta.Valid {
			// Rows written before the meta column existed may hold
			// anything; an undecodable blob is dropped, not fatal.
			_ = json.Unmarshal([]byte(meta.String), &rec.Meta)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrUnavailable, err)
	}

	return records, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
