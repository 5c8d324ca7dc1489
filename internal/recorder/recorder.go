package recorder

import (
	"context"
	"database/sql"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	_ "modernc.org/sqlite"

	"qtrader/internal/trader"
)

const messageSchema = `
CREATE TABLE IF NOT EXISTS messages (
	seq    INTEGER NOT NULL,
	at     INTEGER NOT NULL,
	status TEXT NOT NULL,
	text   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_at ON messages (at);
`

// Recorder persists trader messages into a local sqlite database for
// audit.
type Recorder struct {
	db *sql.DB
}

// Open opens or creates the message database at path.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open message db")
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set journal mode")
	}
	if _, err := db.Exec(messageSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate message schema")
	}
	return &Recorder{db: db}, nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

// Write appends a batch of messages in one transaction.
func (r *Recorder) Write(ctx context.Context, msgs []trader.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (seq, at, status, text) VALUES (?, ?, ?, ?)",
			m.Seq, m.At.UnixNano(), m.Status.String(), m.Text); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert message")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit messages")
	}
	return nil
}

// Count reports the number of persisted messages.
func (r *Recorder) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count messages")
	}
	return n, nil
}

// Recent returns the latest persisted message texts, newest last.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT text FROM (SELECT seq, text FROM messages ORDER BY seq DESC LIMIT ?) ORDER BY seq", limit)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

// Run drains the trader's message log on a fixed cadence until the
// context ends, flushing once more on the way out.
func (r *Recorder) Run(ctx context.Context, log *trader.MessageLog, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Write(context.Background(), log.Drain()); err != nil {
				logs.Errorf("final message flush: %+v", err)
			}
			return
		case <-ticker.C:
			if err := r.Write(ctx, log.Drain()); err != nil {
				logs.Errorf("flush messages: %+v", err)
			}
		}
	}
}
