package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"meetsync/internal/observability"
)

// Connect opens the reference backend database and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            kind TEXT NOT NULL,
            conversation_id INT NOT NULL,
            sender_id INT NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (kind, conversation_id, id);`,
		`CREATE TABLE IF NOT EXISTS message_reads (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            read_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY(message_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS conversation_members (
            kind TEXT NOT NULL,
            conversation_id INT NOT NULL,
            user_id INT NOT NULL,
            PRIMARY KEY(kind, conversation_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS questions (
            id SERIAL PRIMARY KEY,
            meeting_id INT NOT NULL,
            author_id INT NOT NULL,
            content TEXT NOT NULL,
            upvotes INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS question_votes (
            question_id INT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            PRIMARY KEY(question_id, user_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	observability.Component("db").WithField("count", len(migrations)).Info("database migrations applied")
	return nil
}
