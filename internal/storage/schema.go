package storage

import (
	"context"
	"database/sql"
)

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			username_lower TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			online INTEGER NOT NULL DEFAULT 0,
			is_admin INTEGER NOT NULL DEFAULT 0,
			message_limit INTEGER,
			recovery_token TEXT,
			recovery_token_expires_at_ms BIGINT,
			verification_status TEXT NOT NULL DEFAULT 'none',
			badge_type TEXT,
			badge_expires_at_ms BIGINT,
			wallet_balance BIGINT NOT NULL DEFAULT 0,
			is_frozen INTEGER NOT NULL DEFAULT 0,
			frozen_until_ms BIGINT,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);`,
		`CREATE INDEX IF NOT EXISTS idx_users_recovery_token ON users(recovery_token);`,

		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			chat_type TEXT NOT NULL,
			name TEXT,
			creator_id TEXT,
			join_password TEXT,
			participants_hash TEXT UNIQUE,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS chat_members (
			chat_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			added_at_ms BIGINT NOT NULL,
			PRIMARY KEY (chat_id, user_id),
			FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_members_user ON chat_members(user_id);`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			msg_type TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created_at_ms ON messages(chat_id, created_at_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_author ON messages(author_id);`,

		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			pair_hash TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			requested_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_connections_from ON connections(from_user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_connections_to ON connections(to_user_id);`,

		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			id TEXT PRIMARY KEY,
			tx_type TEXT NOT NULL,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			description TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_from ON wallet_transactions(from_user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_to ON wallet_transactions(to_user_id);`,

		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			reporter_id TEXT NOT NULL,
			reported_user_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			chat_id TEXT,
			status TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);`,

		`CREATE TABLE IF NOT EXISTS user_inventory (
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			item_id TEXT NOT NULL,
			acquired_at_ms BIGINT NOT NULL,
			PRIMARY KEY (user_id, category, item_id),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS user_customization (
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			item_id TEXT NOT NULL,
			updated_at_ms BIGINT NOT NULL,
			PRIMARY KEY (user_id, category),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS client_session (
			id INTEGER PRIMARY KEY,
			current_user_id TEXT,
			logged_in_user_ids TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// seedBaseRecords guarantees the two records the rest of the contract assumes:
// the singleton announcements chat and the single client-session row.
func seedBaseRecords(ctx context.Context, db *sql.DB, driver string, nowMs int64) error {
	chatQ := rebindQuery(driver, `INSERT INTO chats (id, chat_type, name, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING;`)
	if _, err := db.ExecContext(ctx, chatQ,
		AnnouncementsChatID, ChatTypeGroup, "Announcements", nowMs, nowMs,
	); err != nil {
		return err
	}

	sessQ := rebindQuery(driver, `INSERT INTO client_session (id, current_user_id, logged_in_user_ids)
		VALUES (?, NULL, '[]')
		ON CONFLICT(id) DO NOTHING;`)
	if _, err := db.ExecContext(ctx, sessQ, clientSessionRowID); err != nil {
		return err
	}

	return nil
}
