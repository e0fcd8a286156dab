package database

import (
	"database/sql"
	"fmt"
	"log"
)

// schemaStatements create the fare ledger tables. Transactions are an
// append-only log: there is no UPDATE path for that table anywhere in the
// codebase, and balances are settled through conditional debits on cards.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS stations (
		name TEXT PRIMARY KEY,
		ordinal INTEGER NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS fares (
		id SERIAL PRIMARY KEY,
		rate NUMERIC(12,2) NOT NULL CHECK (rate >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cards (
		id SERIAL PRIMARY KEY,
		card_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		balance NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		status TEXT NOT NULL DEFAULT 'inactive'
			CHECK (status IN ('active', 'inactive', 'blocked')),
		issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id SERIAL PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		card_id TEXT NOT NULL REFERENCES cards(card_id),
		amount NUMERIC(12,2) NOT NULL CHECK (amount >= 0),
		station TEXT,
		type TEXT NOT NULL CHECK (type IN ('entry', 'exit', 'top-up')),
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		paired_transaction_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_card_occurred
		ON transactions (card_id, occurred_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error applying schema: %w", err)
		}
	}
	log.Println("Database schema ensured")
	return nil
}
