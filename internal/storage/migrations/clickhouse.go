package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "redemption-feed/internal/storage/clickhouse"
)

const clickhouseLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name        String,
    applied_at  DateTime DEFAULT now()
)
ENGINE = ReplacingMergeTree
ORDER BY name`

// RunClickhouseMigrations creates the database named in dsn if needed and
// applies the embedded files not yet recorded in schema_migrations. It
// returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	database, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	if err := createDatabase(ctx, dsn, database); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, database)
	if err != nil {
		return nil, err
	}
	if err := applyClickhouse(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, database string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return err
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(database)); err != nil {
		return fmt.Errorf("create database %s: %w", database, err)
	}
	return nil
}

func applyClickhouse(ctx context.Context, conn *chstore.Conn) error {
	if err := conn.Exec(ctx, clickhouseLedger); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := conn.Query(ctx, "SELECT name FROM schema_migrations FINAL")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}
	for _, m := range files {
		if applied[m.name] {
			continue
		}
		// The native protocol runs one statement per Exec.
		for _, stmt := range splitStatements(m.sql) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.name, err)
			}
		}
		if err := conn.Exec(ctx, "INSERT INTO schema_migrations (name) VALUES (?)", m.name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
	}
	return nil
}

// splitStatements splits a script on semicolons that are outside quoted
// strings and -- comments. Comments are dropped.
func splitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
		quote byte
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch {
		case quote != 0:
			cur.WriteByte(ch)
			if ch == '\\' && i+1 < len(script) {
				i++
				cur.WriteByte(script[i])
			} else if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return stmts
}

// quoteIdent backquotes a ClickHouse identifier.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.Trim(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn %q names no database", u.Redacted())
	}
	return db, nil
}
