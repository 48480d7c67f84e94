package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ApplyMigrations applies the embedded migrations that are not yet recorded
// in schema_migrations(version).
func ApplyMigrations(ctx context.Context, db *sql.DB, logger *logging.ColoredLogger) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	return ApplyMigrationsFS(ctx, db, sub, logger)
}

// ApplyMigrationsFS scans fsys for *.sql files, orders them by numeric
// prefix and applies any that are not yet recorded.
func ApplyMigrationsFS(ctx context.Context, db *sql.DB, fsys fs.FS, logger *logging.ColoredLogger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if err := ensureMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := readMigrationFiles(fsys)
	if err != nil {
		return fmt.Errorf("read migration files: %w", err)
	}

	applied, err := loadAppliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	for _, mf := range files {
		if applied[mf.Version] {
			continue
		}

		sqlBytes, err := fs.ReadFile(fsys, mf.Name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", mf.Name, err)
		}

		logger.ComponentInfo(logging.ComponentDatabase, "Applying migration",
			zap.Int("version", mf.Version), zap.String("name", mf.Name))
		if err := applySQL(ctx, db, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", mf.Version, mf.Name, err)
		}

		if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations(version) VALUES (?)`, mf.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", mf.Version, err)
		}
	}

	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	applied_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`)
	return err
}

type migrationFile struct {
	Version int
	Name    string
}

func readMigrationFiles(fsys fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var out []migrationFile
	seen := map[int]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".sql") {
			continue
		}
		ver, ok := parseVersionPrefix(name)
		if !ok {
			continue
		}
		if prev, dup := seen[ver]; dup {
			return nil, fmt.Errorf("duplicate migration version %d in %s and %s", ver, prev, name)
		}
		seen[ver] = name
		out = append(out, migrationFile{Version: ver, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseVersionPrefix(name string) (int, bool) {
	// "001_initial.sql", "2_add_table.sql"
	i := 0
	for i < len(name) && unicode.IsDigit(rune(name[i])) {
		i++
	}
	if i == 0 {
		return 0, false
	}
	ver, err := strconv.Atoi(name[:i])
	if err != nil {
		return 0, false
	}
	return ver, true
}

func loadAppliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v nullInt
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			applied[int(v.Int64)] = true
		}
	}
	return applied, rows.Err()
}

// applySQL executes a script statement by statement. Explicit transaction
// control is dropped since rqlite rejects nested transactions.
func applySQL(ctx context.Context, db *sql.DB, script string) error {
	for _, stmt := range splitSQLStatements(script) {
		if isTxnControl(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec stmt failed: %w (stmt: %s)", err, snippet(stmt))
		}
	}
	return nil
}

func isTxnControl(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BEGIN", "BEGIN TRANSACTION", "COMMIT", "END", "ROLLBACK":
		return true
	default:
		return false
	}
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

// splitSQLStatements splits a SQL script by semicolon, ignoring semicolons
// inside quoted strings and skipping -- and /* */ comments.
func splitSQLStatements(in string) []string {
	var out []string
	var b strings.Builder

	inLineComment := false
	inBlockComment := false
	inSingle := false
	inDouble := false

	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	runes := []rune(in)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		if inLineComment {
			if ch == '\n' {
				inLineComment = false
				b.WriteRune('\n')
			}
			continue
		}
		if inBlockComment {
			if ch == '*' && next == '/' {
				inBlockComment = false
				i++
			}
			continue
		}

		if !inSingle && !inDouble {
			if ch == '-' && next == '-' {
				inLineComment = true
				i++
				continue
			}
			if ch == '/' && next == '*' {
				inBlockComment = true
				i++
				continue
			}
			if ch == ';' {
				flush()
				continue
			}
		}

		switch {
		case ch == '\'' && !inDouble:
			if inSingle && next == '\'' {
				b.WriteString("''")
				i++
				continue
			}
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			if inDouble && next == '"' {
				b.WriteString(`""`)
				i++
				continue
			}
			inDouble = !inDouble
		}
		b.WriteRune(ch)
	}
	flush()
	return out
}
