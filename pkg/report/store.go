// Package report persists and queries the violations an analysis run
// produced — never raw trace events, which the engine never stores (spec
// Non-goals: "no persistence of traces"). It is grounded directly on the
// teacher's internal/audit.Store: the same dual-backend database/sql
// setup (embedded SQLite by default, PostgreSQL when the DSN says so),
// the same ?-to-$N rebind for Postgres, applied to a violations table
// instead of an audit_events table.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"traceguard/pkg/eval"
	"traceguard/pkg/trace"
)

// Store persists Violations to SQLite or PostgreSQL.
type Store struct {
	db         *sql.DB
	isPostgres bool
}

// Config configures a Store.
type Config struct {
	// DSN is the data-source name. A "postgres://" or "postgresql://"
	// prefix selects the PostgreSQL backend (pgx/v5/stdlib); anything else
	// is treated as a SQLite file path. Empty defaults to "report.db". (The
	// CLI never opens a Store for an empty TRACEGUARD_REPORT_DSN; it skips
	// persistence instead.)
	DSN string
}

// rebind rewrites a query's ? placeholders into $N ones when the store is
// backed by PostgreSQL, exactly as the teacher's audit store does for its
// own dual-backend queries.
func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Open connects to (and migrates) the configured backend.
func Open(cfg Config) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "report.db"
	}
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var db *sql.DB
	var err error
	if isPostgres {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres report store: %w", err)
		}
	} else {
		dir := filepath.Dir(dsn)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create report directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite report store: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if err := createTables(db, isPostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db, isPostgres: isPostgres}, nil
}

func createTables(db *sql.DB, isPostgres bool) error {
	pkDef := "INTEGER PRIMARY KEY AUTOINCREMENT"
	createdAt := "TEXT DEFAULT CURRENT_TIMESTAMP"
	if isPostgres {
		pkDef = "BIGSERIAL PRIMARY KEY"
		createdAt = "TIMESTAMPTZ DEFAULT NOW()"
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS violations (
		id %s,
		violation_id TEXT UNIQUE NOT NULL,
		policy_name TEXT,
		rule_span TEXT,
		rule_index INTEGER,
		kind TEXT NOT NULL,
		message TEXT,
		handled INTEGER NOT NULL DEFAULT 0,
		fields_json TEXT,
		ranges_json TEXT,
		raw_json TEXT NOT NULL,
		created_at %s
	);
	`, pkDef, createdAt)
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	indexes := `
	CREATE INDEX IF NOT EXISTS idx_violations_policy ON violations(policy_name);
	CREATE INDEX IF NOT EXISTS idx_violations_kind ON violations(kind);
	CREATE INDEX IF NOT EXISTS idx_violations_handled ON violations(handled);
	`
	_, err := db.Exec(indexes)
	return err
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Record persists one analysis run's violations under policyName,
// assigning each a fresh violation id.
func (s *Store) Record(ctx context.Context, policyName string, result eval.AnalysisResult) error {
	for _, v := range result.Errors {
		if err := s.insert(ctx, policyName, v, false); err != nil {
			return err
		}
	}
	for _, v := range result.HandledErrors {
		if err := s.insert(ctx, policyName, v, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, policyName string, v eval.Violation, handled bool) error {
	fieldsJSON, err := marshalFields(v.Fields)
	if err != nil {
		return fmt.Errorf("marshal violation fields: %w", err)
	}
	rangesJSON, err := json.Marshal(v.Ranges)
	if err != nil {
		return fmt.Errorf("marshal violation ranges: %w", err)
	}
	raw := struct {
		PolicyName string          `json:"policy_name"`
		RuleSpan   string          `json:"rule_span"`
		RuleIndex  int             `json:"rule_index"`
		Kind       string          `json:"kind"`
		Message    string          `json:"message"`
		Handled    bool            `json:"handled"`
		Fields     json.RawMessage `json:"fields"`
		Ranges     json.RawMessage `json:"ranges"`
	}{policyName, v.RuleSpan, v.RuleIndex, v.Kind, v.Message, handled, fieldsJSON, rangesJSON}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal violation record: %w", err)
	}

	handledInt := 0
	if handled {
		handledInt = 1
	}
	_, err = s.db.ExecContext(ctx, rebind(s.isPostgres, `
		INSERT INTO violations (
			violation_id, policy_name, rule_span, rule_index, kind, message,
			handled, fields_json, ranges_json, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		"vio_"+uuid.New().String()[:8],
		policyName,
		v.RuleSpan,
		v.RuleIndex,
		v.Kind,
		v.Message,
		handledInt,
		string(fieldsJSON),
		string(rangesJSON),
		string(rawJSON),
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

func marshalFields(fields map[string]trace.Value) (json.RawMessage, error) {
	if fields == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(fields)
}

// QueryOptions filters a violations listing, mirroring the teacher's
// audit.QueryOptions shape applied to violation fields instead of audit
// event fields.
type QueryOptions struct {
	PolicyName string
	Kind       string
	Handled    *bool // nil means "either"
	Since      time.Time
	Limit      int
}

// Record is one persisted violation row.
type Record struct {
	ViolationID string
	PolicyName  string
	RuleSpan    string
	RuleIndex   int
	Kind        string
	Message     string
	Handled     bool
	CreatedAt   time.Time
}

// Query lists violations matching opts, most recent first.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]Record, error) {
	query := `SELECT violation_id, policy_name, rule_span, rule_index, kind, message, handled, created_at FROM violations WHERE 1=1`
	var args []any

	if opts.PolicyName != "" {
		query += " AND policy_name = ?"
		args = append(args, opts.PolicyName)
	}
	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, opts.Kind)
	}
	if opts.Handled != nil {
		query += " AND handled = ?"
		if *opts.Handled {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if !opts.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.Format(time.RFC3339Nano))
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, rebind(s.isPostgres, query), args...)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var handled int
		var createdAt string
		if err := rows.Scan(&r.ViolationID, &r.PolicyName, &r.RuleSpan, &r.RuleIndex, &r.Kind, &r.Message, &handled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan violation row: %w", err)
		}
		r.Handled = handled != 0
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
