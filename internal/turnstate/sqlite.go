package turnstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"

	_ "modernc.org/sqlite"
)

const schemaTurnStates = `
CREATE TABLE IF NOT EXISTS turn_states (
	turn_id    TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turn_states_created_at ON turn_states(created_at);
`

const (
	queryInsertState = `INSERT OR REPLACE INTO turn_states (turn_id, session_id, created_at, data) VALUES (?, ?, ?, ?)`
	queryTakeState   = `DELETE FROM turn_states WHERE turn_id = ? RETURNING data`
	queryGetState    = `SELECT data FROM turn_states WHERE turn_id = ?`
	queryListStates  = `SELECT data FROM turn_states WHERE created_at >= ? ORDER BY created_at, turn_id`
	queryPruneStates = `DELETE FROM turn_states WHERE created_at < ?`
)

// SQLiteStore keeps snapshots in a single SQLite table. Take relies on
// DELETE ... RETURNING, so consumption is atomic across processes sharing
// the database file.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

func OpenSQLite(path string, opts Options) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schemaTurnStates); err != nil {
		db.Close()
		return nil, fmt.Errorf("execute schema: %w", err)
	}

	return &SQLiteStore{db: db, opts: opts}, nil
}

// dsn applies the pragmas on every pooled connection rather than only the
// first one.
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func (s *SQLiteStore) Save(ctx context.Context, state *TurnState) error {
	if err := validateForSave(state); err != nil {
		return err
	}
	stampCreatedAt(state, s.opts)

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryInsertState, state.TurnID, state.SessionID, state.CreatedAt.UnixNano(), string(data))
	if err != nil {
		return bpErrors.WrapWithCategory(err, "save turn state", bpErrors.ErrInternal)
	}
	return nil
}

func (s *SQLiteStore) Take(ctx context.Context, turnID string) (*TurnState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, queryTakeState, turnID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	if err != nil {
		return nil, bpErrors.WrapWithCategory(err, "take turn state", bpErrors.ErrInternal)
	}
	return s.decodeLive(turnID, data)
}

func (s *SQLiteStore) Get(ctx context.Context, turnID string) (*TurnState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, queryGetState, turnID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	if err != nil {
		return nil, bpErrors.WrapWithCategory(err, "get turn state", bpErrors.ErrInternal)
	}
	return s.decodeLive(turnID, data)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*TurnState, error) {
	rows, err := s.db.QueryContext(ctx, queryListStates, s.cutoff())
	if err != nil {
		return nil, bpErrors.WrapWithCategory(err, "list turn states", bpErrors.ErrInternal)
	}
	defer rows.Close()

	var out []*TurnState
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var state TurnState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			return nil, bpErrors.WrapWithCategory(err, "decode turn state", bpErrors.ErrInternal)
		}
		out = append(out, &state)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	if s.opts.TTL <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, queryPruneStates, s.cutoff())
	if err != nil {
		return 0, bpErrors.WrapWithCategory(err, "prune turn states", bpErrors.ErrInternal)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// cutoff is the oldest created_at still considered live.
func (s *SQLiteStore) cutoff() int64 {
	if s.opts.TTL <= 0 {
		return 0
	}
	return s.opts.now().Add(-s.opts.TTL).UnixNano()
}

func (s *SQLiteStore) decodeLive(turnID, data string) (*TurnState, error) {
	var state TurnState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, bpErrors.WrapWithCategory(err, "decode turn state", bpErrors.ErrInternal)
	}
	if state.Expired(s.opts.now(), s.opts.TTL) {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	return &state, nil
}
