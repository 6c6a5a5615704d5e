package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/jgarizk/brainpro/internal/config"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"github.com/natefinch/atomic"
)

type Operation int

const (
	OpWriteTranscript Operation = iota
	OpResetSession
	OpGetSession
	OpSaveSession
	OpListSessions
	OpReadTranscript
	OpSaveTurn
	OpTakeTurn
	OpGetTurn
	OpListTurns
	OpPruneTurns
)

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type TranscriptPayload struct {
	SessionID string
	Data      []byte // JSON line
}

type ResetSessionPayload struct {
	SessionID string
}

type GetSessionPayload struct {
	SessionID string
}

type SaveSessionPayload struct {
	Session *SessionMeta
}

type ReadTranscriptPayload struct {
	SessionID string
	Limit     int // 0 = all
}

type SaveTurnPayload struct {
	State *turnstate.TurnState
}

type TurnIDPayload struct {
	TurnID string
}

// Worker owns a workspace directory. All writes go through a single loop so
// the session index and transcripts never see interleaved writers inside one
// process; turn files are additionally guarded by turns/.lock so a CLI resume
// and a running daemon cannot both take the same turn.
type Worker struct {
	workspaceID              string
	basePath                 string
	turnsDir                 string
	inbox                    chan Request
	quit                     chan struct{}
	stopOnce                 sync.Once
	wg                       sync.WaitGroup
	sessionIndex             *SessionIndex
	running                  stdatomic.Bool
	transcriptRotateMaxBytes int64
	lockCfg                  *FileLockConfig
	turnOpts                 turnstate.Options
}

type RuntimeConfig struct {
	LockTimeout              time.Duration
	LockRetry                time.Duration
	LockMaxRetry             int
	InboxSize                int
	TranscriptRotateMaxBytes int64
	Turns                    turnstate.Options
}

// RuntimeConfigFrom converts the store and turns sections of the config.
func RuntimeConfigFrom(cfg *config.Config) (RuntimeConfig, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.Store.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("store.lock_timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.Store.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("store.lock_retry: %w", err)
	}
	ttl, err := config.PositiveDurationOrDefault(cfg.Turns.TTL, config.DefaultTurnsTTL)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("turns.ttl: %w", err)
	}
	return RuntimeConfig{
		LockTimeout:              lockTimeout,
		LockRetry:                lockRetry,
		LockMaxRetry:             cfg.Store.LockMaxRetry,
		InboxSize:                cfg.Store.InboxSize,
		TranscriptRotateMaxBytes: cfg.Store.TranscriptRotateMaxBytes,
		Turns:                    turnstate.Options{TTL: ttl},
	}, nil
}

func NewWorker(workspaceID string, workspaceRootPath string, runtimeCfg RuntimeConfig) (*Worker, error) {
	basePath, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}

	dirs := []string{
		filepath.Join(basePath, "sessions"),
		filepath.Join(basePath, "turns"),
		filepath.Join(basePath, "governance"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", d, err)
		}
	}

	if runtimeCfg.LockTimeout <= 0 {
		lockTimeout, err := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock timeout: %w", err)
		}
		runtimeCfg.LockTimeout = lockTimeout
	}
	if runtimeCfg.LockRetry <= 0 {
		lockRetry, err := config.DurationOrDefault("", config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock retry: %w", err)
		}
		runtimeCfg.LockRetry = lockRetry
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}
	if runtimeCfg.TranscriptRotateMaxBytes <= 0 {
		runtimeCfg.TranscriptRotateMaxBytes = config.DefaultStoreTranscriptRotateMaxBytes
	}

	sessionIndex := &SessionIndex{Sessions: make(map[string]SessionMeta)}
	indexPath := filepath.Join(basePath, "sessions", "index.json")
	if data, err := os.ReadFile(indexPath); err == nil {
		if err := json.Unmarshal(data, sessionIndex); err != nil {
			slog.Warn("Failed to parse session index, starting fresh", "error", err)
		}
		if sessionIndex.Sessions == nil {
			sessionIndex.Sessions = make(map[string]SessionMeta)
		}
	}

	return &Worker{
		workspaceID:              workspaceID,
		basePath:                 basePath,
		turnsDir:                 filepath.Join(basePath, "turns"),
		inbox:                    make(chan Request, runtimeCfg.InboxSize),
		quit:                     make(chan struct{}),
		sessionIndex:             sessionIndex,
		transcriptRotateMaxBytes: runtimeCfg.TranscriptRotateMaxBytes,
		lockCfg: &FileLockConfig{
			LockTimeout:  runtimeCfg.LockTimeout,
			LockRetry:    runtimeCfg.LockRetry,
			LockMaxRetry: runtimeCfg.LockMaxRetry,
		},
		turnOpts: runtimeCfg.Turns,
	}, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	w.running.Store(true)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Info("StoreWorker started", "workspace", w.workspaceID)
	defer func() {
		w.running.Store(false)
		w.wg.Done()
	}()

	for {
		select {
		case req := <-w.inbox:
			err := w.handle(req)
			if req.Result != nil {
				req.Result <- err
			}
		case <-w.quit:
			slog.Info("StoreWorker stopping", "workspace", w.workspaceID)
			return
		}
	}
}

func (w *Worker) handle(req Request) error {
	switch req.Op {
	case OpWriteTranscript:
		p, ok := req.Payload.(TranscriptPayload)
		if !ok {
			return fmt.Errorf("invalid payload for WriteTranscript")
		}
		return w.appendTranscript(p.SessionID, p.Data)
	case OpResetSession:
		p, ok := req.Payload.(ResetSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ResetSession")
		}
		return w.resetSession(p.SessionID)
	case OpGetSession:
		p, ok := req.Payload.(GetSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for GetSession")
		}
		var out *SessionMeta
		if sess, ok := w.sessionIndex.Sessions[p.SessionID]; ok {
			out = &sess
		}
		respond(req, out)
		return nil
	case OpSaveSession:
		p, ok := req.Payload.(SaveSessionPayload)
		if !ok || p.Session == nil {
			return fmt.Errorf("invalid payload for SaveSession")
		}
		w.sessionIndex.Sessions[p.Session.ID] = *p.Session
		return w.saveSessionIndex()
	case OpListSessions:
		respond(req, w.listSessions())
		return nil
	case OpReadTranscript:
		p, ok := req.Payload.(ReadTranscriptPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ReadTranscript")
		}
		lines, err := w.readTranscript(p.SessionID, p.Limit)
		respond(req, lines)
		return err
	case OpSaveTurn:
		p, ok := req.Payload.(SaveTurnPayload)
		if !ok {
			return fmt.Errorf("invalid payload for SaveTurn")
		}
		return w.saveTurn(p.State)
	case OpTakeTurn:
		p, ok := req.Payload.(TurnIDPayload)
		if !ok {
			return fmt.Errorf("invalid payload for TakeTurn")
		}
		state, err := w.takeTurn(p.TurnID)
		respond(req, state)
		return err
	case OpGetTurn:
		p, ok := req.Payload.(TurnIDPayload)
		if !ok {
			return fmt.Errorf("invalid payload for GetTurn")
		}
		state, err := w.getTurn(p.TurnID)
		respond(req, state)
		return err
	case OpListTurns:
		states, err := w.listTurns()
		respond(req, states)
		return err
	case OpPruneTurns:
		n, err := w.pruneTurns()
		respond(req, n)
		return err
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func respond(req Request, v interface{}) {
	if req.Response != nil {
		req.Response <- v
	}
}

// submit queues req and waits for its result. Stopped workers and cancelled
// contexts fail fast instead of blocking on a loop that will never answer.
func (w *Worker) submit(ctx context.Context, req Request) (interface{}, error) {
	req.Result = make(chan error, 1)
	req.Response = make(chan interface{}, 1)

	if !w.running.Load() {
		return nil, bpErrors.Internal("store worker is not running")
	}

	select {
	case w.inbox <- req:
	case <-w.quit:
		return nil, bpErrors.Internal("store worker is not running")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-req.Result:
		var val interface{}
		select {
		case val = <-req.Response:
		default:
		}
		return val, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- Sessions and transcripts ---

func (w *Worker) readTranscript(sessionID string, limit int) ([]string, error) {
	path := filepath.Join(w.basePath, "sessions", sessionID+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []string{}, nil
	}
	lines := strings.Split(trimmed, "\n")

	if limit > 0 && len(lines) > limit {
		return lines[len(lines)-limit:], nil
	}
	return lines, nil
}

func (w *Worker) saveSessionIndex() error {
	path := filepath.Join(w.basePath, "sessions", "index.json")
	data, err := json.MarshalIndent(w.sessionIndex, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

func (w *Worker) listSessions() []SessionMeta {
	out := make([]SessionMeta, 0, len(w.sessionIndex.Sessions))
	for _, s := range w.sessionIndex.Sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (w *Worker) appendTranscript(sessionID string, data []byte) error {
	path := filepath.Join(w.basePath, "sessions", sessionID+".jsonl")

	if err := w.checkAndRotate(sessionID, path); err != nil {
		slog.Warn("Failed to rotate transcript", "session", sessionID, "error", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	return f.Sync()
}

func (w *Worker) resetSession(sessionID string) error {
	path := filepath.Join(w.basePath, "sessions", sessionID+".jsonl")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(w.sessionIndex.Sessions, sessionID)
	return w.saveSessionIndex()
}

func (w *Worker) checkAndRotate(sessionID, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.Size() < w.transcriptRotateMaxBytes {
		return nil
	}

	slog.Info("Rotating transcript", "session", sessionID, "size", info.Size())

	timestamp := time.Now().Format("20060102150405")
	backupPath := fmt.Sprintf("%s.%s.bak", path, timestamp)

	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create new transcript: %w", err)
	}
	f.Close()

	return nil
}

// --- Suspended turns (turns/<id>.json) ---

func (w *Worker) turnPath(turnID string) (string, error) {
	if turnID == "" || strings.ContainsAny(turnID, `/\`) || turnID == "." || turnID == ".." {
		return "", bpErrors.InvalidInput(fmt.Sprintf("invalid turn id %q", turnID))
	}
	return filepath.Join(w.turnsDir, turnID+".json"), nil
}

func (w *Worker) turnsLockPath() string {
	return filepath.Join(w.turnsDir, ".lock")
}

func (w *Worker) withTurnsLock(fn func() error) error {
	return withFileLock(w.workspaceID+"/turns", w.turnsLockPath(), w.lockCfg, fn)
}

func (w *Worker) saveTurn(state *turnstate.TurnState) error {
	path, err := w.turnPath(state.TurnID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return w.withTurnsLock(func() error {
		return atomic.WriteFile(path, bytes.NewReader(data))
	})
}

func (w *Worker) takeTurn(turnID string) (*turnstate.TurnState, error) {
	path, err := w.turnPath(turnID)
	if err != nil {
		return nil, bpErrors.TurnNotFound(turnID)
	}

	var state *turnstate.TurnState
	err = w.withTurnsLock(func() error {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return bpErrors.TurnNotFound(turnID)
		}
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		state, err = w.decodeLive(data)
		if err != nil {
			return err
		}
		if state == nil {
			return bpErrors.TurnNotFound(turnID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (w *Worker) getTurn(turnID string) (*turnstate.TurnState, error) {
	path, err := w.turnPath(turnID)
	if err != nil {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	if err != nil {
		return nil, err
	}
	state, err := w.decodeLive(data)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	return state, nil
}

func (w *Worker) listTurns() ([]*turnstate.TurnState, error) {
	entries, err := os.ReadDir(w.turnsDir)
	if err != nil {
		return nil, err
	}

	states := make([]*turnstate.TurnState, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(w.turnsDir, entry.Name()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		state, err := w.decodeLive(data)
		if err != nil {
			slog.Warn("Skipping unreadable turn file", "file", entry.Name(), "error", err)
			continue
		}
		if state != nil {
			states = append(states, state)
		}
	}
	turnstate.SortByCreation(states)
	return states, nil
}

func (w *Worker) pruneTurns() (int, error) {
	removed := 0
	err := w.withTurnsLock(func() error {
		entries, err := os.ReadDir(w.turnsDir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := filepath.Join(w.turnsDir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			state, err := w.decodeLive(data)
			if err == nil && state != nil {
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// decodeLive returns nil for expired states.
func (w *Worker) decodeLive(data []byte) (*turnstate.TurnState, error) {
	var state turnstate.TurnState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, bpErrors.WrapWithCategory(err, "decode turn state", bpErrors.ErrInternal)
	}
	if state.Expired(w.turnOpts.CurrentTime(), w.turnOpts.TTL) {
		return nil, nil
	}
	return &state, nil
}

// Public API for other components

func (w *Worker) WriteTranscript(sessionID string, data []byte) error {
	_, err := w.submit(context.Background(), Request{
		Op:      OpWriteTranscript,
		Payload: TranscriptPayload{SessionID: sessionID, Data: data},
	})
	return err
}

// AppendEntry marshals entry and appends it to the session transcript.
func (w *Worker) AppendEntry(sessionID string, entry TranscriptEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return w.WriteTranscript(sessionID, data)
}

func (w *Worker) ReadTranscript(sessionID string, limit int) ([]string, error) {
	val, err := w.submit(context.Background(), Request{
		Op:      OpReadTranscript,
		Payload: ReadTranscriptPayload{SessionID: sessionID, Limit: limit},
	})
	if err != nil {
		return nil, err
	}
	return val.([]string), nil
}

func (w *Worker) ResetSession(sessionID string) error {
	_, err := w.submit(context.Background(), Request{
		Op:      OpResetSession,
		Payload: ResetSessionPayload{SessionID: sessionID},
	})
	return err
}

// ListSessions returns the indexed sessions, most recently updated first.
func (w *Worker) ListSessions() ([]SessionMeta, error) {
	val, err := w.submit(context.Background(), Request{Op: OpListSessions})
	if err != nil {
		return nil, err
	}
	return val.([]SessionMeta), nil
}

// GetSession returns nil, nil when the session is unknown.
func (w *Worker) GetSession(id string) (*SessionMeta, error) {
	val, err := w.submit(context.Background(), Request{
		Op:      OpGetSession,
		Payload: GetSessionPayload{SessionID: id},
	})
	if err != nil {
		return nil, err
	}
	sess, _ := val.(*SessionMeta)
	return sess, nil
}

func (w *Worker) SaveSession(session *SessionMeta) error {
	_, err := w.submit(context.Background(), Request{
		Op:      OpSaveSession,
		Payload: SaveSessionPayload{Session: session},
	})
	return err
}

// Save implements turnstate.Store.
func (w *Worker) Save(ctx context.Context, state *turnstate.TurnState) error {
	if err := turnstate.Prepare(state, w.turnOpts); err != nil {
		return err
	}
	_, err := w.submit(ctx, Request{Op: OpSaveTurn, Payload: SaveTurnPayload{State: state}})
	return err
}

// Take implements turnstate.Store.
func (w *Worker) Take(ctx context.Context, turnID string) (*turnstate.TurnState, error) {
	val, err := w.submit(ctx, Request{Op: OpTakeTurn, Payload: TurnIDPayload{TurnID: turnID}})
	if err != nil {
		return nil, err
	}
	return val.(*turnstate.TurnState), nil
}

// Get implements turnstate.Store.
func (w *Worker) Get(ctx context.Context, turnID string) (*turnstate.TurnState, error) {
	val, err := w.submit(ctx, Request{Op: OpGetTurn, Payload: TurnIDPayload{TurnID: turnID}})
	if err != nil {
		return nil, err
	}
	return val.(*turnstate.TurnState), nil
}

// List implements turnstate.Store.
func (w *Worker) List(ctx context.Context) ([]*turnstate.TurnState, error) {
	val, err := w.submit(ctx, Request{Op: OpListTurns})
	if err != nil {
		return nil, err
	}
	return val.([]*turnstate.TurnState), nil
}

// Prune implements turnstate.Store.
func (w *Worker) Prune(ctx context.Context) (int, error) {
	val, err := w.submit(ctx, Request{Op: OpPruneTurns})
	if err != nil {
		return 0, err
	}
	return val.(int), nil
}

// Close implements turnstate.Store by stopping the worker.
func (w *Worker) Close() error {
	w.Stop()
	return nil
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		slog.Info("StoreWorker Stop called", "workspace", w.workspaceID)
		close(w.quit)
		w.wg.Wait()
		w.running.Store(false)
	})
}

func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

func (w *Worker) BasePath() string {
	return w.basePath
}

func (w *Worker) WorkspaceID() string {
	return w.workspaceID
}
