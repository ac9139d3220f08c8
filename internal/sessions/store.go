// Package sessions persists conversation history as append-only JSONL
// files, one per session, keyed by agent ID and session ID. Writes are
// serialized per session; reads are lock-free.
package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentos/pkg/models"
)

// ErrSessionNotFound is returned when no session file exists.
var ErrSessionNotFound = errors.New("session not found")

// CorruptError reports an unparseable record in a session log.
type CorruptError struct {
	SessionID string
	Line      int
	Err       error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("session %s corrupt at line %d: %v", e.SessionID, e.Line, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Record kinds following the header.
const (
	KindHeader     = "header"
	KindMessage    = "message"
	KindToolResult = "tool_result"
	KindSummary    = "summary"
)

// Record is one line of a session log.
type Record struct {
	Kind string `json:"kind"`

	// Header fields (first record only).
	SessionID string    `json:"session_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Payload fields.
	Message    *models.Message    `json:"message,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Summary    string             `json:"summary,omitempty"`
	Timestamp  time.Time          `json:"timestamp,omitempty"`
}

// Session is a loaded session log.
type Session struct {
	SessionID string
	AgentID   string
	CreatedAt time.Time
	Records   []Record
}

// Messages extracts the conversation messages in order.
func (s *Session) Messages() []models.Message {
	var out []models.Message
	for _, rec := range s.Records {
		if rec.Kind == KindMessage && rec.Message != nil {
			out = append(out, *rec.Message)
		}
	}
	return out
}

// Store writes and recovers session logs under a root directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a session store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "sessions"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Create starts a new session for agentID and writes its header record.
func (s *Store) Create(ctx context.Context, agentID string) (string, error) {
	sessionID := uuid.NewString()
	header := Record{
		Kind:      KindHeader,
		SessionID: sessionID,
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Append(ctx, agentID, sessionID, header); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Append writes one record to the session log. Writes for the same
// session are serialized by an advisory lock; the file is opened with
// O_APPEND so each record lands atomically.
func (s *Store) Append(ctx context.Context, agentID, sessionID string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(agentID, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// AppendMessage is a convenience wrapper for message records.
func (s *Store) AppendMessage(ctx context.Context, agentID, sessionID string, msg models.Message) error {
	return s.Append(ctx, agentID, sessionID, Record{
		Kind:      KindMessage,
		Message:   &msg,
		Timestamp: time.Now().UTC(),
	})
}

// Load reads a session log back. A torn final line (crash mid-append) is
// dropped with a warning; any interior unparseable record is a
// CorruptError naming the session.
func (s *Store) Load(ctx context.Context, agentID, sessionID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(agentID, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	defer f.Close()

	session := &Session{SessionID: sessionID, AgentID: agentID}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	type parsed struct {
		rec  Record
		line int
	}
	var records []parsed
	var badLine int
	var badErr error
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if text == "" {
			continue
		}
		// A previously detected bad record was not the tail: corrupt.
		if badErr != nil {
			return nil, &CorruptError{SessionID: sessionID, Line: badLine, Err: badErr}
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			badLine, badErr = lineNo, err
			continue
		}
		records = append(records, parsed{rec: rec, line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if badErr != nil {
		// Torn tail from an interrupted append: recover by dropping it.
		s.logger.Warn("dropping torn session tail",
			"session_id", sessionID, "line", badLine)
	}

	if len(records) == 0 {
		return nil, &CorruptError{SessionID: sessionID, Line: 1, Err: errors.New("missing header")}
	}
	head := records[0].rec
	if head.Kind != KindHeader || head.SessionID == "" {
		return nil, &CorruptError{SessionID: sessionID, Line: records[0].line, Err: errors.New("first record is not a header")}
	}
	session.CreatedAt = head.CreatedAt
	for _, p := range records[1:] {
		session.Records = append(session.Records, p.rec)
	}
	return session, nil
}

// List returns the session IDs stored for an agent.
func (s *Store) List(agentID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if name, ok := cutJSONL(e.Name()); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func cutJSONL(name string) (string, bool) {
	const ext = ".jsonl"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)], true
	}
	return "", false
}

func (s *Store) path(agentID, sessionID string) string {
	return filepath.Join(s.dir, agentID, sessionID+".jsonl")
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}
