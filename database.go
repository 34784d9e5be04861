package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store archives sessions: their seats, every timeline event and the action
// log, so a finished session can be listed and replayed.
type Store struct {
	db *sqlx.DB
}

// SessionRow is one archived session.
type SessionRow struct {
	ID         string       `db:"id" json:"id"`
	Seed       int64        `db:"seed" json:"seed"`
	Players    int          `db:"players" json:"players"`
	MaxRounds  int          `db:"max_rounds" json:"maxRounds"`
	Status     string       `db:"status" json:"status"` // running, finished, cancelled
	Result     string       `db:"result" json:"result,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"createdAt"`
	FinishedAt sql.NullTime `db:"finished_at" json:"-"`
	EventCount int          `db:"event_count" json:"eventCount"`
}

type seatRow struct {
	SessionID string `db:"session_id"`
	Position  int    `db:"position"`
	SeatID    string `db:"seat_id"`
	Name      string `db:"name"`
	Role      string `db:"role"`
}

type eventRow struct {
	Seq       int64  `db:"seq"`
	Type      string `db:"type"`
	Recipient string `db:"recipient"`
	Fields    string `db:"fields"`
}

type actionRow struct {
	Position int            `db:"position"`
	Window   int            `db:"win"`
	Round    int            `db:"round"`
	Phase    string         `db:"phase"`
	Seat     string         `db:"seat"`
	Kind     string         `db:"kind"`
	Input    sql.NullString `db:"input"`
	Target   string         `db:"target"`
	Outcome  string         `db:"outcome"`
}

// ArchivedSession is everything needed to replay a session.
type ArchivedSession struct {
	Session SessionRow
	Seats   []Seat
	Roles   map[string]Role
	Events  []Event
	Actions []ResolvedAction
}

// OpenStore connects to dsn and creates the schema.
func OpenStore(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dsn, err)
	}
	// one connection keeps a shared in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initDB() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS session (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		players INTEGER NOT NULL,
		max_rounds INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		result TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS session_seat (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		seat_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES session(id),
		UNIQUE(session_id, seat_id)
	);
	CREATE TABLE IF NOT EXISTS session_event (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		fields TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY (session_id) REFERENCES session(id),
		UNIQUE(session_id, seq)
	);
	CREATE TABLE IF NOT EXISTS session_action (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		win INTEGER NOT NULL,
		round INTEGER NOT NULL,
		phase TEXT NOT NULL,
		seat TEXT NOT NULL,
		kind TEXT NOT NULL,
		input TEXT,
		target TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES session(id),
		UNIQUE(session_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_session_event_lookup ON session_event(session_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}

// CreateSession archives a new session and its seat assignment.
func (s *Store) CreateSession(id string, seed int64, maxRounds int, roster *Roster) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO session (id, seed, players, max_rounds, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, seed, roster.Size(), maxRounds, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	for i, seat := range roster.Seats() {
		_, err = tx.NamedExec(`INSERT INTO session_seat (session_id, position, seat_id, name, role)
			VALUES (:session_id, :position, :seat_id, :name, :role)`, seatRow{
			SessionID: id,
			Position:  i,
			SeatID:    seat.ID,
			Name:      seat.Name,
			Role:      string(roster.Role(seat.ID)),
		})
		if err != nil {
			return fmt.Errorf("insert seat %s: %w", seat.ID, err)
		}
	}
	return tx.Commit()
}

// RecordEvent archives one timeline event.
func (s *Store) RecordEvent(sessionID string, ev Event) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return fmt.Errorf("marshal %s fields: %w", ev.Type, err)
	}
	if ev.Fields == nil {
		fields = []byte("{}")
	}
	_, err = s.db.Exec(`INSERT INTO session_event (session_id, seq, type, recipient, fields) VALUES (?, ?, ?, ?, ?)`,
		sessionID, ev.Seq, string(ev.Type), ev.Recipient, string(fields))
	return err
}

// FinishSession stores the outcome and the full action log.
func (s *Store) FinishSession(id, status, result string, actions []ResolvedAction) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_action WHERE session_id = ?`, id); err != nil {
		return err
	}
	for i, ra := range actions {
		var input sql.NullString
		if ra.Input != nil {
			b, err := json.Marshal(ra.Input)
			if err != nil {
				return err
			}
			input = sql.NullString{String: string(b), Valid: true}
		}
		_, err = tx.Exec(`INSERT INTO session_action
			(session_id, position, win, round, phase, seat, kind, input, target, outcome)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, ra.Window, ra.Round, string(ra.Phase), ra.Seat, string(ra.Kind), input, ra.Target, string(ra.Outcome))
		if err != nil {
			return fmt.Errorf("insert action %d: %w", i, err)
		}
	}

	res, err := tx.Exec(`UPDATE session SET status = ?, result = ?, finished_at = ? WHERE id = ?`,
		status, result, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish session %s: %w", id, sql.ErrNoRows)
	}
	return tx.Commit()
}

// ListSessions returns archived sessions, newest first.
func (s *Store) ListSessions() ([]SessionRow, error) {
	var rows []SessionRow
	err := s.db.Select(&rows, `
		SELECT s.id, s.seed, s.players, s.max_rounds, s.status, s.result,
			s.created_at, s.finished_at,
			(SELECT COUNT(*) FROM session_event e WHERE e.session_id = s.id) AS event_count
		FROM session s
		ORDER BY s.created_at DESC, s.id`)
	return rows, err
}

// LoadSession returns everything archived for id, or sql.ErrNoRows.
func (s *Store) LoadSession(id string) (*ArchivedSession, error) {
	var out ArchivedSession
	err := s.db.Get(&out.Session, `
		SELECT s.id, s.seed, s.players, s.max_rounds, s.status, s.result,
			s.created_at, s.finished_at,
			(SELECT COUNT(*) FROM session_event e WHERE e.session_id = s.id) AS event_count
		FROM session s WHERE s.id = ?`, id)
	if err != nil {
		return nil, err
	}

	var seats []seatRow
	if err := s.db.Select(&seats, `SELECT session_id, position, seat_id, name, role
		FROM session_seat WHERE session_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}
	out.Roles = make(map[string]Role, len(seats))
	for _, sr := range seats {
		out.Seats = append(out.Seats, Seat{ID: sr.SeatID, Name: sr.Name, Alive: true})
		out.Roles[sr.SeatID] = Role(sr.Role)
	}

	var events []eventRow
	if err := s.db.Select(&events, `SELECT seq, type, recipient, fields
		FROM session_event WHERE session_id = ? ORDER BY seq`, id); err != nil {
		return nil, err
	}
	for _, er := range events {
		ev := Event{Seq: er.Seq, Type: EventType(er.Type), Recipient: er.Recipient}
		if err := json.Unmarshal([]byte(er.Fields), &ev.Fields); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", er.Seq, err)
		}
		out.Events = append(out.Events, ev)
	}

	var actions []actionRow
	if err := s.db.Select(&actions, `SELECT position, win, round, phase, seat, kind, input, target, outcome
		FROM session_action WHERE session_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}
	for _, ar := range actions {
		ra := ResolvedAction{
			Window:  ar.Window,
			Round:   ar.Round,
			Phase:   Phase(ar.Phase),
			Seat:    ar.Seat,
			Kind:    ActionKind(ar.Kind),
			Target:  ar.Target,
			Outcome: Outcome(ar.Outcome),
		}
		if ar.Input.Valid {
			var a Action
			if err := json.Unmarshal([]byte(ar.Input.String), &a); err != nil {
				return nil, fmt.Errorf("decode action %d: %w", ar.Position, err)
			}
			ra.Input = &a
		}
		out.Actions = append(out.Actions, ra)
	}
	return &out, nil
}

// isNotFound reports whether err means the session does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
