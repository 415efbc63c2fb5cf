package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/magnusk/alliancevault/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS members (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    member_id  INTEGER NOT NULL,
    nickname   TEXT    NOT NULL DEFAULT '',
    furnace_lv INTEGER NOT NULL DEFAULT 0,
    crystals   INTEGER NOT NULL DEFAULT 0,
    refine_lv  INTEGER NOT NULL DEFAULT 0,
    alliance   TEXT    NOT NULL DEFAULT '',
    active     INTEGER NOT NULL DEFAULT 1,
    updated_at TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_members_member_id ON members (member_id);
CREATE INDEX        IF NOT EXISTS idx_members_alliance  ON members (alliance);

CREATE TABLE IF NOT EXISTS gift_codes (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    code       TEXT    NOT NULL,
    date       TEXT    NOT NULL DEFAULT '',
    status     TEXT    NOT NULL DEFAULT 'pending',
    updated_at TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_gift_codes_code ON gift_codes (code);

CREATE TABLE IF NOT EXISTS reminders (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    ident      TEXT    NOT NULL,
    owner      TEXT    NOT NULL,
    at_unix    INTEGER NOT NULL,
    seq        INTEGER NOT NULL DEFAULT 0,
    channel_id TEXT    NOT NULL DEFAULT '',
    guild_id   TEXT    NOT NULL DEFAULT '',
    message    TEXT    NOT NULL DEFAULT '',
    mention    TEXT    NOT NULL DEFAULT '',
    recurring  INTEGER NOT NULL DEFAULT 0,
    every_sec  INTEGER NOT NULL DEFAULT 0,
    created_at TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reminders_ident ON reminders (ident);
CREATE INDEX        IF NOT EXISTS idx_reminders_owner ON reminders (owner);

CREATE TABLE IF NOT EXISTS redemptions (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    member_id INTEGER NOT NULL,
    code      TEXT    NOT NULL,
    status    TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_redemptions_member_code ON redemptions (member_id, code);
`

// DefaultDBPath returns the default path for the embedded database:
// ~/.local/share/alliancevault/alliancevault.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "alliancevault", "alliancevault.db"), nil
}

// OpenEmbedded opens (or creates) the SQLite database at path, applies the
// schema, and returns a Store in embedded mode.
func OpenEmbedded(path string) (*Store, error) {
	b, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	return &Store{mode: ModeEmbedded, b: b}, nil
}

type sqliteBackend struct {
	db *sql.DB
}

// openSQLite opens the database file, applies the schema idempotently, and
// configures WAL mode for better concurrent read performance.
func openSQLite(path string) (*sqliteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w: %w", path, ErrUnavailable, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema to %q: %w: %w", path, ErrUnavailable, err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Members() MemberStore         { return &sqliteMembers{db: b.db} }
func (b *sqliteBackend) GiftCodes() GiftCodeStore     { return &sqliteCodes{db: b.db} }
func (b *sqliteBackend) Reminders() ReminderStore     { return &sqliteReminders{db: b.db} }
func (b *sqliteBackend) Redemptions() RedemptionStore { return &sqliteRedemptions{db: b.db} }

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

// --- members -----------------------------------------------------------------

type sqliteMembers struct {
	db *sql.DB
}

const memberColumns = `member_id, nickname, furnace_lv, crystals, refine_lv, alliance, active, updated_at`

func (s *sqliteMembers) Get(ctx context.Context, id int64) (*model.Member, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE member_id = ?`
	return scanMember(s.db.QueryRowContext(ctx, q, id))
}

func (s *sqliteMembers) Upsert(ctx context.Context, m *model.Member) error {
	m.UpdatedAt = stamp()
	const q = `
		INSERT INTO members
		    (member_id, nickname, furnace_lv, crystals, refine_lv, alliance, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
		    nickname   = excluded.nickname,
		    furnace_lv = excluded.furnace_lv,
		    crystals   = excluded.crystals,
		    refine_lv  = excluded.refine_lv,
		    alliance   = excluded.alliance,
		    active     = excluded.active,
		    updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q,
		m.ID, m.Nickname, m.FurnaceLevel, m.Crystals, m.RefineLevel,
		m.Alliance, m.Active, formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting member %d: %w", m.ID, err)
	}
	return nil
}

func (s *sqliteMembers) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE member_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting member %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("member %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteMembers) List(ctx context.Context, f MemberFilter) ([]*model.Member, error) {
	q := `SELECT ` + memberColumns + ` FROM members`
	var conds []string
	var args []any
	if f.Alliance != "" {
		conds = append(conds, "alliance = ?")
		args = append(args, f.Alliance)
	}
	if f.ActiveOnly {
		conds = append(conds, "active = 1")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []*model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func scanMember(s scanner) (*model.Member, error) {
	var m model.Member
	var updated string

	err := s.Scan(
		&m.ID,
		&m.Nickname,
		&m.FurnaceLevel,
		&m.Crystals,
		&m.RefineLevel,
		&m.Alliance,
		&m.Active,
		&updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning member row: %w", err)
	}

	m.UpdatedAt, _ = parseTime(updated)
	return &m, nil
}

// --- gift codes --------------------------------------------------------------

type sqliteCodes struct {
	db *sql.DB
}

const codeColumns = `code, date, status, updated_at`

func (s *sqliteCodes) Get(ctx context.Context, code string) (*model.GiftCode, error) {
	q := `SELECT ` + codeColumns + ` FROM gift_codes WHERE code = ?`
	return scanGiftCode(s.db.QueryRowContext(ctx, q, model.NormalizeCode(code)))
}

func (s *sqliteCodes) Upsert(ctx context.Context, gc *model.GiftCode) error {
	gc.Code = model.NormalizeCode(gc.Code)
	if gc.Code == "" {
		return fmt.Errorf("upserting gift code: code is empty after normalization")
	}
	if gc.Status == "" {
		gc.Status = model.StatusPending
	}
	gc.UpdatedAt = stamp()

	const q = `
		INSERT INTO gift_codes (code, date, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
		    date       = excluded.date,
		    status     = excluded.status,
		    updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q, gc.Code, gc.Date, string(gc.Status), formatTime(gc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting gift code %q: %w", gc.Code, err)
	}
	return nil
}

func (s *sqliteCodes) SetStatus(ctx context.Context, code string, next model.Status) error {
	code = model.NormalizeCode(code)
	cur, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("gift code %q: %w", code, ErrNotFound)
	}
	if cur.Status == next {
		return nil
	}
	if !cur.Status.CanTransitionTo(next) {
		return fmt.Errorf("gift code %q: %s to %s: %w", code, cur.Status, next, ErrInvalidTransition)
	}

	// Conditional on the status just read, so a concurrent transition
	// cannot be silently overwritten.
	res, err := s.db.ExecContext(ctx,
		`UPDATE gift_codes SET status = ?, updated_at = ? WHERE code = ? AND status = ?`,
		string(next), formatTime(stamp()), code, string(cur.Status),
	)
	if err != nil {
		return fmt.Errorf("updating gift code %q status: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err = s.Get(ctx, code)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("gift code %q: %w", code, ErrNotFound)
		}
		if cur.Status == next {
			return nil
		}
		return fmt.Errorf("gift code %q: %s to %s: %w", code, cur.Status, next, ErrInvalidTransition)
	}
	return nil
}

func (s *sqliteCodes) Delete(ctx context.Context, code string) error {
	code = model.NormalizeCode(code)
	res, err := s.db.ExecContext(ctx, `DELETE FROM gift_codes WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("deleting gift code %q: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("gift code %q: %w", code, ErrNotFound)
	}
	return nil
}

func (s *sqliteCodes) List(ctx context.Context, f CodeFilter) ([]*model.GiftCode, error) {
	q := `SELECT ` + codeColumns + ` FROM gift_codes`
	var args []any
	if f.Status != "" {
		q += " WHERE status = ?"
		args = append(args, string(f.Status))
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing gift codes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var codes []*model.GiftCode
	for rows.Next() {
		gc, err := scanGiftCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, gc)
	}
	return codes, rows.Err()
}

func scanGiftCode(s scanner) (*model.GiftCode, error) {
	var gc model.GiftCode
	var status, updated string

	err := s.Scan(&gc.Code, &gc.Date, &status, &updated)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning gift code row: %w", err)
	}

	gc.Status = model.Status(status)
	gc.UpdatedAt, _ = parseTime(updated)
	return &gc, nil
}

// --- reminders ---------------------------------------------------------------

type sqliteReminders struct {
	db *sql.DB
}

const reminderColumns = `owner, at_unix, seq, channel_id, guild_id, message, mention, recurring, every_sec, created_at`

func (s *sqliteReminders) Get(ctx context.Context, key string) (*model.Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminders WHERE ident = ?`
	return scanReminder(s.db.QueryRowContext(ctx, q, key))
}

func (s *sqliteReminders) Upsert(ctx context.Context, r *model.Reminder) error {
	// Reminder identity is second-granular; keep the stored time aligned
	// with the composite key.
	r.At = r.At.UTC().Truncate(time.Second)
	created := r.CreatedAt
	if created.IsZero() {
		created = stamp()
	}

	const q = `
		INSERT INTO reminders
		    (ident, owner, at_unix, seq, channel_id, guild_id, message, mention, recurring, every_sec, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ident) DO UPDATE SET
		    channel_id = excluded.channel_id,
		    guild_id   = excluded.guild_id,
		    message    = excluded.message,
		    mention    = excluded.mention,
		    recurring  = excluded.recurring,
		    every_sec  = excluded.every_sec`

	_, err := s.db.ExecContext(ctx, q,
		r.Key(), r.Owner, r.At.Unix(), r.Seq, r.ChannelID, r.GuildID,
		r.Message, r.Mention, r.Recurring, int64(r.Every/time.Second), formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("upserting reminder %q: %w", r.Key(), err)
	}
	return nil
}

func (s *sqliteReminders) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE ident = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting reminder %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %q: %w", key, ErrNotFound)
	}
	return nil
}

func (s *sqliteReminders) List(ctx context.Context, f ReminderFilter) ([]*model.Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminders`
	var conds []string
	var args []any
	if f.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, f.Owner)
	}
	if !f.DueBefore.IsZero() {
		conds = append(conds, "at_unix <= ?")
		args = append(args, f.DueBefore.UTC().Unix())
	}
	if f.Recurring != nil {
		conds = append(conds, "recurring = ?")
		args = append(args, *f.Recurring)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reminders []*model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func scanReminder(s scanner) (*model.Reminder, error) {
	var r model.Reminder
	var atUnix, everySec int64
	var created string

	err := s.Scan(
		&r.Owner,
		&atUnix,
		&r.Seq,
		&r.ChannelID,
		&r.GuildID,
		&r.Message,
		&r.Mention,
		&r.Recurring,
		&everySec,
		&created,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning reminder row: %w", err)
	}

	r.At = time.Unix(atUnix, 0).UTC()
	r.Every = time.Duration(everySec) * time.Second
	r.CreatedAt, _ = parseTime(created)
	return &r, nil
}

// --- redemptions -------------------------------------------------------------

type sqliteRedemptions struct {
	db *sql.DB
}

func (s *sqliteRedemptions) Get(ctx context.Context, memberID int64, code string) (*model.Redemption, error) {
	const q = `SELECT member_id, code, status FROM redemptions WHERE member_id = ? AND code = ?`
	return scanRedemption(s.db.QueryRowContext(ctx, q, memberID, model.NormalizeCode(code)))
}

func (s *sqliteRedemptions) Upsert(ctx context.Context, r *model.Redemption) error {
	r.Code = model.NormalizeCode(r.Code)
	const q = `
		INSERT INTO redemptions (member_id, code, status)
		VALUES (?, ?, ?)
		ON CONFLICT(member_id, code) DO UPDATE SET
		    status = excluded.status`

	_, err := s.db.ExecContext(ctx, q, r.MemberID, r.Code, r.Status)
	if err != nil {
		return fmt.Errorf("upserting redemption %d/%q: %w", r.MemberID, r.Code, err)
	}
	return nil
}

func (s *sqliteRedemptions) Delete(ctx context.Context, memberID int64, code string) error {
	code = model.NormalizeCode(code)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM redemptions WHERE member_id = ? AND code = ?`, memberID, code)
	if err != nil {
		return fmt.Errorf("deleting redemption %d/%q: %w", memberID, code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("redemption %d/%q: %w", memberID, code, ErrNotFound)
	}
	return nil
}

func (s *sqliteRedemptions) List(ctx context.Context, f RedemptionFilter) ([]*model.Redemption, error) {
	q := `SELECT member_id, code, status FROM redemptions`
	var conds []string
	var args []any
	if f.MemberID != 0 {
		conds = append(conds, "member_id = ?")
		args = append(args, f.MemberID)
	}
	if f.Code != "" {
		conds = append(conds, "code = ?")
		args = append(args, model.NormalizeCode(f.Code))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing redemptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*model.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func scanRedemption(s scanner) (*model.Redemption, error) {
	var r model.Redemption
	err := s.Scan(&r.MemberID, &r.Code, &r.Status)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning redemption row: %w", err)
	}
	return &r, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so the scan helpers can be
// reused for single and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// stamp returns the current UTC time truncated to milliseconds, the finest
// precision both backends persist without loss.
func stamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
