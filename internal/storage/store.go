// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cc4me/fabric/internal/cc4merr"
)

// Store wraps the relay's SQLite database. All cross-cutting invariants
// (denial-count auto-block, rate-limit increments, recovery-to-rotation)
// go through WithTx so a crash mid-transition can't leave the relational
// state half-updated.
type Store struct {
	db *sql.DB
}

// Open creates the database file at path if needed, applies the schema
// and pragmas, and returns a ready Store. A single *sql.DB is shared by
// the whole relay process; SQLite's writer lock plus busy_timeout
// serializes concurrent writers instead of the process doing it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error, including a panic that it re-raises after rollback.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

func timeToStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func strToTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeToStr(*t)
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := strToTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- agents ---------------------------------------------------------------

func (s *Store) InsertAgent(ctx context.Context, tx *sql.Tx, a *Agent) error {
	exec := s.execer(tx)
	_, err := exec.ExecContext(ctx, `INSERT INTO agents
		(name, public_key, owner_email, endpoint, email_verified, status, last_seen, created_at, approved_by, key_updated_at, recovery_initiated_at, pending_public_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.PublicKey, a.OwnerEmail, a.Endpoint, a.EmailVerified, string(a.Status),
		nullTime(a.LastSeen), timeToStr(a.CreatedAt), a.ApprovedBy,
		nullTime(a.KeyUpdatedAt), nullTime(a.RecoveryInitiatedAt), a.PendingPublicKey)
	if err != nil {
		return cc4merr.Wrap(cc4merr.Conflict, "insert agent", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, tx *sql.Tx, name string) (*Agent, error) {
	row := s.querier(tx).QueryRowContext(ctx, `SELECT
		name, public_key, owner_email, endpoint, email_verified, status, last_seen, created_at, approved_by, key_updated_at, recovery_initiated_at, pending_public_key
		FROM agents WHERE name = ?`, name)
	return scanAgent(row)
}

// PublicKeyInUse reports whether any agent (active or not) already owns
// this public key, used to reject rotation/recovery collisions.
func (s *Store) PublicKeyInUse(ctx context.Context, tx *sql.Tx, publicKey string) (bool, error) {
	var count int
	err := s.querier(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE public_key = ?`, publicKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("storage: check public key: %w", err)
	}
	return count > 0, nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, tx *sql.Tx, name string, status AgentStatus, approvedBy *string) error {
	_, err := s.execer(tx).ExecContext(ctx, `UPDATE agents SET status = ?, approved_by = COALESCE(?, approved_by) WHERE name = ?`, string(status), approvedBy, name)
	if err != nil {
		return fmt.Errorf("storage: update agent status: %w", err)
	}
	return nil
}

func (s *Store) SetAgentEmailVerified(ctx context.Context, tx *sql.Tx, name string, verified bool) error {
	_, err := s.execer(tx).ExecContext(ctx, `UPDATE agents SET email_verified = ? WHERE name = ?`, verified, name)
	if err != nil {
		return fmt.Errorf("storage: set agent email verified: %w", err)
	}
	return nil
}

func (s *Store) UpdateAgentKey(ctx context.Context, tx *sql.Tx, name, newPublicKey string, now time.Time) error {
	_, err := s.execer(tx).ExecContext(ctx, `UPDATE agents SET public_key = ?, key_updated_at = ?, recovery_initiated_at = NULL, pending_public_key = NULL WHERE name = ?`,
		newPublicKey, timeToStr(now), name)
	if err != nil {
		return fmt.Errorf("storage: update agent key: %w", err)
	}
	return nil
}

func (s *Store) InitiateRecovery(ctx context.Context, tx *sql.Tx, name, pendingPublicKey string, now time.Time) error {
	_, err := s.execer(tx).ExecContext(ctx, `UPDATE agents SET recovery_initiated_at = ?, pending_public_key = ? WHERE name = ?`,
		timeToStr(now), pendingPublicKey, name)
	if err != nil {
		return fmt.Errorf("storage: initiate recovery: %w", err)
	}
	return nil
}

func (s *Store) TouchLastSeen(ctx context.Context, tx *sql.Tx, name string, now time.Time) error {
	_, err := s.execer(tx).ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE name = ?`, timeToStr(now), name)
	if err != nil {
		return fmt.Errorf("storage: touch last_seen: %w", err)
	}
	return nil
}

func scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	var status, createdAt string
	var lastSeen, approvedBy, keyUpdatedAt, recoveryInitiatedAt, pendingPublicKey sql.NullString
	err := row.Scan(&a.Name, &a.PublicKey, &a.OwnerEmail, &a.Endpoint, &a.EmailVerified, &status,
		&lastSeen, &createdAt, &approvedBy, &keyUpdatedAt, &recoveryInitiatedAt, &pendingPublicKey)
	if err == sql.ErrNoRows {
		return nil, cc4merr.New(cc4merr.NotFound, "agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan agent: %w", err)
	}
	a.Status = AgentStatus(status)
	if a.CreatedAt, err = strToTime(createdAt); err != nil {
		return nil, fmt.Errorf("storage: parse created_at: %w", err)
	}
	if approvedBy.Valid {
		v := approvedBy.String
		a.ApprovedBy = &v
	}
	if pendingPublicKey.Valid {
		v := pendingPublicKey.String
		a.PendingPublicKey = &v
	}
	if a.LastSeen, err = scanNullTime(lastSeen); err != nil {
		return nil, fmt.Errorf("storage: parse last_seen: %w", err)
	}
	if a.KeyUpdatedAt, err = scanNullTime(keyUpdatedAt); err != nil {
		return nil, fmt.Errorf("storage: parse key_updated_at: %w", err)
	}
	if a.RecoveryInitiatedAt, err = scanNullTime(recoveryInitiatedAt); err != nil {
		return nil, fmt.Errorf("storage: parse recovery_initiated_at: %w", err)
	}
	return &a, nil
}

// --- email verifications ---------------------------------------------------

func (s *Store) UpsertEmailVerification(ctx context.Context, tx *sql.Tx, v *EmailVerification) error {
	_, err := s.execer(tx).ExecContext(ctx, `INSERT INTO email_verifications (agent_name, email, code_hash, attempts, expires_at, verified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET email=excluded.email, code_hash=excluded.code_hash, attempts=excluded.attempts, expires_at=excluded.expires_at, verified=excluded.verified`,
		v.AgentName, v.Email, v.CodeHash, v.Attempts, timeToStr(v.ExpiresAt), v.Verified)
	if err != nil {
		return fmt.Errorf("storage: upsert email verification: %w", err)
	}
	return nil
}

func (s *Store) GetEmailVerification(ctx context.Context, tx *sql.Tx, agentName string) (*EmailVerification, error) {
	row := s.querier(tx).QueryRowContext(ctx, `SELECT agent_name, email, code_hash, attempts, expires_at, verified FROM email_verifications WHERE agent_name = ?`, agentName)
	var v EmailVerification
	var expiresAt string
	err := row.Scan(&v.AgentName, &v.Email, &v.CodeHash, &v.Attempts, &expiresAt, &v.Verified)
	if err == sql.ErrNoRows {
		return nil, cc4merr.New(cc4merr.NotFound, "verification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan email verification: %w", err)
	}
	if v.ExpiresAt, err = strToTime(expiresAt); err != nil {
		return nil, fmt.Errorf("storage: parse expires_at: %w", err)
	}
	return &v, nil
}

func (s *Store) IncrementVerificationAttempts(ctx context.Context, tx *sql.Tx, agentName string) error {
	_, err := s.execer(tx).ExecContext(ctx, `UPDATE email_verifications SET attempts = attempts + 1 WHERE agent_name = ?`, agentName)
	if err != nil {
		return fmt.Errorf("storage: increment verification attempts: %w", err)
	}
	return nil
}

// --- contacts ---------------------------------------------------------------

func (s *Store) UpsertContact(ctx context.Context, tx *sql.Tx, c *Contact) error {
	a, b := OrderedPair(c.AgentA, c.AgentB)
	_, err := s.execer(tx).ExecContext(ctx, `INSERT INTO contacts (agent_a, agent_b, status, requested_by, denial_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_a, agent_b) DO UPDATE SET status=excluded.status, requested_by=excluded.requested_by, denial_count=excluded.denial_count, updated_at=excluded.updated_at`,
		a, b, string(c.Status), c.RequestedBy, c.DenialCount, timeToStr(c.CreatedAt), timeToStr(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("storage: upsert contact: %w", err)
	}
	return nil
}

func (s *Store) GetContact(ctx context.Context, tx *sql.Tx, x, y string) (*Contact, error) {
	a, b := OrderedPair(x, y)
	row := s.querier(tx).QueryRowContext(ctx, `SELECT agent_a, agent_b, status, requested_by, denial_count, created_at, updated_at FROM contacts WHERE agent_a = ? AND agent_b = ?`, a, b)
	var c Contact
	var status, createdAt, updatedAt string
	err := row.Scan(&c.AgentA, &c.AgentB, &status, &c.RequestedBy, &c.DenialCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, cc4merr.New(cc4merr.NotFound, "contact not found")
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan contact: %w", err)
	}
	c.Status = ContactStatus(status)
	if c.CreatedAt, err = strToTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = strToTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListContactsForAgent(ctx context.Context, tx *sql.Tx, agent string, status ContactStatus) ([]Contact, error) {
	rows, err := s.querier(tx).QueryContext(ctx, `SELECT agent_a, agent_b, status, requested_by, denial_count, created_at, updated_at
		FROM contacts WHERE (agent_a = ? OR agent_b = ?) AND status = ?`, agent, agent, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage: list contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var st, createdAt, updatedAt string
		if err := rows.Scan(&c.AgentA, &c.AgentB, &st, &c.RequestedBy, &c.DenialCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan contact row: %w", err)
		}
		c.Status = ContactStatus(st)
		if c.CreatedAt, err = strToTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = strToTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteContact(ctx context.Context, tx *sql.Tx, x, y string) error {
	a, b := OrderedPair(x, y)
	_, err := s.execer(tx).ExecContext(ctx, `DELETE FROM contacts WHERE agent_a = ? AND agent_b = ?`, a, b)
	if err != nil {
		return fmt.Errorf("storage: delete contact: %w", err)
	}
	return nil
}

func (s *Store) InsertBlock(ctx context.Context, tx *sql.Tx, blocker, blocked string) error {
	_, err := s.execer(tx).ExecContext(ctx, `INSERT OR IGNORE INTO blocks (blocker, blocked) VALUES (?, ?)`, blocker, blocked)
	if err != nil {
		return fmt.Errorf("storage: insert block: %w", err)
	}
	return nil
}

func (s *Store) IsBlocked(ctx context.Context, tx *sql.Tx, blocker, blocked string) (bool, error) {
	var count int
	err := s.querier(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE blocker = ? AND blocked = ?`, blocker, blocked).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("storage: check block: %w", err)
	}
	return count > 0, nil
}

// --- rate limiting -----------------------------------------------------------

// IncrementRateLimit loads the bucket for key, resets it if windowStart is
// before the cutoff, increments the count, and returns the post-increment
// count. It requires a non-nil tx.
func (s *Store) IncrementRateLimit(ctx context.Context, tx *sql.Tx, key string, now time.Time, window time.Duration) (count int, err error) {
	row := tx.QueryRowContext(ctx, `SELECT count, window_start FROM rate_limit_buckets WHERE key = ?`, key)
	var existing int
	var windowStartStr string
	err = row.Scan(&existing, &windowStartStr)
	if err == sql.ErrNoRows {
		_, err = tx.ExecContext(ctx, `INSERT INTO rate_limit_buckets (key, count, window_start) VALUES (?, 1, ?)`, key, timeToStr(now))
		if err != nil {
			return 0, fmt.Errorf("storage: insert rate bucket: %w", err)
		}
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: scan rate bucket: %w", err)
	}
	windowStart, err := strToTime(windowStartStr)
	if err != nil {
		return 0, err
	}
	if now.Sub(windowStart) >= window {
		_, err = tx.ExecContext(ctx, `UPDATE rate_limit_buckets SET count = 1, window_start = ? WHERE key = ?`, timeToStr(now), key)
		if err != nil {
			return 0, fmt.Errorf("storage: reset rate bucket: %w", err)
		}
		return 1, nil
	}
	newCount := existing + 1
	_, err = tx.ExecContext(ctx, `UPDATE rate_limit_buckets SET count = ? WHERE key = ?`, newCount, key)
	if err != nil {
		return 0, fmt.Errorf("storage: increment rate bucket: %w", err)
	}
	return newCount, nil
}

// --- groups -------------------------------------------------------------------

func (s *Store) InsertGroup(ctx context.Context, tx *sql.Tx, g *Group) error {
	_, err := s.execer(tx).ExecContext(ctx, `INSERT INTO groups (id, name, owner, status, members_can_invite, members_can_send, max_members, created_at, dissolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Owner, string(g.Status), g.MembersCanInvite, g.MembersCanSend, g.MaxMembers, timeToStr(g.CreatedAt), nullTime(g.DissolvedAt))
	if err != nil {
		return fmt.Errorf("storage: insert group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, tx *sql.Tx, id string) (*Group, error) {
	row := s.querier(tx).QueryRowContext(ctx, `SELECT id, name, owner, status, members_can_invite, members_can_send, max_members, created_at, dissolved_at FROM groups WHERE id = ?`, id)
	var g Group
	var status, createdAt string
	var dissolvedAt sql.NullString
	err := row.Scan(&g.ID, &g.Name, &g.Owner, &status, &g.MembersCanInvite, &g.MembersCanSend, &g.MaxMembers, &createdAt, &dissolvedAt)
	if err == sql.ErrNoRows {
		return nil, cc4merr.New(cc4merr.NotFound, "group not found")
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan group: %w", err)
	}
	g.Status = GroupStatus(status)
	if g.CreatedAt, err = strToTime(createdAt); err != nil {
		return nil, err
	}
	if g.DissolvedAt, err = scanNullTime(dissolvedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) UpdateGroupOwner(ctx context.Context, tx *sql.Tx, id, newOwner string) error {
	_, err := s.execer(tx).ExecContext(ctx, `UPDATE groups SET owner = ? WHERE id = ?`, newOwner, id)
	if err != nil {
		return fmt.Errorf("storage: transfer group owner: %w", err)
	}
	return nil
}

func (s *Store) DissolveGroup(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	_, err := s.execer(tx).ExecContext(ctx, `UPDATE groups SET status = 'dissolved', dissolved_at = ? WHERE id = ?`, timeToStr(now), id)
	if err != nil {
		return fmt.Errorf("storage: dissolve group: %w", err)
	}
	return nil
}

func (s *Store) UpsertMembership(ctx context.Context, tx *sql.Tx, m *GroupMembership) error {
	_, err := s.execer(tx).ExecContext(ctx, `INSERT INTO group_memberships (group_id, agent, role, status, invited_by, joined_at, left_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, agent) DO UPDATE SET role=excluded.role, status=excluded.status, invited_by=excluded.invited_by, joined_at=excluded.joined_at, left_at=excluded.left_at`,
		m.GroupID, m.Agent, string(m.Role), string(m.Status), m.InvitedBy, nullTime(m.JoinedAt), nullTime(m.LeftAt))
	if err != nil {
		return fmt.Errorf("storage: upsert membership: %w", err)
	}
	return nil
}

func (s *Store) GetMembership(ctx context.Context, tx *sql.Tx, groupID, agent string) (*GroupMembership, error) {
	row := s.querier(tx).QueryRowContext(ctx, `SELECT group_id, agent, role, status, invited_by, joined_at, left_at FROM group_memberships WHERE group_id = ? AND agent = ?`, groupID, agent)
	return scanMembership(row)
}

func (s *Store) ListMemberships(ctx context.Context, tx *sql.Tx, groupID string, status MembershipStatus) ([]GroupMembership, error) {
	rows, err := s.querier(tx).QueryContext(ctx, `SELECT group_id, agent, role, status, invited_by, joined_at, left_at FROM group_memberships WHERE group_id = ? AND status = ?`, groupID, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage: list memberships: %w", err)
	}
	defer rows.Close()

	var out []GroupMembership
	for rows.Next() {
		var m GroupMembership
		var role, st string
		var invitedBy, joinedAt, leftAt sql.NullString
		if err := rows.Scan(&m.GroupID, &m.Agent, &role, &st, &invitedBy, &joinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("storage: scan membership row: %w", err)
		}
		m.Role = MembershipRole(role)
		m.Status = MembershipStatus(st)
		if invitedBy.Valid {
			v := invitedBy.String
			m.InvitedBy = &v
		}
		if m.JoinedAt, err = scanNullTime(joinedAt); err != nil {
			return nil, err
		}
		if m.LeftAt, err = scanNullTime(leftAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMembership(row *sql.Row) (*GroupMembership, error) {
	var m GroupMembership
	var role, status string
	var invitedBy, joinedAt, leftAt sql.NullString
	err := row.Scan(&m.GroupID, &m.Agent, &role, &status, &invitedBy, &joinedAt, &leftAt)
	if err == sql.ErrNoRows {
		return nil, cc4merr.New(cc4merr.NotFound, "membership not found")
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan membership: %w", err)
	}
	m.Role = MembershipRole(role)
	m.Status = MembershipStatus(status)
	if invitedBy.Valid {
		v := invitedBy.String
		m.InvitedBy = &v
	}
	if m.JoinedAt, err = scanNullTime(joinedAt); err != nil {
		return nil, err
	}
	if m.LeftAt, err = scanNullTime(leftAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) AppendGroupChange(ctx context.Context, tx *sql.Tx, c *GroupChange) error {
	_, err := s.execer(tx).ExecContext(ctx, `INSERT INTO group_changes (group_id, kind, actor, target, at) VALUES (?, ?, ?, ?, ?)`,
		c.GroupID, c.Kind, c.Actor, c.Target, timeToStr(c.At))
	if err != nil {
		return fmt.Errorf("storage: append group change: %w", err)
	}
	return nil
}

func (s *Store) ListGroupChangesSince(ctx context.Context, tx *sql.Tx, groupID string, sinceID int64) ([]GroupChange, error) {
	rows, err := s.querier(tx).QueryContext(ctx, `SELECT id, group_id, kind, actor, target, at FROM group_changes WHERE group_id = ? AND id > ? ORDER BY id ASC`, groupID, sinceID)
	if err != nil {
		return nil, fmt.Errorf("storage: list group changes: %w", err)
	}
	defer rows.Close()

	var out []GroupChange
	for rows.Next() {
		var c GroupChange
		var at string
		if err := rows.Scan(&c.ID, &c.GroupID, &c.Kind, &c.Actor, &c.Target, &at); err != nil {
			return nil, fmt.Errorf("storage: scan group change row: %w", err)
		}
		if c.At, err = strToTime(at); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- broadcasts ----------------------------------------------------------------

func (s *Store) InsertBroadcast(ctx context.Context, tx *sql.Tx, b *Broadcast) error {
	res, err := s.execer(tx).ExecContext(ctx, `INSERT INTO broadcasts (sender, message, created_at) VALUES (?, ?, ?)`, b.Sender, b.Message, timeToStr(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("storage: insert broadcast: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("storage: broadcast id: %w", err)
	}
	b.ID = id
	return nil
}

func (s *Store) ListBroadcasts(ctx context.Context, tx *sql.Tx, limit int) ([]Broadcast, error) {
	rows, err := s.querier(tx).QueryContext(ctx, `SELECT id, sender, message, created_at FROM broadcasts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list broadcasts: %w", err)
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		var b Broadcast
		var createdAt string
		if err := rows.Scan(&b.ID, &b.Sender, &b.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan broadcast row: %w", err)
		}
		if b.CreatedAt, err = strToTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// execer/querier let most methods run either inside a caller-supplied
// transaction or directly against the pool, so read paths that don't
// need atomicity can pass a nil tx. IncrementRateLimit requires a tx.
type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type queryContexter interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) execer(tx *sql.Tx) execContexter {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) querier(tx *sql.Tx) queryContexter {
	if tx != nil {
		return tx
	}
	return s.db
}
