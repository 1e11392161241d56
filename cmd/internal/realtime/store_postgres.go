// Package realtime contains Zap's realtime messaging core: presence, delivery
// state, group rooms, the WebSocket gateway, and message persistence.
package realtime

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a ChatStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Delivery-flag updates are single-statement and idempotent (WHERE NOT flag).
// - CreateGroup and LeaveGroup run inside explicit transactions; LeaveGroup
//   locks the group's membership rows so promotion and deletion are observed
//   as one step.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "zap").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed ChatStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "zap",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) CreateDirectMessage(ctx context.Context, senderID, receiverID, content string, now time.Time) (DirectMessage, error) {
	if s == nil || s.pool == nil {
		return DirectMessage{}, errors.New("realtime: nil store")
	}
	if senderID == "" || receiverID == "" || content == "" {
		return DirectMessage{}, errors.New("invalid input")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return DirectMessage{}, err
	}

	messages := pgIdent(s.schema, "messages")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (id, sender_id, receiver_id, content, created_at, delivered, seen)
		 VALUES ($1, $2, $3, $4, $5, FALSE, FALSE)`,
		id, senderID, receiverID, content, now,
	)
	if err != nil {
		return DirectMessage{}, err
	}

	return DirectMessage{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  now,
	}, nil
}

func (s *PostgresStore) GetUndelivered(ctx context.Context, userID string) ([]DirectMessage, error) {
	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, receiver_id, content, created_at, delivered, seen
		   FROM `+messages+`
		  WHERE receiver_id = $1 AND NOT delivered
		  ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DirectMessage
	for rows.Next() {
		var m DirectMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &m.Delivered, &m.Seen); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	messages := pgIdent(s.schema, "messages")
	_, err := s.pool.Exec(ctx,
		`UPDATE `+messages+` SET delivered = TRUE WHERE id = ANY($1) AND NOT delivered`,
		ids,
	)
	return err
}

func (s *PostgresStore) MarkSeen(ctx context.Context, senderID, receiverID string) ([]string, error) {
	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`UPDATE `+messages+`
		    SET seen = TRUE, delivered = TRUE
		  WHERE sender_id = $1 AND receiver_id = $2 AND NOT seen
		  RETURNING id`,
		senderID, receiverID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var advanced []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		advanced = append(advanced, id)
	}
	return advanced, rows.Err()
}

func (s *PostgresStore) CreateGroup(ctx context.Context, creatorID, name, description string, memberIDs []string, now time.Time) (Group, error) {
	if creatorID == "" || name == "" {
		return Group{}, errors.New("invalid input")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewGroupID(now)
	if err != nil {
		return Group{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Group{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	groups := pgIdent(s.schema, "groups")
	members := pgIdent(s.schema, "group_members")

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+groups+` (id, name, description, creator_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, name, description, creatorID, now,
	); err != nil {
		return Group{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+members+` (group_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		id, creatorID, RoleAdmin, now,
	); err != nil {
		return Group{}, err
	}

	for _, uid := range memberIDs {
		if uid == "" || uid == creatorID {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+members+` (group_id, user_id, role, joined_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (group_id, user_id) DO NOTHING`,
			id, uid, RoleMember, now,
		); err != nil {
			return Group{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Group{}, err
	}

	return s.GetGroupByID(ctx, id)
}

func (s *PostgresStore) GetUserGroups(ctx context.Context, userID string) ([]Group, error) {
	groups := pgIdent(s.schema, "groups")
	members := pgIdent(s.schema, "group_members")

	rows, err := s.pool.Query(ctx,
		`SELECT g.id, g.name, g.description, g.creator_id, g.created_at
		   FROM `+groups+` g
		   JOIN `+members+` m ON m.group_id = g.id
		  WHERE m.user_id = $1
		  ORDER BY g.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatorID, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		ms, err := s.groupMembers(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Members = ms
	}
	return out, nil
}

func (s *PostgresStore) GetGroupByID(ctx context.Context, groupID string) (Group, error) {
	groups := pgIdent(s.schema, "groups")

	var g Group
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, creator_id, created_at FROM `+groups+` WHERE id = $1`,
		groupID,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatorID, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	if err != nil {
		return Group{}, err
	}

	g.Members, err = s.groupMembers(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, groupID, userID string) (GroupMember, error) {
	members := pgIdent(s.schema, "group_members")

	var m GroupMember
	err := s.pool.QueryRow(ctx,
		`SELECT group_id, user_id, role, joined_at FROM `+members+`
		  WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GroupMember{}, ErrNotAMember
	}
	if err != nil {
		return GroupMember{}, err
	}
	return m, nil
}

func (s *PostgresStore) AddMembers(ctx context.Context, groupID string, memberIDs []string, now time.Time) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	members := pgIdent(s.schema, "group_members")
	for _, uid := range memberIDs {
		if uid == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO `+members+` (group_id, user_id, role, joined_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (group_id, user_id) DO NOTHING`,
			groupID, uid, RoleMember, now,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, groupID, memberID string) error {
	members := pgIdent(s.schema, "group_members")

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+members+` WHERE group_id = $1 AND user_id = $2`,
		groupID, memberID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAMember
	}
	return nil
}

// LeaveGroup deletes userID's membership row. When userID is the sole admin
// and other members remain, the earliest-joined remaining member is promoted
// inside the same transaction, before the deletion.
func (s *PostgresStore) LeaveGroup(ctx context.Context, groupID, userID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	members := pgIdent(s.schema, "group_members")

	// Lock the group's membership rows so a concurrent leave cannot race the
	// admin count below.
	rows, err := tx.Query(ctx,
		`SELECT user_id, role, joined_at FROM `+members+`
		  WHERE group_id = $1
		  ORDER BY joined_at ASC, user_id ASC
		  FOR UPDATE`,
		groupID,
	)
	if err != nil {
		return err
	}

	type row struct {
		userID   string
		role     string
		joinedAt time.Time
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.userID, &r.role, &r.joinedAt); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var leaver *row
	admins := 0
	for i := range all {
		if all[i].role == RoleAdmin {
			admins++
		}
		if all[i].userID == userID {
			leaver = &all[i]
		}
	}
	if leaver == nil {
		return ErrNotAMember
	}

	if leaver.role == RoleAdmin && admins == 1 && len(all) > 1 {
		// Rows are ordered by joined_at; the first non-leaver is the successor.
		for _, r := range all {
			if r.userID == userID {
				continue
			}
			if _, err := tx.Exec(ctx,
				`UPDATE `+members+` SET role = $1 WHERE group_id = $2 AND user_id = $3`,
				RoleAdmin, groupID, r.userID,
			); err != nil {
				return err
			}
			break
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+members+` WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) CreateGroupMessage(ctx context.Context, groupID, senderID, content string, now time.Time) (GroupMessage, error) {
	return s.insertGroupMessage(ctx, groupID, senderID, content, now, false)
}

func (s *PostgresStore) CreateSystemMessage(ctx context.Context, groupID, actorID, content string, now time.Time) (GroupMessage, error) {
	return s.insertGroupMessage(ctx, groupID, actorID, content, now, true)
}

func (s *PostgresStore) insertGroupMessage(ctx context.Context, groupID, senderID, content string, now time.Time, system bool) (GroupMessage, error) {
	if groupID == "" || senderID == "" || content == "" {
		return GroupMessage{}, errors.New("invalid input")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return GroupMessage{}, err
	}

	groupMessages := pgIdent(s.schema, "group_messages")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+groupMessages+` (id, group_id, sender_id, content, created_at, is_system)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, groupID, senderID, content, now, system,
	)
	if err != nil {
		return GroupMessage{}, err
	}

	return GroupMessage{
		ID:        id,
		GroupID:   groupID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
		IsSystem:  system,
	}, nil
}

func (s *PostgresStore) GroupMessagesSince(ctx context.Context, groupID string, since time.Time, limit int) ([]GroupMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	groupMessages := pgIdent(s.schema, "group_messages")
	rows, err := s.pool.Query(ctx,
		`SELECT id, group_id, sender_id, content, created_at, is_system
		   FROM `+groupMessages+`
		  WHERE group_id = $1 AND created_at >= $2
		  ORDER BY created_at ASC
		  LIMIT $3`,
		groupID, since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupMessage
	for rows.Next() {
		var m GroupMessage
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsSystem); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) groupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	members := pgIdent(s.schema, "group_members")
	rows, err := s.pool.Query(ctx,
		`SELECT group_id, user_id, role, joined_at FROM `+members+`
		  WHERE group_id = $1
		  ORDER BY joined_at ASC, user_id ASC`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
