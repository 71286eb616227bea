package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/types"
)

// GetUser loads a single user by id.
func (g *Gateway) GetUser(ctx context.Context, id int64) (*types.User, error) {
	return g.getUser(ctx, g.pool, id)
}

func (g *Gateway) getUser(ctx context.Context, q querier, id int64) (*types.User, error) {
	var u types.User
	var avatar *string
	row := q.QueryRow(ctx, `
		SELECT id, email, name, avatar_url, status, last_seen
		FROM users WHERE id = $1`, id)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &avatar, &u.Status, &u.LastSeen); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, err
	}
	if avatar != nil {
		u.AvatarURL = *avatar
	}
	return &u, nil
}

// GetUsers loads multiple users by id, in no particular order.
func (g *Gateway) GetUsers(ctx context.Context, ids []int64) (map[int64]*types.User, error) {
	if len(ids) == 0 {
		return map[int64]*types.User{}, nil
	}
	rows, err := g.pool.Query(ctx, `
		SELECT id, email, name, avatar_url, status, last_seen
		FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]*types.User, len(ids))
	for rows.Next() {
		var u types.User
		var avatar *string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &avatar, &u.Status, &u.LastSeen); err != nil {
			return nil, err
		}
		if avatar != nil {
			u.AvatarURL = *avatar
		}
		out[u.ID] = &u
	}
	return out, rows.Err()
}

// SetStatus persists the user's presence status and refreshes lastSeen,
// invoked by the hub on connect, disconnect, and presence.ping.
func (g *Gateway) SetStatus(ctx context.Context, userID int64, status string, lastSeen time.Time) error {
	_, err := g.pool.Exec(ctx, `
		UPDATE users SET status = $2, last_seen = $3 WHERE id = $1`, userID, status, lastSeen)
	return err
}
