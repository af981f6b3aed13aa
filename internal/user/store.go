package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/vortexbot/vortex/internal/database"
	"github.com/vortexbot/vortex/pkg/logger"
)

var ErrUserNotFound = errors.New("user does not exist")

var log = logger.Get("UserStore")

type (
	User struct {
		ID          int64     `db:"id"`
		FirstName   string    `db:"first_name"`
		Username    string    `db:"username"`
		PhoneNumber *string   `db:"phone_number"`
		CreatedAt   time.Time `db:"created_at"`
		LastActive  time.Time `db:"last_active"`
	}

	// Stats summarises one user's recorded activity.
	Stats struct {
		TotalActions int        `db:"total_actions"`
		LastActionAt *time.Time `db:"last_action_at"`
	}

	// GlobalStats summarises activity across the whole user base; only
	// ever shown to the privileged operator.
	GlobalStats struct {
		TotalUsers   int `db:"total_users"`
		TotalActions int `db:"total_actions"`
		ActiveToday  int `db:"active_today"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

// Record upserts the user row, refreshing the mutable profile fields
// and the last-active timestamp on conflict. Safe to call on every
// inbound interaction.
func (store *Store) Record(db database.Queryable, id int64, firstName string, username string) error {
	_, err := db.Exec(`
		INSERT INTO users(id, first_name, username, created_at, last_active)
		VALUES ($1, $2, $3, current_timestamp, current_timestamp)
		ON CONFLICT (id) DO UPDATE
		SET first_name = EXCLUDED.first_name, username = EXCLUDED.username, last_active = current_timestamp
	`, id, firstName, username)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", id, err)
	}

	return nil
}

func (store *Store) SavePhoneNumber(db database.Queryable, id int64, phoneNumber string) error {
	_, err := db.Exec(`UPDATE users SET phone_number = $1 WHERE id = $2`, phoneNumber, id)
	if err != nil {
		return fmt.Errorf("failed to save phone number for user %d: %w", id, err)
	}

	return nil
}

func (store *Store) Get(db database.Queryable, id int64) (*User, error) {
	query, args, err := squirrel.
		Select("id", "first_name", "username", "phone_number", "created_at", "last_active").
		From("users").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct get user query: %w", err)
	}

	var result User
	if err := db.Get(&result, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &result, nil
}

func (store *Store) LogAction(db database.Queryable, userID int64, kind string) error {
	_, err := db.Exec(`INSERT INTO actions(user_id, kind) VALUES ($1, $2)`, userID, kind)
	if err != nil {
		return fmt.Errorf("failed to log action '%s' for user %d: %w", kind, userID, err)
	}

	return nil
}

func (store *Store) GetStats(db database.Queryable, userID int64) (*Stats, error) {
	query, args, err := squirrel.
		Select("COUNT(*) AS total_actions", "MAX(created_at) AS last_action_at").
		From("actions").
		Where(squirrel.Eq{"user_id": userID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct user stats query: %w", err)
	}

	var result Stats
	if err := db.Get(&result, query, args...); err != nil {
		return nil, err
	}

	return &result, nil
}

func (store *Store) GetGlobalStats(db database.Queryable) (*GlobalStats, error) {
	query, _, err := squirrel.
		Select(
			"COUNT(DISTINCT user_id) AS total_users",
			"COUNT(*) AS total_actions",
			"COUNT(DISTINCT user_id) FILTER (WHERE created_at >= date_trunc('day', current_timestamp)) AS active_today",
		).
		From("actions").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct global stats query: %w", err)
	}

	var result GlobalStats
	if err := db.Get(&result, query); err != nil {
		return nil, err
	}

	return &result, nil
}

// ActionRecorder binds the store to a live DB handle and absorbs
// failures; usage accounting is strictly best-effort and must never
// abort a pipeline run.
type ActionRecorder struct {
	store *Store
	db    database.Queryable
}

func NewActionRecorder(store *Store, db database.Queryable) *ActionRecorder {
	return &ActionRecorder{store, db}
}

func (recorder *ActionRecorder) LogAction(_ context.Context, userID int64, kind string) {
	if userID == 0 {
		// Internal runs (e.g. ingest) carry no user identity.
		return
	}

	if err := recorder.store.LogAction(recorder.db, userID, kind); err != nil {
		log.Emit(logger.WARNING, "Failed to record action '%s' for user %d: %v\n", kind, userID, err)
	}
}
