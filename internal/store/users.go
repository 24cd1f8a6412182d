package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"secretary/internal/models"
)

// UserFilter narrows ListUsers.
type UserFilter struct {
	Department string
	// IDPrefix keeps only users whose id starts with the prefix, which is how
	// users of a given chat platform are told apart.
	IDPrefix string
}

// GetUser looks up a registered user by platform id.
func (s *Store) GetUser(ctx context.Context, lineID string) (*models.User, error) {
	var (
		u        models.User
		joinDate string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT line_id, name, department, title, join_date FROM users WHERE line_id = ?`, lineID,
	).Scan(&u.LineID, &u.Name, &u.Department, &u.Title, &joinDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	u.JoinDate = parseTime(joinDate)
	return &u, nil
}

// CreateUser registers a user. Users are never updated; a second
// registration for the same id returns ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.JoinDate.IsZero() {
		u.JoinDate = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (line_id, name, department, title, join_date) VALUES (?, ?, ?, ?, ?)`,
		u.LineID, u.Name, u.Department, u.Title, formatTime(u.JoinDate),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return wrap("create user", err)
}

// ListUsers returns registered users ordered by join date.
func (s *Store) ListUsers(ctx context.Context, filter UserFilter) ([]models.User, error) {
	var (
		where []string
		args  []any
	)
	if filter.Department != "" {
		where = append(where, "department = ?")
		args = append(args, filter.Department)
	}
	if filter.IDPrefix != "" {
		where = append(where, `line_id LIKE ? ESCAPE '\'`)
		args = append(args, prefixPattern(filter.IDPrefix))
	}

	query := `SELECT line_id, name, department, title, join_date FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY join_date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var (
			u        models.User
			joinDate string
		)
		if err := rows.Scan(&u.LineID, &u.Name, &u.Department, &u.Title, &joinDate); err != nil {
			return nil, wrap("list users", err)
		}
		u.JoinDate = parseTime(joinDate)
		users = append(users, u)
	}
	return users, wrap("list users", rows.Err())
}

// GetSettings returns the user's settings, or the defaults when none were
// ever saved. Defaults are not persisted.
func (s *Store) GetSettings(ctx context.Context, userID string) (*models.Settings, error) {
	var (
		st        models.Settings
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, notification_enabled, language, updated_at FROM settings WHERE user_id = ?`, userID,
	).Scan(&st.UserID, &st.NotificationEnabled, &st.Language, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultSettings(userID), nil
	}
	if err != nil {
		return nil, wrap("get settings", err)
	}
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

// SaveSettings upserts a user's settings.
func (s *Store) SaveSettings(ctx context.Context, st *models.Settings) error {
	if st.Language == "" {
		st.Language = models.DefaultLanguage
	}
	st.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, notification_enabled, language, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			notification_enabled = excluded.notification_enabled,
			language = excluded.language,
			updated_at = excluded.updated_at`,
		st.UserID, st.NotificationEnabled, st.Language, formatTime(st.UpdatedAt),
	)
	return wrap("save settings", err)
}
