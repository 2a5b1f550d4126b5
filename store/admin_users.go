package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNoUser is returned when a username has no account.
var ErrNoUser = errors.New("no such user")

// AdminUser may change controller state from the web UI.
type AdminUser struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func (db *DB) GetAdminUser(username string) (*AdminUser, error) {
	var (
		u                    AdminUser
		createdAt, lastLogin any
	)
	err := db.QueryRow(db.Q(`SELECT id, username, password_hash, created_at, last_login FROM admin_users WHERE username=?`), username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoUser
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = scanTime(createdAt)
	u.LastLogin = scanTimePtr(lastLogin)
	return &u, nil
}

func (db *DB) CreateAdminUser(username, passwordHash string) (int64, error) {
	return db.insert(`INSERT INTO admin_users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, db.stamp(time.Time{}))
}

// UpdateAdminPassword replaces the stored hash. Unknown users get ErrNoUser.
func (db *DB) UpdateAdminPassword(username, passwordHash string) error {
	return db.updateUser(`UPDATE admin_users SET password_hash=? WHERE username=?`, passwordHash, username)
}

// TouchAdminLogin records a successful login.
func (db *DB) TouchAdminLogin(username string) error {
	return db.updateUser(`UPDATE admin_users SET last_login=? WHERE username=?`, db.stamp(time.Time{}), username)
}

func (db *DB) updateUser(query string, args ...any) error {
	res, err := db.Exec(db.Q(query), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoUser
	}
	return nil
}

func (db *DB) AdminUserExists() (bool, error) {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM admin_users)`).Scan(&exists)
	return exists, err
}
