package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser writes one directory entry, replacing any previous record for
// the same device and user id. The face template is encrypted before storage.
func (s *Store) UpsertUser(u *User) error {
	faceData, err := s.encryptOpt(u.FaceData)
	if err != nil {
		return fmt.Errorf("failed to encrypt face data: %w", err)
	}

	query := `
		INSERT INTO users (device_serial_number, user_id, name, privilege, department,
		                   enabled, time_set1, time_set2, time_set3, time_set4, time_set5,
		                   user_period_used, user_period_start, user_period_end,
		                   card, password, fingers, face_enrolled, face_data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_serial_number, user_id) DO UPDATE SET
			name = excluded.name,
			privilege = excluded.privilege,
			department = excluded.department,
			enabled = excluded.enabled,
			time_set1 = excluded.time_set1,
			time_set2 = excluded.time_set2,
			time_set3 = excluded.time_set3,
			time_set4 = excluded.time_set4,
			time_set5 = excluded.time_set5,
			user_period_used = excluded.user_period_used,
			user_period_start = excluded.user_period_start,
			user_period_end = excluded.user_period_end,
			card = excluded.card,
			password = excluded.password,
			fingers = excluded.fingers,
			face_enrolled = excluded.face_enrolled,
			face_data = excluded.face_data,
			updated_at = excluded.updated_at`

	_, err = s.conn.Exec(query, u.DeviceSerialNum, u.UserID, u.Name, u.Privilege,
		u.Department, u.Enabled, u.TimeSet1, u.TimeSet2, u.TimeSet3, u.TimeSet4,
		u.TimeSet5, u.UserPeriodUsed, u.UserPeriodStart, u.UserPeriodEnd,
		u.Card, u.Password, u.Fingers, u.FaceEnrolled, faceData, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser returns one directory entry, or nil when unknown
func (s *Store) GetUser(serial, userID string) (*User, error) {
	query := userSelect + ` WHERE device_serial_number = ? AND user_id = ?`
	u, err := s.scanUser(s.conn.QueryRow(query, serial, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns the mirrored directory for a device
func (s *Store) ListUsers(serial string) ([]*User, error) {
	query := userSelect + ` WHERE device_serial_number = ? ORDER BY user_id`
	rows, err := s.conn.Query(query, serial)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the mirrored directory size for a device
func (s *Store) CountUsers(serial string) (int, error) {
	var count int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM users WHERE device_serial_number = ?`, serial).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// DeleteUser removes a directory entry together with its cached biometric
// templates and photo.
func (s *Store) DeleteUser(serial, userID string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM users WHERE device_serial_number = ? AND user_id = ?`,
		`DELETE FROM finger_data WHERE device_serial_number = ? AND user_id = ?`,
		`DELETE FROM face_data WHERE device_serial_number = ? AND user_id = ?`,
		`DELETE FROM user_photos WHERE device_serial_number = ? AND user_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt, serial, userID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
	}
	return tx.Commit()
}

const userSelect = `
	SELECT id, device_serial_number, user_id, name, privilege, department,
	       enabled, time_set1, time_set2, time_set3, time_set4, time_set5,
	       user_period_used, user_period_start, user_period_end,
	       card, password, fingers, face_enrolled, face_data, created_at, updated_at
	FROM users`

func (s *Store) scanUser(row rowScanner) (*User, error) {
	var u User
	var name, privilege, card, password, fingers sql.NullString
	var faceData sql.NullString

	err := row.Scan(&u.ID, &u.DeviceSerialNum, &u.UserID, &name, &privilege,
		&u.Department, &u.Enabled, &u.TimeSet1, &u.TimeSet2, &u.TimeSet3,
		&u.TimeSet4, &u.TimeSet5, &u.UserPeriodUsed, &u.UserPeriodStart,
		&u.UserPeriodEnd, &card, &password, &fingers, &u.FaceEnrolled,
		&faceData, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.Name = name.String
	u.Privilege = privilege.String
	u.Card = card.String
	u.Password = password.String
	u.Fingers = fingers.String

	u.FaceData, err = s.decryptOpt(faceData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt face data: %w", err)
	}
	return &u, nil
}
