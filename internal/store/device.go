package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetDevice returns the device record for a serial, or nil when unknown
func (s *Store) GetDevice(serial string) (*Device, error) {
	query := `
		SELECT id, serial_number, terminal_type, terminal_id, token, cloud_id,
		       company_code, branch_code, registered, logged_in,
		       last_connection_time, last_activity_time, created_at, updated_at
		FROM devices WHERE serial_number = ?`

	d, err := scanDevice(s.conn.QueryRow(query, serial))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

// ListDevices returns all known devices ordered by serial
func (s *Store) ListDevices() ([]*Device, error) {
	query := `
		SELECT id, serial_number, terminal_type, terminal_id, token, cloud_id,
		       company_code, branch_code, registered, logged_in,
		       last_connection_time, last_activity_time, created_at, updated_at
		FROM devices ORDER BY serial_number`

	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SaveRegistration creates or refreshes a device identity after Register.
// Company and branch codes are preserved across re-registrations; the cloud
// id is only replaced when the device sends one.
func (s *Store) SaveRegistration(serial, terminalType, cloudID, token string) error {
	query := `
		INSERT INTO devices (serial_number, terminal_type, cloud_id, token,
		                     registered, logged_in, last_connection_time, updated_at)
		VALUES (?, ?, ?, ?, TRUE, FALSE, ?, ?)
		ON CONFLICT(serial_number) DO UPDATE SET
			terminal_type = excluded.terminal_type,
			cloud_id = COALESCE(NULLIF(excluded.cloud_id, ''), devices.cloud_id),
			token = excluded.token,
			registered = TRUE,
			logged_in = FALSE,
			last_connection_time = excluded.last_connection_time,
			updated_at = excluded.updated_at`

	now := time.Now()
	if _, err := s.conn.Exec(query, serial, terminalType, cloudID, token, now, now); err != nil {
		return fmt.Errorf("failed to save registration: %w", err)
	}
	return nil
}

// SetTerminalID records the terminal id a device reports in its replies
func (s *Store) SetTerminalID(serial, terminalID string) error {
	if terminalID == "" {
		return nil
	}
	query := `UPDATE devices SET terminal_id = ?, updated_at = ? WHERE serial_number = ? AND (terminal_id IS NULL OR terminal_id != ?)`
	if _, err := s.conn.Exec(query, terminalID, time.Now(), serial, terminalID); err != nil {
		return fmt.Errorf("failed to set terminal id: %w", err)
	}
	return nil
}

// SetLoggedIn flips the session flag for a device
func (s *Store) SetLoggedIn(serial string, loggedIn bool) error {
	query := `UPDATE devices SET logged_in = ?, updated_at = ? WHERE serial_number = ?`
	if _, err := s.conn.Exec(query, loggedIn, time.Now(), serial); err != nil {
		return fmt.Errorf("failed to update login state: %w", err)
	}
	return nil
}

// UpdateConnection records a fresh connection for a device
func (s *Store) UpdateConnection(serial string) error {
	now := time.Now()
	query := `UPDATE devices SET last_connection_time = ?, updated_at = ? WHERE serial_number = ?`
	if _, err := s.conn.Exec(query, now, now, serial); err != nil {
		return fmt.Errorf("failed to update connection time: %w", err)
	}
	return nil
}

// UpdateActivity records that a device sent traffic
func (s *Store) UpdateActivity(serial string) error {
	now := time.Now()
	query := `UPDATE devices SET last_activity_time = ?, updated_at = ? WHERE serial_number = ?`
	if _, err := s.conn.Exec(query, now, now, serial); err != nil {
		return fmt.Errorf("failed to update activity time: %w", err)
	}
	return nil
}

// SetCloudBinding assigns the upstream identifiers used by the timesheet feed
func (s *Store) SetCloudBinding(serial, cloudID, companyCode, branchCode string) error {
	query := `
		UPDATE devices SET cloud_id = ?, company_code = ?, branch_code = ?, updated_at = ?
		WHERE serial_number = ?`
	if _, err := s.conn.Exec(query, cloudID, companyCode, branchCode, time.Now(), serial); err != nil {
		return fmt.Errorf("failed to set cloud binding: %w", err)
	}
	return nil
}

// ResetSessions marks every device logged out. Run at startup: sessions do
// not survive a gateway restart but the flag would otherwise say they did.
func (s *Store) ResetSessions() error {
	if _, err := s.conn.Exec(`UPDATE devices SET logged_in = FALSE`); err != nil {
		return fmt.Errorf("failed to reset sessions: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var terminalType, terminalID, token, cloudID, companyCode, branchCode sql.NullString
	var lastConn, lastActivity sql.NullTime

	err := row.Scan(&d.ID, &d.SerialNumber, &terminalType, &terminalID, &token,
		&cloudID, &companyCode, &branchCode, &d.Registered, &d.LoggedIn,
		&lastConn, &lastActivity, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.TerminalType = terminalType.String
	d.TerminalID = terminalID.String
	d.Token = token.String
	d.CloudID = cloudID.String
	d.CompanyCode = companyCode.String
	d.BranchCode = branchCode.String
	if lastConn.Valid {
		d.LastConnectionTime = &lastConn.Time
	}
	if lastActivity.Valid {
		d.LastActivityTime = &lastActivity.Time
	}
	return &d, nil
}
