package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EnqueueCommand inserts a PENDING command and returns its id
func (s *Store) EnqueueCommand(c *Command) (int64, error) {
	query := `
		INSERT INTO command_queue (device_serial_number, command_type, command_xml,
		                           status, user_id, sub_key)
		VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.conn.Exec(query, c.DeviceSerialNum, c.CommandType,
		c.CommandXML, CommandPending, c.UserID, c.SubKey)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue command: %w", err)
	}
	return result.LastInsertId()
}

// HasActiveCommand reports whether a PENDING or SENT command already exists
// for the same device, type, user and sub key. Responses carry no correlation
// id, so at most one command per tuple may be in flight.
func (s *Store) HasActiveCommand(serial, commandType, userID, subKey string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM command_queue
		WHERE device_serial_number = ? AND command_type = ?
		  AND user_id = ? AND sub_key = ?
		  AND status IN (?, ?)`

	var count int
	err := s.conn.QueryRow(query, serial, commandType, userID, subKey,
		CommandPending, CommandSent).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check active commands: %w", err)
	}
	return count > 0, nil
}

// PendingCommands returns all PENDING commands in enqueue order
func (s *Store) PendingCommands() ([]*Command, error) {
	query := commandSelect + ` WHERE status = ? ORDER BY created_at, id`
	return s.queryCommands(query, CommandPending)
}

// MarkSent transitions a command to SENT and stamps its execution time.
// Returns false when the command was no longer PENDING.
func (s *Store) MarkSent(id int64) (bool, error) {
	query := `
		UPDATE command_queue SET status = ?, executed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	now := time.Now()
	result, err := s.conn.Exec(query, CommandSent, now, now, id, CommandPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark command sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// LatestSentCommand returns the most recently sent command matching the type
// and, when non-empty, the user id and sub key. Nil when no SENT command
// matches; this is how replies find the command they answer.
func (s *Store) LatestSentCommand(serial, commandType, userID, subKey string) (*Command, error) {
	query := commandSelect + ` WHERE device_serial_number = ? AND command_type = ? AND status = ?`
	args := []interface{}{serial, commandType, CommandSent}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if subKey != "" {
		query += ` AND sub_key = ?`
		args = append(args, subKey)
	}
	query += ` ORDER BY executed_at DESC, id DESC LIMIT 1`

	cmds, err := s.queryCommands(query, args...)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	return cmds[0], nil
}

// ResolveCommand moves a SENT command to a terminal state, recording the
// reply. Returns false when the command had already been resolved, which
// makes resolution idempotent under duplicate replies.
func (s *Store) ResolveCommand(id int64, status, responseXML string) (bool, error) {
	query := `
		UPDATE command_queue SET status = ?, response_xml = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	now := time.Now()
	result, err := s.conn.Exec(query, status, responseXML, now, now, id, CommandSent)
	if err != nil {
		return false, fmt.Errorf("failed to resolve command: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ExpireStaleSent fails every SENT command whose send predates the cutoff.
// A reply that never arrives would otherwise pin its tuple forever.
func (s *Store) ExpireStaleSent(cutoff time.Time) (int64, error) {
	query := `
		UPDATE command_queue SET status = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND executed_at < ?`

	now := time.Now()
	result, err := s.conn.Exec(query, CommandFailed, now, now, CommandSent, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale commands: %w", err)
	}
	return result.RowsAffected()
}

// GetCommand returns one command by id, or nil
func (s *Store) GetCommand(id int64) (*Command, error) {
	cmds, err := s.queryCommands(commandSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	return cmds[0], nil
}

// ListCommands returns recent commands for a device, newest first
func (s *Store) ListCommands(serial string, limit int) ([]*Command, error) {
	query := commandSelect + ` WHERE device_serial_number = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return s.queryCommands(query, serial, limit)
}

const commandSelect = `
	SELECT id, device_serial_number, command_type, command_xml, status,
	       user_id, sub_key, response_xml, executed_at, completed_at,
	       created_at, updated_at
	FROM command_queue`

func (s *Store) queryCommands(query string, args ...interface{}) ([]*Command, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var cmds []*Command
	for rows.Next() {
		var c Command
		var userID, subKey, responseXML sql.NullString
		var executedAt, completedAt sql.NullTime
		err := rows.Scan(&c.ID, &c.DeviceSerialNum, &c.CommandType, &c.CommandXML,
			&c.Status, &userID, &subKey, &responseXML, &executedAt, &completedAt,
			&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		c.UserID = userID.String
		c.SubKey = subKey.String
		c.ResponseXML = responseXML.String
		if executedAt.Valid {
			c.ExecutedAt = &executedAt.Time
		}
		if completedAt.Valid {
			c.CompletedAt = &completedAt.Time
		}
		cmds = append(cmds, &c)
	}
	return cmds, rows.Err()
}
