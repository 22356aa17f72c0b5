package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertTimeLog records one attendance punch and returns its row id
func (s *Store) InsertTimeLog(l *TimeLog) (int64, error) {
	query := `
		INSERT INTO time_logs (log_id, device_serial_number, user_id, log_time,
		                       action, attend_stat, ap_stat, job_code,
		                       has_photo, log_image, trans_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.conn.Exec(query, l.LogID, l.DeviceSerialNum, l.UserID,
		l.LogTime, l.Action, l.AttendStat, l.ApStat, l.JobCode,
		l.HasPhoto, l.LogImage, l.TransID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert time log: %w", err)
	}
	return result.LastInsertId()
}

// InsertAdminLog records one management audit event and returns its row id
func (s *Store) InsertAdminLog(l *AdminLog) (int64, error) {
	query := `
		INSERT INTO admin_logs (log_id, device_serial_number, admin_id, user_id,
		                        log_time, action, stat, trans_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.conn.Exec(query, l.LogID, l.DeviceSerialNum, l.AdminID,
		l.UserID, l.LogTime, l.Action, l.Stat, l.TransID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert admin log: %w", err)
	}
	return result.LastInsertId()
}

// ListTimeLogs returns punches for a device, newest first, capped at limit.
// A zero since filter returns all retained punches.
func (s *Store) ListTimeLogs(serial string, since time.Time, limit int) ([]*TimeLog, error) {
	query := `
		SELECT id, log_id, device_serial_number, user_id, log_time, action,
		       attend_stat, ap_stat, job_code, has_photo, log_image, trans_id, created_at
		FROM time_logs
		WHERE device_serial_number = ? AND log_time >= ?
		ORDER BY log_time DESC LIMIT ?`

	rows, err := s.conn.Query(query, serial, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list time logs: %w", err)
	}
	defer rows.Close()

	var logs []*TimeLog
	for rows.Next() {
		var l TimeLog
		var logID, userID, action, attendStat, apStat, logImage, transID sql.NullString
		err := rows.Scan(&l.ID, &logID, &l.DeviceSerialNum, &userID, &l.LogTime,
			&action, &attendStat, &apStat, &l.JobCode, &l.HasPhoto,
			&logImage, &transID, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time log: %w", err)
		}
		l.LogID = logID.String
		l.UserID = userID.String
		l.Action = action.String
		l.AttendStat = attendStat.String
		l.ApStat = apStat.String
		l.LogImage = logImage.String
		l.TransID = transID.String
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// ListAdminLogs returns management audit events for a device, newest first
func (s *Store) ListAdminLogs(serial string, limit int) ([]*AdminLog, error) {
	query := `
		SELECT id, log_id, device_serial_number, admin_id, user_id, log_time,
		       action, stat, trans_id, created_at
		FROM admin_logs
		WHERE device_serial_number = ?
		ORDER BY log_time DESC LIMIT ?`

	rows, err := s.conn.Query(query, serial, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin logs: %w", err)
	}
	defer rows.Close()

	var logs []*AdminLog
	for rows.Next() {
		var l AdminLog
		var logID, adminID, userID, action, transID sql.NullString
		err := rows.Scan(&l.ID, &logID, &l.DeviceSerialNum, &adminID, &userID,
			&l.LogTime, &action, &l.Stat, &transID, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin log: %w", err)
		}
		l.LogID = logID.String
		l.AdminID = adminID.String
		l.UserID = userID.String
		l.Action = action.String
		l.TransID = transID.String
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
