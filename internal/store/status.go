package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveStatusReport merges a GetDeviceStatusAll reply into the status row.
// Only fields carried by the reply are written; absent fields keep whatever an
// earlier reply recorded. Firmware fields live in a separate reply and are
// left untouched here.
func (s *Store) SaveStatusReport(r *StatusReport) error {
	query := `
		INSERT INTO device_status (device_serial_no, terminal_type, terminal_id,
		    product_name, device_uid, manager_count, user_count, face_count,
		    fp_count, card_count, pwd_count, door_status, alarm_status,
		    device_time, last_status_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_serial_no) DO UPDATE SET
			terminal_type = COALESCE(excluded.terminal_type, device_status.terminal_type),
			terminal_id = COALESCE(excluded.terminal_id, device_status.terminal_id),
			product_name = COALESCE(excluded.product_name, device_status.product_name),
			device_uid = COALESCE(excluded.device_uid, device_status.device_uid),
			manager_count = COALESCE(excluded.manager_count, device_status.manager_count),
			user_count = COALESCE(excluded.user_count, device_status.user_count),
			face_count = COALESCE(excluded.face_count, device_status.face_count),
			fp_count = COALESCE(excluded.fp_count, device_status.fp_count),
			card_count = COALESCE(excluded.card_count, device_status.card_count),
			pwd_count = COALESCE(excluded.pwd_count, device_status.pwd_count),
			door_status = COALESCE(excluded.door_status, device_status.door_status),
			alarm_status = COALESCE(excluded.alarm_status, device_status.alarm_status),
			device_time = COALESCE(excluded.device_time, device_status.device_time),
			last_status_update = excluded.last_status_update`

	_, err := s.conn.Exec(query, r.DeviceSerialNo, r.TerminalType, r.TerminalID,
		r.ProductName, r.DeviceUID, r.ManagerCount, r.UserCount, r.FaceCount,
		r.FpCount, r.CardCount, r.PwdCount, r.DoorStatus, r.AlarmStatus,
		r.DeviceTime, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save status report: %w", err)
	}
	return nil
}

// SaveFirmwareReport merges a GetFirmwareVersion reply into the status row
func (s *Store) SaveFirmwareReport(serial, version, build string) error {
	query := `
		INSERT INTO device_status (device_serial_no, firmware_version, build_number,
		                           last_status_update)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_serial_no) DO UPDATE SET
			firmware_version = excluded.firmware_version,
			build_number = excluded.build_number,
			last_status_update = excluded.last_status_update`

	if _, err := s.conn.Exec(query, serial, version, build, time.Now()); err != nil {
		return fmt.Errorf("failed to save firmware report: %w", err)
	}
	return nil
}

// statusColumns maps the wire parameter names of GetDeviceStatus replies to
// their status columns.
var statusColumns = map[string]string{
	"ManagerCount": "manager_count",
	"UserCount":    "user_count",
	"FaceCount":    "face_count",
	"FpCount":      "fp_count",
	"CardCount":    "card_count",
	"PwdCount":     "pwd_count",
	"DoorStatus":   "door_status",
	"AlarmStatus":  "alarm_status",
}

// SaveStatusParam merges a single counter from a GetDeviceStatus reply.
// Unknown parameter names are ignored.
func (s *Store) SaveStatusParam(serial, paramName string, value int) error {
	column, ok := statusColumns[paramName]
	if !ok {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO device_status (device_serial_no, %s, last_status_update)
		VALUES (?, ?, ?)
		ON CONFLICT(device_serial_no) DO UPDATE SET
			%s = excluded.%s,
			last_status_update = excluded.last_status_update`, column, column, column)

	if _, err := s.conn.Exec(query, serial, value, time.Now()); err != nil {
		return fmt.Errorf("failed to save status parameter: %w", err)
	}
	return nil
}

// SaveDeviceTime records the clock a device reported in a GetTime reply
func (s *Store) SaveDeviceTime(serial string, deviceTime time.Time) error {
	query := `
		INSERT INTO device_status (device_serial_no, device_time, last_status_update)
		VALUES (?, ?, ?)
		ON CONFLICT(device_serial_no) DO UPDATE SET
			device_time = excluded.device_time,
			last_status_update = excluded.last_status_update`

	if _, err := s.conn.Exec(query, serial, deviceTime, time.Now()); err != nil {
		return fmt.Errorf("failed to save device time: %w", err)
	}
	return nil
}

// SetOnline records a connectivity transition for a device
func (s *Store) SetOnline(serial string, online bool) error {
	query := `
		INSERT INTO device_status (device_serial_no, online, last_online)
		VALUES (?, ?, ?)
		ON CONFLICT(device_serial_no) DO UPDATE SET
			online = excluded.online,
			last_online = excluded.last_online`

	if _, err := s.conn.Exec(query, serial, online, time.Now()); err != nil {
		return fmt.Errorf("failed to set online state: %w", err)
	}
	return nil
}

// GetDeviceStatus returns the merged status view for a device, or nil
func (s *Store) GetDeviceStatus(serial string) (*DeviceStatus, error) {
	query := `
		SELECT device_serial_no, terminal_type, terminal_id, product_name,
		       device_uid, manager_count, user_count, face_count, fp_count,
		       card_count, pwd_count, door_status, alarm_status, firmware_version,
		       build_number, device_time, online, last_online, last_status_update
		FROM device_status WHERE device_serial_no = ?`

	var st DeviceStatus
	var terminalType, terminalID, productName, deviceUID sql.NullString
	var firmware, build sql.NullString
	var managerCount, userCount, faceCount, fpCount sql.NullInt64
	var cardCount, pwdCount, doorStatus, alarmStatus sql.NullInt64
	var deviceTime, lastOnline, lastUpdate sql.NullTime

	err := s.conn.QueryRow(query, serial).Scan(&st.DeviceSerialNo, &terminalType,
		&terminalID, &productName, &deviceUID, &managerCount, &userCount,
		&faceCount, &fpCount, &cardCount, &pwdCount, &doorStatus, &alarmStatus,
		&firmware, &build, &deviceTime, &st.Online, &lastOnline, &lastUpdate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device status: %w", err)
	}

	st.TerminalType = terminalType.String
	st.TerminalID = terminalID.String
	st.ProductName = productName.String
	st.DeviceUID = deviceUID.String
	st.ManagerCount = int(managerCount.Int64)
	st.UserCount = int(userCount.Int64)
	st.FaceCount = int(faceCount.Int64)
	st.FpCount = int(fpCount.Int64)
	st.CardCount = int(cardCount.Int64)
	st.PwdCount = int(pwdCount.Int64)
	st.DoorStatus = int(doorStatus.Int64)
	st.AlarmStatus = int(alarmStatus.Int64)
	st.FirmwareVersion = firmware.String
	st.BuildNumber = build.String
	if deviceTime.Valid {
		st.DeviceTime = &deviceTime.Time
	}
	if lastOnline.Valid {
		st.LastOnline = &lastOnline.Time
	}
	if lastUpdate.Valid {
		st.LastStatusUpdate = &lastUpdate.Time
	}
	return &st, nil
}
