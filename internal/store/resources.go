package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertDepartment caches one department slot reported by a device
func (s *Store) UpsertDepartment(serial string, deptNo int, name string) error {
	query := `
		INSERT INTO departments (device_serial_number, dept_no, name, last_sync_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_serial_number, dept_no) DO UPDATE SET
			name = excluded.name,
			last_sync_time = excluded.last_sync_time`

	if _, err := s.conn.Exec(query, serial, deptNo, name, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert department: %w", err)
	}
	return nil
}

// GetDepartment returns one cached department slot, or nil when not cached
func (s *Store) GetDepartment(serial string, deptNo int) (*Department, error) {
	query := `
		SELECT id, device_serial_number, dept_no, name, last_sync_time
		FROM departments WHERE device_serial_number = ? AND dept_no = ?`

	var d Department
	var name sql.NullString
	var syncTime sql.NullTime
	err := s.conn.QueryRow(query, serial, deptNo).Scan(
		&d.ID, &d.DeviceSerialNum, &d.DeptNo, &name, &syncTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	d.Name = name.String
	if syncTime.Valid {
		d.LastSyncTime = &syncTime.Time
	}
	return &d, nil
}

// ListDepartments returns all cached department slots for a device
func (s *Store) ListDepartments(serial string) ([]*Department, error) {
	query := `
		SELECT id, device_serial_number, dept_no, name, last_sync_time
		FROM departments WHERE device_serial_number = ? ORDER BY dept_no`

	rows, err := s.conn.Query(query, serial)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var departments []*Department
	for rows.Next() {
		var d Department
		var name sql.NullString
		var syncTime sql.NullTime
		if err := rows.Scan(&d.ID, &d.DeviceSerialNum, &d.DeptNo, &name, &syncTime); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		d.Name = name.String
		if syncTime.Valid {
			d.LastSyncTime = &syncTime.Time
		}
		departments = append(departments, &d)
	}
	return departments, rows.Err()
}

// DeleteDepartment drops a cached slot the device reported as not existing
func (s *Store) DeleteDepartment(serial string, deptNo int) error {
	query := `DELETE FROM departments WHERE device_serial_number = ? AND dept_no = ?`
	if _, err := s.conn.Exec(query, serial, deptNo); err != nil {
		return fmt.Errorf("failed to delete department: %w", err)
	}
	return nil
}

// SaveWifiSetting caches the WiFi configuration reported by a device. The
// network key is encrypted before storage.
func (s *Store) SaveWifiSetting(w *WifiSetting) error {
	key, err := s.encryptOpt(w.Key)
	if err != nil {
		return fmt.Errorf("failed to encrypt wifi key: %w", err)
	}

	query := `
		INSERT INTO wifi_settings (device_serial_number, terminal_type, terminal_id,
		    use_wifi, ssid, wifi_key, dhcp, ip, subnet, default_gateway, port,
		    ip_from_dhcp, subnet_from_dhcp, default_gateway_from_dhcp, result, last_sync_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_serial_number) DO UPDATE SET
			terminal_type = excluded.terminal_type,
			terminal_id = excluded.terminal_id,
			use_wifi = excluded.use_wifi,
			ssid = excluded.ssid,
			wifi_key = excluded.wifi_key,
			dhcp = excluded.dhcp,
			ip = excluded.ip,
			subnet = excluded.subnet,
			default_gateway = excluded.default_gateway,
			port = excluded.port,
			ip_from_dhcp = excluded.ip_from_dhcp,
			subnet_from_dhcp = excluded.subnet_from_dhcp,
			default_gateway_from_dhcp = excluded.default_gateway_from_dhcp,
			result = excluded.result,
			last_sync_time = excluded.last_sync_time`

	_, err = s.conn.Exec(query, w.DeviceSerialNum, w.TerminalType, w.TerminalID,
		w.Use, w.SSID, key, w.DHCP, w.IP, w.Subnet, w.DefaultGateway, w.Port,
		w.IPFromDHCP, w.SubnetFromDHCP, w.GatewayFromDHCP, w.Result, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save wifi setting: %w", err)
	}
	return nil
}

// GetWifiSetting returns the cached WiFi configuration, or nil when not cached
func (s *Store) GetWifiSetting(serial string) (*WifiSetting, error) {
	query := `
		SELECT device_serial_number, terminal_type, terminal_id, use_wifi, ssid,
		       wifi_key, dhcp, ip, subnet, default_gateway, port, ip_from_dhcp,
		       subnet_from_dhcp, default_gateway_from_dhcp, result, last_sync_time
		FROM wifi_settings WHERE device_serial_number = ?`

	var w WifiSetting
	var terminalType, terminalID, use, ssid, key sql.NullString
	var dhcp, ip, subnet, gateway, ipDHCP, subnetDHCP, gatewayDHCP, result sql.NullString
	var port sql.NullInt64
	var syncTime sql.NullTime

	err := s.conn.QueryRow(query, serial).Scan(&w.DeviceSerialNum, &terminalType,
		&terminalID, &use, &ssid, &key, &dhcp, &ip, &subnet, &gateway, &port,
		&ipDHCP, &subnetDHCP, &gatewayDHCP, &result, &syncTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wifi setting: %w", err)
	}

	w.TerminalType = terminalType.String
	w.TerminalID = terminalID.String
	w.Use = use.String
	w.SSID = ssid.String
	w.DHCP = dhcp.String
	w.IP = ip.String
	w.Subnet = subnet.String
	w.DefaultGateway = gateway.String
	w.Port = int(port.Int64)
	w.IPFromDHCP = ipDHCP.String
	w.SubnetFromDHCP = subnetDHCP.String
	w.GatewayFromDHCP = gatewayDHCP.String
	w.Result = result.String
	if syncTime.Valid {
		w.LastSyncTime = &syncTime.Time
	}

	w.Key, err = s.decryptOpt(key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt wifi key: %w", err)
	}
	return &w, nil
}

// SaveEthernetSetting caches the wired network configuration for a device
func (s *Store) SaveEthernetSetting(e *EthernetSetting) error {
	query := `
		INSERT INTO ethernet_settings (device_serial_number, terminal_type, terminal_id,
		    dhcp, ip, subnet, default_gateway, port, mac_address,
		    ip_from_dhcp, subnet_from_dhcp, default_gateway_from_dhcp, last_sync_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_serial_number) DO UPDATE SET
			terminal_type = excluded.terminal_type,
			terminal_id = excluded.terminal_id,
			dhcp = excluded.dhcp,
			ip = excluded.ip,
			subnet = excluded.subnet,
			default_gateway = excluded.default_gateway,
			port = excluded.port,
			mac_address = excluded.mac_address,
			ip_from_dhcp = excluded.ip_from_dhcp,
			subnet_from_dhcp = excluded.subnet_from_dhcp,
			default_gateway_from_dhcp = excluded.default_gateway_from_dhcp,
			last_sync_time = excluded.last_sync_time`

	_, err := s.conn.Exec(query, e.DeviceSerialNum, e.TerminalType, e.TerminalID,
		e.DHCP, e.IP, e.Subnet, e.DefaultGateway, e.Port, e.MacAddress,
		e.IPFromDHCP, e.SubnetFromDHCP, e.GatewayFromDHCP, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save ethernet setting: %w", err)
	}
	return nil
}

// GetEthernetSetting returns the cached wired configuration, or nil
func (s *Store) GetEthernetSetting(serial string) (*EthernetSetting, error) {
	query := `
		SELECT device_serial_number, terminal_type, terminal_id, dhcp, ip, subnet,
		       default_gateway, port, mac_address, ip_from_dhcp, subnet_from_dhcp,
		       default_gateway_from_dhcp, last_sync_time
		FROM ethernet_settings WHERE device_serial_number = ?`

	var e EthernetSetting
	var terminalType, terminalID, dhcp, ip, subnet, gateway, mac sql.NullString
	var ipDHCP, subnetDHCP, gatewayDHCP sql.NullString
	var port sql.NullInt64
	var syncTime sql.NullTime

	err := s.conn.QueryRow(query, serial).Scan(&e.DeviceSerialNum, &terminalType,
		&terminalID, &dhcp, &ip, &subnet, &gateway, &port, &mac,
		&ipDHCP, &subnetDHCP, &gatewayDHCP, &syncTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ethernet setting: %w", err)
	}

	e.TerminalType = terminalType.String
	e.TerminalID = terminalID.String
	e.DHCP = dhcp.String
	e.IP = ip.String
	e.Subnet = subnet.String
	e.DefaultGateway = gateway.String
	e.Port = int(port.Int64)
	e.MacAddress = mac.String
	e.IPFromDHCP = ipDHCP.String
	e.SubnetFromDHCP = subnetDHCP.String
	e.GatewayFromDHCP = gatewayDHCP.String
	if syncTime.Valid {
		e.LastSyncTime = &syncTime.Time
	}
	return &e, nil
}

// UpsertAdditionalInfo caches one named device parameter
func (s *Store) UpsertAdditionalInfo(a *AdditionalInfo) error {
	query := `
		INSERT INTO additional_info (device_serial_number, param_name, terminal_type,
		    terminal_id, value1, value2, value3, value4, value5, last_sync_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_serial_number, param_name) DO UPDATE SET
			terminal_type = excluded.terminal_type,
			terminal_id = excluded.terminal_id,
			value1 = excluded.value1,
			value2 = excluded.value2,
			value3 = excluded.value3,
			value4 = excluded.value4,
			value5 = excluded.value5,
			last_sync_time = excluded.last_sync_time`

	_, err := s.conn.Exec(query, a.DeviceSerialNum, a.ParamName, a.TerminalType,
		a.TerminalID, a.Value1, a.Value2, a.Value3, a.Value4, a.Value5, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert additional info: %w", err)
	}
	return nil
}

// GetAdditionalInfo returns one cached parameter, or nil when not cached
func (s *Store) GetAdditionalInfo(serial, paramName string) (*AdditionalInfo, error) {
	query := `
		SELECT id, device_serial_number, param_name, terminal_type, terminal_id,
		       value1, value2, value3, value4, value5, last_sync_time
		FROM additional_info WHERE device_serial_number = ? AND param_name = ?`

	var a AdditionalInfo
	var terminalType, terminalID, v1, v2, v3, v4, v5 sql.NullString
	var syncTime sql.NullTime

	err := s.conn.QueryRow(query, serial, paramName).Scan(&a.ID, &a.DeviceSerialNum,
		&a.ParamName, &terminalType, &terminalID, &v1, &v2, &v3, &v4, &v5, &syncTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get additional info: %w", err)
	}

	a.TerminalType = terminalType.String
	a.TerminalID = terminalID.String
	a.Value1 = v1.String
	a.Value2 = v2.String
	a.Value3 = v3.String
	a.Value4 = v4.String
	a.Value5 = v5.String
	if syncTime.Valid {
		a.LastSyncTime = &syncTime.Time
	}
	return &a, nil
}

// SaveFingerData caches one fingerprint template, encrypted at rest
func (s *Store) SaveFingerData(f *FingerData) error {
	data, err := s.encryptOpt(f.Data)
	if err != nil {
		return fmt.Errorf("failed to encrypt finger data: %w", err)
	}

	query := `
		INSERT INTO finger_data (device_serial_number, user_id, finger_no, duress,
		                         finger_data, last_sync_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_serial_number, user_id, finger_no) DO UPDATE SET
			duress = excluded.duress,
			finger_data = excluded.finger_data,
			last_sync_time = excluded.last_sync_time`

	_, err = s.conn.Exec(query, f.DeviceSerialNum, f.UserID, f.FingerNo,
		f.Duress, data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save finger data: %w", err)
	}
	return nil
}

// GetFingerData returns one cached fingerprint template, or nil
func (s *Store) GetFingerData(serial, userID string, fingerNo int) (*FingerData, error) {
	query := `
		SELECT id, device_serial_number, user_id, finger_no, duress, finger_data, last_sync_time
		FROM finger_data
		WHERE device_serial_number = ? AND user_id = ? AND finger_no = ?`

	var f FingerData
	var duress, data sql.NullString
	var syncTime sql.NullTime

	err := s.conn.QueryRow(query, serial, userID, fingerNo).Scan(&f.ID,
		&f.DeviceSerialNum, &f.UserID, &f.FingerNo, &duress, &data, &syncTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get finger data: %w", err)
	}

	f.Duress = duress.String
	if syncTime.Valid {
		f.LastSyncTime = &syncTime.Time
	}
	f.Data, err = s.decryptOpt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt finger data: %w", err)
	}
	return &f, nil
}

// SaveFaceData caches one face template, encrypted at rest
func (s *Store) SaveFaceData(f *FaceData) error {
	data, err := s.encryptOpt(f.Data)
	if err != nil {
		return fmt.Errorf("failed to encrypt face data: %w", err)
	}

	query := `
		INSERT INTO face_data (device_serial_number, user_id, face_enrolled,
		                       face_data, last_sync_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_serial_number, user_id) DO UPDATE SET
			face_enrolled = excluded.face_enrolled,
			face_data = excluded.face_data,
			last_sync_time = excluded.last_sync_time`

	_, err = s.conn.Exec(query, f.DeviceSerialNum, f.UserID, f.FaceEnrolled,
		data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save face data: %w", err)
	}
	return nil
}

// GetFaceData returns one cached face template, or nil
func (s *Store) GetFaceData(serial, userID string) (*FaceData, error) {
	query := `
		SELECT id, device_serial_number, user_id, face_enrolled, face_data, last_sync_time
		FROM face_data WHERE device_serial_number = ? AND user_id = ?`

	var f FaceData
	var data sql.NullString
	var syncTime sql.NullTime

	err := s.conn.QueryRow(query, serial, userID).Scan(&f.ID, &f.DeviceSerialNum,
		&f.UserID, &f.FaceEnrolled, &data, &syncTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get face data: %w", err)
	}

	if syncTime.Valid {
		f.LastSyncTime = &syncTime.Time
	}
	f.Data, err = s.decryptOpt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt face data: %w", err)
	}
	return &f, nil
}

// SaveUserPhoto caches one user photo, encrypted at rest
func (s *Store) SaveUserPhoto(p *UserPhoto) error {
	data, err := s.encryptOpt(p.Data)
	if err != nil {
		return fmt.Errorf("failed to encrypt user photo: %w", err)
	}

	query := `
		INSERT INTO user_photos (device_serial_number, user_id, photo_data, last_sync_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_serial_number, user_id) DO UPDATE SET
			photo_data = excluded.photo_data,
			last_sync_time = excluded.last_sync_time`

	_, err = s.conn.Exec(query, p.DeviceSerialNum, p.UserID, data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save user photo: %w", err)
	}
	return nil
}

// GetUserPhoto returns one cached user photo, or nil
func (s *Store) GetUserPhoto(serial, userID string) (*UserPhoto, error) {
	query := `
		SELECT id, device_serial_number, user_id, photo_data, last_sync_time
		FROM user_photos WHERE device_serial_number = ? AND user_id = ?`

	var p UserPhoto
	var data sql.NullString
	var syncTime sql.NullTime

	err := s.conn.QueryRow(query, serial, userID).Scan(&p.ID, &p.DeviceSerialNum,
		&p.UserID, &data, &syncTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user photo: %w", err)
	}

	if syncTime.Valid {
		p.LastSyncTime = &syncTime.Time
	}
	p.Data, err = s.decryptOpt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt user photo: %w", err)
	}
	return &p, nil
}

// SaveLogStatus caches the log-storage occupancy reported by a device
func (s *Store) SaveLogStatus(l *LogStatus) error {
	query := `
		INSERT INTO log_status (device_serial_number, terminal_type, terminal_id,
		                        log_count, max_count, last_sync_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_serial_number) DO UPDATE SET
			terminal_type = excluded.terminal_type,
			terminal_id = excluded.terminal_id,
			log_count = excluded.log_count,
			max_count = excluded.max_count,
			last_sync_time = excluded.last_sync_time`

	_, err := s.conn.Exec(query, l.DeviceSerialNum, l.TerminalType, l.TerminalID,
		l.LogCount, l.MaxCount, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save log status: %w", err)
	}
	return nil
}

// GetLogStatus returns the cached log occupancy, or nil
func (s *Store) GetLogStatus(serial string) (*LogStatus, error) {
	query := `
		SELECT device_serial_number, terminal_type, terminal_id, log_count,
		       max_count, last_sync_time
		FROM log_status WHERE device_serial_number = ?`

	var l LogStatus
	var terminalType, terminalID sql.NullString
	var syncTime sql.NullTime

	err := s.conn.QueryRow(query, serial).Scan(&l.DeviceSerialNum, &terminalType,
		&terminalID, &l.LogCount, &l.MaxCount, &syncTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get log status: %w", err)
	}

	l.TerminalType = terminalType.String
	l.TerminalID = terminalID.String
	if syncTime.Valid {
		l.LastSyncTime = &syncTime.Time
	}
	return &l, nil
}
