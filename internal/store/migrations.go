package store

import (
	"fmt"
)

// migrate runs database migrations to create the required schema
func (s *Store) migrate() error {
	migrations := []string{
		createDevicesTable,
		createDeviceStatusTable,
		createUsersTable,
		createTimeLogsTable,
		createAdminLogsTable,
		createCommandQueueTable,
		createDepartmentsTable,
		createWifiSettingsTable,
		createEthernetSettingsTable,
		createAdditionalInfoTable,
		createFingerDataTable,
		createFaceDataTable,
		createUserPhotosTable,
		createLogStatusTable,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := s.conn.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	return nil
}

const createDevicesTable = `
CREATE TABLE IF NOT EXISTS devices (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    serial_number TEXT UNIQUE NOT NULL,
    terminal_type TEXT,
    terminal_id TEXT,
    token TEXT,
    cloud_id TEXT,
    company_code TEXT,
    branch_code TEXT,
    registered BOOLEAN DEFAULT FALSE,
    logged_in BOOLEAN DEFAULT FALSE,
    last_connection_time DATETIME,
    last_activity_time DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const createDeviceStatusTable = `
CREATE TABLE IF NOT EXISTS device_status (
    device_serial_no TEXT PRIMARY KEY,
    terminal_type TEXT,
    terminal_id TEXT,
    product_name TEXT,
    device_uid TEXT,
    manager_count INTEGER,
    user_count INTEGER,
    face_count INTEGER,
    fp_count INTEGER,
    card_count INTEGER,
    pwd_count INTEGER,
    door_status INTEGER,
    alarm_status INTEGER,
    firmware_version TEXT,
    build_number TEXT,
    device_time DATETIME,
    online BOOLEAN DEFAULT FALSE,
    last_online DATETIME,
    last_status_update DATETIME
);`

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial_number TEXT NOT NULL,
    user_id TEXT NOT NULL,
    name TEXT,
    privilege TEXT,
    department INTEGER DEFAULT 0,
    enabled BOOLEAN DEFAULT FALSE,
    time_set1 INTEGER DEFAULT 0,
    time_set2 INTEGER DEFAULT 0,
    time_set3 INTEGER DEFAULT 0,
    time_set4 INTEGER DEFAULT 0,
    time_set5 INTEGER DEFAULT 0,
    user_period_used BOOLEAN DEFAULT FALSE,
    user_period_start INTEGER DEFAULT 0,
    user_period_end INTEGER DEFAULT 0,
    card TEXT,
    password TEXT,
    fingers TEXT,
    face_enrolled BOOLEAN DEFAULT FALSE,
    face_data TEXT, -- Encrypted
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(device_serial_number, user_id)
);`

const createTimeLogsTable = `
CREATE TABLE IF NOT EXISTS time_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    log_id TEXT,
    device_serial_number TEXT NOT NULL,
    user_id TEXT,
    log_time DATETIME NOT NULL,
    action TEXT,
    attend_stat TEXT,
    ap_stat TEXT,
    job_code INTEGER DEFAULT 0,
    has_photo BOOLEAN DEFAULT FALSE,
    log_image TEXT,
    trans_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const createAdminLogsTable = `
CREATE TABLE IF NOT EXISTS admin_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    log_id TEXT,
    device_serial_number TEXT NOT NULL,
    admin_id TEXT,
    user_id TEXT,
    log_time DATETIME NOT NULL,
    action TEXT,
    stat INTEGER DEFAULT 0,
    trans_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const createCommandQueueTable = `
CREATE TABLE IF NOT EXISTS command_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial_number TEXT NOT NULL,
    command_type TEXT NOT NULL,
    command_xml TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('PENDING', 'SENT', 'COMPLETED', 'FAILED')),
    user_id TEXT,
    sub_key TEXT,
    response_xml TEXT,
    executed_at DATETIME,
    completed_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const createDepartmentsTable = `
CREATE TABLE IF NOT EXISTS departments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial_number TEXT NOT NULL,
    dept_no INTEGER NOT NULL,
    name TEXT,
    last_sync_time DATETIME,
    UNIQUE(device_serial_number, dept_no)
);`

const createWifiSettingsTable = `
CREATE TABLE IF NOT EXISTS wifi_settings (
    device_serial_number TEXT PRIMARY KEY,
    terminal_type TEXT,
    terminal_id TEXT,
    use_wifi TEXT,
    ssid TEXT,
    wifi_key TEXT, -- Encrypted
    dhcp TEXT,
    ip TEXT,
    subnet TEXT,
    default_gateway TEXT,
    port INTEGER,
    ip_from_dhcp TEXT,
    subnet_from_dhcp TEXT,
    default_gateway_from_dhcp TEXT,
    result TEXT,
    last_sync_time DATETIME
);`

const createEthernetSettingsTable = `
CREATE TABLE IF NOT EXISTS ethernet_settings (
    device_serial_number TEXT PRIMARY KEY,
    terminal_type TEXT,
    terminal_id TEXT,
    dhcp TEXT,
    ip TEXT,
    subnet TEXT,
    default_gateway TEXT,
    port INTEGER,
    mac_address TEXT,
    ip_from_dhcp TEXT,
    subnet_from_dhcp TEXT,
    default_gateway_from_dhcp TEXT,
    last_sync_time DATETIME
);`

const createAdditionalInfoTable = `
CREATE TABLE IF NOT EXISTS additional_info (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial_number TEXT NOT NULL,
    param_name TEXT NOT NULL,
    terminal_type TEXT,
    terminal_id TEXT,
    value1 TEXT,
    value2 TEXT,
    value3 TEXT,
    value4 TEXT,
    value5 TEXT,
    last_sync_time DATETIME,
    UNIQUE(device_serial_number, param_name)
);`

const createFingerDataTable = `
CREATE TABLE IF NOT EXISTS finger_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial_number TEXT NOT NULL,
    user_id TEXT NOT NULL,
    finger_no INTEGER NOT NULL,
    duress TEXT,
    finger_data TEXT, -- Encrypted
    last_sync_time DATETIME,
    UNIQUE(device_serial_number, user_id, finger_no)
);`

const createFaceDataTable = `
CREATE TABLE IF NOT EXISTS face_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial_number TEXT NOT NULL,
    user_id TEXT NOT NULL,
    face_enrolled BOOLEAN DEFAULT FALSE,
    face_data TEXT, -- Encrypted
    last_sync_time DATETIME,
    UNIQUE(device_serial_number, user_id)
);`

const createUserPhotosTable = `
CREATE TABLE IF NOT EXISTS user_photos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_serial_number TEXT NOT NULL,
    user_id TEXT NOT NULL,
    photo_data TEXT, -- Encrypted
    last_sync_time DATETIME,
    UNIQUE(device_serial_number, user_id)
);`

const createLogStatusTable = `
CREATE TABLE IF NOT EXISTS log_status (
    device_serial_number TEXT PRIMARY KEY,
    terminal_type TEXT,
    terminal_id TEXT,
    log_count INTEGER DEFAULT 0,
    max_count INTEGER DEFAULT 0,
    last_sync_time DATETIME
);`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_time_logs_device ON time_logs(device_serial_number);
CREATE INDEX IF NOT EXISTS idx_time_logs_log_time ON time_logs(log_time);
CREATE INDEX IF NOT EXISTS idx_admin_logs_device ON admin_logs(device_serial_number);
CREATE INDEX IF NOT EXISTS idx_command_queue_status ON command_queue(status);
CREATE INDEX IF NOT EXISTS idx_command_queue_device ON command_queue(device_serial_number);
CREATE INDEX IF NOT EXISTS idx_users_device ON users(device_serial_number);
`
