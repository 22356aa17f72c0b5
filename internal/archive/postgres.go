package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Archive mirrors accepted punches into an external timesheet database.
// Rows are written only for devices bound to a company and branch; unbound
// devices are local-only. A nil Archive is valid and writes nothing.
type Archive struct {
	conn   *sql.DB
	logger *logrus.Entry
}

// New connects to the timesheet database and ensures its schema
func New(dsn string, logger *logrus.Entry) (*Archive, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open timesheet database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to reach timesheet database: %w", err)
	}

	a := &Archive{conn: conn, logger: logger}
	if err := a.ensureSchema(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Connected to timesheet database")
	return a, nil
}

func (a *Archive) ensureSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS hr_timesheet_log (
			id BIGSERIAL PRIMARY KEY,
			company_code VARCHAR(20) NOT NULL,
			branch_code VARCHAR(20) NOT NULL,
			device_serial_no VARCHAR(50) NOT NULL,
			employee_id VARCHAR(50) NOT NULL,
			punch_time TIMESTAMP NOT NULL,
			direction VARCHAR(3) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_hr_timesheet_employee
			ON hr_timesheet_log (company_code, branch_code, employee_id, punch_time);`

	if _, err := a.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to ensure timesheet schema: %w", err)
	}
	return nil
}

// Record writes one timesheet row. DutyOff punches go out as OUT, everything
// else as IN. Failures are logged and swallowed: the punch is already durable
// locally and the feed is advisory.
func (a *Archive) Record(companyCode, branchCode, serial, userID string, punchTime time.Time, attendStat string) {
	if a == nil {
		return
	}
	if companyCode == "" || branchCode == "" || userID == "" {
		return
	}

	direction := "IN"
	if attendStat == "DutyOff" {
		direction = "OUT"
	}

	query := `
		INSERT INTO hr_timesheet_log (company_code, branch_code, device_serial_no,
		                              employee_id, punch_time, direction)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := a.conn.Exec(query, companyCode, branchCode, serial, userID, punchTime, direction); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"serial":  serial,
			"user_id": userID,
		}).Warn("Failed to archive punch to timesheet database")
	}
}

// Close releases the database connection
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	return a.conn.Close()
}
