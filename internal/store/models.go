package store

import (
	"time"
)

// Device is a terminal identity record. A device row is created on first
// Register and carried across reconnects; token is the shared secret the
// device must present on Login.
type Device struct {
	ID                 int64      `json:"id"`
	SerialNumber       string     `json:"serialNumber"`
	TerminalType       string     `json:"terminalType"`
	TerminalID         string     `json:"terminalId"`
	Token              string     `json:"-"`
	CloudID            string     `json:"cloudId,omitempty"`
	CompanyCode        string     `json:"companyCode,omitempty"`
	BranchCode         string     `json:"branchCode,omitempty"`
	Registered         bool       `json:"registered"`
	LoggedIn           bool       `json:"loggedIn"`
	LastConnectionTime *time.Time `json:"lastConnectionTime,omitempty"`
	LastActivityTime   *time.Time `json:"lastActivityTime,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// DeviceStatus is the merged view of the periodic status poll. Fields arrive
// in two separate replies (counters and firmware) and are merged field by
// field, so any of them may lag the others.
type DeviceStatus struct {
	DeviceSerialNo   string     `json:"deviceSerialNo"`
	TerminalType     string     `json:"terminalType,omitempty"`
	TerminalID       string     `json:"terminalId,omitempty"`
	ProductName      string     `json:"productName,omitempty"`
	DeviceUID        string     `json:"deviceUid,omitempty"`
	ManagerCount     int        `json:"managerCount"`
	UserCount        int        `json:"userCount"`
	FaceCount        int        `json:"faceCount"`
	FpCount          int        `json:"fpCount"`
	CardCount        int        `json:"cardCount"`
	PwdCount         int        `json:"pwdCount"`
	DoorStatus       int        `json:"doorStatus"`
	AlarmStatus      int        `json:"alarmStatus"`
	FirmwareVersion  string     `json:"firmwareVersion,omitempty"`
	BuildNumber      string     `json:"buildNumber,omitempty"`
	DeviceTime       *time.Time `json:"deviceTime,omitempty"`
	Online           bool       `json:"online"`
	LastOnline       *time.Time `json:"lastOnline,omitempty"`
	LastStatusUpdate *time.Time `json:"lastStatusUpdate,omitempty"`
}

// StatusReport is the decoded field set of one GetDeviceStatusAll reply. Nil
// fields were absent from the reply and leave the stored value untouched.
type StatusReport struct {
	DeviceSerialNo string
	TerminalType   *string
	TerminalID     *string
	ProductName    *string
	DeviceUID      *string
	ManagerCount   *int
	UserCount      *int
	FaceCount      *int
	FpCount        *int
	CardCount      *int
	PwdCount       *int
	DoorStatus     *int
	AlarmStatus    *int
	DeviceTime     *time.Time
}

// User is one mirrored directory entry for a device. Name is stored decoded;
// FaceData, when present, is encrypted at rest.
type User struct {
	ID              int64     `json:"id"`
	DeviceSerialNum string    `json:"deviceSerialNumber"`
	UserID          string    `json:"userId"`
	Name            string    `json:"name"`
	Privilege       string    `json:"privilege"`
	Department      int       `json:"department"`
	Enabled         bool      `json:"enabled"`
	TimeSet1        int       `json:"timeSet1"`
	TimeSet2        int       `json:"timeSet2"`
	TimeSet3        int       `json:"timeSet3"`
	TimeSet4        int       `json:"timeSet4"`
	TimeSet5        int       `json:"timeSet5"`
	UserPeriodUsed  bool      `json:"userPeriodUsed"`
	UserPeriodStart int       `json:"userPeriodStart"`
	UserPeriodEnd   int       `json:"userPeriodEnd"`
	Card            string    `json:"card,omitempty"`
	Password        string    `json:"-"`
	Fingers         string    `json:"fingers,omitempty"`
	FaceEnrolled    bool      `json:"faceEnrolled"`
	FaceData        string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TimeLog is one attendance punch
type TimeLog struct {
	ID              int64     `json:"id"`
	LogID           string    `json:"logId,omitempty"`
	DeviceSerialNum string    `json:"deviceSerialNumber"`
	UserID          string    `json:"userId"`
	LogTime         time.Time `json:"logTime"`
	Action          string    `json:"action,omitempty"`
	AttendStat      string    `json:"attendStat,omitempty"`
	ApStat          string    `json:"apStat,omitempty"`
	JobCode         int       `json:"jobCode"`
	HasPhoto        bool      `json:"hasPhoto"`
	LogImage        string    `json:"-"`
	TransID         string    `json:"transId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AdminLog is one management-operation audit event from a terminal
type AdminLog struct {
	ID              int64     `json:"id"`
	LogID           string    `json:"logId,omitempty"`
	DeviceSerialNum string    `json:"deviceSerialNumber"`
	AdminID         string    `json:"adminId"`
	UserID          string    `json:"userId,omitempty"`
	LogTime         time.Time `json:"logTime"`
	Action          string    `json:"action,omitempty"`
	Stat            int       `json:"stat"`
	TransID         string    `json:"transId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Command lifecycle states
const (
	CommandPending   = "PENDING"
	CommandSent      = "SENT"
	CommandCompleted = "COMPLETED"
	CommandFailed    = "FAILED"
)

// Command is one queued device write. SubKey disambiguates commands of the
// same type against the same device (the department number for SetDepartment,
// the finger number for SetFingerData).
type Command struct {
	ID              int64      `json:"id"`
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	CommandType     string     `json:"commandType"`
	CommandXML      string     `json:"-"`
	Status          string     `json:"status"`
	UserID          string     `json:"userId,omitempty"`
	SubKey          string     `json:"subKey,omitempty"`
	ResponseXML     string     `json:"-"`
	ExecutedAt      *time.Time `json:"executedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Department is one cached department slot (0-29) for a device
type Department struct {
	ID              int64      `json:"id"`
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	DeptNo          int        `json:"deptNo"`
	Name            string     `json:"name"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
}

// WifiSetting is the cached WiFi configuration reported by a device. Key is
// encrypted at rest.
type WifiSetting struct {
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	TerminalType    string     `json:"terminalType,omitempty"`
	TerminalID      string     `json:"terminalId,omitempty"`
	Use             string     `json:"use,omitempty"`
	SSID            string     `json:"ssid,omitempty"`
	Key             string     `json:"-"`
	DHCP            string     `json:"dhcp,omitempty"`
	IP              string     `json:"ip,omitempty"`
	Subnet          string     `json:"subnet,omitempty"`
	DefaultGateway  string     `json:"defaultGateway,omitempty"`
	Port            int        `json:"port"`
	IPFromDHCP      string     `json:"ipFromDhcp,omitempty"`
	SubnetFromDHCP  string     `json:"subnetFromDhcp,omitempty"`
	GatewayFromDHCP string     `json:"defaultGatewayFromDhcp,omitempty"`
	Result          string     `json:"result,omitempty"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
}

// EthernetSetting is the cached wired network configuration for a device
type EthernetSetting struct {
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	TerminalType    string     `json:"terminalType,omitempty"`
	TerminalID      string     `json:"terminalId,omitempty"`
	DHCP            string     `json:"dhcp,omitempty"`
	IP              string     `json:"ip,omitempty"`
	Subnet          string     `json:"subnet,omitempty"`
	DefaultGateway  string     `json:"defaultGateway,omitempty"`
	Port            int        `json:"port"`
	MacAddress      string     `json:"macAddress,omitempty"`
	IPFromDHCP      string     `json:"ipFromDhcp,omitempty"`
	SubnetFromDHCP  string     `json:"subnetFromDhcp,omitempty"`
	GatewayFromDHCP string     `json:"defaultGatewayFromDhcp,omitempty"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
}

// AdditionalInfo is one cached named device parameter with its five value
// slots. ParamName is one of the fixed parameter names the terminals expose.
type AdditionalInfo struct {
	ID              int64      `json:"id"`
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	ParamName       string     `json:"paramName"`
	TerminalType    string     `json:"terminalType,omitempty"`
	TerminalID      string     `json:"terminalId,omitempty"`
	Value1          string     `json:"value1,omitempty"`
	Value2          string     `json:"value2,omitempty"`
	Value3          string     `json:"value3,omitempty"`
	Value4          string     `json:"value4,omitempty"`
	Value5          string     `json:"value5,omitempty"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
}

// FingerData is one cached fingerprint template. Data is encrypted at rest.
type FingerData struct {
	ID              int64      `json:"id"`
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	UserID          string     `json:"userId"`
	FingerNo        int        `json:"fingerNo"`
	Duress          string     `json:"duress,omitempty"`
	Data            string     `json:"-"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
}

// FaceData is one cached face template. Data is encrypted at rest.
type FaceData struct {
	ID              int64      `json:"id"`
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	UserID          string     `json:"userId"`
	FaceEnrolled    bool       `json:"faceEnrolled"`
	Data            string     `json:"-"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
}

// UserPhoto is one cached user photo. Data is encrypted at rest.
type UserPhoto struct {
	ID              int64      `json:"id"`
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	UserID          string     `json:"userId"`
	Data            string     `json:"-"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
}

// LogStatus is the cached log-storage occupancy for a device
type LogStatus struct {
	DeviceSerialNum string     `json:"deviceSerialNumber"`
	TerminalType    string     `json:"terminalType,omitempty"`
	TerminalID      string     `json:"terminalId,omitempty"`
	LogCount        int        `json:"logCount"`
	MaxCount        int        `json:"maxCount"`
	LastSyncTime    *time.Time `json:"lastSyncTime,omitempty"`
}
