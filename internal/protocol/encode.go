package protocol

import (
	"bytes"
	"encoding/xml"
	"strconv"
)

// builder accumulates a single-line XML message in wire element order
type builder struct {
	buf bytes.Buffer
}

func newMessage(kind Kind, msgType string) *builder {
	b := &builder{}
	b.buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.buf.WriteString("<Message>")
	b.add(kind.String(), msgType)
	return b
}

func (b *builder) add(name, value string) *builder {
	b.buf.WriteString("<")
	b.buf.WriteString(name)
	b.buf.WriteString(">")
	xml.EscapeText(&b.buf, []byte(value))
	b.buf.WriteString("</")
	b.buf.WriteString(name)
	b.buf.WriteString(">")
	return b
}

func (b *builder) addInt(name string, value int) *builder {
	return b.add(name, strconv.Itoa(value))
}

func (b *builder) addYesNo(name string, value bool) *builder {
	if value {
		return b.add(name, "Yes")
	}
	return b.add(name, "No")
}

func (b *builder) addOpt(name, value string) *builder {
	if value != "" {
		b.add(name, value)
	}
	return b
}

func (b *builder) addOptInt(name string, value *int) *builder {
	if value != nil {
		b.addInt(name, *value)
	}
	return b
}

func (b *builder) addOptYesNo(name string, value *bool) *builder {
	if value != nil {
		b.addYesNo(name, *value)
	}
	return b
}

func (b *builder) String() string {
	return b.buf.String() + "</Message>"
}

// Replies sent back on the device's own connection.

func BuildRegisterReply(serial, token string) string {
	return newMessage(KindResponse, "Register").
		add("DeviceSerialNo", serial).
		add("Token", token).
		add("Result", "OK").
		String()
}

func BuildLoginReply(serial, result string) string {
	return newMessage(KindResponse, "Login").
		add("DeviceSerialNo", serial).
		add("Result", result).
		String()
}

func BuildTimeLogAck(transID, result string) string {
	b := newMessage(KindResponse, "TimeLog_v2")
	b.addOpt("TransID", transID)
	return b.add("Result", result).String()
}

func BuildAdminLogAck(transID, result string) string {
	b := newMessage(KindResponse, "AdminLog_v2")
	b.addOpt("TransID", transID)
	return b.add("Result", result).String()
}

func BuildKeepAliveAck(devTime, serverTime string) string {
	return newMessage(KindResponse, "KeepAlive").
		add("Result", "OK").
		add("DevTime", devTime).
		add("ServerTime", serverTime).
		String()
}

func BuildError(message string) string {
	return newMessage(KindResponse, "Error").
		add("Result", "Fail").
		add("Error", message).
		String()
}

// Requests originated by the gateway.

func BuildGetFirstUserData() string {
	return newMessage(KindRequest, "GetFirstUserData").String()
}

func BuildGetNextUserData() string {
	return newMessage(KindRequest, "GetNextUserData").String()
}

func BuildGetUserData(userID string) string {
	return newMessage(KindRequest, "GetUserData").
		add("UserID", userID).
		String()
}

func BuildGetDeviceStatusAll() string {
	return newMessage(KindRequest, "GetDeviceStatusAll").String()
}

func BuildGetDeviceStatus(paramName string) string {
	return newMessage(KindRequest, "GetDeviceStatus").
		add("ParamName", paramName).
		String()
}

func BuildGetFirmwareVersion() string {
	return newMessage(KindRequest, "GetFirmwareVersion").String()
}

func BuildGetGlogPosInfo() string {
	return newMessage(KindRequest, "GetGlogPosInfo").String()
}

func BuildGetDeviceInfoExt(paramName string) string {
	return newMessage(KindRequest, "GetDeviceInfoExt").
		add("ParamName", paramName).
		String()
}

func BuildGetEthernetSetting() string {
	return newMessage(KindRequest, "GetEthernetSetting").String()
}

func BuildGetWiFiSetting() string {
	return newMessage(KindRequest, "GetWiFiSetting").String()
}

func BuildGetDepartment(deptNo int) string {
	return newMessage(KindRequest, "GetDepartment").
		addInt("DeptNo", deptNo).
		String()
}

func BuildGetFaceData(userID string) string {
	return newMessage(KindRequest, "GetFaceData").
		add("UserID", userID).
		String()
}

func BuildGetFingerData(userID string, fingerNo int, fingerOnly bool) string {
	b := newMessage(KindRequest, "GetFingerData").
		add("UserID", userID).
		addInt("FingerNo", fingerNo)
	if fingerOnly {
		b.add("FingerOnly", "1")
	} else {
		b.add("FingerOnly", "0")
	}
	return b.String()
}

func BuildGetUserPhoto(userID string) string {
	return newMessage(KindRequest, "GetUserPhoto").
		add("UserID", userID).
		String()
}

func BuildGetTime() string {
	return newMessage(KindRequest, "GetTime").String()
}

func BuildSetTime(timeString string) string {
	return newMessage(KindRequest, "SetTime").
		add("Time", timeString).
		String()
}

func BuildClearLogData() string {
	return newMessage(KindRequest, "ClearLogData").String()
}

// BuildSetDepartment carries the department name base64(UTF-16LE)-encoded in
// the Data element, matching the terminal firmware's expectation.
func BuildSetDepartment(deptNo int, name string) string {
	b := newMessage(KindRequest, "SetDepartment").
		addInt("DeptNo", deptNo)
	if name != "" {
		b.add("Data", EncodeName(name))
	}
	return b.String()
}

// WiFiSettings is the outbound SetWiFiSetting payload; empty/nil fields are omitted
type WiFiSettings struct {
	Use            string
	SSID           string
	Key            string
	DHCP           string
	IP             string
	Subnet         string
	DefaultGateway string
	Port           *int
}

func BuildSetWiFiSetting(s WiFiSettings) string {
	return newMessage(KindRequest, "SetWiFiSetting").
		addOpt("Use", s.Use).
		addOpt("SSID", s.SSID).
		addOpt("Key", s.Key).
		addOpt("DHCP", s.DHCP).
		addOpt("IP", s.IP).
		addOpt("Subnet", s.Subnet).
		addOpt("DefaultGateway", s.DefaultGateway).
		addOptInt("Port", s.Port).
		String()
}

// EthernetSettings is the outbound SetEthernetSetting payload
type EthernetSettings struct {
	DHCP           string
	IP             string
	Subnet         string
	DefaultGateway string
	Port           *int
}

func BuildSetEthernetSetting(s EthernetSettings) string {
	return newMessage(KindRequest, "SetEthernetSetting").
		addOpt("DHCP", s.DHCP).
		addOpt("IP", s.IP).
		addOpt("Subnet", s.Subnet).
		addOpt("DefaultGateway", s.DefaultGateway).
		addOptInt("Port", s.Port).
		String()
}

// UserPayload is the outbound SetUserData field set. Name is encoded with the
// base64(UTF-16LE) rule; booleans go out as Yes/No.
type UserPayload struct {
	Name               string
	Privilege          string
	Department         int
	Enabled            *bool
	TimeSet1           *int
	TimeSet2           *int
	TimeSet3           *int
	TimeSet4           *int
	TimeSet5           *int
	UserPeriodUsed     *bool
	UserPeriodStart    *int
	UserPeriodEnd      *int
	Card               string
	Password           string
	FaceData           string
	AllowNoCertificate *bool
}

func BuildSetUserData(userID string, u UserPayload) string {
	b := newMessage(KindRequest, "SetUserData").
		add("UserID", userID).
		add("Type", "Set").
		addInt("Depart", u.Department)
	if u.Name != "" {
		b.add("Name", EncodeName(u.Name))
	}
	b.addOpt("Privilege", u.Privilege).
		addOptYesNo("Enabled", u.Enabled).
		addOptInt("TimeSet1", u.TimeSet1).
		addOptInt("TimeSet2", u.TimeSet2).
		addOptInt("TimeSet3", u.TimeSet3).
		addOptInt("TimeSet4", u.TimeSet4).
		addOptInt("TimeSet5", u.TimeSet5).
		addOptYesNo("UserPeriod_Used", u.UserPeriodUsed).
		addOptInt("UserPeriod_Start", u.UserPeriodStart).
		addOptInt("UserPeriod_End", u.UserPeriodEnd).
		addOpt("Card", u.Card).
		addOpt("PWD", u.Password).
		addOpt("FaceData", u.FaceData).
		addOptYesNo("AllowNoCertificate", u.AllowNoCertificate)
	return b.String()
}

func BuildDeleteUser(userID string) string {
	return newMessage(KindRequest, "SetUserData").
		add("UserID", userID).
		add("Type", "Delete").
		String()
}

func BuildSetFingerData(userID string, fingerNo int, duress, fingerData string) string {
	return newMessage(KindRequest, "SetFingerData").
		add("UserID", userID).
		addInt("FingerNo", fingerNo).
		addOpt("Duress", duress).
		addOpt("FingerData", fingerData).
		String()
}
