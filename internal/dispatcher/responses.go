package dispatcher

import (
	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/store"
)

// handleResponse routes a device reply. Replies never get an answer; a reply
// the gateway cannot place is logged and dropped.
func (d *Dispatcher) handleResponse(conn registry.Conn, msg *protocol.Message, raw []byte) string {
	d.logger.WithField("type", msg.Type).Info("Processing response")

	serial := d.serialOf(conn, msg)
	if serial == "" {
		d.logger.WithField("type", msg.Type).Warn("Response from unbound connection, dropping")
		return ""
	}

	if terminalID := msg.Text("TerminalID"); terminalID != "" {
		if err := d.store.SetTerminalID(serial, terminalID); err != nil {
			d.logger.WithError(err).WithField("serial", serial).Warn("Failed to record terminal id")
		}
	}

	switch msg.Type {
	case "GetFirmwareVersion":
		d.status.RecordFirmware(serial, msg.Text("Version"), msg.Text("BuildNumber"))
	case "GetDeviceStatus":
		d.handleStatusParam(serial, msg)
	case "GetDeviceStatusAll":
		d.handleStatusAll(serial, msg)
	case "GetUserData":
		d.handleUserData(serial, msg)
	case "GetFirstUserData", "GetNextUserData":
		d.handleUserPage(serial, msg)
	case "SetUserData":
		d.handleSetUserData(serial, msg, raw)
	case "GetGlogPosInfo":
		d.handleLogStatus(serial, msg)
	case "GetDeviceInfoExt":
		d.handleAdditionalInfo(serial, msg)
	case "GetEthernetSetting":
		d.handleEthernetSetting(serial, msg)
	case "GetWiFiSetting":
		d.handleWifiSetting(serial, msg)
	case "GetDepartment":
		d.handleDepartment(serial, msg)
	case "GetFaceData":
		d.handleFaceData(serial, msg)
	case "GetFingerData":
		d.handleFingerData(serial, msg)
	case "GetUserPhoto":
		d.handleUserPhoto(serial, msg)
	case "SetTime":
		d.commands.Resolve(serial, "SetTime", "", "", msg.Result() == "OK", string(raw))
	case "ClearLogData":
		d.commands.Resolve(serial, "ClearLogData", "", "", msg.Result() == "OK", string(raw))
	case "SetDepartment":
		d.commands.Resolve(serial, "SetDepartment", "", msg.Text("DeptNo"), msg.Result() == "OK", string(raw))
	case "SetWiFiSetting":
		d.handleSetNetworkSetting(serial, msg, raw, "SetWiFiSetting", protocol.BuildGetWiFiSetting())
	case "SetEthernetSetting":
		d.handleSetNetworkSetting(serial, msg, raw, "SetEthernetSetting", protocol.BuildGetEthernetSetting())
	case "SetFingerData":
		d.commands.Resolve(serial, "SetFingerData", msg.Text("UserID"), msg.Text("FingerNo"), msg.Result() == "OK", string(raw))
	case "GetTime":
		d.handleGetTime(serial, msg, raw)
	default:
		d.logger.WithField("type", msg.Type).Warn("Unsupported response type, dropping")
	}
	return ""
}

func (d *Dispatcher) handleStatusParam(serial string, msg *protocol.Message) {
	paramName := msg.Text("ParamName")
	if paramName == "" || !msg.Has("Value") {
		d.logger.WithField("serial", serial).Warn("Missing required fields in GetDeviceStatus response")
		return
	}
	d.status.RecordStatusParam(serial, paramName, msg.Int("Value", 0))
}

// handleStatusAll merges a GetDeviceStatusAll reply. Only fields the reply
// actually carries are passed along; an absent counter must not zero out a
// previously reported value.
func (d *Dispatcher) handleStatusAll(serial string, msg *protocol.Message) {
	r := &store.StatusReport{
		DeviceSerialNo: serial,
		TerminalType:   msg.TextOpt("TerminalType"),
		TerminalID:     msg.TextOpt("TerminalID"),
		ProductName:    msg.TextOpt("ProductName"),
		DeviceUID:      msg.TextOpt("DeviceUID"),
		ManagerCount:   msg.IntOpt("ManagerCount"),
		UserCount:      msg.IntOpt("UserCount"),
		FaceCount:      msg.IntOpt("FaceCount"),
		FpCount:        msg.IntOpt("FpCount"),
		CardCount:      msg.IntOpt("CardCount"),
		PwdCount:       msg.IntOpt("PwdCount"),
		DoorStatus:     msg.IntOpt("DoorStatus"),
		AlarmStatus:    msg.IntOpt("AlarmStatus"),
	}
	if msg.Has("DevTime") {
		t := protocol.DeviceTimeOrNow(msg.Text("DevTime"), d.logger)
		r.DeviceTime = &t
	}
	d.status.RecordStatus(r)
}

// userFromMessage maps the shared user field set of the directory replies
func userFromMessage(serial string, msg *protocol.Message) *store.User {
	return &store.User{
		DeviceSerialNum: serial,
		UserID:          msg.Text("UserID"),
		Name:            protocol.DecodeName(msg.Text("Name")),
		Privilege:       msg.Text("Privilege"),
		Department:      msg.Int("Depart", 0),
		Enabled:         msg.Bool("Enabled"),
		TimeSet1:        msg.Int("TimeSet1", 0),
		TimeSet2:        msg.Int("TimeSet2", 0),
		TimeSet3:        msg.Int("TimeSet3", 0),
		TimeSet4:        msg.Int("TimeSet4", 0),
		TimeSet5:        msg.Int("TimeSet5", 0),
		UserPeriodUsed:  msg.Bool("UserPeriod_Used"),
		UserPeriodStart: msg.Int("UserPeriod_Start", 0),
		UserPeriodEnd:   msg.Int("UserPeriod_End", 0),
		Card:            msg.Text("Card"),
		Password:        msg.Text("PWD"),
		Fingers:         msg.Text("Fingers"),
		FaceEnrolled:    msg.Bool("FaceEnrolled"),
		FaceData:        msg.Text("FaceData"),
	}
}

func (d *Dispatcher) handleUserData(serial string, msg *protocol.Message) {
	if msg.Result() != "OK" {
		d.logger.WithFields(logrus.Fields{
			"serial":  serial,
			"user_id": msg.Text("UserID"),
			"result":  msg.Result(),
		}).Warn("Failed to get user data")
		return
	}

	user := userFromMessage(serial, msg)
	if err := d.store.UpsertUser(user); err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to store user data")
		return
	}
	d.logger.WithFields(logrus.Fields{"serial": serial, "user_id": user.UserID}).Info("Saved user data")
}

// handleUserPage consumes one page of a directory walk. A Fail result means
// the directory is exhausted (or empty), which also ends the walk.
func (d *Dispatcher) handleUserPage(serial string, msg *protocol.Message) {
	if msg.Result() != "OK" {
		d.logger.WithFields(logrus.Fields{
			"serial": serial,
			"result": msg.Result(),
		}).Warn("User data page failed, ending sync")
		d.sync.Advance(serial, false)
		return
	}

	if msg.Text("UserID") != "" {
		d.sync.RecordUser(userFromMessage(serial, msg))
	}
	d.sync.Advance(serial, msg.Bool("More"))
}

func (d *Dispatcher) handleSetUserData(serial string, msg *protocol.Message, raw []byte) {
	userID := msg.Text("UserID")
	opType := msg.Text("Type")
	success := msg.Result() == "OK"

	cmd := d.commands.Resolve(serial, "SetUserData", userID, opType, success, string(raw))
	if cmd == nil {
		return
	}

	// A completed delete also drops the mirrored entry with its biometric
	// cache; the device no longer knows this user.
	if success && opType == "Delete" {
		if err := d.store.DeleteUser(serial, userID); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"serial":  serial,
				"user_id": userID,
			}).Error("Failed to remove deleted user")
		}
	}
}

func (d *Dispatcher) handleLogStatus(serial string, msg *protocol.Message) {
	err := d.store.SaveLogStatus(&store.LogStatus{
		DeviceSerialNum: serial,
		TerminalType:    msg.Text("TerminalType"),
		TerminalID:      msg.Text("TerminalID"),
		LogCount:        msg.Int("LogCount", 0),
		MaxCount:        msg.Int("MaxCount", 0),
	})
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save log status")
	}
}

func (d *Dispatcher) handleAdditionalInfo(serial string, msg *protocol.Message) {
	paramName := msg.Text("ParamName")
	if paramName == "" {
		d.logger.WithField("serial", serial).Warn("GetDeviceInfoExt response without ParamName, dropping")
		return
	}

	err := d.store.UpsertAdditionalInfo(&store.AdditionalInfo{
		DeviceSerialNum: serial,
		ParamName:       paramName,
		TerminalType:    msg.Text("TerminalType"),
		TerminalID:      msg.Text("TerminalID"),
		Value1:          msg.Text("Value1"),
		Value2:          msg.Text("Value2"),
		Value3:          msg.Text("Value3"),
		Value4:          msg.Text("Value4"),
		Value5:          msg.Text("Value5"),
	})
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save additional info")
	}
}

func (d *Dispatcher) handleEthernetSetting(serial string, msg *protocol.Message) {
	err := d.store.SaveEthernetSetting(&store.EthernetSetting{
		DeviceSerialNum: serial,
		TerminalType:    msg.Text("TerminalType"),
		TerminalID:      msg.Text("TerminalID"),
		DHCP:            msg.Text("DHCP"),
		IP:              msg.Text("IP"),
		Subnet:          msg.Text("Subnet"),
		DefaultGateway:  msg.Text("DefaultGateway"),
		Port:            msg.Int("Port", 0),
		MacAddress:      msg.Text("MacAddress"),
		IPFromDHCP:      msg.Text("IP_from_dhcp"),
		SubnetFromDHCP:  msg.Text("Subnet_from_dhcp"),
		GatewayFromDHCP: msg.Text("DefaultGateway_from_dhcp"),
	})
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save ethernet setting")
	}
}

func (d *Dispatcher) handleWifiSetting(serial string, msg *protocol.Message) {
	err := d.store.SaveWifiSetting(&store.WifiSetting{
		DeviceSerialNum: serial,
		TerminalType:    msg.Text("TerminalType"),
		TerminalID:      msg.Text("TerminalID"),
		Use:             msg.Text("Use"),
		SSID:            msg.Text("SSID"),
		Key:             msg.Text("Key"),
		DHCP:            msg.Text("DHCP"),
		IP:              msg.Text("IP"),
		Subnet:          msg.Text("Subnet"),
		DefaultGateway:  msg.Text("DefaultGateway"),
		Port:            msg.Int("Port", 0),
		IPFromDHCP:      msg.Text("IP_from_dhcp"),
		SubnetFromDHCP:  msg.Text("Subnet_from_dhcp"),
		GatewayFromDHCP: msg.Text("DefaultGateway_from_dhcp"),
		Result:          msg.Result(),
	})
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save wifi setting")
	}
}

// handleDepartment consumes the oldest pending department request. The reply
// carries no usable slot binding, so arrival order is the correlation; the
// pending entry is consumed whatever the outcome.
func (d *Dispatcher) handleDepartment(serial string, msg *protocol.Message) {
	defer d.registry.PopPendingDepartment(serial)

	deptNo, ok := d.registry.NextPendingDepartment(serial)
	if !ok {
		d.logger.WithField("serial", serial).Warn("No pending department request found")
		return
	}

	if msg.Text("Error") == "Not exist" {
		d.logger.WithFields(logrus.Fields{"serial": serial, "dept_no": deptNo}).Warn("Department does not exist on device")
		if err := d.store.DeleteDepartment(serial, deptNo); err != nil {
			d.logger.WithError(err).WithField("serial", serial).Error("Failed to drop missing department")
		}
		return
	}

	name := protocol.DecodeName(msg.Text("Name"))
	if err := d.store.UpsertDepartment(serial, deptNo, name); err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save department")
		return
	}
	d.logger.WithFields(logrus.Fields{"serial": serial, "dept_no": deptNo}).Info("Updated department")
}

func (d *Dispatcher) handleFaceData(serial string, msg *protocol.Message) {
	if msg.Result() != "OK" {
		d.logger.WithFields(logrus.Fields{
			"serial":  serial,
			"user_id": msg.Text("UserID"),
			"result":  msg.Result(),
		}).Warn("Failed to get face data")
		return
	}

	err := d.store.SaveFaceData(&store.FaceData{
		DeviceSerialNum: serial,
		UserID:          msg.Text("UserID"),
		FaceEnrolled:    msg.Bool("FaceEnrolled"),
		Data:            msg.Text("FaceData"),
	})
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save face data")
	}
}

// handleFingerData stores a fingerprint reply. This reply signals success by
// OMITTING the Result element; a present Result of any value is a failure.
func (d *Dispatcher) handleFingerData(serial string, msg *protocol.Message) {
	if msg.Has("Result") {
		d.logger.WithFields(logrus.Fields{
			"serial":  serial,
			"user_id": msg.Text("UserID"),
			"result":  msg.Result(),
		}).Warn("Failed to get finger data")
		return
	}

	err := d.store.SaveFingerData(&store.FingerData{
		DeviceSerialNum: serial,
		UserID:          msg.Text("UserID"),
		FingerNo:        msg.Int("FingerNo", 0),
		Duress:          msg.Text("Duress"),
		Data:            msg.Text("FingerData"),
	})
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save finger data")
	}
}

func (d *Dispatcher) handleUserPhoto(serial string, msg *protocol.Message) {
	if msg.Result() != "OK" {
		d.logger.WithFields(logrus.Fields{
			"serial":  serial,
			"user_id": msg.Text("UserID"),
			"result":  msg.Result(),
		}).Warn("Failed to get user photo")
		return
	}

	err := d.store.SaveUserPhoto(&store.UserPhoto{
		DeviceSerialNum: serial,
		UserID:          msg.Text("UserID"),
		Data:            msg.Text("PhotoData"),
	})
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save user photo")
	}
}

// handleSetNetworkSetting resolves a network write and, on success, asks the
// device for the resulting configuration so the cache reflects what actually
// got applied.
func (d *Dispatcher) handleSetNetworkSetting(serial string, msg *protocol.Message, raw []byte, commandType, followUp string) {
	success := msg.Result() == "OK"
	d.commands.Resolve(serial, commandType, "", "", success, string(raw))

	if success {
		if d.registry.Send(serial, followUp) {
			d.logger.WithField("serial", serial).Info("Requested updated network settings")
		}
	}
}

// handleGetTime records the reported clock. A clock read cannot fail on the
// device side, so the command always resolves as completed.
func (d *Dispatcher) handleGetTime(serial string, msg *protocol.Message, raw []byte) {
	deviceTime := protocol.DeviceTimeOrNow(msg.Text("Time"), d.logger)
	if err := d.store.SaveDeviceTime(serial, deviceTime); err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to save device time")
	}
	d.commands.Resolve(serial, "GetTime", "", "", true, string(raw))
}
