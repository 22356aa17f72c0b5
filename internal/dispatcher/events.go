package dispatcher

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/publish"
	"terminal-gateway/internal/store"
)

// handleEvent routes a device event. A handler panic answers with a Fail ack
// carrying the TransID so the device stops retrying the delivery.
func (d *Dispatcher) handleEvent(msg *protocol.Message) (reply string) {
	d.logger.WithField("type", msg.Type).Info("Processing event")

	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"type":  msg.Type,
				"panic": r,
			}).Error("Recovered from event handler panic")
			reply = eventFailReply(msg)
		}
	}()

	if serial := msg.Serial(); serial != "" {
		d.devices.Touch(serial)
	}

	switch msg.Type {
	case "TimeLog_v2":
		return d.handleTimeLog(msg)
	case "AdminLog_v2":
		return d.handleAdminLog(msg)
	case "KeepAlive":
		return d.handleKeepAlive(msg)
	default:
		d.logger.WithField("type", msg.Type).Warn("Unsupported event type")
		return protocol.BuildError("Unsupported event type: " + msg.Type)
	}
}

// eventFailReply builds the failure ack for an event that could not be
// processed
func eventFailReply(msg *protocol.Message) string {
	transID := msg.Text("TransID")
	switch msg.Type {
	case "TimeLog_v2":
		return protocol.BuildTimeLogAck(transID, "Fail")
	case "AdminLog_v2":
		return protocol.BuildAdminLogAck(transID, "Fail")
	default:
		return protocol.BuildError("Internal error")
	}
}

func (d *Dispatcher) handleTimeLog(msg *protocol.Message) string {
	serial := msg.Serial()
	transID := msg.Text("TransID")
	logTime := protocol.DeviceTimeOrNow(msg.Text("Time"), d.logger)

	punch := &store.TimeLog{
		LogID:           msg.Text("LogID"),
		DeviceSerialNum: serial,
		UserID:          msg.Text("UserID"),
		LogTime:         logTime,
		Action:          msg.Text("Action"),
		AttendStat:      msg.Text("AttendStat"),
		ApStat:          msg.Text("APStat"),
		JobCode:         msg.Int("JobCode", 0),
		HasPhoto:        msg.Bool("Photo"),
		LogImage:        msg.Text("LogImage"),
		TransID:         transID,
	}

	if _, err := d.store.InsertTimeLog(punch); err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to store time log")
		return protocol.BuildTimeLogAck(transID, "Fail")
	}

	// Durable now; downstream delivery is best effort.
	d.publisher.Publish(context.Background(), &publish.Punch{
		DeviceSerialNo: serial,
		UserID:         punch.UserID,
		LogTime:        logTime,
		Action:         punch.Action,
		AttendStat:     punch.AttendStat,
		HasPhoto:       punch.HasPhoto,
	})

	if dev, err := d.store.GetDevice(serial); err == nil && dev != nil {
		d.archive.Record(dev.CompanyCode, dev.BranchCode, serial, punch.UserID, logTime, punch.AttendStat)
	}

	return protocol.BuildTimeLogAck(transID, "OK")
}

func (d *Dispatcher) handleAdminLog(msg *protocol.Message) string {
	serial := msg.Serial()
	transID := msg.Text("TransID")

	entry := &store.AdminLog{
		LogID:           msg.Text("LogID"),
		DeviceSerialNum: serial,
		AdminID:         msg.Text("AdminID"),
		UserID:          msg.Text("UserID"),
		LogTime:         protocol.DeviceTimeOrNow(msg.Text("Time"), d.logger),
		Action:          msg.Text("Action"),
		Stat:            msg.Int("Stat", 0),
		TransID:         transID,
	}

	if _, err := d.store.InsertAdminLog(entry); err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Failed to store admin log")
		return protocol.BuildAdminLogAck(transID, "Fail")
	}
	return protocol.BuildAdminLogAck(transID, "OK")
}

func (d *Dispatcher) handleKeepAlive(msg *protocol.Message) string {
	serverTime := protocol.FormatDeviceTime(time.Now())
	return protocol.BuildKeepAliveAck(msg.Text("DevTime"), serverTime)
}
