package dispatcher

import (
	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/registry"
)

func (d *Dispatcher) handleRequest(conn registry.Conn, msg *protocol.Message) string {
	d.logger.WithField("type", msg.Type).Info("Processing request")

	switch msg.Type {
	case "Register":
		return d.handleRegister(conn, msg)
	case "Login":
		return d.handleLogin(conn, msg)
	default:
		d.logger.WithField("type", msg.Type).Warn("Unsupported request type")
		return protocol.BuildError("Unsupported request type: " + msg.Type)
	}
}

func (d *Dispatcher) handleRegister(conn registry.Conn, msg *protocol.Message) string {
	serial := msg.Serial()
	if serial == "" {
		return protocol.BuildError("DeviceSerialNo is required")
	}

	token, err := d.devices.Register(serial, msg.Text("TerminalType"), msg.Text("CloudId"))
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Registration failed")
		return protocol.BuildError("Registration failed")
	}

	d.registry.Bind(conn, serial)
	return protocol.BuildRegisterReply(serial, token)
}

func (d *Dispatcher) handleLogin(conn registry.Conn, msg *protocol.Message) string {
	serial := msg.Serial()
	token := msg.Text("Token")
	if serial == "" || token == "" {
		d.logger.Warn("Login attempt with empty device serial or token")
		return protocol.BuildLoginReply(serial, "Fail")
	}

	ok, err := d.devices.Login(serial, token)
	if err != nil {
		d.logger.WithError(err).WithField("serial", serial).Error("Login failed")
		return protocol.BuildLoginReply(serial, "Fail")
	}
	if !ok {
		return protocol.BuildLoginReply(serial, "FailUnknownToken")
	}

	d.registry.Bind(conn, serial)
	// A fresh session starts with a status poll; the schedulers take over
	// from there.
	d.status.Query(serial)
	return protocol.BuildLoginReply(serial, "OK")
}
