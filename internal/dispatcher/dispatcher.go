package dispatcher

import (
	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/archive"
	"terminal-gateway/internal/command"
	"terminal-gateway/internal/device"
	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/publish"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/status"
	"terminal-gateway/internal/store"
	"terminal-gateway/internal/usersync"
)

// Dispatcher routes decoded protocol messages to the services that own them.
// It is the only component that knows the full message vocabulary; everything
// below it works with typed calls.
type Dispatcher struct {
	registry  *registry.Registry
	store     *store.Store
	devices   *device.Service
	status    *status.Service
	sync      *usersync.Service
	commands  *command.Service
	publisher *publish.Publisher
	archive   *archive.Archive
	logger    *logrus.Entry
}

// New creates a dispatcher
func New(reg *registry.Registry, st *store.Store, devices *device.Service,
	statusSvc *status.Service, syncSvc *usersync.Service, commands *command.Service,
	publisher *publish.Publisher, arc *archive.Archive, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		store:     st,
		devices:   devices,
		status:    statusSvc,
		sync:      syncSvc,
		commands:  commands,
		publisher: publisher,
		archive:   arc,
		logger:    logger,
	}
}

// Handle processes one inbound payload and returns the reply to write back,
// or "" when the message needs no reply. A handler panic is confined to the
// message that caused it; the connection stays up.
func (d *Dispatcher) Handle(conn registry.Conn, payload []byte) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).Error("Recovered from message handler panic")
			reply = protocol.BuildError("Internal error")
		}
	}()

	msg, err := protocol.Decode(payload)
	if err != nil {
		d.logger.WithError(err).Warn("Dropping malformed message")
		return protocol.BuildError("Unknown message format")
	}

	switch msg.Kind {
	case protocol.KindRequest:
		return d.handleRequest(conn, msg)
	case protocol.KindEvent:
		return d.handleEvent(msg)
	case protocol.KindResponse:
		return d.handleResponse(conn, msg, payload)
	}
	return protocol.BuildError("Unknown message format")
}

// ConnectionClosed tears down the state of a dropped connection: the session
// flag, every transient guard, and the serial binding itself. Guards must not
// outlive the connection or the device would be locked out of syncs and
// status polls until restart.
func (d *Dispatcher) ConnectionClosed(conn registry.Conn) {
	serial, ok := d.registry.Unbind(conn)
	if !ok {
		return
	}
	d.registry.ClearGuards(serial)
	d.sync.Abort(serial)
	d.devices.Disconnect(serial)
}

// serialOf resolves the device a message belongs to: the DeviceSerialNo field
// when carried, otherwise the binding of the connection it arrived on.
func (d *Dispatcher) serialOf(conn registry.Conn, msg *protocol.Message) string {
	if serial := msg.Serial(); serial != "" {
		return serial
	}
	serial, _ := d.registry.SerialFor(conn)
	return serial
}
