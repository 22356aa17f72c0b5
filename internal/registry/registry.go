package registry

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Conn is the write side of a live device connection. Implementations must
// serialize their own writes; the registry calls WriteText from arbitrary
// goroutines.
type Conn interface {
	WriteText(payload string) error
}

// Registry is the bidirectional mapping between live connections and device
// serial numbers, plus the per-device single-flight guards that stand in for
// request correlation ids. It is the only shared mutable state between
// connection handlers and the scheduler, and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	bySerial map[string]Conn
	byConn   map[Conn]string
	guards   map[string]*guardState

	log *logrus.Entry
}

// guardState holds the transient correlation state for one device. It is
// process-local and lost on restart; devices are simply re-queried.
type guardState struct {
	syncing      bool
	querying     bool
	pendingDepts []int
}

// New creates an empty registry
func New(log *logrus.Entry) *Registry {
	return &Registry{
		bySerial: make(map[string]Conn),
		byConn:   make(map[Conn]string),
		guards:   make(map[string]*guardState),
		log:      log,
	}
}

// Bind associates a connection with a device serial. Binding is idempotent:
// a serial that is already bound is silently rebound to the new connection,
// which is how reconnects displace stale sessions.
func (r *Registry) Bind(conn Conn, serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.bySerial[serial]; ok && old != conn {
		delete(r.byConn, old)
	}
	if oldSerial, ok := r.byConn[conn]; ok && oldSerial != serial {
		delete(r.bySerial, oldSerial)
	}
	r.bySerial[serial] = conn
	r.byConn[conn] = serial
}

// Unbind removes both halves of the mapping for a connection and returns the
// serial it was bound to, if any.
func (r *Registry) Unbind(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	serial, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)
	// Only drop the forward mapping if it still points at this connection;
	// a rebind may already have replaced it.
	if r.bySerial[serial] == conn {
		delete(r.bySerial, serial)
	}
	return serial, true
}

// ConnFor returns the live connection for a device, if bound
func (r *Registry) ConnFor(serial string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.bySerial[serial]
	return conn, ok
}

// SerialFor returns the device serial bound to a connection, if any
func (r *Registry) SerialFor(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	serial, ok := r.byConn[conn]
	return serial, ok
}

// Connected reports whether the device has a live connection
func (r *Registry) Connected(serial string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySerial[serial]
	return ok
}

// Serials returns a snapshot of all currently bound device serials
func (r *Registry) Serials() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	serials := make([]string, 0, len(r.bySerial))
	for serial := range r.bySerial {
		serials = append(serials, serial)
	}
	return serials
}

// Send writes a payload to the device's live connection. It returns false,
// never an error, when the device has no connection or the write fails:
// callers treat both as the single DeviceUnavailable condition.
func (r *Registry) Send(serial, payload string) bool {
	conn, ok := r.ConnFor(serial)
	if !ok {
		return false
	}
	if err := conn.WriteText(payload); err != nil {
		r.log.WithError(err).WithField("serial", serial).Error("Failed to send message to device")
		return false
	}
	return true
}

func (r *Registry) guard(serial string) *guardState {
	g, ok := r.guards[serial]
	if !ok {
		g = &guardState{}
		r.guards[serial] = g
	}
	return g
}

// BeginSync acquires the directory-sync single-flight guard. It returns false
// when a sync is already in progress for the device.
func (r *Registry) BeginSync(serial string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.guard(serial)
	if g.syncing {
		return false
	}
	g.syncing = true
	return true
}

// EndSync releases the directory-sync guard
func (r *Registry) EndSync(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard(serial).syncing = false
}

// Syncing reports whether a directory sync is in flight for the device
func (r *Registry) Syncing(serial string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guards[serial]
	return ok && g.syncing
}

// BeginStatusQuery acquires the status-query single-flight guard
func (r *Registry) BeginStatusQuery(serial string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.guard(serial)
	if g.querying {
		return false
	}
	g.querying = true
	return true
}

// EndStatusQuery releases the status-query guard
func (r *Registry) EndStatusQuery(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard(serial).querying = false
}

// PushPendingDepartment records that the device has been asked for a
// department slot. GetDepartment replies carry no department binding, so
// requests and replies are matched by FIFO order alone.
func (r *Registry) PushPendingDepartment(serial string, deptNo int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.guard(serial)
	g.pendingDepts = append(g.pendingDepts, deptNo)
}

// NextPendingDepartment returns the oldest outstanding department request
// without consuming it.
func (r *Registry) NextPendingDepartment(serial string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guards[serial]
	if !ok || len(g.pendingDepts) == 0 {
		return 0, false
	}
	return g.pendingDepts[0], true
}

// PopPendingDepartment consumes the oldest outstanding department request
func (r *Registry) PopPendingDepartment(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guards[serial]; ok && len(g.pendingDepts) > 0 {
		g.pendingDepts = g.pendingDepts[1:]
	}
}

// ClearGuards drops every transient guard for a device. Called on disconnect;
// a guard that outlives its connection would lock the device out of that
// operation class until restart.
func (r *Registry) ClearGuards(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.guards, serial)
}
