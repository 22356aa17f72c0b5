package usersync

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/store"
)

// Service walks a terminal's user directory with the GetFirstUserData /
// GetNextUserData cursor. The cursor lives in the device, so at most one walk
// may run per device; the registry's sync guard enforces that.
type Service struct {
	registry *registry.Registry
	store    *store.Store
	logger   *logrus.Entry

	// maxAge bounds a single walk; a walk older than this is presumed
	// abandoned (lost reply, firmware stall) and its guard force-released.
	maxAge time.Duration

	mu        sync.Mutex
	startedAt map[string]time.Time
}

// NewService creates a directory sync service
func NewService(reg *registry.Registry, st *store.Store, maxAge time.Duration, logger *logrus.Entry) *Service {
	return &Service{
		registry:  reg,
		store:     st,
		logger:    logger,
		maxAge:    maxAge,
		startedAt: make(map[string]time.Time),
	}
}

// Start begins a directory walk for a device. Returns false when the device
// is offline, a walk is already running, or the first request cannot be sent.
func (s *Service) Start(serial string) bool {
	if !s.registry.Connected(serial) {
		return false
	}
	if !s.registry.BeginSync(serial) {
		s.logger.WithField("serial", serial).Debug("User sync already in progress")
		return false
	}

	if !s.registry.Send(serial, protocol.BuildGetFirstUserData()) {
		s.registry.EndSync(serial)
		return false
	}

	s.mu.Lock()
	s.startedAt[serial] = time.Now()
	s.mu.Unlock()

	s.logger.WithField("serial", serial).Info("User sync started")
	return true
}

// RecordUser stores one directory entry delivered during a walk
func (s *Service) RecordUser(u *store.User) {
	if err := s.store.UpsertUser(u); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"serial":  u.DeviceSerialNum,
			"user_id": u.UserID,
		}).Error("Failed to store synced user")
	}
}

// Advance moves the walk forward after a page reply. When the device reports
// more entries the next cursor request goes out; otherwise the walk ends.
func (s *Service) Advance(serial string, more bool) {
	if !s.registry.Syncing(serial) {
		// A reply with no walk open: a leftover from a reset walk. Drop it.
		s.logger.WithField("serial", serial).Debug("User data reply outside a sync, ignoring")
		return
	}

	if !more {
		s.finish(serial)
		return
	}

	if !s.registry.Send(serial, protocol.BuildGetNextUserData()) {
		s.logger.WithField("serial", serial).Warn("User sync aborted, next-page request failed")
		s.finish(serial)
	}
}

// Abort drops the walk bookkeeping for a disconnected device. The guard
// itself goes down with the registry's guard table; this keeps the start
// times in step with it.
func (s *Service) Abort(serial string) {
	s.mu.Lock()
	delete(s.startedAt, serial)
	s.mu.Unlock()
}

// RefreshUser asks a connected device for one directory entry outside a walk.
// The reply lands through the regular GetUserData handler.
func (s *Service) RefreshUser(serial, userID string) bool {
	if !s.registry.Connected(serial) {
		return false
	}
	return s.registry.Send(serial, protocol.BuildGetUserData(userID))
}

// Syncing reports whether a walk is open for the device
func (s *Service) Syncing(serial string) bool {
	return s.registry.Syncing(serial)
}

// SweepAll resets abandoned walks and starts a fresh walk on every connected
// device that does not have one open.
func (s *Service) SweepAll() {
	s.resetStale()
	for _, serial := range s.registry.Serials() {
		if !s.registry.Syncing(serial) {
			s.Start(serial)
		}
	}
}

func (s *Service) finish(serial string) {
	s.registry.EndSync(serial)

	s.mu.Lock()
	started, ok := s.startedAt[serial]
	delete(s.startedAt, serial)
	s.mu.Unlock()

	count, err := s.store.CountUsers(serial)
	if err != nil {
		count = -1
	}
	entry := s.logger.WithFields(logrus.Fields{"serial": serial, "users": count})
	if ok {
		entry = entry.WithField("duration", time.Since(started).Round(time.Millisecond).String())
	}
	entry.Info("User sync completed")
}

func (s *Service) resetStale() {
	s.mu.Lock()
	var stale []string
	for serial, started := range s.startedAt {
		if time.Since(started) > s.maxAge {
			stale = append(stale, serial)
			delete(s.startedAt, serial)
		}
	}
	s.mu.Unlock()

	for _, serial := range stale {
		s.registry.EndSync(serial)
		s.logger.WithField("serial", serial).Warn("Resetting stalled user sync")
	}
}
