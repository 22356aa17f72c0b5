package command

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/store"
)

// ErrDuplicate is returned when a command for the same device, type, user and
// sub key is already queued or in flight. Replies carry no correlation id, so
// a second in-flight command of the same tuple could not be told apart.
var ErrDuplicate = errors.New("a matching command is already queued for this device")

// ErrInvalid wraps enqueue-time validation failures
var ErrInvalid = errors.New("invalid command")

// Service owns the durable command queue: enqueue with single-flight
// admission, dispatch to connected devices, and resolution against replies.
type Service struct {
	registry *registry.Registry
	store    *store.Store
	logger   *logrus.Entry
	expiry   time.Duration
}

// NewService creates a command queue service
func NewService(reg *registry.Registry, st *store.Store, expiry time.Duration, logger *logrus.Entry) *Service {
	return &Service{registry: reg, store: st, logger: logger, expiry: expiry}
}

// enqueue admits one command after the single-flight check
func (s *Service) enqueue(serial, commandType, payload, userID, subKey string) (int64, error) {
	active, err := s.store.HasActiveCommand(serial, commandType, userID, subKey)
	if err != nil {
		return 0, err
	}
	if active {
		return 0, ErrDuplicate
	}

	id, err := s.store.EnqueueCommand(&store.Command{
		DeviceSerialNum: serial,
		CommandType:     commandType,
		CommandXML:      payload,
		UserID:          userID,
		SubKey:          subKey,
	})
	if err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"serial":  serial,
		"type":    commandType,
		"command": id,
	}).Info("Command queued")
	return id, nil
}

// SetTime queues a clock write carrying the gateway's current time
func (s *Service) SetTime(serial string) (int64, error) {
	payload := protocol.BuildSetTime(protocol.FormatDeviceTime(time.Now()))
	return s.enqueue(serial, "SetTime", payload, "", "")
}

// GetTime queues a clock read
func (s *Service) GetTime(serial string) (int64, error) {
	return s.enqueue(serial, "GetTime", protocol.BuildGetTime(), "", "")
}

// ClearLogData queues a log wipe
func (s *Service) ClearLogData(serial string) (int64, error) {
	return s.enqueue(serial, "ClearLogData", protocol.BuildClearLogData(), "", "")
}

// SetDepartment queues a department rename. The slot number doubles as the
// sub key so the reply resolves against the right slot.
func (s *Service) SetDepartment(serial string, deptNo int, name string) (int64, error) {
	if deptNo < 0 || deptNo > 29 {
		return 0, fmt.Errorf("%w: department number must be between 0 and 29", ErrInvalid)
	}
	payload := protocol.BuildSetDepartment(deptNo, name)
	return s.enqueue(serial, "SetDepartment", payload, "", strconv.Itoa(deptNo))
}

// SetWiFiSetting queues a WiFi configuration write
func (s *Service) SetWiFiSetting(serial string, settings protocol.WiFiSettings) (int64, error) {
	return s.enqueue(serial, "SetWiFiSetting", protocol.BuildSetWiFiSetting(settings), "", "")
}

// SetEthernetSetting queues a wired network configuration write
func (s *Service) SetEthernetSetting(serial string, settings protocol.EthernetSettings) (int64, error) {
	return s.enqueue(serial, "SetEthernetSetting", protocol.BuildSetEthernetSetting(settings), "", "")
}

// SetUser queues a directory entry write. Sub key "Set" separates it from a
// delete of the same user in the queue.
func (s *Service) SetUser(serial, userID string, payload protocol.UserPayload) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	return s.enqueue(serial, "SetUserData", protocol.BuildSetUserData(userID, payload), userID, "Set")
}

// DeleteUser queues a directory entry removal. Completion also drops the
// mirrored entry and its biometric cache.
func (s *Service) DeleteUser(serial, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	return s.enqueue(serial, "SetUserData", protocol.BuildDeleteUser(userID), userID, "Delete")
}

// SetFingerData queues a fingerprint template write
func (s *Service) SetFingerData(serial, userID string, fingerNo int, duress, data string) (int64, error) {
	if fingerNo < 0 || fingerNo > 9 {
		return 0, fmt.Errorf("%w: finger number must be between 0 and 9", ErrInvalid)
	}
	payload := protocol.BuildSetFingerData(userID, fingerNo, duress, data)
	return s.enqueue(serial, "SetFingerData", payload, userID, strconv.Itoa(fingerNo))
}

// DispatchPending sends every PENDING command whose device is connected.
// Commands for offline devices stay queued for a later sweep; a failed write
// also leaves the command PENDING.
func (s *Service) DispatchPending() {
	pending, err := s.store.PendingCommands()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load pending commands")
		return
	}

	for _, cmd := range pending {
		if !s.registry.Connected(cmd.DeviceSerialNum) {
			continue
		}
		if !s.registry.Send(cmd.DeviceSerialNum, cmd.CommandXML) {
			continue
		}
		sent, err := s.store.MarkSent(cmd.ID)
		if err != nil {
			s.logger.WithError(err).WithField("command", cmd.ID).Error("Failed to mark command sent")
			continue
		}
		if sent {
			s.logger.WithFields(logrus.Fields{
				"serial":  cmd.DeviceSerialNum,
				"type":    cmd.CommandType,
				"command": cmd.ID,
			}).Info("Command sent to device")
		}
	}
}

// Resolve matches a device reply to the most recently sent command of the
// given type (narrowed by user id and sub key when non-empty) and moves it to
// a terminal state. It returns the resolved command, or nil when no SENT
// command matched or a duplicate reply arrived after resolution.
func (s *Service) Resolve(serial, commandType, userID, subKey string, success bool, responseXML string) *store.Command {
	cmd, err := s.store.LatestSentCommand(serial, commandType, userID, subKey)
	if err != nil {
		s.logger.WithError(err).WithField("serial", serial).Error("Failed to look up sent command")
		return nil
	}
	if cmd == nil {
		s.logger.WithFields(logrus.Fields{
			"serial": serial,
			"type":   commandType,
		}).Debug("Reply without a matching sent command, dropping")
		return nil
	}

	state := store.CommandCompleted
	if !success {
		state = store.CommandFailed
	}
	resolved, err := s.store.ResolveCommand(cmd.ID, state, responseXML)
	if err != nil {
		s.logger.WithError(err).WithField("command", cmd.ID).Error("Failed to resolve command")
		return nil
	}
	if !resolved {
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"serial":  serial,
		"type":    commandType,
		"command": cmd.ID,
		"status":  state,
	}).Info("Command resolved")
	cmd.Status = state
	return cmd
}

// ExpireStale fails SENT commands whose reply never came
func (s *Service) ExpireStale() {
	expired, err := s.store.ExpireStaleSent(time.Now().Add(-s.expiry))
	if err != nil {
		s.logger.WithError(err).Error("Failed to expire stale commands")
		return
	}
	if expired > 0 {
		s.logger.WithField("count", expired).Warn("Expired commands with no reply")
	}
}
