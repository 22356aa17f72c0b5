package device

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/store"
)

// Service owns terminal identity: registration, login and session state.
type Service struct {
	store  *store.Store
	logger *logrus.Entry
}

// NewService creates a device identity service
func NewService(st *store.Store, logger *logrus.Entry) *Service {
	return &Service{store: st, logger: logger}
}

// Register handles a terminal's Register request. Every registration issues a
// fresh token, including re-registrations of a known serial; upstream binding
// fields survive the rotation.
func (s *Service) Register(serial, terminalType, cloudID string) (string, error) {
	token := uuid.NewString()
	if err := s.store.SaveRegistration(serial, terminalType, cloudID, token); err != nil {
		return "", fmt.Errorf("failed to register device: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"serial":        serial,
		"terminal_type": terminalType,
	}).Info("Device registered")
	return token, nil
}

// Login validates a terminal's token and opens its session. A failed login
// leaves any existing session state untouched.
func (s *Service) Login(serial, token string) (bool, error) {
	d, err := s.store.GetDevice(serial)
	if err != nil {
		return false, fmt.Errorf("failed to load device: %w", err)
	}
	if d == nil || !d.Registered || d.Token == "" || d.Token != token {
		s.logger.WithField("serial", serial).Warn("Login rejected")
		return false, nil
	}

	if err := s.store.SetLoggedIn(serial, true); err != nil {
		return false, err
	}
	if err := s.store.UpdateConnection(serial); err != nil {
		return false, err
	}
	if err := s.store.SetOnline(serial, true); err != nil {
		return false, err
	}

	s.logger.WithField("serial", serial).Info("Device logged in")
	return true, nil
}

// Touch records inbound traffic from a device
func (s *Service) Touch(serial string) {
	if err := s.store.UpdateActivity(serial); err != nil {
		s.logger.WithError(err).WithField("serial", serial).Warn("Failed to record device activity")
	}
}

// Disconnect closes the session for a device whose connection dropped
func (s *Service) Disconnect(serial string) {
	if err := s.store.SetLoggedIn(serial, false); err != nil {
		s.logger.WithError(err).WithField("serial", serial).Warn("Failed to clear login state")
	}
	if err := s.store.SetOnline(serial, false); err != nil {
		s.logger.WithError(err).WithField("serial", serial).Warn("Failed to mark device offline")
	}
	s.logger.WithField("serial", serial).Info("Device disconnected")
}
