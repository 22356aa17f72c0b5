package status

import (
	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/store"
)

// Service drives the periodic status poll. Each poll pairs GetDeviceStatusAll
// with GetFirmwareVersion; the replies carry disjoint fields and are merged
// into one status row.
type Service struct {
	registry *registry.Registry
	store    *store.Store
	logger   *logrus.Entry
}

// NewService creates a status poll service
func NewService(reg *registry.Registry, st *store.Store, logger *logrus.Entry) *Service {
	return &Service{registry: reg, store: st, logger: logger}
}

// Query starts one status poll for a device. It returns false when the device
// is offline, a poll is already in flight, or the sends fail.
func (s *Service) Query(serial string) bool {
	if !s.registry.Connected(serial) {
		return false
	}
	if !s.registry.BeginStatusQuery(serial) {
		s.logger.WithField("serial", serial).Debug("Status query already in flight")
		return false
	}

	if !s.registry.Send(serial, protocol.BuildGetDeviceStatusAll()) ||
		!s.registry.Send(serial, protocol.BuildGetFirmwareVersion()) {
		s.registry.EndStatusQuery(serial)
		return false
	}
	return true
}

// QueryParam asks a connected device for one named counter. Single-param
// queries bypass the poll guard; the reply merges one field and nothing waits
// on it.
func (s *Service) QueryParam(serial, paramName string) bool {
	if !s.registry.Connected(serial) {
		return false
	}
	return s.registry.Send(serial, protocol.BuildGetDeviceStatus(paramName))
}

// SweepAll polls every connected device
func (s *Service) SweepAll() {
	for _, serial := range s.registry.Serials() {
		s.Query(serial)
	}
}

// RecordStatus merges a GetDeviceStatusAll reply and closes the poll
func (s *Service) RecordStatus(r *store.StatusReport) {
	if err := s.store.SaveStatusReport(r); err != nil {
		s.logger.WithError(err).WithField("serial", r.DeviceSerialNo).Error("Failed to save status report")
	}
	s.registry.EndStatusQuery(r.DeviceSerialNo)
}

// RecordStatusParam merges a single-counter GetDeviceStatus reply
func (s *Service) RecordStatusParam(serial, paramName string, value int) {
	if err := s.store.SaveStatusParam(serial, paramName, value); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"serial": serial,
			"param":  paramName,
		}).Error("Failed to save status parameter")
	}
}

// RecordFirmware merges a GetFirmwareVersion reply
func (s *Service) RecordFirmware(serial, version, build string) {
	if err := s.store.SaveFirmwareReport(serial, version, build); err != nil {
		s.logger.WithError(err).WithField("serial", serial).Error("Failed to save firmware report")
	}
}
