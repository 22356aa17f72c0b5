package fetch

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/store"
)

// Fetch outcome states
const (
	StatusCached     = "cached"
	StatusRefreshing = "refreshing"
	StatusPending    = "pending"
	StatusError      = "error"
)

// ValidParams are the named device parameters the terminals expose through
// GetDeviceInfoExt.
var ValidParams = []string{
	"MobileNetwork", "NTPServer", "VPNServer", "WebServerUrl",
	"SendLogUrl", "DeviceName", "GPS",
}

// Result is the outcome of one resource fetch: the cache state, a caller
// message, and whatever cached data is available right now. Fresh data, when
// requested, lands in the cache asynchronously as the device replies.
type Result struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Service answers resource reads from the cache while refreshing from the
// device when it is connected.
type Service struct {
	registry *registry.Registry
	store    *store.Store
	logger   *logrus.Entry
}

// NewService creates a fetch service
func NewService(reg *registry.Registry, st *store.Store, logger *logrus.Entry) *Service {
	return &Service{registry: reg, store: st, logger: logger}
}

// resolve applies the cache/refresh decision table shared by every resource
func (s *Service) resolve(serial, request string, data interface{}, hasCache bool) *Result {
	if !s.registry.Connected(serial) {
		if hasCache {
			return &Result{Status: StatusCached, Message: "Device not connected, showing cached data", Data: data}
		}
		return &Result{Status: StatusError, Message: "Device is not connected and no cached data available"}
	}

	if !s.registry.Send(serial, request) {
		return &Result{Status: StatusError, Message: "Failed to send request to device"}
	}

	if hasCache {
		return &Result{Status: StatusRefreshing, Message: "Request sent to device, showing cached data", Data: data}
	}
	return &Result{Status: StatusPending, Message: "Request sent to device, no cached data available"}
}

// WifiSetting fetches the WiFi configuration for a device
func (s *Service) WifiSetting(serial string) *Result {
	cached, err := s.store.GetWifiSetting(serial)
	if err != nil {
		return s.storeError(serial, err)
	}
	return s.resolve(serial, protocol.BuildGetWiFiSetting(), cached, cached != nil)
}

// EthernetSetting fetches the wired network configuration for a device
func (s *Service) EthernetSetting(serial string) *Result {
	cached, err := s.store.GetEthernetSetting(serial)
	if err != nil {
		return s.storeError(serial, err)
	}
	return s.resolve(serial, protocol.BuildGetEthernetSetting(), cached, cached != nil)
}

// Department fetches one department slot. Replies carry no department number,
// so the request is recorded in the pending queue before it goes out.
func (s *Service) Department(serial string, deptNo int) *Result {
	if deptNo < 0 || deptNo > 29 {
		return &Result{Status: StatusError, Message: "Department number must be between 0 and 29"}
	}

	cached, err := s.store.GetDepartment(serial, deptNo)
	if err != nil {
		return s.storeError(serial, err)
	}

	if s.registry.Connected(serial) {
		s.registry.PushPendingDepartment(serial, deptNo)
		if !s.registry.Send(serial, protocol.BuildGetDepartment(deptNo)) {
			s.registry.PopPendingDepartment(serial)
			return &Result{Status: StatusError, Message: "Failed to send request to device"}
		}
		if cached != nil {
			return &Result{Status: StatusRefreshing, Message: "Request sent to device, showing cached data", Data: cached}
		}
		return &Result{Status: StatusPending, Message: "Request sent to device, no cached data available"}
	}

	if cached != nil {
		return &Result{Status: StatusCached, Message: "Device not connected, showing cached data", Data: cached}
	}
	return &Result{Status: StatusError, Message: "Device is not connected and no cached data available"}
}

// RequestAllDepartments refreshes every department slot of a connected
// device. Requests are queued in slot order; replies consume the queue.
func (s *Service) RequestAllDepartments(serial string) *Result {
	if !s.registry.Connected(serial) {
		return &Result{Status: StatusError, Message: "Device is not connected and no cached data available"}
	}

	for deptNo := 0; deptNo <= 29; deptNo++ {
		s.registry.PushPendingDepartment(serial, deptNo)
		if !s.registry.Send(serial, protocol.BuildGetDepartment(deptNo)) {
			s.registry.PopPendingDepartment(serial)
			return &Result{Status: StatusError, Message: "Failed to send request to device"}
		}
	}
	return &Result{Status: StatusPending, Message: "Request sent to device, no cached data available"}
}

// AdditionalInfo fetches one named device parameter
func (s *Service) AdditionalInfo(serial, paramName string) *Result {
	if !validParam(paramName) {
		return &Result{
			Status: StatusError,
			Message: fmt.Sprintf("Invalid parameter name. Available parameters: %s",
				strings.Join(ValidParams, ", ")),
		}
	}

	cached, err := s.store.GetAdditionalInfo(serial, paramName)
	if err != nil {
		return s.storeError(serial, err)
	}
	return s.resolve(serial, protocol.BuildGetDeviceInfoExt(paramName), cached, cached != nil)
}

// RequestAllAdditionalInfo refreshes every named parameter of a connected
// device. Parameter replies carry their own ParamName, so no queueing is
// needed here.
func (s *Service) RequestAllAdditionalInfo(serial string) *Result {
	if !s.registry.Connected(serial) {
		return &Result{Status: StatusError, Message: "Device is not connected and no cached data available"}
	}

	for _, param := range ValidParams {
		if !s.registry.Send(serial, protocol.BuildGetDeviceInfoExt(param)) {
			return &Result{Status: StatusError, Message: "Failed to send request to device"}
		}
	}
	return &Result{Status: StatusPending, Message: "Request sent to device, no cached data available"}
}

// FingerData fetches one fingerprint template
func (s *Service) FingerData(serial, userID string, fingerNo int) *Result {
	if fingerNo < 0 || fingerNo > 9 {
		return &Result{Status: StatusError, Message: "Finger number must be between 0 and 9"}
	}

	cached, err := s.store.GetFingerData(serial, userID, fingerNo)
	if err != nil {
		return s.storeError(serial, err)
	}
	return s.resolve(serial, protocol.BuildGetFingerData(userID, fingerNo, true), cached, cached != nil)
}

// FaceData fetches one face template
func (s *Service) FaceData(serial, userID string) *Result {
	cached, err := s.store.GetFaceData(serial, userID)
	if err != nil {
		return s.storeError(serial, err)
	}
	return s.resolve(serial, protocol.BuildGetFaceData(userID), cached, cached != nil)
}

// UserPhoto fetches one user photo
func (s *Service) UserPhoto(serial, userID string) *Result {
	cached, err := s.store.GetUserPhoto(serial, userID)
	if err != nil {
		return s.storeError(serial, err)
	}
	return s.resolve(serial, protocol.BuildGetUserPhoto(userID), cached, cached != nil)
}

// LogStatus fetches the log-storage occupancy for a device
func (s *Service) LogStatus(serial string) *Result {
	cached, err := s.store.GetLogStatus(serial)
	if err != nil {
		return s.storeError(serial, err)
	}
	return s.resolve(serial, protocol.BuildGetGlogPosInfo(), cached, cached != nil)
}

func (s *Service) storeError(serial string, err error) *Result {
	s.logger.WithError(err).WithField("serial", serial).Error("Failed to read resource cache")
	return &Result{Status: StatusError, Message: "Failed to read cached data"}
}

func validParam(name string) bool {
	for _, p := range ValidParams {
		if p == name {
			return true
		}
	}
	return false
}
