package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"terminal-gateway/internal/command"
	"terminal-gateway/internal/protocol"
)

const defaultLogLimit = 100

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.store.ListDevices()
	if err != nil {
		a.logger.WithError(err).Error("Failed to list devices")
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (a *API) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	device, err := a.store.GetDevice(serial)
	if err != nil {
		a.logger.WithError(err).Error("Failed to load device")
		writeError(w, http.StatusInternalServerError, "failed to load device")
		return
	}
	if device == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (a *API) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	st, err := a.store.GetDeviceStatus(serial)
	if err != nil {
		a.logger.WithError(err).Error("Failed to load device status")
		writeError(w, http.StatusInternalServerError, "failed to load device status")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "no status recorded for device")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	if !a.status.Query(serial) {
		writeError(w, http.StatusConflict, "device is not connected or a status query is already in flight")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

func (a *API) handleRefreshStatusParam(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !a.status.QueryParam(vars["serial"], vars["param"]) {
		writeError(w, http.StatusConflict, "device is not connected")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

type cloudBindingRequest struct {
	CloudID     string `json:"cloudId"`
	CompanyCode string `json:"companyCode"`
	BranchCode  string `json:"branchCode"`
}

func (a *API) handleSetCloudBinding(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	var req cloudBindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := a.store.GetDevice(serial)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load device")
		return
	}
	if device == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	if err := a.store.SetCloudBinding(serial, req.CloudID, req.CompanyCode, req.BranchCode); err != nil {
		a.logger.WithError(err).Error("Failed to update cloud binding")
		writeError(w, http.StatusInternalServerError, "failed to update cloud binding")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	users, err := a.store.ListUsers(serial)
	if err != nil {
		a.logger.WithError(err).Error("Failed to list users")
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user, err := a.store.GetUser(vars["serial"], vars["userId"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleStartSync(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	if a.sync.Syncing(serial) {
		writeError(w, http.StatusConflict, "a directory sync is already running for this device")
		return
	}
	if !a.sync.Start(serial) {
		writeError(w, http.StatusConflict, "device is not connected")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}

func (a *API) handleRefreshUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !a.sync.RefreshUser(vars["serial"], vars["userId"]) {
		writeError(w, http.StatusConflict, "device is not connected")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

type setUserRequest struct {
	Name               string `json:"name"`
	Privilege          string `json:"privilege"`
	Department         int    `json:"department"`
	Enabled            *bool  `json:"enabled"`
	TimeSet1           *int   `json:"timeSet1"`
	TimeSet2           *int   `json:"timeSet2"`
	TimeSet3           *int   `json:"timeSet3"`
	TimeSet4           *int   `json:"timeSet4"`
	TimeSet5           *int   `json:"timeSet5"`
	UserPeriodUsed     *bool  `json:"userPeriodUsed"`
	UserPeriodStart    *int   `json:"userPeriodStart"`
	UserPeriodEnd      *int   `json:"userPeriodEnd"`
	Card               string `json:"card"`
	Password           string `json:"password"`
	FaceData           string `json:"faceData"`
	AllowNoCertificate *bool  `json:"allowNoCertificate"`
}

func (a *API) handleSetUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req setUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload := protocol.UserPayload{
		Name:               req.Name,
		Privilege:          req.Privilege,
		Department:         req.Department,
		Enabled:            req.Enabled,
		TimeSet1:           req.TimeSet1,
		TimeSet2:           req.TimeSet2,
		TimeSet3:           req.TimeSet3,
		TimeSet4:           req.TimeSet4,
		TimeSet5:           req.TimeSet5,
		UserPeriodUsed:     req.UserPeriodUsed,
		UserPeriodStart:    req.UserPeriodStart,
		UserPeriodEnd:      req.UserPeriodEnd,
		Card:               req.Card,
		Password:           req.Password,
		FaceData:           req.FaceData,
		AllowNoCertificate: req.AllowNoCertificate,
	}
	id, err := a.commands.SetUser(vars["serial"], vars["userId"], payload)
	a.writeEnqueued(w, id, err)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := a.commands.DeleteUser(vars["serial"], vars["userId"])
	a.writeEnqueued(w, id, err)
}

func (a *API) handleGetFinger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fingerNo, err := strconv.Atoi(vars["fingerNo"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "finger number must be an integer")
		return
	}
	writeFetch(w, a.fetch.FingerData(vars["serial"], vars["userId"], fingerNo))
}

type setFingerRequest struct {
	Duress     string `json:"duress"`
	FingerData string `json:"fingerData"`
}

func (a *API) handleSetFinger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fingerNo, err := strconv.Atoi(vars["fingerNo"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "finger number must be an integer")
		return
	}

	var req setFingerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FingerData == "" {
		writeError(w, http.StatusBadRequest, "fingerData is required")
		return
	}
	id, err := a.commands.SetFingerData(vars["serial"], vars["userId"], fingerNo, req.Duress, req.FingerData)
	a.writeEnqueued(w, id, err)
}

func (a *API) handleGetFace(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	writeFetch(w, a.fetch.FaceData(vars["serial"], vars["userId"]))
}

func (a *API) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	writeFetch(w, a.fetch.UserPhoto(vars["serial"], vars["userId"]))
}

func (a *API) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	departments, err := a.store.ListDepartments(serial)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list departments")
		return
	}
	writeJSON(w, http.StatusOK, departments)
}

func (a *API) handleGetDepartment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deptNo, err := strconv.Atoi(vars["deptNo"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "department number must be an integer")
		return
	}
	writeFetch(w, a.fetch.Department(vars["serial"], deptNo))
}

type setDepartmentRequest struct {
	Name string `json:"name"`
}

func (a *API) handleSetDepartment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deptNo, err := strconv.Atoi(vars["deptNo"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "department number must be an integer")
		return
	}

	var req setDepartmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	id, err := a.commands.SetDepartment(vars["serial"], deptNo, req.Name)
	a.writeEnqueued(w, id, err)
}

func (a *API) handleRefreshDepartments(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	writeFetch(w, a.fetch.RequestAllDepartments(serial))
}

func (a *API) handleGetWifi(w http.ResponseWriter, r *http.Request) {
	writeFetch(w, a.fetch.WifiSetting(mux.Vars(r)["serial"]))
}

type wifiRequest struct {
	Use            string `json:"use"`
	SSID           string `json:"ssid"`
	Key            string `json:"key"`
	DHCP           string `json:"dhcp"`
	IP             string `json:"ip"`
	Subnet         string `json:"subnet"`
	DefaultGateway string `json:"defaultGateway"`
	Port           *int   `json:"port"`
}

func (a *API) handleSetWifi(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	var req wifiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings := protocol.WiFiSettings{
		Use:            req.Use,
		SSID:           req.SSID,
		Key:            req.Key,
		DHCP:           req.DHCP,
		IP:             req.IP,
		Subnet:         req.Subnet,
		DefaultGateway: req.DefaultGateway,
		Port:           req.Port,
	}
	id, err := a.commands.SetWiFiSetting(serial, settings)
	a.writeEnqueued(w, id, err)
}

func (a *API) handleGetEthernet(w http.ResponseWriter, r *http.Request) {
	writeFetch(w, a.fetch.EthernetSetting(mux.Vars(r)["serial"]))
}

type ethernetRequest struct {
	DHCP           string `json:"dhcp"`
	IP             string `json:"ip"`
	Subnet         string `json:"subnet"`
	DefaultGateway string `json:"defaultGateway"`
	Port           *int   `json:"port"`
}

func (a *API) handleSetEthernet(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	var req ethernetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings := protocol.EthernetSettings{
		DHCP:           req.DHCP,
		IP:             req.IP,
		Subnet:         req.Subnet,
		DefaultGateway: req.DefaultGateway,
		Port:           req.Port,
	}
	id, err := a.commands.SetEthernetSetting(serial, settings)
	a.writeEnqueued(w, id, err)
}

func (a *API) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	writeFetch(w, a.fetch.AdditionalInfo(vars["serial"], vars["param"]))
}

func (a *API) handleRefreshInfo(w http.ResponseWriter, r *http.Request) {
	writeFetch(w, a.fetch.RequestAllAdditionalInfo(mux.Vars(r)["serial"]))
}

func (a *API) handleGetLogStatus(w http.ResponseWriter, r *http.Request) {
	writeFetch(w, a.fetch.LogStatus(mux.Vars(r)["serial"]))
}

func (a *API) handleListTimeLogs(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	logs, err := a.store.ListTimeLogs(serial, since, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list time logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *API) handleListAdminLogs(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	logs, err := a.store.ListAdminLogs(serial, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list admin logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *API) handleListCommands(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	commands, err := a.store.ListCommands(serial, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, commands)
}

func (a *API) handleSetTime(w http.ResponseWriter, r *http.Request) {
	id, err := a.commands.SetTime(mux.Vars(r)["serial"])
	a.writeEnqueued(w, id, err)
}

func (a *API) handleGetTime(w http.ResponseWriter, r *http.Request) {
	id, err := a.commands.GetTime(mux.Vars(r)["serial"])
	a.writeEnqueued(w, id, err)
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	id, err := a.commands.ClearLogData(mux.Vars(r)["serial"])
	a.writeEnqueued(w, id, err)
}

// writeEnqueued maps an enqueue outcome to an HTTP response. The command is
// durable from here on; delivery happens on the next dispatch sweep.
func (a *API) writeEnqueued(w http.ResponseWriter, id int64, err error) {
	switch {
	case errors.Is(err, command.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, command.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		a.logger.WithError(err).Error("Failed to queue command")
		writeError(w, http.StatusInternalServerError, "failed to queue command")
	default:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":    "queued",
			"commandId": id,
		})
	}
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultLogLimit
}
