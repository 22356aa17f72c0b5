package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/command"
	"terminal-gateway/internal/fetch"
	"terminal-gateway/internal/status"
	"terminal-gateway/internal/store"
	"terminal-gateway/internal/usersync"
)

const tokenLifetime = 24 * time.Hour

// Config carries the API credentials and signing secret
type Config struct {
	JWTSecret     string
	AdminUser     string
	AdminPassword string
}

// API is the management surface: read the mirrored caches, queue device
// writes, and trigger refreshes. It never blocks on a device.
type API struct {
	config   Config
	store    *store.Store
	fetch    *fetch.Service
	commands *command.Service
	sync     *usersync.Service
	status   *status.Service
	logger   *logrus.Entry
}

// New creates the management API
func New(cfg Config, st *store.Store, fetchSvc *fetch.Service, commands *command.Service,
	syncSvc *usersync.Service, statusSvc *status.Service, logger *logrus.Entry) *API {
	return &API{
		config:   cfg,
		store:    st,
		fetch:    fetchSvc,
		commands: commands,
		sync:     syncSvc,
		status:   statusSvc,
		logger:   logger,
	}
}

// Router builds the HTTP route table
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/auth/token", a.handleToken).Methods("POST")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.authMiddleware)

	v1.HandleFunc("/devices", a.handleListDevices).Methods("GET")
	v1.HandleFunc("/devices/{serial}", a.handleGetDevice).Methods("GET")
	v1.HandleFunc("/devices/{serial}/status", a.handleGetStatus).Methods("GET")
	v1.HandleFunc("/devices/{serial}/status/refresh", a.handleRefreshStatus).Methods("POST")
	v1.HandleFunc("/devices/{serial}/status/refresh/{param}", a.handleRefreshStatusParam).Methods("POST")
	v1.HandleFunc("/devices/{serial}/cloud-binding", a.handleSetCloudBinding).Methods("PUT")

	v1.HandleFunc("/devices/{serial}/users", a.handleListUsers).Methods("GET")
	v1.HandleFunc("/devices/{serial}/users/sync", a.handleStartSync).Methods("POST")
	v1.HandleFunc("/devices/{serial}/users/{userId}", a.handleGetUser).Methods("GET")
	v1.HandleFunc("/devices/{serial}/users/{userId}", a.handleSetUser).Methods("PUT")
	v1.HandleFunc("/devices/{serial}/users/{userId}", a.handleDeleteUser).Methods("DELETE")
	v1.HandleFunc("/devices/{serial}/users/{userId}/refresh", a.handleRefreshUser).Methods("POST")
	v1.HandleFunc("/devices/{serial}/users/{userId}/finger/{fingerNo}", a.handleGetFinger).Methods("GET")
	v1.HandleFunc("/devices/{serial}/users/{userId}/finger/{fingerNo}", a.handleSetFinger).Methods("PUT")
	v1.HandleFunc("/devices/{serial}/users/{userId}/face", a.handleGetFace).Methods("GET")
	v1.HandleFunc("/devices/{serial}/users/{userId}/photo", a.handleGetPhoto).Methods("GET")

	v1.HandleFunc("/devices/{serial}/departments", a.handleListDepartments).Methods("GET")
	v1.HandleFunc("/devices/{serial}/departments/refresh", a.handleRefreshDepartments).Methods("POST")
	v1.HandleFunc("/devices/{serial}/departments/{deptNo}", a.handleGetDepartment).Methods("GET")
	v1.HandleFunc("/devices/{serial}/departments/{deptNo}", a.handleSetDepartment).Methods("PUT")

	v1.HandleFunc("/devices/{serial}/wifi", a.handleGetWifi).Methods("GET")
	v1.HandleFunc("/devices/{serial}/wifi", a.handleSetWifi).Methods("PUT")
	v1.HandleFunc("/devices/{serial}/ethernet", a.handleGetEthernet).Methods("GET")
	v1.HandleFunc("/devices/{serial}/ethernet", a.handleSetEthernet).Methods("PUT")

	v1.HandleFunc("/devices/{serial}/info/refresh", a.handleRefreshInfo).Methods("POST")
	v1.HandleFunc("/devices/{serial}/info/{param}", a.handleGetInfo).Methods("GET")
	v1.HandleFunc("/devices/{serial}/logstatus", a.handleGetLogStatus).Methods("GET")

	v1.HandleFunc("/devices/{serial}/timelogs", a.handleListTimeLogs).Methods("GET")
	v1.HandleFunc("/devices/{serial}/adminlogs", a.handleListAdminLogs).Methods("GET")
	v1.HandleFunc("/devices/{serial}/commands", a.handleListCommands).Methods("GET")

	v1.HandleFunc("/devices/{serial}/time", a.handleGetTime).Methods("POST")
	v1.HandleFunc("/devices/{serial}/time/sync", a.handleSetTime).Methods("POST")
	v1.HandleFunc("/devices/{serial}/logs/clear", a.handleClearLogs).Methods("POST")

	return r
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username != a.config.AdminUser || req.Password != a.config.AdminPassword {
		a.logger.WithField("username", req.Username).Warn("Rejected token request")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   req.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.JWTSecret))
	if err != nil {
		a.logger.WithError(err).Error("Failed to sign token")
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": now.Add(tokenLifetime),
	})
}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(a.config.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeFetch maps a fetch outcome to an HTTP response. Errors keep using 200
// only when cached data softens them; a hard error is a 4xx/5xx.
func writeFetch(w http.ResponseWriter, res *fetch.Result) {
	code := http.StatusOK
	if res.Status == fetch.StatusError {
		code = http.StatusServiceUnavailable
		if strings.Contains(res.Message, "must be") || strings.Contains(res.Message, "Invalid parameter") {
			code = http.StatusBadRequest
		}
	}
	writeJSON(w, code, res)
}
