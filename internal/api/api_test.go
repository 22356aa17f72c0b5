package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-gateway/internal/command"
	"terminal-gateway/internal/fetch"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/status"
	"terminal-gateway/internal/store"
	"terminal-gateway/internal/usersync"
)

type fakeConn struct {
	sent []string
}

func (c *fakeConn) WriteText(payload string) error {
	c.sent = append(c.sent, payload)
	return nil
}

type apiFixture struct {
	api      *API
	store    *store.Store
	registry *registry.Registry
	server   *httptest.Server
	token    string
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	entry := logrus.NewEntry(logger)

	st, err := store.New(store.Config{
		DatabasePath:  filepath.Join(t.TempDir(), "test.db"),
		EncryptionKey: bytes.Repeat([]byte{7}, 32),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New(entry)
	fetchSvc := fetch.NewService(reg, st, entry)
	commands := command.NewService(reg, st, time.Minute, entry)
	syncSvc := usersync.NewService(reg, st, time.Minute, entry)
	statusSvc := status.NewService(reg, st, entry)

	a := New(Config{
		JWTSecret:     "test-secret",
		AdminUser:     "admin",
		AdminPassword: "changeme",
	}, st, fetchSvc, commands, syncSvc, statusSvc, entry)

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	f := &apiFixture{api: a, store: st, registry: reg, server: srv}
	f.token = f.issueToken(t, "admin", "changeme", http.StatusOK)
	return f
}

func (f *apiFixture) issueToken(t *testing.T, user, pass string, wantCode int) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": user, "password": pass})
	resp, err := http.Post(f.server.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantCode, resp.StatusCode)

	if wantCode != http.StatusOK {
		return ""
	}
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func registerDevice(t *testing.T, st *store.Store, serial string) {
	t.Helper()
	require.NoError(t, st.SaveRegistration(serial, "F22", "", "token-"+serial))
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	f.issueToken(t, "admin", "wrong", http.StatusUnauthorized)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/api/v1/devices")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestsWithForgedTokenAreRejected(t *testing.T) {
	f := newFixture(t)
	f.token = "not-a-jwt"

	resp := f.do(t, "GET", "/api/v1/devices", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListAndGetDevices(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")
	registerDevice(t, f.store, "DEV-2")

	resp := f.do(t, "GET", "/api/v1/devices", nil)
	var devices []map[string]interface{}
	decodeBody(t, resp, &devices)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, devices, 2)

	resp = f.do(t, "GET", "/api/v1/devices/DEV-1", nil)
	var device map[string]interface{}
	decodeBody(t, resp, &device)
	assert.Equal(t, "DEV-1", device["serialNumber"])

	resp = f.do(t, "GET", "/api/v1/devices/NOPE", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchFallsBackToCacheWhenOffline(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")
	require.NoError(t, f.store.UpsertDepartment("DEV-1", 3, "Engineering"))

	resp := f.do(t, "GET", "/api/v1/devices/DEV-1/departments/3", nil)
	var result fetch.Result
	decodeBody(t, resp, &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fetch.StatusCached, result.Status)
	assert.Equal(t, "Device not connected, showing cached data", result.Message)
}

func TestFetchWithoutCacheOffline(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")

	resp := f.do(t, "GET", "/api/v1/devices/DEV-1/wifi", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFetchValidationIsABadRequest(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "GET", "/api/v1/devices/DEV-1/departments/77", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "GET", "/api/v1/devices/DEV-1/info/NotAParam", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFetchSendsWhenConnected(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")
	conn := &fakeConn{}
	f.registry.Bind(conn, "DEV-1")

	resp := f.do(t, "GET", "/api/v1/devices/DEV-1/wifi", nil)
	var result fetch.Result
	decodeBody(t, resp, &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fetch.StatusPending, result.Status)
	require.Len(t, conn.sent, 1)
	assert.Contains(t, conn.sent[0], "<Request>GetWiFiSetting</Request>")
}

func TestCommandQueueLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")

	resp := f.do(t, "POST", "/api/v1/devices/DEV-1/time/sync", nil)
	var queued map[string]interface{}
	decodeBody(t, resp, &queued)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", queued["status"])
	assert.NotZero(t, queued["commandId"])

	// Same tuple again: single-flight admission refuses it.
	resp = f.do(t, "POST", "/api/v1/devices/DEV-1/time/sync", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, "GET", "/api/v1/devices/DEV-1/commands", nil)
	var commands []map[string]interface{}
	decodeBody(t, resp, &commands)
	require.Len(t, commands, 1)
	assert.Equal(t, "SetTime", commands[0]["commandType"])
	assert.Equal(t, "PENDING", commands[0]["status"])
}

func TestSetUserValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "PUT", "/api/v1/devices/DEV-1/users/1001/finger/12", map[string]string{
		"fingerData": "dGVtcGxhdGU=",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "PUT", "/api/v1/devices/DEV-1/users/1001/finger/2", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetDepartmentQueuesRename(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")

	resp := f.do(t, "PUT", "/api/v1/devices/DEV-1/departments/4", map[string]string{"name": "Sales"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	pending, err := f.store.PendingCommands()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "SetDepartment", pending[0].CommandType)
	assert.Equal(t, "4", pending[0].SubKey)
}

func TestStartSyncRequiresConnection(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")

	resp := f.do(t, "POST", "/api/v1/devices/DEV-1/users/sync", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	conn := &fakeConn{}
	f.registry.Bind(conn, "DEV-1")

	resp = f.do(t, "POST", "/api/v1/devices/DEV-1/users/sync", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, conn.sent, 1)
	assert.Contains(t, conn.sent[0], "<Request>GetFirstUserData</Request>")

	// Second trigger while the walk is open is refused.
	resp = f.do(t, "POST", "/api/v1/devices/DEV-1/users/sync", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStatusRefreshRequiresConnection(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")

	resp := f.do(t, "POST", "/api/v1/devices/DEV-1/status/refresh", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	conn := &fakeConn{}
	f.registry.Bind(conn, "DEV-1")

	resp = f.do(t, "POST", "/api/v1/devices/DEV-1/status/refresh", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, conn.sent, 2)
	assert.Contains(t, conn.sent[0], "<Request>GetDeviceStatusAll</Request>")
	assert.Contains(t, conn.sent[1], "<Request>GetFirmwareVersion</Request>")
}

func TestSingleRefreshEndpoints(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")

	resp := f.do(t, "POST", "/api/v1/devices/DEV-1/users/1001/refresh", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	conn := &fakeConn{}
	f.registry.Bind(conn, "DEV-1")

	resp = f.do(t, "POST", "/api/v1/devices/DEV-1/users/1001/refresh", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, conn.sent, 1)
	assert.Contains(t, conn.sent[0], "<Request>GetUserData</Request>")
	assert.Contains(t, conn.sent[0], "<UserID>1001</UserID>")

	resp = f.do(t, "POST", "/api/v1/devices/DEV-1/status/refresh/UserCount", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, conn.sent, 2)
	assert.Contains(t, conn.sent[1], "<Request>GetDeviceStatus</Request>")
	assert.Contains(t, conn.sent[1], "<ParamName>UserCount</ParamName>")
}

func TestCloudBindingUpdate(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")

	resp := f.do(t, "PUT", "/api/v1/devices/DEV-1/cloud-binding", cloudBindingRequest{
		CloudID:     "cloud-9",
		CompanyCode: "ACME",
		BranchCode:  "HQ",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	device, err := f.store.GetDevice("DEV-1")
	require.NoError(t, err)
	assert.Equal(t, "cloud-9", device.CloudID)
	assert.Equal(t, "ACME", device.CompanyCode)
	assert.Equal(t, "HQ", device.BranchCode)

	resp = f.do(t, "PUT", "/api/v1/devices/NOPE/cloud-binding", cloudBindingRequest{CloudID: "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTimeLogQueryRejectsBadSince(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "GET", "/api/v1/devices/DEV-1/timelogs?since=yesterday", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTimeLogListFiltersBySince(t *testing.T) {
	f := newFixture(t)
	registerDevice(t, f.store, "DEV-1")

	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-5 * time.Minute)
	_, err := f.store.InsertTimeLog(&store.TimeLog{
		DeviceSerialNum: "DEV-1", UserID: "1001", LogTime: old, Action: "DutyOn",
	})
	require.NoError(t, err)
	_, err = f.store.InsertTimeLog(&store.TimeLog{
		DeviceSerialNum: "DEV-1", UserID: "1001", LogTime: recent, Action: "DutyOff",
	})
	require.NoError(t, err)

	resp := f.do(t, "GET", "/api/v1/devices/DEV-1/timelogs?since="+time.Now().Add(-time.Hour).UTC().Format(time.RFC3339), nil)
	var logs []map[string]interface{}
	decodeBody(t, resp, &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "DutyOff", logs[0]["action"])
}
