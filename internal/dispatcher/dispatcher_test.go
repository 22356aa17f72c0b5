package dispatcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-gateway/internal/command"
	"terminal-gateway/internal/device"
	"terminal-gateway/internal/fetch"
	"terminal-gateway/internal/protocol"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/status"
	"terminal-gateway/internal/store"
	"terminal-gateway/internal/usersync"
)

type fakeConn struct {
	sent []string
	fail bool
}

func (c *fakeConn) WriteText(payload string) error {
	if c.fail {
		return errors.New("write failed")
	}
	c.sent = append(c.sent, payload)
	return nil
}

type testGateway struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	store      *store.Store
	fetch      *fetch.Service
	commands   *command.Service
}

func setupGateway(t *testing.T) *testGateway {
	t.Helper()

	st, err := store.New(store.Config{DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	log := logrus.NewEntry(logger)

	reg := registry.New(log)
	devices := device.NewService(st, log)
	statusSvc := status.NewService(reg, st, log)
	syncSvc := usersync.NewService(reg, st, 5*time.Minute, log)
	commands := command.NewService(reg, st, 10*time.Minute, log)

	return &testGateway{
		dispatcher: New(reg, st, devices, statusSvc, syncSvc, commands, nil, nil, log),
		registry:   reg,
		store:      st,
		fetch:      fetch.NewService(reg, st, log),
		commands:   commands,
	}
}

// register and log a device in over the given connection
func loginDevice(t *testing.T, g *testGateway, conn *fakeConn, serial string) {
	t.Helper()

	reply := g.dispatcher.Handle(conn, []byte(fmt.Sprintf(
		`<Message><Request>Register</Request><DeviceSerialNo>%s</DeviceSerialNo><TerminalType>FACE</TerminalType></Message>`, serial)))
	m := regexp.MustCompile(`<Token>([^<]+)</Token>`).FindStringSubmatch(reply)
	require.NotNil(t, m, "register reply must carry a token: %s", reply)

	reply = g.dispatcher.Handle(conn, []byte(fmt.Sprintf(
		`<Message><Request>Login</Request><DeviceSerialNo>%s</DeviceSerialNo><Token>%s</Token></Message>`, serial, m[1])))
	require.Contains(t, reply, "<Result>OK</Result>")
}

func TestMalformedMessage(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}

	reply := g.dispatcher.Handle(conn, []byte(`not xml at all`))
	assert.Contains(t, reply, "<Response>Error</Response>")
	assert.Contains(t, reply, "Unknown message format")

	reply = g.dispatcher.Handle(conn, []byte(`<Message><Foo>bar</Foo></Message>`))
	assert.Contains(t, reply, "<Response>Error</Response>")
}

func TestRegisterIssuesToken(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}

	reply := g.dispatcher.Handle(conn, []byte(
		`<Message><Request>Register</Request><DeviceSerialNo>SN001</DeviceSerialNo><TerminalType>FACE</TerminalType><CloudId>c-1</CloudId></Message>`))
	assert.Contains(t, reply, "<Response>Register</Response>")
	assert.Contains(t, reply, "<DeviceSerialNo>SN001</DeviceSerialNo>")
	assert.Contains(t, reply, "<Result>OK</Result>")

	d, err := g.store.GetDevice("SN001")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.Registered)
	assert.Equal(t, "c-1", d.CloudID)
	assert.True(t, g.registry.Connected("SN001"), "register must bind the connection")
}

func TestRegisterRequiresSerial(t *testing.T) {
	g := setupGateway(t)

	reply := g.dispatcher.Handle(&fakeConn{}, []byte(`<Message><Request>Register</Request></Message>`))
	assert.Contains(t, reply, "DeviceSerialNo is required")
}

func TestLoginRejectsUnknownToken(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}

	g.dispatcher.Handle(conn, []byte(
		`<Message><Request>Register</Request><DeviceSerialNo>SN001</DeviceSerialNo></Message>`))

	reply := g.dispatcher.Handle(conn, []byte(
		`<Message><Request>Login</Request><DeviceSerialNo>SN001</DeviceSerialNo><Token>wrong</Token></Message>`))
	assert.Contains(t, reply, "<Result>FailUnknownToken</Result>")
}

func TestLoginStartsStatusPoll(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}

	loginDevice(t, g, conn, "SN001")

	joined := strings.Join(conn.sent, "\n")
	assert.Contains(t, joined, "<Request>GetDeviceStatusAll</Request>")
	assert.Contains(t, joined, "<Request>GetFirmwareVersion</Request>")

	d, err := g.store.GetDevice("SN001")
	require.NoError(t, err)
	assert.True(t, d.LoggedIn)
}

func TestEventHandlerPanicAnswersFailAck(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	log := logrus.NewEntry(logger)

	// No store behind the services: any event handler dereferences it and
	// panics, which must come back as a Fail ack, not the generic envelope.
	reg := registry.New(log)
	devices := device.NewService(nil, log)
	d := New(reg, nil, devices, nil, nil, nil, nil, nil, log)

	reply := d.Handle(&fakeConn{}, []byte(
		`<Message><Event>TimeLog_v2</Event><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserID>42</UserID><TransID>55</TransID></Message>`))
	assert.Contains(t, reply, "<Response>TimeLog_v2</Response>")
	assert.Contains(t, reply, "<TransID>55</TransID>")
	assert.Contains(t, reply, "<Result>Fail</Result>")

	reply = d.Handle(&fakeConn{}, []byte(
		`<Message><Event>AdminLog_v2</Event><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<AdminID>1</AdminID><TransID>56</TransID></Message>`))
	assert.Contains(t, reply, "<Response>AdminLog_v2</Response>")
	assert.Contains(t, reply, "<TransID>56</TransID>")
	assert.Contains(t, reply, "<Result>Fail</Result>")
}

func TestTimeLogEventStoredAndAcked(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	reply := g.dispatcher.Handle(conn, []byte(
		`<Message><Event>TimeLog_v2</Event><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserID>42</UserID><Time>2025-03-14-T09:26:53Z</Time><Action>DutyOn</Action>`+
			`<AttendStat>DutyOn</AttendStat><JobCode>3</JobCode><TransID>777</TransID></Message>`))

	assert.Contains(t, reply, "<Response>TimeLog_v2</Response>")
	assert.Contains(t, reply, "<TransID>777</TransID>")
	assert.Contains(t, reply, "<Result>OK</Result>")

	logs, err := g.store.ListTimeLogs("SN001", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "42", logs[0].UserID)
	assert.Equal(t, 3, logs[0].JobCode)
	assert.Equal(t,
		time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local), logs[0].LogTime)
}

func TestTimeLogWithGarbledTimestampStillAccepted(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	reply := g.dispatcher.Handle(conn, []byte(
		`<Message><Event>TimeLog_v2</Event><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserID>42</UserID><Time>garbage</Time><TransID>1</TransID></Message>`))
	assert.Contains(t, reply, "<Result>OK</Result>", "a bad timestamp must not lose the punch")

	logs, err := g.store.ListTimeLogs("SN001", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.WithinDuration(t, time.Now(), logs[0].LogTime, time.Minute)
}

func TestKeepAliveEchoesDeviceTime(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	reply := g.dispatcher.Handle(conn, []byte(
		`<Message><Event>KeepAlive</Event><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<DevTime>2025-03-14-T09:00:00Z</DevTime></Message>`))
	assert.Contains(t, reply, "<Response>KeepAlive</Response>")
	assert.Contains(t, reply, "<DevTime>2025-03-14-T09:00:00Z</DevTime>")
	assert.Contains(t, reply, "<ServerTime>")
}

func TestUnknownResponseIsDropped(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	reply := g.dispatcher.Handle(conn, []byte(
		`<Message><Response>SomethingNew</Response><DeviceSerialNo>SN001</DeviceSerialNo></Message>`))
	assert.Empty(t, reply, "unknown responses are dropped, never answered")
}

func TestStatusPollRoundTrip(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetDeviceStatusAll</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<ManagerCount>1</ManagerCount><UserCount>25</UserCount><FpCount>40</FpCount></Message>`))
	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetFirmwareVersion</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<Version>2.1.0</Version><BuildNumber>88</BuildNumber></Message>`))

	st, err := g.store.GetDeviceStatus("SN001")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 25, st.UserCount)
	assert.Equal(t, 40, st.FpCount)
	assert.Equal(t, "2.1.0", st.FirmwareVersion)
	assert.Equal(t, "88", st.BuildNumber)
}

func TestStatusPollPartialReplyKeepsKnownCounters(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetDeviceStatusAll</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserCount>42</UserCount><FaceCount>7</FaceCount><FpCount>11</FpCount></Message>`))

	// The next reply carries only one counter; the rest must survive.
	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetDeviceStatusAll</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserCount>43</UserCount></Message>`))

	st, err := g.store.GetDeviceStatus("SN001")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 43, st.UserCount)
	assert.Equal(t, 7, st.FaceCount)
	assert.Equal(t, 11, st.FpCount)
}

func TestUserSyncWalk(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")
	conn.sent = nil

	syncSvc := g.dispatcher.sync
	require.True(t, syncSvc.Start("SN001"))

	// First page with more to come. The name is base64(UTF-16LE) for "Kim".
	name := protocol.EncodeName("Kim")
	g.dispatcher.Handle(conn, []byte(fmt.Sprintf(
		`<Message><Response>GetFirstUserData</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<Result>OK</Result><More>Yes</More><UserID>1</UserID><Name>%s</Name>`+
			`<Depart>2</Depart><Enabled>Yes</Enabled></Message>`, name)))
	assert.Contains(t, strings.Join(conn.sent, "\n"), "<Request>GetNextUserData</Request>")

	// Final page.
	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetNextUserData</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<Result>OK</Result><More>No</More><UserID>2</UserID><Enabled>No</Enabled></Message>`))
	assert.False(t, syncSvc.Syncing("SN001"))

	users, err := g.store.ListUsers("SN001")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Kim", users[0].Name)
	assert.Equal(t, 2, users[0].Department)
	assert.True(t, users[0].Enabled)
	assert.False(t, users[1].Enabled)
}

func TestDepartmentReplyConsumesPendingQueue(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	res := g.fetch.Department("SN001", 5)
	require.Equal(t, "pending", res.Status)

	name := protocol.EncodeName("Engineering")
	g.dispatcher.Handle(conn, []byte(fmt.Sprintf(
		`<Message><Response>GetDepartment</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<DeptNo>5</DeptNo><Name>%s</Name></Message>`, name)))

	dept, err := g.store.GetDepartment("SN001", 5)
	require.NoError(t, err)
	require.NotNil(t, dept)
	assert.Equal(t, "Engineering", dept.Name)

	_, pending := g.registry.NextPendingDepartment("SN001")
	assert.False(t, pending, "reply must consume the pending entry")
}

func TestDepartmentNotExistDropsSlot(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	require.NoError(t, g.store.UpsertDepartment("SN001", 7, "Ghost"))
	res := g.fetch.Department("SN001", 7)
	require.Equal(t, "refreshing", res.Status)

	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetDepartment</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<Error>Not exist</Error></Message>`))

	dept, err := g.store.GetDepartment("SN001", 7)
	require.NoError(t, err)
	assert.Nil(t, dept, "a slot the device disowns must leave the cache")
}

func TestFingerDataSuccessHasNoResultElement(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	// Success: Result absent.
	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetFingerData</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserID>42</UserID><FingerNo>3</FingerNo><Duress>No</Duress><FingerData>dGVtcGxhdGU=</FingerData></Message>`))

	fd, err := g.store.GetFingerData("SN001", "42", 3)
	require.NoError(t, err)
	require.NotNil(t, fd)
	assert.Equal(t, "dGVtcGxhdGU=", fd.Data)

	// Failure: Result present, nothing stored.
	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetFingerData</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserID>42</UserID><FingerNo>4</FingerNo><Result>Fail</Result></Message>`))

	fd, err = g.store.GetFingerData("SN001", "42", 4)
	require.NoError(t, err)
	assert.Nil(t, fd)
}

func TestFingerDataFetchScenario(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	// Online with no cache: pending.
	res := g.fetch.FingerData("SN001", "42", 3)
	require.Equal(t, "pending", res.Status)

	// Device answers; template lands in the cache.
	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetFingerData</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserID>42</UserID><FingerNo>3</FingerNo><FingerData>dGVtcGxhdGU=</FingerData></Message>`))

	// Device drops; the cache still answers.
	g.dispatcher.ConnectionClosed(conn)
	res = g.fetch.FingerData("SN001", "42", 3)
	assert.Equal(t, "cached", res.Status)
	assert.NotNil(t, res.Data)
}

func TestSetDepartmentResolution(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	id, err := g.commands.SetDepartment("SN001", 5, "Engineering")
	require.NoError(t, err)
	g.commands.DispatchPending()

	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>SetDepartment</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<DeptNo>5</DeptNo><Result>OK</Result></Message>`))

	cmd, err := g.store.GetCommand(id)
	require.NoError(t, err)
	assert.Equal(t, store.CommandCompleted, cmd.Status)
}

func TestDeleteUserCompletionRemovesMirror(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	require.NoError(t, g.store.UpsertUser(&store.User{DeviceSerialNum: "SN001", UserID: "42", Name: "Kim"}))
	require.NoError(t, g.store.SaveFingerData(&store.FingerData{DeviceSerialNum: "SN001", UserID: "42", FingerNo: 1, Data: "fp"}))

	_, err := g.commands.DeleteUser("SN001", "42")
	require.NoError(t, err)
	g.commands.DispatchPending()

	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>SetUserData</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<UserID>42</UserID><Type>Delete</Type><Result>OK</Result></Message>`))

	u, err := g.store.GetUser("SN001", "42")
	require.NoError(t, err)
	assert.Nil(t, u)
	fd, err := g.store.GetFingerData("SN001", "42", 1)
	require.NoError(t, err)
	assert.Nil(t, fd)
}

func TestSetWiFiSettingTriggersFollowUpRead(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	_, err := g.commands.SetWiFiSetting("SN001", protocol.WiFiSettings{SSID: "office", Key: "hunter2"})
	require.NoError(t, err)
	g.commands.DispatchPending()
	conn.sent = nil

	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>SetWiFiSetting</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<Result>OK</Result></Message>`))

	assert.Contains(t, strings.Join(conn.sent, "\n"), "<Request>GetWiFiSetting</Request>",
		"an applied write must be read back")
}

func TestGetTimeAlwaysCompletes(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	id, err := g.commands.GetTime("SN001")
	require.NoError(t, err)
	g.commands.DispatchPending()

	g.dispatcher.Handle(conn, []byte(
		`<Message><Response>GetTime</Response><DeviceSerialNo>SN001</DeviceSerialNo>`+
			`<Time>2025-03-14-T09:26:53Z</Time></Message>`))

	cmd, err := g.store.GetCommand(id)
	require.NoError(t, err)
	assert.Equal(t, store.CommandCompleted, cmd.Status)

	st, err := g.store.GetDeviceStatus("SN001")
	require.NoError(t, err)
	require.NotNil(t, st.DeviceTime)
}

func TestConnectionClosedClearsSession(t *testing.T) {
	g := setupGateway(t)
	conn := &fakeConn{}
	loginDevice(t, g, conn, "SN001")

	g.dispatcher.ConnectionClosed(conn)

	assert.False(t, g.registry.Connected("SN001"))
	d, err := g.store.GetDevice("SN001")
	require.NoError(t, err)
	assert.False(t, d.LoggedIn)

	// Closing an unbound connection is a no-op.
	g.dispatcher.ConnectionClosed(conn)
}
