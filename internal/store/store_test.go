package store

import (
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	s, err := New(Config{DatabasePath: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	plaintext := "template-bytes-base64=="
	enc, err := s.Encrypt([]byte(plaintext))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if enc == plaintext {
		t.Error("Expected ciphertext to differ from plaintext")
	}

	dec, err := s.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(dec) != plaintext {
		t.Errorf("Expected %q, got %q", plaintext, string(dec))
	}
}

func TestSaveRegistrationPreservesCloudBinding(t *testing.T) {
	s := setupTestStore(t)

	if err := s.SaveRegistration("SN001", "FACE", "1", "token-1"); err != nil {
		t.Fatalf("SaveRegistration failed: %v", err)
	}
	if err := s.SetCloudBinding("SN001", "cloud-9", "ACME", "HQ"); err != nil {
		t.Fatalf("SetCloudBinding failed: %v", err)
	}

	// Re-registration rotates the token but must keep the binding.
	if err := s.SaveRegistration("SN001", "FACE", "1", "token-2"); err != nil {
		t.Fatalf("Re-registration failed: %v", err)
	}

	d, err := s.GetDevice("SN001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d == nil {
		t.Fatal("Expected device to exist")
	}
	if d.Token != "token-2" {
		t.Errorf("Expected rotated token, got %q", d.Token)
	}
	if d.CompanyCode != "ACME" || d.BranchCode != "HQ" {
		t.Errorf("Expected cloud binding preserved, got %q/%q", d.CompanyCode, d.BranchCode)
	}
	if !d.Registered || d.LoggedIn {
		t.Errorf("Expected registered and logged out, got registered=%v loggedIn=%v", d.Registered, d.LoggedIn)
	}
}

func TestGetDeviceUnknownReturnsNil(t *testing.T) {
	s := setupTestStore(t)

	d, err := s.GetDevice("NOPE")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d != nil {
		t.Errorf("Expected nil for unknown device, got %+v", d)
	}
}

func TestUpsertUserEncryptsFaceData(t *testing.T) {
	s := setupTestStore(t)

	u := &User{
		DeviceSerialNum: "SN001",
		UserID:          "42",
		Name:            "홍길동",
		Privilege:       "User",
		Department:      3,
		Enabled:         true,
		FaceEnrolled:    true,
		FaceData:        "face-template",
	}
	if err := s.UpsertUser(u); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	var stored string
	err := s.conn.QueryRow(
		`SELECT face_data FROM users WHERE device_serial_number = ? AND user_id = ?`,
		"SN001", "42").Scan(&stored)
	if err != nil {
		t.Fatalf("Failed to read raw column: %v", err)
	}
	if stored == "face-template" {
		t.Error("Expected face data to be encrypted at rest")
	}

	got, err := s.GetUser("SN001", "42")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.FaceData != "face-template" {
		t.Errorf("Expected decrypted face data, got %q", got.FaceData)
	}
	if got.Name != "홍길동" {
		t.Errorf("Expected name preserved, got %q", got.Name)
	}
}

func TestDeleteUserRemovesBiometrics(t *testing.T) {
	s := setupTestStore(t)

	if err := s.UpsertUser(&User{DeviceSerialNum: "SN001", UserID: "7"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := s.SaveFingerData(&FingerData{DeviceSerialNum: "SN001", UserID: "7", FingerNo: 1, Data: "fp"}); err != nil {
		t.Fatalf("SaveFingerData failed: %v", err)
	}
	if err := s.SaveFaceData(&FaceData{DeviceSerialNum: "SN001", UserID: "7", FaceEnrolled: true, Data: "face"}); err != nil {
		t.Fatalf("SaveFaceData failed: %v", err)
	}

	if err := s.DeleteUser("SN001", "7"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	if u, _ := s.GetUser("SN001", "7"); u != nil {
		t.Error("Expected user removed")
	}
	if f, _ := s.GetFingerData("SN001", "7", 1); f != nil {
		t.Error("Expected finger data removed")
	}
	if f, _ := s.GetFaceData("SN001", "7"); f != nil {
		t.Error("Expected face data removed")
	}
}

func TestCommandLifecycle(t *testing.T) {
	s := setupTestStore(t)

	id, err := s.EnqueueCommand(&Command{
		DeviceSerialNum: "SN001",
		CommandType:     "SetDepartment",
		CommandXML:      "<Message/>",
		SubKey:          "5",
	})
	if err != nil {
		t.Fatalf("EnqueueCommand failed: %v", err)
	}

	active, err := s.HasActiveCommand("SN001", "SetDepartment", "", "5")
	if err != nil {
		t.Fatalf("HasActiveCommand failed: %v", err)
	}
	if !active {
		t.Error("Expected pending command to count as active")
	}

	ok, err := s.MarkSent(id)
	if err != nil || !ok {
		t.Fatalf("MarkSent failed: ok=%v err=%v", ok, err)
	}
	// A second MarkSent must be a no-op.
	ok, err = s.MarkSent(id)
	if err != nil {
		t.Fatalf("MarkSent retry failed: %v", err)
	}
	if ok {
		t.Error("Expected second MarkSent to report no transition")
	}

	found, err := s.LatestSentCommand("SN001", "SetDepartment", "", "5")
	if err != nil {
		t.Fatalf("LatestSentCommand failed: %v", err)
	}
	if found == nil || found.ID != id {
		t.Fatalf("Expected to find sent command %d, got %+v", id, found)
	}

	ok, err = s.ResolveCommand(id, CommandCompleted, "<Message>OK</Message>")
	if err != nil || !ok {
		t.Fatalf("ResolveCommand failed: ok=%v err=%v", ok, err)
	}
	// A duplicate reply must not resolve twice.
	ok, err = s.ResolveCommand(id, CommandFailed, "<Message>Fail</Message>")
	if err != nil {
		t.Fatalf("ResolveCommand retry failed: %v", err)
	}
	if ok {
		t.Error("Expected duplicate resolution to report no transition")
	}

	c, err := s.GetCommand(id)
	if err != nil {
		t.Fatalf("GetCommand failed: %v", err)
	}
	if c.Status != CommandCompleted {
		t.Errorf("Expected COMPLETED, got %s", c.Status)
	}
}

func TestLatestSentCommandPicksNewest(t *testing.T) {
	s := setupTestStore(t)

	first, _ := s.EnqueueCommand(&Command{DeviceSerialNum: "SN001", CommandType: "SetTime", CommandXML: "<a/>"})
	second, _ := s.EnqueueCommand(&Command{DeviceSerialNum: "SN001", CommandType: "SetTime", CommandXML: "<b/>"})

	if _, err := s.MarkSent(first); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}
	if _, err := s.MarkSent(second); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}

	found, err := s.LatestSentCommand("SN001", "SetTime", "", "")
	if err != nil {
		t.Fatalf("LatestSentCommand failed: %v", err)
	}
	if found == nil || found.ID != second {
		t.Errorf("Expected newest sent command %d, got %+v", second, found)
	}
}

func TestExpireStaleSent(t *testing.T) {
	s := setupTestStore(t)

	id, _ := s.EnqueueCommand(&Command{DeviceSerialNum: "SN001", CommandType: "ClearLogData", CommandXML: "<x/>"})
	if _, err := s.MarkSent(id); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}

	expired, err := s.ExpireStaleSent(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireStaleSent failed: %v", err)
	}
	if expired != 1 {
		t.Errorf("Expected 1 expired command, got %d", expired)
	}

	c, _ := s.GetCommand(id)
	if c.Status != CommandFailed {
		t.Errorf("Expected FAILED after expiry, got %s", c.Status)
	}
}

func TestDepartmentCacheLifecycle(t *testing.T) {
	s := setupTestStore(t)

	if err := s.UpsertDepartment("SN001", 5, "Engineering"); err != nil {
		t.Fatalf("UpsertDepartment failed: %v", err)
	}
	if err := s.UpsertDepartment("SN001", 5, "R&D"); err != nil {
		t.Fatalf("UpsertDepartment update failed: %v", err)
	}

	d, err := s.GetDepartment("SN001", 5)
	if err != nil {
		t.Fatalf("GetDepartment failed: %v", err)
	}
	if d == nil || d.Name != "R&D" {
		t.Fatalf("Expected updated department name, got %+v", d)
	}

	if err := s.DeleteDepartment("SN001", 5); err != nil {
		t.Fatalf("DeleteDepartment failed: %v", err)
	}
	if d, _ := s.GetDepartment("SN001", 5); d != nil {
		t.Error("Expected department removed")
	}
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func TestStatusMergeKeepsOtherHalf(t *testing.T) {
	s := setupTestStore(t)

	now := time.Now()
	err := s.SaveStatusReport(&StatusReport{
		DeviceSerialNo: "SN001",
		UserCount:      intPtr(12),
		FpCount:        intPtr(30),
		DeviceTime:     &now,
	})
	if err != nil {
		t.Fatalf("SaveStatusReport failed: %v", err)
	}
	if err := s.SaveFirmwareReport("SN001", "1.2.3", "456"); err != nil {
		t.Fatalf("SaveFirmwareReport failed: %v", err)
	}

	st, err := s.GetDeviceStatus("SN001")
	if err != nil {
		t.Fatalf("GetDeviceStatus failed: %v", err)
	}
	if st.UserCount != 12 || st.FpCount != 30 {
		t.Errorf("Expected counter half preserved, got %+v", st)
	}
	if st.FirmwareVersion != "1.2.3" || st.BuildNumber != "456" {
		t.Errorf("Expected firmware half merged, got %+v", st)
	}
}

func TestStatusReportPartialFieldsKeepOldValues(t *testing.T) {
	s := setupTestStore(t)

	err := s.SaveStatusReport(&StatusReport{
		DeviceSerialNo: "SN001",
		TerminalType:   strPtr("F22"),
		ProductName:    strPtr("TA-40"),
		UserCount:      intPtr(42),
		FaceCount:      intPtr(7),
		FpCount:        intPtr(11),
	})
	if err != nil {
		t.Fatalf("SaveStatusReport failed: %v", err)
	}

	// A later reply carrying only one counter must not erase the others.
	err = s.SaveStatusReport(&StatusReport{
		DeviceSerialNo: "SN001",
		UserCount:      intPtr(43),
	})
	if err != nil {
		t.Fatalf("SaveStatusReport failed: %v", err)
	}

	st, err := s.GetDeviceStatus("SN001")
	if err != nil {
		t.Fatalf("GetDeviceStatus failed: %v", err)
	}
	if st.UserCount != 43 {
		t.Errorf("Expected UserCount 43, got %d", st.UserCount)
	}
	if st.FaceCount != 7 || st.FpCount != 11 {
		t.Errorf("Expected absent counters preserved, got %+v", st)
	}
	if st.TerminalType != "F22" || st.ProductName != "TA-40" {
		t.Errorf("Expected absent identity fields preserved, got %+v", st)
	}
}

func TestWifiSettingKeyEncrypted(t *testing.T) {
	s := setupTestStore(t)

	err := s.SaveWifiSetting(&WifiSetting{
		DeviceSerialNum: "SN001",
		Use:             "Yes",
		SSID:            "office",
		Key:             "hunter2",
		DHCP:            "Yes",
		Port:            8080,
	})
	if err != nil {
		t.Fatalf("SaveWifiSetting failed: %v", err)
	}

	var stored string
	err = s.conn.QueryRow(
		`SELECT wifi_key FROM wifi_settings WHERE device_serial_number = ?`, "SN001").Scan(&stored)
	if err != nil {
		t.Fatalf("Failed to read raw column: %v", err)
	}
	if stored == "hunter2" {
		t.Error("Expected wifi key to be encrypted at rest")
	}

	w, err := s.GetWifiSetting("SN001")
	if err != nil {
		t.Fatalf("GetWifiSetting failed: %v", err)
	}
	if w.Key != "hunter2" || w.SSID != "office" {
		t.Errorf("Expected round-tripped setting, got %+v", w)
	}
}

func TestTimeLogInsertAndList(t *testing.T) {
	s := setupTestStore(t)

	logTime := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)
	id, err := s.InsertTimeLog(&TimeLog{
		DeviceSerialNum: "SN001",
		UserID:          "42",
		LogTime:         logTime,
		Action:          "DutyOn",
		AttendStat:      "DutyOn",
	})
	if err != nil {
		t.Fatalf("InsertTimeLog failed: %v", err)
	}
	if id == 0 {
		t.Error("Expected non-zero row id")
	}

	logs, err := s.ListTimeLogs("SN001", time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListTimeLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 log, got %d", len(logs))
	}
	if logs[0].UserID != "42" || !logs[0].LogTime.Equal(logTime) {
		t.Errorf("Unexpected log row: %+v", logs[0])
	}
}
