package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	payload := `<?xml version="1.0" encoding="UTF-8"?>
<Message>
  <Request>Register</Request>
  <DeviceSerialNo>TA-40-001</DeviceSerialNo>
  <TerminalType>F22</TerminalType>
  <CloudId>cloud-1</CloudId>
</Message>`

	msg, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, KindRequest, msg.Kind)
	assert.Equal(t, "Register", msg.Type)
	assert.Equal(t, "TA-40-001", msg.Serial())
	assert.Equal(t, "F22", msg.Text("TerminalType"))
	assert.Equal(t, "cloud-1", msg.Text("CloudId"))
}

func TestDecodeEventAndResponse(t *testing.T) {
	msg, err := Decode([]byte(`<Message><Event>KeepAlive</Event><DevTime>2025-03-14-T09:26:53Z</DevTime></Message>`))
	require.NoError(t, err)
	assert.Equal(t, KindEvent, msg.Kind)
	assert.Equal(t, "KeepAlive", msg.Type)

	msg, err = Decode([]byte(`<Message><Response>SetTime</Response><Result>OK</Result></Message>`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, msg.Kind)
	assert.Equal(t, "OK", msg.Result())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not xml at all",
		`<Envelope><Request>Register</Request></Envelope>`,
		`<Message><DeviceSerialNo>X</DeviceSerialNo></Message>`,
	}
	for _, c := range cases {
		_, err := Decode([]byte(c))
		assert.ErrorIs(t, err, ErrMalformed, "payload %q", c)
	}
}

func TestFieldAccessors(t *testing.T) {
	msg, err := Decode([]byte(`<Message>
  <Response>GetGlogPosInfo</Response>
  <LogCount> 128 </LogCount>
  <Enabled>yes</Enabled>
  <Disabled>No</Disabled>
  <Junk>abc</Junk>
</Message>`))
	require.NoError(t, err)

	assert.Equal(t, 128, msg.Int("LogCount", -1))
	assert.Equal(t, -1, msg.Int("Missing", -1))
	assert.Equal(t, -1, msg.Int("Junk", -1))
	assert.True(t, msg.Bool("Enabled"))
	assert.False(t, msg.Bool("Disabled"))
	assert.False(t, msg.Bool("Missing"))
	assert.True(t, msg.Has("Junk"))
	assert.False(t, msg.Has("Result"))
}

func TestBuildersEscapeValues(t *testing.T) {
	out := BuildError(`bad <input> & "quotes"`)
	assert.Contains(t, out, "bad &lt;input&gt; &amp; &#34;quotes&#34;")

	// Builders emit single-line messages the terminals accept.
	assert.NotContains(t, out, "\n")
}

func TestBuildReplyRoundTrip(t *testing.T) {
	out := BuildRegisterReply("TA-40-001", "tok-123")
	msg, err := Decode([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, msg.Kind)
	assert.Equal(t, "Register", msg.Type)
	assert.Equal(t, "tok-123", msg.Text("Token"))
	assert.Equal(t, "OK", msg.Result())
}

func TestBuildSetUserDataOmitsUnsetFields(t *testing.T) {
	enabled := true
	out := BuildSetUserData("1001", UserPayload{
		Name:       "Kim",
		Department: 2,
		Enabled:    &enabled,
	})

	assert.Contains(t, out, "<Request>SetUserData</Request>")
	assert.Contains(t, out, "<Type>Set</Type>")
	assert.Contains(t, out, "<Depart>2</Depart>")
	assert.Contains(t, out, "<Enabled>Yes</Enabled>")
	assert.Contains(t, out, "<Name>"+EncodeName("Kim")+"</Name>")
	assert.NotContains(t, out, "<TimeSet1>")
	assert.NotContains(t, out, "<PWD>")
}

func TestBuildSetDepartmentEncodesName(t *testing.T) {
	out := BuildSetDepartment(4, "Sales")
	assert.Contains(t, out, "<DeptNo>4</DeptNo>")
	assert.Contains(t, out, "<Data>"+EncodeName("Sales")+"</Data>")
}
