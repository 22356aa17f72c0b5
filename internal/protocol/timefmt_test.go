package protocol

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDeviceTime(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)
	assert.Equal(t, "2025-03-14-T09:26:53Z", FormatDeviceTime(ts))
}

func TestParseDeviceTimeStrict(t *testing.T) {
	got, err := ParseDeviceTime("2025-03-14-T09:26:53Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local), got)
}

func TestParseDeviceTimeSingleDigitComponents(t *testing.T) {
	// Some firmware drops leading zeros.
	got, err := ParseDeviceTime("2025-3-4-T9:6:5Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 4, 9, 6, 5, 0, time.Local), got)
}

func TestParseDeviceTimeRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "yesterday", "2025-03-14 09:26:53", "2025-03-14-T09:26Z"} {
		_, err := ParseDeviceTime(s)
		assert.Error(t, err, "value %q", s)
	}
}

func TestDeviceTimeOrNowFallsBack(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetLevel(logrus.PanicLevel)

	before := time.Now()
	got := DeviceTimeOrNow("garbled", log)
	assert.False(t, got.Before(before.Add(-time.Second)))

	got = DeviceTimeOrNow("", log)
	assert.False(t, got.Before(before.Add(-time.Second)))

	got = DeviceTimeOrNow("2025-03-14-T09:26:53Z", log)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local), got)
}
