package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DeviceTimeLayout is the timestamp pattern the terminals speak,
// e.g. "2025-03-14-T09:26:53Z". The Z is a literal, not a zone.
const DeviceTimeLayout = "2006-01-02-T15:04:05Z"

var looseDeviceTime = regexp.MustCompile(
	`^([0-9]{4})-([0-9]{1,2})-([0-9]{1,2})-T([0-9]{1,2}):([0-9]{1,2}):([0-9]{1,2})Z$`)

// FormatDeviceTime renders a timestamp in the device wire pattern
func FormatDeviceTime(t time.Time) string {
	return t.Format(DeviceTimeLayout)
}

// ParseDeviceTime parses a device timestamp, trying the strict layout, then a
// regex reconstruction that tolerates single-digit components, then a lenient
// layout with the separators normalized.
func ParseDeviceTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(DeviceTimeLayout, s, time.Local); err == nil {
		return t, nil
	}

	if m := looseDeviceTime.FindStringSubmatch(s); m != nil {
		parts := make([]int, 6)
		for i := range parts {
			parts[i], _ = strconv.Atoi(m[i+1])
		}
		return time.Date(parts[0], time.Month(parts[1]), parts[2],
			parts[3], parts[4], parts[5], 0, time.Local), nil
	}

	cleaned := strings.ReplaceAll(strings.Replace(s, "-T", "T", 1), "Z", "")
	if t, err := time.ParseInLocation("2006-1-2T15:4:5", cleaned, time.Local); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unparseable device time %q", s)
}

// DeviceTimeOrNow parses a device timestamp, falling back to the current time
// with a warning. Handlers never see a time parse error.
func DeviceTimeOrNow(s string, log *logrus.Entry) time.Time {
	if s == "" {
		return time.Now()
	}
	t, err := ParseDeviceTime(s)
	if err != nil {
		log.WithField("value", s).Warn("Falling back to current time for unparseable date")
		return time.Now()
	}
	return t
}
