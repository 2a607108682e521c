package isapi

import (
	"fmt"
	"strings"
)

// EventType is the normalized name of an access event.
type EventType string

const (
	EventVerifyFingerprint EventType = "verifyFingerprint"
	EventVerifyCard        EventType = "verifyCard"
	EventVerifyPassword    EventType = "verifyPassword"
	EventVerifyFace        EventType = "verifyFace"
)

// Vendor major classes.
const (
	MajorAll       = 0
	MajorAlarm     = 1
	MajorException = 2
	MajorOperation = 3
	MajorEvent     = 5
)

// Vendor minor codes for the verification methods we track.
const (
	MinorAll               = 0
	MinorCardPass          = 1
	MinorPasswordPass      = 6
	MinorFingerprintVerify = 75
	MinorFaceVerify        = 76
)

var majorPrefix = map[int]string{
	MajorAlarm:     "alarm",
	MajorException: "exception",
	MajorOperation: "operation",
	MajorEvent:     "",
}

var minorMethod = map[int]EventType{
	MinorCardPass:          EventVerifyCard,
	MinorPasswordPass:      EventVerifyPassword,
	MinorFingerprintVerify: EventVerifyFingerprint,
	MinorFaceVerify:        EventVerifyFace,
}

// Classify maps a vendor (major, minor) pair to an EventType. Pairs outside
// the table come back as unknown_{major}_{minor} so nothing is dropped.
func Classify(major, minor int) EventType {
	prefix, okMajor := majorPrefix[major]
	method, okMinor := minorMethod[minor]

	if !okMajor || !okMinor {
		return EventType(fmt.Sprintf("unknown_%d_%d", major, minor))
	}

	if prefix == "" {
		return method
	}

	return EventType(prefix + "_" + string(method))
}

// Known reports whether t came from the classification table.
func (t EventType) Known() bool {
	return !strings.HasPrefix(string(t), "unknown_")
}
