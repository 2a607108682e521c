package isapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

// Device describes how to reach one access-control terminal. It is owned by
// the caller and never mutated by the client.
type Device struct {
	Scheme   string // "http" or "https"
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration

	// InsecureSkipVerify accepts the self-signed certificates most
	// terminals ship with when Scheme is https.
	InsecureSkipVerify bool

	// Location is the device clock's zone, used to format event search
	// windows. Nil means time.Local.
	Location *time.Location
}

// BaseURL returns scheme://host:port.
func (d Device) BaseURL() string {
	scheme := strings.ToLower(strings.TrimSpace(d.Scheme))
	if scheme == "" {
		scheme = "http"
	}

	host := d.Host
	if d.Port > 0 {
		host = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	}

	return scheme + "://" + host
}

func (d Device) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}

	return d.Timeout
}

func (d Device) location() *time.Location {
	if d.Location == nil {
		return time.Local
	}

	return d.Location
}

func (d Device) credentials() Credentials {
	return Credentials{Username: d.Username, Password: d.Password}
}

// List decodes a JSON value that devices send either as a single object or
// as an array of objects. It always holds a slice.
type List[T any] []T

func (l *List[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*l = nil
		return nil
	case data[0] == '[':
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}

		*l = items

		return nil
	default:
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}

		*l = List[T]{item}

		return nil
	}
}

// ResponseStatus is the generic ISAPI status envelope returned by write
// operations and by most error replies.
type ResponseStatus struct {
	RequestURL    string `json:"requestURL,omitempty"`
	StatusCode    int    `json:"statusCode"`
	StatusString  string `json:"statusString,omitempty"`
	SubStatusCode string `json:"subStatusCode,omitempty"`
	ErrorCode     int    `json:"errorCode,omitempty"`
	ErrorMsg      string `json:"errorMsg,omitempty"`
}

const statusOK = 1

func (s *ResponseStatus) OK() bool {
	return s.StatusCode == 0 || s.StatusCode == statusOK
}

// Message is the most descriptive text the device gave.
func (s *ResponseStatus) Message() string {
	switch {
	case s.ErrorMsg != "" && s.SubStatusCode != "" && !strings.EqualFold(s.ErrorMsg, s.SubStatusCode):
		return fmt.Sprintf("%s (%s)", s.ErrorMsg, s.SubStatusCode)
	case s.ErrorMsg != "":
		return s.ErrorMsg
	case s.SubStatusCode != "":
		return s.SubStatusCode
	default:
		return s.StatusString
	}
}

// kind maps the device sub-status onto the error taxonomy.
func (s *ResponseStatus) kind() Kind {
	sub := strings.ToLower(s.SubStatusCode + " " + s.ErrorMsg)

	switch {
	case strings.Contains(sub, "alreadyexist"), strings.Contains(sub, "already exist"),
		strings.Contains(sub, "duplicate"), strings.Contains(sub, "repeat"):
		return KindDeviceConflict
	case strings.Contains(sub, "notexist"), strings.Contains(sub, "not exist"),
		strings.Contains(sub, "nomatch"), strings.Contains(sub, "not found"):
		return KindNotFound
	default:
		return KindProtocol
	}
}

// parseResponseStatus decodes body as a ResponseStatus if it looks like one.
func parseResponseStatus(body []byte) *ResponseStatus {
	var st ResponseStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil
	}

	if st.StatusCode == 0 && st.SubStatusCode == "" && st.ErrorMsg == "" {
		return nil
	}

	return &st
}

// DeviceUser is a user record held by the terminal. Valid is nil when the
// terminal did not report a validity window; modify requests then leave it
// untouched.
type DeviceUser struct {
	EmployeeNo string    `json:"employeeNo"`
	Name       string    `json:"name,omitempty"`
	UserType   string    `json:"userType,omitempty"`
	Valid      *Validity `json:"Valid,omitempty"`
	DoorRight  string    `json:"doorRight,omitempty"`
}

// Validity is the window during which a user may pass.
type Validity struct {
	Enable    bool   `json:"enable"`
	BeginTime string `json:"beginTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
	TimeType  string `json:"timeType,omitempty"`
}

// Card is a card credential bound to an employee number.
type Card struct {
	EmployeeNo string `json:"employeeNo"`
	CardNo     string `json:"cardNo"`
	CardType   string `json:"cardType,omitempty"`
}

// Fingerprint is an enrolled template reference. Templates are enrolled at
// the terminal, so the client only lists them.
type Fingerprint struct {
	EmployeeNo    string `json:"employeeNo,omitempty"`
	FingerPrintID int    `json:"fingerPrintID"`
	CardReaderNo  int    `json:"cardReaderNo,omitempty"`
	FingerType    string `json:"fingerType,omitempty"`
}

// HealthStatus is the outcome of a connectivity test.
type HealthStatus struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

const (
	ReasonUnreachable          = "Unreachable"
	ReasonAuthenticationFailed = "AuthenticationFailed"
)
