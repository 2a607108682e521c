package isapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	acsEventPath = "/ISAPI/AccessControl/AcsEvent"

	// DefaultPageSize is what most terminals accept as maxResults.
	DefaultPageSize = 30

	isapiTimeLayout = "2006-01-02T15:04:05-07:00"
)

var eventTimeLayouts = []string{
	isapiTimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Mode selects which event classes a poll requests.
type Mode int

const (
	// ModeFingerprint requests fingerprint verifications only.
	ModeFingerprint Mode = iota
	// ModeAll requests every event class.
	ModeAll
)

func (m Mode) codes() (major, minor int) {
	if m == ModeAll {
		return MajorAll, MinorAll
	}

	return MajorEvent, MinorFingerprintVerify
}

func (m Mode) String() string {
	if m == ModeAll {
		return "all"
	}

	return "fingerprint"
}

// ParseMode maps "all" to ModeAll and anything else to ModeFingerprint.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return ModeAll
	}

	return ModeFingerprint
}

// AccessEvent is one event record pulled from a device.
type AccessEvent struct {
	RawEventID string          `json:"rawEventId"`
	Type       EventType       `json:"type"`
	Major      int             `json:"major"`
	Minor      int             `json:"minor"`
	EmployeeNo string          `json:"employeeNo,omitempty"`
	Time       time.Time       `json:"time"`
	CardNo     string          `json:"cardNo,omitempty"`
	Name       string          `json:"name,omitempty"`
	Raw        json.RawMessage `json:"raw"`
}

// Window bounds a poll. The upper bound is always "now" at call time.
type Window struct {
	Since      time.Time
	MaxResults int

	// Offset is the searchResultPosition sent to the device. Leaving it at
	// zero re-reads the window from the start.
	Offset int

	Mode Mode
}

// PollResult is one page of events.
type PollResult struct {
	Events  []AccessEvent `json:"events"`
	HasMore bool          `json:"hasMore"`
	Total   int           `json:"total"`

	// Fetched is how many records the device returned before filtering.
	Fetched int `json:"fetched"`
}

type acsEventRequest struct {
	Cond acsEventCond `json:"AcsEventCond"`
}

type acsEventCond struct {
	SearchID             string `json:"searchID"`
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
	Major                int    `json:"major"`
	Minor                int    `json:"minor"`
	StartTime            string `json:"startTime,omitempty"`
	EndTime              string `json:"endTime,omitempty"`
}

type acsEventResponse struct {
	AcsEvent struct {
		SearchID           string                `json:"searchID"`
		TotalMatches       int                   `json:"totalMatches"`
		ResponseStatusStrg string                `json:"responseStatusStrg"`
		NumOfMatches       int                   `json:"numOfMatches"`
		InfoList           List[json.RawMessage] `json:"InfoList"`
	} `json:"AcsEvent"`
}

type acsEventInfo struct {
	Major            int             `json:"major"`
	Minor            int             `json:"minor"`
	Time             string          `json:"time"`
	CardNo           string          `json:"cardNo"`
	Name             string          `json:"name"`
	EmployeeNoString string          `json:"employeeNoString"`
	EmployeeNo       json.RawMessage `json:"employeeNo"`
	SerialNo         int64           `json:"serialNo"`
}

func (i acsEventInfo) employeeNo() string {
	if i.EmployeeNoString != "" {
		return i.EmployeeNoString
	}

	return strings.Trim(strings.TrimSpace(string(i.EmployeeNo)), `"`)
}

type SyncOption func(*Synchronizer)

func WithSyncLogger(l zerolog.Logger) SyncOption {
	return func(s *Synchronizer) { s.log = l }
}

// WithClock overrides the source of "now" for window upper bounds.
func WithClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) { s.now = now }
}

// Synchronizer polls a device's access-event log. It holds no cursor; the
// caller persists the last processed event time.
type Synchronizer struct {
	transport *Transport
	log       zerolog.Logger
	now       func() time.Time
}

func NewSynchronizer(t *Transport, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{transport: t, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Poll fetches one page of events in [w.Since, now).
func (s *Synchronizer) Poll(ctx context.Context, w Window) (PollResult, error) {
	now := s.now()

	if w.MaxResults <= 0 {
		w.MaxResults = DefaultPageSize
	}

	if !w.Since.Before(now) {
		return PollResult{}, nil
	}

	loc := s.transport.Device().location()
	major, minor := w.Mode.codes()

	req := acsEventRequest{Cond: acsEventCond{
		SearchID:             newSearchID(),
		SearchResultPosition: w.Offset,
		MaxResults:           w.MaxResults,
		Major:                major,
		Minor:                minor,
		StartTime:            w.Since.In(loc).Format(isapiTimeLayout),
		EndTime:              now.In(loc).Format(isapiTimeLayout),
	}}

	resp, err := s.transport.Do(ctx, http.MethodPost, acsEventPath, req)
	if err != nil {
		return PollResult{}, err
	}

	var out acsEventResponse
	if err := resp.Decode(&out); err != nil {
		return PollResult{}, err
	}

	page := out.AcsEvent
	res := PollResult{
		Events:  make([]AccessEvent, 0, len(page.InfoList)),
		Total:   page.TotalMatches,
		Fetched: len(page.InfoList),
		HasMore: strings.EqualFold(page.ResponseStatusStrg, "MORE") ||
			w.Offset+len(page.InfoList) < page.TotalMatches,
	}

	seen := make(map[string]struct{}, len(page.InfoList))

	for _, raw := range page.InfoList {
		ev, err := toAccessEvent(raw, loc)
		if err != nil {
			s.log.Warn().Err(err).RawJSON("event", raw).Msg("dropping undecodable event")
			continue
		}

		if ev.Time.Before(w.Since) || !ev.Time.Before(now) {
			s.log.Debug().Str("raw_event_id", ev.RawEventID).Time("time", ev.Time).Msg("event outside window")
			continue
		}

		if _, dup := seen[ev.RawEventID]; dup {
			s.log.Debug().Str("raw_event_id", ev.RawEventID).Msg("duplicate event in page")
			continue
		}

		seen[ev.RawEventID] = struct{}{}
		res.Events = append(res.Events, ev)
	}

	return res, nil
}

func toAccessEvent(raw json.RawMessage, loc *time.Location) (AccessEvent, error) {
	var info acsEventInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return AccessEvent{}, fmt.Errorf("decode event: %w", err)
	}

	ts, err := parseEventTime(info.Time, loc)
	if err != nil {
		return AccessEvent{}, err
	}

	empNo := info.employeeNo()

	id := strconv.FormatInt(info.SerialNo, 10)
	if info.SerialNo <= 0 {
		id = fmt.Sprintf("%s/%d/%d/%s", ts.UTC().Format(time.RFC3339), info.Major, info.Minor, empNo)
	}

	return AccessEvent{
		RawEventID: id,
		Type:       Classify(info.Major, info.Minor),
		Major:      info.Major,
		Minor:      info.Minor,
		EmployeeNo: empNo,
		Time:       ts,
		CardNo:     info.CardNo,
		Name:       info.Name,
		Raw:        append(json.RawMessage(nil), raw...),
	}, nil
}

func parseEventTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range eventTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable event time %q", s)
}

func newSearchID() string {
	return uuid.NewString()
}
