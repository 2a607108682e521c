// Package isapitest provides an in-process ISAPI access-control terminal for
// tests of code built on package isapi.
package isapitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

const (
	Username = "admin"
	Password = "hik12345"

	timeLayout = "2006-01-02T15:04:05-07:00"
)

// Event is one record in the terminal's event log.
type Event struct {
	SerialNo   int64
	Major      int
	Minor      int
	EmployeeNo string
	CardNo     string
	Time       time.Time
}

// Terminal answers the ISAPI endpoints the bridge uses. Requests without an
// Authorization header get a Digest challenge; the digest itself is not
// verified unless RejectAuth is set, in which case every request fails.
type Terminal struct {
	mu sync.Mutex

	Users  map[string]isapi.DeviceUser
	Cards  map[string]string // cardNo -> employeeNo
	Events []Event

	RejectAuth bool

	// EventRequests counts AcsEvent searches, probes included.
	EventRequests int

	srv *httptest.Server
}

// New starts a terminal that is shut down when the test ends.
func New(t testing.TB) *Terminal {
	t.Helper()

	term := &Terminal{
		Users: make(map[string]isapi.DeviceUser),
		Cards: make(map[string]string),
	}
	term.srv = httptest.NewServer(term)
	t.Cleanup(term.srv.Close)

	return term
}

// Device returns a descriptor pointing at the terminal with a short timeout.
func (term *Terminal) Device() isapi.Device {
	u, _ := url.Parse(term.srv.URL)
	port, _ := strconv.Atoi(u.Port())

	return isapi.Device{
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Port:     port,
		Username: Username,
		Password: Password,
		Timeout:  2 * time.Second,
		Location: time.UTC,
	}
}

func (term *Terminal) AddEvents(evs ...Event) {
	term.mu.Lock()
	defer term.mu.Unlock()

	term.Events = append(term.Events, evs...)
}

func (term *Terminal) SetRejectAuth(v bool) {
	term.mu.Lock()
	defer term.mu.Unlock()

	term.RejectAuth = v
}

func (term *Terminal) HasUser(employeeNo string) bool {
	term.mu.Lock()
	defer term.mu.Unlock()

	_, ok := term.Users[employeeNo]

	return ok
}

func (term *Terminal) CardOwner(cardNo string) string {
	term.mu.Lock()
	defer term.mu.Unlock()

	return term.Cards[cardNo]
}

func (term *Terminal) EventRequestCount() int {
	term.mu.Lock()
	defer term.mu.Unlock()

	return term.EventRequests
}

func (term *Terminal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	term.mu.Lock()
	defer term.mu.Unlock()

	if term.RejectAuth || !strings.HasPrefix(r.Header.Get("Authorization"), "Digest ") {
		w.Header().Set("WWW-Authenticate", `Digest realm="isapitest", nonce="6e6f6e6365", qop="auth"`)
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	var body map[string]json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	switch r.URL.Path {
	case "/ISAPI/AccessControl/UserInfo/Search":
		term.userSearch(w, body["UserInfoSearchCond"])
	case "/ISAPI/AccessControl/UserInfo/Record", "/ISAPI/AccessControl/UserInfo/Modify":
		term.userWrite(w, r.URL.Path, body["UserInfo"])
	case "/ISAPI/AccessControl/UserInfo/Delete":
		term.userDelete(w, body["UserInfoDelCond"])
	case "/ISAPI/AccessControl/CardInfo/Record":
		term.cardRecord(w, body["CardInfo"])
	case "/ISAPI/AccessControl/CardInfo/Delete":
		term.cardDelete(w, body["CardInfoDelCond"])
	case "/ISAPI/AccessControl/CardInfo/Search":
		term.cardSearch(w)
	case "/ISAPI/AccessControl/FingerPrintUpload":
		writeJSON(w, http.StatusOK, map[string]any{"FingerPrintInfo": map[string]any{"status": "NoFP"}})
	case "/ISAPI/AccessControl/AcsEvent":
		term.eventSearch(w, body["AcsEventCond"])
	default:
		http.NotFound(w, r)
	}
}

type employeeRef struct {
	EmployeeNo string `json:"employeeNo"`
}

func (term *Terminal) userSearch(w http.ResponseWriter, raw json.RawMessage) {
	var cond struct {
		MaxResults     int           `json:"maxResults"`
		EmployeeNoList []employeeRef `json:"EmployeeNoList"`
	}
	_ = json.Unmarshal(raw, &cond)

	var matches []isapi.DeviceUser

	if len(cond.EmployeeNoList) > 0 {
		if u, ok := term.Users[cond.EmployeeNoList[0].EmployeeNo]; ok {
			matches = append(matches, u)
		}
	} else {
		for _, u := range term.Users {
			matches = append(matches, u)
		}

		sort.Slice(matches, func(i, j int) bool { return matches[i].EmployeeNo < matches[j].EmployeeNo })
	}

	if cond.MaxResults > 0 && len(matches) > cond.MaxResults {
		matches = matches[:cond.MaxResults]
	}

	writeJSON(w, http.StatusOK, map[string]any{"UserInfoSearch": map[string]any{
		"responseStatusStrg": "OK",
		"totalMatches":       len(matches),
		"UserInfo":           matches,
	}})
}

func (term *Terminal) userWrite(w http.ResponseWriter, path string, raw json.RawMessage) {
	var u isapi.DeviceUser
	if err := json.Unmarshal(raw, &u); err != nil || u.EmployeeNo == "" {
		writeJSON(w, http.StatusBadRequest, status("badParameters", "Invalid employeeNo."))
		return
	}

	_, exists := term.Users[u.EmployeeNo]

	switch {
	case strings.HasSuffix(path, "Record") && exists:
		writeJSON(w, http.StatusBadRequest, status("employeeNoAlreadyExist", "The employee No. already exists."))
		return
	case strings.HasSuffix(path, "Modify") && !exists:
		writeJSON(w, http.StatusBadRequest, status("employeeNoNotExist", "The employee No. does not exist."))
		return
	}

	term.Users[u.EmployeeNo] = u
	writeJSON(w, http.StatusOK, okStatus())
}

func (term *Terminal) userDelete(w http.ResponseWriter, raw json.RawMessage) {
	var cond struct {
		EmployeeNoList []employeeRef `json:"EmployeeNoList"`
	}
	_ = json.Unmarshal(raw, &cond)

	for _, ref := range cond.EmployeeNoList {
		if _, ok := term.Users[ref.EmployeeNo]; !ok {
			writeJSON(w, http.StatusBadRequest, status("employeeNoNotExist", "The employee No. does not exist."))
			return
		}

		delete(term.Users, ref.EmployeeNo)
	}

	writeJSON(w, http.StatusOK, okStatus())
}

func (term *Terminal) cardRecord(w http.ResponseWriter, raw json.RawMessage) {
	var c isapi.Card
	if err := json.Unmarshal(raw, &c); err != nil || c.CardNo == "" {
		writeJSON(w, http.StatusBadRequest, status("badParameters", "Invalid cardNo."))
		return
	}

	if _, taken := term.Cards[c.CardNo]; taken {
		writeJSON(w, http.StatusBadRequest, status("cardNoAlreadyExist", "The card No. already exists."))
		return
	}

	term.Cards[c.CardNo] = c.EmployeeNo
	writeJSON(w, http.StatusOK, okStatus())
}

func (term *Terminal) cardDelete(w http.ResponseWriter, raw json.RawMessage) {
	var cond struct {
		CardNoList []struct {
			CardNo string `json:"cardNo"`
		} `json:"CardNoList"`
	}
	_ = json.Unmarshal(raw, &cond)

	for _, ref := range cond.CardNoList {
		delete(term.Cards, ref.CardNo)
	}

	writeJSON(w, http.StatusOK, okStatus())
}

func (term *Terminal) cardSearch(w http.ResponseWriter) {
	cards := make([]isapi.Card, 0, len(term.Cards))
	for no, emp := range term.Cards {
		cards = append(cards, isapi.Card{CardNo: no, EmployeeNo: emp, CardType: "normalCard"})
	}

	sort.Slice(cards, func(i, j int) bool { return cards[i].CardNo < cards[j].CardNo })

	writeJSON(w, http.StatusOK, map[string]any{"CardInfoSearch": map[string]any{
		"responseStatusStrg": "OK",
		"totalMatches":       len(cards),
		"CardInfo":           cards,
	}})
}

// eventSearch filters by class and [startTime, endTime], sorts by serial and
// pages by searchResultPosition.
func (term *Terminal) eventSearch(w http.ResponseWriter, raw json.RawMessage) {
	term.EventRequests++

	var cond struct {
		SearchResultPosition int    `json:"searchResultPosition"`
		MaxResults           int    `json:"maxResults"`
		Major                int    `json:"major"`
		Minor                int    `json:"minor"`
		StartTime            string `json:"startTime"`
		EndTime              string `json:"endTime"`
	}
	if err := json.Unmarshal(raw, &cond); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start, _ := time.Parse(timeLayout, cond.StartTime)
	end, _ := time.Parse(timeLayout, cond.EndTime)

	var matched []Event

	for _, ev := range term.Events {
		if cond.Major != 0 && ev.Major != cond.Major {
			continue
		}

		if cond.Minor != 0 && ev.Minor != cond.Minor {
			continue
		}

		if !start.IsZero() && ev.Time.Before(start) {
			continue
		}

		if !end.IsZero() && ev.Time.After(end) {
			continue
		}

		matched = append(matched, ev)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].SerialNo < matched[j].SerialNo })

	total := len(matched)

	from := min(cond.SearchResultPosition, total)
	to := total

	if cond.MaxResults > 0 {
		to = min(from+cond.MaxResults, total)
	}

	page := matched[from:to]

	infos := make([]map[string]any, 0, len(page))
	for _, ev := range page {
		infos = append(infos, map[string]any{
			"major":            ev.Major,
			"minor":            ev.Minor,
			"time":             ev.Time.UTC().Format(timeLayout),
			"employeeNoString": ev.EmployeeNo,
			"cardNo":           ev.CardNo,
			"serialNo":         ev.SerialNo,
		})
	}

	statusStrg := "OK"

	switch {
	case total == 0:
		statusStrg = "NO MATCH"
	case to < total:
		statusStrg = "MORE"
	}

	writeJSON(w, http.StatusOK, map[string]any{"AcsEvent": map[string]any{
		"searchID":           "isapitest",
		"responseStatusStrg": statusStrg,
		"totalMatches":       total,
		"numOfMatches":       len(infos),
		"InfoList":           infos,
	}})
}

func okStatus() map[string]any {
	return map[string]any{"statusCode": 1, "statusString": "OK", "subStatusCode": "ok"}
}

func status(sub, msg string) map[string]any {
	return map[string]any{
		"statusCode":    6,
		"statusString":  "Invalid Content",
		"subStatusCode": sub,
		"errorMsg":      msg,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
