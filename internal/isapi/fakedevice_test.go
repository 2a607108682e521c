package isapi

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testUser  = "admin"
	testPass  = "hik12345"
	testRealm = "DS-K1"
	testNonce = "abc123"
)

type recordedRequest struct {
	Method     string
	RequestURI string
	Body       []byte
	Authorized bool
}

// fakeTerminal is an in-process ISAPI terminal: digest auth on every
// request, user/card state, and a canned event log.
type fakeTerminal struct {
	mu       sync.Mutex
	requests []recordedRequest

	// openAccess answers without a challenge.
	openAccess bool
	// rejectAuth answers 401 even to valid digest responses.
	rejectAuth bool
	// ignoreUserFilter returns the first stored user for filtered searches.
	ignoreUserFilter bool

	users     []DeviceUser
	cards     map[string]string // cardNo -> employeeNo
	fingers   json.RawMessage
	eventPage json.RawMessage

	// override replaces the routing for a path when set.
	override map[string]http.HandlerFunc
}

func newFakeTerminal(t *testing.T) (*fakeTerminal, Device) {
	t.Helper()

	f := &fakeTerminal{
		cards:    make(map[string]string),
		override: make(map[string]http.HandlerFunc),
	}

	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)

	return f, deviceFor(t, ts.URL)
}

func deviceFor(t *testing.T, rawURL string) Device {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return Device{
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Port:     port,
		Username: testUser,
		Password: testPass,
		Timeout:  2 * time.Second,
		Location: time.UTC,
	}
}

func (f *fakeTerminal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	authorized := f.openAccess || f.checkDigest(r)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:     r.Method,
		RequestURI: r.URL.RequestURI(),
		Body:       body,
		Authorized: authorized,
	})
	f.mu.Unlock()

	if !authorized {
		w.Header().Set("WWW-Authenticate",
			`Digest realm="`+testRealm+`", nonce="`+testNonce+`", qop="auth"`)
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	if h, ok := f.override[r.URL.Path]; ok {
		h(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case userSearchPath:
		f.userSearch(w, body)
	case userRecordPath:
		f.userRecord(w, body)
	case userModifyPath:
		writeJSON(w, http.StatusOK, okStatus())
	case userDeletePath:
		f.userDelete(w, body)
	case cardRecordPath:
		f.cardRecord(w, body)
	case cardDeletePath:
		writeJSON(w, http.StatusOK, okStatus())
	case fingerprintsPath:
		writeRaw(w, f.fingers)
	case acsEventPath:
		writeRaw(w, f.eventPage)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTerminal) checkDigest(r *http.Request) bool {
	if f.rejectAuth {
		return false
	}

	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Digest ") {
		return false
	}

	params, err := parseAuthParams(strings.TrimPrefix(h, "Digest "))
	if err != nil {
		return false
	}

	if params["uri"] != r.URL.RequestURI() || params["nc"] != nonceCount || params["qop"] != qopAuth {
		return false
	}

	want := DigestResponse(
		Credentials{Username: testUser, Password: testPass},
		Challenge{Realm: testRealm, Nonce: testNonce, QOP: qopAuth},
		r.Method, params["uri"], params["cnonce"],
	)

	return params["username"] == testUser && params["response"] == want
}

func (f *fakeTerminal) userSearch(w http.ResponseWriter, body []byte) {
	var req userSearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var matches []DeviceUser

	switch {
	case len(req.Cond.EmployeeNoList) == 0:
		matches = f.users
	case f.ignoreUserFilter:
		if len(f.users) > 0 {
			matches = f.users[:1]
		}
	default:
		want := req.Cond.EmployeeNoList[0].EmployeeNo
		for _, u := range f.users {
			if u.EmployeeNo == want {
				matches = append(matches, u)
			}
		}
	}

	if len(matches) > req.Cond.MaxResults {
		matches = matches[:req.Cond.MaxResults]
	}

	status := "OK"
	if len(matches) == 0 {
		status = "NO MATCH"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"UserInfoSearch": map[string]any{
			"searchID":           req.Cond.SearchID,
			"responseStatusStrg": status,
			"numOfMatches":       len(matches),
			"totalMatches":       len(matches),
			"UserInfo":           matches,
		},
	})
}

func (f *fakeTerminal) userRecord(w http.ResponseWriter, body []byte) {
	var req struct {
		UserInfo DeviceUser `json:"UserInfo"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, u := range f.users {
		if u.EmployeeNo == req.UserInfo.EmployeeNo {
			writeJSON(w, http.StatusBadRequest, errStatus("employeeNoAlreadyExist", "The employee No. already exists."))
			return
		}
	}

	f.users = append(f.users, req.UserInfo)
	writeJSON(w, http.StatusOK, okStatus())
}

func (f *fakeTerminal) userDelete(w http.ResponseWriter, body []byte) {
	var req userDeleteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	want := req.Cond.EmployeeNoList[0].EmployeeNo

	for i, u := range f.users {
		if u.EmployeeNo == want {
			f.users = append(f.users[:i], f.users[i+1:]...)
			writeJSON(w, http.StatusOK, okStatus())

			return
		}
	}

	writeJSON(w, http.StatusBadRequest, errStatus("employeeNoNotExist", "The employee No. does not exist."))
}

func (f *fakeTerminal) cardRecord(w http.ResponseWriter, body []byte) {
	var req cardInfoRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if owner, ok := f.cards[req.CardInfo.CardNo]; ok && owner != "" {
		writeJSON(w, http.StatusBadRequest, errStatus("cardNoAlreadyExist", "The card No. already exists."))
		return
	}

	f.cards[req.CardInfo.CardNo] = req.CardInfo.EmployeeNo
	writeJSON(w, http.StatusOK, okStatus())
}

func (f *fakeTerminal) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]recordedRequest, len(f.requests))
	copy(out, f.requests)

	return out
}

// authorizedBodies returns the bodies of authenticated requests to path.
func (f *fakeTerminal) authorizedBodies(path string) [][]byte {
	var out [][]byte

	for _, r := range f.recorded() {
		if r.Authorized && strings.HasPrefix(r.RequestURI, path) {
			out = append(out, r.Body)
		}
	}

	return out
}

func okStatus() map[string]any {
	return map[string]any{"statusCode": 1, "statusString": "OK", "subStatusCode": "ok"}
}

func errStatus(sub, msg string) map[string]any {
	return map[string]any{
		"statusCode":    6,
		"statusString":  "Invalid Content",
		"subStatusCode": sub,
		"errorCode":     1610637344,
		"errorMsg":      msg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// rawListener serves each accepted connection with fn on its own goroutine.
func rawListener(t *testing.T, fn func(net.Conn)) Device {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go fn(conn)
		}
	}()

	return deviceFor(t, "http://"+ln.Addr().String())
}
