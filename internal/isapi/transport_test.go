package isapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_ChallengeThenAuthenticatedRetry(t *testing.T) {
	f, dev := newFakeTerminal(t)
	f.override[userSearchPath] = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"UserInfoSearch": map[string]any{"UserInfo": []any{}}})
	}

	tr := NewTransport(dev, WithCNonceSource(func() (string, error) { return "0a4f113b", nil }))

	body := map[string]any{"UserInfoSearchCond": map[string]any{"searchID": "1", "maxResults": 1}}
	resp, err := tr.Do(context.Background(), http.MethodPost, userSearchPath, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsJSON())

	reqs := f.recorded()
	require.Len(t, reqs, 2)
	assert.False(t, reqs[0].Authorized)
	assert.True(t, reqs[1].Authorized)
	assert.Equal(t, reqs[0].Method, reqs[1].Method)
	assert.Equal(t, reqs[0].RequestURI, reqs[1].RequestURI)
	assert.JSONEq(t, string(reqs[0].Body), string(reqs[1].Body))
	assert.Equal(t, userSearchPath+"?format=json", reqs[0].RequestURI)
}

func TestTransport_LenientDeviceAnswersWithoutChallenge(t *testing.T) {
	f, dev := newFakeTerminal(t)
	f.openAccess = true
	f.eventPage = json.RawMessage(`{"AcsEvent":{"totalMatches":0}}`)

	resp, err := NewTransport(dev).Do(context.Background(), http.MethodPost, acsEventPath, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.recorded(), 1)
}

func TestTransport_NonAuthStatusFailsImmediately(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "firmware busy", http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)

	_, err := NewTransport(deviceFor(t, ts.URL)).Do(context.Background(), http.MethodGet, "/ISAPI/System/deviceInfo", nil)
	require.ErrorIs(t, err, ErrProtocol)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusServiceUnavailable, e.StatusCode)
	assert.Contains(t, e.Body, "firmware busy")
}

func TestTransport_RejectedDigestIsAuthenticationFailure(t *testing.T) {
	f, dev := newFakeTerminal(t)
	f.rejectAuth = true

	_, err := NewTransport(dev).Do(context.Background(), http.MethodPost, acsEventPath, nil)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Len(t, f.recorded(), 2, "exactly one authenticated retry")
}

func TestTransport_MissingChallengeIsProtocolError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(ts.Close)

	_, err := NewTransport(deviceFor(t, ts.URL)).Do(context.Background(), http.MethodGet, "/ISAPI/System/deviceInfo", nil)
	require.ErrorIs(t, err, ErrProtocol)
	require.ErrorIs(t, err, ErrChallengeParse)
}

func TestTransport_MislabeledJSONIsParsed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`  {"CardInfoSearch":{"totalMatches":2}}`))
	}))
	t.Cleanup(ts.Close)

	resp, err := NewTransport(deviceFor(t, ts.URL)).Do(context.Background(), http.MethodPost, cardSearchPath, nil)
	require.NoError(t, err)
	require.True(t, resp.IsJSON())

	var out cardSearchResponse
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, 2, out.CardInfoSearch.TotalMatches)
}

func TestTransport_PlainTextStaysText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html>ok</html>`))
	}))
	t.Cleanup(ts.Close)

	resp, err := NewTransport(deviceFor(t, ts.URL)).Do(context.Background(), http.MethodGet, "/", nil)
	require.NoError(t, err)
	assert.False(t, resp.IsJSON())
	assert.Equal(t, "<html>ok</html>", resp.Text)
	require.ErrorIs(t, resp.Decode(&struct{}{}), ErrProtocol)
}

func TestTransport_DeadlineCoversWholeExchange(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(3 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(ts.Close)

	dev := deviceFor(t, ts.URL)
	dev.Timeout = 150 * time.Millisecond

	start := time.Now()
	_, err := NewTransport(dev).Do(context.Background(), http.MethodGet, "/ISAPI/System/deviceInfo", nil)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTransport_DeviceConflictStatus(t *testing.T) {
	f, dev := newFakeTerminal(t)
	f.cards["99887766"] = "1002"

	body := cardInfoRequest{CardInfo: Card{EmployeeNo: "1001", CardNo: "99887766"}}
	_, err := NewTransport(dev).Do(context.Background(), http.MethodPost, cardRecordPath, body)

	require.ErrorIs(t, err, ErrDeviceConflict)
	assert.Contains(t, DeviceMessage(err), "cardNoAlreadyExist")
}

func TestRequestURI_AddsFormat(t *testing.T) {
	got, err := requestURI("ISAPI/AccessControl/AcsEvent")
	require.NoError(t, err)
	assert.Equal(t, "/ISAPI/AccessControl/AcsEvent?format=json", got)

	got, err = requestURI("/ISAPI/AccessControl/UserInfo/Search?format=json")
	require.NoError(t, err)
	assert.Equal(t, "/ISAPI/AccessControl/UserInfo/Search?format=json", got)
}

func TestList_SingleObjectOrArray(t *testing.T) {
	var one List[Card]
	require.NoError(t, json.Unmarshal([]byte(`{"cardNo":"1","employeeNo":"a"}`), &one))
	assert.Equal(t, List[Card]{{CardNo: "1", EmployeeNo: "a"}}, one)

	var many List[Card]
	require.NoError(t, json.Unmarshal([]byte(`[{"cardNo":"1"},{"cardNo":"2"}]`), &many))
	assert.Len(t, many, 2)

	var none List[Card]
	require.NoError(t, json.Unmarshal([]byte(`null`), &none))
	assert.Empty(t, none)
}
