package isapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const (
	userSearchPath   = "/ISAPI/AccessControl/UserInfo/Search"
	userRecordPath   = "/ISAPI/AccessControl/UserInfo/Record"
	userModifyPath   = "/ISAPI/AccessControl/UserInfo/Modify"
	userDeletePath   = "/ISAPI/AccessControl/UserInfo/Delete"
	cardRecordPath   = "/ISAPI/AccessControl/CardInfo/Record"
	cardSearchPath   = "/ISAPI/AccessControl/CardInfo/Search"
	cardDeletePath   = "/ISAPI/AccessControl/CardInfo/Delete"
	fingerprintsPath = "/ISAPI/AccessControl/FingerPrintUpload"

	// DefaultUserScanLimit bounds the fallback scan used when a device
	// ignores the employee-number filter.
	DefaultUserScanLimit = 100

	defaultValidBegin = "2000-01-01T00:00:00"
	defaultValidEnd   = "2037-12-31T23:59:59"
	defaultDoorRight  = "1"
	defaultCardType   = "normalCard"
	defaultUserType   = "normal"
)

// Actions reported in ProvisionResult.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionAbsent  = "absent"
	ActionAdded   = "added"
)

// ProvisionResult is the outcome of one provisioning call. Failures are
// reported here instead of as errors so bulk jobs can keep going.
type ProvisionResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
}

func failed(err error) ProvisionResult {
	return ProvisionResult{Success: false, Error: DeviceMessage(err), Kind: KindOf(err)}
}

// UserLookup is the outcome of GetUserInfo.
type UserLookup struct {
	Found bool        `json:"found"`
	User  *DeviceUser `json:"user,omitempty"`
	Error string      `json:"error,omitempty"`
	Kind  Kind        `json:"kind,omitempty"`
}

// CardSearch is one page of cards.
type CardSearch struct {
	Success bool   `json:"success"`
	Cards   []Card `json:"cards"`
	Total   int    `json:"total"`
	Error   string `json:"error,omitempty"`
}

// FingerprintSearch is one page of fingerprint templates.
type FingerprintSearch struct {
	Success      bool          `json:"success"`
	Fingerprints []Fingerprint `json:"fingerprints"`
	Error        string        `json:"error,omitempty"`
}

type employeeNoRef struct {
	EmployeeNo string `json:"employeeNo"`
}

type cardNoRef struct {
	CardNo string `json:"cardNo"`
}

type rightPlan struct {
	DoorNo         int    `json:"doorNo"`
	PlanTemplateNo string `json:"planTemplateNo"`
}

type userInfoRecord struct {
	DeviceUser
	RightPlan []rightPlan `json:"RightPlan,omitempty"`
}

type userInfoRequest struct {
	UserInfo any `json:"UserInfo"`
}

type userSearchRequest struct {
	Cond userSearchCond `json:"UserInfoSearchCond"`
}

type userSearchCond struct {
	SearchID             string          `json:"searchID"`
	SearchResultPosition int             `json:"searchResultPosition"`
	MaxResults           int             `json:"maxResults"`
	EmployeeNoList       []employeeNoRef `json:"EmployeeNoList,omitempty"`
}

type userSearchResponse struct {
	UserInfoSearch struct {
		SearchID           string           `json:"searchID"`
		ResponseStatusStrg string           `json:"responseStatusStrg"`
		NumOfMatches       int              `json:"numOfMatches"`
		TotalMatches       int              `json:"totalMatches"`
		UserInfo           List[DeviceUser] `json:"UserInfo"`
	} `json:"UserInfoSearch"`
}

type userDeleteRequest struct {
	Cond struct {
		EmployeeNoList []employeeNoRef `json:"EmployeeNoList"`
	} `json:"UserInfoDelCond"`
}

type cardInfoRequest struct {
	CardInfo Card `json:"CardInfo"`
}

type cardSearchRequest struct {
	Cond struct {
		SearchID             string `json:"searchID"`
		SearchResultPosition int    `json:"searchResultPosition"`
		MaxResults           int    `json:"maxResults"`
	} `json:"CardInfoSearchCond"`
}

type cardSearchResponse struct {
	CardInfoSearch struct {
		SearchID           string     `json:"searchID"`
		ResponseStatusStrg string     `json:"responseStatusStrg"`
		TotalMatches       int        `json:"totalMatches"`
		CardInfo           List[Card] `json:"CardInfo"`
	} `json:"CardInfoSearch"`
}

type cardDeleteRequest struct {
	Cond struct {
		CardNoList []cardNoRef `json:"CardNoList"`
	} `json:"CardInfoDelCond"`
}

type fingerprintSearchRequest struct {
	Cond struct {
		SearchID             string `json:"searchID"`
		SearchResultPosition int    `json:"searchResultPosition"`
		MaxResults           int    `json:"maxResults"`
	} `json:"FingerPrintCond"`
}

type fingerprintSearchResponse struct {
	FingerPrintInfo struct {
		SearchID        string            `json:"searchID"`
		Status          string            `json:"status"`
		FingerPrintList List[Fingerprint] `json:"FingerPrintList"`
	} `json:"FingerPrintInfo"`
}

type ProvisionerOption func(*Provisioner)

func WithProvisionerLogger(l zerolog.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.log = l }
}

// WithUserScanLimit sets the page size of the fallback user scan.
func WithUserScanLimit(n int) ProvisionerOption {
	return func(p *Provisioner) {
		if n > 0 {
			p.scanLimit = n
		}
	}
}

// Provisioner manages user, card and fingerprint records on a device. The
// device is the system of record; nothing is cached here.
type Provisioner struct {
	transport *Transport
	log       zerolog.Logger
	scanLimit int
}

func NewProvisioner(t *Transport, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{transport: t, log: zerolog.Nop(), scanLimit: DefaultUserScanLimit}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CreateOrUpdateUser modifies the user when it exists and creates it with
// an open validity window otherwise.
func (p *Provisioner) CreateOrUpdateUser(ctx context.Context, employeeNo, name string) ProvisionResult {
	employeeNo = strings.TrimSpace(employeeNo)
	if employeeNo == "" {
		return ProvisionResult{Error: "employeeNo is required", Kind: KindProtocol}
	}

	existing, err := p.findUser(ctx, employeeNo)
	if err != nil {
		return failed(err)
	}

	if existing != nil {
		body := userInfoRequest{UserInfo: DeviceUser{
			EmployeeNo: employeeNo,
			Name:       name,
			UserType:   existing.UserType,
			Valid:      existing.Valid,
		}}
		if err := p.write(ctx, http.MethodPut, userModifyPath, body); err != nil {
			return failed(err)
		}

		p.log.Info().Str("employee_no", employeeNo).Msg("device user updated")

		return ProvisionResult{Success: true, Action: ActionUpdated}
	}

	body := userInfoRequest{UserInfo: userInfoRecord{
		DeviceUser: DeviceUser{
			EmployeeNo: employeeNo,
			Name:       name,
			UserType:   defaultUserType,
			Valid: &Validity{
				Enable:    true,
				BeginTime: defaultValidBegin,
				EndTime:   defaultValidEnd,
				TimeType:  "local",
			},
			DoorRight: defaultDoorRight,
		},
		RightPlan: []rightPlan{{DoorNo: 1, PlanTemplateNo: "1"}},
	}}
	if err := p.write(ctx, http.MethodPost, userRecordPath, body); err != nil {
		return failed(err)
	}

	p.log.Info().Str("employee_no", employeeNo).Msg("device user created")

	return ProvisionResult{Success: true, Action: ActionCreated}
}

// DeleteUser removes a user record. Deleting an absent user succeeds.
func (p *Provisioner) DeleteUser(ctx context.Context, employeeNo string) ProvisionResult {
	employeeNo = strings.TrimSpace(employeeNo)
	if employeeNo == "" {
		return ProvisionResult{Error: "employeeNo is required", Kind: KindProtocol}
	}

	var body userDeleteRequest
	body.Cond.EmployeeNoList = []employeeNoRef{{EmployeeNo: employeeNo}}

	err := p.write(ctx, http.MethodPut, userDeletePath, body)

	switch {
	case err == nil:
		return ProvisionResult{Success: true, Action: ActionDeleted}
	case errors.Is(err, ErrNotFound):
		return ProvisionResult{Success: true, Action: ActionAbsent}
	default:
		return failed(err)
	}
}

// GetUserInfo looks up one user by exact employee number.
func (p *Provisioner) GetUserInfo(ctx context.Context, employeeNo string) UserLookup {
	employeeNo = strings.TrimSpace(employeeNo)
	if employeeNo == "" {
		return UserLookup{Error: "employeeNo is required", Kind: KindProtocol}
	}

	u, err := p.findUser(ctx, employeeNo)
	if err != nil {
		return UserLookup{Error: DeviceMessage(err), Kind: KindOf(err)}
	}

	if u == nil {
		return UserLookup{Found: false}
	}

	return UserLookup{Found: true, User: u}
}

// findUser returns nil, nil when the user does not exist. A filtered search
// whose result does not match exactly falls back to a bounded full scan.
// Some firmwares answer a search for an unknown employee with an
// employeeNoNotExist error status instead of an empty list.
func (p *Provisioner) findUser(ctx context.Context, employeeNo string) (*DeviceUser, error) {
	users, err := p.searchUsers(ctx, 1, []employeeNoRef{{EmployeeNo: employeeNo}})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if len(users) == 0 {
		return nil, nil
	}

	if u := matchUser(users, employeeNo); u != nil {
		return u, nil
	}

	p.log.Warn().
		Str("employee_no", employeeNo).
		Str("returned", users[0].EmployeeNo).
		Msg("device ignored employee filter; scanning user list")

	users, err = p.searchUsers(ctx, p.scanLimit, nil)
	if err != nil {
		return nil, err
	}

	return matchUser(users, employeeNo), nil
}

func matchUser(users []DeviceUser, employeeNo string) *DeviceUser {
	for i := range users {
		if users[i].EmployeeNo == employeeNo {
			u := users[i]
			return &u
		}
	}

	return nil
}

func (p *Provisioner) searchUsers(ctx context.Context, maxResults int, filter []employeeNoRef) ([]DeviceUser, error) {
	req := userSearchRequest{Cond: userSearchCond{
		SearchID:       newSearchID(),
		MaxResults:     maxResults,
		EmployeeNoList: filter,
	}}

	resp, err := p.transport.Do(ctx, http.MethodPost, userSearchPath, req)
	if err != nil {
		return nil, err
	}

	var out userSearchResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	return out.UserInfoSearch.UserInfo, nil
}

// AddCard binds cardNo to employeeNo. A card already held by anyone is a
// DeviceConflict; nothing is overwritten.
func (p *Provisioner) AddCard(ctx context.Context, employeeNo, cardNo string) ProvisionResult {
	employeeNo = strings.TrimSpace(employeeNo)
	cardNo = strings.TrimSpace(cardNo)

	if employeeNo == "" || cardNo == "" {
		return ProvisionResult{Error: "employeeNo and cardNo are required", Kind: KindProtocol}
	}

	body := cardInfoRequest{CardInfo: Card{EmployeeNo: employeeNo, CardNo: cardNo, CardType: defaultCardType}}
	if err := p.write(ctx, http.MethodPost, cardRecordPath, body); err != nil {
		return failed(err)
	}

	return ProvisionResult{Success: true, Action: ActionAdded}
}

// DeleteCard detaches cardNo from whoever holds it.
func (p *Provisioner) DeleteCard(ctx context.Context, cardNo string) ProvisionResult {
	cardNo = strings.TrimSpace(cardNo)
	if cardNo == "" {
		return ProvisionResult{Error: "cardNo is required", Kind: KindProtocol}
	}

	var body cardDeleteRequest
	body.Cond.CardNoList = []cardNoRef{{CardNo: cardNo}}

	if err := p.write(ctx, http.MethodPut, cardDeletePath, body); err != nil {
		return failed(err)
	}

	return ProvisionResult{Success: true, Action: ActionDeleted}
}

// SearchCards returns the first page of cards on the device.
func (p *Provisioner) SearchCards(ctx context.Context, maxResults int) CardSearch {
	if maxResults <= 0 {
		maxResults = DefaultPageSize
	}

	var req cardSearchRequest
	req.Cond.SearchID = newSearchID()
	req.Cond.MaxResults = maxResults

	resp, err := p.transport.Do(ctx, http.MethodPost, cardSearchPath, req)
	if err != nil {
		return CardSearch{Error: DeviceMessage(err)}
	}

	var out cardSearchResponse
	if err := resp.Decode(&out); err != nil {
		return CardSearch{Error: err.Error()}
	}

	cards := []Card(out.CardInfoSearch.CardInfo)
	if cards == nil {
		cards = []Card{}
	}

	return CardSearch{Success: true, Cards: cards, Total: out.CardInfoSearch.TotalMatches}
}

// SearchFingerprints returns the first page of enrolled fingerprints.
func (p *Provisioner) SearchFingerprints(ctx context.Context, maxResults int) FingerprintSearch {
	if maxResults <= 0 {
		maxResults = DefaultPageSize
	}

	var req fingerprintSearchRequest
	req.Cond.SearchID = newSearchID()
	req.Cond.MaxResults = maxResults

	resp, err := p.transport.Do(ctx, http.MethodPost, fingerprintsPath, req)
	if err != nil {
		return FingerprintSearch{Error: DeviceMessage(err)}
	}

	var out fingerprintSearchResponse
	if err := resp.Decode(&out); err != nil {
		return FingerprintSearch{Error: err.Error()}
	}

	fps := []Fingerprint(out.FingerPrintInfo.FingerPrintList)
	if fps == nil {
		fps = []Fingerprint{}
	}

	return FingerprintSearch{Success: true, Fingerprints: fps}
}

// write performs a mutating call and checks the ResponseStatus body that
// devices return even with HTTP 200.
func (p *Provisioner) write(ctx context.Context, method, path string, body any) error {
	resp, err := p.transport.Do(ctx, method, path, body)
	if err != nil {
		return err
	}

	if !resp.IsJSON() {
		return nil
	}

	st := parseResponseStatus(resp.JSON)
	if st == nil || st.OK() {
		return nil
	}

	return &Error{
		Kind:       st.kind(),
		Op:         fmt.Sprintf("%s %s", method, path),
		StatusCode: resp.StatusCode,
		Body:       truncate(string(resp.Body)),
		Status:     st,
	}
}
