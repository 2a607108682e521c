package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

var (
	ErrInvalidEmployeeNo = errors.New("employee_no is required")
	ErrInvalidCardNo     = errors.New("card_no is required")
)

// maxSearchResults caps list calls made on behalf of API clients.
const maxSearchResults = 1000

// ProvisionService routes provisioning calls to the right device. Input and
// device-lookup problems come back as errors; device-side failures come back
// inside the result.
type ProvisionService struct {
	registry *DeviceRegistry
	log      zerolog.Logger
}

func NewProvisionService(reg *DeviceRegistry, log zerolog.Logger) *ProvisionService {
	return &ProvisionService{registry: reg, log: log}
}

func (s *ProvisionService) provisioner(deviceID string) (*isapi.Provisioner, error) {
	c, err := s.registry.Client(deviceID)
	if err != nil {
		return nil, err
	}

	return c.Provisioner, nil
}

func (s *ProvisionService) UpsertUser(ctx context.Context, deviceID, employeeNo, name string) (isapi.ProvisionResult, error) {
	employeeNo = strings.TrimSpace(employeeNo)
	if employeeNo == "" {
		return isapi.ProvisionResult{}, ErrInvalidEmployeeNo
	}

	p, err := s.provisioner(deviceID)
	if err != nil {
		return isapi.ProvisionResult{}, err
	}

	res := p.CreateOrUpdateUser(ctx, employeeNo, strings.TrimSpace(name))
	s.logResult(deviceID, "upsert_user", employeeNo, res)

	return res, nil
}

func (s *ProvisionService) DeleteUser(ctx context.Context, deviceID, employeeNo string) (isapi.ProvisionResult, error) {
	employeeNo = strings.TrimSpace(employeeNo)
	if employeeNo == "" {
		return isapi.ProvisionResult{}, ErrInvalidEmployeeNo
	}

	p, err := s.provisioner(deviceID)
	if err != nil {
		return isapi.ProvisionResult{}, err
	}

	res := p.DeleteUser(ctx, employeeNo)
	s.logResult(deviceID, "delete_user", employeeNo, res)

	return res, nil
}

func (s *ProvisionService) GetUser(ctx context.Context, deviceID, employeeNo string) (isapi.UserLookup, error) {
	employeeNo = strings.TrimSpace(employeeNo)
	if employeeNo == "" {
		return isapi.UserLookup{}, ErrInvalidEmployeeNo
	}

	p, err := s.provisioner(deviceID)
	if err != nil {
		return isapi.UserLookup{}, err
	}

	return p.GetUserInfo(ctx, employeeNo), nil
}

func (s *ProvisionService) AddCard(ctx context.Context, deviceID, employeeNo, cardNo string) (isapi.ProvisionResult, error) {
	employeeNo = strings.TrimSpace(employeeNo)
	cardNo = strings.TrimSpace(cardNo)

	if employeeNo == "" {
		return isapi.ProvisionResult{}, ErrInvalidEmployeeNo
	}

	if cardNo == "" {
		return isapi.ProvisionResult{}, ErrInvalidCardNo
	}

	p, err := s.provisioner(deviceID)
	if err != nil {
		return isapi.ProvisionResult{}, err
	}

	res := p.AddCard(ctx, employeeNo, cardNo)
	s.logResult(deviceID, "add_card", employeeNo, res)

	return res, nil
}

func (s *ProvisionService) DeleteCard(ctx context.Context, deviceID, cardNo string) (isapi.ProvisionResult, error) {
	cardNo = strings.TrimSpace(cardNo)
	if cardNo == "" {
		return isapi.ProvisionResult{}, ErrInvalidCardNo
	}

	p, err := s.provisioner(deviceID)
	if err != nil {
		return isapi.ProvisionResult{}, err
	}

	res := p.DeleteCard(ctx, cardNo)
	s.logResult(deviceID, "delete_card", "", res)

	return res, nil
}

func (s *ProvisionService) SearchCards(ctx context.Context, deviceID string, maxResults int) (isapi.CardSearch, error) {
	p, err := s.provisioner(deviceID)
	if err != nil {
		return isapi.CardSearch{}, err
	}

	return p.SearchCards(ctx, clampResults(maxResults)), nil
}

func (s *ProvisionService) SearchFingerprints(ctx context.Context, deviceID string, maxResults int) (isapi.FingerprintSearch, error) {
	p, err := s.provisioner(deviceID)
	if err != nil {
		return isapi.FingerprintSearch{}, err
	}

	return p.SearchFingerprints(ctx, clampResults(maxResults)), nil
}

func (s *ProvisionService) logResult(deviceID, op, employeeNo string, res isapi.ProvisionResult) {
	var ev *zerolog.Event
	if res.Success {
		ev = s.log.Info()
	} else {
		ev = s.log.Warn().Str("kind", string(res.Kind)).Str("error", res.Error)
	}

	ev.Str("device_id", deviceID).
		Str("op", op).
		Str("employee_no", employeeNo).
		Str("action", res.Action).
		Bool("success", res.Success).
		Msg("provision")
}

func clampResults(n int) int {
	switch {
	case n <= 0:
		return isapi.DefaultPageSize
	case n > maxSearchResults:
		return maxSearchResults
	default:
		return n
	}
}
