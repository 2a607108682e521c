package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/service"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

type errorBody struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{OK: false, Error: code, Message: msg})
}

// respond writes v as protobuf when the client asked for it, JSON otherwise.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !wantsProtobuf(r) {
		writeJSON(w, status, v)
		return
	}

	msg, err := toStruct(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode_error", "cannot encode response")
		return
	}

	writeProto(w, status, msg)
}

// serviceError maps lookup and validation errors from the service layer.
func (s *Server) serviceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDeviceID):
		writeError(w, http.StatusBadRequest, "invalid_device_id", err.Error())
	case errors.Is(err, service.ErrInvalidEmployeeNo):
		writeError(w, http.StatusBadRequest, "invalid_employee_no", err.Error())
	case errors.Is(err, service.ErrInvalidCardNo):
		writeError(w, http.StatusBadRequest, "invalid_card_no", err.Error())
	case errors.Is(err, service.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, "unknown_device", err.Error())
	case isapi.KindOf(err) != "":
		writeError(w, statusForKind(isapi.KindOf(err)), string(isapi.KindOf(err)), isapi.DeviceMessage(err))
	default:
		s.internalError(w, op, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

// statusForKind maps a device failure onto the status the bridge returns.
func statusForKind(k isapi.Kind) int {
	switch k {
	case isapi.KindDeviceConflict:
		return http.StatusConflict
	case isapi.KindNotFound:
		return http.StatusNotFound
	case isapi.KindNetworkUnreachable, isapi.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func resultStatus(success bool, k isapi.Kind) int {
	if success {
		return http.StatusOK
	}

	return statusForKind(k)
}
