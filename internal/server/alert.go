package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/invisible-tech/ips-responder/internal/alert"
	"github.com/invisible-tech/ips-responder/internal/types"
)

var outcomeStatus = map[types.OutcomeKind]int{
	types.OutcomeLabeled:            http.StatusOK,
	types.OutcomeNoMatchingRule:     http.StatusOK,
	types.OutcomeWorkloadNotFound:   http.StatusNotFound,
	types.OutcomeInvalidAddress:     http.StatusBadRequest,
	types.OutcomeClusterUnavailable: http.StatusBadGateway,
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	out, err := s.dispatcher.HandlePayload(r.Context(), body)
	if err != nil {
		var verr *alert.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "invalid alert: " + verr.Field,
				"detail": verr.Reason,
				"code":   string(verr.Code),
				"value":  verr.Value,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, ok := outcomeStatus[out.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, out)
}
