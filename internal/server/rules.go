package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/rules"
)

// ruleRequest accepts ids and actions as JSON numbers or numeric strings.
type ruleRequest struct {
	Rule        json.Number `json:"rule"`
	Description string      `json:"description"`
	Action      json.Number `json:"action"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rules.List())
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	id, err := parseNumber(req.Rule, "rule")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := parseNumber(req.Action, "action")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := s.rules.Upsert(r.Context(), id, req.Description, rules.Action(action))
	if err != nil {
		s.writeRuleError(w, err)
		return
	}
	s.log.WithField("rule_id", rule.ID).Info("Rule added")
	writeJSON(w, http.StatusCreated, map[string]any{"status": "added", "rule": rule.ID})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "rule id must be an integer")
		return
	}
	var req ruleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	action, err := parseNumber(req.Action, "action")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := s.rules.Update(r.Context(), id, req.Description, rules.Action(action))
	if err != nil {
		s.writeRuleError(w, err)
		return
	}
	s.log.WithField("rule_id", rule.ID).Info("Rule updated")
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "rule": rule.ID})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "rule id must be an integer")
		return
	}
	removed, err := s.rules.Remove(r.Context(), id)
	if err != nil {
		s.writeRuleError(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"rule_id": id, "removed": removed}).Info("Rule removed")
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed", "rule": id, "removed": removed})
}

func (s *Server) writeRuleError(w http.ResponseWriter, err error) {
	var perr *rules.PersistenceError
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &perr):
		// The change is live but not durable; the caller must know.
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  err.Error(),
			"status": "not_persisted",
		})
	case errors.Is(err, rules.ErrInvalidID), errors.Is(err, rules.ErrInvalidAction), errors.Is(err, rules.ErrInvalidDescription):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseNumber(n json.Number, field string) (int, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", field, s)
	}
	return v, nil
}
