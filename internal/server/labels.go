package server

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/eventbus"
	"github.com/invisible-tech/ips-responder/internal/rules"
	"github.com/invisible-tech/ips-responder/pkg/netpolicy"
)

func (s *Server) labelKey() string {
	return s.dispatcher.LabelKey()
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := s.inventory.ListNamespaces(r.Context())
	if err != nil {
		writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, namespaces)
}

func (s *Server) handlePods(w http.ResponseWriter, r *http.Request) {
	workloads, err := s.inventory.ListWorkloads(r.Context(), r.PathValue("namespace"))
	if err != nil {
		writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workloads)
}

func (s *Server) handlePodDetails(w http.ResponseWriter, r *http.Request) {
	namespace, pod := r.URL.Query().Get("namespace"), r.URL.Query().Get("pod")
	if namespace == "" || pod == "" {
		writeError(w, http.StatusBadRequest, "namespace and pod query parameters are required")
		return
	}
	workload, err := s.inventory.GetWorkload(r.Context(), namespace, pod)
	if err != nil {
		writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workload)
}

func (s *Server) handleLabeledPods(w http.ResponseWriter, r *http.Request) {
	labeled, err := s.inventory.ListLabeled(r.Context(), s.labelKey())
	if err != nil {
		writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, labeled)
}

func (s *Server) handleUnlabel(w http.ResponseWriter, r *http.Request) {
	namespace, pod := r.PathValue("namespace"), r.PathValue("pod")
	if err := s.inventory.PatchLabel(r.Context(), namespace, pod, s.labelKey(), nil); err != nil {
		writeClusterError(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"pod": pod, "namespace": namespace, eventbus.PublishedField: true}).Info("Isolation label removed")
	s.bus.Publish(fmt.Sprintf("label %s removed from pod %s/%s", s.labelKey(), namespace, pod))
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlabeled"})
}

func (s *Server) handleModifyLabel(w http.ResponseWriter, r *http.Request) {
	namespace, pod := r.PathValue("namespace"), r.PathValue("pod")
	var req struct {
		Label string `json:"label"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if _, ok := rules.ActionForLabel(req.Label); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   fmt.Sprintf("invalid label %q", req.Label),
			"allowed": rules.Labels(),
		})
		return
	}
	if err := s.inventory.PatchLabel(r.Context(), namespace, pod, s.labelKey(), &req.Label); err != nil {
		writeClusterError(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"pod": pod, "namespace": namespace, "label": req.Label, eventbus.PublishedField: true}).Info("Isolation label modified")
	s.bus.Publish(fmt.Sprintf("label %s=%s set on pod %s/%s by operator", s.labelKey(), req.Label, namespace, pod))
	writeJSON(w, http.StatusOK, map[string]string{"status": "modified"})
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		writeError(w, http.StatusBadRequest, "namespace query parameter is required")
		return
	}
	policies := netpolicy.Render(namespace, s.labelKey())
	if r.URL.Query().Get("format") != "yaml" {
		writeJSON(w, http.StatusOK, policies)
		return
	}
	out, err := netpolicy.MarshalYAML(policies)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}
