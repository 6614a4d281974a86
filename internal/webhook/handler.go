package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/invisible-tech/ips-responder/internal/config"
)

var guardDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ips_labelguard_decisions_total",
		Help: "Admission decisions on changes to the isolation label",
	},
	[]string{"decision"},
)

func init() {
	prometheus.MustRegister(guardDecisions)
}

// ProcessAdmissionReview decodes the admission review request, applies the
// label guard, and returns the response body (AdmissionReview with Response set).
func ProcessAdmissionReview(body []byte, cfg config.GuardConfig, log *logrus.Logger) ([]byte, error) {
	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(body, &review); err != nil {
		return nil, fmt.Errorf("decode admission review: %w", err)
	}
	if review.Request == nil {
		return nil, fmt.Errorf("admission review has no request")
	}

	response := processRequest(review.Request, cfg, log)
	review.Response = response
	review.Response.UID = review.Request.UID

	return json.Marshal(review)
}

func processRequest(req *admissionv1.AdmissionRequest, cfg config.GuardConfig, log *logrus.Logger) *admissionv1.AdmissionResponse {
	if req.Kind.Kind != "Pod" || req.Operation != admissionv1.Update {
		return &admissionv1.AdmissionResponse{Allowed: true}
	}

	var oldPod, newPod corev1.Pod
	if err := json.Unmarshal(req.OldObject.Raw, &oldPod); err != nil {
		return deny(fmt.Sprintf("Failed to unmarshal old pod: %v", err), http.StatusBadRequest)
	}
	if err := json.Unmarshal(req.Object.Raw, &newPod); err != nil {
		return deny(fmt.Sprintf("Failed to unmarshal pod: %v", err), http.StatusBadRequest)
	}

	change := DiffLabel(&oldPod, &newPod, cfg.LabelKey)
	if !change.Changed() {
		return &admissionv1.AdmissionResponse{Allowed: true}
	}

	fields := logrus.Fields{
		"pod":       req.Name,
		"namespace": req.Namespace,
		"user":      req.UserInfo.Username,
		"label":     cfg.LabelKey,
		"change":    change.String(),
	}
	if IsAllowedUser(cfg, req.UserInfo.Username) {
		guardDecisions.WithLabelValues("allowed").Inc()
		log.WithFields(fields).Debug("Isolation label change allowed")
		return &admissionv1.AdmissionResponse{Allowed: true}
	}

	guardDecisions.WithLabelValues("denied").Inc()
	log.WithFields(fields).Warn("Denied isolation label change")
	return deny(fmt.Sprintf("label %q is managed by the IPS responder and cannot be changed by %s",
		cfg.LabelKey, req.UserInfo.Username), http.StatusForbidden)
}

func deny(msg string, code int32) *admissionv1.AdmissionResponse {
	return &admissionv1.AdmissionResponse{
		Allowed: false,
		Result: &metav1.Status{
			Status:  metav1.StatusFailure,
			Message: msg,
			Code:    code,
		},
	}
}

// NewHandler serves the guard on /validate and a liveness probe on /health.
func NewHandler(cfg config.GuardConfig, log *logrus.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /validate", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		resp, err := ProcessAdmissionReview(body, cfg, log)
		if err != nil {
			log.WithError(err).Error("Failed to process admission review")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	})
	return mux
}
