// Package dispatcher evaluates validated alerts against the rule registry
// and applies the resulting isolation label to the offending workload.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/alert"
	"github.com/invisible-tech/ips-responder/internal/eventbus"
	"github.com/invisible-tech/ips-responder/internal/inventory"
	"github.com/invisible-tech/ips-responder/internal/rules"
	"github.com/invisible-tech/ips-responder/internal/types"
)

// Prometheus metrics (registered once).
var (
	alertsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ips_alerts_dispatched_total",
			Help: "Total alerts dispatched, by outcome",
		},
		[]string{"outcome"},
	)
	labelsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ips_labels_applied_total",
			Help: "Total isolation labels applied to workloads",
		},
		[]string{"label"},
	)
	alertsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ips_alerts_rejected_total",
			Help: "Total inbound alerts that failed validation",
		},
		[]string{"code"},
	)
	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ips_dispatch_duration_seconds",
			Help:    "Time spent dispatching one alert, including cluster calls",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(alertsDispatched)
	prometheus.MustRegister(labelsApplied)
	prometheus.MustRegister(alertsRejected)
	prometheus.MustRegister(dispatchDuration)
}

// RuleSource is the read side of the rule registry.
type RuleSource interface {
	Get(id int) (rules.Rule, bool)
}

// Dispatcher turns one alert into at most one label patch. It holds no lock
// across cluster calls and never retries.
type Dispatcher struct {
	rules     RuleSource
	inventory inventory.ClusterInventory
	pub       rules.Publisher
	labelKey  string
	validator alert.Validator
	log       *logrus.Logger
}

// New creates a Dispatcher that writes labelKey on matched workloads and
// mirrors every outcome to pub.
func New(rs RuleSource, inv inventory.ClusterInventory, pub rules.Publisher, labelKey string, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		rules:     rs,
		inventory: inv,
		pub:       pub,
		labelKey:  labelKey,
		log:       log,
	}
}

// LabelKey returns the reserved label key this dispatcher writes.
func (d *Dispatcher) LabelKey() string { return d.labelKey }

// HandlePayload normalizes, validates and dispatches one inbound payload.
// A rejected payload is published and returned as *alert.ValidationError.
func (d *Dispatcher) HandlePayload(ctx context.Context, data []byte) (types.Outcome, error) {
	raw, err := alert.Normalize(data)
	if err == nil {
		var a types.Alert
		if a, err = d.validator.Validate(raw); err == nil {
			return d.Dispatch(ctx, a), nil
		}
	}
	d.reject(err)
	return types.Outcome{}, err
}

func (d *Dispatcher) reject(err error) {
	code := "unknown"
	var verr *alert.ValidationError
	if errors.As(err, &verr) {
		code = string(verr.Code)
	}
	alertsRejected.WithLabelValues(code).Inc()
	d.log.WithError(err).WithFields(logrus.Fields{"code": code, eventbus.PublishedField: true}).Warn("Alert rejected")
	d.pub.Publish(fmt.Sprintf("alert rejected: %v", err))
}

// Dispatch evaluates a and returns its outcome. Every outcome is published
// as one line.
func (d *Dispatcher) Dispatch(ctx context.Context, a types.Alert) types.Outcome {
	start := time.Now()
	out := d.dispatch(ctx, a)
	dispatchDuration.Observe(time.Since(start).Seconds())
	alertsDispatched.WithLabelValues(string(out.Kind)).Inc()

	d.pub.Publish(out.String())

	// The outcome line above is the bus copy of this entry.
	entry := d.log.WithFields(logrus.Fields{
		"dispatch_id":           out.DispatchID,
		"outcome":               out.Kind,
		"rule_id":               out.RuleID,
		"src_ip":                out.SourceAddress,
		eventbus.PublishedField: true,
	})
	switch out.Kind {
	case types.OutcomeLabeled:
		entry.WithFields(logrus.Fields{
			"pod":       out.Workload,
			"namespace": out.Namespace,
			"label":     out.AppliedLabel[d.labelKey],
		}).Warn("Workload labeled")
	case types.OutcomeClusterUnavailable, types.OutcomeInvalidAddress:
		entry.WithField("detail", out.Message).Error("Alert dispatch failed")
	default:
		entry.Info("Alert dispatched")
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, a types.Alert) types.Outcome {
	out := types.Outcome{
		DispatchID:    uuid.New().String(),
		RuleID:        a.SignatureID,
		SourceAddress: a.SourceAddress,
	}

	if !alert.ValidIPv4(a.SourceAddress) {
		out.Kind = types.OutcomeInvalidAddress
		out.Message = fmt.Sprintf("src_ip %q is not an IPv4 address", a.SourceAddress)
		return out
	}

	// Snapshot: a rule changed after this point does not affect this dispatch.
	rule, ok := d.rules.Get(a.SignatureID)
	if !ok {
		out.Kind = types.OutcomeNoMatchingRule
		out.Message = fmt.Sprintf("rule %d is not configured, no action taken", a.SignatureID)
		return out
	}
	label := rules.LabelFor(rule.Action)

	w, err := d.inventory.FindWorkloadByAddress(ctx, a.SourceAddress)
	if err != nil {
		return d.failed(out, err, "no workload holds this address")
	}

	if err := d.inventory.PatchLabel(ctx, w.Namespace, w.Name, d.labelKey, &label); err != nil {
		// The pod can disappear between lookup and patch.
		return d.failed(out, err, fmt.Sprintf("workload %s/%s disappeared before labeling", w.Namespace, w.Name))
	}

	labelsApplied.WithLabelValues(label).Inc()
	out.Kind = types.OutcomeLabeled
	out.Workload = w.Name
	out.Namespace = w.Namespace
	out.AppliedLabel = map[string]string{d.labelKey: label}
	out.Message = rule.Description
	return out
}

func (d *Dispatcher) failed(out types.Outcome, err error, notFoundMsg string) types.Outcome {
	if errors.Is(err, inventory.ErrWorkloadNotFound) {
		out.Kind = types.OutcomeWorkloadNotFound
		out.Message = notFoundMsg
		return out
	}
	out.Kind = types.OutcomeClusterUnavailable
	out.Message = err.Error()
	return out
}
