// Package types defines the alert, workload and dispatch outcome types shared
// by the validator, the dispatcher, the cluster inventory and the HTTP API.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Alert is a validated intrusion-detection alert. It only lives for the
// duration of one dispatch.
type Alert struct {
	ReceivedAt    time.Time `json:"received_at"`
	SignatureID   int       `json:"signature_id"`
	SourceAddress string    `json:"src_ip"`
	Message       string    `json:"message,omitempty"`
}

// OutcomeKind tags the result of dispatching one alert.
type OutcomeKind string

const (
	OutcomeNoMatchingRule     OutcomeKind = "no_matching_rule"
	OutcomeLabeled            OutcomeKind = "labeled"
	OutcomeWorkloadNotFound   OutcomeKind = "workload_not_found"
	OutcomeInvalidAddress     OutcomeKind = "invalid_address"
	OutcomeClusterUnavailable OutcomeKind = "cluster_unavailable"
)

// Outcome is the result of one dispatch. Workload, Namespace and AppliedLabel
// are only set for OutcomeLabeled.
type Outcome struct {
	DispatchID    string            `json:"dispatch_id"`
	Kind          OutcomeKind       `json:"status"`
	RuleID        int               `json:"rule_id"`
	SourceAddress string            `json:"src_ip"`
	Workload      string            `json:"pod,omitempty"`
	Namespace     string            `json:"namespace,omitempty"`
	AppliedLabel  map[string]string `json:"applied_label,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// Failed reports whether the outcome is a hard failure rather than a normal result.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeClusterUnavailable || o.Kind == OutcomeInvalidAddress
}

// String renders the outcome as a single event line.
func (o Outcome) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dispatch=%s outcome=%s rule=%d src_ip=%s", o.DispatchID, o.Kind, o.RuleID, o.SourceAddress)
	if o.Kind == OutcomeLabeled {
		fmt.Fprintf(&b, " pod=%s/%s", o.Namespace, o.Workload)
		for k, v := range o.AppliedLabel {
			fmt.Fprintf(&b, " label=%s=%s", k, v)
		}
	}
	if o.Message != "" {
		fmt.Fprintf(&b, " msg=%q", o.Message)
	}
	return b.String()
}
