// Package webhook provides the validating admission webhook that keeps the
// reserved isolation label under the responder's control.
package webhook

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/invisible-tech/ips-responder/internal/config"
)

// LabelChange describes how an update touches the reserved label.
type LabelChange struct {
	From, To       string
	HadKey, HasKey bool
}

// Changed reports whether the label was added, removed or rewritten.
func (c LabelChange) Changed() bool {
	return c.HadKey != c.HasKey || c.From != c.To
}

func (c LabelChange) String() string {
	show := func(v string, present bool) string {
		if !present {
			return "<unset>"
		}
		return v
	}
	return fmt.Sprintf("%s -> %s", show(c.From, c.HadKey), show(c.To, c.HasKey))
}

// DiffLabel compares key between the old and new pod.
func DiffLabel(oldPod, newPod *corev1.Pod, key string) LabelChange {
	var c LabelChange
	if oldPod != nil {
		c.From, c.HadKey = oldPod.Labels[key]
	}
	if newPod != nil {
		c.To, c.HasKey = newPod.Labels[key]
	}
	return c
}

// IsAllowedUser reports whether username may change the reserved label.
func IsAllowedUser(cfg config.GuardConfig, username string) bool {
	for _, u := range cfg.AllowedUsers {
		if u == username {
			return true
		}
	}
	return false
}
