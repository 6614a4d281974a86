package webhook

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/invisible-tech/ips-responder/internal/config"
)

func podWithLabels(labels map[string]string) *corev1.Pod {
	return &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-0", Namespace: "shop", Labels: labels}}
}

func TestDiffLabel(t *testing.T) {
	tests := []struct {
		name     string
		old, new map[string]string
		changed  bool
		str      string
	}{
		{"unchanged", map[string]string{"seguridad": "aislamiento-completo"}, map[string]string{"seguridad": "aislamiento-completo", "app": "x"}, false, "aislamiento-completo -> aislamiento-completo"},
		{"removed", map[string]string{"seguridad": "aislamiento-completo"}, nil, true, "aislamiento-completo -> <unset>"},
		{"added", nil, map[string]string{"seguridad": "solo-detectar"}, true, "<unset> -> solo-detectar"},
		{"rewritten", map[string]string{"seguridad": "aislamiento-completo"}, map[string]string{"seguridad": "solo-detectar"}, true, "aislamiento-completo -> solo-detectar"},
		{"emptied", map[string]string{"seguridad": "aislamiento-completo"}, map[string]string{"seguridad": ""}, true, "aislamiento-completo -> "},
		{"never set", map[string]string{"app": "x"}, map[string]string{"app": "y"}, false, "<unset> -> <unset>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DiffLabel(podWithLabels(tt.old), podWithLabels(tt.new), "seguridad")
			if c.Changed() != tt.changed {
				t.Errorf("Changed() = %v, want %v", c.Changed(), tt.changed)
			}
			if c.String() != tt.str {
				t.Errorf("String() = %q, want %q", c.String(), tt.str)
			}
		})
	}
}

func TestIsAllowedUser(t *testing.T) {
	cfg := config.GuardConfig{AllowedUsers: []string{"system:serviceaccount:ips-system:ips-responder"}}
	if !IsAllowedUser(cfg, "system:serviceaccount:ips-system:ips-responder") {
		t.Error("responder service account should be allowed")
	}
	if IsAllowedUser(cfg, "system:serviceaccount:shop:default") {
		t.Error("workload service account should not be allowed")
	}
	if IsAllowedUser(config.GuardConfig{}, "") {
		t.Error("empty allow list must allow nobody")
	}
}
