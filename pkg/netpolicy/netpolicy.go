// Package netpolicy renders and applies the NetworkPolicies that enforce the
// isolation labels written by the responder.
package netpolicy

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"
)

const (
	// ManagedByLabel marks policies owned by the responder.
	ManagedByLabel = "app.kubernetes.io/managed-by"
	managedBy      = "ips-responder"

	// Label values that carry a policy. The detection tiers have none.
	FullIsolateLabel      = "aislamiento-completo"
	NamespaceConfineLabel = "confinamiento-namespace"
)

// Render returns the policies for namespace that give meaning to labelKey:
// fully isolated pods get no traffic at all, namespace-confined pods may only
// talk to their own namespace and cluster DNS.
func Render(namespace, labelKey string) []networkingv1.NetworkPolicy {
	return []networkingv1.NetworkPolicy{
		fullIsolate(namespace, labelKey),
		namespaceConfine(namespace, labelKey),
	}
}

func newPolicy(namespace, labelKey, labelValue string) networkingv1.NetworkPolicy {
	return networkingv1.NetworkPolicy{
		TypeMeta: metav1.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: "NetworkPolicy"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      "ips-" + labelValue,
			Namespace: namespace,
			Labels:    map[string]string{ManagedByLabel: managedBy},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: map[string]string{labelKey: labelValue}},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress, networkingv1.PolicyTypeEgress},
		},
	}
}

func fullIsolate(namespace, labelKey string) networkingv1.NetworkPolicy {
	p := newPolicy(namespace, labelKey, FullIsolateLabel)
	p.Spec.Ingress = []networkingv1.NetworkPolicyIngressRule{}
	p.Spec.Egress = []networkingv1.NetworkPolicyEgressRule{}
	return p
}

func namespaceConfine(namespace, labelKey string) networkingv1.NetworkPolicy {
	p := newPolicy(namespace, labelKey, NamespaceConfineLabel)
	sameNamespace := []networkingv1.NetworkPolicyPeer{{PodSelector: &metav1.LabelSelector{}}}

	udp, tcp := corev1.ProtocolUDP, corev1.ProtocolTCP
	dnsPort := intstr.FromInt32(53)
	p.Spec.Ingress = []networkingv1.NetworkPolicyIngressRule{{From: sameNamespace}}
	p.Spec.Egress = []networkingv1.NetworkPolicyEgressRule{
		{To: sameNamespace},
		{
			To: []networkingv1.NetworkPolicyPeer{{
				NamespaceSelector: &metav1.LabelSelector{
					MatchLabels: map[string]string{"kubernetes.io/metadata.name": metav1.NamespaceSystem},
				},
				PodSelector: &metav1.LabelSelector{
					MatchLabels: map[string]string{"k8s-app": "kube-dns"},
				},
			}},
			Ports: []networkingv1.NetworkPolicyPort{
				{Protocol: &udp, Port: &dnsPort},
				{Protocol: &tcp, Port: &dnsPort},
			},
		},
	}
	return p
}

// MarshalYAML renders policies as a multi-document manifest.
func MarshalYAML(policies []networkingv1.NetworkPolicy) ([]byte, error) {
	var buf bytes.Buffer
	for i := range policies {
		doc, err := yaml.Marshal(&policies[i])
		if err != nil {
			return nil, fmt.Errorf("marshal policy %s: %w", policies[i].Name, err)
		}
		buf.WriteString("---\n")
		buf.Write(doc)
	}
	return buf.Bytes(), nil
}

// Manager applies rendered policies to the cluster.
type Manager struct {
	client   kubernetes.Interface
	labelKey string
	log      *logrus.Logger
}

// NewManager creates a Manager writing policies keyed on labelKey.
func NewManager(client kubernetes.Interface, labelKey string, log *logrus.Logger) *Manager {
	return &Manager{client: client, labelKey: labelKey, log: log}
}

// Render returns this manager's policies for namespace.
func (m *Manager) Render(namespace string) []networkingv1.NetworkPolicy {
	return Render(namespace, m.labelKey)
}

// Ensure creates the namespace's policies or brings existing ones back to
// the rendered spec.
func (m *Manager) Ensure(ctx context.Context, namespace string) error {
	api := m.client.NetworkingV1().NetworkPolicies(namespace)
	for _, want := range m.Render(namespace) {
		want := want
		current, err := api.Get(ctx, want.Name, metav1.GetOptions{})
		switch {
		case apierrors.IsNotFound(err):
			if _, err := api.Create(ctx, &want, metav1.CreateOptions{}); err != nil {
				return fmt.Errorf("create network policy %s/%s: %w", namespace, want.Name, err)
			}
			m.log.WithFields(logrus.Fields{"namespace": namespace, "policy": want.Name}).Info("Network policy created")
		case err != nil:
			return fmt.Errorf("get network policy %s/%s: %w", namespace, want.Name, err)
		default:
			current.Spec = want.Spec
			if current.Labels == nil {
				current.Labels = map[string]string{}
			}
			current.Labels[ManagedByLabel] = managedBy
			if _, err := api.Update(ctx, current, metav1.UpdateOptions{}); err != nil {
				return fmt.Errorf("update network policy %s/%s: %w", namespace, want.Name, err)
			}
			m.log.WithFields(logrus.Fields{"namespace": namespace, "policy": want.Name}).Debug("Network policy updated")
		}
	}
	return nil
}

// EnsureAll runs Ensure for each namespace and returns the first error after
// trying them all.
func (m *Manager) EnsureAll(ctx context.Context, namespaces []string) error {
	var first error
	for _, ns := range namespaces {
		if err := m.Ensure(ctx, ns); err != nil {
			m.log.WithError(err).WithField("namespace", ns).Error("Failed to ensure network policies")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
