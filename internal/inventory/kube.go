package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/invisible-tech/ips-responder/internal/types"
)

// NewClientset builds a clientset from kubeconfig, or from the in-cluster
// service account when kubeconfig is empty.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(cfg)
}

// Kube is a ClusterInventory backed by the Kubernetes pod API. Every call is
// a single round-trip bounded by the configured timeout.
type Kube struct {
	client  kubernetes.Interface
	timeout time.Duration
	log     *logrus.Logger
}

// NewKube wraps client. A non-positive timeout defaults to 10s.
func NewKube(client kubernetes.Interface, timeout time.Duration, log *logrus.Logger) *Kube {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Kube{client: client, timeout: timeout, log: log}
}

// ListWorkloads implements ClusterInventory.
func (k *Kube) ListWorkloads(ctx context.Context, namespace string) ([]types.Workload, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	pods, err := k.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, k.classify(err, "list pods")
	}
	out := make([]types.Workload, 0, len(pods.Items))
	for i := range pods.Items {
		if pods.Items[i].Status.PodIP == "" {
			continue
		}
		out = append(out, toWorkload(&pods.Items[i]))
	}
	return out, nil
}

// FindWorkloadByAddress implements ClusterInventory. Terminated pods keep
// their last address for a while, so running pods win over the rest.
func (k *Kube) FindWorkloadByAddress(ctx context.Context, address string) (types.Workload, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	pods, err := k.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("status.podIP", address).String(),
	})
	if err != nil {
		return types.Workload{}, k.classify(err, "find pod by address")
	}

	var match *corev1.Pod
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Status.PodIP != address {
			continue
		}
		if pod.Status.Phase == corev1.PodRunning {
			match = pod
			break
		}
		if match == nil {
			match = pod
		}
	}
	if match == nil {
		return types.Workload{}, fmt.Errorf("address %s: %w", address, ErrWorkloadNotFound)
	}
	return toWorkload(match), nil
}

// GetWorkload implements ClusterInventory.
func (k *Kube) GetWorkload(ctx context.Context, namespace, name string) (types.Workload, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	pod, err := k.client.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return types.Workload{}, k.classify(err, "get pod")
	}
	return toWorkload(pod), nil
}

// PatchLabel implements ClusterInventory with a JSON merge patch, so only
// key is touched and a nil value deletes it.
func (k *Kube) PatchLabel(ctx context.Context, namespace, name, key string, value *string) error {
	patch, err := labelPatch(key, value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	_, err = k.client.CoreV1().Pods(namespace).Patch(ctx, name, k8stypes.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return k.classify(err, "patch pod label")
	}
	return nil
}

// ListNamespaces implements ClusterInventory.
func (k *Kube) ListNamespaces(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	list, err := k.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, k.classify(err, "list namespaces")
	}
	out := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		out = append(out, ns.Name)
	}
	sort.Strings(out)
	return out, nil
}

// ListLabeled implements ClusterInventory.
func (k *Kube) ListLabeled(ctx context.Context, key string) ([]types.LabeledWorkload, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	pods, err := k.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{LabelSelector: key})
	if err != nil {
		return nil, k.classify(err, "list labeled pods")
	}
	out := make([]types.LabeledWorkload, 0, len(pods.Items))
	for _, pod := range pods.Items {
		value, ok := pod.Labels[key]
		if !ok {
			continue
		}
		out = append(out, types.LabeledWorkload{
			Name:      pod.Name,
			Namespace: pod.Namespace,
			Address:   pod.Status.PodIP,
			Node:      pod.Spec.NodeName,
			Label:     value,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (k *Kube) classify(err error, op string) error {
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, ErrWorkloadNotFound)
	}
	k.log.WithError(err).WithField("op", op).Warn("Kubernetes API call failed")
	return fmt.Errorf("%s: %w: %v", op, ErrClusterUnavailable, err)
}

func labelPatch(key string, value *string) ([]byte, error) {
	var v any
	if value != nil {
		v = *value
	}
	return json.Marshal(map[string]any{
		"metadata": map[string]any{
			"labels": map[string]any{key: v},
		},
	})
}

func toWorkload(pod *corev1.Pod) types.Workload {
	labels := make(map[string]string, len(pod.Labels))
	for k, v := range pod.Labels {
		labels[k] = v
	}
	return types.Workload{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Address:   pod.Status.PodIP,
		Node:      pod.Spec.NodeName,
		Labels:    labels,
	}
}
