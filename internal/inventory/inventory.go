// Package inventory locates cluster workloads by address and manages the
// reserved isolation label on them.
package inventory

import (
	"context"
	"errors"

	"github.com/invisible-tech/ips-responder/internal/types"
)

var (
	// ErrWorkloadNotFound means no workload matched the lookup.
	ErrWorkloadNotFound = errors.New("workload not found")
	// ErrClusterUnavailable wraps any transport, timeout or authorization
	// failure talking to the control plane.
	ErrClusterUnavailable = errors.New("cluster unavailable")
)

// ClusterInventory is the cluster capability the responder depends on.
type ClusterInventory interface {
	// ListWorkloads returns running workloads that have an address. An empty
	// namespace means all namespaces.
	ListWorkloads(ctx context.Context, namespace string) ([]types.Workload, error)
	// FindWorkloadByAddress returns the workload currently holding address.
	// The match is point in time: addresses are reused as workloads churn.
	FindWorkloadByAddress(ctx context.Context, address string) (types.Workload, error)
	GetWorkload(ctx context.Context, namespace, name string) (types.Workload, error)
	// PatchLabel sets key to *value, or removes key when value is nil.
	PatchLabel(ctx context.Context, namespace, name, key string, value *string) error
	ListNamespaces(ctx context.Context) ([]string, error)
	// ListLabeled returns workloads carrying key, with its value.
	ListLabeled(ctx context.Context, key string) ([]types.LabeledWorkload, error)
}
