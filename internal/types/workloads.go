package types

// Workload is a running pod as seen by the cluster inventory.
type Workload struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Address   string            `json:"ip"`
	Node      string            `json:"node,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// LabeledWorkload is a workload carrying the reserved isolation label.
type LabeledWorkload struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Address   string `json:"src_ip"`
	Node      string `json:"node,omitempty"`
	Label     string `json:"label"`
}
