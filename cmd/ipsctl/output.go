package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"sigs.k8s.io/yaml"

	"github.com/invisible-tech/ips-responder/pkg/client"
)

var actionLabels = map[int]string{
	1: "solo-detectar",
	2: "detectar-registro",
	3: "confinamiento-namespace",
	4: "aislamiento-completo",
}

// render writes result in the requested format.
func render(w io.Writer, format string, result any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		data, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return renderTable(w, result)
	}
}

func renderTable(out io.Writer, result any) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch r := result.(type) {
	case []client.Rule:
		fmt.Fprintln(w, "RULE\tACTION\tLABEL\tDESCRIPTION")
		for _, rule := range r {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", rule.ID, rule.Action, actionLabels[rule.Action], rule.Description)
		}
	case []client.LabeledWorkload:
		fmt.Fprintln(w, "NAMESPACE\tPOD\tIP\tNODE\tLABEL")
		for _, p := range r {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Namespace, p.Name, p.Address, p.Node, p.Label)
		}
	case client.Outcome:
		fmt.Fprintf(w, "STATUS:\t%s\n", r.Kind)
		fmt.Fprintf(w, "RULE:\t%d\n", r.RuleID)
		fmt.Fprintf(w, "SRC_IP:\t%s\n", r.SourceAddress)
		if r.Kind == client.OutcomeLabeled {
			fmt.Fprintf(w, "POD:\t%s/%s\n", r.Namespace, r.Workload)
			keys := make([]string, 0, len(r.AppliedLabel))
			for k := range r.AppliedLabel {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "LABEL:\t%s=%s\n", k, r.AppliedLabel[k])
			}
		}
		if r.Message != "" {
			fmt.Fprintf(w, "MESSAGE:\t%s\n", r.Message)
		}
		fmt.Fprintf(w, "DISPATCH:\t%s\n", r.DispatchID)
	default:
		// Fall back to JSON for unknown types
		w.Flush()
		return render(out, "json", result)
	}
	return nil
}
