package rules

import "fmt"

// Action is the enforcement tier a rule applies to the offending workload.
type Action int

const (
	DetectOnly       Action = 1
	DetectAndLog     Action = 2
	NamespaceConfine Action = 3
	FullIsolate      Action = 4
)

var actionLabels = map[Action]string{
	DetectOnly:       "solo-detectar",
	DetectAndLog:     "detectar-registro",
	NamespaceConfine: "confinamiento-namespace",
	FullIsolate:      "aislamiento-completo",
}

var actionNames = map[Action]string{
	DetectOnly:       "DetectOnly",
	DetectAndLog:     "DetectAndLog",
	NamespaceConfine: "NamespaceConfine",
	FullIsolate:      "FullIsolate",
}

// Valid reports whether a is one of the four enforcement tiers.
func (a Action) Valid() bool {
	_, ok := actionLabels[a]
	return ok
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// LabelFor returns the label value applied to a workload for action a.
// Callers only hold actions that passed store validation, so every input
// has a label; an out-of-range value yields "".
func LabelFor(a Action) string {
	return actionLabels[a]
}

// Labels returns the four label values ordered from least to most restrictive.
func Labels() []string {
	return []string{
		actionLabels[DetectOnly],
		actionLabels[DetectAndLog],
		actionLabels[NamespaceConfine],
		actionLabels[FullIsolate],
	}
}

// ActionForLabel is the inverse of LabelFor.
func ActionForLabel(label string) (Action, bool) {
	for a, l := range actionLabels {
		if l == label {
			return a, true
		}
	}
	return 0, false
}
