package workflow

import "strings"

const (
	ContainerStateEmpty       = "empty"
	ContainerStateFull        = "full"
	ContainerStateMaintenance = "maintenance"
)

const (
	ContainerEventDeclaredEmpty      = "container_declared_empty"
	ContainerEventDeclaredFull       = "container_declared_full"
	ContainerEventMaintenanceEnabled = "container_maintenance_enabled"
	ContainerEventMaintenanceCleared = "container_maintenance_cleared"
)

// Declarations may repeat the current state; the latest declaration wins.
// Leaving maintenance through a declaration is reserved for supervisors,
// which is enforced above this package.
var containerTransitions = map[string]map[string]string{
	ContainerStateEmpty: {
		ContainerStateFull:        ContainerEventDeclaredFull,
		ContainerStateMaintenance: ContainerEventMaintenanceEnabled,
	},
	ContainerStateFull: {
		ContainerStateEmpty:       ContainerEventDeclaredEmpty,
		ContainerStateMaintenance: ContainerEventMaintenanceEnabled,
	},
	ContainerStateMaintenance: {
		ContainerStateEmpty: ContainerEventMaintenanceCleared,
		ContainerStateFull:  ContainerEventDeclaredFull,
	},
}

func NormalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

func ValidState(state string) bool {
	switch NormalizeState(state) {
	case ContainerStateEmpty, ContainerStateFull, ContainerStateMaintenance:
		return true
	default:
		return false
	}
}

func CanTransition(fromState string, toState string) bool {
	fromState = NormalizeState(fromState)
	toState = NormalizeState(toState)
	if fromState == toState {
		return true
	}
	next := containerTransitions[fromState]
	if next == nil {
		return false
	}
	_, ok := next[toState]
	return ok
}

// EventTypeForTransition names the event a state change produces. A repeat
// declaration of the current state reuses that state's declared event type.
func EventTypeForTransition(fromState string, toState string) string {
	fromState = NormalizeState(fromState)
	toState = NormalizeState(toState)
	if fromState == toState {
		return eventTypeForState(toState)
	}
	next := containerTransitions[fromState]
	if next == nil {
		return ""
	}
	return next[toState]
}

func eventTypeForState(state string) string {
	switch state {
	case ContainerStateEmpty:
		return ContainerEventDeclaredEmpty
	case ContainerStateFull:
		return ContainerEventDeclaredFull
	case ContainerStateMaintenance:
		return ContainerEventMaintenanceEnabled
	default:
		return ""
	}
}

func AllContainerStates() []string {
	return []string{
		ContainerStateEmpty,
		ContainerStateFull,
		ContainerStateMaintenance,
	}
}
