package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(ContainerStateEmpty, ContainerStateFull) {
		t.Fatalf("expected empty -> full to be allowed")
	}
	if !CanTransition(ContainerStateFull, ContainerStateFull) {
		t.Fatalf("expected repeated declarations to be allowed")
	}
	if !CanTransition(ContainerStateMaintenance, ContainerStateEmpty) {
		t.Fatalf("expected maintenance -> empty to be allowed")
	}
	if CanTransition("unknown", ContainerStateFull) {
		t.Fatalf("expected unknown state to be blocked")
	}
}

func TestEventTypeForTransition(t *testing.T) {
	if ev := EventTypeForTransition(ContainerStateEmpty, ContainerStateFull); ev != ContainerEventDeclaredFull {
		t.Fatalf("unexpected event %q", ev)
	}
	if ev := EventTypeForTransition(ContainerStateMaintenance, ContainerStateEmpty); ev != ContainerEventMaintenanceCleared {
		t.Fatalf("unexpected event %q", ev)
	}
	if ev := EventTypeForTransition(ContainerStateFull, ContainerStateFull); ev != ContainerEventDeclaredFull {
		t.Fatalf("expected repeated declaration to keep its event type, got %q", ev)
	}
	if ev := EventTypeForTransition(ContainerStateEmpty, ContainerStateEmpty); ev != ContainerEventDeclaredEmpty {
		t.Fatalf("unexpected event %q", ev)
	}
}

func TestValidState(t *testing.T) {
	if !ValidState(" Full ") {
		t.Fatalf("expected full to be valid")
	}
	if ValidState("overflowing") {
		t.Fatalf("expected overflowing to be invalid")
	}
}
