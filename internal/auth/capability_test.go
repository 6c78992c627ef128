package auth

import "testing"

func TestParseCapabilityClosedSet(t *testing.T) {
	if _, err := ParseCapability("ledger.payment.apply"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseCapability("  Ledger.Read "); err != nil {
		t.Fatalf("normalized capability rejected: %v", err)
	}
	if _, err := ParseCapability("ledger.payment.delete_all"); err == nil {
		t.Fatalf("unknown capability must not parse")
	}
}

func TestRoleCapabilityBoundaries(t *testing.T) {
	accountant := NewPrincipal("u1", []string{"accountant"})
	if !accountant.Can(CapPaymentApply) || !accountant.Can(CapPaymentEdit) {
		t.Fatalf("accountant missing payment capabilities")
	}
	if accountant.Can(CapClearingToggle) {
		t.Fatalf("accountant must not toggle clearance")
	}

	reconciler := NewPrincipal("u2", []string{"reconciler"})
	if !reconciler.Can(CapClearingToggle) || !reconciler.Can(CapRead) {
		t.Fatalf("reconciler missing clearing capabilities")
	}
	if reconciler.Can(CapPaymentApply) || reconciler.Can(CapDocumentCancel) {
		t.Fatalf("reconciler must never move amounts")
	}

	viewer := NewPrincipal("u3", []string{"viewer"})
	if !viewer.Can(CapRead) || len(viewer.Capabilities) != 1 {
		t.Fatalf("viewer capabilities wrong: %v", viewer.SortedCapabilities())
	}
}

func TestAdminHoldsEveryCapability(t *testing.T) {
	admin := NewPrincipal("root", []string{"admin"})
	for _, c := range AllCapabilities {
		if !admin.Can(c) {
			t.Fatalf("admin missing %s", c)
		}
	}
}

func TestUnknownRoleGrantsNothing(t *testing.T) {
	p := NewPrincipal("u4", []string{"superuser", ""})
	if len(p.Capabilities) != 0 {
		t.Fatalf("unknown roles granted capabilities: %v", p.SortedCapabilities())
	}
}

func TestRoleUnion(t *testing.T) {
	p := NewPrincipal("u5", []string{"viewer", "reconciler"})
	if !p.Can(CapClearingToggle) || !p.Can(CapRead) {
		t.Fatalf("union of role capabilities incomplete")
	}
	if p.Can(CapPaymentApply) {
		t.Fatalf("union leaked unrelated capability")
	}
}
