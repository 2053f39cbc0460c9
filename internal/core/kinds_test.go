package core

import (
	"context"
	"testing"

	"seedqc/pkg/domain"
)

func TestDefaultKindRegistry(t *testing.T) {
	registry := DefaultKindRegistry()
	if got := registry.Kinds(); len(got) != len(domain.Kinds()) {
		t.Fatalf("expected every built-in kind, got %v", got)
	}
	for _, kind := range domain.Kinds() {
		desc, ok := registry.Lookup(kind)
		if !ok {
			t.Fatalf("missing %s", kind)
		}
		wantInitial := domain.StateInProgress
		if kind == domain.KindThousandSeedWeight {
			wantInitial = domain.StateRegistered
		}
		if desc.InitialState != wantInitial {
			t.Fatalf("%s starts in %s", kind, desc.InitialState)
		}
		if desc.DualSignoff == (kind == domain.KindThousandSeedWeight) {
			t.Fatalf("%s has unexpected sign-off mode", kind)
		}
	}
	weight, _ := registry.Lookup(domain.KindThousandSeedWeight)
	if weight.Threshold(false) != 4 || weight.Threshold(true) != 6 || weight.Ceiling != 16 {
		t.Fatalf("unexpected weight admission limits %+v", weight)
	}
}

func TestKindRegistryRegisterValidates(t *testing.T) {
	registry := NewKindRegistry()
	bad := []KindDescriptor{
		{},
		{Kind: "x", InitialState: domain.StateApproved, Evidence: []EvidenceShape{evidenceListing}},
		{Kind: "x", InitialState: domain.StateInProgress},
		{Kind: "x", InitialState: domain.StateRegistered, Admission: AdmissionNone, Evidence: []EvidenceShape{evidenceListing}},
		{Kind: "x", InitialState: domain.StateRegistered, Admission: AdmissionCompleteness, MinReplicates: 2, MaxReplicates: 1, Ceiling: 4, Evidence: []EvidenceShape{evidenceListing}},
		{Kind: "x", InitialState: domain.StateRegistered, Admission: AdmissionCompleteness, MinReplicates: 1, MaxReplicates: 8, Ceiling: 4, Evidence: []EvidenceShape{evidenceListing}},
		{Kind: "x", InitialState: domain.StateRegistered, Admission: AdmissionDispersion, MinReplicates: 1, MaxReplicates: 4, Ceiling: 4, Evidence: []EvidenceShape{evidenceListing}},
	}
	for i, desc := range bad {
		if err := registry.Register(desc); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	good := KindDescriptor{Kind: "moisture", InitialState: domain.StateInProgress, Admission: AdmissionNone, Evidence: []EvidenceShape{evidenceLabPercent}}
	if err := registry.Register(good); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(good); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestKindRegistryApply(t *testing.T) {
	registry := DefaultKindRegistry()
	limit := 5.0
	single := false
	if err := registry.Apply(domain.KindThousandSeedWeight, KindOverride{CVLimit: &limit}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := registry.Apply(domain.KindPurity, KindOverride{DualSignoff: &single}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	weight, _ := registry.Lookup(domain.KindThousandSeedWeight)
	purity, _ := registry.Lookup(domain.KindPurity)
	if weight.CVLimit != 5 || weight.CVLimitChaffy != DefaultCVLimitChaffy || purity.DualSignoff {
		t.Fatalf("override not applied: %+v %+v", weight, purity)
	}

	tooMany := 40
	if err := registry.Apply(domain.KindGermination, KindOverride{MaxReplicates: &tooMany}); err == nil {
		t.Fatalf("expected max above ceiling to be rejected")
	}
	germination, _ := registry.Lookup(domain.KindGermination)
	if germination.MaxReplicates != 8 {
		t.Fatalf("rejected override must not be stored")
	}
	if err := registry.Apply("unknown", KindOverride{}); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestServiceUsesCustomKinds(t *testing.T) {
	registry := DefaultKindRegistry()
	single := false
	if err := registry.Apply(domain.KindPurity, KindOverride{DualSignoff: &single}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	svc := NewInMemoryService(nil, WithKinds(registry))
	rec := mustCreate(t, svc, domain.KindPurity, CreateInput{Fields: Fields{PrimaryPct: ptr(99)}})
	done, _, err := svc.Finalize(context.Background(), rec.ID, analyst)
	if err != nil || done.State != domain.StateApproved {
		t.Fatalf("single sign-off purity: %v %s", err, done.State)
	}
	_, _, err = svc.Create(context.Background(), analyst, "moisture", CreateInput{})
	expectErr(t, err, domain.ErrValidation)
}
