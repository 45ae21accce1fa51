package service

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
)

func TestBuildWorkflowTransitions(t *testing.T) {
	flow := BuildWorkflow()

	allowed := []struct{ from, to string }{
		{entity.BuildStatusPending, entity.BuildStatusProduction},
		{entity.BuildStatusPending, entity.BuildStatusOnHold},
		{entity.BuildStatusPending, entity.BuildStatusCancelled},
		{entity.BuildStatusProduction, entity.BuildStatusOnHold},
		{entity.BuildStatusProduction, entity.BuildStatusComplete},
		{entity.BuildStatusProduction, entity.BuildStatusCancelled},
		{entity.BuildStatusOnHold, entity.BuildStatusPending},
		{entity.BuildStatusOnHold, entity.BuildStatusProduction},
		{entity.BuildStatusOnHold, entity.BuildStatusCancelled},
	}
	for _, tc := range allowed {
		if !flow.CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to string }{
		{entity.BuildStatusPending, entity.BuildStatusComplete},
		{entity.BuildStatusOnHold, entity.BuildStatusComplete},
		{entity.BuildStatusComplete, entity.BuildStatusProduction},
		{entity.BuildStatusCancelled, entity.BuildStatusPending},
		{entity.BuildStatusComplete, entity.BuildStatusCancelled},
	}
	for _, tc := range denied {
		if flow.CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestBuildWorkflowTerminal(t *testing.T) {
	flow := BuildWorkflow()
	if !flow.Terminal(entity.BuildStatusComplete) {
		t.Error("COMPLETE should be terminal")
	}
	if !flow.Terminal(entity.BuildStatusCancelled) {
		t.Error("CANCELLED should be terminal")
	}
	if flow.Terminal(entity.BuildStatusProduction) {
		t.Error("PRODUCTION should not be terminal")
	}
}

func TestWorkflowAssert(t *testing.T) {
	flow := BuildWorkflow()
	if err := flow.Assert(entity.BuildStatusPending, entity.BuildStatusComplete); err == nil {
		t.Fatal("expected error for illegal transition")
	}
	if err := flow.Assert(entity.BuildStatusProduction, entity.BuildStatusComplete); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
