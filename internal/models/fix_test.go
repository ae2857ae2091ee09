package models

import (
	"errors"
	"testing"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

func newTestFix() AutomatedFix {
	return NewAutomatedFix("pattern-1", "sig-1", "checkout-service", "null-check", "add null guard")
}

func TestFixLifecycleHappyPath(t *testing.T) {
	fix := newTestFix()
	if fix.Status != FixStatusPending {
		t.Fatalf("new fix status = %s, want pending", fix.Status)
	}

	if err := fix.MarkApplied("abc123", "autofix/sig-1"); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}
	if fix.Status != FixStatusApplied || fix.CommitID != "abc123" || fix.AppliedAt == nil {
		t.Fatalf("applied state not recorded: %+v", fix)
	}

	if err := fix.MarkTested(true); err != nil {
		t.Fatalf("MarkTested: %v", err)
	}
	if fix.Status != FixStatusTested || !fix.TestsPassed {
		t.Fatalf("tested state not recorded: %+v", fix)
	}

	if err := fix.MarkValidated("alice"); err != nil {
		t.Fatalf("MarkValidated: %v", err)
	}
	if fix.Status != FixStatusValidated || fix.ValidatedBy != "alice" || fix.ValidatedAt == nil {
		t.Fatalf("validated state not recorded: %+v", fix)
	}
	if !fix.IsSuccessful() {
		t.Fatal("validated fix with passing tests should be successful")
	}
}

func TestFixValidationGuards(t *testing.T) {
	t.Run("requires tested status", func(t *testing.T) {
		fix := newTestFix()
		if err := fix.MarkValidated("alice"); !errors.Is(err, utils.ErrInvalidTransition) {
			t.Fatalf("validating pending fix: err = %v, want ErrInvalidTransition", err)
		}
		if fix.Status != FixStatusPending {
			t.Fatalf("failed validation mutated status to %s", fix.Status)
		}
	})

	t.Run("requires reviewer", func(t *testing.T) {
		fix := newTestFix()
		_ = fix.MarkApplied("abc123", "main")
		_ = fix.MarkTested(true)
		if err := fix.MarkValidated(""); !errors.Is(err, utils.ErrInvalidTransition) {
			t.Fatalf("validating without reviewer: err = %v, want ErrInvalidTransition", err)
		}
		if fix.Status != FixStatusTested || fix.ValidatedBy != "" {
			t.Fatalf("failed validation mutated fix: %+v", fix)
		}
	})

	t.Run("rejects the system identity", func(t *testing.T) {
		for _, reviewer := range []string{"system", "SYSTEM", "System"} {
			fix := newTestFix()
			_ = fix.MarkApplied("abc123", "main")
			_ = fix.MarkTested(true)
			if err := fix.MarkValidated(reviewer); !errors.Is(err, utils.ErrInvalidTransition) {
				t.Fatalf("validating as %q: err = %v, want ErrInvalidTransition", reviewer, err)
			}
			if fix.Status != FixStatusTested || fix.ValidatedBy != "" || fix.IsSuccessful() {
				t.Fatalf("automated validation mutated fix: %+v", fix)
			}
		}
	})
}

func TestFixFailingTestsMoveToFailed(t *testing.T) {
	fix := newTestFix()
	_ = fix.MarkApplied("abc123", "main")
	if err := fix.MarkTested(false); err != nil {
		t.Fatalf("MarkTested(false): %v", err)
	}
	if fix.Status != FixStatusFailed {
		t.Fatalf("status = %s, want failed", fix.Status)
	}
	if !fix.NeedsAttention() {
		t.Fatal("failed fix should need attention")
	}
}

func TestFixFailedGuards(t *testing.T) {
	fix := newTestFix()
	_ = fix.MarkApplied("abc123", "main")
	_ = fix.MarkTested(true)
	_ = fix.MarkValidated("alice")

	if err := fix.MarkFailed("late failure"); !errors.Is(err, utils.ErrInvalidTransition) {
		t.Fatalf("failing validated fix: err = %v, want ErrInvalidTransition", err)
	}
	if fix.Status != FixStatusValidated {
		t.Fatalf("guard mutated status to %s", fix.Status)
	}
}

func TestFixRollbackReachability(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(*AutomatedFix)
		wantErr bool
	}{
		{"from pending", func(*AutomatedFix) {}, true},
		{"from applied", func(f *AutomatedFix) {
			_ = f.MarkApplied("c1", "main")
		}, false},
		{"from tested", func(f *AutomatedFix) {
			_ = f.MarkApplied("c1", "main")
			_ = f.MarkTested(true)
		}, false},
		{"from validated", func(f *AutomatedFix) {
			_ = f.MarkApplied("c1", "main")
			_ = f.MarkTested(true)
			_ = f.MarkValidated("alice")
		}, false},
		{"from failed", func(f *AutomatedFix) {
			_ = f.MarkFailed("broke")
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fix := newTestFix()
			tc.prepare(&fix)
			err := fix.Rollback("regression detected")
			if tc.wantErr {
				if !errors.Is(err, utils.ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Rollback: %v", err)
			}
			if fix.Status != FixStatusRolledBack || fix.RollbackReason == "" || fix.RolledBackAt == nil {
				t.Fatalf("rollback state not recorded: %+v", fix)
			}
			if fix.Active() {
				t.Fatal("rolled back fix should not be active")
			}
		})
	}
}

func TestFixRequestModifications(t *testing.T) {
	fix := newTestFix()
	if err := fix.RequestModifications("narrow the guard to the order path"); err != nil {
		t.Fatalf("RequestModifications: %v", err)
	}
	if fix.Status != FixStatusPending || !fix.RequiresManualReview {
		t.Fatalf("modification request not recorded: %+v", fix)
	}
	if !fix.NeedsAttention() {
		t.Fatal("fix flagged for manual review should need attention")
	}

	_ = fix.MarkApplied("c1", "main")
	if err := fix.RequestModifications("again"); !errors.Is(err, utils.ErrInvalidTransition) {
		t.Fatalf("modifications on applied fix: err = %v, want ErrInvalidTransition", err)
	}
}
