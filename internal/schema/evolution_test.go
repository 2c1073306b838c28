package schema

import (
	"errors"
	"testing"
)

func snapOf(cols ...Column) *Snapshot {
	return &Snapshot{Columns: cols}
}

func TestCheckCompatibility_FirstRunAlwaysPasses(t *testing.T) {
	current := snapOf(Column{Name: "id", Type: TypeInteger})
	for _, policy := range []string{PolicyStrict, PolicyAdditive} {
		if err := NewChecker(policy).CheckCompatibility(nil, current); err != nil {
			t.Errorf("policy %s: first run should pass, got %v", policy, err)
		}
	}
}

func TestCheckCompatibility_Additive(t *testing.T) {
	prev := snapOf(Column{Name: "id", Type: TypeInteger}, Column{Name: "name", Type: TypeString})
	checker := NewChecker(PolicyAdditive)

	added := snapOf(
		Column{Name: "id", Type: TypeInteger},
		Column{Name: "name", Type: TypeString},
		Column{Name: "email", Type: TypeString},
	)
	if err := checker.CheckCompatibility(prev, added); err != nil {
		t.Errorf("additive policy should allow new columns, got %v", err)
	}

	removed := snapOf(Column{Name: "id", Type: TypeInteger})
	if err := checker.CheckCompatibility(prev, removed); err == nil {
		t.Error("removed column should fail under additive policy")
	}

	retyped := snapOf(Column{Name: "id", Type: TypeString}, Column{Name: "name", Type: TypeString})
	err := checker.CheckCompatibility(prev, retyped)
	if err == nil {
		t.Fatal("type change should fail under additive policy")
	}
	var incompat *IncompatibilityError
	if !errors.As(err, &incompat) {
		t.Errorf("expected IncompatibilityError, got %T", err)
	}
}

func TestCheckCompatibility_Strict(t *testing.T) {
	prev := snapOf(Column{Name: "id", Type: TypeInteger})
	checker := NewChecker(PolicyStrict)

	same := snapOf(Column{Name: "id", Type: TypeInteger})
	if err := checker.CheckCompatibility(prev, same); err != nil {
		t.Errorf("identical schema should pass strict policy, got %v", err)
	}

	added := snapOf(Column{Name: "id", Type: TypeInteger}, Column{Name: "extra", Type: TypeString})
	if err := checker.CheckCompatibility(prev, added); err == nil {
		t.Error("added column should fail under strict policy")
	}
}

func TestNewChecker_DefaultsToAdditive(t *testing.T) {
	if NewChecker("").Policy != PolicyAdditive {
		t.Errorf("empty policy should default to additive, got %s", NewChecker("").Policy)
	}
}
