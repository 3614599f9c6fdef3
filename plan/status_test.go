package plan

import "testing"

func TestIsValidTransitionHappyPath(t *testing.T) {
	steps := []Status{StatusCreating, StatusInitiating, StatusCreated, StatusAvailable, StatusCloning, StatusDataTransFinished, StatusFinished}
	for i := 0; i < len(steps)-1; i++ {
		if !IsValidTransition(steps[i], steps[i+1]) {
			t.Errorf("expected %q -> %q to be valid", steps[i], steps[i+1])
		}
	}
}

func TestAnyStateCanMoveToError(t *testing.T) {
	for _, s := range []Status{StatusCreating, StatusInitiating, StatusCreated, StatusAvailable, StatusCloning, StatusMigrating, StatusDataTransFinished, StatusFinished} {
		if !IsValidTransition(s, StatusError) {
			t.Errorf("expected %q -> ERROR to be valid", s)
		}
	}
}

func TestAvailableOrErrorCanMoveToDeleting(t *testing.T) {
	if !IsValidTransition(StatusAvailable, StatusDeleting) {
		t.Error("expected AVAILABLE -> DELETING to be valid")
	}
	if !IsValidTransition(StatusError, StatusDeleting) {
		t.Error("expected ERROR -> DELETING to be valid")
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusCreating, StatusFinished},
		{StatusDeleting, StatusAvailable},
		{StatusFinished, StatusCloning},
		{StatusAvailable, StatusAvailable},
	}
	for _, c := range cases {
		if IsValidTransition(c.from, c.to) {
			t.Errorf("expected %q -> %q to be invalid", c.from, c.to)
		}
		if err := ValidateTransition(c.from, c.to); err == nil {
			t.Errorf("expected ValidateTransition(%q, %q) to error", c.from, c.to)
		}
	}
}

func TestMutableAndDeletable(t *testing.T) {
	if !StatusAvailable.Mutable() || !StatusError.Mutable() {
		t.Error("expected AVAILABLE and ERROR to be mutable")
	}
	if StatusCloning.Mutable() {
		t.Error("expected CLONING to not be mutable")
	}
	if !StatusAvailable.Deletable() || !StatusError.Deletable() {
		t.Error("expected AVAILABLE and ERROR to be deletable")
	}
	if StatusCreating.Deletable() {
		t.Error("expected CREATING to not be deletable")
	}
}
