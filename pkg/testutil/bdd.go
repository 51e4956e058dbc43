package testutil

import "testing"

// Given, When and Then name subtests after the situation they set up, the
// action they take and the outcome they check.
func Given(t *testing.T, situation string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("given "+situation, fn)
}

func When(t *testing.T, action string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("when "+action, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("then "+outcome, fn)
}
