package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{fmt.Errorf("save: %w", errors.New("database is locked")), true},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Fatal("nil is not a violation")
	}
	if !IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: users.username (2067)")) {
		t.Fatal("expected unique violation")
	}
}
