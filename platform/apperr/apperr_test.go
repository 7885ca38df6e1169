package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindValidation, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := New(tc.kind, "x").HTTPStatus(); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.kind, tc.want, got)
		}
	}
}

func TestWrapKeepsChain(t *testing.T) {
	base := errors.New("no rows")
	err := fmt.Errorf("get lead: %w", Wrap(KindNotFound, "lead not found", base))

	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error in chain")
	}
	if !Is(err, KindNotFound) {
		t.Fatalf("expected not found kind, got %s", GetKind(err))
	}
	if GetKind(base) != KindUnknown {
		t.Fatalf("plain errors have no kind")
	}
}
