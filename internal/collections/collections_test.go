package collections

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPageOffsetDefaultsToZero(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/outbox/index", nil)
	if got := pageOffset(r); got != 0 {
		t.Fatalf("pageOffset() = %d, want 0", got)
	}
}

func TestPageOffsetScalesByPageSize(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/outbox/index?page=2", nil)
	if got := pageOffset(r); got != 2*PageSize {
		t.Fatalf("pageOffset() = %d, want %d", got, 2*PageSize)
	}
}

func TestPageOffsetIgnoresGarbage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/outbox/index?page=not-a-number", nil)
	if got := pageOffset(r); got != 0 {
		t.Fatalf("pageOffset() = %d, want 0", got)
	}
}
