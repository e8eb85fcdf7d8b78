package queue

import (
	"errors"
	"testing"

	"github.com/blogfed/apsrv/internal/domain"
)

func TestClassifyPermanentStatusText(t *testing.T) {
	err := errors.New("deliver to https://broken.example/inbox: (403 Forbidden)")
	if got := Classify(err); got != Permanent {
		t.Fatalf("Classify(403) = %v, want Permanent", got)
	}
}

func TestClassifyRetryableStatusText(t *testing.T) {
	for _, msg := range []string{
		"deliver to https://x/inbox: (503 Service Unavailable)",
		"dial tcp: i/o timeout",
		"connection reset by peer",
		"(429 Too Many Requests)",
	} {
		if got := Classify(errors.New(msg)); got != Retryable {
			t.Fatalf("Classify(%q) = %v, want Retryable", msg, got)
		}
	}
}

func TestClassifyUnknownDefaultsRetryable(t *testing.T) {
	if got := Classify(errors.New("something weird happened")); got != Retryable {
		t.Fatalf("Classify(unknown) = %v, want Retryable", got)
	}
}

func TestClassifyDomainKindOverrides(t *testing.T) {
	if got := Classify(domain.New(domain.KindUnrecoverableDelivery, "gone")); got != Permanent {
		t.Fatalf("Classify(KindUnrecoverableDelivery) = %v, want Permanent", got)
	}
	if got := Classify(domain.New(domain.KindRetryableDelivery, "try again")); got != Retryable {
		t.Fatalf("Classify(KindRetryableDelivery) = %v, want Retryable", got)
	}
}
