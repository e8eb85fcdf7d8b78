package queue

import (
	"errors"
	"net"
	"strings"

	"github.com/blogfed/apsrv/internal/domain"
)

// Classification is the outcome of inspecting a handler error, per
// spec.md §4.5's retry-classification step.
type Classification int

const (
	// Retryable covers 5xx, 408, 429, connection/TLS errors, and any
	// unclassified error (spec.md: "Unknown/unclassified errors in the
	// delivery worker are treated as retryable").
	Retryable Classification = iota
	// Permanent covers 4xx except 408/429, and explicitly
	// non-retryable domain errors.
	Permanent
)

// permanentStatusCodes are the 4xx codes (all but 408 and 429) that spec.md §8's
// "Retry classification" property names as permanent (e.g. a
// delivery error string containing "(403 Forbidden)"). Spec.md §9
// flags this heuristic string matching as an Open Question: "a
// structured error shape from the HTTP client is preferable when
// reimplementing" — carried here verbatim per the redesign note's
// absence of a mandated replacement.
var permanentStatusCodes = []string{
	"400", "401", "402", "403", "404", "405", "406", "407", "409", "410",
	"411", "412", "413", "414", "415", "416", "417", "418", "421", "422",
	"423", "424", "425", "426", "428", "431", "451",
}

var retryableSubstrings = []string{
	"timeout", "timed out", "econnreset", "connection reset",
	"eof", "no such host", "connection refused", "tls",
	"429", "500", "501", "502", "503", "504", "505",
}

// Classify inspects err (returned by a message handler) and decides
// whether the delivery should be retried via the retry topic or
// recorded as a permanent per-inbox failure.
func Classify(err error) Classification {
	if err == nil {
		return Retryable
	}

	var derr *domain.Error
	if errors.As(err, &derr) {
		switch derr.Kind {
		case domain.KindUnrecoverableDelivery:
			return Permanent
		case domain.KindRetryableDelivery:
			return Retryable
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return Retryable
		}
	}
	for _, code := range permanentStatusCodes {
		if strings.Contains(msg, "("+code+" ") || strings.Contains(msg, " "+code+")") {
			return Permanent
		}
	}
	// Unclassified defaults to retryable, per spec.md §4.5 step 4.
	return Retryable
}
