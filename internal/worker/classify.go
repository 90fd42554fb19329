package worker

import (
	"errors"
	"strings"

	"github.com/chatnationwork/broadcast-backend/internal/send"
)

// ErrorClass drives the state machine's reaction to a failed send.
type ErrorClass int

const (
	// ClassPermanent: bad recipient, rejected content. Terminal, no retry.
	ClassPermanent ErrorClass = iota
	// ClassTransient: timeouts, 5xx, resets. Retried up to the budget.
	ClassTransient
	// ClassRateLimited: the provider is pacing us. Pauses the whole pool.
	ClassRateLimited
)

// provider throughput / pacing codes
var rateLimitCodes = map[string]bool{
	"429":    true,
	"80007":  true, // throughput tier reached
	"131048": true, // spam rate limit
	"131056": true, // pair rate limit
}

// provider codes worth retrying
var transientCodes = map[string]bool{
	"408":    true,
	"500":    true,
	"503":    true,
	"131000": true, // generic provider failure
	"131016": true, // service unavailable
}

// Classify buckets a send failure. Provider errors are matched by code first,
// then by message; transport-level errors (no provider code at all) are
// treated as transient since the message never reached the provider.
func Classify(err error) ErrorClass {
	var pe *send.ProviderError
	if errors.As(err, &pe) {
		if rateLimitCodes[pe.Code] {
			return ClassRateLimited
		}
		if transientCodes[pe.Code] {
			return ClassTransient
		}
		msg := strings.ToLower(pe.Message)
		if strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") {
			return ClassRateLimited
		}
		return ClassPermanent
	}

	// No provider code at all: the request died in transit (timeout, reset,
	// DNS). The message may never have reached the provider, so retry.
	return ClassTransient
}

// errDetail extracts the code and message to record on the delivery record.
func errDetail(err error) (code, message string) {
	var pe *send.ProviderError
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	return "transport_error", err.Error()
}
