package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// InitiateRequest carries the provider-independent parameters of a
// dispatch. Adapters map these onto their own wire shapes.
type InitiateRequest struct {
	TransactionID string
	Phone         string
	Amount        float64
	Currency      string
	AccountRef    string
	Description   string
}

// InitiateResult is the provider's synchronous acknowledgement. The
// final outcome arrives later via webhook, keyed by ProviderRef.
type InitiateResult struct {
	ProviderRef string
	RawStatus   string
}

// StatusResult reports the provider-side state of a dispatched request.
type StatusResult struct {
	ProviderRef string
	State       string
	Description string
}

// Adapter is the uniform contract every payment rail client exposes to
// the worker pool. Implementations classify their failures as
// *TransientError or *PermanentError so retry policy stays uniform.
type Adapter interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Status(ctx context.Context, providerRef string) (*StatusResult, error)
}

// TransientError marks a failure worth retrying: timeouts, 5xx,
// network errors.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: validation
// rejections, 4xx, business declines.
type PermanentError struct {
	Provider string
	Code     string
	Err      error
}

func (e *PermanentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: permanent (%s): %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: permanent: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for the given provider.
func Transient(provider string, err error) error {
	return &TransientError{Provider: provider, Err: err}
}

// Permanent wraps err as a PermanentError for the given provider.
func Permanent(provider, code string, err error) error {
	return &PermanentError{Provider: provider, Code: code, Err: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err must fail the job without retry.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ClassifyHTTPStatus converts a provider HTTP status into the error
// taxonomy. 2xx returns nil.
func ClassifyHTTPStatus(provider string, status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return Transient(provider, fmt.Errorf("provider returned %d: %s", status, body))
	case status == 429:
		return Transient(provider, fmt.Errorf("provider rate limited: %s", body))
	default:
		return Permanent(provider, fmt.Sprintf("http_%d", status), fmt.Errorf("provider rejected request: %s", body))
	}
}

// Backoff returns the exponential delay before retry attempt n
// (1-based), capped at 1 minute.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > time.Minute {
			return time.Minute
		}
	}
	if d > time.Minute {
		return time.Minute
	}
	return d
}
