package riot

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// platform status is the cheapest authenticated endpoint
const statusEndpoint = "/lol/status/v4/platform-data"

// KeyValidator probes a key against the platform status endpoint before it is
// handed to a Client.
type KeyValidator struct {
	hc      *http.Client
	baseURL string
}

type KeyValidatorOption func(*KeyValidator)

// WithValidatorURL sets the platform host to probe
func WithValidatorURL(u string) KeyValidatorOption {
	return func(v *KeyValidator) { v.baseURL = u }
}

func WithValidatorTimeout(d time.Duration) KeyValidatorOption {
	return func(v *KeyValidator) { v.hc.Timeout = d }
}

func NewKeyValidator(opts ...KeyValidatorOption) *KeyValidator {
	v := &KeyValidator{
		hc:      &http.Client{Timeout: 10 * time.Second},
		baseURL: DefaultPlatformURL,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateKey reports whether apiKey is accepted. A rejected key is
// (false, nil); an error means validity is unknown. A 429 counts as accepted
// since the provider only rate limits keys it recognises.
func (v *KeyValidator) ValidateKey(ctx context.Context, apiKey string) (bool, error) {
	if apiKey == "" {
		return false, errors.New("riot: api key is empty")
	}

	u := v.baseURL + statusEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("X-Riot-Token", apiKey)

	resp, err := v.hc.Do(req)
	if err != nil {
		return false, err
	}
	drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusTooManyRequests:
		return true, nil
	}
	se := &StatusError{StatusCode: resp.StatusCode, URL: u}
	if IsFatal(se) {
		return false, nil
	}
	return false, se
}
