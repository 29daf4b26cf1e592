package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"winpredict/internal/riot"
)

// KeyProvider supplies a replacement API key posted after since
type KeyProvider interface {
	WaitForKey(ctx context.Context, since time.Time) (string, error)
}

// KeyValidator checks a key before it is used
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey string) (bool, error)
}

// KeyAlerter tells operators that the key expired and that the crawl resumed
type KeyAlerter interface {
	SendKeyExpired(ctx context.Context, matchesCollected int, runtime time.Duration) error
	SendKeyAccepted(ctx context.Context, apiKey string) error
}

// KeySetter is the client whose key gets swapped
type KeySetter interface {
	SetAPIKey(key string)
}

// SupervisorConfig wires a Supervisor. Keys, Validator and Alerter are
// optional; without Keys a fatal auth error ends the run.
type SupervisorConfig struct {
	// NewSpider builds a fresh spider for each attempt. Every attempt resumes
	// from the store's last checkpoint.
	NewSpider func() *Spider
	Client    KeySetter
	Keys      KeyProvider
	Validator KeyValidator
	Alerter   KeyAlerter

	// MaxKeyRotations bounds how many times a new key is accepted; 0 is unbounded
	MaxKeyRotations int
	// KeyWaitTimeout bounds each wait for a new key; 0 waits until ctx ends
	KeyWaitTimeout time.Duration
	Logger         *zap.Logger
}

// Supervisor reruns the spider after the provider rejects the API key,
// once an operator has posted a working replacement.
type Supervisor struct {
	cfg   SupervisorConfig
	log   *zap.SugaredLogger
	now   func() time.Time
	start time.Time
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg: cfg,
		log: logger.Sugar().Named("supervisor"),
		now: time.Now,
	}
}

// Run returns the summary of the last attempt. A fatal auth error is
// returned only when no replacement key could be obtained.
func (s *Supervisor) Run(ctx context.Context) (Summary, error) {
	s.start = s.now()
	rotations := 0

	for {
		sum, err := s.cfg.NewSpider().Run(ctx)
		if err == nil || !riot.IsFatal(err) || s.cfg.Keys == nil {
			return sum, err
		}
		if s.cfg.MaxKeyRotations > 0 && rotations >= s.cfg.MaxKeyRotations {
			s.log.Errorw("key rotation limit reached", "rotations", rotations)
			return sum, err
		}

		s.log.Warnw("API key rejected, waiting for a replacement", "error", err, "collected", sum.TotalCollected)
		key, waitErr := s.awaitKey(ctx, sum)
		if waitErr != nil {
			s.log.Errorw("no replacement key", "error", waitErr)
			return sum, fmt.Errorf("%w (waiting for new key: %v)", err, waitErr)
		}

		s.cfg.Client.SetAPIKey(key)
		rotations++
		if s.cfg.Alerter != nil {
			if err := s.cfg.Alerter.SendKeyAccepted(ctx, key); err != nil {
				s.log.Warnw("failed to send resume notification", "error", err)
			}
		}
		s.log.Infow("resuming crawl with new key", "rotation", rotations)
	}
}

// awaitKey alerts once, then polls until a key validates or the wait ends
func (s *Supervisor) awaitKey(ctx context.Context, sum Summary) (string, error) {
	since := s.now()
	if s.cfg.Alerter != nil {
		if err := s.cfg.Alerter.SendKeyExpired(ctx, sum.TotalCollected, s.now().Sub(s.start)); err != nil {
			s.log.Warnw("failed to send key expiry notification", "error", err)
		}
	}

	waitCtx := ctx
	if s.cfg.KeyWaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.KeyWaitTimeout)
		defer cancel()
	}

	for {
		key, err := s.cfg.Keys.WaitForKey(waitCtx, since)
		if err != nil {
			return "", err
		}
		if key == "" {
			return "", errors.New("key provider returned an empty key")
		}
		since = s.now()

		if s.cfg.Validator == nil {
			return key, nil
		}
		valid, err := s.cfg.Validator.ValidateKey(waitCtx, key)
		if err != nil {
			if waitCtx.Err() != nil {
				return "", waitCtx.Err()
			}
			s.log.Warnw("key validation failed, waiting for another", "error", err)
			continue
		}
		if !valid {
			s.log.Warnw("posted key was rejected, waiting for another")
			continue
		}
		return key, nil
	}
}
