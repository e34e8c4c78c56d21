// Package signing exposes signing with the active account's key.
package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OKaluzny/wallet-custody/internal/metrics"
	"github.com/OKaluzny/wallet-custody/internal/registry"
	"github.com/OKaluzny/wallet-custody/internal/wallet"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// ErrTimeout is returned when the provider does not answer in time. The
// signature is not produced; callers may retry.
var ErrTimeout = errors.New("signing timed out")

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// ProviderSource returns the current key provider.
type ProviderSource interface {
	Current() (wallet.KeyProvider, bool)
}

// Service runs provider calls off the caller's goroutine with a deadline.
type Service struct {
	providers ProviderSource
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(providers ProviderSource, timeout time.Duration, m *metrics.Metrics) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		providers: providers,
		timeout:   timeout,
		metrics:   m,
		logger:    slog.Default().With("component", "signing"),
	}
}

// Sign signs payload as-is with the active key. An empty hashAlgo selects the
// default hash of the curve.
func (s *Service) Sign(ctx context.Context, payload []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	return s.run(ctx, "sign", func(ctx context.Context, p wallet.KeyProvider) ([]byte, error) {
		return p.Sign(ctx, payload, signAlgo, hashOrDefault(signAlgo, hashAlgo))
	})
}

// SignTransaction signs a transaction payload under the transaction domain tag.
func (s *Service) SignTransaction(ctx context.Context, payload []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	return s.run(ctx, "sign transaction", func(ctx context.Context, p wallet.KeyProvider) ([]byte, error) {
		return wallet.SignTransaction(ctx, p, payload, signAlgo, hashOrDefault(signAlgo, hashAlgo))
	})
}

// SignUserMessage signs an off-chain message under the user domain tag.
func (s *Service) SignUserMessage(ctx context.Context, msg []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	return s.run(ctx, "sign message", func(ctx context.Context, p wallet.KeyProvider) ([]byte, error) {
		return wallet.SignUserMessage(ctx, p, msg, signAlgo, hashOrDefault(signAlgo, hashAlgo))
	})
}

// PublicKey returns the active key for the given curve.
func (s *Service) PublicKey(ctx context.Context, signAlgo models.SignAlgo) ([]byte, error) {
	return s.run(ctx, "public key", func(ctx context.Context, p wallet.KeyProvider) ([]byte, error) {
		return p.PublicKey(ctx, signAlgo)
	})
}

type result struct {
	sig []byte
	err error
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context, wallet.KeyProvider) ([]byte, error)) ([]byte, error) {
	p, ok := s.providers.Current()
	if !ok {
		return nil, &registry.RegistryError{Err: registry.ErrNoActiveAccount}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		sig, err := fn(ctx, p)
		done <- result{sig: sig, err: err}
	}()

	var (
		sig []byte
		err error
	)
	select {
	case r := <-done:
		sig, err = r.sig, r.err
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: %w", op, ErrTimeout)
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s after %s: %w", op, s.timeout, ErrTimeout)
		} else {
			err = ctx.Err()
		}
	}

	kind := string(p.KeyKind())
	s.metrics.ObserveSign(kind, time.Since(start), err)
	if err != nil {
		s.logger.Warn("signing failed", "op", op, "kind", kind, "error", err)
		return nil, err
	}
	return sig, nil
}

func hashOrDefault(signAlgo models.SignAlgo, hashAlgo models.HashAlgo) models.HashAlgo {
	if hashAlgo != "" {
		return hashAlgo
	}
	return signAlgo.DefaultHash()
}
