package service

import (
	"errors"

	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/ssrf"
	"github.com/swiparr/swiparr-server/internal/vault"
)

// translateProviderError maps provider and guard sentinels onto AppErrors.
// Security failures keep their own code so they are never mistaken for outages.
func translateProviderError(name string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ssrf.ErrBlockedURL):
		metrics.SSRFRejections.Inc()
		return apperrors.SecurityRejection("Server URL is not allowed", err)
	case errors.Is(err, provider.ErrUnauthorized):
		return apperrors.Wrap(apperrors.ErrCodeUnauthorized, "Media server rejected the credentials", err)
	case errors.Is(err, provider.ErrNotFound):
		return apperrors.NotFound("Item")
	case errors.Is(err, provider.ErrUnsupported):
		return apperrors.Wrap(apperrors.ErrCodeValidation, "Not supported by "+name, err)
	default:
		return apperrors.UpstreamUnavailable(name, err)
	}
}

// translateVaultError turns a decryption failure into a security rejection.
func translateVaultError(err error) error {
	switch {
	case errors.Is(err, vault.ErrDeprecatedFormat):
		return apperrors.SecurityRejection("Stored credentials use a retired format; sign in again", err)
	default:
		return apperrors.SecurityRejection("Stored credentials could not be decrypted", err)
	}
}
