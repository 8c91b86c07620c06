package domain

import "errors"

var (
	ErrNoCredentials    = errors.New("no credentials available")
	ErrRateLimited      = errors.New("rate limited")
	ErrAllKeysExhausted = errors.New("all api keys exhausted quota")
	ErrNetworkFailure   = errors.New("network failure")
	ErrGenerationFailed = errors.New("image generation failed")
	ErrProtocolMismatch = errors.New("unexpected provider response")
	ErrNoImageData      = errors.New("no image data in response")
	ErrGateExhausted    = errors.New("rate gate retry failed")

	ErrWorkflowStep            = errors.New("workflow step failed")
	ErrNoUploadCredential      = errors.New("no upload credential configured")
	ErrNoGenerationCredential  = errors.New("no generation credential configured")
	ErrNoImagesUploaded        = errors.New("no reference images uploaded")
	ErrGenerationRequestFailed = errors.New("generation request failed")
	ErrDownloadFailed          = errors.New("image download failed")

	ErrWorkflowNotAttempted   = errors.New("workflow not attempted: request has no reference images")
	ErrOrchestrationExhausted = errors.New("all providers failed")
)

// IsRateLimit reports whether err signals provider-side throttling.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAllKeysExhausted)
}
