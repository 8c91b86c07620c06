package domain

import "context"

// Credential is an opaque provider secret. Never log it directly; use Preview.
type Credential string

// Preview returns a short, log-safe suffix of the credential.
func (c Credential) Preview() string {
	if len(c) > 6 {
		return "..." + string(c[len(c)-6:])
	}
	return "***"
}

// CredentialPool supplies ordered credentials per provider and role.
// ListCredentials never blocks on the network; Refresh may re-read the
// backing source and swaps the snapshot atomically.
type CredentialPool interface {
	Refresh(ctx context.Context) error
	ListCredentials(provider Provider, role Role) []Credential
}
