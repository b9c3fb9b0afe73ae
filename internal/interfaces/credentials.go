package interfaces

import "github.com/davstream/internal/core/origin"

// CredentialStore is the secret store collaborator. It is keyed by origin
// (scheme, host, port) and is read-only from the point of view of the core.
type CredentialStore interface {
	LookupCredential(o origin.Origin) (origin.Credential, bool)
}
