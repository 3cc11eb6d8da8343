// Package credential resolves how each backend authenticates: a static API key
// or a delegated identity obtained from the execution environment.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// Token scopes of the two backends.
const (
	ScopeCognitiveServices = "https://cognitiveservices.azure.com/.default"
	ScopeSearch            = "https://search.azure.com/.default"
)

const apiKeyHeader = "api-key"

type Kind int

const (
	KindStaticKey Kind = iota
	KindDelegatedIdentity
)

func (k Kind) String() string {
	switch k {
	case KindStaticKey:
		return "static_key"
	case KindDelegatedIdentity:
		return "delegated_identity"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Credential authorizes requests to one backend. It is immutable and shared by
// reference between every consumer of that backend.
type Credential interface {
	Kind() Kind
	// Authorize returns the header to attach to a request for scope.
	Authorize(ctx context.Context, scope string) (name, value string, err error)
}

type StaticKey struct {
	key string
}

var _ Credential = (*StaticKey)(nil)

func NewStaticKey(key string) *StaticKey {
	return &StaticKey{key: key}
}

func (s *StaticKey) Kind() Kind {
	return KindStaticKey
}

func (s *StaticKey) Authorize(_ context.Context, _ string) (string, string, error) {
	return apiKeyHeader, s.key, nil
}

// DelegatedIdentity exchanges an ambient identity for bearer tokens.
type DelegatedIdentity struct {
	source azcore.TokenCredential
}

var _ Credential = (*DelegatedIdentity)(nil)

func NewDelegatedIdentity(source azcore.TokenCredential) *DelegatedIdentity {
	return &DelegatedIdentity{source: source}
}

// NewDefaultDelegatedIdentity uses the default Azure credential chain
// (environment, workload identity, managed identity, developer CLIs).
func NewDefaultDelegatedIdentity() (*DelegatedIdentity, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating default azure credential: %w", err)
	}
	return NewDelegatedIdentity(cred), nil
}

func (d *DelegatedIdentity) Kind() Kind {
	return KindDelegatedIdentity
}

func (d *DelegatedIdentity) Authorize(ctx context.Context, scope string) (string, string, error) {
	tok, err := d.source.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return "", "", fmt.Errorf("getting token for %s: %w", scope, err)
	}
	return "Authorization", "Bearer " + tok.Token, nil
}

// Warmup fetches a token once so that identity problems surface at startup
// instead of on the first user request.
func Warmup(ctx context.Context, cred Credential, scope string) error {
	if cred == nil {
		return errors.New("nil credential")
	}
	if cred.Kind() != KindDelegatedIdentity {
		return nil
	}
	_, _, err := cred.Authorize(ctx, scope)
	return err
}
