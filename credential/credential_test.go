package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenSource struct {
	token  string
	err    error
	scopes []string
}

func (f *fakeTokenSource) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.scopes = append(f.scopes, opts.Scopes...)
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: f.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// countingFactory records how many delegated identities were built.
func countingFactory(calls *int) DelegatedFactory {
	return func() (*DelegatedIdentity, error) {
		*calls++
		return NewDelegatedIdentity(&fakeTokenSource{token: "tok"}), nil
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name           string
		llmKey         string
		searchKey      string
		wantDelegated  bool
		wantLLMKind    Kind
		wantSearchKind Kind
	}{
		{
			name:           "Both keys present",
			llmKey:         "llm",
			searchKey:      "search",
			wantDelegated:  false,
			wantLLMKind:    KindStaticKey,
			wantSearchKind: KindStaticKey,
		},
		{
			name:           "Both keys absent",
			wantDelegated:  true,
			wantLLMKind:    KindDelegatedIdentity,
			wantSearchKind: KindDelegatedIdentity,
		},
		{
			name:           "Only LLM key",
			llmKey:         "llm",
			wantDelegated:  true,
			wantLLMKind:    KindStaticKey,
			wantSearchKind: KindDelegatedIdentity,
		},
		{
			name:           "Only search key",
			searchKey:      "search",
			wantDelegated:  true,
			wantLLMKind:    KindDelegatedIdentity,
			wantSearchKind: KindStaticKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			sel, err := Select(tt.llmKey, tt.searchKey, countingFactory(&calls))
			require.NoError(t, err)

			if tt.wantDelegated {
				assert.Equal(t, 1, calls, "exactly one shared delegated identity")
				require.NotNil(t, sel.Shared)
			} else {
				assert.Equal(t, 0, calls)
				assert.Nil(t, sel.Shared)
			}

			assert.Equal(t, tt.wantLLMKind, sel.LLM.Kind())
			assert.Equal(t, tt.wantSearchKind, sel.Search.Kind())

			if tt.wantLLMKind == KindDelegatedIdentity {
				assert.Same(t, sel.Shared, sel.LLM)
			}
			if tt.wantSearchKind == KindDelegatedIdentity {
				assert.Same(t, sel.Shared, sel.Search)
			}
		})
	}
}

func TestSelectStaticKeysCarryTheirOwnKey(t *testing.T) {
	sel, err := Select("llm-secret", "search-secret", nil)
	require.NoError(t, err)

	name, value, err := sel.LLM.Authorize(context.Background(), ScopeCognitiveServices)
	require.NoError(t, err)
	assert.Equal(t, "api-key", name)
	assert.Equal(t, "llm-secret", value)

	name, value, err = sel.Search.Authorize(context.Background(), ScopeSearch)
	require.NoError(t, err)
	assert.Equal(t, "api-key", name)
	assert.Equal(t, "search-secret", value)
}

func TestSelectFactoryErrorIsFatal(t *testing.T) {
	boom := errors.New("no ambient identity")
	_, err := Select("", "search", func() (*DelegatedIdentity, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestDelegatedIdentityAuthorize(t *testing.T) {
	src := &fakeTokenSource{token: "abc"}
	cred := NewDelegatedIdentity(src)

	name, value, err := cred.Authorize(context.Background(), ScopeSearch)
	require.NoError(t, err)
	assert.Equal(t, "Authorization", name)
	assert.Equal(t, "Bearer abc", value)
	assert.Equal(t, []string{ScopeSearch}, src.scopes)
}

func TestDelegatedIdentityAuthorizeError(t *testing.T) {
	cred := NewDelegatedIdentity(&fakeTokenSource{err: errors.New("denied")})

	_, _, err := cred.Authorize(context.Background(), ScopeSearch)
	assert.ErrorContains(t, err, "denied")
}

func TestWarmup(t *testing.T) {
	src := &fakeTokenSource{token: "abc"}
	require.NoError(t, Warmup(context.Background(), NewDelegatedIdentity(src), ScopeSearch))
	assert.Equal(t, []string{ScopeSearch}, src.scopes)

	assert.NoError(t, Warmup(context.Background(), NewStaticKey("k"), ScopeSearch))
	assert.Error(t, Warmup(context.Background(), nil, ScopeSearch))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "static_key", KindStaticKey.String())
	assert.Equal(t, "delegated_identity", KindDelegatedIdentity.String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}
