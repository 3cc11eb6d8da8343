package credential

import "fmt"

// DelegatedFactory builds the shared delegated identity.
type DelegatedFactory func() (*DelegatedIdentity, error)

// Selection is the per-backend outcome of Select.
type Selection struct {
	LLM    Credential
	Search Credential
	// Shared is the delegated identity built when at least one key is
	// missing, nil otherwise.
	Shared *DelegatedIdentity
}

// Select picks a credential for each backend. One shared delegated identity
// is built iff either key is empty; each backend then uses its own static key
// when present and falls back to the shared identity when not. Backends are
// decided independently, so one key alone yields a mixed selection.
func Select(llmKey, searchKey string, newDelegated DelegatedFactory) (*Selection, error) {
	sel := &Selection{}
	if llmKey == "" || searchKey == "" {
		if newDelegated == nil {
			newDelegated = NewDefaultDelegatedIdentity
		}
		shared, err := newDelegated()
		if err != nil {
			return nil, fmt.Errorf("creating delegated identity: %w", err)
		}
		sel.Shared = shared
	}
	sel.LLM = pick(llmKey, sel.Shared)
	sel.Search = pick(searchKey, sel.Shared)
	return sel, nil
}

func pick(key string, shared *DelegatedIdentity) Credential {
	if key != "" {
		return NewStaticKey(key)
	}
	return shared
}
