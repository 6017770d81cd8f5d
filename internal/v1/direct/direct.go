// Package direct enforces the per-user direct-messaging permission surface:
// blacklist, whitelist and the whitelist-only mode.
package direct

import (
	"context"

	"github.com/chatsvc/chatsvc/internal/v1/chaterr"
	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// Messaging wraps a user's DirectState with owner-only mutation checks.
type Messaging struct {
	owner types.UserName
	st    types.DirectState
}

// New wraps the direct-messaging state of owner.
func New(owner types.UserName, st types.DirectState) *Messaging {
	return &Messaging{owner: owner, st: st}
}

// checkOwner rejects any author other than the owning user.
func (m *Messaging) checkOwner(author types.UserName) error {
	if author != m.owner {
		return chaterr.New(chaterr.NotAllowed)
	}
	return nil
}

func knownDirectList(list types.ListName) bool {
	for _, known := range types.DirectLists {
		if list == known {
			return true
		}
	}
	return false
}

// AddToList adds values to the named list; only the owner may mutate.
func (m *Messaging) AddToList(ctx context.Context, author types.UserName, list types.ListName, values []types.UserName) error {
	if err := m.checkOwner(author); err != nil {
		return err
	}
	if !knownDirectList(list) {
		return chaterr.New(chaterr.NoList, string(list))
	}
	for _, v := range values {
		present, err := m.st.HasInList(ctx, list, v)
		if err != nil {
			return err
		}
		if present {
			return chaterr.New(chaterr.NameInList, string(v), string(list))
		}
		if err := m.st.AddToList(ctx, list, v); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromList removes values from the named list; only the owner may
// mutate.
func (m *Messaging) RemoveFromList(ctx context.Context, author types.UserName, list types.ListName, values []types.UserName) error {
	if err := m.checkOwner(author); err != nil {
		return err
	}
	if !knownDirectList(list) {
		return chaterr.New(chaterr.NoList, string(list))
	}
	for _, v := range values {
		present, err := m.st.HasInList(ctx, list, v)
		if err != nil {
			return err
		}
		if !present {
			return chaterr.New(chaterr.NoNameInList, string(v), string(list))
		}
		if err := m.st.RemoveFromList(ctx, list, v); err != nil {
			return err
		}
	}
	return nil
}

// GetList returns the named list; only the owner may read.
func (m *Messaging) GetList(ctx context.Context, author types.UserName, list types.ListName) ([]types.UserName, error) {
	if err := m.checkOwner(author); err != nil {
		return nil, err
	}
	if !knownDirectList(list) {
		return nil, chaterr.New(chaterr.NoList, string(list))
	}
	return m.st.GetList(ctx, list)
}

// WhitelistOnlyGet returns the whitelist-only flag; only the owner may read.
func (m *Messaging) WhitelistOnlyGet(ctx context.Context, author types.UserName) (bool, error) {
	if err := m.checkOwner(author); err != nil {
		return false, err
	}
	return m.st.WhitelistOnlyGet(ctx)
}

// WhitelistOnlySet sets the whitelist-only flag; only the owner may mutate.
func (m *Messaging) WhitelistOnlySet(ctx context.Context, author types.UserName, mode bool) error {
	if err := m.checkOwner(author); err != nil {
		return err
	}
	return m.st.WhitelistOnlySet(ctx, mode)
}

// CheckAccess decides whether sender may message the owner. A blacklisted
// sender gets noUserOnline rather than notAllowed so the blacklist's
// existence is not leaked.
func (m *Messaging) CheckAccess(ctx context.Context, sender types.UserName) error {
	blacklisted, err := m.st.HasInList(ctx, types.ListBlacklist, sender)
	if err != nil {
		return err
	}
	if blacklisted {
		return chaterr.New(chaterr.NoUserOnline, string(m.owner))
	}
	wlOnly, err := m.st.WhitelistOnlyGet(ctx)
	if err != nil {
		return err
	}
	if !wlOnly {
		return nil
	}
	whitelisted, err := m.st.HasInList(ctx, types.ListWhitelist, sender)
	if err != nil {
		return err
	}
	if !whitelisted {
		return chaterr.New(chaterr.NotAllowed, string(m.owner))
	}
	return nil
}
