// Package room enforces permission rules over RoomState: join/leave,
// messaging, access-list mutation and the whitelist-only mode transitions.
package room

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/chatsvc/chatsvc/internal/v1/chaterr"
	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// maxListBatchInFlight bounds concurrent items of one list-mutation batch.
const maxListBatchInFlight = 16

// Room wraps a RoomState handle with permission-checked operations. It holds
// no state of its own; the authoritative state lives in the store, so a Room
// may be constructed per command.
type Room struct {
	name types.RoomName
	st   types.RoomState
}

// New wraps a RoomState handle.
func New(st types.RoomState) *Room {
	return &Room{name: st.Name(), st: st}
}

// Name returns the room name.
func (r *Room) Name() types.RoomName { return r.name }

// State exposes the underlying state handle.
func (r *Room) State() types.RoomState { return r.st }

// IsAdmin reports whether user is the owner or on the adminlist.
func (r *Room) IsAdmin(ctx context.Context, user types.UserName) (bool, error) {
	owner, err := r.st.OwnerGet(ctx)
	if err != nil {
		return false, err
	}
	if user == owner && owner != "" {
		return true, nil
	}
	return r.st.HasInList(ctx, types.ListAdminlist, user)
}

// CheckIsOwner fails with notAllowed unless user is the room owner.
func (r *Room) CheckIsOwner(ctx context.Context, user types.UserName) error {
	owner, err := r.st.OwnerGet(ctx)
	if err != nil {
		return err
	}
	if user != owner || owner == "" {
		return chaterr.New(chaterr.NotAllowed, string(r.name))
	}
	return nil
}

// checkJoined fails with notJoined unless user is on the userlist.
func (r *Room) checkJoined(ctx context.Context, user types.UserName) error {
	joined, err := r.st.HasInList(ctx, types.ListUserlist, user)
	if err != nil {
		return err
	}
	if !joined {
		return chaterr.New(chaterr.NotJoined, string(r.name))
	}
	return nil
}

// hasAccess evaluates the join predicate: not blacklisted, and whitelisted
// (or privileged) when the room is whitelist-only. Blacklist presence
// overrides any other permission.
func (r *Room) hasAccess(ctx context.Context, user types.UserName) (bool, error) {
	blacklisted, err := r.st.HasInList(ctx, types.ListBlacklist, user)
	if err != nil {
		return false, err
	}
	if blacklisted {
		return false, nil
	}
	wlOnly, err := r.st.WhitelistOnlyGet(ctx)
	if err != nil {
		return false, err
	}
	if !wlOnly {
		return true, nil
	}
	whitelisted, err := r.st.HasInList(ctx, types.ListWhitelist, user)
	if err != nil {
		return false, err
	}
	if whitelisted {
		return true, nil
	}
	return r.IsAdmin(ctx, user)
}

// Join adds user to the userlist after the access check. Joining an already
// joined room is a no-op; the caller handles per-socket channel membership.
func (r *Room) Join(ctx context.Context, user types.UserName) error {
	ok, err := r.hasAccess(ctx, user)
	if err != nil {
		return err
	}
	if !ok {
		return chaterr.New(chaterr.NotAllowed, string(r.name))
	}
	return r.st.AddToList(ctx, types.ListUserlist, user)
}

// Leave removes user from the userlist unconditionally.
func (r *Room) Leave(ctx context.Context, user types.UserName) error {
	return r.st.RemoveFromList(ctx, types.ListUserlist, user)
}

// Message appends a message to the history; author must be joined.
func (r *Room) Message(ctx context.Context, author types.UserName, msg types.Message) error {
	if err := r.checkJoined(ctx, author); err != nil {
		return err
	}
	return r.st.MessageAdd(ctx, msg)
}

// History returns the retained message history oldest-first; author must be
// joined.
func (r *Room) History(ctx context.Context, author types.UserName) ([]types.Message, error) {
	if err := r.checkJoined(ctx, author); err != nil {
		return nil, err
	}
	return r.st.MessagesGet(ctx)
}

func knownRoomList(list types.ListName) bool {
	for _, known := range types.RoomLists {
		if list == known {
			return true
		}
	}
	return false
}

// GetList returns the named access list; author must be joined.
func (r *Room) GetList(ctx context.Context, author types.UserName, list types.ListName) ([]types.UserName, error) {
	if !knownRoomList(list) {
		return nil, chaterr.New(chaterr.NoList, string(list))
	}
	if err := r.checkJoined(ctx, author); err != nil {
		return nil, err
	}
	return r.st.GetList(ctx, list)
}

// GetMode returns the whitelist-only flag; author must be joined.
func (r *Room) GetMode(ctx context.Context, author types.UserName) (bool, error) {
	if err := r.checkJoined(ctx, author); err != nil {
		return false, err
	}
	return r.st.WhitelistOnlyGet(ctx)
}

// ChangeMode sets the whitelist-only flag; author must be an admin. When
// enabling, it returns the currently-joined users who no longer satisfy the
// access predicate (candidates for eviction).
func (r *Room) ChangeMode(ctx context.Context, author types.UserName, mode bool) ([]types.UserName, error) {
	admin, err := r.IsAdmin(ctx, author)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, chaterr.New(chaterr.NotAllowed, string(r.name))
	}
	if err := r.st.WhitelistOnlySet(ctx, mode); err != nil {
		return nil, err
	}
	if !mode {
		return nil, nil
	}
	return r.lostAccess(ctx)
}

// checkListChange enforces the per-value mutation rules shared by add and
// remove.
func (r *Room) checkListChange(ctx context.Context, author types.UserName, list types.ListName, value types.UserName) error {
	// The userlist is only mutated through join/leave.
	if list == types.ListUserlist {
		return chaterr.New(chaterr.NotAllowed, string(r.name))
	}
	owner, err := r.st.OwnerGet(ctx)
	if err != nil {
		return err
	}
	if author == owner && owner != "" {
		return nil
	}
	if value == owner && owner != "" {
		return chaterr.New(chaterr.NotAllowed, string(r.name))
	}
	valueIsAdmin, err := r.st.HasInList(ctx, types.ListAdminlist, value)
	if err != nil {
		return err
	}
	if valueIsAdmin {
		return chaterr.New(chaterr.NotAllowed, string(r.name))
	}
	authorIsAdmin, err := r.st.HasInList(ctx, types.ListAdminlist, author)
	if err != nil {
		return err
	}
	if !authorIsAdmin {
		return chaterr.New(chaterr.NotAllowed, string(r.name))
	}
	return nil
}

// mutateList runs the batch with bounded concurrency. The first per-item
// failure aborts the batch; partial progress up to that point is observable
// (the batch is not atomic).
func (r *Room) mutateList(ctx context.Context, author types.UserName, list types.ListName, values []types.UserName, add bool) error {
	if !knownRoomList(list) {
		return chaterr.New(chaterr.NoList, string(list))
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxListBatchInFlight)
	for _, v := range values {
		g.Go(func() error {
			if err := r.checkListChange(gctx, author, list, v); err != nil {
				return err
			}
			present, err := r.st.HasInList(gctx, list, v)
			if err != nil {
				return err
			}
			if add {
				if present {
					return chaterr.New(chaterr.NameInList, string(v), string(list))
				}
				return r.st.AddToList(gctx, list, v)
			}
			if !present {
				return chaterr.New(chaterr.NoNameInList, string(v), string(list))
			}
			return r.st.RemoveFromList(gctx, list, v)
		})
	}
	return g.Wait()
}

// AddToList mutates the named list and returns the currently-joined users
// who lost access as a result.
func (r *Room) AddToList(ctx context.Context, author types.UserName, list types.ListName, values []types.UserName) ([]types.UserName, error) {
	if err := r.mutateList(ctx, author, list, values, true); err != nil {
		return nil, err
	}
	if list != types.ListBlacklist {
		return nil, nil
	}
	return r.lostAccessAmong(ctx, values)
}

// RemoveFromList mutates the named list and returns the currently-joined
// users who lost access as a result.
func (r *Room) RemoveFromList(ctx context.Context, author types.UserName, list types.ListName, values []types.UserName) ([]types.UserName, error) {
	if err := r.mutateList(ctx, author, list, values, false); err != nil {
		return nil, err
	}
	if list != types.ListWhitelist {
		return nil, nil
	}
	wlOnly, err := r.st.WhitelistOnlyGet(ctx)
	if err != nil {
		return nil, err
	}
	if !wlOnly {
		return nil, nil
	}
	return r.lostAccessAmong(ctx, values)
}

// lostAccessAmong re-evaluates the access predicate for the given candidates
// after the mutation has completed, so a concurrently re-permitted user is
// never evicted.
func (r *Room) lostAccessAmong(ctx context.Context, candidates []types.UserName) ([]types.UserName, error) {
	var lost []types.UserName
	for _, user := range candidates {
		joined, err := r.st.HasInList(ctx, types.ListUserlist, user)
		if err != nil {
			return nil, err
		}
		if !joined {
			continue
		}
		admin, err := r.IsAdmin(ctx, user)
		if err != nil {
			return nil, err
		}
		if admin {
			continue
		}
		ok, err := r.hasAccess(ctx, user)
		if err != nil {
			return nil, err
		}
		if !ok {
			lost = append(lost, user)
		}
	}
	return lost, nil
}

// lostAccess evaluates every joined user, used on the whitelist-only flip.
func (r *Room) lostAccess(ctx context.Context) ([]types.UserName, error) {
	joined, err := r.st.GetList(ctx, types.ListUserlist)
	if err != nil {
		return nil, err
	}
	return r.lostAccessAmong(ctx, joined)
}
