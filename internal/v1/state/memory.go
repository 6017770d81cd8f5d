// Package state provides the two reference StateStore implementations: an
// in-memory store for single-instance deployments and a Redis store for
// multi-instance deployments. Both present identical semantics; single calls
// are atomic, composite operations are not.
package state

import (
	"container/list"
	"context"
	"sync"

	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// DefaultHistoryMax bounds room history when no explicit limit is configured.
const DefaultHistoryMax = 100

// MemoryStore keeps all state in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	rooms      map[types.RoomName]*memRoom
	users      map[types.UserName]*memUser
	historyMax int
}

// NewMemoryStore creates an empty in-memory store. historyMax bounds room
// history for rooms created without an explicit limit; 0 means the default.
func NewMemoryStore(historyMax int) *MemoryStore {
	if historyMax <= 0 {
		historyMax = DefaultHistoryMax
	}
	return &MemoryStore{
		rooms:      make(map[types.RoomName]*memRoom),
		users:      make(map[types.UserName]*memUser),
		historyMax: historyMax,
	}
}

func (s *MemoryStore) GetRoom(_ context.Context, name types.RoomName) (types.RoomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[name]
	if !ok {
		return nil, types.ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) AddRoom(_ context.Context, name types.RoomName, opts types.RoomOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[name]; ok {
		return types.ErrAlreadyExists
	}
	historyMax := opts.HistoryMaxMessages
	if historyMax <= 0 {
		historyMax = s.historyMax
	}
	r := &memRoom{
		name:       name,
		owner:      opts.Owner,
		wlOnly:     opts.WhitelistOnly,
		lists:      make(map[types.ListName]map[types.UserName]struct{}),
		history:    list.New(),
		historyMax: historyMax,
	}
	for _, l := range types.RoomLists {
		r.lists[l] = make(map[types.UserName]struct{})
	}
	s.rooms[name] = r
	return nil
}

func (s *MemoryStore) RemoveRoom(_ context.Context, name types.RoomName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[name]; !ok {
		return types.ErrNotFound
	}
	delete(s.rooms, name)
	return nil
}

func (s *MemoryStore) ListRooms(_ context.Context) ([]types.RoomName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]types.RoomName, 0, len(s.rooms))
	for n := range s.rooms {
		names = append(names, n)
	}
	return names, nil
}

func (s *MemoryStore) LoginUser(_ context.Context, name types.UserName, ref types.SocketRef) (types.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		u = newMemUser(name)
		s.users[name] = u
	}
	u.mu.Lock()
	u.sockets[ref] = struct{}{}
	u.mu.Unlock()
	return u, nil
}

func (s *MemoryStore) LogoutUser(_ context.Context, name types.UserName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; !ok {
		return types.ErrNotFound
	}
	delete(s.users, name)
	return nil
}

func (s *MemoryStore) GetOnlineUser(_ context.Context, name types.UserName) (types.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[name]
	if !ok {
		return nil, types.ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) OnlineUsers(_ context.Context) ([]types.UserName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]types.UserName, 0, len(s.users))
	for n := range s.users {
		names = append(names, n)
	}
	return names, nil
}

func (s *MemoryStore) Close() error { return nil }

// --- Room State ---

type memRoom struct {
	mu         sync.RWMutex
	name       types.RoomName
	owner      types.UserName
	wlOnly     bool
	lists      map[types.ListName]map[types.UserName]struct{}
	history    *list.List
	historyMax int
}

func (r *memRoom) Name() types.RoomName { return r.name }

func (r *memRoom) OwnerGet(_ context.Context) (types.UserName, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner, nil
}

func (r *memRoom) OwnerSet(_ context.Context, owner types.UserName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = owner
	return nil
}

func (r *memRoom) WhitelistOnlyGet(_ context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wlOnly, nil
}

func (r *memRoom) WhitelistOnlySet(_ context.Context, mode bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wlOnly = mode
	return nil
}

func (r *memRoom) HasInList(_ context.Context, listName types.ListName, user types.UserName) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[listName]
	if !ok {
		return false, types.ErrNotFound
	}
	_, has := l[user]
	return has, nil
}

func (r *memRoom) AddToList(_ context.Context, listName types.ListName, users ...types.UserName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lists[listName]
	if !ok {
		return types.ErrNotFound
	}
	for _, u := range users {
		l[u] = struct{}{}
	}
	return nil
}

func (r *memRoom) RemoveFromList(_ context.Context, listName types.ListName, users ...types.UserName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lists[listName]
	if !ok {
		return types.ErrNotFound
	}
	for _, u := range users {
		delete(l, u)
	}
	return nil
}

func (r *memRoom) GetList(_ context.Context, listName types.ListName) ([]types.UserName, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[listName]
	if !ok {
		return nil, types.ErrNotFound
	}
	users := make([]types.UserName, 0, len(l))
	for u := range l {
		users = append(users, u)
	}
	return users, nil
}

func (r *memRoom) MessageAdd(_ context.Context, msg types.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history.PushBack(msg)
	for r.history.Len() > r.historyMax {
		r.history.Remove(r.history.Front())
	}
	return nil
}

func (r *memRoom) MessagesGet(_ context.Context) ([]types.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := make([]types.Message, 0, r.history.Len())
	for e := r.history.Front(); e != nil; e = e.Next() {
		if m, ok := e.Value.(types.Message); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// --- User State ---

type memUser struct {
	mu          sync.RWMutex
	name        types.UserName
	direct      *memDirect
	sockets     map[types.SocketRef]struct{}
	roomSockets map[types.RoomName]map[types.SocketRef]struct{}
}

func newMemUser(name types.UserName) *memUser {
	u := &memUser{
		name:        name,
		sockets:     make(map[types.SocketRef]struct{}),
		roomSockets: make(map[types.RoomName]map[types.SocketRef]struct{}),
	}
	u.direct = &memDirect{
		lists: map[types.ListName]map[types.UserName]struct{}{
			types.ListBlacklist: make(map[types.UserName]struct{}),
			types.ListWhitelist: make(map[types.UserName]struct{}),
		},
	}
	return u
}

func (u *memUser) Name() types.UserName      { return u.name }
func (u *memUser) Direct() types.DirectState { return u.direct }

func (u *memUser) SocketAdd(_ context.Context, ref types.SocketRef) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sockets[ref] = struct{}{}
	return nil
}

func (u *memUser) SocketRemove(_ context.Context, ref types.SocketRef) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.sockets, ref)
	return nil
}

func (u *memUser) SocketsGetAll(_ context.Context) ([]types.SocketRef, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	refs := make([]types.SocketRef, 0, len(u.sockets))
	for ref := range u.sockets {
		refs = append(refs, ref)
	}
	return refs, nil
}

func (u *memUser) RoomSocketAdd(_ context.Context, room types.RoomName, ref types.SocketRef) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	set, ok := u.roomSockets[room]
	if !ok {
		set = make(map[types.SocketRef]struct{})
		u.roomSockets[room] = set
	}
	set[ref] = struct{}{}
	return len(set), nil
}

func (u *memUser) RoomSocketRemove(_ context.Context, room types.RoomName, ref types.SocketRef) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	set, ok := u.roomSockets[room]
	if !ok {
		return 0, nil
	}
	delete(set, ref)
	if len(set) == 0 {
		delete(u.roomSockets, room)
		return 0, nil
	}
	return len(set), nil
}

func (u *memUser) RoomRemove(_ context.Context, room types.RoomName) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.roomSockets, room)
	return nil
}

func (u *memUser) RoomsGetAll(_ context.Context) ([]types.RoomName, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	rooms := make([]types.RoomName, 0, len(u.roomSockets))
	for room := range u.roomSockets {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (u *memUser) SocketRoomsGetAll(_ context.Context, ref types.SocketRef) ([]types.RoomName, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var rooms []types.RoomName
	for room, set := range u.roomSockets {
		if _, ok := set[ref]; ok {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

// --- Direct Messaging State ---

type memDirect struct {
	mu     sync.RWMutex
	wlOnly bool
	lists  map[types.ListName]map[types.UserName]struct{}
}

func (d *memDirect) WhitelistOnlyGet(_ context.Context) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wlOnly, nil
}

func (d *memDirect) WhitelistOnlySet(_ context.Context, mode bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wlOnly = mode
	return nil
}

func (d *memDirect) HasInList(_ context.Context, listName types.ListName, user types.UserName) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.lists[listName]
	if !ok {
		return false, types.ErrNotFound
	}
	_, has := l[user]
	return has, nil
}

func (d *memDirect) AddToList(_ context.Context, listName types.ListName, users ...types.UserName) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lists[listName]
	if !ok {
		return types.ErrNotFound
	}
	for _, u := range users {
		l[u] = struct{}{}
	}
	return nil
}

func (d *memDirect) RemoveFromList(_ context.Context, listName types.ListName, users ...types.UserName) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lists[listName]
	if !ok {
		return types.ErrNotFound
	}
	for _, u := range users {
		delete(l, u)
	}
	return nil
}

func (d *memDirect) GetList(_ context.Context, listName types.ListName) ([]types.UserName, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.lists[listName]
	if !ok {
		return nil, types.ErrNotFound
	}
	users := make([]types.UserName, 0, len(l))
	for u := range l {
		users = append(users, u)
	}
	return users, nil
}
