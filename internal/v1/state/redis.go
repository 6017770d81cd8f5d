package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// RedisStore keeps all state in a shared Redis backend so that several
// service instances observe one consistent view. Key schema, prefixed by the
// configured namespace:
//
//	{ns}:rooms                         set of room names
//	{ns}:room:{name}:info              hash: owner, whitelistOnly, historyMax
//	{ns}:room:{name}:list:{list}       set per access list
//	{ns}:room:{name}:history           list, newest first (LPUSH/LTRIM)
//	{ns}:online                        set of online user names
//	{ns}:user:{name}:info              hash: whitelistOnly
//	{ns}:user:{name}:list:{list}       set per direct list
//	{ns}:user:{name}:sockets           set of encoded socket refs
//	{ns}:user:{name}:rooms             set of joined room names
//	{ns}:user:{name}:room:{room}       set of encoded socket refs in the room
type RedisStore struct {
	client     *redis.Client
	ns         string
	historyMax int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password, namespace string, historyMax int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(rdb, namespace, historyMax), nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client, namespace string, historyMax int) *RedisStore {
	if historyMax <= 0 {
		historyMax = DefaultHistoryMax
	}
	if namespace == "" {
		namespace = "chat"
	}
	return &RedisStore{client: client, ns: namespace, historyMax: historyMax}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.ns
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func encodeRef(ref types.SocketRef) string {
	return string(ref.Instance) + "|" + string(ref.Socket)
}

func decodeRef(v string) types.SocketRef {
	for i := 0; i < len(v); i++ {
		if v[i] == '|' {
			return types.SocketRef{Instance: types.InstanceID(v[:i]), Socket: types.SocketID(v[i+1:])}
		}
	}
	return types.SocketRef{Socket: types.SocketID(v)}
}

func (s *RedisStore) roomExists(ctx context.Context, name types.RoomName) (bool, error) {
	return s.client.SIsMember(ctx, s.key("rooms"), string(name)).Result()
}

func (s *RedisStore) GetRoom(ctx context.Context, name types.RoomName) (types.RoomState, error) {
	ok, err := s.roomExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrNotFound
	}
	return &redisRoom{store: s, name: name}, nil
}

func (s *RedisStore) AddRoom(ctx context.Context, name types.RoomName, opts types.RoomOptions) error {
	added, err := s.client.SAdd(ctx, s.key("rooms"), string(name)).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return types.ErrAlreadyExists
	}
	historyMax := opts.HistoryMaxMessages
	if historyMax <= 0 {
		historyMax = s.historyMax
	}
	return s.client.HSet(ctx, s.key("room", string(name), "info"),
		"owner", string(opts.Owner),
		"whitelistOnly", strconv.FormatBool(opts.WhitelistOnly),
		"historyMax", strconv.Itoa(historyMax),
	).Err()
}

func (s *RedisStore) RemoveRoom(ctx context.Context, name types.RoomName) error {
	removed, err := s.client.SRem(ctx, s.key("rooms"), string(name)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return types.ErrNotFound
	}
	keys := []string{
		s.key("room", string(name), "info"),
		s.key("room", string(name), "history"),
	}
	for _, l := range types.RoomLists {
		keys = append(keys, s.key("room", string(name), "list", string(l)))
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) ListRooms(ctx context.Context) ([]types.RoomName, error) {
	members, err := s.client.SMembers(ctx, s.key("rooms")).Result()
	if err != nil {
		return nil, err
	}
	names := make([]types.RoomName, len(members))
	for i, m := range members {
		names[i] = types.RoomName(m)
	}
	return names, nil
}

func (s *RedisStore) LoginUser(ctx context.Context, name types.UserName, ref types.SocketRef) (types.UserState, error) {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.key("online"), string(name))
	pipe.SAdd(ctx, s.key("user", string(name), "sockets"), encodeRef(ref))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &redisUser{store: s, name: name}, nil
}

func (s *RedisStore) LogoutUser(ctx context.Context, name types.UserName) error {
	rooms, err := s.client.SMembers(ctx, s.key("user", string(name), "rooms")).Result()
	if err != nil {
		return err
	}
	keys := []string{
		s.key("user", string(name), "info"),
		s.key("user", string(name), "sockets"),
		s.key("user", string(name), "rooms"),
	}
	for _, l := range types.DirectLists {
		keys = append(keys, s.key("user", string(name), "list", string(l)))
	}
	for _, room := range rooms {
		keys = append(keys, s.key("user", string(name), "room", room))
	}
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, s.key("online"), string(name))
	pipe.Del(ctx, keys...)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetOnlineUser(ctx context.Context, name types.UserName) (types.UserState, error) {
	ok, err := s.client.SIsMember(ctx, s.key("online"), string(name)).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrNotFound
	}
	return &redisUser{store: s, name: name}, nil
}

func (s *RedisStore) OnlineUsers(ctx context.Context) ([]types.UserName, error) {
	members, err := s.client.SMembers(ctx, s.key("online")).Result()
	if err != nil {
		return nil, err
	}
	names := make([]types.UserName, len(members))
	for i, m := range members {
		names[i] = types.UserName(m)
	}
	return names, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// --- Room State ---

type redisRoom struct {
	store *RedisStore
	name  types.RoomName
}

func (r *redisRoom) Name() types.RoomName { return r.name }

func (r *redisRoom) infoKey() string {
	return r.store.key("room", string(r.name), "info")
}

func (r *redisRoom) listKey(l types.ListName) string {
	return r.store.key("room", string(r.name), "list", string(l))
}

func (r *redisRoom) historyKey() string {
	return r.store.key("room", string(r.name), "history")
}

func (r *redisRoom) OwnerGet(ctx context.Context) (types.UserName, error) {
	owner, err := r.store.client.HGet(ctx, r.infoKey(), "owner").Result()
	if err == redis.Nil {
		return "", nil
	}
	return types.UserName(owner), err
}

func (r *redisRoom) OwnerSet(ctx context.Context, owner types.UserName) error {
	return r.store.client.HSet(ctx, r.infoKey(), "owner", string(owner)).Err()
}

func (r *redisRoom) WhitelistOnlyGet(ctx context.Context) (bool, error) {
	v, err := r.store.client.HGet(ctx, r.infoKey(), "whitelistOnly").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (r *redisRoom) WhitelistOnlySet(ctx context.Context, mode bool) error {
	return r.store.client.HSet(ctx, r.infoKey(), "whitelistOnly", strconv.FormatBool(mode)).Err()
}

func validRoomList(l types.ListName) bool {
	for _, known := range types.RoomLists {
		if l == known {
			return true
		}
	}
	return false
}

func (r *redisRoom) HasInList(ctx context.Context, list types.ListName, user types.UserName) (bool, error) {
	if !validRoomList(list) {
		return false, types.ErrNotFound
	}
	return r.store.client.SIsMember(ctx, r.listKey(list), string(user)).Result()
}

func (r *redisRoom) AddToList(ctx context.Context, list types.ListName, users ...types.UserName) error {
	if !validRoomList(list) {
		return types.ErrNotFound
	}
	if len(users) == 0 {
		return nil
	}
	members := make([]any, len(users))
	for i, u := range users {
		members[i] = string(u)
	}
	return r.store.client.SAdd(ctx, r.listKey(list), members...).Err()
}

func (r *redisRoom) RemoveFromList(ctx context.Context, list types.ListName, users ...types.UserName) error {
	if !validRoomList(list) {
		return types.ErrNotFound
	}
	if len(users) == 0 {
		return nil
	}
	members := make([]any, len(users))
	for i, u := range users {
		members[i] = string(u)
	}
	return r.store.client.SRem(ctx, r.listKey(list), members...).Err()
}

func (r *redisRoom) GetList(ctx context.Context, list types.ListName) ([]types.UserName, error) {
	if !validRoomList(list) {
		return nil, types.ErrNotFound
	}
	members, err := r.store.client.SMembers(ctx, r.listKey(list)).Result()
	if err != nil {
		return nil, err
	}
	users := make([]types.UserName, len(members))
	for i, m := range members {
		users[i] = types.UserName(m)
	}
	return users, nil
}

func (r *redisRoom) historyMax(ctx context.Context) int {
	v, err := r.store.client.HGet(ctx, r.infoKey(), "historyMax").Result()
	if err != nil {
		return r.store.historyMax
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return r.store.historyMax
	}
	return n
}

func (r *redisRoom) MessageAdd(ctx context.Context, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	maxLen := int64(r.historyMax(ctx))
	pipe := r.store.client.TxPipeline()
	pipe.LPush(ctx, r.historyKey(), data)
	pipe.LTrim(ctx, r.historyKey(), 0, maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRoom) MessagesGet(ctx context.Context) ([]types.Message, error) {
	raw, err := r.store.client.LRange(ctx, r.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	// Stored newest-first; return oldest-first.
	msgs := make([]types.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m types.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			return nil, fmt.Errorf("corrupt history entry: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// --- User State ---

type redisUser struct {
	store *RedisStore
	name  types.UserName
}

func (u *redisUser) Name() types.UserName { return u.name }

func (u *redisUser) Direct() types.DirectState {
	return &redisDirect{store: u.store, name: u.name}
}

func (u *redisUser) socketsKey() string {
	return u.store.key("user", string(u.name), "sockets")
}

func (u *redisUser) roomsKey() string {
	return u.store.key("user", string(u.name), "rooms")
}

func (u *redisUser) roomKey(room types.RoomName) string {
	return u.store.key("user", string(u.name), "room", string(room))
}

func (u *redisUser) SocketAdd(ctx context.Context, ref types.SocketRef) error {
	return u.store.client.SAdd(ctx, u.socketsKey(), encodeRef(ref)).Err()
}

func (u *redisUser) SocketRemove(ctx context.Context, ref types.SocketRef) error {
	return u.store.client.SRem(ctx, u.socketsKey(), encodeRef(ref)).Err()
}

func (u *redisUser) SocketsGetAll(ctx context.Context) ([]types.SocketRef, error) {
	members, err := u.store.client.SMembers(ctx, u.socketsKey()).Result()
	if err != nil {
		return nil, err
	}
	refs := make([]types.SocketRef, len(members))
	for i, m := range members {
		refs[i] = decodeRef(m)
	}
	return refs, nil
}

func (u *redisUser) RoomSocketAdd(ctx context.Context, room types.RoomName, ref types.SocketRef) (int, error) {
	pipe := u.store.client.TxPipeline()
	pipe.SAdd(ctx, u.roomsKey(), string(room))
	pipe.SAdd(ctx, u.roomKey(room), encodeRef(ref))
	card := pipe.SCard(ctx, u.roomKey(room))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (u *redisUser) RoomSocketRemove(ctx context.Context, room types.RoomName, ref types.SocketRef) (int, error) {
	pipe := u.store.client.TxPipeline()
	pipe.SRem(ctx, u.roomKey(room), encodeRef(ref))
	card := pipe.SCard(ctx, u.roomKey(room))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	n := int(card.Val())
	if n == 0 {
		if err := u.store.client.SRem(ctx, u.roomsKey(), string(room)).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (u *redisUser) RoomRemove(ctx context.Context, room types.RoomName) error {
	pipe := u.store.client.TxPipeline()
	pipe.SRem(ctx, u.roomsKey(), string(room))
	pipe.Del(ctx, u.roomKey(room))
	_, err := pipe.Exec(ctx)
	return err
}

func (u *redisUser) RoomsGetAll(ctx context.Context) ([]types.RoomName, error) {
	members, err := u.store.client.SMembers(ctx, u.roomsKey()).Result()
	if err != nil {
		return nil, err
	}
	rooms := make([]types.RoomName, len(members))
	for i, m := range members {
		rooms[i] = types.RoomName(m)
	}
	return rooms, nil
}

func (u *redisUser) SocketRoomsGetAll(ctx context.Context, ref types.SocketRef) ([]types.RoomName, error) {
	rooms, err := u.RoomsGetAll(ctx)
	if err != nil {
		return nil, err
	}
	var joined []types.RoomName
	for _, room := range rooms {
		ok, err := u.store.client.SIsMember(ctx, u.roomKey(room), encodeRef(ref)).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			joined = append(joined, room)
		}
	}
	return joined, nil
}

// --- Direct Messaging State ---

type redisDirect struct {
	store *RedisStore
	name  types.UserName
}

func (d *redisDirect) infoKey() string {
	return d.store.key("user", string(d.name), "info")
}

func (d *redisDirect) listKey(l types.ListName) string {
	return d.store.key("user", string(d.name), "list", string(l))
}

func validDirectList(l types.ListName) bool {
	for _, known := range types.DirectLists {
		if l == known {
			return true
		}
	}
	return false
}

func (d *redisDirect) WhitelistOnlyGet(ctx context.Context) (bool, error) {
	v, err := d.store.client.HGet(ctx, d.infoKey(), "whitelistOnly").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (d *redisDirect) WhitelistOnlySet(ctx context.Context, mode bool) error {
	return d.store.client.HSet(ctx, d.infoKey(), "whitelistOnly", strconv.FormatBool(mode)).Err()
}

func (d *redisDirect) HasInList(ctx context.Context, list types.ListName, user types.UserName) (bool, error) {
	if !validDirectList(list) {
		return false, types.ErrNotFound
	}
	return d.store.client.SIsMember(ctx, d.listKey(list), string(user)).Result()
}

func (d *redisDirect) AddToList(ctx context.Context, list types.ListName, users ...types.UserName) error {
	if !validDirectList(list) {
		return types.ErrNotFound
	}
	if len(users) == 0 {
		return nil
	}
	members := make([]any, len(users))
	for i, u := range users {
		members[i] = string(u)
	}
	return d.store.client.SAdd(ctx, d.listKey(list), members...).Err()
}

func (d *redisDirect) RemoveFromList(ctx context.Context, list types.ListName, users ...types.UserName) error {
	if !validDirectList(list) {
		return types.ErrNotFound
	}
	if len(users) == 0 {
		return nil
	}
	members := make([]any, len(users))
	for i, u := range users {
		members[i] = string(u)
	}
	return d.store.client.SRem(ctx, d.listKey(list), members...).Err()
}

func (d *redisDirect) GetList(ctx context.Context, list types.ListName) ([]types.UserName, error) {
	if !validDirectList(list) {
		return nil, types.ErrNotFound
	}
	members, err := d.store.client.SMembers(ctx, d.listKey(list)).Result()
	if err != nil {
		return nil, err
	}
	users := make([]types.UserName, len(members))
	for i, m := range members {
		users[i] = types.UserName(m)
	}
	return users, nil
}
