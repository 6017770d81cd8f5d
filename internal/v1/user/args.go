package user

import (
	"encoding/json"

	"github.com/chatsvc/chatsvc/internal/v1/chaterr"
	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// Argument decoding. Wrong arity yields wrongArgumentsCount, wrong type
// badArgument; both short-circuit before the hook pipeline.

func wantArgs(cmd string, raw []json.RawMessage, n int) error {
	if len(raw) != n {
		return chaterr.New(chaterr.WrongArgumentsCount, cmd, n, len(raw))
	}
	return nil
}

func asString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", chaterr.New(chaterr.BadArgument, string(raw))
	}
	return s, nil
}

func asBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, chaterr.New(chaterr.BadArgument, string(raw))
	}
	return b, nil
}

func asStringSlice(raw json.RawMessage) ([]string, error) {
	var vs []string
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, chaterr.New(chaterr.BadArgument, string(raw))
	}
	return vs, nil
}

// asMessageInput decodes a client message object, which must carry exactly
// the one textMessage field.
func asMessageInput(raw json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) != 1 {
		return "", chaterr.New(chaterr.BadArgument, string(raw))
	}
	txt, ok := fields["textMessage"]
	if !ok {
		return "", chaterr.New(chaterr.BadArgument, string(raw))
	}
	var s string
	if err := json.Unmarshal(txt, &s); err != nil {
		return "", chaterr.New(chaterr.BadArgument, string(raw))
	}
	return s, nil
}

func toUserNames(vs []string) []types.UserName {
	out := make([]types.UserName, len(vs))
	for i, v := range vs {
		out[i] = types.UserName(v)
	}
	return out
}

// --- per-shape decoders, shared across commands ---

func decodeNone(cmd string, raw []json.RawMessage) ([]any, error) {
	if err := wantArgs(cmd, raw, 0); err != nil {
		return nil, err
	}
	return nil, nil
}

func decodeString1(cmd string, raw []json.RawMessage) ([]any, error) {
	if err := wantArgs(cmd, raw, 1); err != nil {
		return nil, err
	}
	s, err := asString(raw[0])
	if err != nil {
		return nil, err
	}
	return []any{s}, nil
}

func decodeStringBool(cmd string, raw []json.RawMessage) ([]any, error) {
	if err := wantArgs(cmd, raw, 2); err != nil {
		return nil, err
	}
	s, err := asString(raw[0])
	if err != nil {
		return nil, err
	}
	b, err := asBool(raw[1])
	if err != nil {
		return nil, err
	}
	return []any{s, b}, nil
}

func decodeBool1(cmd string, raw []json.RawMessage) ([]any, error) {
	if err := wantArgs(cmd, raw, 1); err != nil {
		return nil, err
	}
	b, err := asBool(raw[0])
	if err != nil {
		return nil, err
	}
	return []any{b}, nil
}

func decodeListChange(cmd string, raw []json.RawMessage) ([]any, error) {
	if err := wantArgs(cmd, raw, 2); err != nil {
		return nil, err
	}
	list, err := asString(raw[0])
	if err != nil {
		return nil, err
	}
	values, err := asStringSlice(raw[1])
	if err != nil {
		return nil, err
	}
	return []any{list, values}, nil
}

func decodeRoomListChange(cmd string, raw []json.RawMessage) ([]any, error) {
	if err := wantArgs(cmd, raw, 3); err != nil {
		return nil, err
	}
	room, err := asString(raw[0])
	if err != nil {
		return nil, err
	}
	list, err := asString(raw[1])
	if err != nil {
		return nil, err
	}
	values, err := asStringSlice(raw[2])
	if err != nil {
		return nil, err
	}
	return []any{room, list, values}, nil
}

func decodeString2(cmd string, raw []json.RawMessage) ([]any, error) {
	if err := wantArgs(cmd, raw, 2); err != nil {
		return nil, err
	}
	a, err := asString(raw[0])
	if err != nil {
		return nil, err
	}
	b, err := asString(raw[1])
	if err != nil {
		return nil, err
	}
	return []any{a, b}, nil
}

func decodeTargetMessage(cmd string, raw []json.RawMessage) ([]any, error) {
	if err := wantArgs(cmd, raw, 2); err != nil {
		return nil, err
	}
	target, err := asString(raw[0])
	if err != nil {
		return nil, err
	}
	text, err := asMessageInput(raw[1])
	if err != nil {
		return nil, err
	}
	return []any{target, text}, nil
}
