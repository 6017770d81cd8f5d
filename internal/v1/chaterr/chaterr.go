// Package chaterr defines the typed command errors delivered to clients.
package chaterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable error tag understood by clients.
type Kind string

const (
	InvalidName         Kind = "invalidName"
	NoLogin             Kind = "noLogin"
	NotAllowed          Kind = "notAllowed"
	NotJoined           Kind = "notJoined"
	NameInList          Kind = "nameInList"
	NoNameInList        Kind = "noNameInList"
	NoList              Kind = "noList"
	NoRoom              Kind = "noRoom"
	RoomExists          Kind = "roomExists"
	NoUserOnline        Kind = "noUserOnline"
	WrongArgumentsCount Kind = "wrongArgumentsCount"
	BadArgument         Kind = "badArgument"
	InvalidSocket       Kind = "invalidSocket"
	ServerError         Kind = "serverError"
)

// Error is a command error with a stable tag and positional arguments.
type Error struct {
	Name Kind  `json:"name"`
	Args []any `json:"args"`
}

// New builds an Error of the given kind.
func New(kind Kind, args ...any) *Error {
	return &Error{Name: kind, Args: args}
}

func (e *Error) Error() string {
	if len(e.Args) == 0 {
		return string(e.Name)
	}
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf("%s: %s", e.Name, strings.Join(parts, ", "))
}

// Render returns the wire representation: the structured object when raw is
// set, the stringified form otherwise.
func (e *Error) Render(raw bool) any {
	if e == nil {
		return nil
	}
	if raw {
		return e
	}
	return e.Error()
}

// From coerces an arbitrary error into an *Error. Non-domain failures
// (store, transport) surface to clients as a generic serverError.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return New(ServerError, err.Error())
}

// IsKind reports whether err is a chat error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Name == kind
	}
	return false
}
