package fetch

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

type Code int

const (
	CodeOK        Code = 0
	CodeTempFile  Code = 1
	CodeTransport Code = 100
	CodeLocal     Code = 101
	CodeCancelled Code = 102
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeTempFile:
		return "temp file"
	case CodeTransport:
		return "transport"
	case CodeLocal:
		return "local"
	case CodeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("code %d", int(c))
	}
}

// MaxMessageLen bounds Error.Msg in bytes.
const MaxMessageLen = 256

type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: truncate(fmt.Sprintf(format, args...))}
}

func truncate(msg string) string {
	if len(msg) < MaxMessageLen {
		return msg
	}
	return strings.ToValidUTF8(msg[:MaxMessageLen-1], "")
}

func errCancelled() *Error { return &Error{Code: CodeCancelled, Msg: "cancelled"} }

// IsCancelled reports whether err is the result of a progress callback
// asking to stop.
func IsCancelled(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == CodeCancelled
}

// reason strips the operation and path off err so messages read like
// "open: /target: permission denied".
func reason(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}

// firstLine trims captured diagnostics down to their first non-blank line.
func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, " \t\r\v\f")
}
