package filesystem

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
)

// ErrPutSource is the usage error raised when a PutCommand does not carry
// exactly one of inline data or a server-side file reference. It is
// reported before any network I/O happens.
var ErrPutSource = errors.New("filesystem: put_file requires exactly one of inline data or server file")

// ResponseParseError indicates a reply that does not match the protocol:
// not well-formed XML, a command reply whose tag does not match the
// submitted command, or a reply count that differs from the submitted
// block. These are always fatal to the call, never folded into results.
type ResponseParseError struct {
	Msg string
	Err error
}

func (e *ResponseParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("filesystem: %s: %v", e.Msg, e.Err)
	}
	return "filesystem: " + e.Msg
}

func (e *ResponseParseError) Unwrap() error { return e.Err }

func parseErrorf(format string, args ...any) *ResponseParseError {
	return &ResponseParseError{Msg: fmt.Sprintf(format, args...)}
}

// ErrorInfo is an error reported by a device or the cloud inside an
// otherwise successful reply. Offline or failing devices are steady-state
// outcomes of fleet commands, so these are values, not Go errors.
type ErrorInfo struct {
	Errno   int
	Message string
}

func (e *ErrorInfo) String() string {
	return fmt.Sprintf("<ErrorInfo errno:%d message:%s>", e.Errno, e.Message)
}

// parseErrorInfo converts an <error> element into an ErrorInfo. The
// message comes from the element text or, failing that, a nested <desc>.
func parseErrorInfo(el *etree.Element) (*ErrorInfo, error) {
	errno, err := strconv.Atoi(el.SelectAttrValue("id", ""))
	if err != nil {
		return nil, &ResponseParseError{Msg: fmt.Sprintf("error element has invalid id %q", el.SelectAttrValue("id", "")), Err: err}
	}
	info := &ErrorInfo{Errno: errno}
	if text := el.Text(); text != "" {
		info.Message = text
	} else if desc := el.SelectElement("desc"); desc != nil {
		info.Message = desc.Text()
	}
	return info, nil
}
