// Package sci implements the Server Command Interface: the cloud's
// XML-over-HTTP mechanism for relaying commands to fleet-managed devices.
// It covers request envelope construction, synchronous and asynchronous
// dispatch, and polling of asynchronous jobs.
package sci

import (
	"errors"
	"fmt"
	"strings"
)

// Operation names accepted by the SCI endpoint.
type Operation string

const (
	OpSendMessage          Operation = "send_message"
	OpUpdateFirmware       Operation = "update_firmware"
	OpDisconnect           Operation = "disconnect"
	OpQueryFirmwareTargets Operation = "query_firmware_targets"
	OpFileSystem           Operation = "file_system"
	OpDataService          Operation = "data_service"
	OpReboot               Operation = "reboot"
)

// Bool returns a pointer to v, for filling optional RequestOptions fields.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for filling optional RequestOptions fields.
func Int(v int) *int { return &v }

// RequestOptions carries the execution options rendered as attributes on
// the operation element. A nil field (or empty Reply) emits no attribute
// at all, letting the server default apply; that omit-versus-explicit
// distinction is part of the wire contract, so every boolean is tri-state.
type RequestOptions struct {
	Reply            string
	Synchronous      *bool
	SyncTimeout      *int
	Cache            *bool
	AllowOffline     *bool
	WaitForReconnect *bool
}

func appendBoolAttr(b *strings.Builder, name string, v *bool) {
	if v == nil {
		return
	}
	value := "false"
	if *v {
		value = "true"
	}
	fmt.Fprintf(b, ` %s="%s"`, name, value)
}

// attrs renders the attribute string in wire grammar order.
func (o RequestOptions) attrs() string {
	var b strings.Builder
	if o.Reply != "" {
		fmt.Fprintf(&b, ` reply="%s"`, o.Reply)
	}
	appendBoolAttr(&b, "synchronous", o.Synchronous)
	if o.SyncTimeout != nil {
		fmt.Fprintf(&b, ` syncTimeout="%d"`, *o.SyncTimeout)
	}
	appendBoolAttr(&b, "cache", o.Cache)
	appendBoolAttr(&b, "allowOffline", o.AllowOffline)
	appendBoolAttr(&b, "waitForReconnect", o.WaitForReconnect)
	return b.String()
}

// Request describes one SCI call: the operation, the addressed targets,
// an opaque payload of raw markup, and the execution options.
type Request struct {
	Operation Operation
	Targets   []Target
	Payload   string
	Options   RequestOptions
}

// Envelope builds the full request document. It performs no I/O and is
// deterministic: identical requests produce byte-identical envelopes.
func (r Request) Envelope() (string, error) {
	if r.Operation == "" {
		return "", errors.New("sci: operation is required")
	}
	for _, t := range r.Targets {
		if t == nil {
			return "", errors.New("sci: nil target")
		}
	}

	var targets strings.Builder
	for _, t := range r.Targets {
		targets.WriteString(t.XML())
	}

	return fmt.Sprintf(`<sci_request version="1.0"><%s%s><targets>%s</targets>%s</%s></sci_request>`,
		r.Operation, r.Options.attrs(), targets.String(), r.Payload, r.Operation), nil
}
