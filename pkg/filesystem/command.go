// Package filesystem implements the file system command protocol carried
// over SCI: list, fetch, write and delete operations against the
// filesystems of fleet-managed devices, individually or batched, with
// per-device, per-command typed results.
package filesystem

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
)

// HashMode selects how a listing hashes file contents. HashAny lets the
// device pick its best available algorithm; the algorithm actually used is
// reported back per file, never assumed.
type HashMode string

const (
	HashNone  HashMode = "none"
	HashAny   HashMode = "any"
	HashMD5   HashMode = "md5"
	HashCRC32 HashMode = "crc32"
)

// Command is one file system operation. The variant set is closed: each
// variant serializes exactly its own fields and parses exactly its own
// reply fragment, rejecting a fragment whose tag is not its own so results
// can never be misattributed across commands.
type Command interface {
	// Name is the wire name of the command element.
	Name() string
	// Element renders the command fragment. Usage errors (PutCommand
	// source selection) surface here, before any I/O.
	Element() (*etree.Element, error)

	parse(el *etree.Element, deviceID string, svc *Service) (Result, error)
}

// checkReply enforces the reply-tag cross-check shared by all variants and
// extracts a per-command error if one is present. ok is false when the
// returned Result already carries the outcome.
func checkReply(c Command, el *etree.Element) (res Result, ok bool, err error) {
	if el.Tag != c.Name() {
		return Result{}, false, parseErrorf("reply tag %q does not match command %q", el.Tag, c.Name())
	}
	if errEl := el.SelectElement("error"); errEl != nil {
		info, err := parseErrorInfo(errEl)
		if err != nil {
			return Result{}, false, err
		}
		return Result{Error: info}, false, nil
	}
	return Result{}, true, nil
}

// LsCommand lists a directory on the device.
type LsCommand struct {
	Path string
	// Hash defaults to HashAny when empty.
	Hash HashMode
}

func (c LsCommand) Name() string { return "ls" }

func (c LsCommand) Element() (*etree.Element, error) {
	hash := c.Hash
	if hash == "" {
		hash = HashAny
	}
	el := etree.NewElement("ls")
	el.CreateAttr("path", c.Path)
	el.CreateAttr("hash", string(hash))
	return el, nil
}

func (c LsCommand) parse(el *etree.Element, deviceID string, svc *Service) (Result, error) {
	res, ok, err := checkReply(c, el)
	if !ok {
		return res, err
	}

	// The hash algorithm the device actually used, which may differ from
	// the requested mode (notably for HashAny).
	hashType := HashMode(el.SelectAttrValue("hash", string(HashNone)))

	info := &LsInfo{}
	for _, fileEl := range el.SelectElements("file") {
		lastModified, err := intAttr(fileEl, "last_modified")
		if err != nil {
			return Result{}, err
		}
		size, err := intAttr(fileEl, "size")
		if err != nil {
			return Result{}, err
		}
		info.Files = append(info.Files, &FileInfo{
			DeviceID:     deviceID,
			Path:         fileEl.SelectAttrValue("path", ""),
			LastModified: lastModified,
			Size:         size,
			Hash:         fileEl.SelectAttrValue("hash", ""),
			HashType:     hashType,
			service:      svc,
		})
	}
	for _, dirEl := range el.SelectElements("dir") {
		lastModified, err := intAttr(dirEl, "last_modified")
		if err != nil {
			return Result{}, err
		}
		info.Directories = append(info.Directories, &DirectoryInfo{
			DeviceID:     deviceID,
			Path:         dirEl.SelectAttrValue("path", ""),
			LastModified: lastModified,
			service:      svc,
		})
	}
	return Result{List: info}, nil
}

func intAttr(el *etree.Element, name string) (int64, error) {
	v, err := strconv.ParseInt(el.SelectAttrValue(name, ""), 10, 64)
	if err != nil {
		return 0, &ResponseParseError{Msg: fmt.Sprintf("%s element has invalid %s attribute", el.Tag, name), Err: err}
	}
	return v, nil
}

// GetCommand fetches file contents from the device, optionally a byte
// range. A nil Offset reads from the start, a nil Length to the end.
type GetCommand struct {
	Path   string
	Offset *int
	Length *int
}

func (c GetCommand) Name() string { return "get_file" }

func (c GetCommand) Element() (*etree.Element, error) {
	el := etree.NewElement("get_file")
	el.CreateAttr("path", c.Path)
	if c.Offset != nil {
		el.CreateAttr("offset", strconv.Itoa(*c.Offset))
	}
	if c.Length != nil {
		el.CreateAttr("length", strconv.Itoa(*c.Length))
	}
	return el, nil
}

func (c GetCommand) parse(el *etree.Element, deviceID string, svc *Service) (Result, error) {
	res, ok, err := checkReply(c, el)
	if !ok {
		return res, err
	}
	dataEl := el.SelectElement("data")
	if dataEl == nil {
		return Result{}, parseErrorf("get_file reply for device %s has no data element", deviceID)
	}
	data, err := base64.StdEncoding.DecodeString(dataEl.Text())
	if err != nil {
		return Result{}, &ResponseParseError{Msg: "get_file reply carries invalid base64 data", Err: err}
	}
	return Result{Data: data}, nil
}

// PutCommand writes data into a file on the device. Exactly one of Data
// (inline, base64-encoded on the wire; a non-nil empty slice writes an
// empty file) or ServerFile (path of a file held cloud-side) must be
// supplied. Truncate cuts the file off at the end of the written bytes.
type PutCommand struct {
	Path       string
	Data       []byte
	ServerFile string
	Offset     *int
	Truncate   bool
}

func (c PutCommand) Name() string { return "put_file" }

func (c PutCommand) Element() (*etree.Element, error) {
	if (c.Data != nil) == (c.ServerFile != "") {
		return nil, ErrPutSource
	}
	el := etree.NewElement("put_file")
	el.CreateAttr("path", c.Path)
	el.CreateAttr("truncate", strconv.FormatBool(c.Truncate))
	if c.Offset != nil {
		el.CreateAttr("offset", strconv.Itoa(*c.Offset))
	}
	if c.Data != nil {
		el.CreateElement("data").SetText(base64.StdEncoding.EncodeToString(c.Data))
	} else {
		el.CreateElement("file").SetText(c.ServerFile)
	}
	return el, nil
}

func (c PutCommand) parse(el *etree.Element, deviceID string, svc *Service) (Result, error) {
	res, ok, err := checkReply(c, el)
	if !ok {
		return res, err
	}
	return Result{}, nil
}

// DeleteCommand removes a file from the device.
type DeleteCommand struct {
	Path string
}

func (c DeleteCommand) Name() string { return "rm" }

func (c DeleteCommand) Element() (*etree.Element, error) {
	el := etree.NewElement("rm")
	el.CreateAttr("path", c.Path)
	return el, nil
}

func (c DeleteCommand) parse(el *etree.Element, deviceID string, svc *Service) (Result, error) {
	res, ok, err := checkReply(c, el)
	if !ok {
		return res, err
	}
	return Result{}, nil
}

// CommandBlock is an ordered batch of commands sent as a single SCI
// payload. Order matters: replies carry no correlation id and are matched
// back to commands positionally.
type CommandBlock struct {
	commands []Command
}

// Add appends a command to the block.
func (b *CommandBlock) Add(cmd Command) {
	b.commands = append(b.commands, cmd)
}

// Commands returns the commands in submission order.
func (b *CommandBlock) Commands() []Command {
	return b.commands
}

// Serialize renders the block as a single <commands> element.
func (b *CommandBlock) Serialize() (string, error) {
	root := etree.NewElement("commands")
	for _, cmd := range b.commands {
		el, err := cmd.Element()
		if err != nil {
			return "", err
		}
		root.AddChild(el)
	}
	doc := etree.NewDocument()
	doc.SetRoot(root)
	return doc.WriteToString()
}
