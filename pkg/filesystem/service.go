package filesystem

import (
	"context"
	"log/slog"
	"strings"

	"github.com/beevik/etree"

	"devicecloud/pkg/sci"
)

// Service orchestrates file system command blocks: build the command
// fragments, dispatch them over SCI, and demultiplex the multi-device
// reply into per-device typed results. It is stateless and safe for
// concurrent use.
type Service struct {
	sci *sci.Client
}

// NewService returns a file system service dispatching over sciClient.
func NewService(sciClient *sci.Client) *Service {
	return &Service{sci: sciClient}
}

// SendCommandBlock sends block to the targeted devices in one request and
// returns a map of device id to one Result per submitted command, in
// submission order. A device-level error short-circuits every command slot
// for that device to the same ErrorInfo; other devices are unaffected. A
// reply whose command count differs from the block is a protocol violation
// and fails the whole call rather than misattributing results.
func (s *Service) SendCommandBlock(ctx context.Context, block *CommandBlock, targets ...sci.Target) (map[string][]Result, error) {
	payload, err := block.Serialize()
	if err != nil {
		return nil, err
	}
	body, err := s.sci.Send(ctx, sci.Request{
		Operation: sci.OpFileSystem,
		Targets:   targets,
		Payload:   payload,
	})
	if err != nil {
		return nil, err
	}
	return s.parseReply(body, block)
}

func (s *Service) parseReply(body []byte, block *CommandBlock) (map[string][]Result, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, &ResponseParseError{Msg: "reply is not well-formed XML", Err: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, parseErrorf("reply has no root element")
	}

	commands := block.Commands()
	results := make(map[string][]Result)
	for _, device := range root.FindElements("./file_system/device") {
		deviceID := device.SelectAttrValue("id", "")

		// A direct <error> child, before any <commands>, is a whole-device
		// failure (e.g. device not connected): every command in the block
		// gets the same outcome.
		if errEl := device.SelectElement("error"); errEl != nil {
			info, err := parseErrorInfo(errEl)
			if err != nil {
				return nil, err
			}
			slots := make([]Result, len(commands))
			for i := range slots {
				slots[i] = Result{Error: info}
			}
			results[deviceID] = slots
			slog.Debug("Device reported error", "component", "FileSystem", "device_id", deviceID, "errno", info.Errno)
			continue
		}

		cmdsEl := device.SelectElement("commands")
		if cmdsEl == nil {
			return nil, parseErrorf("device %s reply has neither error nor commands", deviceID)
		}
		replies := cmdsEl.ChildElements()
		if len(replies) != len(commands) {
			return nil, parseErrorf("device %s returned %d command replies for %d commands", deviceID, len(replies), len(commands))
		}

		slots := make([]Result, 0, len(commands))
		for i, cmd := range commands {
			res, err := cmd.parse(replies[i], deviceID, s)
			if err != nil {
				return nil, err
			}
			slots = append(slots, res)
		}
		results[deviceID] = slots
	}
	return results, nil
}

// sendSingle runs a one-command block and flattens the per-device slot
// lists into one Result per device.
func (s *Service) sendSingle(ctx context.Context, cmd Command, targets []sci.Target) (map[string]Result, error) {
	block := &CommandBlock{}
	block.Add(cmd)
	perDevice, err := s.SendCommandBlock(ctx, block, targets...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Result, len(perDevice))
	for deviceID, slots := range perDevice {
		out[deviceID] = slots[0]
	}
	return out, nil
}

// ListFiles lists the files and directories at path on every targeted
// device. hash selects content hashing for the returned file entries;
// HashAny lets each device pick its best algorithm.
func (s *Service) ListFiles(ctx context.Context, path string, hash HashMode, targets ...sci.Target) (map[string]Result, error) {
	return s.sendSingle(ctx, LsCommand{Path: path, Hash: hash}, targets)
}

// GetFile fetches the contents of path from every targeted device. A nil
// offset reads from the start of the file, a nil length to the end.
func (s *Service) GetFile(ctx context.Context, path string, offset, length *int, targets ...sci.Target) (map[string]Result, error) {
	return s.sendSingle(ctx, GetCommand{Path: path, Offset: offset, Length: length}, targets)
}

// PutFile writes cmd's data to its path on every targeted device.
func (s *Service) PutFile(ctx context.Context, cmd PutCommand, targets ...sci.Target) (map[string]Result, error) {
	return s.sendSingle(ctx, cmd, targets)
}

// DeleteFile removes path from every targeted device.
func (s *Service) DeleteFile(ctx context.Context, path string, targets ...sci.Target) (map[string]Result, error) {
	return s.sendSingle(ctx, DeleteCommand{Path: path}, targets)
}

// GetModifiedItems lists path on every targeted device and keeps only the
// entries modified after cutoff (Unix epoch seconds).
func (s *Service) GetModifiedItems(ctx context.Context, path string, cutoff int64, targets ...sci.Target) (map[string]Result, error) {
	listed, err := s.ListFiles(ctx, path, HashAny, targets...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Result, len(listed))
	for deviceID, res := range listed {
		if res.Error != nil {
			out[deviceID] = res
			continue
		}
		filtered := &LsInfo{}
		for _, f := range res.List.Files {
			if f.LastModified > cutoff {
				filtered.Files = append(filtered.Files, f)
			}
		}
		for _, d := range res.List.Directories {
			if d.LastModified > cutoff {
				filtered.Directories = append(filtered.Directories, d)
			}
		}
		out[deviceID] = Result{List: filtered}
	}
	return out, nil
}

// Exists reports whether path exists (as a file or directory) on every
// targeted device, by listing the parent directory and scanning for a
// matching entry.
func (s *Service) Exists(ctx context.Context, path string, targets ...sci.Target) (map[string]ExistsResult, error) {
	trimmed := strings.TrimSuffix(path, "/")
	parent := "/"
	if idx := strings.LastIndex(trimmed, "/"); idx > 0 {
		parent = trimmed[:idx]
	}

	listed, err := s.ListFiles(ctx, parent, HashNone, targets...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ExistsResult, len(listed))
	for deviceID, res := range listed {
		if res.Error != nil {
			out[deviceID] = ExistsResult{Error: res.Error}
			continue
		}
		found := false
		for _, f := range res.List.Files {
			if strings.TrimSuffix(f.Path, "/") == trimmed {
				found = true
				break
			}
		}
		if !found {
			for _, d := range res.List.Directories {
				if strings.TrimSuffix(d.Path, "/") == trimmed {
					found = true
					break
				}
			}
		}
		out[deviceID] = ExistsResult{Exists: found}
	}
	return out, nil
}
