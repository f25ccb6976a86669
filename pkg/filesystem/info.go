package filesystem

import (
	"context"

	"devicecloud/pkg/sci"
)

// FileInfo describes one file on one device as returned by a listing. The
// service back-reference exists only so further calls (fetch, delete) can
// be made from the entry itself; it plays no part in the entry's lifecycle.
type FileInfo struct {
	DeviceID     string
	Path         string
	LastModified int64
	Size         int64
	Hash         string
	HashType     HashMode

	service *Service
}

// Get fetches the contents of this file from its device.
func (f *FileInfo) Get(ctx context.Context) (Result, error) {
	results, err := f.service.GetFile(ctx, f.Path, nil, nil, sci.DeviceTarget{ID: f.DeviceID})
	if err != nil {
		return Result{}, err
	}
	return results[f.DeviceID], nil
}

// Delete removes this file from its device. The entry no longer describes
// an existing file afterwards.
func (f *FileInfo) Delete(ctx context.Context) (Result, error) {
	results, err := f.service.DeleteFile(ctx, f.Path, sci.DeviceTarget{ID: f.DeviceID})
	if err != nil {
		return Result{}, err
	}
	return results[f.DeviceID], nil
}

// DirectoryInfo describes one directory on one device as returned by a
// listing.
type DirectoryInfo struct {
	DeviceID     string
	Path         string
	LastModified int64

	service *Service
}

// ListContents lists the files and directories inside this directory.
func (d *DirectoryInfo) ListContents(ctx context.Context) (Result, error) {
	results, err := d.service.ListFiles(ctx, d.Path, HashAny, sci.DeviceTarget{ID: d.DeviceID})
	if err != nil {
		return Result{}, err
	}
	return results[d.DeviceID], nil
}

// LsInfo is the snapshot of one directory listing on one device.
type LsInfo struct {
	Directories []*DirectoryInfo
	Files       []*FileInfo
}

// Result is the outcome of one command on one device: either Error is set,
// or the success payload for the command kind is (a listing for ls, raw
// bytes for get_file, nothing for put_file and rm). Never both.
type Result struct {
	Error *ErrorInfo
	List  *LsInfo
	Data  []byte
}

// OK reports whether the command succeeded on the device.
func (r Result) OK() bool { return r.Error == nil }

// ExistsResult is the outcome of an existence check on one device.
type ExistsResult struct {
	Exists bool
	Error  *ErrorInfo
}
