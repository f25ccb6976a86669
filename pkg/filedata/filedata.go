// Package filedata maps the FileData web service: the cloud-side file
// store devices and applications push files into (distinct from the device
// filesystem protocol in pkg/filesystem).
package filedata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"devicecloud/pkg/client"
	"devicecloud/pkg/conditions"
)

// Attributes commonly used in FileData conditions.
const (
	AttrPath             = conditions.Attribute("fdPath")
	AttrName             = conditions.Attribute("fdName")
	AttrType             = conditions.Attribute("fdType")
	AttrCreatedDate      = conditions.Attribute("fdCreatedDate")
	AttrLastModifiedDate = conditions.Attribute("fdLastModifiedDate")
	AttrContentType      = conditions.Attribute("fdContentType")
	AttrSize             = conditions.Attribute("fdSize")
)

const iso8601 = "2006-01-02T15:04:05.000Z"

// API encapsulates the FileData store interface.
type API struct {
	conn client.Connection
}

// NewAPI returns a FileData API over the given connection.
func NewAPI(conn client.Connection) *API {
	return &API{conn: conn}
}

type record struct {
	ID struct {
		Name string `json:"fdName"`
		Path string `json:"fdPath"`
	} `json:"id"`
	Type             string      `json:"fdType"`
	ContentType      string      `json:"fdContentType"`
	Size             json.Number `json:"fdSize"`
	CreatedDate      string      `json:"fdCreatedDate"`
	LastModifiedDate string      `json:"fdLastModifiedDate"`
	CustomerID       json.Number `json:"cstId"`
}

// Object is one entry (file or directory) in the filedata store.
type Object struct {
	api *API
	rec record
}

// IsDirectory reports whether this entry is a directory.
func (o *Object) IsDirectory() bool { return o.rec.Type == "directory" }

// Name returns the leaf name of the entry.
func (o *Object) Name() string { return o.rec.ID.Name }

// Path returns the directory the entry lives in.
func (o *Object) Path() string { return o.rec.ID.Path }

// FullPath returns path and name joined.
func (o *Object) FullPath() string { return o.rec.ID.Path + o.rec.ID.Name }

// ContentType returns the stored content type, if any.
func (o *Object) ContentType() string { return o.rec.ContentType }

// Size returns the stored size in bytes.
func (o *Object) Size() int64 {
	n, _ := o.rec.Size.Int64()
	return n
}

// LastModified returns the entry's modification time; zero when unknown.
func (o *Object) LastModified() time.Time {
	t, err := time.Parse(iso8601, o.rec.LastModifiedDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Created returns the entry's creation time; zero when unknown.
func (o *Object) Created() time.Time {
	t, err := time.Parse(iso8601, o.rec.CreatedDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Delete removes this entry from the store.
func (o *Object) Delete(ctx context.Context) error {
	return o.api.Delete(ctx, o.FullPath())
}

// Get returns every entry matching condition. A nil condition lists the
// account home directory.
func (a *API) Get(ctx context.Context, condition conditions.Expression, pageSize int) ([]*Object, error) {
	if condition == nil {
		condition = AttrPath.Eq("~/")
	}
	var objects []*Object
	err := client.ForEachPage(ctx, a.conn, "/ws/FileData", condition.Compile(), pageSize, func(item json.RawMessage) error {
		var rec record
		if err := json.Unmarshal(item, &rec); err != nil {
			return fmt.Errorf("filedata: decoding entry: %w", err)
		}
		objects = append(objects, &Object{api: a, rec: rec})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// WriteFile stores data as a file at path/name, creating or replacing it.
// When archive is true the cloud keeps historical revisions.
func (a *API) WriteFile(ctx context.Context, path, name string, data []byte, contentType string, archive bool) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	name = strings.TrimLeft(name, "/")

	var b strings.Builder
	b.WriteString("<FileData>")
	if contentType != "" {
		fmt.Fprintf(&b, "<fdContentType>%s</fdContentType>", contentType)
	}
	b.WriteString("<fdType>file</fdType>")
	fmt.Fprintf(&b, "<fdData>%s</fdData>", base64.StdEncoding.EncodeToString(data))
	fmt.Fprintf(&b, "<fdArchive>%t</fdArchive>", archive)
	b.WriteString("</FileData>")

	_, err := a.conn.Put(ctx, "/ws/FileData"+path+name, []byte(b.String()))
	return err
}

// Delete removes the entry at fullPath from the store.
func (a *API) Delete(ctx context.Context, fullPath string) error {
	if !strings.HasPrefix(fullPath, "/") {
		fullPath = "/" + fullPath
	}
	_, err := a.conn.Delete(ctx, "/ws/FileData"+fullPath)
	return err
}

// WalkFunc is invoked once per directory visited by Walk with that
// directory's immediate children.
type WalkFunc func(dirPath string, directories, files []*Object) error

// Walk traverses the filedata store depth first from root (the account
// home directory when empty), invoking fn per directory level.
func (a *API) Walk(ctx context.Context, root string, fn WalkFunc) error {
	if root == "" {
		root = "~/"
	}
	query := root
	if !strings.HasSuffix(query, "/") {
		query += "/"
	}

	entries, err := a.Get(ctx, AttrPath.Eq(query), 0)
	if err != nil {
		return err
	}
	var directories, files []*Object
	for _, entry := range entries {
		if entry.IsDirectory() {
			directories = append(directories, entry)
		} else {
			files = append(files, entry)
		}
	}
	if err := fn(root, directories, files); err != nil {
		return err
	}
	for _, dir := range directories {
		if err := a.Walk(ctx, dir.FullPath(), fn); err != nil {
			return err
		}
	}
	return nil
}
