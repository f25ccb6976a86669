// Package mockcloud implements an in-memory mock of the device cloud for
// development and tests: the SCI endpoint (file_system operation, sync
// and async), async job polling, and a minimal DeviceCore listing.
package mockcloud

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/gin-gonic/gin"
)

// File is one file on a mock device.
type File struct {
	Data     []byte
	Modified int64
}

// Device is one simulated device. A disconnected device answers every
// file system command with a device-level error, like the real cloud.
type Device struct {
	ID        string
	Mac       string
	Connected bool
	Files     map[string]*File
}

type job struct {
	body      string
	pollsLeft int
}

// Server is the mock cloud. Zero value is not usable; call NewServer.
type Server struct {
	engine *gin.Engine

	mu      sync.Mutex
	devices map[string]*Device
	jobs    map[int]*job
	nextJob int

	// PollsUntilComplete makes async jobs report in_progress for that
	// many polls before completing, to exercise polling loops.
	PollsUntilComplete int
}

// NewServer builds a mock cloud with no devices registered.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		engine:  gin.New(),
		devices: make(map[string]*Device),
		jobs:    make(map[int]*job),
		nextJob: 100,
	}
	s.engine.Use(gin.Recovery())

	s.engine.POST("/ws/sci", s.handleSCI)
	s.engine.GET("/ws/sci/:jobId", s.handleJob)
	s.engine.GET("/ws/DeviceCore", s.handleDeviceCore)
	s.engine.POST("/mock/devices", s.handleAddDevice)
	return s
}

// Engine exposes the router for httptest-style serving.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves the mock cloud on addr, blocking.
func (s *Server) Run(addr string) error { return s.engine.Run(addr) }

// AddDevice registers (or replaces) a simulated device.
func (s *Server) AddDevice(d *Device) {
	if d.Files == nil {
		d.Files = make(map[string]*File)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
}

// respondError sends a structured JSON error response.
func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": gin.H{
			"message": message,
			"status":  code,
		},
	})
	c.Abort()
}

type addDeviceRequest struct {
	ID        string `json:"id" binding:"required"`
	Mac       string `json:"mac"`
	Connected bool   `json:"connected"`
}

func (s *Server) handleAddDevice(c *gin.Context) {
	var req addDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	s.AddDevice(&Device{ID: req.ID, Mac: req.Mac, Connected: req.Connected})
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

func (s *Server) handleDeviceCore(c *gin.Context) {
	start, _ := strconv.Atoi(c.DefaultQuery("start", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "1000"))
	if size <= 0 {
		size = 1000
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]gin.H, 0)
	for i := start; i < len(ids) && i < start+size; i++ {
		d := s.devices[ids[i]]
		status := "0"
		if d.Connected {
			status = "1"
		}
		items = append(items, gin.H{
			"id":                 gin.H{"devId": strconv.Itoa(i + 1), "devVersion": "0"},
			"devConnectwareId":   d.ID,
			"devMac":             d.Mac,
			"dpConnectionStatus": status,
		})
	}
	remaining := len(ids) - (start + len(items))
	if remaining < 0 {
		remaining = 0
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"items":         items,
		"resultSize":    strconv.Itoa(len(items)),
		"remainingSize": strconv.Itoa(remaining),
	})
}

func (s *Server) handleJob(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("jobId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid job id")
		return
	}
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok && j.pollsLeft > 0 {
		j.pollsLeft--
		s.mu.Unlock()
		c.Data(http.StatusOK, "text/xml", []byte(`<sci_reply version="1.0"><status>in_progress</status></sci_reply>`))
		return
	}
	s.mu.Unlock()
	if !ok {
		respondError(c, http.StatusNotFound, "no such job")
		return
	}
	body := fmt.Sprintf(`<sci_reply version="1.0"><status>complete</status>%s</sci_reply>`, j.body)
	c.Data(http.StatusOK, "text/xml", []byte(body))
}

func (s *Server) handleSCI(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		respondError(c, http.StatusBadRequest, "malformed sci_request")
		return
	}
	root := doc.Root()
	if root == nil || root.Tag != "sci_request" || len(root.ChildElements()) == 0 {
		respondError(c, http.StatusBadRequest, "malformed sci_request")
		return
	}
	op := root.ChildElements()[0]
	targets := s.resolveTargets(op.SelectElement("targets"))

	var inner string
	switch op.Tag {
	case "file_system":
		inner = s.runFileSystem(op, targets)
	default:
		// Other operations are accepted but not simulated beyond an
		// empty per-device reply.
		var b strings.Builder
		for _, id := range targets {
			fmt.Fprintf(&b, `<device id="%s"/>`, id)
		}
		inner = fmt.Sprintf("<%s>%s</%s>", op.Tag, b.String(), op.Tag)
	}

	if op.SelectAttrValue("synchronous", "") == "false" {
		s.mu.Lock()
		s.nextJob++
		id := s.nextJob
		s.jobs[id] = &job{body: inner, pollsLeft: s.PollsUntilComplete}
		s.mu.Unlock()
		body := fmt.Sprintf(`<sci_reply version="1.0"><%s><jobId>%d</jobId></%s></sci_reply>`, op.Tag, id, op.Tag)
		c.Data(http.StatusAccepted, "text/xml", []byte(body))
		return
	}

	c.Data(http.StatusOK, "text/xml", []byte(fmt.Sprintf(`<sci_reply version="1.0">%s</sci_reply>`, inner)))
}

// resolveTargets maps addressing fragments to registered device ids. Tag
// and group targets match nothing in the mock.
func (s *Server) resolveTargets(targetsEl *etree.Element) []string {
	if targetsEl == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, t := range targetsEl.ChildElements() {
		if t.Tag != "device" {
			continue
		}
		id := t.SelectAttrValue("id", "")
		if id == "all" {
			all := make([]string, 0, len(s.devices))
			for devID := range s.devices {
				all = append(all, devID)
			}
			sort.Strings(all)
			for _, devID := range all {
				add(devID)
			}
		} else if _, ok := s.devices[id]; ok {
			add(id)
		}
	}
	return ids
}

func (s *Server) runFileSystem(op *etree.Element, targets []string) string {
	commandsEl := op.SelectElement("commands")

	var b strings.Builder
	b.WriteString("<file_system>")
	for _, deviceID := range targets {
		s.mu.Lock()
		device := s.devices[deviceID]
		if device == nil || !device.Connected {
			s.mu.Unlock()
			fmt.Fprintf(&b, `<device id="%s"><error id="2001"><desc>Device Not Connected</desc></error></device>`, deviceID)
			continue
		}
		fmt.Fprintf(&b, `<device id="%s"><commands>`, deviceID)
		if commandsEl != nil {
			for _, cmd := range commandsEl.ChildElements() {
				b.WriteString(runCommand(device, cmd))
			}
		}
		b.WriteString(`</commands></device>`)
		s.mu.Unlock()
	}
	b.WriteString("</file_system>")
	return b.String()
}

func cmdError(tag string, errno int, desc string) string {
	return fmt.Sprintf(`<%s><error id="%d"><desc>%s</desc></error></%s>`, tag, errno, desc, tag)
}

func runCommand(device *Device, cmd *etree.Element) string {
	switch cmd.Tag {
	case "ls":
		return runLs(device, cmd)
	case "get_file":
		return runGetFile(device, cmd)
	case "put_file":
		return runPutFile(device, cmd)
	case "rm":
		p := cmd.SelectAttrValue("path", "")
		if _, ok := device.Files[p]; !ok {
			return cmdError("rm", 1, "No such file or directory")
		}
		delete(device.Files, p)
		return "<rm/>"
	default:
		return cmdError(cmd.Tag, 999, "Unknown command")
	}
}

func runLs(device *Device, cmd *etree.Element) string {
	dir := strings.TrimSuffix(cmd.SelectAttrValue("path", "/"), "/")
	if dir == "" {
		dir = "/"
	}
	hashMode := cmd.SelectAttrValue("hash", "none")
	useHash := hashMode == "md5" || hashMode == "any"

	var b strings.Builder
	if useHash {
		b.WriteString(`<ls hash="md5">`)
	} else {
		b.WriteString(`<ls hash="none">`)
	}

	subdirs := make(map[string]bool)
	paths := make([]string, 0, len(device.Files))
	for p := range device.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		f := device.Files[p]
		parent := path.Dir(p)
		if parent == dir {
			if useHash {
				sum := md5.Sum(f.Data)
				fmt.Fprintf(&b, `<file path="%s" last_modified="%d" size="%d" hash="%s"/>`,
					p, f.Modified, len(f.Data), strings.ToUpper(hex.EncodeToString(sum[:])))
			} else {
				fmt.Fprintf(&b, `<file path="%s" last_modified="%d" size="%d"/>`, p, f.Modified, len(f.Data))
			}
			continue
		}
		// Surface the first path element below dir as a subdirectory.
		if strings.HasPrefix(parent, dir+"/") || (dir == "/" && parent != "/") {
			rest := strings.TrimPrefix(parent, strings.TrimSuffix(dir, "/")+"/")
			sub := strings.SplitN(rest, "/", 2)[0]
			subdirs[strings.TrimSuffix(dir, "/")+"/"+sub] = true
		}
	}
	subs := make([]string, 0, len(subdirs))
	for d := range subdirs {
		subs = append(subs, d)
	}
	sort.Strings(subs)
	for _, d := range subs {
		fmt.Fprintf(&b, `<dir path="%s" last_modified="0"/>`, d)
	}
	b.WriteString("</ls>")
	return b.String()
}

func runGetFile(device *Device, cmd *etree.Element) string {
	p := cmd.SelectAttrValue("path", "")
	f, ok := device.Files[p]
	if !ok {
		return cmdError("get_file", 1, "No such file or directory")
	}
	data := f.Data
	if v := cmd.SelectAttrValue("offset", ""); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 || offset > len(data) {
			return cmdError("get_file", 2, "Invalid offset")
		}
		data = data[offset:]
	}
	if v := cmd.SelectAttrValue("length", ""); v != "" {
		length, err := strconv.Atoi(v)
		if err != nil || length < 0 {
			return cmdError("get_file", 2, "Invalid length")
		}
		if length < len(data) {
			data = data[:length]
		}
	}
	return fmt.Sprintf(`<get_file><data>%s</data></get_file>`, base64.StdEncoding.EncodeToString(data))
}

func runPutFile(device *Device, cmd *etree.Element) string {
	p := cmd.SelectAttrValue("path", "")
	dataEl := cmd.SelectElement("data")
	if dataEl == nil {
		// Server-side file sources are not simulated.
		return cmdError("put_file", 3, "Unsupported source")
	}
	payload, err := base64.StdEncoding.DecodeString(dataEl.Text())
	if err != nil {
		return cmdError("put_file", 3, "Invalid base64 data")
	}

	offset := 0
	if v := cmd.SelectAttrValue("offset", ""); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return cmdError("put_file", 2, "Invalid offset")
		}
	}
	truncate := cmd.SelectAttrValue("truncate", "false") == "true"

	var existing []byte
	if f, ok := device.Files[p]; ok {
		existing = f.Data
	}
	end := offset + len(payload)
	size := len(existing)
	if end > size {
		size = end
	}
	if truncate {
		size = end
	}
	merged := make([]byte, size)
	copy(merged, existing)
	copy(merged[offset:], payload)
	device.Files[p] = &File{Data: merged, Modified: nextModified(device)}
	return "<put_file/>"
}

func nextModified(device *Device) int64 {
	var max int64
	for _, f := range device.Files {
		if f.Modified > max {
			max = f.Modified
		}
	}
	return max + 1
}
