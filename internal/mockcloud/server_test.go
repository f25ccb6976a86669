package mockcloud

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicecloud/pkg/client"
	"devicecloud/pkg/devicecore"
	"devicecloud/pkg/filesystem"
	"devicecloud/pkg/sci"
)

// newTestCloud serves a mock cloud over httptest and returns a connection
// pointed at it.
func newTestCloud(t *testing.T) (*Server, *client.HTTPConnection) {
	t.Helper()
	server := NewServer()
	ts := httptest.NewServer(server.Engine())
	t.Cleanup(ts.Close)
	return server, client.NewHTTPConnection(ts.URL, "user", "pass", 0, 5*time.Second)
}

func TestFileLifecycleEndToEnd(t *testing.T) {
	server, conn := newTestCloud(t)
	server.AddDevice(&Device{ID: "dev-1", Connected: true})

	svc := filesystem.NewService(sci.NewClient(conn))
	ctx := context.Background()
	target := sci.DeviceTarget{ID: "dev-1"}

	// Write a file.
	results, err := svc.PutFile(ctx, filesystem.PutCommand{
		Path:     "/data/hello.txt",
		Data:     []byte("hello world"),
		Truncate: true,
	}, target)
	require.NoError(t, err)
	require.True(t, results["dev-1"].OK())

	// It shows up in a listing with size and hash.
	listed, err := svc.ListFiles(ctx, "/data", filesystem.HashMD5, target)
	require.NoError(t, err)
	res := listed["dev-1"]
	require.True(t, res.OK())
	require.Len(t, res.List.Files, 1)
	f := res.List.Files[0]
	assert.Equal(t, "/data/hello.txt", f.Path)
	assert.Equal(t, int64(11), f.Size)
	assert.Equal(t, filesystem.HashMD5, f.HashType)
	assert.NotEmpty(t, f.Hash)

	// Read it back, whole and ranged.
	fetched, err := svc.GetFile(ctx, "/data/hello.txt", nil, nil, target)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), fetched["dev-1"].Data)

	offset, length := 6, 5
	ranged, err := svc.GetFile(ctx, "/data/hello.txt", &offset, &length, target)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), ranged["dev-1"].Data)

	// Delete it; a second delete reports a device error, not a Go error.
	deleted, err := svc.DeleteFile(ctx, "/data/hello.txt", target)
	require.NoError(t, err)
	assert.True(t, deleted["dev-1"].OK())

	again, err := svc.DeleteFile(ctx, "/data/hello.txt", target)
	require.NoError(t, err)
	require.NotNil(t, again["dev-1"].Error)
	assert.Equal(t, 1, again["dev-1"].Error.Errno)
}

func TestOffsetWriteMergesContent(t *testing.T) {
	server, conn := newTestCloud(t)
	server.AddDevice(&Device{ID: "dev-1", Connected: true})

	svc := filesystem.NewService(sci.NewClient(conn))
	ctx := context.Background()
	target := sci.DeviceTarget{ID: "dev-1"}

	_, err := svc.PutFile(ctx, filesystem.PutCommand{Path: "/f", Data: []byte("aaaaaaaa")}, target)
	require.NoError(t, err)

	offset := 4
	_, err = svc.PutFile(ctx, filesystem.PutCommand{Path: "/f", Data: []byte("bb"), Offset: &offset}, target)
	require.NoError(t, err)

	fetched, err := svc.GetFile(ctx, "/f", nil, nil, target)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaabbaa"), fetched["dev-1"].Data)

	// The same write with truncate cuts the tail.
	_, err = svc.PutFile(ctx, filesystem.PutCommand{Path: "/f", Data: []byte("bb"), Offset: &offset, Truncate: true}, target)
	require.NoError(t, err)
	fetched, err = svc.GetFile(ctx, "/f", nil, nil, target)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaabb"), fetched["dev-1"].Data)
}

func TestDisconnectedDeviceShortCircuits(t *testing.T) {
	server, conn := newTestCloud(t)
	server.AddDevice(&Device{ID: "up", Connected: true})
	server.AddDevice(&Device{ID: "down", Connected: false})

	svc := filesystem.NewService(sci.NewClient(conn))
	block := &filesystem.CommandBlock{}
	block.Add(filesystem.LsCommand{Path: "/"})
	block.Add(filesystem.DeleteCommand{Path: "/nope"})

	results, err := svc.SendCommandBlock(context.Background(), block, sci.AllTarget{})
	require.NoError(t, err)

	down := results["down"]
	require.Len(t, down, 2)
	for _, res := range down {
		require.NotNil(t, res.Error)
		assert.Equal(t, 2001, res.Error.Errno)
	}

	up := results["up"]
	require.Len(t, up, 2)
	assert.True(t, up[0].OK())
	assert.NotNil(t, up[1].Error) // rm of a missing file
}

func TestSubdirectoriesInListing(t *testing.T) {
	server, conn := newTestCloud(t)
	dev := &Device{ID: "dev-1", Connected: true, Files: map[string]*File{
		"/logs/a.log":      {Data: []byte("x")},
		"/logs/old/b.log":  {Data: []byte("y")},
		"/logs/old2/c.log": {Data: []byte("z")},
	}}
	server.AddDevice(dev)

	svc := filesystem.NewService(sci.NewClient(conn))
	listed, err := svc.ListFiles(context.Background(), "/logs", filesystem.HashNone, sci.DeviceTarget{ID: "dev-1"})
	require.NoError(t, err)

	res := listed["dev-1"]
	require.True(t, res.OK())
	require.Len(t, res.List.Files, 1)
	assert.Equal(t, "/logs/a.log", res.List.Files[0].Path)

	var dirs []string
	for _, d := range res.List.Directories {
		dirs = append(dirs, d.Path)
	}
	assert.Equal(t, []string{"/logs/old", "/logs/old2"}, dirs)
}

func TestAsyncJobFlow(t *testing.T) {
	server, conn := newTestCloud(t)
	server.PollsUntilComplete = 2
	server.AddDevice(&Device{ID: "dev-1", Connected: true, Files: map[string]*File{
		"/f": {Data: []byte("async")},
	}})

	sciClient := sci.NewClient(conn)
	ctx := context.Background()

	job, err := sciClient.SendAsync(ctx, sci.Request{
		Operation: sci.OpFileSystem,
		Targets:   []sci.Target{sci.DeviceTarget{ID: "dev-1"}},
		Payload:   `<commands><get_file path="/f"/></commands>`,
	})
	require.NoError(t, err)
	require.NotNil(t, job)

	var done bool
	for i := 0; i < 5 && !done; i++ {
		done, err = job.Poll(ctx)
		require.NoError(t, err)
	}
	require.True(t, done)
	body := string(job.Response())
	assert.Contains(t, body, "<status>complete</status>")
	assert.Contains(t, body, "<data>YXN5bmM=</data>")
}

func TestNonFileSystemOperationAccepted(t *testing.T) {
	server, conn := newTestCloud(t)
	server.AddDevice(&Device{ID: "dev-1", Connected: true})

	body, err := sci.NewClient(conn).Send(context.Background(), sci.Request{
		Operation: sci.OpReboot,
		Targets:   []sci.Target{sci.DeviceTarget{ID: "dev-1"}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), `<reboot><device id="dev-1"/></reboot>`)
}

func TestDeviceCoreListing(t *testing.T) {
	server, conn := newTestCloud(t)
	server.AddDevice(&Device{ID: "dev-a", Mac: "00:40:9d:00:00:0a", Connected: true})
	server.AddDevice(&Device{ID: "dev-b", Mac: "00:40:9d:00:00:0b", Connected: false})
	server.AddDevice(&Device{ID: "dev-c", Mac: "00:40:9d:00:00:0c", Connected: true})

	// Page size of 2 forces a second fetch.
	devices, err := devicecore.NewAPI(conn).ListDevices(context.Background(), nil, 2)
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "dev-a", devices[0].ConnectwareID())
	assert.True(t, devices[0].Connected())
	assert.False(t, devices[1].Connected())
}

func TestAddDeviceEndpoint(t *testing.T) {
	server := NewServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mock/devices",
		bytes.NewReader([]byte(`{"id":"dev-9","mac":"aa:bb","connected":true}`)))
	req.Header.Set("Content-Type", "application/json")
	server.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	// Registration is visible to SCI immediately.
	w = httptest.NewRecorder()
	envelope := `<sci_request version="1.0"><file_system><targets><device id="dev-9"/></targets><commands><ls path="/" hash="none"/></commands></file_system></sci_request>`
	req = httptest.NewRequest(http.MethodPost, "/ws/sci", bytes.NewReader([]byte(envelope)))
	server.Engine().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<device id="dev-9"><commands>`)
}

func TestAddDeviceEndpointValidation(t *testing.T) {
	server := NewServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mock/devices", bytes.NewReader([]byte(`{"mac":"aa:bb"}`)))
	req.Header.Set("Content-Type", "application/json")
	server.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownJob(t *testing.T) {
	server := NewServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/sci/9999", nil)
	server.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
