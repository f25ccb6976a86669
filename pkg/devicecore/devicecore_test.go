package devicecore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	// getJSON maps a path prefix to a canned JSON body.
	getJSON   map[string]string
	gets      []string
	putBodies []string
	postPaths []string
}

func (s *stubConn) Get(ctx context.Context, path string) ([]byte, error) { panic("not used") }

func (s *stubConn) GetJSON(ctx context.Context, path string, out any) error {
	s.gets = append(s.gets, path)
	for prefix, body := range s.getJSON {
		if strings.HasPrefix(path, prefix) {
			return json.Unmarshal([]byte(body), out)
		}
	}
	return fmt.Errorf("no canned reply for %s", path)
}

func (s *stubConn) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	s.postPaths = append(s.postPaths, path)
	return nil, nil
}

func (s *stubConn) Put(ctx context.Context, path string, body []byte) ([]byte, error) {
	s.putBodies = append(s.putBodies, string(body))
	return nil, nil
}

func (s *stubConn) Delete(ctx context.Context, path string) ([]byte, error) { panic("not used") }

const deviceItem = `{
  "id": {"devId": "702077", "devVersion": "6"},
  "devConnectwareId": "00000000-00000000-0000FFFF-FF000001",
  "devMac": "00:40:9d:58:17:5b",
  "dpConnectionStatus": "1",
  "dpLastKnownIp": "10.35.1.107",
  "grpPath": "/plants/north",
  "dpTags": "alpha,beta",
  "dpDeviceType": "ConnectPort X5 R",
  "dpFirmwareLevel": "34472448",
  "dpMapLat": "34.964465",
  "dpMapLong": "-40.268198",
  "devRecordStartDate": "2026-01-21T00:53:00.000Z",
  "dpLastConnectTime": "2026-08-30T23:10:00.000Z"
}`

func listReply(items ...string) string {
	return fmt.Sprintf(`{"items":[%s],"remainingSize":"0","resultSize":"%d"}`,
		strings.Join(items, ","), len(items))
}

func TestListDevices(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{"/ws/DeviceCore": listReply(deviceItem)}}
	api := NewAPI(conn)

	devices, err := api.ListDevices(context.Background(), nil, 100)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, "00000000-00000000-0000FFFF-FF000001", d.ConnectwareID())
	assert.Equal(t, "00:40:9d:58:17:5b", d.Mac())
	assert.Equal(t, "175B", d.MacLast4())
	assert.True(t, d.Connected())
	assert.Equal(t, []string{"alpha", "beta"}, d.Tags())
	assert.Equal(t, "/plants/north", d.GroupPath())
	assert.Equal(t, "10.35.1.107", d.LastKnownIP())
	assert.Equal(t, "ConnectPort X5 R", d.DeviceType())
	assert.Equal(t, "34472448", d.FirmwareLevel())

	lat, lon, ok := d.LatLon()
	require.True(t, ok)
	assert.InDelta(t, 34.964465, lat, 1e-9)
	assert.InDelta(t, -40.268198, lon, 1e-9)

	assert.Equal(t, time.Date(2026, 1, 21, 0, 53, 0, 0, time.UTC), d.RegisteredAt())
	assert.Equal(t, time.Date(2026, 8, 30, 23, 10, 0, 0, time.UTC), d.LastConnectedAt())
}

func TestListDevicesPassesCondition(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{"/ws/DeviceCore": listReply()}}
	api := NewAPI(conn)

	_, err := api.ListDevices(context.Background(), AttrMac.Eq("00:40:9d:58:17:5b"), 100)
	require.NoError(t, err)
	require.Len(t, conn.gets, 1)
	assert.Contains(t, conn.gets[0], "condition=devMac%3D%2700%3A40%3A9d%3A58%3A17%3A5b%27")
}

func TestDeviceDefaults(t *testing.T) {
	// A sparse record: disconnected, untagged, no coordinates, no dates.
	conn := &stubConn{getJSON: map[string]string{
		"/ws/DeviceCore": listReply(`{"id":{"devId":"1"},"devMac":"175b","dpConnectionStatus":"0"}`),
	}}
	devices, err := NewAPI(conn).ListDevices(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.False(t, d.Connected())
	assert.Nil(t, d.Tags())
	assert.Equal(t, "175B", d.MacLast4())
	_, _, ok := d.LatLon()
	assert.False(t, ok)
	assert.True(t, d.RegisteredAt().IsZero())
	assert.True(t, d.LastConnectedAt().IsZero())
}

func TestAddToGroup(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{"/ws/DeviceCore": listReply(deviceItem)}}
	devices, err := NewAPI(conn).ListDevices(context.Background(), nil, 10)
	require.NoError(t, err)
	d := devices[0]

	require.NoError(t, d.AddToGroup(context.Background(), "/plants/south"))
	require.Len(t, conn.putBodies, 1)
	assert.Equal(t,
		`<DeviceCore><devConnectwareId>00000000-00000000-0000FFFF-FF000001</devConnectwareId><grpPath>/plants/south</grpPath></DeviceCore>`,
		conn.putBodies[0])
	assert.Equal(t, "/plants/south", d.GroupPath())

	// Moving to the group the device is already in is a no-op.
	require.NoError(t, d.AddToGroup(context.Background(), "/plants/south"))
	assert.Len(t, conn.putBodies, 1)

	require.NoError(t, d.RemoveFromGroup(context.Background()))
	assert.Len(t, conn.putBodies, 2)
	assert.Equal(t, "", d.GroupPath())
}

func TestRefresh(t *testing.T) {
	updated := strings.Replace(deviceItem, `"dpConnectionStatus": "1"`, `"dpConnectionStatus": "0"`, 1)
	conn := &stubConn{getJSON: map[string]string{
		"/ws/DeviceCore?":       listReply(deviceItem),
		"/ws/DeviceCore/702077": listReply(updated),
	}}
	devices, err := NewAPI(conn).ListDevices(context.Background(), nil, 10)
	require.NoError(t, err)
	d := devices[0]
	require.True(t, d.Connected())

	require.NoError(t, d.Refresh(context.Background()))
	assert.False(t, d.Connected())
}

func TestProvisionDevice(t *testing.T) {
	conn := &stubConn{}
	require.NoError(t, NewAPI(conn).ProvisionDevice(context.Background(), "00:40:9d:00:00:01"))
	require.Len(t, conn.postPaths, 1)
	assert.Equal(t, "/ws/DeviceCore", conn.postPaths[0])
}
