// Package devicecore maps the DeviceCore web service: listing, refreshing
// and grouping of the devices registered to an account.
package devicecore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"devicecloud/pkg/client"
	"devicecloud/pkg/conditions"
)

// Attributes commonly used in DeviceCore conditions.
const (
	AttrMac           = conditions.Attribute("devMac")
	AttrGroupID       = conditions.Attribute("grpId")
	AttrGroupPath     = conditions.Attribute("grpPath")
	AttrConnectwareID = conditions.Attribute("devConnectwareId")
)

const iso8601 = "2006-01-02T15:04:05.000Z"

const groupTemplate = `<DeviceCore><devConnectwareId>%s</devConnectwareId><grpPath>%s</grpPath></DeviceCore>`

// API encapsulates the DeviceCore interface.
type API struct {
	conn client.Connection
}

// NewAPI returns a DeviceCore API over the given connection.
func NewAPI(conn client.Connection) *API {
	return &API{conn: conn}
}

// ListDevices returns every device in the account matching condition (all
// devices when condition is nil), fetching pageSize records per request.
func (a *API) ListDevices(ctx context.Context, condition conditions.Expression, pageSize int) ([]*Device, error) {
	compiled := ""
	if condition != nil {
		compiled = condition.Compile()
	}
	var devices []*Device
	err := client.ForEachPage(ctx, a.conn, "/ws/DeviceCore", compiled, pageSize, func(item json.RawMessage) error {
		var rec record
		if err := json.Unmarshal(item, &rec); err != nil {
			return fmt.Errorf("devicecore: decoding device record: %w", err)
		}
		devices = append(devices, &Device{api: a, rec: rec})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// ProvisionDevice registers a new device by MAC address.
func (a *API) ProvisionDevice(ctx context.Context, mac string) error {
	body := fmt.Sprintf(`<DeviceCore><devMac>%s</devMac></DeviceCore>`, mac)
	_, err := a.conn.Post(ctx, "/ws/DeviceCore", []byte(body))
	return err
}

// record mirrors one DeviceCore item. The cloud returns most scalar values
// as JSON strings, including numbers.
type record struct {
	ID struct {
		DevID      json.Number `json:"devId"`
		DevVersion json.Number `json:"devVersion"`
	} `json:"id"`
	ConnectwareID    string `json:"devConnectwareId"`
	Mac              string `json:"devMac"`
	ConnectionStatus string `json:"dpConnectionStatus"`
	LastKnownIP      string `json:"dpLastKnownIp"`
	GlobalIP         string `json:"dpGlobalIp"`
	GroupID          string `json:"grpId"`
	GroupPath        string `json:"grpPath"`
	Tags             string `json:"dpTags"`
	DeviceType       string `json:"dpDeviceType"`
	FirmwareLevel    string `json:"dpFirmwareLevel"`
	VendorID         string `json:"dvVendorId"`
	CustomerID       string `json:"cstId"`
	Description      string `json:"dpDescription"`
	Contact          string `json:"dpContact"`
	Location         string `json:"dpLocation"`
	MapLat           string `json:"dpMapLat"`
	MapLong          string `json:"dpMapLong"`
	UserMetadata     string `json:"dpUserMetaData"`
	ServerID         string `json:"dpServerId"`
	RestrictedStatus string `json:"dpRestrictedStatus"`
	RecordStartDate  string `json:"devRecordStartDate"`
	LastConnectTime  string `json:"dpLastConnectTime"`
}

// Device is one device registered to the account. Metadata is cached from
// the listing that produced it; Refresh re-fetches it on demand.
type Device struct {
	api *API
	rec record
}

// Refresh re-fetches this device's metadata from the cloud.
func (d *Device) Refresh(ctx context.Context) error {
	var page struct {
		Items []record `json:"items"`
	}
	path := fmt.Sprintf("/ws/DeviceCore/%s", d.rec.ID.DevID)
	if err := d.api.conn.GetJSON(ctx, path, &page); err != nil {
		return err
	}
	if len(page.Items) == 0 {
		return fmt.Errorf("devicecore: device %s not found", d.rec.ID.DevID)
	}
	d.rec = page.Items[0]
	return nil
}

// ConnectwareID returns the device's connectware id (its primary key for
// addressing).
func (d *Device) ConnectwareID() string { return d.rec.ConnectwareID }

// Mac returns the device's MAC address.
func (d *Device) Mac() string { return d.rec.Mac }

// MacLast4 returns the last four hex characters of the MAC, a short
// human-friendly (not guaranteed unique) reference to the device.
func (d *Device) MacLast4() string {
	chunks := strings.Split(d.rec.Mac, ":")
	if len(chunks) < 2 {
		return strings.ToUpper(d.rec.Mac)
	}
	return strings.ToUpper(chunks[len(chunks)-2] + chunks[len(chunks)-1])
}

// Connected reports whether the device currently has a connection to the
// cloud.
func (d *Device) Connected() bool {
	status, err := strconv.Atoi(d.rec.ConnectionStatus)
	return err == nil && status > 0
}

// Tags returns the device's tags.
func (d *Device) Tags() []string {
	if d.rec.Tags == "" {
		return nil
	}
	return strings.Split(d.rec.Tags, ",")
}

// GroupPath returns the path of the group this device belongs to; empty
// means the root group.
func (d *Device) GroupPath() string { return d.rec.GroupPath }

// LastKnownIP returns the last IP the device connected from.
func (d *Device) LastKnownIP() string { return d.rec.LastKnownIP }

// DeviceType returns the reported device type, if any.
func (d *Device) DeviceType() string { return d.rec.DeviceType }

// FirmwareLevel returns the reported firmware level, if any.
func (d *Device) FirmwareLevel() string { return d.rec.FirmwareLevel }

// Location returns the free-form location string, if any.
func (d *Device) Location() string { return d.rec.Location }

// LatLon returns the device's map coordinates; ok is false when the cloud
// holds no coordinates for it.
func (d *Device) LatLon() (lat, lon float64, ok bool) {
	if d.rec.MapLat == "" || d.rec.MapLong == "" {
		return 0, 0, false
	}
	lat, latErr := strconv.ParseFloat(d.rec.MapLat, 64)
	lon, lonErr := strconv.ParseFloat(d.rec.MapLong, 64)
	if latErr != nil || lonErr != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// RegisteredAt returns when the device was added to the cloud; zero when
// unknown.
func (d *Device) RegisteredAt() time.Time {
	t, err := time.Parse(iso8601, d.rec.RecordStartDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LastConnectedAt returns when the device last connected; zero when
// unknown.
func (d *Device) LastConnectedAt() time.Time {
	t, err := time.Parse(iso8601, d.rec.LastConnectTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddToGroup moves the device into the group at groupPath, creating the
// group if it does not exist. The cached metadata becomes stale until the
// next Refresh.
func (d *Device) AddToGroup(ctx context.Context, groupPath string) error {
	if d.rec.GroupPath == groupPath {
		return nil
	}
	body := fmt.Sprintf(groupTemplate, d.rec.ConnectwareID, groupPath)
	if _, err := d.api.conn.Put(ctx, "/ws/DeviceCore", []byte(body)); err != nil {
		return err
	}
	d.rec.GroupPath = groupPath
	return nil
}

// RemoveFromGroup places the device back into the root group.
func (d *Device) RemoveFromGroup(ctx context.Context) error {
	return d.AddToGroup(ctx, "")
}
