// Package devicecloud ties one account connection to the individual
// service APIs. It is the primary entry point: build a DeviceCloud from a
// Config and reach every service from it.
package devicecloud

import (
	"context"
	"time"

	"devicecloud/pkg/client"
	"devicecloud/pkg/config"
	"devicecloud/pkg/devicecore"
	"devicecloud/pkg/filedata"
	"devicecloud/pkg/filesystem"
	"devicecloud/pkg/monitor"
	"devicecloud/pkg/sci"
	"devicecloud/pkg/streams"
)

// DeviceCloud provides access to the services of one device cloud
// account. All service values share the same underlying connection and
// are safe for concurrent use.
type DeviceCloud struct {
	conn *client.HTTPConnection

	sci        *sci.Client
	filesystem *filesystem.Service
	devicecore *devicecore.API
	streams    *streams.API
	filedata   *filedata.API
	monitor    *monitor.API
}

// New builds a DeviceCloud from the given configuration.
func New(cfg *config.Config) (*DeviceCloud, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn := client.NewHTTPConnection(cfg.BaseURL, cfg.Username, cfg.Password,
		cfg.HTTPRetries, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second)
	return FromConnection(conn), nil
}

// FromConnection builds a DeviceCloud over an existing connection.
func FromConnection(conn *client.HTTPConnection) *DeviceCloud {
	sciClient := sci.NewClient(conn)
	return &DeviceCloud{
		conn:       conn,
		sci:        sciClient,
		filesystem: filesystem.NewService(sciClient),
		devicecore: devicecore.NewAPI(conn),
		streams:    streams.NewAPI(conn),
		filedata:   filedata.NewAPI(conn),
		monitor:    monitor.NewAPI(conn),
	}
}

// HasValidCredentials verifies the configured account by pinging the
// cloud with the provided authorization.
func (dc *DeviceCloud) HasValidCredentials(ctx context.Context) bool {
	return dc.conn.Ping(ctx) == nil
}

// Connection returns the underlying transport.
func (dc *DeviceCloud) Connection() *client.HTTPConnection { return dc.conn }

// SCI returns the Server Command Interface client.
func (dc *DeviceCloud) SCI() *sci.Client { return dc.sci }

// FileSystem returns the device file system service.
func (dc *DeviceCloud) FileSystem() *filesystem.Service { return dc.filesystem }

// DeviceCore returns the device registry API.
func (dc *DeviceCloud) DeviceCore() *devicecore.API { return dc.devicecore }

// Streams returns the data streams API.
func (dc *DeviceCloud) Streams() *streams.API { return dc.streams }

// FileData returns the cloud file store API.
func (dc *DeviceCloud) FileData() *filedata.API { return dc.filedata }

// Monitor returns the push monitor API.
func (dc *DeviceCloud) Monitor() *monitor.API { return dc.monitor }
