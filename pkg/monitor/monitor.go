// Package monitor maps the Monitor web service: creation and management
// of cloud-side push-notification monitors registered against topics.
// Receiving the pushed data (the TCP/SSL listener or an HTTP postback
// endpoint) is outside this library.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"devicecloud/pkg/client"
	"devicecloud/pkg/conditions"
)

// Transport selects how the cloud delivers monitor batches.
type Transport string

const (
	TransportTCP  Transport = "tcp"
	TransportHTTP Transport = "http"
)

// Options configure a monitor at creation time. Zero values fall back to
// one-message batches delivered over TCP as gzip-compressed JSON.
type Options struct {
	BatchSize     int
	BatchDuration int
	Transport     Transport
	Compression   string
	Format        string
}

func (o Options) withDefaults() Options {
	if o.BatchSize == 0 {
		o.BatchSize = 1
	}
	if o.Transport == "" {
		o.Transport = TransportTCP
	}
	if o.Compression == "" {
		o.Compression = "gzip"
	}
	if o.Format == "" {
		o.Format = "json"
	}
	return o
}

// API encapsulates the Monitor interface.
type API struct {
	conn client.Connection
}

// NewAPI returns a Monitor API over the given connection.
func NewAPI(conn client.Connection) *API {
	return &API{conn: conn}
}

// Create registers a monitor for the given topics (e.g. "DeviceCore[U]",
// "FileDataCore") and returns a handle carrying its cloud-assigned id.
func (a *API) Create(ctx context.Context, topics []string, opts Options) (*Monitor, error) {
	opts = opts.withDefaults()

	root := etree.NewElement("Monitor")
	root.CreateElement("monTopic").SetText(strings.Join(topics, ","))
	root.CreateElement("monBatchSize").SetText(strconv.Itoa(opts.BatchSize))
	root.CreateElement("monBatchDuration").SetText(strconv.Itoa(opts.BatchDuration))
	root.CreateElement("monFormatType").SetText(opts.Format)
	root.CreateElement("monTransportType").SetText(string(opts.Transport))
	root.CreateElement("monCompression").SetText(opts.Compression)
	doc := etree.NewDocument()
	doc.SetRoot(root)
	body, err := doc.WriteToString()
	if err != nil {
		return nil, err
	}

	respBody, err := a.conn.Post(ctx, "/ws/Monitor", []byte(body))
	if err != nil {
		return nil, err
	}

	respDoc := etree.NewDocument()
	if err := respDoc.ReadFromBytes(respBody); err != nil {
		return nil, fmt.Errorf("monitor: malformed create reply: %w", err)
	}
	location := respDoc.FindElement("//location")
	if location == nil {
		return nil, fmt.Errorf("monitor: create reply carries no location")
	}
	parts := strings.Split(location.Text(), "/")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return nil, fmt.Errorf("monitor: invalid monitor location %q: %w", location.Text(), err)
	}
	slog.Info("Monitor created", "component", "Monitor", "monitor_id", id, "topics", strings.Join(topics, ","))
	return &Monitor{conn: a.conn, id: id}, nil
}

// Find returns the first monitor registered against exactly the given
// topics, or nil if none exists.
func (a *API) Find(ctx context.Context, topics []string) (*Monitor, error) {
	condition := conditions.Attribute("monTopic").Eq(strings.Join(topics, ","))
	var found *Monitor
	err := client.ForEachPage(ctx, a.conn, "/ws/Monitor", condition.Compile(), 0, func(item json.RawMessage) error {
		if found != nil {
			return nil
		}
		var rec struct {
			MonID json.Number `json:"monId"`
		}
		if err := json.Unmarshal(item, &rec); err != nil {
			return fmt.Errorf("monitor: decoding record: %w", err)
		}
		id, err := rec.MonID.Int64()
		if err != nil {
			return fmt.Errorf("monitor: invalid monId %q: %w", rec.MonID, err)
		}
		found = &Monitor{conn: a.conn, id: int(id)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Monitor is a handle to one monitor instance in the cloud.
type Monitor struct {
	conn client.Connection
	id   int
}

func (m *Monitor) ID() int { return m.id }

// Delete removes the monitor from the cloud.
func (m *Monitor) Delete(ctx context.Context) error {
	_, err := m.conn.Delete(ctx, fmt.Sprintf("/ws/Monitor/%d", m.id))
	return err
}
