// Package streams maps the DataStream and DataPoint web services: typed
// time series the cloud stores on behalf of devices and applications.
package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/beevik/etree"

	"devicecloud/pkg/client"
)

// Stream data types understood by the cloud.
const (
	TypeInteger = "INTEGER"
	TypeLong    = "LONG"
	TypeFloat   = "FLOAT"
	TypeDouble  = "DOUBLE"
	TypeString  = "STRING"
	TypeBinary  = "BINARY"
	TypeUnknown = "UNKNOWN"
)

const day = 24 * time.Hour

// ErrNoSuchStream is returned when operating on a stream that has not been
// created in the cloud.
var ErrNoSuchStream = errors.New("streams: no such stream")

// metadata mirrors one DataStream item. TTLs come back as JSON numbers or
// strings depending on the endpoint, hence json.Number.
type metadata struct {
	StreamID     string          `json:"streamId"`
	DataType     string          `json:"dataType"`
	Description  string          `json:"description"`
	Units        string          `json:"units"`
	DataTTL      json.Number     `json:"dataTtl"`
	RollupTTL    json.Number     `json:"rollupTtl"`
	CurrentValue json.RawMessage `json:"currentValue"`
}

// API encapsulates the streams interface.
type API struct {
	conn client.Connection
}

// NewAPI returns a streams API over the given connection.
func NewAPI(conn client.Connection) *API {
	return &API{conn: conn}
}

// CreateStream creates a data stream and returns a handle to it. dataTTL
// and rollupTTL are rounded down to whole seconds; zero values fall back
// to the cloud defaults of two and five days.
func (a *API) CreateStream(ctx context.Context, streamID, dataType, description, units string, dataTTL, rollupTTL time.Duration) (*Stream, error) {
	if dataTTL == 0 {
		dataTTL = 2 * day
	}
	if rollupTTL == 0 {
		rollupTTL = 5 * day
	}

	root := etree.NewElement("DataStream")
	root.CreateElement("streamId").SetText(streamID)
	root.CreateElement("dataType").SetText(strings.ToUpper(dataType))
	root.CreateElement("description").SetText(description)
	if units != "" {
		root.CreateElement("units").SetText(units)
	}
	root.CreateElement("dataTtl").SetText(fmt.Sprintf("%d", int(dataTTL.Seconds())))
	root.CreateElement("rollupTtl").SetText(fmt.Sprintf("%d", int(rollupTTL.Seconds())))
	doc := etree.NewDocument()
	doc.SetRoot(root)
	body, err := doc.WriteToString()
	if err != nil {
		return nil, err
	}

	if _, err := a.conn.Post(ctx, "/ws/DataStream", []byte(body)); err != nil {
		return nil, err
	}
	slog.Info("Data stream created", "component", "Streams", "stream_id", streamID)
	return &Stream{conn: a.conn, id: streamID}, nil
}

// GetStream returns a handle to the stream with the given id. The stream
// may not exist yet; operations on a missing stream fail with
// ErrNoSuchStream.
func (a *API) GetStream(streamID string) *Stream {
	return &Stream{conn: a.conn, id: streamID}
}

// ListStreams returns every stream in the account.
func (a *API) ListStreams(ctx context.Context) ([]*Stream, error) {
	var page struct {
		Items []metadata `json:"items"`
	}
	if err := a.conn.GetJSON(ctx, "/ws/DataStream", &page); err != nil {
		return nil, err
	}
	streams := make([]*Stream, 0, len(page.Items))
	for i := range page.Items {
		md := page.Items[i]
		streams = append(streams, &Stream{conn: a.conn, id: md.StreamID, cached: &md})
	}
	return streams, nil
}

// DeleteStream removes a stream and its data points.
func (a *API) DeleteStream(ctx context.Context, streamID string) error {
	_, err := a.conn.Delete(ctx, "/ws/DataStream/"+streamID)
	return err
}

// DataPoint is one value in a stream, used both when pushing data and when
// reading it back. Optional fields are omitted from the wire form when
// unset.
type DataPoint struct {
	StreamID    string
	Data        string
	Description string
	Timestamp   string
	Quality     *int
	Location    string
	DataType    string
	Units       string
}

// XML renders the DataPoint document for pushing to the cloud.
func (p DataPoint) XML() (string, error) {
	root := etree.NewElement("DataPoint")
	root.CreateElement("streamId").SetText(strings.TrimPrefix(p.StreamID, "/"))
	root.CreateElement("data").SetText(p.Data)
	if p.Description != "" {
		root.CreateElement("description").SetText(p.Description)
	}
	if p.Timestamp != "" {
		root.CreateElement("timestamp").SetText(p.Timestamp)
	}
	if p.Quality != nil {
		root.CreateElement("quality").SetText(fmt.Sprintf("%d", *p.Quality))
	}
	if p.Location != "" {
		root.CreateElement("location").SetText(p.Location)
	}
	if p.DataType != "" {
		root.CreateElement("streamType").SetText(strings.ToUpper(p.DataType))
	}
	if p.Units != "" {
		root.CreateElement("streamUnits").SetText(p.Units)
	}
	doc := etree.NewDocument()
	doc.SetRoot(root)
	return doc.WriteToString()
}

type pointRecord struct {
	ID        string `json:"id"`
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
	Quality   string `json:"quality"`
	Location  string `json:"location"`
	StreamID  string `json:"streamId"`
}

// Stream is a handle to one data stream. Metadata fetched from the cloud
// is cached on the handle; pass through Refresh to invalidate.
type Stream struct {
	conn   client.Connection
	id     string
	cached *metadata
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) metadata(ctx context.Context, useCached bool) (*metadata, error) {
	if s.cached != nil && useCached {
		return s.cached, nil
	}
	var page struct {
		Items []metadata `json:"items"`
	}
	if err := s.conn.GetJSON(ctx, "/ws/DataStream/"+s.id, &page); err != nil {
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchStream, s.id)
		}
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchStream, s.id)
	}
	s.cached = &page.Items[0]
	return s.cached, nil
}

// Refresh re-fetches the stream metadata.
func (s *Stream) Refresh(ctx context.Context) error {
	_, err := s.metadata(ctx, false)
	return err
}

// DataType returns the stream's data type (one of the Type constants).
func (s *Stream) DataType(ctx context.Context) (string, error) {
	md, err := s.metadata(ctx, true)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(md.DataType), nil
}

// Description returns the stream's description.
func (s *Stream) Description(ctx context.Context) (string, error) {
	md, err := s.metadata(ctx, true)
	if err != nil {
		return "", err
	}
	return md.Description, nil
}

// DataTTL returns the time to live of the stream's data points.
func (s *Stream) DataTTL(ctx context.Context) (time.Duration, error) {
	md, err := s.metadata(ctx, true)
	if err != nil {
		return 0, err
	}
	secs, err := md.DataTTL.Int64()
	if err != nil {
		return 0, fmt.Errorf("streams: invalid dataTtl %q: %w", md.DataTTL, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// RollupTTL returns the time to live of the stream's rollups.
func (s *Stream) RollupTTL(ctx context.Context) (time.Duration, error) {
	md, err := s.metadata(ctx, true)
	if err != nil {
		return 0, err
	}
	secs, err := md.RollupTTL.Int64()
	if err != nil {
		return 0, fmt.Errorf("streams: invalid rollupTtl %q: %w", md.RollupTTL, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// CurrentValue returns the most recent data point written to the stream,
// or nil if nothing has been written. Always queries the cloud.
func (s *Stream) CurrentValue(ctx context.Context) (*DataPoint, error) {
	md, err := s.metadata(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(md.CurrentValue) == 0 {
		return nil, nil
	}
	var rec pointRecord
	if err := json.Unmarshal(md.CurrentValue, &rec); err != nil {
		return nil, fmt.Errorf("streams: decoding current value: %w", err)
	}
	return &DataPoint{StreamID: s.id, Data: rec.Data, Timestamp: rec.Timestamp, Location: rec.Location}, nil
}

// WriteDataPoint pushes one data point into the stream. The point's stream
// id is always taken from this stream.
func (s *Stream) WriteDataPoint(ctx context.Context, point DataPoint) error {
	point.StreamID = s.id
	if point.DataType == "" && s.cached != nil {
		point.DataType = s.cached.DataType
	}
	body, err := point.XML()
	if err != nil {
		return err
	}
	_, err = s.conn.Post(ctx, "/ws/DataPoint/"+s.id, []byte(body))
	return err
}

// Read returns the stream's data points, paging through the DataPoint
// service. pageSize bounds each request, not the total.
func (s *Stream) Read(ctx context.Context, pageSize int) ([]DataPoint, error) {
	var points []DataPoint
	err := client.ForEachPage(ctx, s.conn, "/ws/DataPoint/"+s.id, "", pageSize, func(item json.RawMessage) error {
		var rec pointRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return fmt.Errorf("streams: decoding data point: %w", err)
		}
		points = append(points, DataPoint{
			StreamID:  s.id,
			Data:      rec.Data,
			Timestamp: rec.Timestamp,
			Location:  rec.Location,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}
