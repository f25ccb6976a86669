package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicecloud/pkg/client"
)

type stubConn struct {
	getJSON     map[string]string
	getJSONErr  error
	postPaths   []string
	postBodies  []string
	deletePaths []string
	jsonCalls   int
}

func (s *stubConn) Get(ctx context.Context, path string) ([]byte, error) { panic("not used") }

func (s *stubConn) GetJSON(ctx context.Context, path string, out any) error {
	s.jsonCalls++
	if s.getJSONErr != nil {
		return s.getJSONErr
	}
	for prefix, body := range s.getJSON {
		if strings.HasPrefix(path, prefix) {
			return json.Unmarshal([]byte(body), out)
		}
	}
	return fmt.Errorf("no canned reply for %s", path)
}

func (s *stubConn) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	s.postPaths = append(s.postPaths, path)
	s.postBodies = append(s.postBodies, string(body))
	return nil, nil
}

func (s *stubConn) Put(ctx context.Context, path string, body []byte) ([]byte, error) {
	panic("not used")
}

func (s *stubConn) Delete(ctx context.Context, path string) ([]byte, error) {
	s.deletePaths = append(s.deletePaths, path)
	return nil, nil
}

func TestCreateStream(t *testing.T) {
	conn := &stubConn{}
	api := NewAPI(conn)

	stream, err := api.CreateStream(context.Background(), "temperature/celsius", "float", "engine temp", "C", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "temperature/celsius", stream.ID())

	require.Len(t, conn.postBodies, 1)
	assert.Equal(t, "/ws/DataStream", conn.postPaths[0])
	body := conn.postBodies[0]
	assert.Contains(t, body, "<streamId>temperature/celsius</streamId>")
	assert.Contains(t, body, "<dataType>FLOAT</dataType>")
	assert.Contains(t, body, "<units>C</units>")
	// Zero TTLs fall back to the two and five day defaults, in seconds.
	assert.Contains(t, body, "<dataTtl>172800</dataTtl>")
	assert.Contains(t, body, "<rollupTtl>432000</rollupTtl>")
}

func TestStreamMetadataCaching(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{
		"/ws/DataStream/temp": `{"items":[{"streamId":"temp","dataType":"INTEGER","description":"d","dataTtl":"3600","rollupTtl":7200}]}`,
	}}
	stream := NewAPI(conn).GetStream("temp")

	ctx := context.Background()
	dt, err := stream.DataType(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeInteger, dt)

	desc, err := stream.Description(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d", desc)

	dataTTL, err := stream.DataTTL(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, dataTTL)

	rollupTTL, err := stream.RollupTTL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, rollupTTL)

	// Four accessor calls, one fetch.
	assert.Equal(t, 1, conn.jsonCalls)

	require.NoError(t, stream.Refresh(ctx))
	assert.Equal(t, 2, conn.jsonCalls)
}

func TestStreamMissing(t *testing.T) {
	conn := &stubConn{getJSONErr: &client.HTTPError{Method: "GET", URL: "/ws/DataStream/ghost", StatusCode: 404}}
	stream := NewAPI(conn).GetStream("ghost")

	_, err := stream.DataType(context.Background())
	assert.ErrorIs(t, err, ErrNoSuchStream)
}

func TestStreamEmptyItemsMeansMissing(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{"/ws/DataStream/ghost": `{"items":[]}`}}
	_, err := NewAPI(conn).GetStream("ghost").Description(context.Background())
	assert.ErrorIs(t, err, ErrNoSuchStream)
}

func TestDataPointXML(t *testing.T) {
	quality := 99
	p := DataPoint{
		StreamID:  "/temp",
		Data:      "21.5",
		Timestamp: "2026-08-31T10:00:00Z",
		Quality:   &quality,
		DataType:  "float",
	}
	body, err := p.XML()
	require.NoError(t, err)
	// The leading slash on the stream id is stripped.
	assert.Contains(t, body, "<streamId>temp</streamId>")
	assert.Contains(t, body, "<data>21.5</data>")
	assert.Contains(t, body, "<timestamp>2026-08-31T10:00:00Z</timestamp>")
	assert.Contains(t, body, "<quality>99</quality>")
	assert.Contains(t, body, "<streamType>FLOAT</streamType>")
	assert.NotContains(t, body, "<description>")
	assert.NotContains(t, body, "<location>")
	assert.NotContains(t, body, "<streamUnits>")
}

func TestWriteDataPoint(t *testing.T) {
	conn := &stubConn{}
	stream := NewAPI(conn).GetStream("temp")

	err := stream.WriteDataPoint(context.Background(), DataPoint{StreamID: "ignored", Data: "42"})
	require.NoError(t, err)
	require.Len(t, conn.postPaths, 1)
	assert.Equal(t, "/ws/DataPoint/temp", conn.postPaths[0])
	// The point is written against this stream no matter what the caller set.
	assert.Contains(t, conn.postBodies[0], "<streamId>temp</streamId>")
}

func TestCurrentValue(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{
		"/ws/DataStream/temp": `{"items":[{"streamId":"temp","dataType":"INTEGER","currentValue":{"data":"42","timestamp":"2026-08-31T09:00:00Z"}}]}`,
	}}
	stream := NewAPI(conn).GetStream("temp")

	point, err := stream.CurrentValue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.Equal(t, "42", point.Data)
	assert.Equal(t, "temp", point.StreamID)
}

func TestCurrentValueEmptyStream(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{
		"/ws/DataStream/temp": `{"items":[{"streamId":"temp","dataType":"INTEGER"}]}`,
	}}
	point, err := NewAPI(conn).GetStream("temp").CurrentValue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, point)
}

func TestReadPoints(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{
		"/ws/DataPoint/temp": `{"items":[{"data":"1"},{"data":"2"}],"remainingSize":"0"}`,
	}}
	points, err := NewAPI(conn).GetStream("temp").Read(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "1", points[0].Data)
	assert.Equal(t, "2", points[1].Data)
	assert.Equal(t, "temp", points[0].StreamID)
}

func TestListAndDeleteStreams(t *testing.T) {
	conn := &stubConn{getJSON: map[string]string{
		"/ws/DataStream": `{"items":[{"streamId":"a"},{"streamId":"b"}]}`,
	}}
	api := NewAPI(conn)

	streams, err := api.ListStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, "a", streams[0].ID())

	require.NoError(t, api.DeleteStream(context.Background(), "a"))
	assert.Equal(t, []string{"/ws/DataStream/a"}, conn.deletePaths)
}
