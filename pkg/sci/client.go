package sci

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/beevik/etree"

	"devicecloud/pkg/client"
)

const sciPath = "/ws/sci"

// ErrJobNotScheduled is returned by SendAsync when the reply carries no
// jobId element, meaning the cloud accepted the request but scheduled it
// against no target (for example, every target was invalid). It is a
// scheduling failure, distinct from a device-side error.
var ErrJobNotScheduled = errors.New("sci: request was not scheduled as an async job")

// Client dispatches SCI requests over a Connection. It is stateless and
// safe for use from multiple goroutines.
type Client struct {
	conn client.Connection
}

// NewClient returns an SCI client over the given connection.
func NewClient(conn client.Connection) *Client {
	return &Client{conn: conn}
}

// Send builds the envelope for req and POSTs it, blocking until the cloud
// replies. The raw reply body is returned; transport failures propagate
// unchanged from the connection.
func (c *Client) Send(ctx context.Context, req Request) ([]byte, error) {
	envelope, err := req.Envelope()
	if err != nil {
		return nil, err
	}
	slog.Debug("Dispatching SCI request", "component", "SCI", "operation", req.Operation, "targets", len(req.Targets))
	return c.conn.Post(ctx, sciPath, []byte(envelope))
}

// SendAsync dispatches req asynchronously and wraps the scheduled job in a
// Job handle for polling. The synchronous option is forced to false no
// matter what the caller set. If the reply carries no jobId the request
// could not be scheduled and ErrJobNotScheduled is returned.
func (c *Client) SendAsync(ctx context.Context, req Request) (*Job, error) {
	req.Options.Synchronous = Bool(false)
	body, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("sci: malformed async dispatch reply: %w", err)
	}
	jobEl := doc.FindElement("//jobId")
	if jobEl == nil {
		return nil, ErrJobNotScheduled
	}
	jobID, err := strconv.Atoi(jobEl.Text())
	if err != nil {
		return nil, fmt.Errorf("sci: invalid jobId %q: %w", jobEl.Text(), err)
	}
	slog.Debug("Scheduled async SCI job", "component", "SCI", "operation", req.Operation, "job_id", jobID)
	return newJob(jobID, c), nil
}

// AsyncJob fetches the current reply body for an async job by id. This is
// useful for jobs discovered out-of-band; jobs created through SendAsync
// are normally driven through Job.Poll instead.
func (c *Client) AsyncJob(ctx context.Context, jobID int) ([]byte, error) {
	return c.conn.Get(ctx, fmt.Sprintf("%s/%d", sciPath, jobID))
}
