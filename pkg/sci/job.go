package sci

import (
	"context"
	"fmt"
	"sync"

	"github.com/beevik/etree"
)

// Job is a handle to an asynchronously executing SCI request. Each Poll
// issues a fresh GET until the cloud reports the job complete; from then
// on the reply body is cached and polling is free. Pacing between polls is
// the caller's responsibility, so backoff policy stays with the caller.
type Job struct {
	ID int

	client *Client

	mu       sync.Mutex
	response []byte
}

func newJob(id int, c *Client) *Job {
	return &Job{ID: id, client: c}
}

// Poll reports whether the job has completed, querying the cloud unless a
// completed reply has already been observed. The completion response is
// written at most once; concurrent polls on a shared handle are safe.
func (j *Job) Poll(ctx context.Context) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.response != nil {
		return true, nil
	}

	body, err := j.client.AsyncJob(ctx, j.ID)
	if err != nil {
		return false, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return false, fmt.Errorf("sci: malformed job %d reply: %w", j.ID, err)
	}
	status := doc.FindElement("//status")
	if status != nil && status.Text() == "complete" {
		j.response = body
		return true, nil
	}
	return false, nil
}

// Response returns a copy of the cached completion reply, or nil while
// the job is still pending. The cached reply itself is never handed out,
// so callers cannot mutate it.
func (j *Job) Response() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.response == nil {
		return nil
	}
	out := make([]byte, len(j.response))
	copy(out, j.response)
	return out
}
