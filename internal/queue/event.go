// Package queue carries job ids over RabbitMQ when jobs run in a separate
// worker process.  Only the id travels; the job row holds the parameters.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobMessage is the body published for every submitted job.
type JobMessage struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

var errEmptyJobID = errors.New("message has no job_id")

// Decode parses a delivery body.
func Decode(body []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("unmarshal: %w", err)
	}
	if msg.JobID == "" {
		return JobMessage{}, errEmptyJobID
	}
	return msg, nil
}
