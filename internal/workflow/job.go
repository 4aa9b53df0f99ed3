package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"casiel/internal/services"
)

// envelope is the queue message shape: {"data": {"content_id": .., "media_id": ..}}.
type envelope struct {
	Data Job `json:"data"`
}

// EncodeJob renders job as a queue message body.
func EncodeJob(job Job) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Data: job})
}

// DecodeJob parses a queue message body. Numeric ids sent as strings are
// accepted. Any structural problem is reported as services.ErrMalformed.
func DecodeJob(body []byte) (Job, error) {
	var raw struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Job{}, services.Wrap(services.ErrMalformed, "queue", "decode job", "body is not valid JSON", err)
	}
	if raw.Data == nil {
		return Job{}, services.Wrap(services.ErrMalformed, "queue", "decode job", "missing data object", nil)
	}

	var job Job
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           &job,
	})
	if err != nil {
		return Job{}, err
	}
	if err := decoder.Decode(raw.Data); err != nil {
		return Job{}, services.Wrap(services.ErrMalformed, "queue", "decode job", "invalid job fields", err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate reports a job without both identifiers as malformed.
func (j Job) Validate() error {
	if j.ContentID <= 0 || j.MediaID <= 0 {
		return services.Wrap(services.ErrMalformed, "queue", "validate job",
			fmt.Sprintf("content_id and media_id are required (got %d, %d)", j.ContentID, j.MediaID), nil)
	}
	return nil
}
