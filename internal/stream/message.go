package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/RishiKendai/codetrace/internal/submission"
)

// StreamMessage is a stream entry with its values flattened to strings.
type StreamMessage struct {
	ID     string
	Fields map[string]string
}

type submissionPayload struct {
	RunID    string `json:"runId"`
	Code     string `json:"code"`
	Filename string `json:"filename"`
}

// ParseSubmission reads a submission either from flat fields
// (runId, code, filename) or from a JSON document in the payload field.
func ParseSubmission(msg *StreamMessage) (*models.Submission, error) {
	payload := submissionPayload{
		RunID:    msg.Fields["runId"],
		Code:     msg.Fields["code"],
		Filename: msg.Fields["filename"],
	}
	if raw, ok := msg.Fields["payload"]; ok && payload.Code == "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("invalid payload in message %s: %w", msg.ID, err)
		}
	}

	// Redelivered entries must map to the same run.
	runID := strings.TrimSpace(payload.RunID)
	if runID == "" {
		runID = "stream-" + msg.ID
	}

	sub, err := submission.NewSubmission(runID, payload.Filename, payload.Code, submission.SourceStream)
	if err != nil {
		return nil, fmt.Errorf("invalid submission in message %s: %w", msg.ID, err)
	}
	return sub, nil
}
