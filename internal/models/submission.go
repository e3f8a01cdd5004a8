package models

import "time"

// Submission is a piece of source text queued for analysis, from the API or the Redis stream
type Submission struct {
	RunID     string    `bson:"runId" json:"runId"`
	Filename  string    `bson:"filename,omitempty" json:"filename,omitempty"`
	Code      string    `bson:"code" json:"code"`
	Source    string    `bson:"source" json:"source"` // api or stream
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
