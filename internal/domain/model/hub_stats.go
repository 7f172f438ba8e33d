package model

// HubStats is a point-in-time snapshot of the dispatch hub.
type HubStats struct {
	ActiveConversations int   `json:"active_conversations"`
	QueuedJobs          int   `json:"queued_jobs"`
	InFlight            int   `json:"in_flight"`
	Processed           int64 `json:"processed"`
	Rejected            int64 `json:"rejected"`
}
