package models

import "time"

// StorageObjectEvent is one finalized object reported by the bucket
// notification trigger. Delivered at least once.
type StorageObjectEvent struct {
	Bucket      string
	Key         string
	Size        uint64
	ContentType string
	TimeCreated time.Time
}

// FileEvent is the fan-out payload published after a FileRecord lands. The
// session id rides both in the body and as a broker message attribute so
// subscriptions can filter without touching the body.
type FileEvent struct {
	FileRecord
}

// SessionAttribute is the broker message attribute carrying the routing key.
const SessionAttribute = "sessionId"
