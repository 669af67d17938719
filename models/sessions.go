package models

import "time"

// Session is a time-boxed sharing context. It is written once and never
// updated; expiry is enforced by comparing ExpiresAt on read while the
// table's TTL policy (on the Ttl attribute) garbage-collects the row.
type Session struct {
	SessionId string    `dynamodbav:"session_id" json:"sessionId"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"createdAt"`
	ExpiresAt time.Time `dynamodbav:"expires_at" json:"expiresAt"`
	Ttl       int64     `dynamodbav:"ttl" json:"-"` // ExpiresAt as epoch seconds, DynamoDB TTL attribute
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
