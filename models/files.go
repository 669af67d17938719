package models

import "time"

// FileRecord is the durable record of one completed upload. FileId is
// assigned by the store on create; StoragePath keeps the object key whose
// second segment is the owning session.
type FileRecord struct {
	FileId      string    `dynamodbav:"file_id" json:"id"`
	SessionId   string    `dynamodbav:"session_id" json:"sessionId"`
	Name        string    `dynamodbav:"file_name" json:"name"`
	Size        uint64    `dynamodbav:"file_size" json:"size"`
	Type        string    `dynamodbav:"file_type" json:"type"`
	StoragePath string    `dynamodbav:"storage_path" json:"storagePath"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"createdAt"`
}

type FilesResponse struct {
	Files []FileRecord `json:"files"`
}
