package models

import "time"

// Status is the visibility state of a stored file
type Status string

const (
	// StatusPending marks an upload in progress; invisible to readers
	StatusPending Status = "pending"
	// StatusCommitted marks a fully written file
	StatusCommitted Status = "committed"
)

// FileRecord represents file metadata kept in the files collection of a bucket
type FileRecord struct {
	ID          string            `json:"id" bson:"_id"`
	Bucket      string            `json:"bucket" bson:"bucket"`
	Filename    string            `json:"filename" bson:"filename"`
	Length      int64             `json:"length" bson:"length"`
	ChunkSize   int               `json:"chunk_size" bson:"chunkSize"`
	UploadDate  time.Time         `json:"upload_date" bson:"uploadDate"`
	CreatedAt   time.Time         `json:"created_at" bson:"createdAt"`
	ContentType string            `json:"content_type,omitempty" bson:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Status      Status            `json:"status" bson:"status"`
}

// Committed reports whether the file is visible to readers
func (f *FileRecord) Committed() bool {
	return f.Status == StatusCommitted
}

// ChunkCount returns the number of chunks a committed file must have
func (f *FileRecord) ChunkCount() int {
	if f.ChunkSize <= 0 || f.Length <= 0 {
		return 0
	}
	size := int64(f.ChunkSize)
	return int((f.Length + size - 1) / size)
}

// ChunkLength returns the expected data length of chunk n
func (f *FileRecord) ChunkLength(n int) int {
	count := f.ChunkCount()
	if n < 0 || n >= count {
		return 0
	}
	if n < count-1 {
		return f.ChunkSize
	}
	return int(f.Length - int64(count-1)*int64(f.ChunkSize))
}

// Chunk represents one segment of a file
type Chunk struct {
	Bucket string `json:"bucket" bson:"bucket"`
	FileID string `json:"file_id" bson:"files_id"`
	N      int    `json:"n" bson:"n"`
	Data   []byte `json:"-" bson:"data"`
	Size   int64  `json:"size" bson:"size"`
	Hash   string `json:"hash" bson:"hash"`
}

// ChunkData holds chunk information during upload
type ChunkData struct {
	Data       []byte
	OrderIndex int
	Hash       string
	Size       int64
}

// UploadOptions describes a file at upload start
type UploadOptions struct {
	ChunkSize   int
	ContentType string
	Metadata    map[string]string
}
