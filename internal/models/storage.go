package models

import (
	"path"
	"strings"
	"time"
)

// FileKind groups storage objects the way the room files view shows them.
type FileKind int

const (
	FileOther FileKind = iota
	FileImage
	FileDocument
)

func (k FileKind) String() string {
	switch k {
	case FileImage:
		return "image"
	case FileDocument:
		return "document"
	default:
		return "other"
	}
}

// ObjectMetadata is the subset of storage metadata the kiosk reads.
type ObjectMetadata struct {
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype"`
}

// StorageObject is one entry in a bucket listing. Folders have an empty ID.
type StorageObject struct {
	Name      string         `json:"name"`
	ID        string         `json:"id"`
	UpdatedAt Timestamp      `json:"updated_at"`
	CreatedAt Timestamp      `json:"created_at"`
	Metadata  ObjectMetadata `json:"metadata"`
}

// IsFolder reports whether the entry is a prefix placeholder.
func (o StorageObject) IsFolder() bool {
	return o.ID == ""
}

// Kind classifies the object by file extension.
func (o StorageObject) Kind() FileKind {
	switch strings.ToLower(path.Ext(o.Name)) {
	case ".png", ".jpg", ".jpeg":
		return FileImage
	case ".pdf", ".doc", ".docx", ".txt":
		return FileDocument
	default:
		return FileOther
	}
}

// Visit is one recorded navigation of a kiosk tab.
type Visit struct {
	ID        string
	Sequence  int
	TabID     string
	URL       string
	Title     string
	VisitedAt time.Time
}
