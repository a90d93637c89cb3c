package models

// FileKind is the extractor route for an upload.
type FileKind string

const (
	KindImage FileKind = "image"
	KindPDF   FileKind = "pdf"
)

// Upload is a lesson file saved from the form.
type Upload struct {
	FileName   string   `json:"file_name"`
	StoredPath string   `json:"stored_path"`
	Kind       FileKind `json:"kind"`
	Size       int64    `json:"size"`
}

// SummaryRequest is the text gathered for one form submission.
type SummaryRequest struct {
	Topic     string
	StudentID string
	Text      string
}
