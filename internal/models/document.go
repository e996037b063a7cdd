package models

import "fmt"

// Document is a knowledge-base document known to the backend. UploadedAt and Size are display metadata
// recorded when the document was uploaded through this server; the backend only reports ID and Name.
type Document struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	UploadedAt string `json:"uploadedAt,omitempty"`
	Size       string `json:"size,omitempty"`
}

// UploadedAtLayout is the layout used for Document.UploadedAt, e.g. "01/02/2006, 03:04 PM".
const UploadedAtLayout = "01/02/2006, 03:04 PM"

// HumanSize renders a byte count in megabytes with one decimal, e.g. "1.5 MB".
func HumanSize(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}
