// Package models defines the shared data types passed between the catalog,
// the blob store, the notification queue, and the services that use them.
package models

import (
	"fmt"
	"time"
)

// ImageMetadata is the catalog record for one stored image.
// Name is the primary identity and the join key with the blob store.
type ImageMetadata struct {
	Name          string    `json:"name"`
	LastUpdated   time.Time `json:"lastUpdated"`
	FileExtension string    `json:"fileExtension"`
	SizeBytes     int64     `json:"sizeBytes"`
}

// UploadNotice is the payload placed on the notification queue when an image
// has been uploaded. The relay turns it into a human-readable notification.
type UploadNotice struct {
	Name          string `json:"name"`
	SizeBytes     int64  `json:"sizeBytes"`
	FileExtension string `json:"fileExtension"`
	DownloadLink  string `json:"downloadLink"`
}

// Message is the transport envelope around a serialized UploadNotice.
// ReceiptHandle is required to acknowledge the message and becomes invalid
// once used or once the visibility window expires.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// FormatNotice renders the fixed notification text for an upload notice.
func (n UploadNotice) FormatNotice() string {
	return fmt.Sprintf("An image has been uploaded:\n\n"+
		"Name: %s\n"+
		"Size: %d bytes\n"+
		"Extension: %s\n"+
		"Download Link: %s",
		n.Name, n.SizeBytes, n.FileExtension, n.DownloadLink)
}
