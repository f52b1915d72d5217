package email

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// Attachment is a loaded attachment file.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// LoadAttachments reads every attachment path of the message. API transports
// need the bytes; SMTP transports attach by path.
func (m *Message) LoadAttachments() ([]Attachment, error) {
	atts := make([]Attachment, 0, len(m.Attachments))
	for _, path := range m.Attachments {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
		}
		ct := mime.TypeByExtension(filepath.Ext(path))
		if ct == "" {
			ct = "application/octet-stream"
		}
		atts = append(atts, Attachment{
			Filename:    filepath.Base(path),
			ContentType: ct,
			Content:     content,
		})
	}
	return atts, nil
}
