package attachment

import (
	"bytes"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ruteri/attachment-store/interfaces"
)

// sniffLen is how much of an upload is inspected for content type detection.
const sniffLen = 3072

// FileUpload adapts a reader and its client-supplied metadata to
// interfaces.SizedUpload.
type FileUpload struct {
	io.Reader
	filename    string
	contentType string
	size        int64
}

// NewUpload wraps r. A negative size means unknown.
func NewUpload(r io.Reader, filename, contentType string, size int64) *FileUpload {
	return &FileUpload{Reader: r, filename: filename, contentType: contentType, size: size}
}

func (u *FileUpload) OriginalFilename() string { return u.filename }
func (u *FileUpload) ContentType() string      { return u.contentType }
func (u *FileUpload) Size() int64              { return u.size }

// SetUploadedData queues an upload as the attachment's pending data. The
// filename is sanitized, and a missing or generic content type is detected
// from the leading bytes of the upload.
func SetUploadedData(att *interfaces.Attachment, upload interfaces.Upload) error {
	att.Filename = Sanitize(upload.OriginalFilename())

	var data io.Reader = upload
	contentType := upload.ContentType()
	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(upload, head)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return err
		}
		head = head[:n]
		contentType = mimetype.Detect(head).String()
		data = io.MultiReader(bytes.NewReader(head), upload)
	}
	att.ContentType = contentType

	if sized, ok := upload.(interfaces.SizedUpload); ok && sized.Size() >= 0 {
		att.Filesize = sized.Size()
	}

	att.SetPendingData(data)
	return nil
}
