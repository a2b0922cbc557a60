// Package media turns local files, raw bytes, and remote URLs into typed
// references that providers can inline or upload.
package media

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Input is a single piece of media addressed to a model. Exactly one of
// Data or URL is set.
type Input struct {
	Name string
	MIME string
	Data []byte
	URL  string
}

// FromFile reads the file and sniffs its MIME type from the content.
func FromFile(path string) (*Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media file: %w", err)
	}
	mt := mimetype.Detect(data)
	return &Input{
		Name: filepath.Base(path),
		MIME: mt.String(),
		Data: data,
	}, nil
}

// FromBytes wraps an in-memory payload, sniffing the MIME type.
func FromBytes(name string, data []byte) *Input {
	return &Input{
		Name: name,
		MIME: mimetype.Detect(data).String(),
		Data: data,
	}
}

// FromURL wraps a remote reference. The MIME type is guessed from the
// extension and may be empty.
func FromURL(url string) *Input {
	mime := ""
	if mt := mimetype.Lookup(extMIMEHint(url)); mt != nil {
		mime = mt.String()
	}
	return &Input{
		Name: filepath.Base(url),
		MIME: mime,
		URL:  url,
	}
}

func extMIMEHint(url string) string {
	ext := strings.ToLower(filepath.Ext(url))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	}
	return ""
}

func (i *Input) Inline() bool {
	return i.URL == ""
}

func (i *Input) Size() int64 {
	return int64(len(i.Data))
}

// Base64 returns the inline payload encoded for JSON embedding.
func (i *Input) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL renders the payload as a data: URL.
func (i *Input) DataURL() string {
	return "data:" + i.MIME + ";base64," + i.Base64()
}

func (i *Input) IsImage() bool {
	return strings.HasPrefix(i.MIME, "image/")
}

func (i *Input) IsVideo() bool {
	return strings.HasPrefix(i.MIME, "video/")
}
