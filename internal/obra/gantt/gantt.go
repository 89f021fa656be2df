// Package gantt stores a project's Gantt chart PDF inside the project
// record as a base64 data URL.
package gantt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxSize is the largest accepted PDF, in bytes.
const MaxSize = 1 << 20

const dataURLPrefix = "data:application/pdf;base64,"

var (
	// ErrTooLarge is returned for files over MaxSize.
	ErrTooLarge = errors.New("gantt file exceeds 1MB")

	// ErrNotPDF is returned for content that is not a readable PDF.
	ErrNotPDF = errors.New("gantt file is not a PDF")

	// ErrNoAttachment is returned when a project has no Gantt file.
	ErrNoAttachment = errors.New("project has no gantt file")
)

// Info describes a validated attachment.
type Info struct {
	Size  int `json:"size"`
	Pages int `json:"pages"`
}

// Validate checks size and PDF structure.
func Validate(data []byte) (Info, error) {
	if len(data) > MaxSize {
		return Info{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return Info{}, ErrNotPDF
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	return Info{Size: len(data), Pages: r.NumPage()}, nil
}

// Encode validates data and returns it as a data URL.
func Encode(data []byte) (string, Info, error) {
	info, err := Validate(data)
	if err != nil {
		return "", Info{}, err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(data), info, nil
}

// EncodeFile reads and encodes a PDF file.
func EncodeFile(path string) (string, Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", Info{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if st.Size() > MaxSize {
		return "", Info{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, st.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", Info{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Encode(data)
}

// Decode returns the PDF bytes of a data URL.
func Decode(dataURL string) ([]byte, error) {
	if dataURL == "" {
		return nil, ErrNoAttachment
	}
	payload, ok := strings.CutPrefix(dataURL, dataURLPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected data URL header", ErrNotPDF)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	return data, nil
}

// ValidateDataURL checks an attachment that arrives already encoded.
func ValidateDataURL(dataURL string) (Info, error) {
	data, err := Decode(dataURL)
	if err != nil {
		return Info{}, err
	}
	return Validate(data)
}
