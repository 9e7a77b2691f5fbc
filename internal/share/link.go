// Package share builds the public links and QR codes handed out for uploads.
package share

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	DefaultQRSize = 256
	MinQRSize     = 64
	MaxQRSize     = 1024
)

// Link is the public address of one short code
type Link struct {
	BaseURL string
	Code    string
}

// URL returns the fetch URL: <base>/f/<code>
func (l Link) URL() string {
	return strings.TrimRight(l.BaseURL, "/") + "/f/" + l.Code
}

// QR generates a PNG QR code of the link, size pixels square
func (l Link) QR(size int) ([]byte, error) {
	if size == 0 {
		size = DefaultQRSize
	}
	if size < MinQRSize || size > MaxQRSize {
		return nil, fmt.Errorf("qr size %d out of range [%d, %d]", size, MinQRSize, MaxQRSize)
	}
	return qrcode.Encode(l.URL(), qrcode.Medium, size)
}

// QRString generates an ASCII art QR code for terminal display
func (l Link) QRString() (string, error) {
	qr, err := qrcode.New(l.URL(), qrcode.Low)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}
