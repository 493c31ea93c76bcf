package token

import (
	"encoding/json"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// QRGenerator renders access tokens as scannable codes in the two encodings
// the resolver accepts for freshly issued passes.
type QRGenerator struct {
	AppTag  string
	BaseURL string // e.g. https://events.example.com/pass
}

func NewQRGenerator(appTag, baseURL string) *QRGenerator {
	return &QRGenerator{AppTag: appTag, BaseURL: baseURL}
}

// FragmentURL builds the privacy-preserving link variant: the token rides in
// the fragment so it is never transmitted in the query string.
func (q *QRGenerator) FragmentURL(token string) string {
	return fmt.Sprintf("%s#%s", q.BaseURL, token)
}

// GeneratePassQR renders the fragment-URL encoding as a PNG.
func (q *QRGenerator) GeneratePassQR(token string) ([]byte, error) {
	return qrcode.Encode(q.FragmentURL(token), qrcode.Medium, 256)
}

// GeneratePayloadQR renders the structured {"t","tk"} encoding as a PNG. Used
// by kiosk displays that scan app-to-app without a browser in between.
func (q *QRGenerator) GeneratePayloadQR(token string) ([]byte, error) {
	data, err := json.Marshal(scanPayload{Tag: q.AppTag, Token: token})
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(string(data), qrcode.Medium, 256)
}
