package token

import (
	"encoding/json"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// QROptions are cosmetic; they never affect token validity and the image can
// be regenerated from the stored token at any time.
type QROptions struct {
	Size            int
	ErrorCorrection qrcode.RecoveryLevel
}

func defaultQROptions() QROptions {
	return QROptions{Size: 300, ErrorCorrection: qrcode.Medium}
}

// RenderQR encodes the raw token string into a PNG.
func RenderQR(tok string, opts *QROptions) ([]byte, error) {
	o := defaultQROptions()
	if opts != nil {
		if opts.Size > 0 {
			o.Size = opts.Size
		}
		o.ErrorCorrection = opts.ErrorCorrection
	}
	png, err := qrcode.Encode(tok, o.ErrorCorrection, o.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}

// qrEnvelope mirrors what scanners in the field already expect: a JSON
// payload carrying the token plus display hints.
type qrEnvelope struct {
	Type             string    `json:"type"`
	Token            string    `json:"barcode"`
	CreditsRemaining int32     `json:"washes_left"`
	ExpiresAt        time.Time `json:"expiry"`
}

// RenderPackageQR encodes a JSON envelope for a user package so offline
// scanner apps can show remaining credits without a round trip.
func RenderPackageQR(tok string, creditsRemaining int32, expiresAt time.Time, opts *QROptions) ([]byte, error) {
	payload, err := json.Marshal(qrEnvelope{
		Type:             "user_package",
		Token:            tok,
		CreditsRemaining: creditsRemaining,
		ExpiresAt:        expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal qr payload: %w", err)
	}
	return RenderQR(string(payload), opts)
}
