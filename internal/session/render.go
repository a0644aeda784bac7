package session

import (
	"fmt"
	"io"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR returns the QR payload as terminal block art.
func RenderQR(payload string) (string, error) {
	q, err := qrcode.New(payload, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return q.ToSmallString(false), nil
}

// QRPNG encodes the QR payload as a PNG of the given pixel size.
func QRPNG(payload string, size int) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// FormatPairingCode groups an 8 character code as XXXX-XXXX.
func FormatPairingCode(code string) string {
	code = strings.ToUpper(strings.ReplaceAll(code, "-", ""))
	if len(code) == 8 {
		return code[:4] + "-" + code[4:]
	}
	return code
}

// ChallengeWriter prints challenges to w. A QR that cannot be encoded is
// printed raw.
func ChallengeWriter(w io.Writer) func(sessionID string, c Challenge) {
	return func(sessionID string, c Challenge) {
		if c.QR != "" {
			art, err := RenderQR(c.QR)
			if err != nil {
				art = c.QR + "\n"
			}
			fmt.Fprintf(w, "\nScan this QR code with WhatsApp (session %s):\n\n%s\n", sessionID, art)
		}
		if c.PairingCode != "" {
			fmt.Fprintf(w, "\nPairing code for session %s: %s\n", sessionID, FormatPairingCode(c.PairingCode))
			fmt.Fprintln(w, "WhatsApp > Linked devices > Link with phone number")
		}
	}
}
