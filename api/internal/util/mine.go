package util

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

// SniffKind returns a short tag for the formats the client cares about:
// "JPEG", "PNG", "GIF", "PDF" or "".
func SniffKind(b []byte) string {
	// JPEG: FF D8
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "JPEG"
	}
	// PNG
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "PNG"
	}
	if bytes.HasPrefix(b, []byte("GIF87a")) || bytes.HasPrefix(b, []byte("GIF89a")) {
		return "GIF"
	}
	// PDF
	if len(b) >= 5 && b[0] == '%' && b[1] == 'P' && b[2] == 'D' && b[3] == 'F' && b[4] == '-' {
		return "PDF"
	}
	return ""
}

func IsPDF(b []byte) bool { return SniffKind(b) == "PDF" }

func MakeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64MaybeDataURL декодирует base64. Если это data:URI, вернёт MIME из префикса.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, hintMIME, nil
	} else if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hintMIME, nil
	} else {
		return nil, "", err
	}
}

// PickMIME берём явный MIME, затем hint, иначе детектим по байтам.
// Parameters such as "; charset=" are dropped.
func PickMIME(explicit, hint string, data []byte) string {
	for _, m := range []string{explicit, hint} {
		if m = strings.TrimSpace(m); m != "" {
			if semi := strings.IndexByte(m, ';'); semi >= 0 {
				m = strings.TrimSpace(m[:semi])
			}
			return strings.ToLower(m)
		}
	}
	if len(data) > 0 {
		m := http.DetectContentType(data)
		if semi := strings.IndexByte(m, ';'); semi >= 0 {
			m = m[:semi]
		}
		return m
	}
	return "application/octet-stream"
}

func SHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
