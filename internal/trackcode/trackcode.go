package trackcode

import (
	"crypto/rand"
	"strings"
	"time"
)

// Алфавит без визуально похожих символов (0/O, 1/I).
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const bodyLen = 6

type Mode string

const (
	ModeShort Mode = "short"
	ModeLong  Mode = "long"
)

// Generate строит трек-код. Short: PREFIX-RRRRRR.
// Long: PREFIX-YYYYMMDD-RRRRRR-C, где C — контрольный символ base-36.
func Generate(prefix string, mode Mode) string {
	body := randomBody()
	if mode == ModeShort {
		return prefix + "-" + body
	}
	date := time.Now().UTC().Format("20060102")
	base := prefix + "-" + date + "-" + body
	return base + "-" + string(checksumChar(base))
}

// Validate проверяет структуру и контрольный символ long-кода.
// Никогда не паникует: любой структурный брак -> false.
func Validate(code string) bool {
	parts := strings.Split(code, "-")
	if len(parts) != 4 {
		return false
	}
	prefix, date, body, check := parts[0], parts[1], parts[2], parts[3]
	if prefix == "" || len(date) != 8 || len(body) != bodyLen || len(check) != 1 {
		return false
	}
	for _, c := range prefix {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	for _, c := range date {
		if c < '0' || c > '9' {
			return false
		}
	}
	for _, c := range body {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return checksumChar(prefix+"-"+date+"-"+body) == check[0]
}

func randomBody() string {
	buf := make([]byte, bodyLen)
	// rand.Read из crypto/rand не возвращает ошибок начиная с go1.24.
	_, _ = rand.Read(buf)
	out := make([]byte, bodyLen)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}

func checksumChar(base string) byte {
	sum := 0
	for i := 0; i < len(base); i++ {
		sum += int(base[i])
	}
	const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	return digits[sum%36]
}
