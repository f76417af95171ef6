package checkout

import (
	"crypto/rand"
	"strings"
	"time"
)

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewOrderNumber returns a display number of the form ORD-YYYYMMDD-XXXXXX.
// It is for humans only; orders are keyed by uuid.
func NewOrderNumber(now time.Time) string {
	var raw [6]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err)
	}
	var b strings.Builder
	b.WriteString("ORD-")
	b.WriteString(now.UTC().Format("20060102"))
	b.WriteByte('-')
	for _, v := range raw {
		b.WriteByte(orderNumberAlphabet[int(v)%len(orderNumberAlphabet)])
	}
	return b.String()
}
