package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC of each webhook body.
//
// Format: X-MeetingAlert-Signature: t=<unix>,v1=<hex hmac-sha256>
// The signed content is "<unix>.<body>".
const SignatureHeader = "X-MeetingAlert-Signature"

// Sign returns the signature header value for body.
func Sign(body []byte, secret string, now time.Time) string {
	ts := now.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(ts, body, secret))
}

// Verify checks header against body and rejects signatures older than
// tolerance. A zero tolerance disables the age check.
func Verify(body []byte, header, secret string, now time.Time, tolerance time.Duration) bool {
	var (
		ts  int64
		sig string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			ts = n
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return false
	}
	if tolerance > 0 && now.Sub(time.Unix(ts, 0)).Abs() > tolerance {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(computeHMAC(ts, body, secret)))
}

func computeHMAC(ts int64, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
