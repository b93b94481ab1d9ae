package votes

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"
)

var NowFunc func() time.Time = time.Now

// OriginHash returns a salted digest of the network origin of a request, so
// that votes coming from the same address can be told apart without storing it.
func OriginHash(salt string, addr string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(addr))
	return hex.EncodeToString(h.Sum(nil))
}

// clientAddr returns the address of the client, trusting X-Forwarded-For only
// when told to.
func clientAddr(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
