package relay

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// SiteKeyHeader carries the per-install credential on relay requests.
const SiteKeyHeader = "X-Site-Key"

// Authenticator validates site keys against the configured hash list. Only
// hashes are held in memory; the plaintext keys live on the client installs.
type Authenticator struct {
	hashes []string
}

func NewAuthenticator(siteKeyHashes []string) *Authenticator {
	return &Authenticator{hashes: siteKeyHashes}
}

// Validate reports whether the site key matches any configured hash. The
// comparison is constant time per candidate hash.
func (a *Authenticator) Validate(siteKey string) bool {
	if siteKey == "" {
		return false
	}
	keyHash := HashSiteKey(siteKey)
	valid := false
	for _, h := range a.hashes {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(h)) == 1 {
			valid = true
		}
	}
	return valid
}

// Middleware rejects requests whose X-Site-Key does not hash to a
// configured value.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Validate(r.Header.Get(SiteKeyHeader)) {
			http.Error(w, "invalid site key", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashSiteKey returns the hex SHA-256 of a site key for storage.
func HashSiteKey(siteKey string) string {
	hash := sha256.Sum256([]byte(siteKey))
	return hex.EncodeToString(hash[:])
}
