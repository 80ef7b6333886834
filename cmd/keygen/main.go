package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/obedparla/storechat/internal/relay"
)

// Generates a site key (or hashes one passed as an argument) for the
// provider relay. The hash goes in the provider's config; the plaintext key
// goes to the client install.
func main() {
	var siteKey string
	if len(os.Args) >= 2 {
		siteKey = os.Args[1]
	} else {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
			os.Exit(1)
		}
		siteKey = "sk-site-" + hex.EncodeToString(raw)
	}

	fmt.Printf("Site Key: %s\n", siteKey)
	fmt.Printf("SHA-256 Hash: %s\n", relay.HashSiteKey(siteKey))
	fmt.Println("\nAdd the hash to the provider's config.yaml:")
	fmt.Printf("  relay:\n")
	fmt.Printf("    site_key_hashes:\n")
	fmt.Printf("      - \"%s\"\n", relay.HashSiteKey(siteKey))
}
