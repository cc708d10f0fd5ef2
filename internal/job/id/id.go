// Package id provides unique identifier generation for watermark jobs.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generate creates a new unique job ID.
// Format: wm-<timestamp>-<random>
// Example: wm-1724900000-a1b2c3d4
func Generate() string {
	timestamp := time.Now().Unix()
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		// Fallback to timestamp only if crypto/rand fails
		return fmt.Sprintf("wm-%d", timestamp)
	}
	return fmt.Sprintf("wm-%d-%s", timestamp, hex.EncodeToString(random))
}
