package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeDealID computes a deterministic deal_id using SHA256.
// Formula: SHA256(channel_id|owner_id|account_id|method|ready_at_ms)
// Returns hex-encoded hash (64 characters).
// The outcome is not part of the hash, so a ticket yields at most one deal.
func ComputeDealID(
	channelID string,
	ownerID string,
	accountID int64,
	method string,
	readyAtMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%d",
		channelID,
		ownerID,
		accountID,
		method,
		readyAtMs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
