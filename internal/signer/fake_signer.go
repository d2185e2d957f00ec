// Package signer provides txbuild.Signer implementations.
package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"trustwork/internal/txbuild"
)

// ErrCancelled is what a signer returns when the user declines.
var ErrCancelled = txbuild.ErrCancelled

// FakeSigner hashes the payload to derive deterministic transaction ids in
// tests and dry runs. Nothing is broadcast.
type FakeSigner struct {
	// Decline makes every Sign return ErrCancelled.
	Decline bool
}

func (f FakeSigner) Sign(ctx context.Context, req *txbuild.SubmissionRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("missing request")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Decline {
		return "", ErrCancelled
	}
	payload, err := req.Payload()
	if err != nil {
		return "", fmt.Errorf("serialize request: %w", err)
	}
	return fakeTxID(payload), nil
}

func fakeTxID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "0x" + hex.EncodeToString(sum[:])
}
