package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is defined in terms of RIPEMD-160

	"trustwork/internal/chainvalue"
	"trustwork/internal/txbuild"
)

// DefaultFee is the flat fee, in micro-STX, paid when none is configured.
const DefaultFee = 10_000

// Node is what KeySigner needs from a Stacks node.
type Node interface {
	Nonce(ctx context.Context, address string) (uint64, error)
	Broadcast(ctx context.Context, tx []byte) (string, error)
}

// KeySigner signs contract-call transactions with a local secp256k1 key and
// broadcasts them through a Node. It only signs requests whose actor is its
// own address.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	hash    []byte
	address string
	fee     uint64
	node    Node
}

type KeySignerConfig struct {
	PrivateKeyHex string
	// Mainnet selects SP addresses; otherwise ST.
	Mainnet bool
	// Fee in micro-STX; zero means DefaultFee.
	Fee uint64
}

func NewKeySigner(cfg KeySignerConfig, node Node) (*KeySigner, error) {
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for signing")
	}
	if node == nil {
		return nil, fmt.Errorf("node is required")
	}
	key, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	version := chainvalue.VersionTestnetSingleSig
	if cfg.Mainnet {
		version = chainvalue.VersionMainnetSingleSig
	}
	hash := hash160(crypto.CompressPubkey(&key.PublicKey))
	address, err := chainvalue.EncodeAddress(version, hash)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}
	fee := cfg.Fee
	if fee == 0 {
		fee = DefaultFee
	}
	return &KeySigner{key: key, hash: hash, address: address, fee: fee, node: node}, nil
}

// parsePrivateKey accepts 32 bytes of hex, optionally 0x-prefixed and
// optionally followed by the 01 compression flag wallets export.
func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if len(hexKey) == 66 && strings.HasSuffix(hexKey, "01") {
		hexKey = hexKey[:64]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func hash160(pub []byte) []byte {
	sha := sha256.Sum256(pub)
	r := ripemd160.New()
	r.Write(sha[:])
	return r.Sum(nil)
}

// Address is the principal this signer signs for.
func (s *KeySigner) Address() string { return s.address }

// Sign serializes req as a contract-call transaction at the node's next
// nonce, signs it and broadcasts it.
func (s *KeySigner) Sign(ctx context.Context, req *txbuild.SubmissionRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("missing request")
	}
	if !strings.EqualFold(req.Actor, s.address) {
		return "", fmt.Errorf("request actor %s is not signer %s", req.Actor, s.address)
	}
	nonce, err := s.node.Nonce(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	raw, err := s.signedTransaction(req, nonce)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	txID, err := s.node.Broadcast(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", txbuild.ErrBroadcastFailed, err)
	}
	if local := transactionID(raw); !sameTxID(local, txID) {
		log.Ctx(ctx).Warn().Str("tx_id", txID).Str("local_tx_id", local).Msg("node returned an unexpected transaction id")
	}
	log.Ctx(ctx).Debug().Str("tx_id", txID).Uint64("nonce", nonce).Str("action", string(req.Action)).Msg("transaction relayed")
	return txID, nil
}

func (s *KeySigner) signedTransaction(req *txbuild.SubmissionRequest, nonce uint64) ([]byte, error) {
	tx, err := newContractCall(req, s.hash, nonce, s.fee)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	digest, err := tx.sigHash()
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	tx.signature[0] = sig[64]
	copy(tx.signature[1:], sig[:64])
	return tx.serialize()
}

func sameTxID(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}
