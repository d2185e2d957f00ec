package signer

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"trustwork/internal/chainvalue"
	"trustwork/internal/stacks"
	"trustwork/internal/txbuild"
)

// Transaction wire bytes for a single-signature contract call.
const (
	txVersionMainnet byte   = 0x00
	txVersionTestnet byte   = 0x80
	chainIDMainnet   uint32 = 0x00000001
	chainIDTestnet   uint32 = 0x80000000

	authStandard  byte = 0x04
	hashModeP2PKH byte = 0x00
	keyCompressed byte = 0x00
	anchorAny     byte = 0x03

	postConditionDeny   byte = 0x02
	postConditionFT     byte = 0x01
	principalStandard   byte = 0x02
	principalContract   byte = 0x03
	conditionSentEq     byte = 0x01
	payloadContractCall byte = 0x02

	maxNameLen = 128
	sigLen     = 65
)

// contractCall is a standard-auth, single-sig contract call. signature is
// zero until signed and laid out as V||R||S.
type contractCall struct {
	mainnet    bool
	signer     []byte
	nonce      uint64
	fee        uint64
	signature  [sigLen]byte
	conditions []txbuild.AssetCondition
	contract   stacks.Contract
	function   string
	args       []chainvalue.Value
}

func newContractCall(req *txbuild.SubmissionRequest, signer []byte, nonce, fee uint64) (*contractCall, error) {
	if req.Mode != txbuild.ModeDeny {
		return nil, fmt.Errorf("unsupported post-condition mode %q", req.Mode)
	}
	tx := &contractCall{
		signer:     signer,
		nonce:      nonce,
		fee:        fee,
		conditions: req.Conditions,
		contract:   req.Contract,
		function:   string(req.Action),
		args:       req.Args,
	}
	switch req.Network {
	case "mainnet":
		tx.mainnet = true
	case "testnet":
	default:
		return nil, fmt.Errorf("unknown network %q", req.Network)
	}
	return tx, nil
}

func (tx *contractCall) serialize() ([]byte, error) {
	version, chainID := txVersionTestnet, chainIDTestnet
	if tx.mainnet {
		version, chainID = txVersionMainnet, chainIDMainnet
	}
	if len(tx.signer) != 20 {
		return nil, fmt.Errorf("signer hash is %d bytes", len(tx.signer))
	}

	out := []byte{version}
	out = binary.BigEndian.AppendUint32(out, chainID)
	out = append(out, authStandard, hashModeP2PKH)
	out = append(out, tx.signer...)
	out = binary.BigEndian.AppendUint64(out, tx.nonce)
	out = binary.BigEndian.AppendUint64(out, tx.fee)
	out = append(out, keyCompressed)
	out = append(out, tx.signature[:]...)
	out = append(out, anchorAny, postConditionDeny)

	var err error
	out = binary.BigEndian.AppendUint32(out, uint32(len(tx.conditions)))
	for i, c := range tx.conditions {
		if out, err = appendCondition(out, c); err != nil {
			return nil, fmt.Errorf("post-condition %d: %w", i, err)
		}
	}

	out = append(out, payloadContractCall)
	if out, err = appendAddress(out, tx.contract.Address); err != nil {
		return nil, err
	}
	if out, err = appendName(out, tx.contract.Name); err != nil {
		return nil, err
	}
	if out, err = appendName(out, tx.function); err != nil {
		return nil, err
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(tx.args)))
	for i, a := range tx.args {
		enc, err := chainvalue.Encode(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, enc...)
	}
	return out, nil
}

// sigHash is what the key signs: the id of the transaction with its
// spending condition cleared, rehashed with auth type, fee and nonce.
func (tx *contractCall) sigHash() ([]byte, error) {
	cleared := *tx
	cleared.nonce, cleared.fee = 0, 0
	cleared.signature = [sigLen]byte{}
	raw, err := cleared.serialize()
	if err != nil {
		return nil, err
	}
	initial := sha512.Sum512_256(raw)

	buf := make([]byte, 0, len(initial)+17)
	buf = append(buf, initial[:]...)
	buf = append(buf, authStandard)
	buf = binary.BigEndian.AppendUint64(buf, tx.fee)
	buf = binary.BigEndian.AppendUint64(buf, tx.nonce)
	sum := sha512.Sum512_256(buf)
	return sum[:], nil
}

// transactionID is the id a node assigns to raw.
func transactionID(raw []byte) string {
	sum := sha512.Sum512_256(raw)
	return "0x" + hex.EncodeToString(sum[:])
}

func appendCondition(out []byte, c txbuild.AssetCondition) ([]byte, error) {
	if c.Comparator != txbuild.Eq {
		return nil, fmt.Errorf("unsupported comparator %q", c.Comparator)
	}
	if c.Amount == nil || c.Amount.Sign() < 0 || !c.Amount.IsUint64() {
		return nil, fmt.Errorf("amount %v out of range", c.Amount)
	}
	asset, err := stacks.ParseContract(c.Asset.Contract)
	if err != nil {
		return nil, err
	}

	out = append(out, postConditionFT)
	if out, err = appendPrincipal(out, c.Principal); err != nil {
		return nil, err
	}
	if out, err = appendAddress(out, asset.Address); err != nil {
		return nil, err
	}
	if out, err = appendName(out, asset.Name); err != nil {
		return nil, err
	}
	if out, err = appendName(out, c.Asset.Name); err != nil {
		return nil, err
	}
	out = append(out, conditionSentEq)
	return binary.BigEndian.AppendUint64(out, c.Amount.Uint64()), nil
}

func appendPrincipal(out []byte, p string) ([]byte, error) {
	version, hash, contract, err := chainvalue.ParsePrincipal(p)
	if err != nil {
		return nil, err
	}
	if contract == "" {
		out = append(out, principalStandard, version)
		return append(out, hash...), nil
	}
	out = append(out, principalContract, version)
	out = append(out, hash...)
	return appendName(out, contract)
}

func appendAddress(out []byte, addr string) ([]byte, error) {
	version, hash, err := chainvalue.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	out = append(out, version)
	return append(out, hash...), nil
}

func appendName(out []byte, name string) ([]byte, error) {
	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("name %q must be 1 to %d bytes", name, maxNameLen)
	}
	out = append(out, byte(len(name)))
	return append(out, name...), nil
}
