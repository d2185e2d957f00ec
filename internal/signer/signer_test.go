package signer

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"trustwork/internal/chainvalue"
	"trustwork/internal/stacks"
	"trustwork/internal/txbuild"
)

const (
	poster = "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ"
	token  = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.usdcx"
)

var marketplace = stacks.Contract{Address: "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A", Name: "trustwork-marketplace-v10"}

// fakeNode hands out a fixed nonce and records what is broadcast.
type fakeNode struct {
	nonce    uint64
	nonceErr error
	err      error
	txs      [][]byte
}

func (n *fakeNode) Nonce(context.Context, string) (uint64, error) {
	return n.nonce, n.nonceErr
}

func (n *fakeNode) Broadcast(_ context.Context, tx []byte) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	n.txs = append(n.txs, tx)
	return transactionID(tx), nil
}

func cancelJob(actor string) *txbuild.SubmissionRequest {
	return &txbuild.SubmissionRequest{
		Contract: marketplace,
		Action:   txbuild.CancelJob,
		Actor:    actor,
		Args:     []chainvalue.Value{chainvalue.Uint64(7)},
		Mode:     txbuild.ModeDeny,
		Network:  "testnet",
	}
}

func submitBid(t *testing.T, actor string) *txbuild.SubmissionRequest {
	t.Helper()
	asset, err := txbuild.ParseAsset(token)
	require.NoError(t, err)
	b := txbuild.Builder{Marketplace: marketplace, Asset: asset, Network: "testnet"}
	amount := big.NewInt(2_500_000)
	conds, err := b.RequiredConditions(txbuild.SubmitBid, actor, amount)
	require.NoError(t, err)
	req, err := b.Build(txbuild.SubmitBid, actor, []chainvalue.Value{chainvalue.Uint64(3), chainvalue.Uint(amount), chainvalue.StringUTF8("on it")}, conds)
	require.NoError(t, err)
	return req
}

func newTestSigner(t *testing.T, node Node) *KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewKeySigner(KeySignerConfig{PrivateKeyHex: "0x" + hex.EncodeToString(crypto.FromECDSA(key))}, node)
	require.NoError(t, err)
	return s
}

// cursor walks a serialized transaction.
type cursor struct {
	t   *testing.T
	buf []byte
}

func (c *cursor) next(n int) []byte {
	require.GreaterOrEqual(c.t, len(c.buf), n)
	out := c.buf[:n]
	c.buf = c.buf[n:]
	return out
}

func (c *cursor) u8() byte { return c.next(1)[0] }
func (c *cursor) u32() uint32 { return binary.BigEndian.Uint32(c.next(4)) }
func (c *cursor) u64() uint64 { return binary.BigEndian.Uint64(c.next(8)) }
func (c *cursor) name() string { return string(c.next(int(c.u8()))) }
func (c *cursor) address() []byte { return c.next(21) }

func TestFakeSignerIsDeterministic(t *testing.T) {
	req := cancelJob(poster)
	first, err := FakeSigner{}.Sign(context.Background(), req)
	require.NoError(t, err)
	second, err := FakeSigner{}.Sign(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 66)

	other := cancelJob(poster)
	other.Args = []chainvalue.Value{chainvalue.Uint64(8)}
	third, err := FakeSigner{}.Sign(context.Background(), other)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

func TestFakeSignerDecline(t *testing.T) {
	_, err := FakeSigner{Decline: true}.Sign(context.Background(), cancelJob(poster))
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, txbuild.ErrCancelled)
}

func TestKeySignerAddress(t *testing.T) {
	s := newTestSigner(t, &fakeNode{})
	version, hash, err := chainvalue.ParseAddress(s.Address())
	require.NoError(t, err)
	require.Equal(t, chainvalue.VersionTestnetSingleSig, version)
	require.Equal(t, s.hash, hash)
	require.Equal(t, "ST", s.Address()[:2])

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	mainnet, err := NewKeySigner(KeySignerConfig{PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)) + "01", Mainnet: true}, &fakeNode{})
	require.NoError(t, err)
	require.Equal(t, "SP", mainnet.Address()[:2])
}

func TestKeySignerBroadcastsContractCall(t *testing.T) {
	node := &fakeNode{nonce: 5}
	s := newTestSigner(t, node)
	req := submitBid(t, s.Address())

	txID, err := s.Sign(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, node.txs, 1)
	raw := node.txs[0]
	require.Equal(t, transactionID(raw), txID)

	c := &cursor{t: t, buf: raw}
	require.Equal(t, txVersionTestnet, c.u8())
	require.Equal(t, chainIDTestnet, c.u32())
	require.Equal(t, authStandard, c.u8())
	require.Equal(t, hashModeP2PKH, c.u8())
	require.Equal(t, s.hash, c.next(20))
	require.Equal(t, uint64(5), c.u64())
	require.Equal(t, uint64(DefaultFee), c.u64())
	require.Equal(t, keyCompressed, c.u8())
	vrs := c.next(sigLen)
	require.Equal(t, anchorAny, c.u8())
	require.Equal(t, postConditionDeny, c.u8())

	require.Equal(t, uint32(1), c.u32())
	require.Equal(t, postConditionFT, c.u8())
	require.Equal(t, principalStandard, c.u8())
	require.Equal(t, append([]byte{chainvalue.VersionTestnetSingleSig}, s.hash...), c.address())
	_, tokenHash, err := chainvalue.ParseAddress("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM")
	require.NoError(t, err)
	require.Equal(t, append([]byte{chainvalue.VersionTestnetSingleSig}, tokenHash...), c.address())
	require.Equal(t, "usdcx", c.name())
	require.Equal(t, "usdcx", c.name())
	require.Equal(t, conditionSentEq, c.u8())
	require.Equal(t, uint64(2_500_000), c.u64())

	require.Equal(t, payloadContractCall, c.u8())
	c.address()
	require.Equal(t, marketplace.Name, c.name())
	require.Equal(t, "submit-bid", c.name())
	require.Equal(t, uint32(3), c.u32())
	for _, arg := range req.Args {
		enc, err := chainvalue.Encode(arg)
		require.NoError(t, err)
		require.Equal(t, enc, c.next(len(enc)))
	}
	require.Empty(t, c.buf)

	// The signature recovers to the signer's key over the presign hash.
	tx, err := newContractCall(req, s.hash, 5, DefaultFee)
	require.NoError(t, err)
	digest, err := tx.sigHash()
	require.NoError(t, err)
	sig := append(append([]byte{}, vrs[1:]...), vrs[0])
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	require.Equal(t, crypto.CompressPubkey(&s.key.PublicKey), crypto.CompressPubkey(pub))
}

func TestSigHashIgnoresSignatureButNotFee(t *testing.T) {
	req := cancelJob(poster)
	_, hash, err := chainvalue.ParseAddress(poster)
	require.NoError(t, err)

	a, err := newContractCall(req, hash, 1, 300)
	require.NoError(t, err)
	before, err := a.sigHash()
	require.NoError(t, err)
	a.signature[3] = 0xff
	after, err := a.sigHash()
	require.NoError(t, err)
	require.Equal(t, before, after)

	b, err := newContractCall(req, hash, 1, 301)
	require.NoError(t, err)
	other, err := b.sigHash()
	require.NoError(t, err)
	require.NotEqual(t, before, other)
}

func TestContractCallRejectsUnencodable(t *testing.T) {
	_, hash, err := chainvalue.ParseAddress(poster)
	require.NoError(t, err)

	req := cancelJob(poster)
	req.Network = "regtest"
	_, err = newContractCall(req, hash, 0, 1)
	require.Error(t, err)

	req = cancelJob(poster)
	req.Mode = "allow"
	_, err = newContractCall(req, hash, 0, 1)
	require.Error(t, err)

	req = submitBid(t, poster)
	req.Conditions[0].Amount = new(big.Int).Lsh(big.NewInt(1), 64)
	tx, err := newContractCall(req, hash, 0, 1)
	require.NoError(t, err)
	_, err = tx.serialize()
	require.ErrorContains(t, err, "post-condition 0")
}

func TestKeySignerRejectsForeignActor(t *testing.T) {
	node := &fakeNode{}
	s := newTestSigner(t, node)
	_, err := s.Sign(context.Background(), cancelJob(poster))
	require.Error(t, err)
	require.Empty(t, node.txs)
}

func TestKeySignerNodeFailures(t *testing.T) {
	s := newTestSigner(t, &fakeNode{nonceErr: errors.New("node down")})
	_, err := s.Sign(context.Background(), cancelJob(s.Address()))
	require.ErrorContains(t, err, "nonce")
	require.NotErrorIs(t, err, txbuild.ErrBroadcastFailed)

	s = newTestSigner(t, &fakeNode{err: errors.New("node returned 400")})
	_, err = s.Sign(context.Background(), cancelJob(s.Address()))
	require.ErrorIs(t, err, txbuild.ErrBroadcastFailed)
}

func TestKeySignerThroughBuilder(t *testing.T) {
	s := newTestSigner(t, &fakeNode{err: errors.New("mempool full")})
	b := txbuild.Builder{Marketplace: marketplace, Network: "testnet"}
	req, err := b.Build(txbuild.CancelJob, s.Address(), []chainvalue.Value{chainvalue.Uint64(7)}, nil)
	require.NoError(t, err)

	_, err = b.Submit(context.Background(), req, s)
	require.Equal(t, txbuild.BroadcastFailed, txbuild.KindOf(err))

	res, err := b.Submit(context.Background(), req, FakeSigner{Decline: true})
	require.NoError(t, err)
	require.Equal(t, txbuild.Cancelled, res.Outcome)
}

func TestNewKeySignerValidation(t *testing.T) {
	_, err := NewKeySigner(KeySignerConfig{}, &fakeNode{})
	require.Error(t, err)
	_, err = NewKeySigner(KeySignerConfig{PrivateKeyHex: "zz"}, &fakeNode{})
	require.Error(t, err)
	_, err = NewKeySigner(KeySignerConfig{PrivateKeyHex: "0x01"}, nil)
	require.Error(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewKeySigner(KeySignerConfig{PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)), Fee: 180}, &fakeNode{})
	require.NoError(t, err)
	require.Equal(t, uint64(180), s.fee)
}
