// Package identity implements the cryptographic identity ABI described in
// spec §6: derive a synthetic key, standard puzzle and puzzle hash from a
// private key, sign and partial-sign, verify, and aggregate signatures and
// public keys.
//
// It is backed by BLS over the BN256 pairing, the same kyber ecosystem the
// teacher repo already depends on for its discrete-log proofs and card
// encryption (common/zka.go, deck/deck.go) — sign/bls is that ecosystem's
// purpose-built signature scheme, used here in place of the teacher's
// crypto/ed25519 signing because the protocol needs signature and
// public-key aggregation.
package identity

import (
	"crypto/rand"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"

	"github.com/chia-gaming/channel-core/chiatypes"
)

// Suite is the pairing suite used for every BLS operation in this module.
// It is a package-level value rather than a per-call parameter because
// every peer in a channel must agree on the same curve.
var Suite pairing.Suite = bn256.NewSuite()

// PrivateKey, PublicKey and Signature wrap kyber's scalar/point/byte-slice
// representations so callers never import kyber directly.
type PrivateKey struct{ Scalar kyber.Scalar }
type PublicKey struct{ Point kyber.Point }
type Signature struct{ Bytes []byte }

// GeneratePrivateKey draws a fresh BLS private key using the system's
// entropy source (crypto/rand via kyber's random stream helper).
func GeneratePrivateKey() PrivateKey {
	sk, _ := bls.NewKeyPair(Suite, random.New(rand.Reader))
	return PrivateKey{Scalar: sk}
}

// Public derives the public key corresponding to sk.
func (sk PrivateKey) Public() PublicKey {
	return PublicKey{Point: Suite.G2().Point().Mul(sk.Scalar, nil)}
}

// Add implements private-key aggregation (used when combining channel and
// synthetic offsets).
func (sk PrivateKey) Add(other PrivateKey) PrivateKey {
	return PrivateKey{Scalar: Suite.G2().Scalar().Add(sk.Scalar, other.Scalar)}
}

// Add implements public-key aggregation, e.g. combining both peers' channel
// public keys into the 2-of-2 channel identity.
func (pk PublicKey) Add(other PublicKey) PublicKey {
	return PublicKey{Point: Suite.G2().Point().Add(pk.Point, other.Point)}
}

func (pk PublicKey) Bytes() []byte {
	b, _ := pk.Point.MarshalBinary()
	return b
}

func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.Point.Equal(other.Point)
}

// syntheticOffset derives the scalar offset that binds a public key to the
// standard puzzle's hidden-puzzle root, following the standard Chia wallet
// construction: offset = H(public_key || hidden_puzzle_hash) reduced into
// the scalar field.
func syntheticOffset(pk PublicKey, hiddenPuzzleHash chiatypes.Hash) kyber.Scalar {
	h := chiatypes.HashConcat(pk.Bytes(), hiddenPuzzleHash.Bytes())
	s := Suite.G2().Scalar()
	if err := s.UnmarshalBinary(h.Bytes()); err != nil {
		// On failure the scalar is reset to zero and the same hash bytes
		// are unmarshalled once more, ignoring a second error; no padding,
		// truncation or reduction is applied.
		s.SetInt64(0)
		_ = s.UnmarshalBinary(h.Bytes())
	}
	return s
}

// DefaultHiddenPuzzleHash is the well-known hidden puzzle (always-fail)
// root used when an application does not supply its own, matching the
// standard Chia wallet convention of a fixed default hidden puzzle.
var DefaultHiddenPuzzleHash = chiatypes.HashBytes([]byte("chia-gaming/default-hidden-puzzle"))

// Identity bundles a private key with everything derived from it: the
// synthetic private/public key pair and the puzzle hash of the standard
// puzzle that key controls. It is immutable once constructed.
type Identity struct {
	PrivateKey          PrivateKey
	PublicKey           PublicKey
	SyntheticPrivateKey PrivateKey
	SyntheticPublicKey  PublicKey
	PuzzleHash          chiatypes.PuzzleHash
}

// NewIdentity derives a full Identity from a private key and a hidden
// puzzle hash (pass identity.DefaultHiddenPuzzleHash unless the
// application has its own recovery puzzle).
func NewIdentity(sk PrivateKey, hiddenPuzzleHash chiatypes.Hash) Identity {
	pk := sk.Public()
	offset := syntheticOffset(pk, hiddenPuzzleHash)
	syntheticSK := PrivateKey{Scalar: Suite.G2().Scalar().Add(sk.Scalar, offset)}
	syntheticPK := syntheticSK.Public()
	ph := StandardPuzzleHash(syntheticPK, hiddenPuzzleHash)
	return Identity{
		PrivateKey:          sk,
		PublicKey:           pk,
		SyntheticPrivateKey: syntheticSK,
		SyntheticPublicKey:  syntheticPK,
		PuzzleHash:          ph,
	}
}

// StandardPuzzleHash computes the tree hash of the standard puzzle curried
// with the synthetic public key and hidden puzzle hash. The standard
// puzzle's source is an opaque compiled artifact (out of scope here); only
// its curried tree hash matters to this protocol.
func StandardPuzzleHash(syntheticPK PublicKey, hiddenPuzzleHash chiatypes.Hash) chiatypes.PuzzleHash {
	return chiatypes.PuzzleHash(chiatypes.HashConcat(
		[]byte("standard-puzzle"),
		syntheticPK.Bytes(),
		hiddenPuzzleHash.Bytes(),
	))
}

// aggSigMeDomain is the global additional-data hash mixed into every
// AGG_SIG_ME message, binding a signature to this protocol instance.
var aggSigMeDomain = chiatypes.HashBytes([]byte("chia-gaming/AGG_SIG_ME"))

// AggSigMeMessage builds the message an AGG_SIG_ME signature actually
// covers: the conditions hash, the coin id, and the domain separator.
func AggSigMeMessage(coinID chiatypes.CoinID, conditionsHash chiatypes.Hash) []byte {
	return chiatypes.HashConcat(conditionsHash.Bytes(), coinID.Bytes(), aggSigMeDomain.Bytes()).Bytes()
}

// Sign produces an AGG_SIG_ME signature: the coin id and global domain hash
// are folded into the message before signing.
func Sign(sk PrivateKey, coinID chiatypes.CoinID, conditionsHash chiatypes.Hash) (Signature, error) {
	sig, err := bls.Sign(Suite, sk.Scalar, AggSigMeMessage(coinID, conditionsHash))
	if err != nil {
		return Signature{}, fmt.Errorf("bls sign: %w", err)
	}
	return Signature{Bytes: sig}, nil
}

// UnsafeSignPartial signs a raw message with no AGG_SIG_ME domain prefix.
// This is used exclusively for the unroll coin's conditions signature,
// where the coin's identity is already implicit in the curried unroll
// puzzle and the message is the conditions hash itself.
func UnsafeSignPartial(sk PrivateKey, message []byte) (Signature, error) {
	sig, err := bls.Sign(Suite, sk.Scalar, message)
	if err != nil {
		return Signature{}, fmt.Errorf("bls unsafe sign: %w", err)
	}
	return Signature{Bytes: sig}, nil
}

// Aggregate combines multiple signatures over (possibly different)
// messages into one, as BLS allows.
func Aggregate(sigs ...Signature) (Signature, error) {
	raw := make([][]byte, len(sigs))
	for i, s := range sigs {
		raw[i] = s.Bytes
	}
	agg, err := bls.AggregateSignatures(Suite, raw...)
	if err != nil {
		return Signature{}, fmt.Errorf("bls aggregate signatures: %w", err)
	}
	return Signature{Bytes: agg}, nil
}

// AggregatePublicKeys combines multiple public keys, e.g. to build the
// channel coin's 2-of-2 aggregate public key.
func AggregatePublicKeys(pks ...PublicKey) PublicKey {
	pts := make([]kyber.Point, len(pks))
	for i, pk := range pks {
		pts[i] = pk.Point
	}
	return PublicKey{Point: bls.AggregatePublicKeys(Suite, pts...)}
}

// Verify checks an AGG_SIG_ME signature against the aggregate public key
// expected to have produced it.
func Verify(pk PublicKey, coinID chiatypes.CoinID, conditionsHash chiatypes.Hash, sig Signature) bool {
	return bls.Verify(Suite, pk.Point, AggSigMeMessage(coinID, conditionsHash), sig.Bytes) == nil
}

// VerifyUnsafe checks a raw (non-AGG_SIG_ME) signature, as used for unroll
// coin conditions.
func VerifyUnsafe(pk PublicKey, message []byte, sig Signature) bool {
	return bls.Verify(Suite, pk.Point, message, sig.Bytes) == nil
}
