package p2pk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/nut10"
)

var (
	// ErrWrongKey is returned when a proof is locked to a key other than the signer's.
	ErrWrongKey = errors.New("p2pk: proof locked to a different key")

	// ErrBadSignature is returned when a witness signature does not verify.
	ErrBadSignature = errors.New("p2pk: invalid witness signature")
)

// SignProofs returns a copy of proofs where every P2PK-locked proof
// carries a Schnorr signature over SHA-256 of its secret. Unlocked proofs
// are copied unchanged.
func SignProofs(proofs []cashu.Proof, privHex string) ([]cashu.Proof, error) {
	priv, err := ParsePrivateKey(privHex)
	if err != nil {
		return nil, err
	}
	own := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	out := make([]cashu.Proof, len(proofs))
	for i, p := range proofs {
		out[i] = p
		if !p.Locked() {
			continue
		}
		cond, err := nut10.ParseP2PK(p.Secret)
		if err != nil {
			return nil, fmt.Errorf("p2pk: proof %d: %w", i, err)
		}
		if !sameKey(cond.Pubkey, own) {
			return nil, fmt.Errorf("%w: proof %d", ErrWrongKey, i)
		}
		digest := sha256.Sum256([]byte(p.Secret))
		sig, err := schnorr.Sign(priv, digest[:])
		if err != nil {
			return nil, fmt.Errorf("p2pk: sign proof %d: %w", i, err)
		}
		out[i].Witness = &cashu.Witness{Signatures: []string{hex.EncodeToString(sig.Serialize())}}
	}
	return out, nil
}

// VerifyWitness checks that a locked proof carries a valid signature by
// the key in its secret.
func VerifyWitness(p cashu.Proof) error {
	cond, err := nut10.ParseP2PK(p.Secret)
	if err != nil {
		return err
	}
	if p.Witness == nil || len(p.Witness.Signatures) == 0 {
		return fmt.Errorf("%w: no signature", ErrBadSignature)
	}
	pubBytes, err := hex.DecodeString(nut10.NormalizePubkey(cond.Pubkey))
	if err != nil {
		return fmt.Errorf("p2pk: decode pubkey: %w", err)
	}
	pub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("p2pk: parse pubkey: %w", err)
	}
	digest := sha256.Sum256([]byte(p.Secret))
	for _, s := range p.Witness.Signatures {
		raw, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		sig, err := schnorr.ParseSignature(raw)
		if err != nil {
			continue
		}
		if sig.Verify(digest[:], pub) {
			return nil
		}
	}
	return ErrBadSignature
}

// sameKey compares public keys by their x coordinate.
func sameKey(a, b string) bool {
	a, b = nut10.NormalizePubkey(a), nut10.NormalizePubkey(b)
	if len(a) != 66 || len(b) != 66 {
		return a == b
	}
	return a[2:] == b[2:]
}
