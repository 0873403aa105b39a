// Package cashu defines the ecash proof and token model shared by the
// builder, the ledgers and the redeemers, along with the token codec.
package cashu

import (
	"errors"

	"github.com/flemzord/nutsub/internal/nut10"
)

// DefaultUnit is used when a token does not name its unit.
const DefaultUnit = "sat"

// ErrAlreadySpent is returned by mint wallets when the proofs of a token
// have already been spent. Redeemers treat it as a completed claim.
var ErrAlreadySpent = errors.New("cashu: token already spent")

// Proof is a spendable ecash unit recognised by a mint.
type Proof struct {
	ID      string   `json:"id"`
	Amount  uint64   `json:"amount"`
	Secret  string   `json:"secret"`
	C       string   `json:"C"`
	Witness *Witness `json:"witness,omitempty"`
}

// Witness carries the signatures unlocking a P2PK proof.
type Witness struct {
	Signatures []string `json:"signatures"`
}

// Locked reports whether the proof carries a P2PK spend condition.
func (p Proof) Locked() bool {
	return nut10.IsP2PK(p.Secret)
}

// SumProofs returns the total amount of the proofs.
func SumProofs(proofs []Proof) uint64 {
	var total uint64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

// NeedsSignature reports whether any proof requires a P2PK signature.
func NeedsSignature(proofs []Proof) bool {
	for _, p := range proofs {
		if p.Locked() {
			return true
		}
	}
	return false
}
