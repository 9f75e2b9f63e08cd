// Package completion derives envelope progress from the set of signing
// parties. The rules are pure so the storage layer can re-run them inside
// a transaction and agree with the orchestrator.
package completion

import (
	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/party"
)

// Progress summarizes signer state for an envelope.
type Progress struct {
	TotalSigners    int
	SignedSigners   int
	DeclinedSigners int
}

// Measure counts signer parties by outcome. Viewers never affect progress.
func Measure(parties []party.Party) Progress {
	var p Progress
	for _, member := range parties {
		if member.Role != party.RoleSigner {
			continue
		}
		p.TotalSigners++
		switch member.Status {
		case party.StatusSigned:
			p.SignedSigners++
		case party.StatusDeclined:
			p.DeclinedSigners++
		}
	}
	return p
}

// Complete reports whether every signer has signed. An envelope with no
// signers can never complete.
func (p Progress) Complete() bool {
	return p.TotalSigners > 0 && p.SignedSigners == p.TotalSigners
}

// NextStatus returns the envelope status implied by signer progress once an
// envelope has been sent. A single decline halts the whole envelope;
// otherwise the envelope is completed when all signers have signed, in
// progress when some have, and sent when none have.
func NextStatus(parties []party.Party) envelope.Status {
	p := Measure(parties)
	switch {
	case p.DeclinedSigners > 0:
		return envelope.StatusDeclined
	case p.Complete():
		return envelope.StatusCompleted
	case p.SignedSigners > 0:
		return envelope.StatusInProgress
	default:
		return envelope.StatusSent
	}
}
