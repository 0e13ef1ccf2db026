package solana

import (
	"github.com/solwatch/solwatch/service/ledger"
)

// ParseTransfer converts one raw ledger transaction into a TransferRecord,
// or returns nil when the payload is unusable. It is pure: any unresolvable
// case yields nil and the caller decides how to surface it.
//
// Field conventions:
//   - sender is the first entry of the account-key list (the fee payer),
//     receiver the last. A single-entry list makes them equal; that is the
//     validator's problem, not ours.
//   - amount is the receiver's balance delta: postBalances[i]-preBalances[i]
//     at the receiver's index in the account-key list. The receiver's delta
//     is the credited value and is non-negative for an inbound transfer; a
//     zero or negative delta parses as 0 and is rejected downstream.
//   - timestamp falls back to 0 when the node reports no block time.
func ParseTransfer(raw *RawTransaction) *ledger.TransferRecord {
	if raw == nil {
		return nil
	}

	// The message must be in structurally decoded form; an opaque encoded
	// payload cannot be parsed.
	msg := raw.Message
	if msg == nil || len(msg.AccountKeys) == 0 {
		return nil
	}

	sender := msg.AccountKeys[0]
	receiver := msg.AccountKeys[len(msg.AccountKeys)-1]

	meta := raw.Meta
	if meta == nil {
		return nil
	}

	receiverIndex := len(msg.AccountKeys) - 1
	var amount uint64
	if receiverIndex < len(meta.PreBalances) && receiverIndex < len(meta.PostBalances) {
		pre := meta.PreBalances[receiverIndex]
		post := meta.PostBalances[receiverIndex]
		if post > pre {
			amount = post - pre
		}
	}

	var timestamp int64
	if raw.BlockTime != nil {
		timestamp = *raw.BlockTime
	}

	if len(raw.Signatures) == 0 {
		return nil
	}

	return &ledger.TransferRecord{
		Signature:     raw.Signatures[0],
		Sender:        sender,
		Receiver:      receiver,
		Amount:        amount,
		Fee:           meta.Fee,
		Timestamp:     timestamp,
		PrevBlockHash: msg.RecentBlockHash,
	}
}
