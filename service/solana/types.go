package solana

// RawTransaction is the ledger-native transaction payload at the system
// boundary. It is deliberately loose: the node may return the message in an
// opaque encoded form (Message == nil) or omit execution metadata
// (Meta == nil), and the parser fails closed on anything it does not
// explicitly support.
type RawTransaction struct {
	// Signatures is the transaction's signature list; the first entry is
	// the transaction identifier.
	Signatures []string

	// Message is the structurally decoded message, or nil when the payload
	// could not be decoded out of its wire encoding.
	Message *DecodedMessage

	// Meta is the execution metadata (fee and balance snapshots), or nil
	// when the node did not return it.
	Meta *TransactionMeta

	// BlockTime is the block production time in Unix seconds, or nil when
	// the node does not report one.
	BlockTime *int64
}

// DecodedMessage is the decoded transaction message.
type DecodedMessage struct {
	// AccountKeys lists the accounts referenced by the transaction, fee
	// payer first.
	AccountKeys []string

	// RecentBlockHash is the hash of the block the transaction referenced
	// for freshness.
	RecentBlockHash string
}

// TransactionMeta carries the balance snapshot taken before and after
// execution, indexed in lockstep with the message's account keys, plus the
// network fee charged.
type TransactionMeta struct {
	Fee          uint64
	PreBalances  []uint64
	PostBalances []uint64
}
