package ledger

// TransferRecord is the canonical unit of data in the pipeline: one value
// transfer observed on the ledger, extracted from a raw transaction.
//
// A record is constructed transiently by the parser, validated once, and
// written (logically) exactly once into the store, keyed by Signature.
// Nothing mutates a record after persistence.
//
// The JSON keys are the service's public wire format and must stay stable.
type TransferRecord struct {
	Signature     string `json:"signature"`
	Sender        string `json:"sender"`
	Receiver      string `json:"receiver"`
	Amount        uint64 `json:"sol_amount"`
	Fee           uint64 `json:"fee"`
	Timestamp     int64  `json:"timestamp"`
	PrevBlockHash string `json:"prev_blockhash"`
}
