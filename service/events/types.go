package events

import (
	"time"

	"github.com/solwatch/solwatch/service/ledger"
)

// TransferEvent is the payload published to JetStream for each newly
// persisted transfer record, on the subject "transfers.{watch_address}".
type TransferEvent struct {
	Signature     string `json:"signature"`
	Sender        string `json:"sender"`
	Receiver      string `json:"receiver"`
	Amount        uint64 `json:"sol_amount"`
	Fee           uint64 `json:"fee"`
	Timestamp     int64  `json:"timestamp"`
	PrevBlockHash string `json:"prev_blockhash"`

	PublishedAt time.Time `json:"published_at"`
}

// FromRecord converts a persisted transfer record to a TransferEvent.
func FromRecord(rec ledger.TransferRecord) *TransferEvent {
	return &TransferEvent{
		Signature:     rec.Signature,
		Sender:        rec.Sender,
		Receiver:      rec.Receiver,
		Amount:        rec.Amount,
		Fee:           rec.Fee,
		Timestamp:     rec.Timestamp,
		PrevBlockHash: rec.PrevBlockHash,
		PublishedAt:   time.Now().UTC(),
	}
}
