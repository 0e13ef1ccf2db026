package ledger

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jellydator/validation"
)

// EncodedKeyLength is the length of a base58-encoded 32-byte value
// (public key or block hash) on the ledger we monitor.
const EncodedKeyLength = 44

// encodedKeyRegexp matches addresses and block hashes: base58 alphabet
// (no 0, O, I, l) at exactly EncodedKeyLength characters.
var encodedKeyRegexp = regexp.MustCompile(
	fmt.Sprintf(`^[1-9A-HJ-NP-Za-km-z]{%d}$`, EncodedKeyLength),
)

// Validate applies the domain rules to a parsed record. The returned error
// reports every failing field, so a rejection can be diagnosed precisely,
// but callers in the pipeline only care whether it is nil.
func (r TransferRecord) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Signature, validation.Required),
		validation.Field(&r.Sender,
			validation.Required,
			validation.Match(encodedKeyRegexp).Error("must be a valid address"),
		),
		validation.Field(&r.Receiver,
			validation.Required,
			validation.Match(encodedKeyRegexp).Error("must be a valid address"),
			validation.By(func(any) error {
				if r.Receiver == r.Sender {
					return errors.New("must differ from sender")
				}
				return nil
			}),
		),
		validation.Field(&r.Amount,
			validation.Required.Error("must be positive"),
		),
		validation.Field(&r.Fee,
			validation.Required.Error("must be positive"),
		),
		validation.Field(&r.Timestamp,
			validation.Min(int64(0)).Error("cannot be negative"),
		),
		validation.Field(&r.PrevBlockHash,
			validation.Required,
			validation.Match(encodedKeyRegexp).Error("must be a valid block hash"),
		),
	)
}

// IsValid is the pipeline's binary contract: a record failing any rule is
// dropped from the output set without raising a pipeline-level error.
func (r TransferRecord) IsValid() bool {
	return r.Validate() == nil
}
