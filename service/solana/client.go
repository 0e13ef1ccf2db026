package solana

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/solwatch/solwatch/service/metrics"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client wraps the RPC layer with the two domain operations the pipeline
// needs: cheap signature listing and expensive full-record fetch. Keeping
// them separate lets the poller bound per-cycle work by the signature count.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics labels
}

// NewClient creates a new Solana client. The endpoint parameter is used for
// metrics labeling (e.g. "mainnet", "devnet", or the RPC hostname). If
// metrics is nil, no metrics are recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// FetchRecentSignatures returns up to limit signatures of the most recent
// transactions involving address, newest first. A transport or RPC failure
// is returned as-is; the caller decides whether the cycle survives it.
func (c *Client) FetchRecentSignatures(ctx context.Context, address solana.PublicKey, limit int) ([]solana.Signature, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}

	start := time.Now()
	infos, err := c.rpc.GetSignaturesForAddress(ctx, address, opts)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("GetSignaturesForAddress", status, c.endpoint, duration)
	}
	if err != nil {
		return nil, err
	}

	sigs := make([]solana.Signature, 0, len(infos))
	for _, info := range infos {
		sigs = append(sigs, info.Signature)
	}

	c.logger.DebugContext(ctx, "fetched recent signatures",
		"address", address.String(),
		"limit", limit,
		"count", len(sigs),
	)
	return sigs, nil
}

// FetchTransaction fetches one transaction's full record and converts it to
// the domain RawTransaction. A node that cannot locate the transaction
// yields (nil, nil): absent is a skip for the caller, not a failure.
//
// Rate limiting (429) and transient errors are retried with bounded
// exponential backoff; public RPC endpoints are kept to 3 attempts.
func (c *Client) FetchTransaction(ctx context.Context, sig solana.Signature) (*RawTransaction, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var result *rpc.GetTransactionResult
	var err error

	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		result, err = c.rpc.GetTransaction(ctx, sig, opts)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall("GetTransaction", status, c.endpoint, duration)
		}

		if err == nil {
			break
		}
		if errors.Is(err, rpc.ErrNotFound) {
			// The node cannot locate the transaction (pruned or not yet
			// propagated). Absent, not an error.
			c.logger.DebugContext(ctx, "transaction not found on node",
				"signature", sig.String(),
			)
			return nil, nil
		}

		if attempt == maxAttempts-1 {
			break
		}

		if strings.Contains(err.Error(), "429") {
			backoff := time.Duration(2<<uint(attempt)) * time.Second
			c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
				"signature", sig.String(),
				"attempt", attempt+1,
				"backoff_seconds", backoff.Seconds(),
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry("GetTransaction", "rate_limit")
			}
			time.Sleep(backoff)
			continue
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		c.logger.WarnContext(ctx, "failed to get transaction on attempt",
			"signature", sig.String(),
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("GetTransaction", "timeout_or_error")
		}
		time.Sleep(backoff)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	return rawFromResult(sig, result), nil
}

// rawFromResult converts an RPC result into the domain RawTransaction.
// A payload that cannot be decoded out of its wire encoding is carried
// forward with a nil Message so the parser can fail closed on it.
func rawFromResult(sig solana.Signature, result *rpc.GetTransactionResult) *RawTransaction {
	raw := &RawTransaction{}

	if result.BlockTime != nil {
		bt := int64(*result.BlockTime)
		raw.BlockTime = &bt
	}

	if result.Meta != nil {
		raw.Meta = &TransactionMeta{
			Fee:          result.Meta.Fee,
			PreBalances:  result.Meta.PreBalances,
			PostBalances: result.Meta.PostBalances,
		}
	}

	if result.Transaction != nil {
		if tx, err := result.Transaction.GetTransaction(); err == nil && tx != nil {
			keys := make([]string, 0, len(tx.Message.AccountKeys))
			for _, key := range tx.Message.AccountKeys {
				keys = append(keys, key.String())
			}
			raw.Message = &DecodedMessage{
				AccountKeys:     keys,
				RecentBlockHash: tx.Message.RecentBlockhash.String(),
			}
			for _, s := range tx.Signatures {
				raw.Signatures = append(raw.Signatures, s.String())
			}
		}
	}

	// The node may decline to echo the signature list in some encodings;
	// the signature we asked for is authoritative either way.
	if len(raw.Signatures) == 0 && !sig.IsZero() {
		raw.Signatures = []string{sig.String()}
	}

	return raw
}
