package db

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/solwatch/service/ledger"
)

func testRecord(n int) ledger.TransferRecord {
	return ledger.TransferRecord{
		Signature:     fmt.Sprintf("sig-%03d", n),
		Sender:        strings.Repeat("A", ledger.EncodedKeyLength),
		Receiver:      strings.Repeat("B", ledger.EncodedKeyLength),
		Amount:        10000,
		Fee:           5000,
		Timestamp:     int64(1625077743 + n),
		PrevBlockHash: "4sZ76MsNd8y3WSw2L1nfd3AqLoYxdmC98sERoMRbHV14",
	}
}

func TestInsertTransfer_Idempotent(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	rec := testRecord(1)

	inserted, err := ts.InsertTransfer(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Re-inserting the same signature is a no-op, even with different
	// field values: the first observation wins.
	dup := rec
	dup.Amount = 99999
	inserted, err = ts.InsertTransfer(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := ts.CountTransfers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	records, err := ts.ListTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(10000), records[0].Amount)
}

func TestInsertTransfer_RoundTrip(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	rec := testRecord(1)

	inserted, err := ts.InsertTransfer(ctx, rec)
	require.NoError(t, err)
	require.True(t, inserted)

	records, err := ts.ListTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec, records[0])
}

func TestListTransfers_OrderedBySignature(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	for _, n := range []int{3, 1, 2} {
		_, err := ts.InsertTransfer(ctx, testRecord(n))
		require.NoError(t, err)
	}

	records, err := ts.ListTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "sig-001", records[0].Signature)
	assert.Equal(t, "sig-002", records[1].Signature)
	assert.Equal(t, "sig-003", records[2].Signature)
}

func TestListTransfers_Empty(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	records, err := ts.ListTransfers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteTransfersBefore(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	old := testRecord(1)
	old.Timestamp = 1000
	fresh := testRecord(2)
	fresh.Timestamp = 2000

	for _, rec := range []ledger.TransferRecord{old, fresh} {
		_, err := ts.InsertTransfer(ctx, rec)
		require.NoError(t, err)
	}

	pruned, err := ts.DeleteTransfersBefore(ctx, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	records, err := ts.ListTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, fresh.Signature, records[0].Signature)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()

	// NewTestStore already ran it once; a second run must be harmless.
	require.NoError(t, ts.EnsureSchema(context.Background()))
}
