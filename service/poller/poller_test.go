package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/solwatch/service/events"
	"github.com/solwatch/solwatch/service/ledger"
	"github.com/solwatch/solwatch/service/solana"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedgerClient serves a fixed set of signatures and a canned
// transaction per signature, with per-signature error injection.
type fakeLedgerClient struct {
	mu         sync.Mutex
	signatures []solanago.Signature
	sigErr     error
	txs        map[solanago.Signature]*solana.RawTransaction
	txErrs     map[solanago.Signature]error
}

func (f *fakeLedgerClient) FetchRecentSignatures(_ context.Context, _ solanago.PublicKey, limit int) ([]solanago.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sigErr != nil {
		return nil, f.sigErr
	}
	if limit < len(f.signatures) {
		return f.signatures[:limit], nil
	}
	return f.signatures, nil
}

func (f *fakeLedgerClient) FetchTransaction(_ context.Context, sig solanago.Signature) (*solana.RawTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.txErrs[sig]; ok {
		return nil, err
	}
	return f.txs[sig], nil
}

// memStore is an in-memory Store with error and latency injection.
type memStore struct {
	mu          sync.Mutex
	records     map[string]ledger.TransferRecord
	insertErr   error
	insertDelay time.Duration
	inserts     int
	inFlight    int
	maxInFlight int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]ledger.TransferRecord)}
}

func (s *memStore) InsertTransfer(_ context.Context, rec ledger.TransferRecord) (bool, error) {
	s.mu.Lock()
	s.inserts++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay, insertErr := s.insertDelay, s.insertErr
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if insertErr != nil {
		return false, insertErr
	}
	if _, exists := s.records[rec.Signature]; exists {
		return false, nil
	}
	s.records[rec.Signature] = rec
	return true, nil
}

func (s *memStore) DeleteTransfersBefore(_ context.Context, unixSeconds int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned int64
	for sig, rec := range s.records {
		if rec.Timestamp < unixSeconds {
			delete(s.records, sig)
			pruned++
		}
	}
	return pruned, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func rawTransfer(sig solanago.Signature, blockTime int64) *solana.RawTransaction {
	bt := blockTime
	return &solana.RawTransaction{
		Signatures: []string{sig.String()},
		Message: &solana.DecodedMessage{
			AccountKeys: []string{
				strings.Repeat("A", ledger.EncodedKeyLength),
				strings.Repeat("B", ledger.EncodedKeyLength),
			},
			RecentBlockHash: "4sZ76MsNd8y3WSw2L1nfd3AqLoYxdmC98sERoMRbHV14",
		},
		Meta: &solana.TransactionMeta{
			Fee:          5000,
			PreBalances:  []uint64{100000, 50000},
			PostBalances: []uint64{85000, 60000},
		},
		BlockTime: &bt,
	}
}

func newTestPoller(client *fakeLedgerClient, store *memStore, pub events.Publisher, opts Options) *Poller {
	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}
	if opts.SignatureLimit == 0 {
		opts.SignatureLimit = 3
	}
	return New(client, store, pub, opts, nil, testLogger())
}

func TestRunOnce_PersistsNewTransfers(t *testing.T) {
	sigA, sigB := solanago.Signature{1}, solanago.Signature{2}
	client := &fakeLedgerClient{
		signatures: []solanago.Signature{sigA, sigB},
		txs: map[solanago.Signature]*solana.RawTransaction{
			sigA: rawTransfer(sigA, 1625077743),
			sigB: rawTransfer(sigB, 1625077744),
		},
	}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{})

	p.RunOnce(context.Background())
	assert.Equal(t, 2, store.count())
}

// Re-polling the same window must not create duplicates: the store sees
// the same signatures every cycle and reports them as already present.
func TestRunOnce_IdempotentAcrossCycles(t *testing.T) {
	sigA, sigB, sigC := solanago.Signature{1}, solanago.Signature{2}, solanago.Signature{3}
	client := &fakeLedgerClient{
		signatures: []solanago.Signature{sigA, sigB, sigC},
		txs: map[solanago.Signature]*solana.RawTransaction{
			sigA: rawTransfer(sigA, 1625077743),
			sigB: rawTransfer(sigB, 1625077744),
			sigC: rawTransfer(sigC, 1625077745),
		},
	}
	store := newMemStore()
	pub := events.NewMockPublisher()
	p := newTestPoller(client, store, pub, Options{})

	for i := 0; i < 3; i++ {
		p.RunOnce(context.Background())
	}

	assert.Equal(t, 3, store.count())
	assert.Equal(t, 9, store.inserts, "every cycle attempts every signature")
	assert.Len(t, pub.PublishedEvents(), 3, "only first-time writes publish events")
}

func TestRunOnce_SignatureLimitBoundsWork(t *testing.T) {
	sigs := make([]solanago.Signature, 5)
	txs := make(map[solanago.Signature]*solana.RawTransaction, 5)
	for i := range sigs {
		sigs[i] = solanago.Signature{byte(i + 1)}
		txs[sigs[i]] = rawTransfer(sigs[i], int64(1625077743+i))
	}
	client := &fakeLedgerClient{signatures: sigs, txs: txs}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{SignatureLimit: 2})

	p.RunOnce(context.Background())
	assert.Equal(t, 2, store.count())
}

// One failing signature must not take the rest of the batch down with it.
func TestRunOnce_PerRecordFailureTolerance(t *testing.T) {
	sigA, sigB, sigC := solanago.Signature{1}, solanago.Signature{2}, solanago.Signature{3}
	client := &fakeLedgerClient{
		signatures: []solanago.Signature{sigA, sigB, sigC},
		txs: map[solanago.Signature]*solana.RawTransaction{
			sigA: rawTransfer(sigA, 1625077743),
			sigC: rawTransfer(sigC, 1625077745),
		},
		txErrs: map[solanago.Signature]error{
			sigB: errors.New("rpc timeout"),
		},
	}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{})

	p.RunOnce(context.Background())
	assert.Equal(t, 2, store.count())
}

func TestRunOnce_SkipsInvalidAndUnparseable(t *testing.T) {
	sigA, sigB, sigC := solanago.Signature{1}, solanago.Signature{2}, solanago.Signature{3}

	// sigB decodes but fails validation (no credited amount), sigC has an
	// opaque message the parser cannot use.
	invalid := rawTransfer(sigB, 1625077744)
	invalid.Meta.PostBalances = []uint64{100000, 50000}
	opaque := &solana.RawTransaction{Signatures: []string{sigC.String()}}

	client := &fakeLedgerClient{
		signatures: []solanago.Signature{sigA, sigB, sigC},
		txs: map[solanago.Signature]*solana.RawTransaction{
			sigA: rawTransfer(sigA, 1625077743),
			sigB: invalid,
			sigC: opaque,
		},
	}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{})

	p.RunOnce(context.Background())
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, store.inserts, "rejected records never reach the store")
}

func TestRunOnce_FetchSignaturesFailureEndsCycle(t *testing.T) {
	client := &fakeLedgerClient{sigErr: errors.New("node unreachable")}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{})

	p.RunOnce(context.Background())
	assert.Equal(t, 0, store.count())
	assert.Equal(t, 0, store.inserts)
}

func TestRunOnce_StorageFailureSkipsRecord(t *testing.T) {
	sigA := solanago.Signature{1}
	client := &fakeLedgerClient{
		signatures: []solanago.Signature{sigA},
		txs: map[solanago.Signature]*solana.RawTransaction{
			sigA: rawTransfer(sigA, 1625077743),
		},
	}
	store := newMemStore()
	store.insertErr = errors.New("connection refused")
	pub := events.NewMockPublisher()
	p := newTestPoller(client, store, pub, Options{})

	p.RunOnce(context.Background())
	assert.Equal(t, 0, store.count())
	assert.Empty(t, pub.PublishedEvents(), "unpersisted records must not publish")
}

// A publish failure is tolerated: the record is already durable.
func TestRunOnce_PublishFailureTolerated(t *testing.T) {
	sigA := solanago.Signature{1}
	client := &fakeLedgerClient{
		signatures: []solanago.Signature{sigA},
		txs: map[solanago.Signature]*solana.RawTransaction{
			sigA: rawTransfer(sigA, 1625077743),
		},
	}
	store := newMemStore()
	pub := events.NewMockPublisher()
	pub.SetPublishError(errors.New("jetstream unavailable"))
	p := newTestPoller(client, store, pub, Options{})

	p.RunOnce(context.Background())
	assert.Equal(t, 1, store.count())
}

func TestRunOnce_RetentionPrunesOldRecords(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour).Unix()
	fresh := time.Now().Unix()

	sigA, sigB := solanago.Signature{1}, solanago.Signature{2}
	client := &fakeLedgerClient{
		signatures: []solanago.Signature{sigA, sigB},
		txs: map[solanago.Signature]*solana.RawTransaction{
			sigA: rawTransfer(sigA, old),
			sigB: rawTransfer(sigB, fresh),
		},
	}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{Retention: 24 * time.Hour})

	p.RunOnce(context.Background())
	require.Equal(t, 1, store.count())

	store.mu.Lock()
	_, hasFresh := store.records[sigB.String()]
	store.mu.Unlock()
	assert.True(t, hasFresh)
}

// A slow cycle must delay the schedule, never overlap it: inserts run
// strictly serially even when the tick interval is shorter than a cycle.
func TestRun_CyclesNeverOverlap(t *testing.T) {
	sigA := solanago.Signature{1}
	client := &fakeLedgerClient{
		signatures: []solanago.Signature{sigA},
		txs: map[solanago.Signature]*solana.RawTransaction{
			sigA: rawTransfer(sigA, 1625077743),
		},
	}
	store := newMemStore()
	store.insertDelay = 60 * time.Millisecond
	p := newTestPoller(client, store, nil, Options{Interval: 20 * time.Millisecond})

	p.Start(context.Background())
	time.Sleep(300 * time.Millisecond)
	p.Stop()

	store.mu.Lock()
	maxInFlight, inserts := store.maxInFlight, store.inserts
	store.mu.Unlock()

	assert.Equal(t, 1, maxInFlight, "cycles overlapped")
	assert.GreaterOrEqual(t, inserts, 2, "loop should have completed multiple cycles")
}

func TestStartStop_Lifecycle(t *testing.T) {
	client := &fakeLedgerClient{}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{Interval: time.Hour})

	p.Start(context.Background())
	p.Start(context.Background()) // second start is a no-op

	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop() // second stop is a no-op
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

// Stop may run before the polling goroutine is ever scheduled; the
// shutdown handshake must survive that window without panicking or
// hanging.
func TestStartStop_ImmediateStop(t *testing.T) {
	client := &fakeLedgerClient{}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Start(context.Background())
			p.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Start/Stop cycling deadlocked")
	}
}

func TestRunOnce_CancelledContextStopsBatch(t *testing.T) {
	sigs := make([]solanago.Signature, 3)
	txs := make(map[solanago.Signature]*solana.RawTransaction, 3)
	for i := range sigs {
		sigs[i] = solanago.Signature{byte(i + 1)}
		txs[sigs[i]] = rawTransfer(sigs[i], int64(1625077743+i))
	}
	client := &fakeLedgerClient{signatures: sigs, txs: txs}
	store := newMemStore()
	p := newTestPoller(client, store, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.RunOnce(ctx)

	assert.Equal(t, 0, store.inserts)
}
