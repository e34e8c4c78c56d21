package tx

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OKaluzny/wallet-custody/internal/account"
	"github.com/OKaluzny/wallet-custody/internal/chain"
	"github.com/OKaluzny/wallet-custody/internal/ledger"
	"github.com/OKaluzny/wallet-custody/internal/signing"
	"github.com/OKaluzny/wallet-custody/internal/storage"
	"github.com/OKaluzny/wallet-custody/internal/wallet"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

const (
	testAddress = "0x01cf0e2f2f715450"
	testBlockID = "7bc42fe85d32ca513769a74f97f7e1a7bad6c9407f0d934c2aa645ef9cf613c7"
)

// mockAccessNode implements Chain and account.ChainReader for testing.
type mockAccessNode struct {
	mu        sync.Mutex
	key       models.AccountKey
	submitted []chain.Transaction
	failures  []error
}

func (m *mockAccessNode) GetAccount(_ context.Context, addr string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.NewAccount(addr, []models.AccountKey{m.key})
}

func (m *mockAccessNode) LatestBlockID(context.Context) (string, error) {
	return testBlockID, nil
}

func (m *mockAccessNode) SubmitTransaction(_ context.Context, tx chain.Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return "", err
	}
	m.submitted = append(m.submitted, tx)
	return "tx-" + strconv.Itoa(len(m.submitted)), nil
}

func (m *mockAccessNode) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

func (m *mockAccessNode) setSequence(seq uint64) {
	m.mu.Lock()
	m.key.SequenceNumber = seq
	m.mu.Unlock()
}

type mockWatcher struct {
	mu  sync.Mutex
	ids []string
}

func (w *mockWatcher) Watch(id string, _ func(models.TransactionRecord)) {
	w.mu.Lock()
	w.ids = append(w.ids, id)
	w.mu.Unlock()
}

type staticProviders struct{ p wallet.KeyProvider }

func (s staticProviders) Current() (wallet.KeyProvider, bool) { return s.p, true }

type fixture struct {
	builder *Builder
	node    *mockAccessNode
	ledger  *ledger.Ledger
	watcher *mockWatcher
	pub     []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	scalar := make([]byte, 32)
	for i := range scalar {
		scalar[i] = byte(i + 1)
	}
	p, err := wallet.NewRawKeyProvider(models.RawPrivateKey{Bytes: scalar}, models.FullWeight)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	pub, err := p.PublicKey(ctx, models.SignAlgoP256)
	require.NoError(t, err)

	node := &mockAccessNode{key: models.AccountKey{
		Index:          0,
		PublicKey:      pub,
		Weight:         models.FullWeight,
		SignAlgo:       models.SignAlgoP256,
		HashAlgo:       models.HashSHA3_256,
		SequenceNumber: 11,
	}}
	providers := staticProviders{p: p}
	keys, err := account.Load(ctx, testAddress, node, providers)
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, keys.LocalKeys())

	l := ledger.New(storage.NewRecordStore(storage.NewMemory()))
	w := &mockWatcher{}
	b := NewBuilder(BuilderConfig{MaxRetries: 3, RetryDelay: time.Millisecond}, Deps{
		Chain:   node,
		Signer:  signing.NewService(providers, time.Second, nil),
		Keys:    keys,
		Ledger:  l,
		Watcher: w,
		TxStore: storage.NewTxStore(storage.NewMemory()),
	})
	return &fixture{builder: b, node: node, ledger: l, watcher: w, pub: pub}
}

func TestBuilder_Send(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.builder.Send(ctx, SendRequest{
		IdempotencyKey: "key-1",
		Category:       models.CategoryTransferCoin,
		Script:         []byte("transaction { execute {} }"),
		Arguments:      [][]byte{[]byte(`{"type":"UFix64","value":"1.0"}`)},
		ScriptID:       "transfer_flow",
		Payload:        "1.0 FLOW",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", sub.TxID)
	assert.Equal(t, models.CategoryTransferCoin, sub.Category)

	rec, ok := f.ledger.Get("tx-1")
	require.True(t, ok)
	assert.Equal(t, models.PhasePending, rec.State)
	assert.Equal(t, "1.0 FLOW", rec.Payload)
	script, err := f.ledger.ScriptID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "transfer_flow", script)

	assert.Equal(t, []string{"tx-1"}, f.watcher.ids)

	require.Len(t, f.node.submitted, 1)
	tx := f.node.submitted[0]
	assert.Equal(t, "11", tx.ProposalKey.SequenceNumber)
	assert.Equal(t, "0", tx.ProposalKey.KeyIndex)
	assert.Equal(t, testAddress, tx.Payer)
	assert.Equal(t, []string{testAddress}, tx.Authorizers)
	assert.Equal(t, testBlockID, tx.ReferenceBlockID)
	require.Len(t, tx.EnvelopeSignatures, 1)
}

func TestBuilder_SignatureVerifies(t *testing.T) {
	f := newFixture(t)
	req := SendRequest{IdempotencyKey: "sig", Script: []byte("transaction {}")}
	_, err := f.builder.Send(context.Background(), req, nil)
	require.NoError(t, err)

	tx := f.node.submitted[0]
	sig, err := base64.StdEncoding.DecodeString(tx.EnvelopeSignatures[0].Signature)
	require.NoError(t, err)
	require.Len(t, sig, wallet.RawSignatureSize)

	msg, err := envelopeMessage(unsigned{
		Script:         req.Script,
		ReferenceBlock: testBlockID,
		GasLimit:       f.builder.cfg.GasLimit,
		Address:        testAddress,
		KeyIndex:       0,
		SequenceNumber: 11,
	})
	require.NoError(t, err)
	digest, err := wallet.Digest(models.HashSHA3_256, append(wallet.TransactionDomainTag[:], msg...))
	require.NoError(t, err)

	var raw [wallet.RawSignatureSize]byte
	copy(raw[:], sig)
	assert.True(t, wallet.VerifyRaw(models.SignAlgoP256, f.pub, digest, raw))
}

func TestBuilder_Idempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := SendRequest{IdempotencyKey: "key-1", Script: []byte("transaction {}")}

	tx1, err := f.builder.Send(ctx, req, nil)
	require.NoError(t, err)
	tx2, err := f.builder.Send(ctx, req, nil)
	require.NoError(t, err)

	if tx1.TxID != tx2.TxID {
		t.Errorf("idempotent requests should return same tx, got %s vs %s", tx1.TxID, tx2.TxID)
	}
	assert.Equal(t, 1, f.node.calls())
}

func TestBuilder_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := f.builder.Send(ctx, SendRequest{IdempotencyKey: "same", Script: []byte("transaction {}")}, nil)
			if assert.NoError(t, err) {
				ids[i] = sub.TxID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.node.calls())
	// each caller hands its callback to the watcher
	assert.Len(t, f.watcher.ids, len(ids))
}

func TestBuilder_DifferentKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx1, err := f.builder.Send(ctx, SendRequest{IdempotencyKey: "key-a", Script: []byte("a")}, nil)
	require.NoError(t, err)
	f.node.setSequence(12)
	tx2, err := f.builder.Send(ctx, SendRequest{IdempotencyKey: "key-b", Script: []byte("b")}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, tx1.TxID, tx2.TxID)
	require.Len(t, f.node.submitted, 2)
	assert.Equal(t, "12", f.node.submitted[1].ProposalKey.SequenceNumber, "sequence number is read from chain")
}

func TestBuilder_RetriesServerErrors(t *testing.T) {
	f := newFixture(t)
	f.node.failures = []error{
		&chain.APIError{StatusCode: 503, Message: "unavailable"},
		&chain.APIError{StatusCode: 502, Message: "bad gateway"},
	}

	sub, err := f.builder.Send(context.Background(), SendRequest{Script: []byte("transaction {}")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", sub.TxID)
	assert.Empty(t, f.node.failures)
}

func TestBuilder_ClientErrorNotRetried(t *testing.T) {
	f := newFixture(t)
	f.node.failures = []error{
		&chain.APIError{StatusCode: 400, Message: "invalid signature"},
		&chain.APIError{StatusCode: 400, Message: "invalid signature"},
	}

	_, err := f.builder.Send(context.Background(), SendRequest{IdempotencyKey: "bad", Script: []byte("transaction {}")}, nil)
	require.Error(t, err)
	assert.Len(t, f.node.failures, 1)
	assert.Empty(t, f.ledger.All())
	assert.Empty(t, f.watcher.ids)
}

func TestBuilder_AllAttemptsFail(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.node.failures = append(f.node.failures, &chain.APIError{StatusCode: 500, Message: "internal"})
	}

	_, err := f.builder.Send(context.Background(), SendRequest{Script: []byte("transaction {}")}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "all 3 broadcast attempts failed"))
}

func TestBuilder_KeyManagementNeedsIndex(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Send(context.Background(), SendRequest{Category: models.CategoryRevokeKey}, nil)
	assert.ErrorIs(t, err, ErrMissingKeyIndex)
	assert.Equal(t, 0, f.node.calls())

	idx := uint32(3)
	_, err = f.builder.Send(context.Background(), SendRequest{Category: models.CategoryRevokeKey, KeyIndex: &idx, Script: []byte("revoke")}, nil)
	require.NoError(t, err)
	rec, ok := f.ledger.Get("tx-1")
	require.True(t, ok)
	require.NotNil(t, rec.KeyIndex)
	assert.Equal(t, uint32(3), *rec.KeyIndex)
}

func TestDecodeFixed(t *testing.T) {
	tests := []struct {
		in      string
		n       int
		want    []byte
		wantErr bool
	}{
		{"0x01", 4, []byte{0, 0, 0, 1}, false},
		{"abc", 2, []byte{0x0a, 0xbc}, false},
		{"0102030405", 4, nil, true},
		{"zz", 2, nil, true},
	}
	for _, tt := range tests {
		got, err := decodeFixed(tt.in, tt.n)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestEnvelopeMessage_Deterministic(t *testing.T) {
	u := unsigned{Script: []byte("s"), ReferenceBlock: testBlockID, GasLimit: 100, Address: testAddress, SequenceNumber: 1}
	a, err := envelopeMessage(u)
	require.NoError(t, err)
	b, err := envelopeMessage(u)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	u.SequenceNumber = 2
	c, err := envelopeMessage(u)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	u.Address = "0x" + strings.Repeat("ff", 9)
	_, err = envelopeMessage(u)
	assert.Error(t, err)
}
