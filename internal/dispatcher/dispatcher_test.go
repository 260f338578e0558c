package dispatcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// fakeRelay lets tests script Submit/Health without a real transport.
type fakeRelay struct {
	kind        types.RelayKind
	priority    int
	submitErr   error
	submitCalls *int
	ticket      types.BundleTicket
	healthy     bool
}

func (f *fakeRelay) Kind() types.RelayKind    { return f.kind }
func (f *fakeRelay) Priority() int            { return f.priority }
func (f *fakeRelay) SupportsSimulation() bool { return true }
func (f *fakeRelay) SupportsBundles() bool    { return true }
func (f *fakeRelay) Simulate(ctx context.Context, txs []*gethtypes.Transaction) (SimulationResult, error) {
	return SimulationResult{Success: f.submitErr == nil}, nil
}
func (f *fakeRelay) Submit(ctx context.Context, txs []*gethtypes.Transaction) (types.BundleTicket, error) {
	if f.submitCalls != nil {
		*f.submitCalls++
	}
	if f.submitErr != nil {
		return types.BundleTicket{}, f.submitErr
	}
	return f.ticket, nil
}
func (f *fakeRelay) Health(ctx context.Context) bool { return f.healthy }

func tx() *gethtypes.Transaction {
	return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: 0, Gas: 21000})
}

// S4: priority order [PrivateA, PrivateB, PublicFallback]. PrivateA
// fails simulation, PrivateB succeeds. The dispatcher returns B's
// ticket and never calls PublicFallback.
func TestSendBundle_S4FallsThroughToNextRelayOnFailure(t *testing.T) {
	publicCalls := 0
	a := &fakeRelay{kind: types.RelayPrivateA, priority: 1, submitErr: types.ErrSimulationFailed}
	b := &fakeRelay{kind: types.RelayPrivateB, priority: 2, ticket: types.BundleTicket{RelayID: "private_b", InclusionProbability: 0.85}}
	pub := &fakeRelay{kind: types.RelayPublic, priority: 3, submitCalls: &publicCalls, ticket: types.BundleTicket{RelayID: "public_fallback"}}

	d := New([]Relay{pub, a, b}) // intentionally unsorted input

	ticket, err := d.SendBundle(context.Background(), []*gethtypes.Transaction{tx()})
	require.NoError(t, err)
	assert.Equal(t, "private_b", ticket.RelayID)
	assert.Equal(t, 0, publicCalls)
}

func TestSendBundle_AllRelaysFailReturnsErrAllRelaysFailed(t *testing.T) {
	a := &fakeRelay{kind: types.RelayPrivateA, priority: 1, submitErr: types.ErrSimulationFailed}
	b := &fakeRelay{kind: types.RelayPrivateB, priority: 2, submitErr: types.ErrRelayRejected}

	d := New([]Relay{a, b})
	_, err := d.SendBundle(context.Background(), []*gethtypes.Transaction{tx()})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAllRelaysFailed)
}

func TestNew_SortsRelaysByAscendingPriority(t *testing.T) {
	low := &fakeRelay{kind: types.RelayPublic, priority: 9}
	high := &fakeRelay{kind: types.RelayPrivateA, priority: 1}

	d := New([]Relay{low, high})
	require.Len(t, d.Relays(), 2)
	assert.Equal(t, types.RelayPrivateA, d.Relays()[0].Kind())
	assert.Equal(t, types.RelayPublic, d.Relays()[1].Kind())
}

func TestRequireHTTPS_RejectsNonTLSEndpoint(t *testing.T) {
	_, err := NewPrivateARelay("http://insecure-endpoint.com", "", 1)
	require.Error(t, err)

	_, err = NewPrivateARelay("https://relay.flashbots.net", "", 1)
	require.NoError(t, err)
}

func TestInclusionProbabilityForSlot_MatchesBandTable(t *testing.T) {
	cases := []struct {
		slot     int
		wantProb float64
		wantETA  int
	}{
		{1, 0.95, 15},
		{3, 0.95, 15},
		{4, 0.85, 30},
		{10, 0.85, 30},
		{11, 0.75, 45},
		{20, 0.75, 45},
		{21, 0.65, 60},
	}
	for _, c := range cases {
		prob, eta := inclusionProbabilityForSlot(c.slot)
		assert.Equal(t, c.wantProb, prob, "slot=%d", c.slot)
		assert.Equal(t, c.wantETA, eta, "slot=%d", c.slot)
	}
}

// PublicFallback counts a partial success (at least one leg sent) as
// overall success.
type partialSender struct{ calls int }

func (s *partialSender) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	s.calls++
	if s.calls == 1 {
		return assertErr{}
	}
	return nil
}

type assertErr struct{}

func (assertErr) Error() string { return "rpc rejected" }

func TestPublicFallback_PartialSuccessCountsAsSuccess(t *testing.T) {
	sender := &partialSender{}
	relay := NewPublicFallbackRelay("eth", sender, nil, 99)

	ticket, err := relay.Submit(context.Background(), []*gethtypes.Transaction{tx(), tx()})
	require.NoError(t, err)
	assert.Contains(t, ticket.RelayDetails, "1/2")
}

func TestPublicFallback_AllLegsFailReturnsRelayRejected(t *testing.T) {
	always := &alwaysFailSender{}
	relay := NewPublicFallbackRelay("eth", always, nil, 99)

	_, err := relay.Submit(context.Background(), []*gethtypes.Transaction{tx()})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRelayRejected)
}

type alwaysFailSender struct{}

func (alwaysFailSender) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	return assertErr{}
}

// TestPrivateBRelay_SubmitSendsEncodedTxsInRequestBody guards against a
// regression where the bundle POST body was built from a nil byte
// slice instead of the encoded transactions, silently submitting an
// empty bundle while still reporting a ticket.
func TestPrivateBRelay_SubmitSendsEncodedTxsInRequestBody(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotBody, _ = io.ReadAll(req.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	relay, err := NewPrivateBRelay(srv.URL, "token", 1, 0)
	require.NoError(t, err)
	relay.client = srv.Client()

	_, err = relay.Submit(context.Background(), []*gethtypes.Transaction{tx()})
	require.NoError(t, err)
	require.NotEmpty(t, gotBody)
	assert.Contains(t, string(gotBody), `"txs"`)
}

// TestPrivateSharedRelay_SubmitSendsEncodedTxsInRequestBody is the
// MEV-Share-style relay's equivalent of the guard above.
func TestPrivateSharedRelay_SubmitSendsEncodedTxsInRequestBody(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotBody, _ = io.ReadAll(req.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	relay, err := NewPrivateSharedRelay(srv.URL, "key", 1, 0)
	require.NoError(t, err)
	relay.client = srv.Client()

	_, err = relay.Submit(context.Background(), []*gethtypes.Transaction{tx()})
	require.NoError(t, err)
	require.NotEmpty(t, gotBody)
	assert.Contains(t, string(gotBody), `"txs"`)
}
