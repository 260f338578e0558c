package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// PrivateBRelay is an Eden-Network-style relay: HTTPS REST with a
// bearer token, slot-priority banded inclusion estimates.
type PrivateBRelay struct {
	Endpoint     string
	BearerToken  string
	SlotPriority int // 1 (highest) .. 255 (lowest)
	priority     int
	client       *http.Client
}

func NewPrivateBRelay(endpoint, bearerToken string, slotPriority, priority int) (*PrivateBRelay, error) {
	if err := requireHTTPS(endpoint); err != nil {
		return nil, err
	}
	return &PrivateBRelay{
		Endpoint:     endpoint,
		BearerToken:  bearerToken,
		SlotPriority: slotPriority,
		priority:     priority,
		client:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (r *PrivateBRelay) Kind() types.RelayKind    { return types.RelayPrivateB }
func (r *PrivateBRelay) Priority() int            { return r.priority }
func (r *PrivateBRelay) SupportsSimulation() bool { return true }
func (r *PrivateBRelay) SupportsBundles() bool    { return true }

func (r *PrivateBRelay) Simulate(ctx context.Context, txs []*gethtypes.Transaction) (SimulationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+"/v1/simulate", nil)
	if err != nil {
		return SimulationResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+r.BearerToken)
	resp, err := r.client.Do(req)
	if err != nil {
		return SimulationResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return SimulationResult{Success: false, Error: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	return SimulationResult{Success: true}, nil
}

// inclusionProbabilityForSlot bands an Eden-style relay's slot
// priority into the reference relay's inclusion estimate.
func inclusionProbabilityForSlot(slotPriority int) (float64, int) {
	switch {
	case slotPriority >= 1 && slotPriority <= 3:
		return 0.95, 15
	case slotPriority <= 10:
		return 0.85, 30
	case slotPriority <= 20:
		return 0.75, 45
	default:
		return 0.65, 60
	}
}

func (r *PrivateBRelay) Submit(ctx context.Context, txs []*gethtypes.Transaction) (types.BundleTicket, error) {
	if err := simulateOrReject(ctx, r, txs); err != nil {
		return types.BundleTicket{}, err
	}
	if len(txs) == 0 {
		return types.BundleTicket{}, fmt.Errorf("dispatcher: empty bundle submitted to private-b relay")
	}

	body, _ := json.Marshal(map[string]any{"txs": encodeRawTxs(txs)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+"/v1/bundle", bytesReader(body))
	if err != nil {
		return types.BundleTicket{}, err
	}
	req.Header.Set("Authorization", "Bearer "+r.BearerToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return types.BundleTicket{}, fmt.Errorf("%w: %v", types.ErrRelayRejected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return types.BundleTicket{}, fmt.Errorf("%w: status %d", types.ErrRelayRejected, resp.StatusCode)
	}

	prob, eta := inclusionProbabilityForSlot(r.SlotPriority)
	return types.BundleTicket{
		TxHash:               txs[0].Hash().Hex(),
		RelayID:              string(types.RelayPrivateB),
		RelayDetails:         "eden_network",
		InclusionProbability: prob,
		ETASeconds:           eta,
	}, nil
}

func (r *PrivateBRelay) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint+"/v1/status", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+r.BearerToken)
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}
