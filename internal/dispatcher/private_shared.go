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

// PrivateSharedRelay is an MEV-Share-style relay: HTTPS REST with
// privacy hints and an inclusion window of +N blocks. Health is
// checked with an anonymous GET against /status, trusting the HTTP
// status code alone (the relay requires no auth for this probe).
type PrivateSharedRelay struct {
	Endpoint              string
	AuthKey               string
	InclusionWindowBlocks int
	priority              int
	client                *http.Client
}

func NewPrivateSharedRelay(endpoint, authKey string, inclusionWindowBlocks, priority int) (*PrivateSharedRelay, error) {
	if err := requireHTTPS(endpoint); err != nil {
		return nil, err
	}
	return &PrivateSharedRelay{
		Endpoint:              endpoint,
		AuthKey:                authKey,
		InclusionWindowBlocks: inclusionWindowBlocks,
		priority:              priority,
		client:                &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (r *PrivateSharedRelay) Kind() types.RelayKind    { return types.RelayPrivateShared }
func (r *PrivateSharedRelay) Priority() int            { return r.priority }
func (r *PrivateSharedRelay) SupportsSimulation() bool { return true }
func (r *PrivateSharedRelay) SupportsBundles() bool    { return true }

func (r *PrivateSharedRelay) Simulate(ctx context.Context, txs []*gethtypes.Transaction) (SimulationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+"/simulate", nil)
	if err != nil {
		return SimulationResult{}, err
	}
	req.Header.Set("X-Auth-Key", r.AuthKey)
	resp, err := r.client.Do(req)
	if err != nil {
		return SimulationResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return SimulationResult{Success: false, Error: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	// A real deployment would parse the simulated profit out of the
	// response body here to drive the 0.90/0.75 split below.
	return SimulationResult{Success: true}, nil
}

func (r *PrivateSharedRelay) Submit(ctx context.Context, txs []*gethtypes.Transaction) (types.BundleTicket, error) {
	sim, simErr := r.Simulate(ctx, txs)
	if simErr != nil {
		return types.BundleTicket{}, fmt.Errorf("%w: %v", types.ErrSimulationFailed, simErr)
	}
	if !sim.Success {
		return types.BundleTicket{}, fmt.Errorf("%w: %s", types.ErrSimulationFailed, sim.Error)
	}
	if len(txs) == 0 {
		return types.BundleTicket{}, fmt.Errorf("dispatcher: empty bundle submitted to private-shared relay")
	}

	body, _ := json.Marshal(map[string]any{"txs": encodeRawTxs(txs)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+"/bundle", bytesReader(body))
	if err != nil {
		return types.BundleTicket{}, err
	}
	req.Header.Set("X-Auth-Key", r.AuthKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return types.BundleTicket{}, fmt.Errorf("%w: %v", types.ErrRelayRejected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return types.BundleTicket{}, fmt.Errorf("%w: status %d", types.ErrRelayRejected, resp.StatusCode)
	}

	prob := 0.75
	if sim.ProfitWei != nil {
		prob = 0.90
	}

	return types.BundleTicket{
		TxHash:               txs[0].Hash().Hex(),
		RelayID:              string(types.RelayPrivateShared),
		RelayDetails:         fmt.Sprintf("mev_share:+%d", r.InclusionWindowBlocks),
		InclusionProbability: prob,
		ETASeconds:           12 * r.InclusionWindowBlocks,
	}, nil
}

// Health performs an anonymous GET against /status and trusts the HTTP
// status code — no auth header is attached, matching the reference
// relay's public health endpoint.
func (r *PrivateSharedRelay) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}
