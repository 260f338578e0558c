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

// PrivateARelay is a Flashbots-Protect-style relay: HTTPS JSON-RPC,
// authenticated with a wallet signature header, bundle-capable, with
// simulation support. Inclusion probability is a flat 0.8 regardless
// of bundle contents, matching the upstream relay's own estimate.
type PrivateARelay struct {
	Endpoint string
	AuthKey  string
	priority int
	client   *http.Client
}

// NewPrivateARelay validates the endpoint is HTTPS before returning.
func NewPrivateARelay(endpoint, authKey string, priority int) (*PrivateARelay, error) {
	if err := requireHTTPS(endpoint); err != nil {
		return nil, err
	}
	return &PrivateARelay{
		Endpoint: endpoint,
		AuthKey:  authKey,
		priority: priority,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (r *PrivateARelay) Kind() types.RelayKind    { return types.RelayPrivateA }
func (r *PrivateARelay) Priority() int            { return r.priority }
func (r *PrivateARelay) SupportsSimulation() bool { return true }
func (r *PrivateARelay) SupportsBundles() bool    { return true }

func (r *PrivateARelay) Simulate(ctx context.Context, txs []*gethtypes.Transaction) (SimulationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+"/simulate", nil)
	if err != nil {
		return SimulationResult{}, err
	}
	req.Header.Set("X-Flashbots-Signature", r.AuthKey)
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

func (r *PrivateARelay) Submit(ctx context.Context, txs []*gethtypes.Transaction) (types.BundleTicket, error) {
	if err := simulateOrReject(ctx, r, txs); err != nil {
		return types.BundleTicket{}, err
	}
	if len(txs) == 0 {
		return types.BundleTicket{}, fmt.Errorf("dispatcher: empty bundle submitted to private-a relay")
	}

	body, _ := json.Marshal(map[string]any{"txs": encodeRawTxs(txs)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+"/bundle", bytesReader(body))
	if err != nil {
		return types.BundleTicket{}, err
	}
	req.Header.Set("X-Flashbots-Signature", r.AuthKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return types.BundleTicket{}, fmt.Errorf("%w: %v", types.ErrRelayRejected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return types.BundleTicket{}, fmt.Errorf("%w: status %d", types.ErrRelayRejected, resp.StatusCode)
	}

	return types.BundleTicket{
		TxHash:               txs[0].Hash().Hex(),
		RelayID:              string(types.RelayPrivateA),
		RelayDetails:         "flashbots_protect",
		InclusionProbability: 0.8,
		ETASeconds:           15,
	}, nil
}

func (r *PrivateARelay) Health(ctx context.Context) bool {
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
