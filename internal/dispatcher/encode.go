package dispatcher

import (
	"bytes"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// encodeRawTxs RLP-encodes each transaction as 0x-prefixed hex, the
// wire format every relay's JSON/REST API expects for raw signed
// transactions.
func encodeRawTxs(txs []*gethtypes.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			continue
		}
		out = append(out, hexutil.Encode(raw))
	}
	return out
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
