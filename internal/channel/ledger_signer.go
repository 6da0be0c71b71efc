package channel

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// localSigner signs sendSOS transactions with a wallet key held by this process,
// for public RPC endpoints that do not expose eth_sendTransaction.
type localSigner struct {
	key  *ecdsa.PrivateKey
	from common.Address

	// mu serializes nonce lookup and broadcast so concurrent sends never reuse a nonce.
	mu      sync.Mutex
	chainID *big.Int
}

func newLocalSigner(hexKey string, chainID uint64) (*localSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid ledger private key: %w", err)
	}
	s := &localSigner{key: key, from: crypto.PubkeyToAddress(key.PublicKey)}
	if chainID > 0 {
		s.chainID = new(big.Int).SetUint64(chainID)
	}
	return s, nil
}

// submitSigned builds, signs and broadcasts the call with eth_sendRawTransaction.
func (c *RPCLedgerClient) submitSigned(ctx context.Context, data []byte) (string, error) {
	s := c.signer
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chainID == nil {
		var id hexutil.Big
		if err := c.call(ctx, "eth_chainId", []interface{}{}, &id); err != nil {
			return "", err
		}
		s.chainID = id.ToInt()
	}

	var nonce hexutil.Uint64
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{s.from.Hex(), "pending"}, &nonce); err != nil {
		return "", err
	}

	var gasPrice hexutil.Big
	if err := c.call(ctx, "eth_gasPrice", []interface{}{}, &gasPrice); err != nil {
		return "", err
	}

	to := common.HexToAddress(c.cfg.ContractAddress)
	gas := c.cfg.GasLimit
	if gas == 0 {
		var estimate hexutil.Uint64
		call := map[string]string{
			"from": s.from.Hex(),
			"to":   to.Hex(),
			"data": hexutil.Encode(data),
		}
		if err := c.call(ctx, "eth_estimateGas", []interface{}{call}, &estimate); err != nil {
			return "", err
		}
		gas = uint64(estimate)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(nonce),
		GasPrice: gasPrice.ToInt(),
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign sendSOS transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	var txHash string
	if err := c.call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)}, &txHash); err != nil {
		return "", err
	}
	if txHash == "" {
		txHash = signed.Hash().Hex()
	}
	return txHash, nil
}
