package channel

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

const sendSOSSignature = "sendSOS(string,string,string)"

// RPCLedgerConfig configures the JSON-RPC ledger client.
type RPCLedgerConfig struct {
	Endpoint        string
	ContractAddress string
	// FromAddress must be an account the node (or signing proxy) can sign for.
	// Ignored when PrivateKey is set.
	FromAddress string
	// PrivateKey (hex) signs transactions locally; they go out via eth_sendRawTransaction.
	PrivateKey string
	// ChainID is read from the node when zero.
	ChainID      uint64
	APIKey       string
	GasLimit     uint64
	PollInterval time.Duration
	Timeout      time.Duration
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type txReceipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
}

type blockHeader struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
}

// RPCLedgerClient talks Ethereum JSON-RPC (Avalanche C-Chain compatible) to submit
// sendSOS calls and poll for their receipts.
type RPCLedgerClient struct {
	httpClient *resty.Client
	cfg        RPCLedgerConfig
	logger     *zap.Logger
	nextID     atomic.Uint64

	signer    *localSigner
	signerErr error
}

// NewRPCLedgerClient creates the client. No request is made until first use.
func NewRPCLedgerClient(cfg RPCLedgerConfig, logger *zap.Logger) *RPCLedgerClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	// No automatic retries: re-sending eth_sendTransaction would broadcast a second tx.
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	c := &RPCLedgerClient{
		httpClient: client,
		cfg:        cfg,
		logger:     logger,
	}
	if cfg.PrivateKey != "" {
		c.signer, c.signerErr = newLocalSigner(cfg.PrivateKey, cfg.ChainID)
		if c.signerErr != nil {
			logger.Error("Ledger private key rejected, ledger sends disabled", zap.Error(c.signerErr))
		}
	}
	return c
}

func (c *RPCLedgerClient) configured() bool {
	if c.cfg.Endpoint == "" || c.cfg.ContractAddress == "" {
		return false
	}
	return c.signer != nil || c.cfg.FromAddress != ""
}

// SubmitSOS broadcasts sendSOS(name, location, message) and returns the tx hash.
func (c *RPCLedgerClient) SubmitSOS(ctx context.Context, name, location, message string) (string, error) {
	if c.signerErr != nil {
		return "", fmt.Errorf("%w: %v", ErrLedgerNotConfigured, c.signerErr)
	}
	if !c.configured() {
		return "", ErrLedgerNotConfigured
	}

	data := EncodeSendSOS(name, location, message)
	if c.signer != nil {
		return c.submitSigned(ctx, data)
	}

	tx := map[string]string{
		"from": c.cfg.FromAddress,
		"to":   c.cfg.ContractAddress,
		"data": "0x" + hex.EncodeToString(data),
	}
	if c.cfg.GasLimit > 0 {
		tx["gas"] = "0x" + strconv.FormatUint(c.cfg.GasLimit, 16)
	}

	var txHash string
	if err := c.call(ctx, "eth_sendTransaction", []interface{}{tx}, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// WaitConfirmed polls for the receipt until it appears or ctx ends.
func (c *RPCLedgerClient) WaitConfirmed(ctx context.Context, txHash string) (Confirmation, error) {
	if c.cfg.Endpoint == "" {
		return Confirmation{}, ErrLedgerNotConfigured
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.getReceipt(ctx, txHash)
		switch {
		case err != nil:
			lastErr = err
			c.logger.Debug("Receipt poll failed", zap.String("tx_hash", txHash), zap.Error(err))
		case receipt != nil:
			return c.confirmationFor(ctx, txHash, receipt)
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return Confirmation{}, fmt.Errorf("%w: %v (last error: %v)", ErrConfirmationTimeout, ctx.Err(), lastErr)
			}
			return Confirmation{}, fmt.Errorf("%w: %v", ErrConfirmationTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Ping asks the node for the latest block number.
func (c *RPCLedgerClient) Ping(ctx context.Context) error {
	if c.cfg.Endpoint == "" {
		return ErrLedgerNotConfigured
	}
	var blockNumber string
	return c.call(ctx, "eth_blockNumber", []interface{}{}, &blockNumber)
}

func (c *RPCLedgerClient) getReceipt(ctx context.Context, txHash string) (*txReceipt, error) {
	var receipt *txReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return nil, err
	}
	if receipt == nil || receipt.BlockNumber == "" {
		return nil, nil
	}
	return receipt, nil
}

func (c *RPCLedgerClient) confirmationFor(ctx context.Context, txHash string, receipt *txReceipt) (Confirmation, error) {
	blockNumber, err := parseHexUint(receipt.BlockNumber)
	if err != nil {
		return Confirmation{}, fmt.Errorf("invalid block number %q: %w", receipt.BlockNumber, err)
	}
	if receipt.Status == "0x0" {
		return Confirmation{}, fmt.Errorf("%w: %s in block %d", ErrTransactionReverted, txHash, blockNumber)
	}

	conf := Confirmation{TxHash: txHash, BlockNumber: blockNumber, ConfirmedAt: time.Now()}

	var header *blockHeader
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{receipt.BlockNumber, false}, &header); err != nil {
		c.logger.Warn("Failed to read block timestamp, using local time",
			zap.String("tx_hash", txHash),
			zap.Uint64("block_number", blockNumber),
			zap.Error(err),
		)
		return conf, nil
	}
	if header != nil {
		if ts, err := parseHexUint(header.Timestamp); err == nil {
			conf.ConfirmedAt = time.Unix(int64(ts), 0).UTC()
		}
	}
	return conf, nil
}

func (c *RPCLedgerClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	if resp.IsError() {
		return &StatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// FunctionSelector returns the first four bytes of Keccak-256(signature).
func FunctionSelector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// EncodeSendSOS ABI-encodes a sendSOS(string,string,string) call.
func EncodeSendSOS(name, location, message string) []byte {
	args := []string{name, location, message}

	out := append([]byte{}, FunctionSelector(sendSOSSignature)...)
	var tail []byte
	offset := uint64(32 * len(args))
	for _, a := range args {
		out = append(out, abiWord(offset)...)
		enc := abiString(a)
		tail = append(tail, enc...)
		offset += uint64(len(enc))
	}
	return append(out, tail...)
}

func abiString(s string) []byte {
	b := []byte(s)
	padded := make([]byte, (len(b)+31)/32*32)
	copy(padded, b)
	return append(abiWord(uint64(len(b))), padded...)
}

func abiWord(v uint64) []byte {
	w := make([]byte, 32)
	binary.BigEndian.PutUint64(w[24:], v)
	return w
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, errors.New("empty hex quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
