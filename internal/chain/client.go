package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"bondkeeper/internal/logging"
)

// Backend is the subset of ethclient.Client used by the keeper.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Options parameterise the chain client.
type Options struct {
	RPCURL          string
	ChainID         int64
	PrivateKey      string
	ContractAddress string
	RequestTimeout  time.Duration
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

// Client binds the keeper key to one BondSeries contract.
type Client struct {
	opts     Options
	logger   zerolog.Logger
	key      *ecdsa.PrivateKey
	keeper   common.Address
	contract common.Address
	chainID  *big.Int

	dial      func(ctx context.Context, url string) (Backend, error)
	backend   Backend
	backendMu sync.Mutex
}

// New validates the options and prepares a client. The RPC connection is
// established on first use.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("chain rpc url not configured")
	}
	if opts.ChainID <= 0 {
		return nil, errors.New("chain id must be positive")
	}
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", opts.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse keeper private key: %w", err)
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}

	return &Client{
		opts:     opts,
		logger:   logging.Component(logger, "chain"),
		key:      key,
		keeper:   crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(opts.ContractAddress),
		chainID:  big.NewInt(opts.ChainID),
		dial:     dialEthclient,
	}, nil
}

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Close releases the RPC connection if one was opened.
func (c *Client) Close() {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

// KeeperAddress is the account derived from the signing key.
func (c *Client) KeeperAddress() common.Address { return c.keeper }

// ContractAddress is the bound BondSeries address.
func (c *Client) ContractAddress() common.Address { return c.contract }

func (c *Client) getBackend(ctx context.Context) (Backend, error) {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()

	if c.backend != nil {
		return c.backend, nil
	}

	backend, err := c.dial(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, &RPCError{Op: "dial", Err: err}
	}
	c.backend = backend
	return backend, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.RequestTimeout)
}

// Balance returns the native balance of account in wei.
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, &RPCError{Op: "balance", Err: err}
	}
	return balance, nil
}

// BlockNumber returns the current head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	backend, err := c.getBackend(ctx)
	if err != nil {
		return 0, err
	}
	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return 0, &RPCError{Op: "blockNumber", Err: err}
	}
	return head, nil
}

// BlockTime returns the timestamp of the given block.
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	backend, err := c.getBackend(ctx)
	if err != nil {
		return time.Time{}, err
	}
	header, err := backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, &RPCError{Op: "header", Err: err}
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := bondSeriesABI.Pack(method, args...)
	if err != nil {
		return nil, &RPCError{Op: method, Err: err}
	}

	res, err := backend.CallContract(ctx, ethereum.CallMsg{From: c.keeper, To: &c.contract, Data: payload}, nil)
	if err != nil {
		return nil, &RPCError{Op: method, Err: err}
	}

	outputs, err := bondSeriesABI.Unpack(method, res)
	if err != nil {
		return nil, &RPCError{Op: method, Err: fmt.Errorf("decode output: %w", err)}
	}
	return outputs, nil
}

func (c *Client) callUint(ctx context.Context, method string) (*big.Int, error) {
	outputs, err := c.call(ctx, method)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, &RPCError{Op: method, Err: fmt.Errorf("unexpected output count %d", len(outputs))}
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, &RPCError{Op: method, Err: fmt.Errorf("unexpected output type %T", outputs[0])}
	}
	return value, nil
}

// NextRecordTime is the earliest unix time at which recordSnapshot succeeds.
func (c *Client) NextRecordTime(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "nextRecordTime")
}

// RecordCount is the number of snapshots recorded so far.
func (c *Client) RecordCount(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "recordCount")
}

// LastDistributedRecord is the highest record id whose coupon was paid.
func (c *Client) LastDistributedRecord(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "lastDistributedRecord")
}

// ReadSeriesInfo reads getSeriesInfo().
func (c *Client) ReadSeriesInfo(ctx context.Context) (SeriesInfo, error) {
	outputs, err := c.call(ctx, "getSeriesInfo")
	if err != nil {
		return SeriesInfo{}, err
	}

	var info SeriesInfo
	if err := bondSeriesABI.Methods["getSeriesInfo"].Outputs.Copy(&info, outputs); err != nil {
		return SeriesInfo{}, &RPCError{Op: "getSeriesInfo", Err: err}
	}
	return info, nil
}

// ReadSnapshot reads snapshots(index).
func (c *Client) ReadSnapshot(ctx context.Context, index *big.Int) (Snapshot, error) {
	outputs, err := c.call(ctx, "snapshots", index)
	if err != nil {
		return Snapshot{}, err
	}

	var snap struct {
		RecordId        *big.Int
		Timestamp       *big.Int
		TotalSupply     *big.Int
		TreasuryBalance *big.Int
	}
	if err := bondSeriesABI.Methods["snapshots"].Outputs.Copy(&snap, outputs); err != nil {
		return Snapshot{}, &RPCError{Op: "snapshots", Err: err}
	}
	return Snapshot{
		RecordID:        snap.RecordId,
		Timestamp:       snap.Timestamp,
		TotalSupply:     snap.TotalSupply,
		TreasuryBalance: snap.TreasuryBalance,
	}, nil
}

// SubmitSnapshot sends recordSnapshot() and waits for the receipt.
func (c *Client) SubmitSnapshot(ctx context.Context) (Receipt, error) {
	dialCtx, cancelDial := c.withTimeout(ctx)
	backend, err := c.getBackend(dialCtx)
	cancelDial()
	if err != nil {
		return Receipt{}, err
	}

	payload, err := bondSeriesABI.Pack("recordSnapshot")
	if err != nil {
		return Receipt{}, &RPCError{Op: "recordSnapshot", Err: err}
	}

	tx, err := c.buildTx(ctx, backend, payload)
	if err != nil {
		return Receipt{}, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign transaction: %w", err)
	}

	sendCtx, cancel := c.withTimeout(ctx)
	err = backend.SendTransaction(sendCtx, signed)
	cancel()
	if err != nil {
		return Receipt{}, classifyTxError("sendTransaction", err)
	}

	hash := signed.Hash()
	c.logger.Info().Str("tx", hash.Hex()).Uint64("nonce", signed.Nonce()).Msg("transaction sent, waiting for confirmation")

	mined, err := c.waitMined(ctx, backend, hash)
	if err != nil {
		return Receipt{TxHash: hash}, err
	}

	receipt := Receipt{
		BlockNumber: mined.BlockNumber.Uint64(),
		GasUsed:     mined.GasUsed,
		TxHash:      hash,
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		return receipt, &RevertError{Kind: RevertOther, Reason: fmt.Sprintf("transaction %s reverted in block %d", hash.Hex(), receipt.BlockNumber)}
	}
	return receipt, nil
}

func (c *Client) buildTx(ctx context.Context, backend Backend, payload []byte) (*types.Transaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	nonce, err := backend.PendingNonceAt(ctx, c.keeper)
	if err != nil {
		return nil, &RPCError{Op: "pendingNonce", Err: err}
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &RPCError{Op: "gasPrice", Err: err}
	}

	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.keeper,
		To:       &c.contract,
		GasPrice: gasPrice,
		Data:     payload,
	})
	if err != nil {
		return nil, classifyTxError("estimateGas", err)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas + gas/5,
		To:       &c.contract,
		Value:    new(big.Int),
		Data:     payload,
	}), nil
}

// waitMined polls for the receipt until it appears or ConfirmTimeout elapses.
func (c *Client) waitMined(ctx context.Context, backend Backend, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	for {
		receipt, err := backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			c.logger.Debug().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup failed, retrying")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TimeoutError{TxHash: hash, Waited: time.Since(started)}
		case <-ticker.C:
		}
	}
}

// QueryEvents returns the named contract events in [fromBlock, toBlock], in log order.
func (c *Client) QueryEvents(ctx context.Context, name string, fromBlock, toBlock uint64) ([]Event, error) {
	event, ok := bondSeriesABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return nil, &RPCError{Op: "getLogs " + name, Err: err}
	}

	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		decoded, err := decodeEvent(event, lg)
		if err != nil {
			return nil, &RPCError{Op: "decode " + name, Err: err}
		}
		events = append(events, decoded)
	}
	return events, nil
}

func decodeEvent(event abi.Event, lg types.Log) (Event, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
		return Event{}, fmt.Errorf("log %s:%d is not %s", lg.TxHash.Hex(), lg.Index, event.Name)
	}

	fields := make(map[string]any, len(event.Inputs))
	if len(lg.Data) > 0 {
		if err := event.Inputs.UnpackIntoMap(fields, lg.Data); err != nil {
			return Event{}, err
		}
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
			return Event{}, err
		}
	}

	return Event{
		Name:        event.Name,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		Fields:      fields,
	}, nil
}

var _ BondSeries = (*Client)(nil)
