package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/baseswap/orchestrator/pkg/logging"
)

// Topic hashes for the source-chain escrow contract's events, computed
// the same way the teacher's htlc.Client binds contract events: the
// keccak256 of the canonical event signature.
var (
	topicEscrowCreated = crypto.Keccak256Hash([]byte("EscrowCreated(bytes32,address,address,uint256,uint256)"))
	topicWithdrawn     = crypto.Keccak256Hash([]byte("Withdrawn(bytes32,bytes32)"))
	topicCancelled     = crypto.Keccak256Hash([]byte("Cancelled(bytes32)"))
)

// SourceChainClient adapts an EVM-style chain (e.g. BASE) via
// go-ethereum's ethclient, decoding Solidity events by topic hash per
// spec §4.2.
type SourceChainClient struct {
	client          *ethclient.Client
	contractAddress common.Address
	confirmations   uint64
	cursor          *Cursor
	backoff         *backoff
	pollInterval    time.Duration
	log             *logging.Logger

	lastSuccess time.Time
}

// NewSourceChainClient dials rpcURL and watches events emitted by
// contractAddress, requiring confirmations blocks of depth before
// emitting (k=5 default per spec §4.2).
func NewSourceChainClient(rpcURL string, contractAddress common.Address, confirmations uint64, stateDir string) (*SourceChainClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing source chain RPC: %w", err)
	}

	cursor, err := OpenCursor(stateDir, "src")
	if err != nil {
		client.Close()
		return nil, err
	}

	return &SourceChainClient{
		client:          client,
		contractAddress: contractAddress,
		confirmations:   confirmations,
		cursor:          cursor,
		backoff:         newBackoff(),
		pollInterval:    12 * time.Second,
		log:             logging.GetDefault().Component("chain.src"),
	}, nil
}

// HeadBlock returns the current source chain head.
func (c *SourceChainClient) HeadBlock(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	head, err := c.client.BlockNumber(callCtx)
	if err != nil {
		return 0, fmt.Errorf("fetching head block: %w", err)
	}
	c.lastSuccess = time.Now()
	return head, nil
}

// WatchEvents polls for confirmed logs from fromBlock onward, surfacing
// ClientUnavailableError (never dropping silently) when the RPC is down.
func (c *SourceChainClient) WatchEvents(ctx context.Context, fromBlock uint64) (<-chan DecodedEvent, <-chan error) {
	events := make(chan DecodedEvent, 64)
	errs := make(chan error, 4)

	if fromBlock < c.cursor.Value() {
		fromBlock = c.cursor.Value()
	}

	go func() {
		defer close(events)
		defer close(errs)

		next := fromBlock
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			head, err := c.HeadBlock(ctx)
			if err != nil {
				errs <- &ClientUnavailableError{Chain: "source", Cause: err}
				continue
			}
			if head < c.confirmations {
				continue
			}
			safeHead := head - c.confirmations
			if next > safeHead {
				continue
			}

			logs, err := c.fetchLogs(ctx, next, safeHead)
			if err != nil {
				errs <- &ClientUnavailableError{Chain: "source", Cause: err}
				continue
			}

			for _, lg := range logs {
				ev, ok := decodeLog(lg)
				if ok {
					events <- ev
				}
			}

			if err := c.cursor.Advance(safeHead + 1); err != nil {
				c.log.Error("failed to persist source cursor", "error", err)
			}
			next = safeHead + 1
		}
	}()

	return events, errs
}

func (c *SourceChainClient) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var logs []types.Log
	err := c.backoff.Run(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.contractAddress},
		}

		var err error
		logs, err = c.client.FilterLogs(callCtx, query)
		if err == nil {
			c.lastSuccess = time.Now()
		}
		return err
	})
	return logs, err
}

func decodeLog(lg types.Log) (DecodedEvent, bool) {
	if len(lg.Topics) == 0 {
		return DecodedEvent{}, false
	}

	ev := DecodedEvent{
		ContractRef: lg.Address.Hex(),
		TxRef:       lg.TxHash.Hex(),
		LogIndex:    uint32(lg.Index),
		BlockNumber: lg.BlockNumber,
		Extras:      map[string]string{},
	}

	switch lg.Topics[0] {
	case topicEscrowCreated:
		// Non-indexed data is (address maker, address taker, uint256
		// amount, uint256 timelock), each right-aligned to a 32-byte
		// word: the two addresses occupy the first two words, amount
		// the third, timelock the fourth.
		ev.Kind = EventEscrowCreated
		if len(lg.Topics) > 1 {
			ev.Hashlock = lg.Topics[1]
		}
		if len(lg.Data) >= 96 {
			ev.Amount = new(big.Int).SetBytes(lg.Data[64:96])
		}
		if len(lg.Data) >= 128 {
			ev.Timelock = time.Unix(new(big.Int).SetBytes(lg.Data[96:128]).Int64(), 0).UTC()
		}
	case topicWithdrawn:
		ev.Kind = EventWithdrawn
		if len(lg.Topics) > 1 {
			ev.Hashlock = lg.Topics[1]
		}
		if len(lg.Data) >= 32 {
			copy(ev.Secret[:], lg.Data[:32])
		}
	case topicCancelled:
		ev.Kind = EventCancelled
		if len(lg.Topics) > 1 {
			ev.Hashlock = lg.Topics[1]
		}
	default:
		return DecodedEvent{}, false
	}

	return ev, true
}

// EstimateConfirmationTime returns a fixed estimate of time-to-finality
// on the source chain for the given urgency level; it makes no RPC call.
func (c *SourceChainClient) EstimateConfirmationTime(ctx context.Context, level ConfirmationLevel) (time.Duration, error) {
	switch level {
	case LevelFast:
		return 30 * time.Second, nil
	case LevelSlow:
		return 5 * time.Minute, nil
	default:
		return 90 * time.Second, nil
	}
}

// SubmitReadonlyCall performs a read-only contract call, used only for
// quote/price reads (spec §4.2: never for writes).
func (c *SourceChainClient) SubmitReadonlyCall(ctx context.Context, target, method string, args ...interface{}) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	addr := common.HexToAddress(target)
	msg := ethereum.CallMsg{To: &addr}
	opts := &bind.CallOpts{Context: callCtx}
	_ = opts // reserved for ABI-bound calls; raw CallContract used for arbitrary reads
	return c.client.CallContract(callCtx, msg, nil)
}

// LastProcessedBlock returns the persisted cursor value.
func (c *SourceChainClient) LastProcessedBlock() uint64 { return c.cursor.Value() }

// Available reports whether a recent RPC call succeeded.
func (c *SourceChainClient) Available() bool {
	return time.Since(c.lastSuccess) < 2*time.Minute
}

// Close releases the underlying RPC connection.
func (c *SourceChainClient) Close() { c.client.Close() }
