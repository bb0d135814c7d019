// Package payout builds and submits payout transactions for winning rounds.
// The executor never raises: every failure is captured into the payout
// record's failed status for the lifecycle engine to persist.
package payout

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"flipd/amount"
	"flipd/game"
)

// ChainClient is the subset of the Ethereum RPC the executor needs.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config carries the payout signing setup.
type Config struct {
	// Org is the paying address: the signer for direct payouts, the safe
	// owner for mediated ones.
	Org string
	// Safe, when set, routes payouts through the multi-signature wallet.
	Safe string
	// ChainID signs transactions for the right network.
	ChainID *big.Int
}

// Executor submits payout transactions and reports their terminal state.
type Executor struct {
	client       ChainClient
	cfg          Config
	key          *ecdsa.PrivateKey
	logger       *slog.Logger
	now          func() time.Time
	pollInterval time.Duration
	waitBudget   time.Duration
}

// ExecutorOption customises the executor.
type ExecutorOption func(*Executor)

// WithClock sets the timestamp source.
func WithClock(clock func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = clock }
}

// WithPollInterval sets the receipt polling cadence.
func WithPollInterval(interval time.Duration) ExecutorOption {
	return func(e *Executor) { e.pollInterval = interval }
}

// WithLogger supplies the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor constructs the payout executor. A nil key is allowed: every
// execution then reports failed without touching the chain.
func NewExecutor(client ChainClient, cfg Config, key *ecdsa.PrivateKey, opts ...ExecutorOption) *Executor {
	exec := &Executor{
		client:       client,
		cfg:          cfg,
		key:          key,
		logger:       slog.Default(),
		now:          time.Now,
		pollInterval: 3 * time.Second,
		waitBudget:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(exec)
	}
	return exec
}

// Execute submits the payout for a winning round. All outcomes, including
// misconfiguration, land in the returned record; the method never errors.
func (e *Executor) Execute(ctx context.Context, roundID, winner, amountDecimal string) game.Payout {
	record := game.Payout{
		Status: game.PayoutPending,
		From:   strings.ToLower(e.cfg.Org),
		To:     strings.ToLower(winner),
		Amount: amountDecimal,
	}

	if e.key == nil || e.client == nil {
		return e.fail(record, "payout signer not configured")
	}
	if !common.IsHexAddress(e.cfg.Org) {
		return e.fail(record, fmt.Sprintf("org address %q invalid", e.cfg.Org))
	}
	if !common.IsHexAddress(winner) {
		return e.fail(record, fmt.Sprintf("winner address %q invalid", winner))
	}
	units, err := amount.ToBaseUnits(amountDecimal)
	if err != nil {
		return e.fail(record, fmt.Sprintf("payout amount invalid: %v", err))
	}

	signer := gethcrypto.PubkeyToAddress(e.key.PublicKey)
	to := common.HexToAddress(winner)

	var txHash common.Hash
	if strings.TrimSpace(e.cfg.Safe) != "" {
		txHash, err = e.submitViaSafe(ctx, signer, to, units)
	} else {
		txHash, err = e.submitDirect(ctx, signer, to, units)
	}
	if err != nil {
		return e.fail(record, err.Error())
	}

	if err := e.waitConfirmed(ctx, txHash); err != nil {
		record.TxHash = txHash.Hex()
		return e.fail(record, err.Error())
	}

	processedAt := e.now().UTC()
	record.Status = game.PayoutPaid
	record.TxHash = txHash.Hex()
	record.ProcessedAt = &processedAt
	e.logger.Info("payout paid", "round", roundID, "winner", record.To, "tx", record.TxHash)
	return record
}

func (e *Executor) fail(record game.Payout, reason string) game.Payout {
	processedAt := e.now().UTC()
	record.Status = game.PayoutFailed
	record.Error = reason
	record.ProcessedAt = &processedAt
	e.logger.Warn("payout failed", "winner", record.To, "err", reason)
	return record
}

// submitDirect signs and sends a plain value transfer from the org signer.
func (e *Executor) submitDirect(ctx context.Context, signer, to common.Address, units *big.Int) (common.Hash, error) {
	nonce, err := e.client.PendingNonceAt(ctx, signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{From: signer, To: &to, Value: units})
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas estimation failed: %w", err)
	}
	tx, err := types.SignNewTx(e.key, types.LatestSignerForChainID(e.cfg.ChainID), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    units,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := e.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("submit transaction: %w", err)
	}
	return tx.Hash(), nil
}

// waitConfirmed polls for the receipt and demands a successful status. A
// reverted receipt is a failure, never a paid payout.
func (e *Executor) waitConfirmed(ctx context.Context, txHash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, e.waitBudget)
	defer cancel()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
