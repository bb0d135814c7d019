package payout

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Minimal ABI for the safe's execTransaction entry point.
const safeABIJSON = `[{
    "name": "execTransaction",
    "type": "function",
    "stateMutability": "payable",
    "inputs": [
        {"name": "to", "type": "address"},
        {"name": "value", "type": "uint256"},
        {"name": "data", "type": "bytes"},
        {"name": "operation", "type": "uint8"},
        {"name": "safeTxGas", "type": "uint256"},
        {"name": "baseGas", "type": "uint256"},
        {"name": "gasPrice", "type": "uint256"},
        {"name": "gasToken", "type": "address"},
        {"name": "refundReceiver", "type": "address"},
        {"name": "signatures", "type": "bytes"}
    ],
    "outputs": [{"name": "success", "type": "bool"}]
}]`

var (
	safeABIOnce sync.Once
	safeABI     abi.ABI
	safeABIErr  error
)

func loadSafeABI() (abi.ABI, error) {
	safeABIOnce.Do(func() {
		safeABI, safeABIErr = abi.JSON(strings.NewReader(safeABIJSON))
	})
	return safeABI, safeABIErr
}

// preValidatedSignature builds the safe signature blob for an owner that is
// also the transaction submitter: r carries the owner address, s is unused,
// v=1 marks the pre-validated scheme.
func preValidatedSignature(owner common.Address) []byte {
	sig := make([]byte, 65)
	copy(sig[12:32], owner.Bytes())
	sig[64] = 1
	return sig
}

// submitViaSafe wraps the payout in a safe execTransaction: build, simulate,
// and only submit after the simulation succeeds on-chain.
func (e *Executor) submitViaSafe(ctx context.Context, signer, to common.Address, units *big.Int) (common.Hash, error) {
	parsed, err := loadSafeABI()
	if err != nil {
		return common.Hash{}, fmt.Errorf("load safe abi: %w", err)
	}
	safeAddr := common.HexToAddress(e.cfg.Safe)
	execData, err := parsed.Pack("execTransaction",
		to,
		units,
		[]byte{},
		uint8(0), // CALL
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		common.Address{},
		common.Address{},
		preValidatedSignature(signer),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode safe transaction: %w", err)
	}

	// Simulation gate: do not submit anything the chain would revert.
	ret, err := e.client.CallContract(ctx, ethereum.CallMsg{From: signer, To: &safeAddr, Data: execData}, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("safe simulation failed: %w", err)
	}
	if outputs, err := parsed.Unpack("execTransaction", ret); err == nil && len(outputs) == 1 {
		if success, ok := outputs[0].(bool); ok && !success {
			return common.Hash{}, fmt.Errorf("safe simulation failed: execTransaction returned false")
		}
	}

	nonce, err := e.client.PendingNonceAt(ctx, signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{From: signer, To: &safeAddr, Data: execData})
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas estimation failed: %w", err)
	}
	tx, err := types.SignNewTx(e.key, types.LatestSignerForChainID(e.cfg.ChainID), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &safeAddr,
		Data:     execData,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := e.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("submit transaction: %w", err)
	}
	return tx.Hash(), nil
}
