// ABOUTME: EVM adapter: secp256k1 address derivation and native transfers.
// ABOUTME: Balances and sends go through go-ethereum's JSON-RPC client.

package chains

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Bounds for the post-broadcast confirmation wait.
const (
	receiptAttempts = 20
	receiptBackoff  = 500 * time.Millisecond
)

// EVM talks to one EVM-compatible network.
type EVM struct {
	rpcURL  string
	chainID *big.Int
	logger  *slog.Logger

	mu     sync.Mutex
	client *ethclient.Client
}

// NewEVM builds an adapter for the network behind rpcURL. The connection is
// dialed lazily on first network use, so address derivation works offline.
func NewEVM(rpcURL string, chainID int64) *EVM {
	return &EVM{
		rpcURL:  rpcURL,
		chainID: big.NewInt(chainID),
		logger:  slog.Default().With("component", "chains.evm"),
	}
}

func (e *EVM) Name() string { return "evm" }

// DeriveAddress derives the secp256k1 key for (secret, index) and returns its
// checksummed address.
func (e *EVM) DeriveAddress(secret []byte, index uint32) (string, error) {
	priv, err := e.privateKey(secret, index)
	if err != nil {
		return "", err
	}
	defer zeroKey(priv)
	return ethcrypto.PubkeyToAddress(priv.PublicKey).Hex(), nil
}

func (e *EVM) privateKey(secret []byte, index uint32) (*ecdsa.PrivateKey, error) {
	km, err := DeriveKeyMaterial(secret, e.Name(), index)
	if err != nil {
		return nil, err
	}
	priv, err := ethcrypto.ToECDSA(km[:])
	if err != nil {
		return nil, fmt.Errorf("deriving secp256k1 key: %w", err)
	}
	return priv, nil
}

func (e *EVM) dial(ctx context.Context) (*ethclient.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := ethclient.DialContext(ctx, e.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing EVM RPC %s: %w", e.rpcURL, err)
	}
	e.client = client
	return client, nil
}

// Balance returns the native balance in wei.
func (e *EVM) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid EVM address %q", address)
	}
	client, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	bal, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching EVM balance: %w", err)
	}
	return bal, nil
}

// Send signs and broadcasts a native transfer of amount wei and returns the
// transaction hash.
func (e *EVM) Send(ctx context.Context, secret []byte, index uint32, to string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid EVM recipient %q", to)
	}

	priv, err := e.privateKey(secret, index)
	if err != nil {
		return "", err
	}
	defer zeroKey(priv)
	from := ethcrypto.PubkeyToAddress(priv.PublicKey)

	client, err := e.dial(ctx)
	if err != nil {
		return "", err
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("fetching nonce: %w", err)
	}
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching gas tip: %w", err)
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("fetching chain head: %w", err)
	}
	// feeCap = 2*baseFee + tip leaves headroom for the next blocks.
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)

	toAddr := common.HexToAddress(to)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		To:        &toAddr,
		Value:     amount,
		Gas:       21000, // native transfer
		GasFeeCap: feeCap,
		GasTipCap: tip,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), priv)
	if err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcasting transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	e.logger.Info("sent EVM transaction", "from", from.Hex(), "to", to, "txid", hash)
	e.confirmBroadcast(ctx, client, signed.Hash())
	return hash, nil
}

// receiptReader is the slice of the RPC client the confirmation wait needs.
type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// waitForReceipt polls for the receipt of a transaction that is already
// broadcast. A missing receipt within the budget is not an error, and neither
// is a flaky RPC mid-poll: the transfer itself is done, confirmation is
// best-effort.
func waitForReceipt(ctx context.Context, r receiptReader, hash common.Hash, attempts int, backoff time.Duration) (*types.Receipt, error) {
	var receipt *types.Receipt
	_, err := Poll(ctx, attempts, backoff, func(ctx context.Context) (bool, error) {
		rcpt, err := r.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			receipt = rcpt
			return true, nil
		case errors.Is(err, ethereum.NotFound):
			return false, nil
		case ctx.Err() != nil:
			return false, ctx.Err()
		default:
			// Transient RPC failure; keep polling.
			return false, nil
		}
	})
	return receipt, err
}

// confirmBroadcast waits briefly for the receipt so the log records whether
// the transaction landed. The txid was already returned to the caller either
// way.
func (e *EVM) confirmBroadcast(ctx context.Context, client *ethclient.Client, hash common.Hash) {
	rcpt, err := waitForReceipt(ctx, client, hash, receiptAttempts, receiptBackoff)
	switch {
	case err != nil:
		e.logger.Warn("receipt wait aborted", "txid", hash.Hex(), "error", err)
	case rcpt == nil:
		e.logger.Info("transaction not yet mined", "txid", hash.Hex())
	default:
		e.logger.Info("transaction mined", "txid", hash.Hex(), "block", rcpt.BlockNumber, "status", rcpt.Status)
	}
}

// zeroKey clears the private scalar.
func zeroKey(priv *ecdsa.PrivateKey) {
	if priv != nil && priv.D != nil {
		priv.D.SetInt64(0)
	}
}
