// ABOUTME: ERC-721 transfers on EVM networks.
// ABOUTME: Calldata is packed by hand; gas comes from eth_estimateGas.

package chains

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NFTTransferrer is implemented by adapters whose network supports NFT
// ownership transfers.
type NFTTransferrer interface {
	TransferNFT(ctx context.Context, secret []byte, index uint32, to, contract, tokenID string) (string, error)
}

// parseTokenID accepts decimal or 0x-prefixed hex token ids.
func parseTokenID(s string) (*big.Int, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	id, ok := new(big.Int).SetString(s, base)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", s)
	}
	return id, nil
}

// TransferNFT calls transferFrom(owner, to, tokenId) on an ERC-721 contract
// and returns the transaction hash.
func (e *EVM) TransferNFT(ctx context.Context, secret []byte, index uint32, to, contract, tokenID string) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid EVM recipient %q", to)
	}
	if !common.IsHexAddress(contract) {
		return "", fmt.Errorf("invalid contract address %q", contract)
	}
	token, err := parseTokenID(tokenID)
	if err != nil {
		return "", err
	}

	priv, err := e.privateKey(secret, index)
	if err != nil {
		return "", err
	}
	defer zeroKey(priv)
	from := ethcrypto.PubkeyToAddress(priv.PublicKey)
	toAddr := common.HexToAddress(to)
	contractAddr := common.HexToAddress(contract)

	// transferFrom(address,address,uint256)
	selector := ethcrypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]
	data := make([]byte, 0, 4+3*32)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(from.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(toAddr.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)

	client, err := e.dial(ctx)
	if err != nil {
		return "", err
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &contractAddr,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("estimating gas: %w", err)
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
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		To:        &contractAddr,
		Value:     big.NewInt(0),
		Gas:       gas,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), priv)
	if err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcasting transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	e.logger.Info("transferred NFT", "contract", contract, "token_id", tokenID, "to", to, "txid", hash)
	e.confirmBroadcast(ctx, client, signed.Hash())
	return hash, nil
}
