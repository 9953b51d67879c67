package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nyknyc/nyknyc-go/pkg/api"
)

// TransactionArgs is the eth_sendTransaction positional parameter.
type TransactionArgs struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"` // hex quantity
	Data  string `json:"data,omitempty"`
}

// sendTransaction submits one transaction for bundling, opens the remote
// review page and resolves with the transaction hash as soon as the backend
// reports one.
func (p *Provider) sendTransaction(ctx context.Context, params []any) (any, error) {
	sess, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	var args TransactionArgs
	if err := decodeParam(params, 0, &args); err != nil {
		return nil, err
	}

	value, err := hexWeiToDecimal(args.Value)
	if err != nil {
		return nil, errInvalidParams("invalid transaction value %q: %v", args.Value, err)
	}

	created, err := p.api.CreateTransaction(ctx, sess.AccessToken,
		p.refreshFunc(sess.AccessToken), api.CreateTransactionRequest{
			WalletAddress:   sess.Address,
			ContractAddress: args.To,
			Value:           value,
			Data:            args.Data,
			ChainID:         sess.ChainID,
		})
	if err != nil {
		return nil, p.failOp(fmt.Errorf("provider: create transaction: %w", err))
	}

	p.openReviewWindow(ctx, created.ID)

	token := p.currentToken(sess.AccessToken)
	hash, err := p.api.WaitForTransactionHash(ctx, token, p.refreshFunc(token), created.ID)
	if err != nil {
		return nil, p.failOp(fmt.Errorf("provider: transaction %s: %w", created.ID, err))
	}

	return hash, nil
}

// SendCallsParams is the wallet_sendCalls positional parameter.
type SendCallsParams struct {
	Version string      `json:"version,omitempty"`
	ChainID string      `json:"chainId"`
	From    string      `json:"from,omitempty"`
	Calls   []CallParam `json:"calls"`
}

// CallParam is one call within a wallet_sendCalls batch.
type CallParam struct {
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"` // hex quantity
	Data  string `json:"data,omitempty"`
}

// sendCalls maps an EIP-5792 batch onto the backend's one-transaction-per
// call model: each call becomes its own remote transaction, the review
// window opens for the first one, and a locally generated batch id ties the
// set together for receipt polling.
func (p *Provider) sendCalls(ctx context.Context, params []any) (any, error) {
	sess, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	var batch SendCallsParams
	if err := decodeParam(params, 0, &batch); err != nil {
		return nil, err
	}
	if len(batch.Calls) == 0 {
		return nil, errInvalidParams("wallet_sendCalls requires a non-empty calls array")
	}

	chainID, err := parseChainID(batch.ChainID)
	if err != nil {
		return nil, errInvalidParams("invalid chain id %q", batch.ChainID)
	}
	if chainID != sess.ChainID {
		return nil, errInvalidParams(
			"wallet_sendCalls chain %d does not match the active chain %d",
			chainID, sess.ChainID)
	}

	txIDs := make([]string, 0, len(batch.Calls))
	for i, call := range batch.Calls {
		value, err := hexWeiToDecimal(call.Value)
		if err != nil {
			return nil, errInvalidParams("invalid value in call %d: %v", i, err)
		}

		token := p.currentToken(sess.AccessToken)
		created, err := p.api.CreateTransaction(ctx, token, p.refreshFunc(token),
			api.CreateTransactionRequest{
				WalletAddress:   sess.Address,
				ContractAddress: call.To,
				Value:           value,
				Data:            call.Data,
				ChainID:         sess.ChainID,
			})
		if err != nil {
			return nil, p.failOp(fmt.Errorf("provider: create call %d of %d: %w",
				i+1, len(batch.Calls), err))
		}
		txIDs = append(txIDs, created.ID)

		// The review UI walks the user through every queued transaction
		// from the first one's page.
		if i == 0 {
			p.openReviewWindow(ctx, created.ID)
		}
	}

	batchID := uuid.NewString()
	p.batchMu.Lock()
	p.batches[batchID] = txIDs
	p.batchMu.Unlock()

	return batchID, nil
}

// Batch receipt statuses per EIP-5792.
const (
	BatchStatusPending   = "PENDING"
	BatchStatusConfirmed = "CONFIRMED"
)

// CallsReceipt is the wallet_getCallsReceipt result.
type CallsReceipt struct {
	Status   string        `json:"status"`
	Receipts []CallReceipt `json:"receipts,omitempty"`
}

// CallReceipt is one member receipt of a confirmed batch.
type CallReceipt struct {
	Status          string `json:"status"` // 0x1 success, 0x0 failure
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber,omitempty"`
	GasUsed         string `json:"gasUsed,omitempty"`
}

// callsReceipt reports batch state all-or-nothing: any member without a
// hash, or any member whose execution outcome cannot be determined, keeps
// the whole batch PENDING. Outcomes are never guessed.
func (p *Provider) callsReceipt(ctx context.Context, params []any) (any, error) {
	sess, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	batchID, err := stringParam(params, 0)
	if err != nil {
		return nil, err
	}

	p.batchMu.Lock()
	txIDs, ok := p.batches[batchID]
	p.batchMu.Unlock()
	if !ok {
		return nil, errInvalidParams("unknown batch id %s", batchID)
	}

	statuses := make([]api.TransactionStatus, 0, len(txIDs))
	for _, id := range txIDs {
		token := p.currentToken(sess.AccessToken)
		status, err := p.api.GetTransactionStatus(ctx, token, p.refreshFunc(token), id)
		if err != nil {
			return nil, fmt.Errorf("provider: batch %s status: %w", batchID, err)
		}
		if status.Hash == "" {
			return CallsReceipt{Status: BatchStatusPending}, nil
		}
		statuses = append(statuses, status)
	}

	receipts := make([]CallReceipt, 0, len(statuses))
	for _, status := range statuses {
		succeeded, known := status.Succeeded()
		if !known {
			return CallsReceipt{Status: BatchStatusPending}, nil
		}

		receipt := CallReceipt{Status: "0x0", TransactionHash: status.Hash}
		if succeeded {
			receipt.Status = "0x1"
		}
		if status.BlockNumber > 0 {
			receipt.BlockNumber = hexutil.EncodeUint64(status.BlockNumber)
		}
		if status.GasUsed > 0 {
			receipt.GasUsed = hexutil.EncodeUint64(status.GasUsed)
		}
		receipts = append(receipts, receipt)
	}

	return CallsReceipt{Status: BatchStatusConfirmed, Receipts: receipts}, nil
}

// openReviewWindow points a window at the transaction review page. Failure
// to open is logged, not fatal: the user can still reach the review UI
// directly and polling proceeds regardless.
func (p *Provider) openReviewWindow(ctx context.Context, txID string) {
	w, err := p.windows.Open(ctx, p.frontendURL+"/app/transactions/"+txID)
	if err != nil {
		p.logger.Warn("provider: opening transaction review window failed",
			"tx_id", txID, "error", err)
		return
	}
	p.windows.WatchClose(ctx, w, func() {
		p.logger.Debug("provider: review window closed", "tx_id", txID)
	})
}

// currentToken returns the freshest access token, falling back to the one
// captured when the operation started. A concurrent refresh may have
// replaced the snapshot's token mid-operation.
func (p *Provider) currentToken(fallback string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil && p.sess.AccessToken != "" {
		return p.sess.AccessToken
	}
	return fallback
}

// hexWeiToDecimal converts a hex wei quantity to the decimal string the
// backend expects. Empty input means zero.
func hexWeiToDecimal(value string) (string, error) {
	if value == "" {
		return "0", nil
	}
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		// Already decimal; validate it.
		d, err := decimal.NewFromString(value)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	}

	n, err := hexutil.DecodeBig(strings.ToLower(value))
	if err != nil {
		return "", err
	}
	return decimal.NewFromBigInt(n, 0).String(), nil
}
