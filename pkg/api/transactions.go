package api

import (
	"context"
	"fmt"
	"net/url"
)

// CreateTransaction submits a transaction for bundling. The backend returns
// an opaque id the caller polls with GetTransactionStatus. Responses arrive
// in both top-level and data-enveloped shapes; either is accepted, but a
// response without an id is malformed.
func (c *Client) CreateTransaction(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	req CreateTransactionRequest,
) (CreateTransactionResult, error) {
	var envelope createEnvelope
	err := c.WithAuth(ctx, token, onUnauthorized, func(ctx context.Context, token string) error {
		return c.postJSON(ctx, "/transactions/create", token, req, &envelope)
	})
	if err != nil {
		return CreateTransactionResult{}, err
	}

	id, status := envelope.extract()
	if id == "" {
		return CreateTransactionResult{}, fmt.Errorf(
			"%w: create transaction response missing id", ErrMalformedResponse)
	}

	return CreateTransactionResult{ID: id, Status: status}, nil
}

// GetTransactionStatus fetches and normalizes the status of a transaction.
func (c *Client) GetTransactionStatus(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	id string,
) (TransactionStatus, error) {
	var status TransactionStatus
	err := c.WithAuth(ctx, token, onUnauthorized, func(ctx context.Context, token string) error {
		return c.getJSON(ctx, "/transactions/"+url.PathEscape(id)+"/status", token, &status)
	})
	if err != nil {
		return TransactionStatus{}, err
	}
	if status.ID == "" {
		status.ID = id
	}
	return status, nil
}

// waitForTransaction polls the status endpoint until done reports a result,
// the backend reports failure, or the attempt ceiling is exhausted. Network
// and 5xx failures back off exponentially rather than surfacing.
func (c *Client) waitForTransaction(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	id string,
	done func(TransactionStatus) bool,
) (TransactionStatus, error) {
	networkFailures := 0

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		status, err := c.GetTransactionStatus(ctx, token, onUnauthorized, id)
		if err != nil {
			if ctx.Err() != nil {
				return TransactionStatus{}, ctx.Err()
			}
			if IsUnauthorized(err) {
				// Refresh already retried once; a second 401 is terminal.
				return TransactionStatus{}, err
			}

			networkFailures++
			c.logger.Debug("api: transaction status poll failed, backing off",
				"tx_id", id, "error", err)
			if sleepErr := sleep(ctx, c.backoffDelay(networkFailures)); sleepErr != nil {
				return TransactionStatus{}, sleepErr
			}
			continue
		}
		networkFailures = 0

		if done(status) {
			return status, nil
		}

		if status.Status == StatusFailed {
			return status, fmt.Errorf("api: transaction %s failed: %s",
				id, firstNonEmpty(status.Error, "unknown error"))
		}

		if err := sleep(ctx, c.pollInterval); err != nil {
			return TransactionStatus{}, err
		}
	}

	return TransactionStatus{}, fmt.Errorf(
		"%w: transaction %s produced no result after %d attempts",
		ErrTimeout, id, c.pollAttempts)
}

// WaitForTransactionHash polls until a transaction hash appears and returns
// it. It resolves as soon as a hash exists even when the transaction is not
// yet completed: downstream confirmation is the dApp's responsibility.
func (c *Client) WaitForTransactionHash(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	id string,
) (string, error) {
	status, err := c.waitForTransaction(ctx, token, onUnauthorized, id,
		func(s TransactionStatus) bool { return s.Hash != "" })
	if err != nil {
		return "", err
	}
	return status.Hash, nil
}

// WaitForTransactionCompletion polls until the transaction reaches a
// terminal status, returning the completed status or the failure error.
func (c *Client) WaitForTransactionCompletion(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	id string,
) (TransactionStatus, error) {
	return c.waitForTransaction(ctx, token, onUnauthorized, id,
		func(s TransactionStatus) bool { return s.Status == StatusCompleted })
}
