package api

import (
	"context"
	"fmt"
	"net/url"
)

// CreateSign submits a message or typed-data signing request. The returned
// popup URL points at the remote review UI.
func (c *Client) CreateSign(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	req CreateSignRequest,
) (CreateSignResult, error) {
	var envelope signCreateEnvelope
	err := c.WithAuth(ctx, token, onUnauthorized, func(ctx context.Context, token string) error {
		return c.postJSON(ctx, "/user/sign", token, req, &envelope)
	})
	if err != nil {
		return CreateSignResult{}, err
	}

	result := envelope.extract()
	if result.SignID == "" {
		return CreateSignResult{}, fmt.Errorf(
			"%w: create sign response missing sign_id", ErrMalformedResponse)
	}

	return result, nil
}

// GetSignStatus fetches and normalizes the status of a sign request.
func (c *Client) GetSignStatus(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	id string,
) (SignStatus, error) {
	var status SignStatus
	err := c.WithAuth(ctx, token, onUnauthorized, func(ctx context.Context, token string) error {
		return c.getJSON(ctx, "/user/sign/"+url.PathEscape(id), token, &status)
	})
	if err != nil {
		return SignStatus{}, err
	}
	if status.SignID == "" {
		status.SignID = id
	}
	return status, nil
}

// WaitForSignCompletion polls until the sign request is signed, returning
// the final status. A rejection raises ErrUserRejected; expired and failed
// states raise too, as does a signed status without a signature, which is
// reported distinctly.
func (c *Client) WaitForSignCompletion(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	id string,
) (SignStatus, error) {
	networkFailures := 0

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		status, err := c.GetSignStatus(ctx, token, onUnauthorized, id)
		if err != nil {
			if ctx.Err() != nil {
				return SignStatus{}, ctx.Err()
			}
			if IsUnauthorized(err) {
				return SignStatus{}, err
			}

			networkFailures++
			c.logger.Debug("api: sign status poll failed, backing off",
				"sign_id", id, "error", err)
			if sleepErr := sleep(ctx, c.backoffDelay(networkFailures)); sleepErr != nil {
				return SignStatus{}, sleepErr
			}
			continue
		}
		networkFailures = 0

		switch status.Status {
		case SignStateSigned:
			if status.Signature == "" {
				return SignStatus{}, fmt.Errorf(
					"api: sign request %s completed but no signature was returned", id)
			}
			return status, nil
		case SignStateRejected:
			return SignStatus{}, fmt.Errorf("%w: sign request %s", ErrUserRejected, id)
		case SignStateExpired:
			return SignStatus{}, fmt.Errorf("api: sign request %s expired", id)
		case SignStateFailed:
			return SignStatus{}, fmt.Errorf("api: sign request %s failed: %s",
				id, firstNonEmpty(status.Error, "unknown error"))
		}

		if err := sleep(ctx, c.pollInterval); err != nil {
			return SignStatus{}, err
		}
	}

	return SignStatus{}, fmt.Errorf(
		"%w: sign request %s produced no result after %d attempts",
		ErrTimeout, id, c.pollAttempts)
}
