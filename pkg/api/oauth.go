package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ExchangeAuthorizationCode trades an authorization code plus its PKCE
// verifier for tokens. The verifier is transmitted here and nowhere else.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.appID},
		"code":          {code},
		"code_verifier": {verifier},
	}
	return c.requestToken(ctx, data)
}

// RefreshGrant requests new tokens using a refresh token.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.appID},
	}
	return c.requestToken(ctx, data)
}

func (c *Client) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/oauth/token", "",
		strings.NewReader(data.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", ErrMalformedResponse)
	}

	return &tokenResp, nil
}

// GetUserInfo fetches the wallet identity behind a bearer token.
func (c *Client) GetUserInfo(ctx context.Context, token string, onUnauthorized RefreshFunc) (*UserInfo, error) {
	var info UserInfo
	err := c.WithAuth(ctx, token, onUnauthorized, func(ctx context.Context, token string) error {
		return c.getJSON(ctx, "/user/info", token, &info)
	})
	if err != nil {
		return nil, err
	}
	if info.WalletAddress == "" {
		return nil, fmt.Errorf("%w: user info missing wallet_address", ErrMalformedResponse)
	}
	return &info, nil
}

// VerifyToken checks whether a bearer token is still accepted by the
// backend. 401 and 403 map to typed authentication errors.
func (c *Client) VerifyToken(ctx context.Context, token string) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/oauth/verify-token/", token, nil, "")
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusOK)
}

// GetAuthPollStatus performs one server-side authorization status poll for a
// state token. A 404 is reported as status "not_found", not an error: the
// record may simply not exist yet.
func (c *Client) GetAuthPollStatus(ctx context.Context, state string) (AuthPollStatus, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/oauth/poll-status/"+url.PathEscape(state), "", nil, "")
	if err != nil {
		return AuthPollStatus{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return AuthPollStatus{Status: "not_found"}, nil
	}

	var status AuthPollStatus
	if err := decodeJSON(resp, &status, http.StatusOK); err != nil {
		return AuthPollStatus{}, err
	}
	return status, nil
}

// WaitForAuthCode polls the authorization status endpoint until it reports a
// terminal result or the context is cancelled. "not_found" and "pending"
// keep polling; a 429 doubles the next wait once; 5xx and network errors
// back off exponentially up to the cap. A "completed" status must carry a
// code.
//
// The attempt ceiling is the client's poll ceiling (~5 minutes at defaults);
// the auth flow additionally bounds the whole race with its own deadline.
func (c *Client) WaitForAuthCode(ctx context.Context, state string) (string, error) {
	networkFailures := 0

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		status, err := c.GetAuthPollStatus(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			var apiErr *Error
			switch {
			case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
				// Double the wait once for this attempt.
				if sleepErr := sleep(ctx, 2*c.pollInterval); sleepErr != nil {
					return "", sleepErr
				}
				continue
			case errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError:
				return "", err
			default:
				// 5xx or transport failure: back off and keep trying.
				networkFailures++
				c.logger.Debug("api: auth poll failed, backing off", "error", err)
				if sleepErr := sleep(ctx, c.backoffDelay(networkFailures)); sleepErr != nil {
					return "", sleepErr
				}
				continue
			}
		}
		networkFailures = 0

		switch strings.ToLower(status.Status) {
		case "completed":
			if status.Code == "" {
				return "", fmt.Errorf("%w: auth poll completed without a code", ErrMalformedResponse)
			}
			return status.Code, nil
		case "error":
			return "", fmt.Errorf("api: authorization failed: %s", firstNonEmpty(status.Error, "unknown error"))
		case "expired":
			return "", fmt.Errorf("api: authorization attempt expired")
		}

		// pending / not_found: not yet created, keep polling.
		if err := sleep(ctx, c.pollInterval); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: no authorization result after %d attempts", ErrTimeout, c.pollAttempts)
}
