package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nyknyc/nyknyc-go/pkg/api"
)

// personalSign routes a personal_sign request through the remote review
// UI. Params follow the standard order: message first, then address.
func (p *Provider) personalSign(ctx context.Context, params []any) (any, error) {
	sess, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	message, err := stringParam(params, 0)
	if err != nil {
		return nil, err
	}

	encoding, text, err := classifyMessage(message)
	if err != nil {
		return nil, err
	}

	req := api.CreateSignRequest{
		Kind:            api.SignKindPersonal,
		WalletAddress:   sess.Address,
		ChainID:         sess.ChainID,
		Message:         message,
		MessageEncoding: encoding,
		MessageText:     text,
	}

	return p.runSign(ctx, sess.AccessToken, req)
}

// signTypedData routes an eth_signTypedData_v4 request. Params are
// [address, typedData] where typedData may arrive as a JSON-encoded string
// or a structured object.
func (p *Provider) signTypedData(ctx context.Context, params []any) (any, error) {
	sess, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	if len(params) < 2 {
		return nil, errInvalidParams("eth_signTypedData_v4 requires address and typed data")
	}

	typedData, err := normalizeTypedData(params[1])
	if err != nil {
		return nil, err
	}

	req := api.CreateSignRequest{
		Kind:          api.SignKindTypedData,
		WalletAddress: sess.Address,
		ChainID:       sess.ChainID,
		TypedData:     typedData,
	}

	return p.runSign(ctx, sess.AccessToken, req)
}

// runSign is the shared create/review/poll shape for both sign kinds.
func (p *Provider) runSign(ctx context.Context, token string, req api.CreateSignRequest) (any, error) {
	created, err := p.api.CreateSign(ctx, token, p.refreshFunc(token), req)
	if err != nil {
		return nil, p.failOp(fmt.Errorf("provider: create sign request: %w", err))
	}

	if created.PopupURL != "" {
		p.openSignWindow(ctx, created.SignID, created.PopupURL)
	}

	fresh := p.currentToken(token)
	status, err := p.api.WaitForSignCompletion(ctx, fresh, p.refreshFunc(fresh), created.SignID)
	if err != nil {
		if errors.Is(err, api.ErrUserRejected) {
			return nil, p.failOp(errUserRejected(
				"sign request %s was rejected by the user", created.SignID))
		}
		return nil, p.failOp(fmt.Errorf("provider: sign request %s: %w", created.SignID, err))
	}

	return status.Signature, nil
}

func (p *Provider) openSignWindow(ctx context.Context, signID, url string) {
	w, err := p.windows.Open(ctx, url)
	if err != nil {
		p.logger.Warn("provider: opening sign review window failed",
			"sign_id", signID, "error", err)
		return
	}
	p.windows.WatchClose(ctx, w, func() {
		p.logger.Debug("provider: sign window closed", "sign_id", signID)
	})
}

// classifyMessage decides how a personal_sign payload travels to the
// backend. A strict hex message must also decode to UTF-8 text so the
// review UI can show the user what they are signing; a hex message that
// does not decode is rejected before any network call. Everything else is
// sent as plain UTF-8.
func classifyMessage(message string) (encoding, text string, err error) {
	if !isStrictHex(message) {
		return api.MessageEncodingUTF8, "", nil
	}

	decoded, decodeErr := hexutil.Decode(strings.ToLower(message))
	if decodeErr != nil || !utf8.Valid(decoded) {
		return "", "", errInvalidParams(
			"hex message does not decode to valid UTF-8 text")
	}

	return api.MessageEncodingHex, string(decoded), nil
}

// isStrictHex reports whether s is a 0x-prefixed, even-length, all-hex
// string with at least one byte of payload.
func isStrictHex(s string) bool {
	if len(s) < 4 || (!strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X")) {
		return false
	}
	digits := s[2:]
	if len(digits)%2 != 0 {
		return false
	}
	for _, c := range digits {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// normalizeTypedData coerces the typed-data parameter into raw JSON.
func normalizeTypedData(param any) (json.RawMessage, error) {
	switch v := param.(type) {
	case string:
		if !json.Valid([]byte(v)) {
			return nil, errInvalidParams("typed data string is not valid JSON")
		}
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errInvalidParams("typed data is not serializable: %v", err)
		}
		return raw, nil
	}
}
