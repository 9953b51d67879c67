package provider

import (
	"context"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// switchChainParams is the positional parameter shared by the EIP-3326
// chain methods.
type switchChainParams struct {
	ChainID string `json:"chainId"`
}

// switchChainRequest handles wallet_switchEthereumChain.
func (p *Provider) switchChainRequest(ctx context.Context, params []any) error {
	var args switchChainParams
	if err := decodeParam(params, 0, &args); err != nil {
		return err
	}

	chainID, err := parseChainID(args.ChainID)
	if err != nil {
		return errInvalidParams("invalid chain id %q", args.ChainID)
	}

	return p.SwitchChain(ctx, chainID)
}

// SwitchChain moves the session onto another chain. When a supported-chain
// allowlist is known and excludes the target, an informational page opens
// and the switch fails without touching the session.
func (p *Provider) SwitchChain(ctx context.Context, chainID uint64) error {
	p.mu.Lock()
	if p.sess == nil {
		p.mu.Unlock()
		return errNoSession()
	}

	if !chainAllowed(p.sess.SupportedChains, chainID) {
		p.mu.Unlock()
		p.openUnsupportedChainWindow(ctx)
		return errUnsupported("chain %d is not supported by this wallet", chainID)
	}

	if p.sess.ChainID == chainID {
		p.mu.Unlock()
		return nil
	}

	p.sess.ChainID = chainID
	sess := *p.sess
	p.mu.Unlock()

	if err := p.store.Save(ctx, sess); err != nil {
		p.logger.Warn("provider: persisting chain switch failed", "error", err)
	}

	p.events.emit(EventChainChanged, hexutil.EncodeUint64(chainID))
	return nil
}

// addChainRequest handles wallet_addEthereumChain. The wallet's chain set
// is managed remotely, so this only validates against the allowlist and
// otherwise succeeds as a no-op.
func (p *Provider) addChainRequest(params []any) error {
	sess, err := p.snapshot()
	if err != nil {
		return err
	}

	var args switchChainParams
	if err := decodeParam(params, 0, &args); err != nil {
		return err
	}

	chainID, err := parseChainID(args.ChainID)
	if err != nil {
		return errInvalidParams("invalid chain id %q", args.ChainID)
	}

	if !chainAllowed(sess.SupportedChains, chainID) {
		return errUnsupported("chain %d is not supported by this wallet", chainID)
	}
	return nil
}

// capabilities returns the EIP-5792 per-chain capability map. No optional
// capabilities are advertised yet; the keys still declare which chains the
// wallet serves.
func (p *Provider) capabilities() (any, error) {
	sess, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	chains := sess.SupportedChains
	if len(chains) == 0 {
		chains = []uint64{sess.ChainID}
	}

	out := make(map[string]map[string]any, len(chains))
	for _, chain := range chains {
		out[hexutil.EncodeUint64(chain)] = map[string]any{}
	}
	return out, nil
}

func (p *Provider) openUnsupportedChainWindow(ctx context.Context) {
	if _, err := p.windows.Open(ctx, p.frontendURL+"/error/unsupported-chain"); err != nil {
		p.logger.Warn("provider: opening unsupported-chain page failed", "error", err)
	}
}

// chainAllowed checks chainID against an allowlist. An empty allowlist
// permits everything: the identity endpoint did not declare one.
func chainAllowed(allowlist []uint64, chainID uint64) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, c := range allowlist {
		if c == chainID {
			return true
		}
	}
	return false
}

// parseChainID accepts hex (0x-prefixed, per EIP-3326) and decimal chain
// id spellings.
func parseChainID(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hexutil.DecodeUint64(strings.ToLower(s))
	}
	return strconv.ParseUint(s, 10, 64)
}
