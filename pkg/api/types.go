package api

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ============================================================================
// OAuth Types
// ============================================================================

// TokenResponse is the OAuth token endpoint response for both the
// authorization_code and refresh_token grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// UserInfo is the account identity behind a bearer token.
type UserInfo struct {
	WalletAddress   string   `json:"wallet_address"`
	CurrentChainID  uint64   `json:"current_chain_id"`
	SupportedChains []uint64 `json:"supported_chains"`
}

// AuthPollStatus is one observation of the server-side authorization poll.
type AuthPollStatus struct {
	Status string `json:"status"` // pending|completed|error|expired|not_found
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ============================================================================
// Transaction Types
// ============================================================================

// CreateTransactionRequest is the body for POST /transactions/create.
// Value is a decimal wei string per the backend contract.
type CreateTransactionRequest struct {
	WalletAddress   string `json:"wallet_address"`
	ContractAddress string `json:"contract_address,omitempty"`
	Value           string `json:"value"`
	Data            string `json:"data,omitempty"`
	ChainID         uint64 `json:"chain_id"`
}

// CreateTransactionResult is the normalized create response: the backend's
// opaque transaction id plus the canonical initial status.
type CreateTransactionResult struct {
	ID     string
	Status Status
}

// createEnvelope tolerates both top-level and data-enveloped create
// responses, and both id spellings.
type createEnvelope struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Data          *struct {
		ID            string `json:"id"`
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
	} `json:"data"`
}

func (e createEnvelope) extract() (id string, status Status) {
	id = e.ID
	if id == "" {
		id = e.TransactionID
	}
	raw := e.Status
	if e.Data != nil {
		if id == "" {
			id = e.Data.ID
		}
		if id == "" {
			id = e.Data.TransactionID
		}
		if raw == "" {
			raw = e.Data.Status
		}
	}
	return id, NormalizeStatus(raw)
}

// TransactionStatus is the normalized view of a backend-tracked transaction.
type TransactionStatus struct {
	ID              string
	Status          Status
	Hash            string
	BlockNumber     uint64
	GasUsed         uint64
	ExecutionStatus string // "success", "failed" or "" when unknown
	Error           string
}

// Succeeded reports whether the execution outcome is determinably
// successful. Outcome is only trusted from the remote status endpoint: an
// explicit execution_status wins, otherwise a terminal completed status
// counts as success and failed as failure. Anything else is unknown.
func (t TransactionStatus) Succeeded() (ok, known bool) {
	switch strings.ToLower(t.ExecutionStatus) {
	case "success", "succeeded":
		return true, true
	case "failed", "failure", "reverted":
		return false, true
	}

	switch t.Status {
	case StatusCompleted:
		return true, true
	case StatusFailed:
		return false, true
	}

	return false, false
}

// flexUint64 accepts a JSON number, a decimal string or a 0x-hex string.
// Backend numeric fields have shipped in all three encodings.
type flexUint64 uint64

func (f *flexUint64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeUint64(strings.ToLower(s))
		if err != nil {
			*f = 0
			return nil // tolerate junk, the field is optional everywhere
		}
		*f = flexUint64(v)
		return nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexUint64(v)
	return nil
}

// rawTransactionStatus tolerates the historical field spellings for the same
// concepts: snake_case, camelCase and hex-encoded numerics.
type rawTransactionStatus struct {
	ID   string `json:"id"`
	TxID string `json:"transaction_id"`

	Status string `json:"status"`

	Hash            string `json:"hash"`
	TxHash          string `json:"tx_hash"`
	TxHashCamel     string `json:"txHash"`
	TransactionHash string `json:"transaction_hash"`

	BlockNumber      flexUint64 `json:"block_number"`
	BlockNumberCamel flexUint64 `json:"blockNumber"`

	GasUsed      flexUint64 `json:"gas_used"`
	GasUsedCamel flexUint64 `json:"gasUsed"`

	ExecutionStatus      string `json:"execution_status"`
	ExecutionStatusCamel string `json:"executionStatus"`

	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// UnmarshalJSON normalizes the duck-typed backend payload in one place.
func (t *TransactionStatus) UnmarshalJSON(data []byte) error {
	// Tolerate a data envelope around the status object too.
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 &&
		string(envelope.Data) != "null" {
		data = envelope.Data
	}

	var raw rawTransactionStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.ID = firstNonEmpty(raw.ID, raw.TxID)
	t.Status = NormalizeStatus(raw.Status)
	t.Hash = firstNonEmpty(raw.Hash, raw.TxHash, raw.TxHashCamel, raw.TransactionHash)
	t.BlockNumber = uint64(max(raw.BlockNumber, raw.BlockNumberCamel))
	t.GasUsed = uint64(max(raw.GasUsed, raw.GasUsedCamel))
	t.ExecutionStatus = firstNonEmpty(raw.ExecutionStatus, raw.ExecutionStatusCamel)
	t.Error = firstNonEmpty(raw.Error, raw.ErrorMessage, raw.Message)

	return nil
}

// ============================================================================
// Sign Types
// ============================================================================

// Sign request kinds the backend accepts.
const (
	SignKindPersonal  = "personal_sign"
	SignKindTypedData = "eth_signTypedData_v4"
)

// Message encodings for personal_sign payloads.
const (
	MessageEncodingUTF8 = "utf8"
	MessageEncodingHex  = "hex"
)

// CreateSignRequest is the body for POST /user/sign.
type CreateSignRequest struct {
	Kind          string `json:"kind"`
	WalletAddress string `json:"wallet_address"`
	ChainID       uint64 `json:"chain_id"`

	// personal_sign fields. MessageText carries the UTF-8 decoding of a hex
	// message so the review UI can show the user what they are signing.
	Message         string `json:"message,omitempty"`
	MessageEncoding string `json:"message_encoding,omitempty"`
	MessageText     string `json:"message_text,omitempty"`

	// eth_signTypedData_v4 field.
	TypedData json.RawMessage `json:"typed_data,omitempty"`
}

// CreateSignResult is the normalized sign-create response.
type CreateSignResult struct {
	SignID   string
	Status   SignState
	PopupURL string
}

type signCreateEnvelope struct {
	SignID   string `json:"sign_id"`
	ID       string `json:"id"`
	Status   string `json:"status"`
	PopupURL string `json:"popup_url"`
	Data     *struct {
		SignID   string `json:"sign_id"`
		ID       string `json:"id"`
		Status   string `json:"status"`
		PopupURL string `json:"popup_url"`
	} `json:"data"`
}

func (e signCreateEnvelope) extract() CreateSignResult {
	out := CreateSignResult{
		SignID:   firstNonEmpty(e.SignID, e.ID),
		Status:   NormalizeSignState(e.Status),
		PopupURL: e.PopupURL,
	}
	if e.Data != nil {
		if out.SignID == "" {
			out.SignID = firstNonEmpty(e.Data.SignID, e.Data.ID)
		}
		if out.PopupURL == "" {
			out.PopupURL = e.Data.PopupURL
		}
		if e.Status == "" {
			out.Status = NormalizeSignState(e.Data.Status)
		}
	}
	return out
}

// SignStatus is the normalized view of a backend-tracked sign request.
type SignStatus struct {
	SignID           string
	Status           SignState
	SignerAddress    string
	Signature        string // envelope.finalSignature, validator-compatible
	WrappedSignature string // optional ERC-6492 wrapping
	Digest           string
	ValidatorID      string
	GuardianType     string
	Error            string
}

type rawSignStatus struct {
	SignID        string `json:"sign_id"`
	ID            string `json:"id"`
	Status        string `json:"status"`
	SignerAddress string `json:"signer_address"`
	Digest        string `json:"digest"`
	Error         string `json:"error"`
	ErrorMessage  string `json:"error_message"`

	Envelope *struct {
		FinalSignature   string `json:"finalSignature"`
		ERC6492Signature string `json:"erc6492Signature"`
		ValidatorID      string `json:"validatorId"`
		GuardianType     string `json:"guardianType"`
	} `json:"envelope"`
}

// UnmarshalJSON normalizes sign status payloads, including the signature
// envelope.
func (s *SignStatus) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 &&
		string(envelope.Data) != "null" {
		data = envelope.Data
	}

	var raw rawSignStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.SignID = firstNonEmpty(raw.SignID, raw.ID)
	s.Status = NormalizeSignState(raw.Status)
	s.SignerAddress = raw.SignerAddress
	s.Digest = raw.Digest
	s.Error = firstNonEmpty(raw.Error, raw.ErrorMessage)
	if raw.Envelope != nil {
		s.Signature = raw.Envelope.FinalSignature
		s.WrappedSignature = raw.Envelope.ERC6492Signature
		s.ValidatorID = raw.Envelope.ValidatorID
		s.GuardianType = raw.Envelope.GuardianType
	}

	return nil
}
