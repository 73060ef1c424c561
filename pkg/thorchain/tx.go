package thorchain

import (
	"math/big"
)

// Coin is a denominated amount in base units.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// FundingTx is an unsigned direct-mode MsgSend document written to disk for
// out-of-band multisig signing. Field layout follows the Cosmos SDK tx JSON
// that the multisig tooling consumes.
type FundingTx struct {
	Body struct {
		Messages []struct {
			Type        string `json:"@type"`
			FromAddress string `json:"from_address"`
			ToAddress   string `json:"to_address"`
			Amount      []Coin `json:"amount"`
		} `json:"messages"`
		Memo                        string `json:"memo"`
		TimeoutHeight               string `json:"timeout_height"`
		ExtensionOptions            []any  `json:"extension_options"`
		NonCriticalExtensionOptions []any  `json:"non_critical_extension_options"`
	} `json:"body"`
	AuthInfo struct {
		SignerInfos []any `json:"signer_infos"`
		Fee         struct {
			Amount   []Coin `json:"amount"`
			GasLimit string `json:"gas_limit"`
			Payer    string `json:"payer"`
			Granter  string `json:"granter"`
		} `json:"fee"`
	} `json:"auth_info"`
	Signatures []any `json:"signatures"`
}

// BuildFundingTx constructs the unsigned multisig funding transaction moving
// amount base units from the treasury to the distribution hot address.
func BuildFundingTx(from, to string, amount *big.Int, memo string) *FundingTx {
	tx := &FundingTx{}

	tx.Body.Messages = []struct {
		Type        string `json:"@type"`
		FromAddress string `json:"from_address"`
		ToAddress   string `json:"to_address"`
		Amount      []Coin `json:"amount"`
	}{{
		Type:        MsgSendType,
		FromAddress: from,
		ToAddress:   to,
		Amount:      []Coin{{Denom: NativeDenom, Amount: amount.String()}},
	}}
	tx.Body.Memo = memo
	tx.Body.TimeoutHeight = "0"
	tx.Body.ExtensionOptions = []any{}
	tx.Body.NonCriticalExtensionOptions = []any{}

	tx.AuthInfo.SignerInfos = []any{}
	tx.AuthInfo.Fee.Amount = []Coin{}
	tx.AuthInfo.Fee.GasLimit = "0"

	tx.Signatures = []any{}

	return tx
}

// SendMsg is a single amino-encoded bank send message.
type SendMsg struct {
	Type  string `json:"type"`
	Value struct {
		Amount      []Coin `json:"amount"`
		FromAddress string `json:"from_address"`
		ToAddress   string `json:"to_address"`
	} `json:"value"`
}

// SendTx is an unsigned amino-mode reward transfer handed to the signer.
type SendTx struct {
	AccountNumber uint64    `json:"account_number,string"`
	ChainID       string    `json:"chain_id"`
	Sequence      uint64    `json:"sequence,string"`
	Msgs          []SendMsg `json:"msgs"`
	Fee           struct {
		Amount []Coin `json:"amount"`
		Gas    string `json:"gas"`
	} `json:"fee"`
	Memo string `json:"memo"`
}

// BuildSendTx constructs the unsigned reward transfer of amount base units
// from the hot address to a staker's payout address.
func BuildSendTx(account Account, sequence uint64, from, to string, amount *big.Int, memo string) *SendTx {
	tx := &SendTx{
		AccountNumber: account.AccountNumber,
		ChainID:       ChainID,
		Sequence:      sequence,
		Memo:          memo,
	}

	msg := SendMsg{Type: "thorchain/MsgSend"}
	msg.Value.Amount = []Coin{{Denom: NativeDenom, Amount: amount.String()}}
	msg.Value.FromAddress = from
	msg.Value.ToAddress = to
	tx.Msgs = []SendMsg{msg}

	tx.Fee.Amount = []Coin{}
	tx.Fee.Gas = "0"

	return tx
}
