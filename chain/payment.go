package chain

import (
	"encoding/hex"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxRequest is the submitter-agnostic form of a ready-to-submit payment
// transaction. Value is the base-unit amount in decimal notation.
type TxRequest struct {
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

// WalletTxRequest is the wallet-host form of the same transaction. Wallet
// providers expect the value field as 0x-prefixed hex.
type WalletTxRequest struct {
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

// PaymentPayloads bundles both encodings of one payment transaction.
type PaymentPayloads struct {
	Generic TxRequest       `json:"generic"`
	Wallet  WalletTxRequest `json:"wallet"`
}

// MarkerHex encodes a round marker the way it rides in transaction data.
func MarkerHex(marker string) string {
	return "0x" + hex.EncodeToString([]byte(marker))
}

// BuildPaymentPayloads constructs the two ready-to-submit forms of the entry
// payment: a transfer of amount base units to the recipient carrying the
// round marker as data.
func BuildPaymentPayloads(recipient string, amount *big.Int, marker string) PaymentPayloads {
	to := strings.ToLower(strings.TrimSpace(recipient))
	data := MarkerHex(marker)
	return PaymentPayloads{
		Generic: TxRequest{To: to, Value: amount.String(), Data: data},
		Wallet:  WalletTxRequest{To: to, Value: hexutil.EncodeBig(amount), Data: data},
	}
}

// PaymentLink renders the payment URL handed to the player's wallet.
func PaymentLink(base, recipient string, amount *big.Int, marker string) string {
	query := url.Values{}
	query.Set("to", strings.ToLower(strings.TrimSpace(recipient)))
	query.Set("value", amount.String())
	query.Set("data", MarkerHex(marker))
	return strings.TrimRight(base, "/") + "/pay?" + query.Encode()
}
