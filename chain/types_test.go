package chain

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBaseUnits(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1000000000000000000", "1000000000000000000", true},
		{"0xde0b6b3a7640000", "1000000000000000000", true},
		{"0XDE0B6B3A7640000", "1000000000000000000", true},
		{"0", "0", true},
		{"", "", false},
		{"-5", "", false},
		{"0xzz", "", false},
		{"12.5", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseBaseUnits(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			require.Equal(t, tc.want, got.String(), tc.in)
		}
	}
}

func TestHistoryRowDecodeSkipsMalformed(t *testing.T) {
	raw := `{
        "rows": [
            {"from": "0xA", "to": "0xB", "value": "100", "transactionHash": "0x1", "timestamp": 1700000000, "blockNumber": "0x10"},
            {"from": "", "to": "0xB", "value": "100"},
            {"from": "0xA", "to": "0xB", "value": "nonsense"}
        ],
        "hasMore": false
    }`
	var result historyQueryResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))

	var rows []HistoryRow
	for _, wire := range result.Rows {
		row, ok := wire.decode()
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	require.Len(t, rows, 1)
	require.Equal(t, "0xA", rows[0].From)
	require.Equal(t, uint64(16), rows[0].BlockNumber)
	require.Equal(t, int64(1700000000), rows[0].Timestamp.Unix())
}

func TestTransferEventDecodeEmbedded(t *testing.T) {
	raw := `{"from":"0xA","to":"0xB","value":"42","events":[{"from":"0xA","to":"0xB","data":"0x6d61726b","transactionHash":"0x2","logIndex":3}]}`
	var wire historyRowWire
	require.NoError(t, json.Unmarshal([]byte(raw), &wire))
	row, ok := wire.decode()
	require.True(t, ok)
	require.Len(t, row.Events, 1)
	require.Equal(t, "0x6d61726b", row.Events[0].Data)
	require.Equal(t, uint64(3), row.Events[0].LogIndex)
}

func TestBuildPaymentPayloads(t *testing.T) {
	payloads := BuildPaymentPayloads("0xAbC0000000000000000000000000000000000001", big.NewInt(1500), "coinflip:r1:heads:0xp")
	require.Equal(t, "0xabc0000000000000000000000000000000000001", payloads.Generic.To)
	require.Equal(t, "1500", payloads.Generic.Value)
	require.Equal(t, "0x5dc", payloads.Wallet.Value)
	require.Equal(t, payloads.Generic.Data, payloads.Wallet.Data)
	require.Equal(t, MarkerHex("coinflip:r1:heads:0xp"), payloads.Generic.Data)
}

func TestPaymentLink(t *testing.T) {
	link := PaymentLink("https://flip.example/", "0xAbC0000000000000000000000000000000000001", big.NewInt(10), "m")
	require.Contains(t, link, "https://flip.example/pay?")
	require.Contains(t, link, "to=0xabc0000000000000000000000000000000000001")
	require.Contains(t, link, "value=10")
}
