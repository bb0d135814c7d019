package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// IndexClient is a lightweight JSON-RPC client for the transfer indexer and
// the pathfinder.
type IndexClient struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// NewIndexClient constructs a client for the given JSON-RPC endpoint.
func NewIndexClient(endpoint string) *IndexClient {
	return &IndexClient{
		endpoint: strings.TrimSpace(endpoint),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type eventQueryParams struct {
	Recipient string `json:"recipient"`
	Data      string `json:"data,omitempty"`
	Limit     int    `json:"limit"`
	Cursor    string `json:"cursor,omitempty"`
}

type eventQueryResult struct {
	Rows       []transferEventWire `json:"rows"`
	NextCursor string              `json:"nextCursor"`
}

// maxEventPages bounds the cursor walk so a misbehaving indexer that keeps
// returning cursors cannot pin a poll request forever.
const maxEventPages = 20

// TransferEvents queries the indexed transfer-event feed filtered by
// recipient and, when non-empty, by attached data payload. Pagination is
// followed until the cursor is exhausted or the page ceiling is reached.
func (c *IndexClient) TransferEvents(ctx context.Context, recipient, data string) ([]TransferEvent, error) {
	var (
		events []TransferEvent
		cursor string
	)
	for page := 0; page < maxEventPages; page++ {
		var result eventQueryResult
		params := eventQueryParams{Recipient: recipient, Data: data, Limit: 100, Cursor: cursor}
		if err := c.call(ctx, "index_transferEvents", []interface{}{params}, &result); err != nil {
			return nil, err
		}
		for _, row := range result.Rows {
			decoded, ok := row.decode()
			if !ok {
				continue
			}
			events = append(events, decoded)
		}
		if result.NextCursor == "" {
			return events, nil
		}
		cursor = result.NextCursor
	}
	return events, nil
}

type historyQueryParams struct {
	Account string `json:"account"`
	Limit   int    `json:"limit"`
	Order   string `json:"order"`
	Cursor  string `json:"cursor,omitempty"`
}

type historyQueryResult struct {
	Rows       []historyRowWire `json:"rows"`
	NextCursor string           `json:"nextCursor"`
	HasMore    bool             `json:"hasMore"`
}

// HistoryIterator walks the transaction history of one account newest first.
type HistoryIterator struct {
	client   *IndexClient
	account  string
	pageSize int
	cursor   string
	done     bool
}

// TransactionHistory opens a newest-first pager over the account's token
// transaction history.
func (c *IndexClient) TransactionHistory(ctx context.Context, account string, pageSize int) (*HistoryIterator, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &HistoryIterator{client: c, account: account, pageSize: pageSize}, nil
}

// Next returns the next page of rows and whether more pages remain.
func (it *HistoryIterator) Next(ctx context.Context) ([]HistoryRow, bool, error) {
	if it.done {
		return nil, false, nil
	}
	var result historyQueryResult
	params := historyQueryParams{Account: it.account, Limit: it.pageSize, Order: "desc", Cursor: it.cursor}
	if err := it.client.call(ctx, "index_transactionHistory", []interface{}{params}, &result); err != nil {
		return nil, false, err
	}
	rows := make([]HistoryRow, 0, len(result.Rows))
	for _, row := range result.Rows {
		decoded, ok := row.decode()
		if !ok {
			continue
		}
		rows = append(rows, decoded)
	}
	it.cursor = result.NextCursor
	it.done = !result.HasMore || result.NextCursor == ""
	return rows, !it.done, nil
}

type findPathParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

type findPathResult struct {
	Found bool `json:"found"`
}

// FindPath answers whether a sufficient transfer path exists from sender to
// recipient for the given base-unit amount.
func (c *IndexClient) FindPath(ctx context.Context, from, to string, amount *big.Int) (bool, error) {
	if amount == nil {
		return false, fmt.Errorf("amount required")
	}
	var result findPathResult
	params := findPathParams{From: from, To: to, Value: amount.String()}
	if err := c.call(ctx, "pathfinder_findPath", []interface{}{params}, &result); err != nil {
		return false, err
	}
	return result.Found, nil
}

func (c *IndexClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("index rpc %s failed: status=%d", method, resp.StatusCode)
	}
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("index rpc error: %s", rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("index rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
