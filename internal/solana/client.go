// Package solana is a minimal JSON-RPC client for the account read and
// account subscription operations the monitor needs.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxAccountsPerBatch is the upstream ceiling on getMultipleAccounts.
const maxAccountsPerBatch = 100

// AccountInfo is the raw state of one account. A nil *AccountInfo means the
// account does not exist.
type AccountInfo struct {
	Data     []byte
	Owner    string
	Lamports uint64
	// Slot the data was read at.
	Slot uint64
}

type Client struct {
	endpoint   string
	httpClient *http.Client

	nextID atomic.Uint64
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Error  *rpcError       `json:"error"`
	Result json.RawMessage `json:"result"`
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type accountValue struct {
	Data     []string `json:"data"`
	Owner    string   `json:"owner"`
	Lamports uint64   `json:"lamports"`
}

func (v *accountValue) decode(slot uint64) (*AccountInfo, error) {
	if v == nil {
		return nil, nil
	}

	if len(v.Data) != 2 || v.Data[1] != "base64" {
		return nil, fmt.Errorf("account data is not base64 encoded")
	}

	raw, err := base64.StdEncoding.DecodeString(v.Data[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode account data: %w", err)
	}

	return &AccountInfo{
		Data:     raw,
		Owner:    v.Owner,
		Lamports: v.Lamports,
		Slot:     slot,
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s call failed: status %d", method, resp.StatusCode)
	}

	parsed := rpcResponse{}

	err = json.NewDecoder(resp.Body).Decode(&parsed)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if parsed.Error != nil {
		return fmt.Errorf("%s call failed: %s (code %d)", method, parsed.Error.Message, parsed.Error.Code)
	}

	err = json.Unmarshal(parsed.Result, result)
	if err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}

	return nil
}

var encodingParams = map[string]any{"encoding": "base64", "commitment": "confirmed"}

// GetAccountInfo reads one account. A missing account returns (nil, nil).
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	result := struct {
		Context rpcContext    `json:"context"`
		Value   *accountValue `json:"value"`
	}{}

	err := c.call(ctx, "getAccountInfo", []any{address, encodingParams}, &result)
	if err != nil {
		return nil, err
	}

	return result.Value.decode(result.Context.Slot)
}

// GetMultipleAccounts resolves the addresses to their account state. The
// returned slice is positionally aligned with the input; missing accounts are
// nil entries. Requests are chunked to the upstream batch ceiling and issued
// concurrently; any transport failure fails the whole call.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []string) ([]*AccountInfo, error) {
	ret := make([]*AccountInfo, len(addresses))

	group, ctx := errgroup.WithContext(ctx)

	for start := 0; start < len(addresses); start += maxAccountsPerBatch {
		end := start + maxAccountsPerBatch
		if end > len(addresses) {
			end = len(addresses)
		}

		chunkStart := start
		chunk := addresses[start:end]

		group.Go(func() error {
			result := struct {
				Context rpcContext      `json:"context"`
				Value   []*accountValue `json:"value"`
			}{}

			err := c.call(ctx, "getMultipleAccounts", []any{chunk, encodingParams}, &result)
			if err != nil {
				return err
			}

			if len(result.Value) != len(chunk) {
				return fmt.Errorf("getMultipleAccounts returned %d values for %d addresses", len(result.Value), len(chunk))
			}

			for i, value := range result.Value {
				info, err := value.decode(result.Context.Slot)
				if err != nil {
					return err
				}

				ret[chunkStart+i] = info
			}

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to get info for multiple accounts: %w", err)
	}

	return ret, nil
}
