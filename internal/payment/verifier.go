package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"jobpilot/internal/config"
)

// 升级入口不再相信客户端声称的 "已付款"：
// 必须拿交易哈希去支付网络做一次服务端确认，通过后才授予 Pro。
var (
	// ErrInvalidTransactionHash 表示哈希格式非法。
	ErrInvalidTransactionHash = errors.New("invalid transaction hash")
	// ErrTransactionNotFound 表示链上查不到该交易回执（未上链或哈希错误）。
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionFailed 表示交易已上链但执行失败。
	ErrTransactionFailed = errors.New("transaction failed on chain")
	// ErrWrongRecipient 表示收款方不是我们的地址。
	ErrWrongRecipient = errors.New("transaction recipient mismatch")
)

// Verifier 确认一笔外部支付确实完成。
type Verifier interface {
	VerifyTransaction(ctx context.Context, txHash string) error
}

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// RPCVerifier 通过 JSON-RPC（eth_getTransactionReceipt）做链上确认。
type RPCVerifier struct {
	rpcURL           string
	receivingAddress string
	httpClient       *http.Client
}

// NewRPCVerifier 构造链上校验器。
func NewRPCVerifier(cfg config.PaymentConfig) (*RPCVerifier, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("payment rpc url is required")
	}
	receiving := strings.ToLower(strings.TrimSpace(cfg.ReceivingAddress))
	if receiving == "" {
		return nil, errors.New("payment receiving address is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &RPCVerifier{
		rpcURL:           rpcURL,
		receivingAddress: receiving,
		httpClient:       &http.Client{Timeout: timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcReceipt struct {
	Status string `json:"status"`
	To     string `json:"to"`
}

type rpcResponse struct {
	Result *rpcReceipt `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// VerifyTransaction 查询交易回执并校验三件事：
// 回执存在、执行成功（status 0x1）、收款地址匹配。
func (v *RPCVerifier) VerifyTransaction(ctx context.Context, txHash string) error {
	txHash = strings.TrimSpace(txHash)
	if !txHashPattern.MatchString(txHash) {
		return ErrInvalidTransactionHash
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_getTransactionReceipt",
		Params:  []any{txHash},
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("query transaction receipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return fmt.Errorf("rpc status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return ErrTransactionNotFound
	}
	if !strings.EqualFold(strings.TrimSpace(rpcResp.Result.Status), "0x1") {
		return ErrTransactionFailed
	}
	if !strings.EqualFold(strings.TrimSpace(rpcResp.Result.To), v.receivingAddress) {
		return ErrWrongRecipient
	}
	return nil
}
