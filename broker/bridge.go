package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// BridgeSession 通过 brokerage bridge 实现 Session：
// REST 提供帐户/部位/成交明细查询，WS 推送实时成交回报。
// HTTPClient 可注入 httptest，Dialer 可注入假 ws server。
type BridgeSession struct {
	BaseURL    string // 例如 https://bridge.local:8443
	WSEndpoint string // 例如 wss://bridge.local:8443/ws/deals
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Limiter    RateLimiter

	mu      sync.RWMutex
	handler DealHandler
}

func NewBridgeSession(baseURL, wsEndpoint, token string) *BridgeSession {
	return &BridgeSession{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		WSEndpoint: wsEndpoint,
		Token:      token,
		HTTPClient: NewDefaultHTTPClient(),
		Dialer:     websocket.DefaultDialer,
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// SetDealHandler 注册成交回报处理函数。
func (s *BridgeSession) SetDealHandler(fn DealHandler) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *BridgeSession) currentHandler() DealHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

// ListAccounts 调用 /api/v1/accounts。
func (s *BridgeSession) ListAccounts() ([]Account, error) {
	var accounts []Account
	if err := s.getJSON(context.Background(), "/api/v1/accounts", nil, &accounts); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ListPositions 调用 /api/v1/positions 拉取指定帐户的部位快照。
func (s *BridgeSession) ListPositions(ctx context.Context, account Account) ([]RemotePosition, error) {
	q := url.Values{}
	q.Set("broker_id", account.BrokerID)
	q.Set("account_id", account.AccountID)
	var positions []RemotePosition
	if err := s.getJSON(ctx, "/api/v1/positions", q, &positions); err != nil {
		return nil, fmt.Errorf("list positions %s%s: %w", account.BrokerID, account.AccountID, err)
	}
	return positions, nil
}

// ListTrades 调用 /api/v1/trades 拉取当日已成交明细。
func (s *BridgeSession) ListTrades(ctx context.Context, account Account) ([]ExecutedTrade, error) {
	q := url.Values{}
	q.Set("broker_id", account.BrokerID)
	q.Set("account_id", account.AccountID)
	var trades []ExecutedTrade
	if err := s.getJSON(ctx, "/api/v1/trades", q, &trades); err != nil {
		return nil, fmt.Errorf("list trades %s%s: %w", account.BrokerID, account.AccountID, err)
	}
	return trades, nil
}

func (s *BridgeSession) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if s == nil || s.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	endpoint := s.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Run 连接 WS 并持续读取成交推送，直到 ctx 取消。
// 断线后按指数退避重连；解析失败的帧记录后跳过，不中断读取。
func (s *BridgeSession) Run(ctx context.Context) error {
	if s.WSEndpoint == "" {
		return fmt.Errorf("ws endpoint required")
	}
	backoff := time.Second
	for {
		err := s.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("bridge ws disconnected: %v, reconnect in %s", err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *BridgeSession) readLoop(ctx context.Context) error {
	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.WSEndpoint, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		state, deal, ok, err := ParseDealFrame(message)
		if err != nil {
			log.Printf("parse deal frame err: %v", err)
			continue
		}
		if !ok {
			continue
		}
		if fn := s.currentHandler(); fn != nil {
			fn(state, deal)
		}
	}
}
