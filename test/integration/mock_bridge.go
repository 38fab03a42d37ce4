package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"position-sync-go/broker"
)

// MockBridge 模拟 brokerage bridge（用于集成测试）
type MockBridge struct {
	// 配置
	simulateLatency bool
	latency         time.Duration
	failPositions   bool

	// 帐户与快照
	accounts  []broker.Account
	positions map[string][]broker.RemotePosition
	trades    map[string][]broker.ExecutedTrade
	mu        sync.RWMutex

	// 统计
	positionQueryCount int
	tradeQueryCount    int

	// 成交推送回调
	handler broker.DealHandler
}

// NewMockBridge 创建 Mock Bridge
func NewMockBridge(accounts ...broker.Account) *MockBridge {
	return &MockBridge{
		accounts:  accounts,
		positions: make(map[string][]broker.RemotePosition),
		trades:    make(map[string][]broker.ExecutedTrade),
	}
}

func key(a broker.Account) string { return a.BrokerID + a.AccountID }

// SetPositions 设置帐户的远端部位快照
func (m *MockBridge) SetPositions(account broker.Account, positions []broker.RemotePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[key(account)] = positions
}

// SetTrades 设置帐户的当日成交明细
func (m *MockBridge) SetTrades(account broker.Account, trades []broker.ExecutedTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[key(account)] = trades
}

// SetSimulateLatency 设置是否模拟查询延迟
func (m *MockBridge) SetSimulateLatency(simulate bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateLatency = simulate
	m.latency = latency
}

// SetFailPositions 设置部位查询是否失败
func (m *MockBridge) SetFailPositions(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPositions = fail
}

// PushDeal 模拟 WS 成交推送
func (m *MockBridge) PushDeal(state broker.OrderState, deal broker.Deal) {
	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()
	if handler != nil {
		handler(state, deal)
	}
}

// PositionQueryCount 部位查询次数
func (m *MockBridge) PositionQueryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positionQueryCount
}

// Reset 清空状态
func (m *MockBridge) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string][]broker.RemotePosition)
	m.trades = make(map[string][]broker.ExecutedTrade)
	m.positionQueryCount = 0
	m.tradeQueryCount = 0
	m.failPositions = false
	m.handler = nil
}

// ListAccounts 实现 broker.Session
func (m *MockBridge) ListAccounts() ([]broker.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accounts, nil
}

// ListPositions 实现 broker.Session
func (m *MockBridge) ListPositions(ctx context.Context, account broker.Account) ([]broker.RemotePosition, error) {
	m.mu.Lock()
	m.positionQueryCount++
	fail := m.failPositions
	simulate, latency := m.simulateLatency, m.latency
	snapshot := append([]broker.RemotePosition(nil), m.positions[key(account)]...)
	m.mu.Unlock()

	if simulate {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}
	if fail {
		return nil, errors.New("mock bridge: positions unavailable")
	}
	return snapshot, nil
}

// ListTrades 实现 broker.Session
func (m *MockBridge) ListTrades(ctx context.Context, account broker.Account) ([]broker.ExecutedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradeQueryCount++
	return m.trades[key(account)], nil
}

// SetDealHandler 实现 broker.Session
func (m *MockBridge) SetDealHandler(fn broker.DealHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}
