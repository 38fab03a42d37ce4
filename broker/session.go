package broker

import "context"

// Session 券商会话抽象。鉴权、重连与报文编解码由实现负责，
// 上层只消费已解析的结构化数据。
type Session interface {
	// ListAccounts 枚举可交易帐户。
	ListAccounts() ([]Account, error)
	// ListPositions 拉取远端部位快照，可能超时或失败。
	ListPositions(ctx context.Context, account Account) ([]RemotePosition, error)
	// ListTrades 拉取当日已成交明细（仅启动重建使用）。
	ListTrades(ctx context.Context, account Account) ([]ExecutedTrade, error)
	// SetDealHandler 注册成交回报处理函数，替换先前注册。
	SetDealHandler(fn DealHandler)
}
