package broker

import "testing"

func TestParseStockDealFrame(t *testing.T) {
	raw := []byte(`{"event":"stock_deal","data":{"broker_id":"9100","account_id":"1234567","code":"2330","action":"Sell","quantity":400,"price":512.5,"order_cond":"MarginTrading","daytrade":false,"ts":1772420400000}}`)

	state, deal, ok, err := ParseDealFrame(raw)
	if err != nil || !ok {
		t.Fatalf("parse: ok=%v err=%v", ok, err)
	}
	if state != StateStockDeal {
		t.Fatalf("unexpected state %s", state)
	}
	if deal.Code != "2330" || deal.Action != ActionSell || deal.Quantity != 400 {
		t.Fatalf("unexpected deal %+v", deal)
	}
	if deal.Cond != CondMarginTrading {
		t.Fatalf("unexpected cond %s", deal.Cond)
	}
	if deal.Account.BrokerID != "9100" || deal.Account.Type != AccountStock {
		t.Fatalf("unexpected account %+v", deal.Account)
	}
}

func TestParseStockDealDefaultsToCash(t *testing.T) {
	raw := []byte(`{"event":"stock_deal","data":{"broker_id":"9100","account_id":"1234567","code":"2603","action":"Buy","quantity":10,"price":150,"ts":1772420400000}}`)

	_, deal, ok, err := ParseDealFrame(raw)
	if err != nil || !ok {
		t.Fatalf("parse: ok=%v err=%v", ok, err)
	}
	if deal.Cond != CondCash {
		t.Fatalf("expected Cash default, got %s", deal.Cond)
	}
}

func TestParseFuturesDealFrame(t *testing.T) {
	raw := []byte(`{"event":"futures_deal","data":{"broker_id":"F100","account_id":"7654321","code":"TXFG6","action":"Buy","quantity":2,"price":23100,"ts":1772420400000}}`)

	state, deal, ok, err := ParseDealFrame(raw)
	if err != nil || !ok {
		t.Fatalf("parse: ok=%v err=%v", ok, err)
	}
	if state != StateFuturesDeal || deal.Account.Type != AccountFutures {
		t.Fatalf("unexpected state %s account %+v", state, deal.Account)
	}
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	raw := []byte(`{"event":"heartbeat","data":{}}`)
	_, _, ok, err := ParseDealFrame(raw)
	if err != nil {
		t.Fatalf("heartbeat should not error: %v", err)
	}
	if ok {
		t.Fatalf("heartbeat should not yield a deal")
	}
}

func TestParseMalformedFrame(t *testing.T) {
	if _, _, _, err := ParseDealFrame([]byte(`{not json`)); err == nil {
		t.Fatalf("expected parse error")
	}
}
