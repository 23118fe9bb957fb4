package okx

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"okx-core/pkg/exchanges/common"
)

type ackData struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

func decodeAcks(raw json.RawMessage) ([]ackData, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []ackData
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// orderData is the order shape shared by REST queries and the orders channel.
type orderData struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	State     string `json:"state"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	UTime     string `json:"uTime"`
}

func (o orderData) status(source string) common.OrderStatus {
	return common.OrderStatus{
		ClientOrderID:   o.ClOrdID,
		ExchangeOrderID: o.OrdID,
		InstID:          o.InstID,
		Side:            common.Side(o.Side),
		State:           normalizeState(o.State),
		Qty:             parseFloat(o.Sz),
		FilledQty:       parseFloat(o.AccFillSz),
		AvgPrice:        parseFloat(o.AvgPx),
		UpdatedAt:       parseMillis(o.UTime),
		Source:          source,
	}
}

func (o orderData) event() common.OrderStateEvent {
	return common.OrderStateEvent{
		ClientOrderID:   o.ClOrdID,
		ExchangeOrderID: o.OrdID,
		InstID:          o.InstID,
		State:           normalizeState(o.State),
		FilledQty:       parseFloat(o.AccFillSz),
		AvgPrice:        parseFloat(o.AvgPx),
		Timestamp:       parseMillis(o.UTime),
	}
}

func normalizeState(s string) common.OrderState {
	switch s {
	case "live":
		return common.StateLive
	case "partially_filled":
		return common.StatePartiallyFilled
	case "filled":
		return common.StateFilled
	case "canceled", "mmp_canceled":
		return common.StateCanceled
	default:
		return common.StateRejected
	}
}

type balanceData struct {
	TotalEq string `json:"totalEq"`
	UTime   string `json:"uTime"`
	Details []struct {
		Ccy      string `json:"ccy"`
		Eq       string `json:"eq"`
		AvailEq  string `json:"availEq"`
		AvailBal string `json:"availBal"`
	} `json:"details"`
}

func (b balanceData) equity() common.EquityUpdate {
	up := common.EquityUpdate{Ccy: "USD", TotalEquity: parseFloat(b.TotalEq), Timestamp: parseMillis(b.UTime)}
	var usdtEq float64
	for _, d := range b.Details {
		if !strings.EqualFold(d.Ccy, "USDT") {
			continue
		}
		usdtEq = parseFloat(d.Eq)
		up.Available = parseFloat(d.AvailEq)
		if up.Available == 0 {
			up.Available = parseFloat(d.AvailBal)
		}
	}
	if up.TotalEquity == 0 {
		up.TotalEquity = usdtEq
	}
	if up.Timestamp.IsZero() {
		up.Timestamp = time.Now()
	}
	return up
}

type positionData struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	UTime   string `json:"uTime"`
}

func (p positionData) update() common.PositionUpdate {
	return common.PositionUpdate{
		InstID:    p.InstID,
		PosSide:   p.PosSide,
		Qty:       parseFloat(p.Pos),
		AvgPrice:  parseFloat(p.AvgPx),
		Timestamp: parseMillis(p.UTime),
	}
}

// parseCandle reads [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
func parseCandle(instID string, row []string) (common.Candle, bool) {
	if len(row) < 6 {
		return common.Candle{}, false
	}
	cd := common.Candle{
		InstID: instID,
		Start:  parseMillis(row[0]),
		Open:   parseFloat(row[1]),
		High:   parseFloat(row[2]),
		Low:    parseFloat(row[3]),
		Close:  parseFloat(row[4]),
		Volume: parseFloat(row[5]),
	}
	if len(row) >= 9 {
		cd.Confirmed = row[8] == "1"
	}
	return cd, !cd.Start.IsZero() && cd.Close > 0
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return i
}

func parseMillis(s string) time.Time {
	ms := parseInt(s)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
