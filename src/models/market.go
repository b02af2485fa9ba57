package models

// -----------------------------------------------------------------------------
// Market data values
// -----------------------------------------------------------------------------

// Candle intervals accepted by history.query.
const (
	IntervalS1  = "S1"
	IntervalS5  = "S5"
	IntervalS15 = "S15"
	IntervalM1  = "M1"
	IntervalM5  = "M5"
	IntervalM15 = "M15"
	IntervalH1  = "H1"
	IntervalD1  = "D1"
)

// -----------------------------------------------------------------------------

type MCandle struct {
	Symbol   string  `msgpack:"symbol" json:"symbol"`
	OpenTime int64   `msgpack:"openTime" json:"openTime"`
	Open     float64 `msgpack:"open" json:"open"`
	High     float64 `msgpack:"high" json:"high"`
	Low      float64 `msgpack:"low" json:"low"`
	Close    float64 `msgpack:"close" json:"close"`
	Volume   uint64  `msgpack:"volume" json:"volume"`
	Interval string  `msgpack:"interval" json:"interval"`
}

// -----------------------------------------------------------------------------

type MHistoryQuery struct {
	FromTs   int64
	ToTs     int64
	Interval string
	Limit    int
}

// -----------------------------------------------------------------------------

// MTick is one simulator sample broadcast into market:<symbol>.
type MTick struct {
	Symbol    string  `msgpack:"symbol" json:"symbol"`
	Price     float64 `msgpack:"price" json:"price"`
	Change    float64 `msgpack:"change" json:"change"`
	Volume    int     `msgpack:"volume" json:"volume"`
	Seq       int64   `msgpack:"seq" json:"seq"`
	Timestamp int64   `msgpack:"timestamp" json:"timestamp"`
}
