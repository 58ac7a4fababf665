package model

import (
	"encoding/json"
	"time"
)

// TrendResult holds one Supertrend output for a specific token + TF.
type TrendResult struct {
	Name     string    `json:"name"` // e.g. "ST_10_3", "ST_7_2.5_EMA"
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // timeframe in seconds
	TS       time.Time `json:"ts"` // candle timestamp that produced this value

	Up    float64 `json:"up"`    // support band (hl2 - m*vol, ratcheted)
	Down  float64 `json:"down"`  // resistance band (hl2 + m*vol, ratcheted)
	Trend int     `json:"trend"` // +1 uptrend, -1 downtrend
	Stop  float64 `json:"stop"`  // active band: Up in an uptrend, Down in a downtrend
	Close float64 `json:"close"`

	Flipped bool `json:"flipped"` // trend changed on this bar
	Step    int  `json:"step"`    // bars consumed by the indicator, including this one
	Ready   bool `json:"ready"`   // smoothing window is full
	Live    bool `json:"live"`    // preview from a forming candle
}

// Key returns "exchange:token".
func (r *TrendResult) Key() string {
	return r.Exchange + ":" + r.Token
}

// Direction returns "up" or "down".
func (r *TrendResult) Direction() string {
	if r.Trend < 0 {
		return "down"
	}
	return "up"
}

// StreamKey returns the Redis stream key: "trend:{name}:{TF}s:{exchange}:{token}".
// The WS gateway uses the same string as its channel name.
func (r *TrendResult) StreamKey() string {
	return "trend:" + r.Name + ":" + Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Token
}

// LatestKey returns the Redis key holding the most recent confirmed value.
func (r *TrendResult) LatestKey() string {
	return "trend:" + r.Name + ":" + Itoa(r.TF) + "s:latest:" + r.Exchange + ":" + r.Token
}

// PubSubChannel returns "pub:trend:{name}:{TF}s:{exchange}:{token}".
func (r *TrendResult) PubSubChannel() string {
	return "pub:" + r.StreamKey()
}

// JSON returns the JSON-encoded result.
func (r *TrendResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
