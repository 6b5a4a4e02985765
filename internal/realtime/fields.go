package realtime

// Kiwoom realtime FIDs read per event kind. The control hands every
// value back as a string; sign and comma conventions differ per field,
// so each spec carries its own cleanup mode.
const (
	fidTradeTime   = 20
	fidPrice       = 10
	fidDiff        = 11
	fidDiffRate    = 12
	fidAccVolume   = 13
	fidTickVolume  = 15
	fidOpen        = 16
	fidHigh        = 17
	fidLow         = 18
	fidStrength    = 228
	fidQuoteTime   = 21
	fidAskPrice    = 27
	fidBidPrice    = 28
	fidTotalAskVol = 121
	fidTotalBidVol = 125
	fidProgSellVol = 202
	fidProgBuyVol  = 204
	fidProgNetVol  = 206
)

type fieldMode int

const (
	// modeRaw keeps the trimmed string (time fields).
	modeRaw fieldMode = iota
	// modeAbs parses a number and drops the sign token. Prices arrive
	// as "+71200"/"-71200" where the sign only mirrors the day's
	// direction, not the value.
	modeAbs
	// modeSigned parses a number and keeps the sign (diffs, rates, net
	// volumes).
	modeSigned
)

type fieldSpec struct {
	fid  int
	key  string
	mode fieldMode
}

var tickFields = []fieldSpec{
	{fidTradeTime, "time", modeRaw},
	{fidPrice, "current_price", modeAbs},
	{fidDiff, "diff", modeSigned},
	{fidDiffRate, "diff_rate", modeSigned},
	{fidTickVolume, "volume", modeSigned},
	{fidAccVolume, "acc_volume", modeAbs},
	{fidOpen, "open", modeAbs},
	{fidHigh, "high", modeAbs},
	{fidLow, "low", modeAbs},
	{fidStrength, "strength", modeAbs},
}

var quoteFields = []fieldSpec{
	{fidQuoteTime, "time", modeRaw},
	{fidAskPrice, "ask_price", modeAbs},
	{fidBidPrice, "bid_price", modeAbs},
	{fidTotalAskVol, "total_ask_volume", modeAbs},
	{fidTotalBidVol, "total_bid_volume", modeAbs},
}

var programFields = []fieldSpec{
	{fidTradeTime, "time", modeRaw},
	{fidPrice, "current_price", modeAbs},
	{fidDiff, "diff", modeSigned},
	{fidDiffRate, "diff_rate", modeSigned},
	{fidProgSellVol, "sell_volume", modeAbs},
	{fidProgBuyVol, "buy_volume", modeAbs},
	{fidProgNetVol, "net_buy_volume", modeSigned},
}
