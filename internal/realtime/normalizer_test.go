package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoomd/internal/broker/brokertest"
)

func fixedClock() time.Time {
	return time.Date(2026, 8, 28, 15, 30, 0, 0, time.Local)
}

func newNormalizer(t *testing.T) (*Normalizer, *brokertest.Fake, *[]Event) {
	t.Helper()
	fake := brokertest.New()
	var got []Event
	n := NewNormalizer(fake, func(ev Event) { got = append(got, ev) })
	n.now = fixedClock
	return n, fake, &got
}

func TestTickNormalization(t *testing.T) {
	n, fake, got := newNormalizer(t)
	fake.StageReal("005930", fidTradeTime, "153000")
	fake.StageReal("005930", fidPrice, "+71,200")
	fake.StageReal("005930", fidDiff, "-300")
	fake.StageReal("005930", fidDiffRate, "-0.42")
	fake.StageReal("005930", fidTickVolume, "-10")
	fake.StageReal("005930", fidAccVolume, "8,123,456")

	n.HandleReal("005930", "주식체결")

	require.Len(t, *got, 1)
	ev := (*got)[0]
	assert.Equal(t, TypeTick, ev.Type)
	assert.Equal(t, "005930", ev.Code)
	assert.Equal(t, "20260828153000", ev.Timestamp)
	assert.Equal(t, "153000", ev.Data["time"])
	assert.Equal(t, 71200.0, ev.Data["current_price"], "price sign is direction only")
	assert.Equal(t, -300.0, ev.Data["diff"])
	assert.Equal(t, -0.42, ev.Data["diff_rate"])
	assert.Equal(t, -10.0, ev.Data["volume"], "tick volume keeps its side sign")
	assert.Equal(t, 8123456.0, ev.Data["acc_volume"])
	_, present := ev.Data["open"]
	assert.False(t, present, "absent fields stay out of data")
}

func TestBareSignPlaceholderSkipped(t *testing.T) {
	n, fake, got := newNormalizer(t)
	fake.StageReal("005930", fidPrice, "+71200")
	fake.StageReal("005930", fidDiff, "-")

	n.HandleReal("005930", "주식체결")

	require.Len(t, *got, 1)
	_, present := (*got)[0].Data["diff"]
	assert.False(t, present)
}

func TestQuoteCurrentPriceFallsBackToBid(t *testing.T) {
	n, fake, got := newNormalizer(t)
	fake.StageReal("005930", fidBidPrice, "-71,100")
	fake.StageReal("005930", fidAskPrice, "-71,200")

	n.HandleReal("005930", "주식호가잔량")

	require.Len(t, *got, 1)
	ev := (*got)[0]
	assert.Equal(t, TypeQuote, ev.Type)
	assert.Equal(t, 71100.0, ev.Data["current_price"], "best bid wins the fallback chain")

	// The fallback must have primed the cache.
	n.mu.Lock()
	cached := n.lastPrice["005930"]
	n.mu.Unlock()
	assert.Equal(t, 71100.0, cached)
}

func TestQuoteCurrentPriceFallsBackToCache(t *testing.T) {
	n, fake, got := newNormalizer(t)
	fake.StageReal("005930", fidPrice, "70,900")
	n.HandleReal("005930", "주식체결")

	// Quote with neither bid nor ask populated.
	n.HandleReal("005930", "주식호가잔량")

	require.Len(t, *got, 2)
	assert.Equal(t, 70900.0, (*got)[1].Data["current_price"])
}

func TestProgramTradeClassifiedBeforeTick(t *testing.T) {
	// "프로그램매매" must not fall into the tick bucket even though
	// program records share the trade-time FID.
	n, fake, got := newNormalizer(t)
	fake.StageReal("005930", fidProgNetVol, "-1,500")

	n.HandleReal("005930", "프로그램매매")

	require.Len(t, *got, 1)
	ev := (*got)[0]
	assert.Equal(t, TypeProgramTrade, ev.Type)
	assert.Equal(t, -1500.0, ev.Data["net_buy_volume"])
}

func TestUnknownTypeKeepsRawLabel(t *testing.T) {
	n, _, got := newNormalizer(t)

	n.HandleReal("005930", "장시작시간")

	require.Len(t, *got, 1)
	ev := (*got)[0]
	assert.Equal(t, TypeUnknown, ev.Type)
	assert.Equal(t, "장시작시간", ev.Data["real_type"])
}

func TestConditionEvent(t *testing.T) {
	n, _, got := newNormalizer(t)

	n.HandleCondition("005930", "I", "급등주", "001")

	require.Len(t, *got, 1)
	ev := (*got)[0]
	assert.Equal(t, TypeCondition, ev.Type)
	assert.Equal(t, "005930", ev.Code)
	assert.Equal(t, "I", ev.Data["event"])
	assert.Equal(t, "급등주", ev.Data["condition_name"])
	assert.Equal(t, "001", ev.Data["condition_index"])
}

func TestCleanNumberLenience(t *testing.T) {
	v, ok := cleanNumber("garbage", false)
	assert.True(t, ok, "unparseable values degrade to zero, not an error")
	assert.Equal(t, 0.0, v)

	_, ok = cleanNumber("   ", true)
	assert.False(t, ok)
}
