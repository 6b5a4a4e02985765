package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClassifier() *Classifier {
	c := NewClassifier()
	c.now = func() time.Time {
		return time.Date(2026, 8, 28, 15, 30, 0, 0, time.Local)
	}
	return c
}

func readerFrom(fields map[int]string) FieldReader {
	return func(fid int) string { return fields[fid] }
}

func TestClassifyOrder(t *testing.T) {
	c := testClassifier()
	ev := c.Classify("0", readerFrom(map[int]string{
		9201: "8012345611",
		9203: " 0000123 ",
		9001: "A005930",
		302:  "삼성전자",
		900:  "10",
		905:  "+매수",
		908:  "153000",
	}))

	assert.Equal(t, TypeOrder, ev.Type)
	assert.Equal(t, "20260828153000", ev.Timestamp)
	assert.Equal(t, "0000123", ev.Fields["9203"], "values are trimmed")
	assert.Equal(t, "A005930", ev.Fields["9001"])
	assert.Equal(t, "+매수", ev.Fields["905"])
	_, present := ev.Fields["951"]
	assert.False(t, present, "absent fields are omitted, not blank")
}

func TestClassifyBalance(t *testing.T) {
	c := testClassifier()
	ev := c.Classify("1", readerFrom(map[int]string{
		9201: "8012345611",
		9001: "A005930",
		930:  "10",
		931:  "65000",
		932:  "650000",
		10:   "+70000",
		951:  "1000000",
	}))

	require.Equal(t, TypeBalance, ev.Type)
	assert.Equal(t, "10", ev.Fields["930"])
	assert.Equal(t, "+70000", ev.Fields["10"])
	assert.Equal(t, "1000000", ev.Fields["951"])
}

func TestClassifyUnknownGubun(t *testing.T) {
	c := testClassifier()
	for _, gubun := range []string{"", "3", "x"} {
		ev := c.Classify(gubun, readerFrom(nil))
		assert.Equal(t, TypeUnknown, ev.Type, "gubun %q", gubun)
	}
}

func TestClassifyTrimsGubun(t *testing.T) {
	c := testClassifier()
	ev := c.Classify(" 1 ", readerFrom(nil))
	assert.Equal(t, TypeBalance, ev.Type)
}
