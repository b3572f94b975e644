package csvexport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_HeaderAndRow(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(Trade{
		UnixSeconds: 1700000000,
		Price:       "0.02",
		Amount:      1000,
		Side:        "SELL",
		FeeAsset:    "BTS",
		FeeAmount:   3,
		OrderID:     "ex-1",
	}))
	require.NoError(t, w.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "unix,price,amount,side,fee_asset,fee_amount,order_id", lines[0])
	assert.Equal(t, "1700000000,0.02,1000,SELL,BTS,3,ex-1", lines[1])
}

func TestWriter_HeaderWrittenOnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.Write(Trade{OrderID: "ex-1"}))
	require.NoError(t, w.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}
