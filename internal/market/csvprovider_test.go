package market

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"600000.SH.csv": "date,open,high,low,close,volume\n" +
			"2024-03-04,10.0,10.4,9.9,10.2,100000\n" +
			"2024-03-05,10.2,10.5,10.1,10.3,90000\n",
		"600519.SH.csv": "date,open,high,low,close,volume,suspended\n" +
			"2024-03-04,1700,1710,1690,1705,5000,false\n" +
			"2024-03-05,1705,1705,1705,1705,0,true\n",
		"symbols.csv": "symbol,name\n600000.SH,Pudong Bank\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestCSVProviderLoads(t *testing.T) {
	p, err := NewCSVProvider(writeDataDir(t))
	require.NoError(t, err)

	days, err := p.TradingCalendar("2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-04", "2024-03-05"}, days)
}

func TestCSVProviderCurrentPrice(t *testing.T) {
	p, err := NewCSVProvider(writeDataDir(t))
	require.NoError(t, err)

	q, err := p.CurrentPrice("600000.SH", time.Date(2024, 3, 4, 14, 55, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.InDelta(t, 10.2, q.CurrentPrice, 1e-9)

	q, err = p.CurrentPrice("600000.SH", time.Date(2024, 3, 6, 14, 55, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, q, "no bar that day")

	q, err = p.CurrentPrice("600519.SH", time.Date(2024, 3, 5, 14, 55, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, q, "suspended days serve no quote")

	_, err = p.CurrentPrice("000000.XX", time.Now())
	assert.Error(t, err)
}

func TestCSVProviderSymbolInfo(t *testing.T) {
	p, err := NewCSVProvider(writeDataDir(t))
	require.NoError(t, err)

	info, err := p.SymbolInfo("600000.SH", "2024-03-04")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Pudong Bank", info.SymbolName)
	assert.False(t, info.IsSuspended)

	info, err = p.SymbolInfo("600519.SH", "2024-03-05")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "600519.SH", info.SymbolName, "name falls back to the symbol")
	assert.True(t, info.IsSuspended)

	info, err = p.SymbolInfo("000000.XX", "2024-03-04")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCSVProviderEmptyDir(t *testing.T) {
	_, err := NewCSVProvider(t.TempDir())
	assert.Error(t, err)
}
