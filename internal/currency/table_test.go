package currency

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()
	if table.Len() < 20 {
		t.Fatalf("expected at least 20 rates, got %d", table.Len())
	}

	usd, known := table.ToUSD(93, "EUR")
	require.True(t, known)
	assert.InDelta(t, 100.44, usd, 0.001)

	usd, known = table.ToUSD(10, "usd")
	require.True(t, known)
	assert.Equal(t, 10.0, usd)

	usd, known = table.ToUSD(50, "XYZ")
	assert.False(t, known)
	assert.Equal(t, 50.0, usd)

	usd, known = table.ToUSD(5, "")
	assert.True(t, known)
	assert.Equal(t, 5.0, usd)
}

func TestNewTableValidates(t *testing.T) {
	_, err := NewTable(nil)
	assert.Error(t, err)

	_, err = NewTable(map[string]float64{"EUR": 0})
	assert.Error(t, err)

	table, err := NewTable(map[string]float64{" eur ": 1.05})
	require.NoError(t, err)
	rate, ok := table.Rate("EUR")
	require.True(t, ok)
	assert.Equal(t, 1.05, rate)
	rate, ok = table.Rate("USD")
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)
}

func TestHolderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rates:\n  EUR: 1.05\n  GBP: 1.2\n"), 0o600))

	h, err := NewHolder(path, nil)
	require.NoError(t, err)
	assert.InDelta(t, 97.65, h.ToUSD(93, "EUR"), 0.001)
	assert.Equal(t, 3, h.Get().Len())
}

func TestHolderWithoutFileServesDefaults(t *testing.T) {
	h, err := NewHolder("", nil)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultRates), h.Get().Len())

	static := NewStaticHolder(Default())
	assert.Equal(t, 7.0, static.ToUSD(7, "QQQ"))
}

func TestHolderRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rates:\n  EUR: -1\n"), 0o600))

	_, err := NewHolder(path, nil)
	assert.Error(t, err)
}
