package currency

import (
	"errors"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Holder serves the current rate table. When backed by a file, edits to the
// file are picked up without a restart; an invalid edit keeps the old table.
type Holder struct {
	current atomic.Pointer[Table]
	log     *zap.Logger
}

// NewStaticHolder serves t forever.
func NewStaticHolder(t Table) *Holder {
	h := &Holder{log: zap.NewNop()}
	h.current.Store(&t)
	return h
}

// NewHolder loads rates from path. An empty path serves DefaultRates.
// The file carries a top-level `rates` mapping of currency code to USD rate.
func NewHolder(path string, log *zap.Logger) (*Holder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Holder{log: log.Named("currency")}
	if path == "" {
		t := Default()
		h.current.Store(&t)
		return h, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	t, err := tableFrom(v)
	if err != nil {
		return nil, err
	}
	h.current.Store(&t)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := tableFrom(v)
		if err != nil {
			h.log.Warn("currency.reload_rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		h.current.Store(&updated)
		h.log.Info("currency.reloaded", zap.String("file", e.Name), zap.Int("rates", updated.Len()))
	})
	return h, nil
}

func tableFrom(v *viper.Viper) (Table, error) {
	var rates map[string]float64
	if err := v.UnmarshalKey("rates", &rates); err != nil {
		return Table{}, err
	}
	return NewTable(rates)
}

func (h *Holder) Get() Table {
	return *h.current.Load()
}

// ToUSD converts with the current table and warns once per call on unknown codes.
func (h *Holder) ToUSD(amount float64, code string) float64 {
	usd, known := h.Get().ToUSD(amount, code)
	if !known {
		h.log.Warn("currency.unknown", zap.String("currency_code", code), zap.Float64("amount", amount))
	}
	return usd
}
