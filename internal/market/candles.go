package market

import (
	"math"
	"sort"
	"sync"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// Field selects one of the parallel candle vectors.
type Field int

const (
	FieldOpen Field = iota
	FieldHigh
	FieldLow
	FieldClose
	FieldVolume
	FieldTime
)

const fieldCount = 6

// CandlesStore is a fixed-capacity ring of OHLCV bars for one (symbol, time frame).
// Unfilled cells hold NaN. Rows are kept sorted by time; on overflow the oldest
// row is shifted out.
type CandlesStore struct {
	mu       sync.RWMutex
	capacity int
	size     int
	fields   [fieldCount][]float64
	kline    *KlineStore
}

// NewCandlesStore creates a store; kline may be nil when no in-construction
// candle is tracked.
func NewCandlesStore(capacity int, kline *KlineStore) *CandlesStore {
	if capacity <= 0 {
		capacity = 1
	}
	s := &CandlesStore{capacity: capacity, kline: kline}
	for i := range s.fields {
		s.fields[i] = make([]float64, capacity)
	}
	s.resetLocked()
	return s
}

func (s *CandlesStore) Capacity() int {
	return s.capacity
}

func (s *CandlesStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Kline returns the sibling in-construction store.
func (s *CandlesStore) Kline() *KlineStore {
	return s.kline
}

// AddNew inserts a candle unless a row with the same time already exists.
func (s *CandlesStore) AddNew(c domain.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOfTimeLocked(c.Time) != -1 {
		return false
	}
	s.pushLocked(c)
	return true
}

// Upsert replaces the row matching the candle time or inserts it.
func (s *CandlesStore) Upsert(c domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOfTimeLocked(c.Time); idx != -1 {
		s.writeRowLocked(idx, c)
		return
	}
	s.pushLocked(c)
}

// ReplaceAll drops every row and keeps the newest candles up to capacity.
func (s *CandlesStore) ReplaceAll(candles []domain.Candle) {
	sorted := sortedCopy(candles)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.loadSortedLocked(sorted)
}

// AddOldAndNew fills rows missing from the store (older history as well as the
// newest candle) and keeps the newest rows up to capacity.
func (s *CandlesStore) AddOldAndNew(candles []domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.rowsLocked()
	for _, c := range candles {
		if s.indexOfTimeLocked(c.Time) == -1 {
			merged = append(merged, c)
		}
	}
	merged = sortedCopy(merged)
	merged = dedupeByTime(merged)
	s.resetLocked()
	s.loadSortedLocked(merged)
}

// Field returns the last limit values of a field. limit <= 0 returns every
// filled row. Without includeInConstruction the result aliases the store and
// is only valid until the next write.
func (s *CandlesStore) Field(f Field, limit int, includeInConstruction bool) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	view := s.fields[f][s.size-limit : s.size]
	if !includeInConstruction || s.kline == nil {
		return view
	}
	live, ok := s.kline.Current()
	if !ok {
		return view
	}
	lastTime := math.NaN()
	if s.size > 0 {
		lastTime = s.fields[FieldTime][s.size-1]
	}
	switch {
	case s.size > 0 && float64(live.Time) == lastTime:
		out := append([]float64(nil), view...)
		if len(out) > 0 {
			out[len(out)-1] = candleField(live, f)
		}
		return out
	case s.size == 0 || float64(live.Time) > lastTime:
		out := make([]float64, 0, len(view)+1)
		out = append(out, view...)
		return append(out, candleField(live, f))
	default:
		return view
	}
}

// Last returns the newest closed candle.
func (s *CandlesStore) Last() (domain.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.size == 0 {
		return domain.Candle{}, false
	}
	return s.rowLocked(s.size - 1), true
}

// Candles returns a copy of every filled row, oldest first.
func (s *CandlesStore) Candles() []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowsLocked()
}

func (s *CandlesStore) pushLocked(c domain.Candle) {
	if s.size == s.capacity {
		for i := range s.fields {
			copy(s.fields[i], s.fields[i][1:])
		}
		s.size--
	}
	s.writeRowLocked(s.size, c)
	s.size++
	if s.size > 1 && s.fields[FieldTime][s.size-2] > float64(c.Time) {
		rows := sortedCopy(s.rowsLocked())
		s.resetLocked()
		s.loadSortedLocked(rows)
	}
}

func (s *CandlesStore) loadSortedLocked(sorted []domain.Candle) {
	if len(sorted) > s.capacity {
		sorted = sorted[len(sorted)-s.capacity:]
	}
	for i, c := range sorted {
		s.writeRowLocked(i, c)
	}
	s.size = len(sorted)
}

func (s *CandlesStore) resetLocked() {
	nan := math.NaN()
	for i := range s.fields {
		for j := range s.fields[i] {
			s.fields[i][j] = nan
		}
	}
	s.size = 0
}

func (s *CandlesStore) indexOfTimeLocked(t int64) int {
	target := float64(t)
	for i := s.size - 1; i >= 0; i-- {
		if s.fields[FieldTime][i] == target {
			return i
		}
	}
	return -1
}

func (s *CandlesStore) writeRowLocked(idx int, c domain.Candle) {
	s.fields[FieldOpen][idx] = c.Open
	s.fields[FieldHigh][idx] = c.High
	s.fields[FieldLow][idx] = c.Low
	s.fields[FieldClose][idx] = c.Close
	s.fields[FieldVolume][idx] = c.Volume
	s.fields[FieldTime][idx] = float64(c.Time)
}

func (s *CandlesStore) rowLocked(idx int) domain.Candle {
	return domain.Candle{
		Time:   int64(s.fields[FieldTime][idx]),
		Open:   s.fields[FieldOpen][idx],
		High:   s.fields[FieldHigh][idx],
		Low:    s.fields[FieldLow][idx],
		Close:  s.fields[FieldClose][idx],
		Volume: s.fields[FieldVolume][idx],
	}
}

func (s *CandlesStore) rowsLocked() []domain.Candle {
	rows := make([]domain.Candle, 0, s.size)
	for i := 0; i < s.size; i++ {
		rows = append(rows, s.rowLocked(i))
	}
	return rows
}

func candleField(c domain.Candle, f Field) float64 {
	switch f {
	case FieldOpen:
		return c.Open
	case FieldHigh:
		return c.High
	case FieldLow:
		return c.Low
	case FieldClose:
		return c.Close
	case FieldVolume:
		return c.Volume
	default:
		return float64(c.Time)
	}
}

func sortedCopy(candles []domain.Candle) []domain.Candle {
	out := append([]domain.Candle(nil), candles...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time < out[j].Time
	})
	return out
}

// dedupeByTime keeps the last row of each time in a sorted slice.
func dedupeByTime(sorted []domain.Candle) []domain.Candle {
	out := sorted[:0]
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].Time == c.Time {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}
