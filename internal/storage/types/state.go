package types

// Runtime state keys written by the poll loop and read by the API.
const (
	StateConnected            = "connected"
	StateLastReadOK           = "last_read_ok"
	StateConsecutiveErrors    = "consecutive_errors"
	StateLastReadEpoch        = "last_read_epoch"
	StateLastFlushEpoch       = "last_flush_epoch"
	StateRowsWrittenLastFlush = "rows_written_last_flush"
)

// RuntimeState is the poll loop health snapshot. Values are stored as
// numbers so the table stays a plain key/REAL map.
type RuntimeState struct {
	Connected            bool
	LastReadOK           bool
	ConsecutiveErrors    int64
	LastReadEpoch        float64
	LastFlushEpoch       float64
	RowsWrittenLastFlush int64
}

// Map flattens s into state table entries.
func (s RuntimeState) Map() map[string]float64 {
	return map[string]float64{
		StateConnected:            boolFloat(s.Connected),
		StateLastReadOK:           boolFloat(s.LastReadOK),
		StateConsecutiveErrors:    float64(s.ConsecutiveErrors),
		StateLastReadEpoch:        s.LastReadEpoch,
		StateLastFlushEpoch:       s.LastFlushEpoch,
		StateRowsWrittenLastFlush: float64(s.RowsWrittenLastFlush),
	}
}

// RuntimeStateFromMap is the inverse of Map. Missing keys stay zero.
func RuntimeStateFromMap(m map[string]float64) RuntimeState {
	return RuntimeState{
		Connected:            m[StateConnected] != 0,
		LastReadOK:           m[StateLastReadOK] != 0,
		ConsecutiveErrors:    int64(m[StateConsecutiveErrors]),
		LastReadEpoch:        m[StateLastReadEpoch],
		LastFlushEpoch:       m[StateLastFlushEpoch],
		RowsWrittenLastFlush: int64(m[StateRowsWrittenLastFlush]),
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// PolicyState is one tag's logging policy memory as published by the poll
// loop.
type PolicyState struct {
	Tag        string
	Mode       string
	LastValue  *float64
	LastLogged string // TimestampLayout, empty when never logged
}
