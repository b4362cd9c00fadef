package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/plclogger/internal/errors"
	"github.com/xtxerr/plclogger/internal/setpoint"
	"github.com/xtxerr/plclogger/internal/storage/query"
	"github.com/xtxerr/plclogger/internal/storage/types"
	"github.com/xtxerr/plclogger/internal/wire"
)

// =============================================================================
// Request parsing
// =============================================================================

// parseQuery reads the common query parameters:
//
//	tag       restrict to one tag
//	cal       calendar preset (preset is accepted as an alias)
//	start/end explicit range; end is inclusive
//	limit     row cap
//	bucket_s  bucket width in seconds
//	stats     add per-bucket statistics
func parseQuery(v url.Values) (query.Request, error) {
	var req query.Request
	req.Tag = v.Get("tag")

	cal := v.Get("cal")
	if cal == "" {
		cal = v.Get("preset")
	}
	p, err := query.ParsePreset(cal)
	if err != nil {
		return req, err
	}
	req.Preset = p

	if s := v.Get("start"); s != "" {
		t, err := types.ParseTimestamp(s)
		if err != nil {
			return req, errors.Mark(err, errors.ErrInvalidRange)
		}
		req.Start = t
	}
	if s := v.Get("end"); s != "" {
		t, err := types.ParseTimestamp(s)
		if err != nil {
			return req, errors.Mark(err, errors.ErrInvalidRange)
		}
		req.End = t.Add(time.Microsecond)
	}

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return req, errors.NewInvalidValue("limit", s, "must be a non-negative integer")
		}
		req.Limit = n
	}
	if s := v.Get("bucket_s"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return req, errors.NewInvalidValue("bucket_s", s, "must be a non-negative integer")
		}
		req.BucketSeconds = n
	}
	if s := v.Get("stats"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return req, errors.NewInvalidValue("stats", s, "must be a boolean")
		}
		req.Stats = b
	}
	return req, nil
}

// =============================================================================
// Logs
// =============================================================================

type logEntry struct {
	Ts    string   `json:"ts"`
	Tag   string   `json:"tag"`
	Label string   `json:"label"`
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

type bucketEntry struct {
	Tag     string   `json:"tag"`
	Unit    string   `json:"unit"`
	Start   string   `json:"bucket_start"`
	Seconds int64    `json:"bucket_s"`
	Count   int64    `json:"count"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Avg     float64  `json:"avg"`
	P50     *float64 `json:"p50,omitempty"`
	P90     *float64 `json:"p90,omitempty"`
	P95     *float64 `json:"p95,omitempty"`
	P99     *float64 `json:"p99,omitempty"`
	FirstTs string   `json:"first_ts"`
	LastTs  string   `json:"last_ts"`
}

type logsWithStats struct {
	Rows    []logEntry    `json:"rows"`
	Buckets []bucketEntry `json:"buckets"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	req, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.store.Query(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setSkipped(w, res)

	entries, err := s.entries(r, res.Rows)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !req.Stats {
		writeJSON(w, http.StatusOK, entries)
		return
	}
	out := logsWithStats{Rows: entries, Buckets: make([]bucketEntry, len(res.Buckets))}
	for i, b := range res.Buckets {
		out.Buckets[i] = bucketEntry{
			Tag:     b.Tag,
			Unit:    b.Unit,
			Start:   b.BucketStart,
			Seconds: b.BucketSeconds,
			Count:   b.Count,
			Min:     b.Min,
			Max:     b.Max,
			Avg:     b.Avg,
			P50:     b.P50,
			P90:     b.P90,
			P95:     b.P95,
			P99:     b.P99,
			FirstTs: b.FirstTs,
			LastTs:  b.LastTs,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// entries labels rows. A row without a unit takes the catalog unit of its
// tag.
func (s *Server) entries(r *http.Request, rows []types.LogRow) ([]logEntry, error) {
	labels, err := s.store.Labels(r.Context())
	if err != nil {
		return nil, err
	}

	var units map[string]string
	out := make([]logEntry, len(rows))
	for i, row := range rows {
		label := labels[row.Tag]
		if label == "" {
			label = row.Tag
		}
		unit := row.Unit
		if unit == "" {
			if units == nil {
				if units, err = s.units(r); err != nil {
					return nil, err
				}
			}
			unit = units[row.Tag]
		}
		out[i] = logEntry{Ts: row.Timestamp, Tag: row.Tag, Label: label, Value: row.Value, Unit: unit}
	}
	return out, nil
}

func (s *Server) units(r *http.Request) (map[string]string, error) {
	tags, err := s.store.Tags(r.Context())
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Name] = t.Unit
	}
	return m, nil
}

func setSkipped(w http.ResponseWriter, res *query.Result) {
	if len(res.Skipped) > 0 {
		w.Header().Set("X-Skipped-Files", strconv.Itoa(len(res.Skipped)))
	}
}

// =============================================================================
// Downloads
// =============================================================================

// handleCSV streams rows as CSV. ?labels=1 adds a label column.
func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	req, err := parseQuery(v)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = s.cfg.CSVLimit
	}
	if req.BucketSeconds > 0 {
		req.FetchLimit = max(req.Limit*2, s.cfg.CSVFetchMin)
	}

	res, err := s.store.Query(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var labels map[string]string
	if b, _ := strconv.ParseBool(v.Get("labels")); b {
		if labels, err = s.store.Labels(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="logs.csv"`)
	setSkipped(w, res)
	if err := query.WriteCSV(w, res.Rows, labels); err != nil {
		requestLog(r).Warn("csv download aborted", "error", err)
	}
}

// handleWire streams rows as length-delimited protobuf messages.
func (s *Server) handleWire(w http.ResponseWriter, r *http.Request) {
	req, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.store.Query(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", wire.ContentType)
	setSkipped(w, res)
	if err := wire.NewWriter(w).WriteAll(res.Rows); err != nil {
		requestLog(r).Warn("row stream aborted", "error", err)
	}
}

// =============================================================================
// Status
// =============================================================================

type stateView struct {
	Connected            bool    `json:"connected"`
	LastReadOK           bool    `json:"last_read_ok"`
	ConsecutiveErrors    int64   `json:"consecutive_errors"`
	LastReadEpoch        float64 `json:"last_read_epoch"`
	LastFlushEpoch       float64 `json:"last_flush_epoch"`
	RowsWrittenLastFlush int64   `json:"rows_written_last_flush"`
	LastReadAge          string  `json:"last_read_age,omitempty"`
}

type familyView struct {
	Files  int    `json:"files"`
	Bytes  int64  `json:"bytes"`
	Active string `json:"active,omitempty"`
}

type usageView struct {
	Layout   string                `json:"layout"`
	Bytes    int64                 `json:"bytes"`
	Size     string                `json:"size"`
	CapBytes int64                 `json:"cap_bytes"`
	Cap      string                `json:"cap"`
	Families map[string]familyView `json:"families,omitempty"`
}

type storageView struct {
	ReadOnly        bool   `json:"read_only"`
	Uptime          string `json:"uptime"`
	Queries         int64  `json:"queries"`
	QueryErrors     int64  `json:"query_errors"`
	FilesSkipped    int64  `json:"files_skipped"`
	RetentionRuns   int64  `json:"retention_runs,omitempty"`
	ArchivedFiles   int64  `json:"archived_files,omitempty"`
	ArchivedRows    int64  `json:"archived_rows,omitempty"`
	ArchiveFailures int64  `json:"archive_errors,omitempty"`
}

type setpointView struct {
	Reads     int64  `json:"reads"`
	Writes    int64  `json:"writes"`
	Pulses    int64  `json:"pulses"`
	Errors    int64  `json:"errors"`
	LastWrite string `json:"last_write,omitempty"`
}

type policyView struct {
	Tag        string   `json:"tag"`
	Mode       string   `json:"mode"`
	LastValue  *float64 `json:"last_value"`
	LastLogged string   `json:"last_logged,omitempty"`
}

type statusResponse struct {
	State     stateView     `json:"state"`
	Policy    []policyView  `json:"policy"`
	Usage     usageView     `json:"usage"`
	Storage   storageView   `json:"storage"`
	Setpoints *setpointView `json:"setpoints,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := statusResponse{
		State: stateView{
			Connected:            st.Connected,
			LastReadOK:           st.LastReadOK,
			ConsecutiveErrors:    st.ConsecutiveErrors,
			LastReadEpoch:        st.LastReadEpoch,
			LastFlushEpoch:       st.LastFlushEpoch,
			RowsWrittenLastFlush: st.RowsWrittenLastFlush,
		},
	}
	policy, err := s.store.Policy(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp.Policy = make([]policyView, len(policy))
	for i, p := range policy {
		resp.Policy[i] = policyView{Tag: p.Tag, Mode: p.Mode, LastValue: p.LastValue, LastLogged: p.LastLogged}
	}

	if st.LastReadEpoch > 0 {
		sec, frac := math.Modf(st.LastReadEpoch)
		resp.State.LastReadAge = humanize.Time(time.Unix(int64(sec), int64(frac*1e9)))
	}

	u := s.store.Usage()
	resp.Usage = usageView{
		Layout:   u.Layout,
		Bytes:    u.Bytes,
		Size:     humanize.IBytes(uint64(u.Bytes)),
		CapBytes: u.CapBytes,
		Cap:      humanize.IBytes(uint64(u.CapBytes)),
	}
	if len(u.Families) > 0 {
		resp.Usage.Families = make(map[string]familyView, len(u.Families))
		for f, fu := range u.Families {
			resp.Usage.Families[f.String()] = familyView{Files: fu.Files, Bytes: fu.Bytes, Active: fu.Active}
		}
	}

	ss := s.store.Stats()
	resp.Storage = storageView{
		ReadOnly:     ss.ReadOnly,
		Uptime:       ss.Uptime.Round(time.Second).String(),
		Queries:      ss.Query.QueriesExecuted,
		QueryErrors:  ss.Query.Errors,
		FilesSkipped: ss.Query.FilesSkipped,
	}
	if ss.Retention != nil {
		resp.Storage.RetentionRuns = ss.Retention.Runs
	}
	if ss.Archive != nil {
		resp.Storage.ArchivedFiles = ss.Archive.FilesExported
		resp.Storage.ArchivedRows = ss.Archive.RowsExported
		resp.Storage.ArchiveFailures = ss.Archive.Errors
	}

	if s.setpoints != nil {
		sp := s.setpoints.Stats()
		resp.Setpoints = &setpointView{
			Reads:     sp.Reads,
			Writes:    sp.Writes,
			Pulses:    sp.Pulses,
			Errors:    sp.Errors,
			LastWrite: sp.LastWrite,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// Tags
// =============================================================================

type tagView struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Unit       string `json:"unit"`
	Address    uint16 `json:"address"`
	DataType   string `json:"data_type"`
	IsSetpoint bool   `json:"is_setpoint"`
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.Tags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]tagView, len(tags))
	for i, t := range tags {
		out[i] = tagView(t)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// Setpoints
// =============================================================================

type setpointWrite struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

type setpointResult struct {
	OK    bool    `json:"ok"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (s *Server) handleSetpoints(w http.ResponseWriter, r *http.Request) {
	values, err := s.setpoints.ReadAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if values == nil {
		values = []setpoint.Value{}
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleWriteSetpoint(w http.ResponseWriter, r *http.Request) {
	var body setpointWrite
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, errors.NewValidation("body", err.Error()))
		return
	}
	if body.Name == "" {
		writeError(w, r, errors.NewMissingField("name"))
		return
	}
	if body.Value == nil {
		writeError(w, r, errors.NewMissingField("value"))
		return
	}

	if err := s.setpoints.Write(r.Context(), body.Name, *body.Value); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setpointResult{OK: true, Name: body.Name, Value: *body.Value})
}

func (s *Server) handleFaultReset(w http.ResponseWriter, r *http.Request) {
	if err := s.setpoints.FaultReset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
