package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"

	"github.com/roach88/sqlog/internal/event"
)

// maxBodyBytes caps an ingest request body after decompression.
const maxBodyBytes = 8 << 20

type ingestResponse struct {
	Accepted int `json:"accepted"`
	Failed   int `json:"failed"`
}

// handleIngest processes POST requests carrying one JSON record or an array
// of records. Bad records are counted and skipped, never aborting the batch.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := s.parsers.Get()
	defer s.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	var resp ingestResponse

	ingestOne := func(val *fastjson.Value) {
		ev, err := eventFromJSON(val)
		if err != nil {
			resp.Failed++
			s.metrics.EventsFailed.Inc()
			s.log.Warn("discarding malformed record", "error", err)
			return
		}

		if _, err := s.app.Append(r.Context(), s.ex, ev); err != nil {
			resp.Failed++
			s.metrics.EventsFailed.Inc()
			s.log.Error("failed to persist event", "logger", ev.LoggerName, "error", err)
			return
		}

		resp.Accepted++
		s.metrics.EventsIngested.Inc()
	}

	if v.Type() == fastjson.TypeArray {
		arr, _ := v.Array()
		s.metrics.BatchSize.Observe(float64(len(arr)))
		for _, val := range arr {
			ingestOne(val)
		}
	} else {
		s.metrics.BatchSize.Observe(1)
		ingestOne(v)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	var reader io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("bad gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

// eventFromJSON maps one wire record onto an event.
//
// Recognized fields: timestamp (epoch ms), message (alias msg), logger,
// level, thread, properties and context (string maps), throwable (array of
// lines or a single string), caller ({file, class, method, line}).
func eventFromJSON(val *fastjson.Value) (*event.Event, error) {
	if val.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("record is %s, want object", val.Type())
	}

	msg := string(val.GetStringBytes("message"))
	if msg == "" {
		msg = string(val.GetStringBytes("msg"))
	}
	if msg == "" {
		return nil, fmt.Errorf("record has no message")
	}

	ts := val.GetInt64("timestamp")
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	loggerName := string(val.GetStringBytes("logger"))
	if loggerName == "" {
		loggerName = "root"
	}

	level := string(val.GetStringBytes("level"))
	if level == "" {
		level = "INFO"
	}

	ev := &event.Event{
		Timestamp:  ts,
		Message:    msg,
		LoggerName: loggerName,
		Level:      level,
		ThreadName: string(val.GetStringBytes("thread")),
	}

	if obj := val.GetObject("context"); obj != nil {
		ev.ContextProperties = visitStringMap(obj)
	}
	if obj := val.GetObject("properties"); obj != nil {
		ev.EventProperties = visitStringMap(obj)
	}

	if tv := val.Get("throwable"); tv != nil {
		switch tv.Type() {
		case fastjson.TypeArray:
			arr, _ := tv.Array()
			for _, line := range arr {
				ev.Throwable = append(ev.Throwable, scalarString(line))
			}
		case fastjson.TypeString:
			ev.Throwable = []string{scalarString(tv)}
		}
	}

	if cv := val.Get("caller"); cv != nil && cv.Type() == fastjson.TypeObject {
		ev.Caller = []event.CallerFrame{{
			File:   string(cv.GetStringBytes("file")),
			Class:  string(cv.GetStringBytes("class")),
			Method: string(cv.GetStringBytes("method")),
			Line:   cv.GetInt("line"),
		}}
	}

	return ev, nil
}

func visitStringMap(obj *fastjson.Object) map[string]string {
	m := make(map[string]string, obj.Len())
	obj.Visit(func(key []byte, v *fastjson.Value) {
		m[string(key)] = scalarString(v)
	})
	return m
}

// scalarString renders a JSON value as a property value: strings unquoted,
// everything else in its JSON form.
func scalarString(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		b, _ := v.StringBytes()
		return string(b)
	}
	return v.String()
}
