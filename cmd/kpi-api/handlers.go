package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"Go2NetKPI/internal/query"
)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	querier query.Querier
}

func newRouter(h *APIHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/runs", h.runsHandler).Methods("GET")
	r.HandleFunc("/api/v1/runs/{run}/kpis", h.latestKPIsHandler).Methods("GET")
	r.HandleFunc("/api/v1/runs/{run}/flows/{flow:[0-9]+}", h.flowHistoryHandler).Methods("GET")
	return r
}

// runID maps the "latest" alias to the empty run id the querier expects.
func runID(r *http.Request) string {
	id := mux.Vars(r)["run"]
	if id == "latest" {
		return ""
	}
	return id
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// runsHandler lists stored runs.
func (h *APIHandler) runsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
		return
	}
	runs, err := h.querier.Runs(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query runs: %v", err), http.StatusInternalServerError)
		return
	}
	values := make([]*structpb.Value, 0, len(runs))
	for _, run := range runs {
		s, err := run.Struct()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to encode run: %v", err), http.StatusInternalServerError)
			return
		}
		values = append(values, structpb.NewStructValue(s))
	}
	writeList(w, "runs", values)
}

// latestKPIsHandler returns the newest KPIs of every flow in a run.
func (h *APIHandler) latestKPIsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.querier.LatestKPIs(r.Context(), runID(r))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query kpis: %v", err), http.StatusInternalServerError)
		return
	}
	writeRows(w, rows)
}

// flowHistoryHandler returns one flow's KPIs in tick order.
func (h *APIHandler) flowHistoryHandler(w http.ResponseWriter, r *http.Request) {
	flowID, err := strconv.ParseUint(mux.Vars(r)["flow"], 10, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid flow id: %v", err), http.StatusBadRequest)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
		return
	}
	rows, err := h.querier.FlowHistory(r.Context(), runID(r), uint32(flowID), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query flow: %v", err), http.StatusInternalServerError)
		return
	}
	writeRows(w, rows)
}

func writeRows(w http.ResponseWriter, rows []query.KPIRow) {
	values := make([]*structpb.Value, 0, len(rows))
	for _, row := range rows {
		s, err := row.Struct()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to encode row: %v", err), http.StatusInternalServerError)
			return
		}
		values = append(values, structpb.NewStructValue(s))
	}
	writeList(w, "kpis", values)
}

func writeList(w http.ResponseWriter, key string, values []*structpb.Value) {
	resp := &structpb.Struct{Fields: map[string]*structpb.Value{
		key: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
	jsonBytes, err := protojson.Marshal(resp)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}
