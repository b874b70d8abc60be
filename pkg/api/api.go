// Package api implements the external query submission surface of
// spec.md §6, grounded on the teacher's REST controller shape found in
// original_source/.../REST/Controller/QueryController.hpp: a submit
// endpoint returning 202 with the assigned query id, a status lookup,
// and a stop endpoint, each translating errs.Kind into the matching
// HTTP status the way that controller maps exceptions onto response
// codes. Unlike the original's oatpp framework, this uses the stdlib
// net/http ServeMux the teacher already favors for its own HTTP surfaces.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fluxmesh/fluxmesh/pkg/coordinator"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/log"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Handler wraps a *coordinator.Coordinator behind the query submission,
// status, and stop endpoints (spec.md §6).
type Handler struct {
	coord *coordinator.Coordinator
	mux   *http.ServeMux
}

// NewHandler builds the routed handler. Callers pass it to http.Server.
func NewHandler(coord *coordinator.Coordinator) *Handler {
	h := &Handler{coord: coord, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /queries", h.submitQuery)
	h.mux.HandleFunc("GET /query/{id}", h.queryStatus)
	h.mux.HandleFunc("DELETE /query/{id}", h.stopQuery)
	h.mux.HandleFunc("GET /topology", h.topology)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type submitRequest struct {
	UserQuery      string `json:"userQuery"`
	Placement      string `json:"placement"`
	FaultTolerance string `json:"faultTolerance"`
	Lineage        string `json:"lineage"`
}

type submitResponse struct {
	QueryID uint64 `json:"queryId"`
}

// submitQuery is the ENDPOINT("POST", "/execute-query", ...) of
// QueryController.hpp, minus the protobuf variant (spec.md Non-goals
// excludes the binary submission path, see SPEC_FULL.md §3).
func (h *Handler) submitQuery(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.UserQuery == "" {
		writeError(w, http.StatusBadRequest, "Incorrect or missing key word for user query, use 'userQuery'")
		return
	}
	if req.Placement == "" {
		writeError(w, http.StatusBadRequest, "No placement strategy specified. Specify a placement strategy using 'placement'")
		return
	}

	sub := types.QuerySubmission{
		UserQuery:      req.UserQuery,
		Placement:      types.PlacementStrategy(req.Placement),
		FaultTolerance: types.FaultTolerance(req.FaultTolerance),
		Lineage:        types.LineageMode(req.Lineage),
	}

	queryID, err := h.coord.AddQuery(r.Context(), sub)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{QueryID: uint64(queryID)})
}

type statusResponse struct {
	QueryID    uint64 `json:"queryId"`
	Status     string `json:"status"`
	FailReason string `json:"failReason,omitempty"`
}

// queryStatus is the ENDPOINT("GET", "/query-status", ...) of
// QueryController.hpp.
func (h *Handler) queryStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseQueryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, ok := h.coord.Queries.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no query with given id")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		QueryID:    uint64(entry.ID),
		Status:     string(entry.Status),
		FailReason: entry.FailReason,
	})
}

type topologyNodeResponse struct {
	ID      uint64 `json:"id"`
	Address string `json:"address,omitempty"`
	Slots   int    `json:"slots"`
	Used    int    `json:"usedSlots"`
}

type topologyResponse struct {
	Root  uint64                  `json:"root"`
	Nodes []topologyNodeResponse `json:"nodes"`
}

// topology is a read-only view of the cluster's worker nodes, used by
// cmd/fluxmesh's "topology inspect" subcommand; there is no equivalent
// endpoint in QueryController.hpp since the original exposes topology
// through a separate controller this repo doesn't carry (SPEC_FULL.md §3).
func (h *Handler) topology(w http.ResponseWriter, r *http.Request) {
	topo := h.coord.Topology.Snapshot()
	resp := topologyResponse{Root: uint64(topo.Root)}
	for id, n := range topo.Nodes {
		resp.Nodes = append(resp.Nodes, topologyNodeResponse{
			ID:      uint64(id),
			Address: n.Address,
			Slots:   n.Slots,
			Used:    n.UsedSlots,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// stopQuery is the ENDPOINT("DELETE", "/stop-query", ...) of
// QueryController.hpp, always requesting a graceful shutdown; this
// endpoint offers no HardStop or Failure termination.
func (h *Handler) stopQuery(w http.ResponseWriter, r *http.Request) {
	id, err := parseQueryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.coord.StopQuery(r.Context(), id, types.TerminationGraceful); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func parseQueryID(r *http.Request) (types.QueryId, error) {
	raw := r.PathValue("id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return types.Invalid, errs.Validation("invalid query id "+raw, err)
	}
	return types.QueryId(n), nil
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errs.Is(err, errs.KindNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errs.Is(err, errs.KindValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Errorf("query request failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
