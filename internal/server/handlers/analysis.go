package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fathomtel/callsight/pkg/analysis"
	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/jobstore"
)

// API bundles the analysis endpoints around the service facade.
type API struct {
	svc *analysis.Service
	log *zap.Logger
}

// NewAPI builds the endpoint set. A nil logger is replaced with a no-op
// logger.
func NewAPI(svc *analysis.Service, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{svc: svc, log: logger.Named("api")}
}

// analyzeRequest is the wire shape of POST /api/v1/analyze.
type analyzeRequest struct {
	FromDate string   `json:"from_date,omitempty"`
	ToDate   string   `json:"to_date,omitempty"`
	CallIDs  []string `json:"call_ids,omitempty"`
	Emails   []string `json:"emails,omitempty"`
	Domains  []string `json:"domains,omitempty"`
	Title    string   `json:"title,omitempty"`
	Prompt   string   `json:"prompt,omitempty"`
}

// Analyze routes an analysis request: small workloads come back inline,
// large ones return a job id to poll.
func (a *API) Analyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondValidation(w, r, "invalid request body: "+err.Error())
		return
	}

	req := analysis.Request{
		Prompt: body.Prompt,
		Filter: callsource.Filter{
			CallIDs:    body.CallIDs,
			Emails:     body.Emails,
			Domains:    body.Domains,
			TitleQuery: body.Title,
		},
	}

	var err error
	if req.From, err = parseDate(body.FromDate); err != nil {
		respondValidation(w, r, "from_date: "+err.Error())
		return
	}
	if req.To, err = parseDate(body.ToDate); err != nil {
		respondValidation(w, r, "to_date: "+err.Error())
		return
	}

	resp, err := a.svc.RouteAndDispatch(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	status := http.StatusOK
	if resp.JobID != "" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// JobStatus serves GET /api/v1/jobs/{jobID}.
func (a *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.svc.GetJobStatus(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// JobResults serves GET /api/v1/jobs/{jobID}/results.
func (a *API) JobResults(w http.ResponseWriter, r *http.Request) {
	result, err := a.svc.GetJobResults(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListJobs serves GET /api/v1/jobs.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondValidation(w, r, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	jobs, err := a.svc.ListJobs(limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []jobstore.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// ListCalls serves GET /api/v1/calls with optional search filters.
func (a *API) ListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseDate(q.Get("from"))
	if err != nil {
		respondValidation(w, r, "from: "+err.Error())
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		respondValidation(w, r, "to: "+err.Error())
		return
	}

	filter := callsource.Filter{
		Emails:     splitParam(q.Get("emails")),
		Domains:    splitParam(q.Get("domains")),
		TitleQuery: q.Get("title"),
	}

	calls, err := a.svc.SearchCalls(r.Context(), from, to, filter)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if calls == nil {
		calls = []callsource.Call{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

// Transcript serves GET /api/v1/calls/{callID}/transcript. The format
// query parameter chooses json (default) or text.
func (a *API) Transcript(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseDate(q.Get("from"))
	if err != nil {
		respondValidation(w, r, "from: "+err.Error())
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		respondValidation(w, r, "to: "+err.Error())
		return
	}

	doc, err := a.svc.GetTranscript(r.Context(), chi.URLParam(r, "callID"), from, to)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	switch q.Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, doc)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(doc.Text()))
	default:
		respondValidation(w, r, "format must be json or text")
	}
}

// Participants serves GET /api/v1/calls/{callID}/participants.
func (a *API) Participants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseDate(q.Get("from"))
	if err != nil {
		respondValidation(w, r, "from: "+err.Error())
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		respondValidation(w, r, "to: "+err.Error())
		return
	}

	internal, external, err := a.svc.GetParticipants(r.Context(), chi.URLParam(r, "callID"), from, to)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"internal": internal,
		"external": external,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseDate accepts an empty string (zero time), a bare date, or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func splitParam(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
