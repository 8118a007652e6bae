package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"hearth/commands"
	"hearth/jobs"
	"hearth/libs"
	"hearth/queries"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func newHttpHandler(app Application) http.Handler {
	r := mux.NewRouter()
	registerApiRoutes(r, app)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{app.Logger}),
	)(handlers.CombinedLoggingHandler(zap.NewStdLog(app.Logger.Desugar()).Writer(), r))
}

func registerApiRoutes(router *mux.Router, app Application) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	getJobs(v1, app)
	getJobRuns(v1, app)
	triggerJob(v1, app)
}

func getJobs(v1 *mux.Router, app Application) {
	v1.HandleFunc("/jobs", func(w http.ResponseWriter, req *http.Request) {
		h := queries.GetJobsHandler{Families: app.Families, Schedules: app.Schedules}
		result, err := h.Handle(req.Context())

		if err != nil {
			problem(w, http.StatusUnprocessableEntity, err)
			return
		}

		ok(w, result)
	}).Methods("GET")
}

func getJobRuns(v1 *mux.Router, app Application) {
	v1.HandleFunc("/jobs/{name}/runs", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)

		limit := 0
		if raw := req.URL.Query().Get("limit"); raw != "" {
			var err error
			if limit, err = strconv.Atoi(raw); err != nil {
				problem(w, http.StatusBadRequest, queries.ErrInvalidRunsLimit)
				return
			}
		}

		h := queries.GetJobRunsHandler{Storage: app.Storage, Families: app.Families}
		result, err := h.Handle(req.Context(), queries.GetJobRuns{Job: vars["name"], Limit: limit})

		if err != nil {
			switch {
			case errors.Is(err, jobs.ErrUnknownJob):
				problem(w, http.StatusNotFound, err)
			case errors.Is(err, queries.ErrInvalidRunsLimit):
				problem(w, http.StatusBadRequest, err)
			default:
				problem(w, http.StatusUnprocessableEntity, err)
			}
			return
		}

		ok(w, result)
	}).Methods("GET")
}

func triggerJob(v1 *mux.Router, app Application) {
	v1.HandleFunc("/jobs/{name}/runs", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)

		h := commands.TriggerJobHandler{Families: app.Families}
		result, err := h.Handle(req.Context(), commands.TriggerJob{Job: vars["name"], Origin: jobs.OriginOperator})

		if err != nil {
			switch {
			case errors.Is(err, jobs.ErrUnknownJob):
				problem(w, http.StatusNotFound, err)
			case errors.Is(err, jobs.ErrJobAlreadyRunning):
				problem(w, http.StatusConflict, err)
			default:
				problem(w, http.StatusUnprocessableEntity, err)
			}
			return
		}

		accepted(w, result)
	}).Methods("POST")
}

func ok(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, data)
}

func accepted(w http.ResponseWriter, data any) {
	write(w, http.StatusAccepted, data)
}

func write(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set(libs.ContentTypeHeader, libs.ApplicationJson)
	w.WriteHeader(statusCode)

	jsonData, _ := json.Marshal(data)
	_, _ = w.Write(jsonData)
}

func problem(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set(libs.ContentTypeHeader, libs.ApplicationJson)
	w.WriteHeader(statusCode)

	var e libs.Error
	var data []byte
	if castOk := errors.As(err, &e); castOk {
		data, _ = json.Marshal(map[string]string{"code": e.Code, "error": e.Msg})
	} else {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}

	_, _ = w.Write(data)
}

type recoveryLogger struct {
	logger *zap.SugaredLogger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Errorln(v...)
}
