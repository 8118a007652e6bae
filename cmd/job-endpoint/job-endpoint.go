package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"hearth/libs"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// A backend endpoint for local runs: accepts job run requests sent by hearth
// and simulates work, failing a configurable share of them.
func main() {
	addr := flag.String("addr", ":5001", "listen address")
	failureRate := flag.Int("failure-rate", 10, "percentage of requests answered with an error")
	delay := flag.Duration("delay", time.Second, "simulated processing time")
	flag.Parse()

	baseLogger, err := zap.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("can't initialize zap logger: %v", err))
	}

	logger := baseLogger.Sugar()
	defer logger.Sync()

	r := mux.NewRouter()
	srv := &http.Server{
		Addr:    *addr,
		Handler: r,
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/jobs/{name}", func(w http.ResponseWriter, req *http.Request) {
		var request libs.JobRunRequest
		if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
			logger.Errorf("error during request processing - %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		logger.Infof("requested job %s run %s by %s", mux.Vars(req)["name"], request.JobRunId, request.Origin)
		time.Sleep(*delay)

		if rand.Intn(100) < *failureRate {
			logger.Warnf("job run %s failed due to jitter error", request.JobRunId)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}).Methods("POST")

	logger.Infof("listening on %v", srv.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error(err)
	}
}
