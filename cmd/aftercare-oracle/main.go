// Package main provides the aftercare-oracle binary — the standalone
// compatibility oracle service. It answers the same endpoint the networked
// oracle backend posts to, backed by the lookup table.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	chi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voltworks/aftercare/pkg/oracle"
)

var version = "dev"

func main() {
	addr := flag.String("addr", envOr("ORACLE_ADDR", ":8100"), "listen address")
	table := flag.String("compat-table", envOr("ORACLE_COMPAT_TABLE", ""), "compatibility fixture table YAML (default: built-in)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var entries []oracle.TableEntry
	if *table != "" {
		entries, err = oracle.LoadTableFile(*table)
		if err != nil {
			logger.Fatal("load compatibility table", zap.Error(err))
		}
	}
	backend := oracle.NewTableClient(entries)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/query/controller_compatibility", func(w http.ResponseWriter, req *http.Request) {
		var q struct {
			VehicleModel    string `json:"vehicle_model"`
			ControllerModel string `json:"controller_model"`
			ControllerBrand string `json:"controller_brand"`
		}
		if err := json.NewDecoder(req.Body).Decode(&q); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		verdict, _ := backend.Query(ctx, q.VehicleModel, q.ControllerModel, q.ControllerBrand)

		logger.Info("compatibility query",
			zap.String("vehicle_model", q.VehicleModel),
			zap.String("controller_model", q.ControllerModel),
			zap.String("verdict", verdict.Compatible.String()))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(verdict)
	})

	logger.Info("oracle serving", zap.String("addr", *addr), zap.String("version", version))
	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
