// Command webhook-sink is a development receiver for sales agent
// webhooks. It verifies each delivery's signature against the shared
// master key and prints the event to stdout.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/notify"
)

func main() {
	os.Exit(run(os.Stdout, os.Stderr))
}

func run(stdout, stderr io.Writer) int {
	master := os.Getenv("WEBHOOK_SIGNING_KEY")
	if master == "" {
		fmt.Fprintln(stderr, "webhook-sink: WEBHOOK_SIGNING_KEY is required")
		return 2
	}
	subscriptionID := os.Getenv("SUBSCRIPTION_ID")
	if subscriptionID == "" {
		fmt.Fprintln(stderr, "webhook-sink: SUBSCRIPTION_ID is required to derive the verification key")
		return 2
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	signer, err := notify.NewSigner([]byte(master))
	if err != nil {
		fmt.Fprintf(stderr, "webhook-sink: %v\n", err)
		return 1
	}
	logger := slog.Default().With("component", "webhook-sink")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "body read failed", http.StatusBadRequest)
			return
		}
		sig := r.Header.Get(notify.SignatureHeader)
		if !signer.Verify(subscriptionID, body, sig) {
			logger.Warn("rejected delivery with bad signature",
				"delivery", r.Header.Get("X-Sales-Delivery"),
			)
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
			return
		}

		var event contracts.StepEvent
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "payload is not a step event", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(stdout, "%s step=%s status=%s attempt=%s\n",
			event.Type, event.StepID, event.Status, r.Header.Get("X-Sales-Attempt"))
		w.WriteHeader(http.StatusNoContent)
	})

	logger.Info("listening", "port", port)
	server := &http.Server{Addr: ":" + port, Handler: mux}
	if err := server.ListenAndServe(); err != nil {
		fmt.Fprintf(stderr, "webhook-sink: %v\n", err)
		return 1
	}
	return 0
}
