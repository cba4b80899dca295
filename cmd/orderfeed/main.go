package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qzavyer/hypernode-orderfeed/internal/config"
	"github.com/qzavyer/hypernode-orderfeed/internal/hub"
	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
	"github.com/qzavyer/hypernode-orderfeed/internal/pipeline"
	"github.com/qzavyer/hypernode-orderfeed/internal/wsbase"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: orderfeed [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Tails the node order-status log, maintains the order book, and\n")
		fmt.Fprintf(os.Stderr, "serves live updates and reactive search over WebSocket and HTTP.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  orderfeed --log-root /var/hl/data --listen :8080\n")
		fmt.Fprintf(os.Stderr, "  orderfeed --log-root /var/hl/data --config ./orderfeed.json\n")
	}

	logRoot := flag.String("log-root", "", "root directory containing node_order_statuses/hourly/...")
	listen := flag.String("listen", ":8080", "HTTP/WebSocket listen address")
	configPath := flag.String("config", "", "optional JSON configuration file (symbol rules and tuning parameters)")
	authToken := flag.String("auth-token", "", "optional WebSocket auth token (Bearer token or ?token=...)")
	allowedOrigins := flag.String("allowed-origins", "*", "comma-separated origin patterns for WebSocket CORS")
	flag.Parse()

	if *logRoot == "" {
		fmt.Fprintln(os.Stderr, "orderfeed: --log-root is required")
		flag.Usage()
		os.Exit(2)
	}

	snapshot := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatalf("orderfeed: loading config: %v", err)
		}
		snapshot = loaded
	}

	ctx := context.Background()
	pl, err := pipeline.New(ctx, *logRoot, snapshot)
	if err != nil {
		log.Fatalf("orderfeed: building pipeline: %v", err)
	}
	pl.Start()
	log.Printf("orderfeed: pipeline started over %s", *logRoot)

	srv := newServer(pl, *authToken, splitOrigins(*allowedOrigins))

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("orderfeed: listen: %v", err)
	}
	log.Printf("orderfeed: listening on %s", *listen)

	httpSrv := &http.Server{Handler: srv.mux}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("orderfeed: http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("orderfeed: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("orderfeed: http shutdown: %v", err)
	}
	pl.Stop()
	log.Println("orderfeed: shutdown complete")
}

func splitOrigins(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

type server struct {
	pl             *pipeline.Pipeline
	authToken      string
	originPatterns []string
	mux            *http.ServeMux
}

func newServer(pl *pipeline.Pipeline, authToken string, origins []string) *server {
	s := &server{pl: pl, authToken: authToken, originPatterns: origins, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/ws/instant", s.handleWSInstant)
	s.mux.HandleFunc("/ws/batched", s.handleWSBatched)
	s.mux.HandleFunc("/search", s.handleSearch)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.pl.Metrics.Reg, promhttp.HandlerOpts{}))
	return s
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprint(w, `{"ok":true}`)
}

// handleWSInstant and handleWSBatched register the same kind of Hub
// subscriber. The Hub keeps a single subscriber set, so a client on either
// endpoint receives both the per-update instant messages and the periodic
// batched envelopes; neither endpoint filters by channel.
func (s *server) handleWSInstant(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r)
}

func (s *server) handleWSBatched(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r)
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !wsbase.IsAuthorizedRequest(s.authToken, r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := wsbase.AcceptWebSocket(w, r, s.originPatterns)
	if err != nil {
		return
	}
	sub := hub.NewWebSocketSubscriber(conn)
	id := s.pl.Hub.Subscribe(sub)

	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()

	s.pl.Hub.Unsubscribe(id)
	sub.Close()
}

type searchRequestBody struct {
	Ticker    string  `json:"ticker"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Tolerance float64 `json:"tolerance"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	side, ok := ordermodel.ParseSideCode(body.Side)
	if !ok {
		http.Error(w, "invalid side", http.StatusBadRequest)
		return
	}

	req := ordermodel.SearchRequest{
		Ticker:    body.Ticker,
		Side:      side,
		Price:     body.Price,
		Tolerance: body.Tolerance,
		Timestamp: time.Now().UTC(),
	}

	order, found := s.pl.Search.Search(req)

	w.Header().Set("Content-Type", "application/json")
	if !found {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]bool{"found": false})
		return
	}
	_ = json.NewEncoder(w).Encode(order)
}
