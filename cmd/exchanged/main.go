package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/eventbus"
	"github.com/0x5487/exchange-core/marketdata"
	"github.com/0x5487/exchange-core/persist"
	"github.com/0x5487/exchange-core/protocol"
	"github.com/0x5487/exchange-core/pubsub"
	"github.com/0x5487/exchange-core/ws"
)

func main() {
	var (
		listenAddr   = flag.String("listen", ":8080", "order ingress and websocket listen address")
		metricsAddr  = flag.String("metrics", ":9100", "prometheus metrics listen address")
		dataDir      = flag.String("data", "./data", "pebble database directory")
		natsURL      = flag.String("nats", "", "NATS url for market-data publishing (optional)")
		kafkaBrokers = flag.String("kafka", "", "comma separated Kafka brokers for the event log (optional)")
		kafkaTopic   = flag.String("kafka-topic", "engine-events", "Kafka topic for the event log")
		symbols      = flag.String("symbols", "", "symbol whitelist as SYM:priceScale:qtyScale, comma separated (optional)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := match.DefaultConfig()
	cfg.Markets = parseMarkets(*symbols)

	serializer := &protocol.DefaultJSONSerializer{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Engine → broadcaster.
	bus := eventbus.NewBroadcaster()
	engine := match.NewEngine(cfg, bus)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Start(); err != nil {
			logger.Error("engine stopped", "error", err)
		}
	}()

	// Persistence arm.
	store, err := persist.OpenPebble(*dataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	writerCfg := persist.DefaultConfig()
	writerCfg.BatchSize = cfg.PersistenceBatchSize
	writerCfg.BatchTimeout = cfg.PersistenceBatchTimeout
	writerCfg.ChannelCapacity = cfg.PersistenceChannelCapacity
	writer := persist.NewWriter(writerCfg, store, cfg.Markets)
	go writer.Run(context.Background())

	persistSub := bus.Subscribe("persist", 0, eventbus.NoDrop)
	persistPumpDone := make(chan struct{})
	go func() {
		defer close(persistPumpDone)
		for event := range persistSub.Events() {
			if err := writer.Enqueue(context.Background(), event); err != nil {
				logger.Warn("persistence enqueue failed", "error", err, "seq", event.Sequence)
				return
			}
		}
	}()

	// Real-time arm.
	hub := ws.NewHub(256)
	var natsPub *pubsub.NATSPublisher
	if *natsURL != "" {
		natsPub, err = pubsub.NewNATSPublisher(*natsURL)
		if err != nil {
			logger.Error("failed to connect NATS", "error", err)
			os.Exit(1)
		}
		defer natsPub.Close()
	}

	publish := func(msg marketdata.Message) {
		hub.Broadcast(msg)
		if natsPub != nil {
			if err := natsPub.Publish(msg.Channel, msg.Payload); err != nil {
				logger.Warn("nats publish failed", "error", err, "channel", msg.Channel)
			}
		}
	}

	aggSub := bus.Subscribe("marketdata", 0, eventbus.NoDrop)
	agg := marketdata.NewAggregator(marketdata.Config{
		DepthThrottle: cfg.DepthThrottle,
		DepthLevels:   cfg.DepthLevels,
		TickerWindow:  cfg.TickerWindow,
		Markets:       cfg.Markets,
	}, serializer, publish, marketdata.WithTickerStore(writer))
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		agg.Run(context.Background(), aggSub.Events())
	}()

	// Event log arm (optional).
	var kafkaLog *pubsub.KafkaEventLog
	kafkaDone := make(chan struct{})
	if *kafkaBrokers != "" {
		kafkaLog = pubsub.NewKafkaEventLog(strings.Split(*kafkaBrokers, ","), *kafkaTopic, serializer)
		kafkaSub := bus.Subscribe("eventlog", 0, eventbus.NoDrop)
		go func() {
			defer close(kafkaDone)
			kafkaLog.Run(context.Background(), kafkaSub.Events())
		}()
		defer kafkaLog.Close()
	} else {
		close(kafkaDone)
	}

	// HTTP surface: order ingress (stand-in for the real gateway),
	// websocket fan-out, metrics.
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(hub))
	mux.HandleFunc("POST /orders", placeHandler(engine))
	mux.HandleFunc("POST /orders/cancel", cancelHandler(engine))
	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
		}
	}()

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("exchanged running", "listen", *listenAddr, "metrics", *metricsAddr)

	<-ctx.Done()
	logger.Info("shutting down")

	// Shutdown order: stop intake, drain the engine, drain the bus, give
	// the writer its final flush, then stop the servers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)

	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown failed", "error", err)
	}
	<-engineDone

	bus.Close()
	<-persistPumpDone
	<-aggDone
	<-kafkaDone

	writer.Close()
	select {
	case <-writer.Done():
	case <-shutdownCtx.Done():
		logger.Warn("writer final flush timed out")
	}

	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("bye")
}

func parseMarkets(list string) []protocol.Market {
	if list == "" {
		return nil
	}

	var markets []protocol.Market
	for _, entry := range strings.Split(list, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			continue
		}
		priceScale, err1 := strconv.Atoi(parts[1])
		qtyScale, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			continue
		}
		markets = append(markets, protocol.Market{
			Symbol:        parts[0],
			PriceScale:    int32(priceScale),
			QuantityScale: int32(qtyScale),
		})
	}
	return markets
}

type placeRequest struct {
	UserID   uint64 `json:"user_id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Kind     string `json:"kind"`
	Quantity uint64 `json:"quantity"`
	Price    uint64 `json:"price"`
}

type cancelRequest struct {
	UserID  uint64 `json:"user_id"`
	Symbol  string `json:"symbol"`
	OrderID uint64 `json:"order_id"`
}

func placeHandler(engine *match.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req placeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var side protocol.Side
		switch strings.ToLower(req.Side) {
		case "buy":
			side = protocol.SideBuy
		case "sell":
			side = protocol.SideSell
		default:
			http.Error(w, "invalid side", http.StatusBadRequest)
			return
		}

		kind := protocol.OrderKind(strings.ToLower(req.Kind))
		if kind != protocol.OrderKindLimit && kind != protocol.OrderKindMarket {
			http.Error(w, "invalid kind", http.StatusBadRequest)
			return
		}

		err := engine.PlaceOrder(r.Context(), &protocol.PlaceOrderCommand{
			UserID:   protocol.UserID(req.UserID),
			Symbol:   req.Symbol,
			Side:     side,
			Kind:     kind,
			Quantity: protocol.Quantity(req.Quantity),
			Price:    protocol.Price(req.Price),
		})
		writeEnqueueResult(w, err)
	}
}

func cancelHandler(engine *match.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		err := engine.CancelOrder(r.Context(), &protocol.CancelOrderCommand{
			UserID:  protocol.UserID(req.UserID),
			Symbol:  req.Symbol,
			OrderID: protocol.OrderID(req.OrderID),
		})
		writeEnqueueResult(w, err)
	}
}

func writeEnqueueResult(w http.ResponseWriter, err error) {
	switch err {
	case nil:
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	case match.ErrShutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	case match.ErrTimeout:
		// Command channel full: retryable backpressure toward the client.
		http.Error(w, "busy", http.StatusTooManyRequests)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
