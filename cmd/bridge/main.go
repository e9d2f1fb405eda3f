package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisaks/modbus-mqtt-bridge/internal/bridgebuild"
	"github.com/fisaks/modbus-mqtt-bridge/internal/config"
	"github.com/fisaks/modbus-mqtt-bridge/internal/logging"
	"github.com/fisaks/modbus-mqtt-bridge/internal/messaging"
	"github.com/fisaks/modbus-mqtt-bridge/internal/pollspec"
	"github.com/fisaks/modbus-mqtt-bridge/internal/worker"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	mqttURL := getenv("MQTT_URL", "tcp://localhost:1883")
	path := getenv("BRIDGE_CONFIG_PATH", "/etc/modbus-mqtt-bridge/config.yaml")
	clientName := getenv("BRIDGE_NAME", "bridge1")
	topicPrefix := getenv("MQTT_TOPIC_PREFIX", "")

	logging.Init()
	cfg, err := config.Load(path)
	if err != nil {
		logging.Fatal("config error", "error", err)
	}
	logging.Info("loaded config", "networks", len(cfg.Networks), "objects", len(cfg.Objects))

	built, err := bridgebuild.Build(cfg)
	if err != nil {
		logging.Fatal("building runtime objects", "error", err)
	}

	router := messaging.NewRouter(messaging.BrokerConfig{
		BrokerURL:   mqttURL,
		ClientName:  clientName,
		TopicPrefix: topicPrefix,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := make(map[string]*worker.Worker, len(cfg.Networks))
	for _, netCfg := range cfg.Networks {
		network := netCfg.Name
		w, err := worker.New(netCfg, func(ev worker.OutEvent) {
			router.HandleOutEvent(ctx, network, ev)
		})
		if err != nil {
			logging.Fatal("initializing network worker", "network", network, "error", err)
		}
		workers[network] = w
		router.RegisterNetwork(network, w.Inbox())
	}

	for _, obj := range built.Objects {
		router.RegisterObject(obj)
	}

	for network, bySlave := range built.SlaveTimings {
		w, ok := workers[network]
		if !ok {
			continue
		}
		for slave, timing := range bySlave {
			w.Inbox() <- worker.InMsg{Kind: worker.MsgSlaveConfig, SlaveID: slave, SlaveTiming: timing}
		}
	}
	for network, spec := range built.PollSpecs {
		w, ok := workers[network]
		if !ok {
			continue
		}
		polls := make([]pollspec.Poll, len(spec.Polls))
		copy(polls, spec.Polls)
		w.Inbox() <- worker.InMsg{Kind: worker.MsgPollSpecification, Polls: polls}
	}

	if err := router.Connect(ctx); err != nil {
		logging.Fatal("mqtt connect", "error", err)
	}
	if err := router.Start(ctx); err != nil {
		logging.Fatal("mqtt subscribe", "error", err)
	}

	for network, w := range workers {
		w.Inbox() <- worker.InMsg{Kind: worker.MsgMQTTNetworkState, MQTTUp: true}
		go w.Run(ctx)
		logging.Info("network worker started", "network", network)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sigCh {
		if s == syscall.SIGHUP {
			logging.Info("SIGHUP received, reload not implemented")
			continue
		}
		logging.Info("shutting down", "signal", s)
		break
	}

	for network, w := range workers {
		select {
		case w.Inbox() <- worker.InMsg{Kind: worker.MsgShutdown}:
		default:
		}
		_ = network
	}
	cancel()
	time.Sleep(200 * time.Millisecond)
	_ = router.Close(context.Background())
	logging.Info("bye")
}
