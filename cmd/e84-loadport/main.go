// Command e84-loadport drives the E84 handshake of a load port over GPIO and
// publishes controller events to MQTT and Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/e84-loadport/internal/config"
	"github.com/sweeney/e84-loadport/internal/gpio"
	"github.com/sweeney/e84-loadport/internal/loadport"
	"github.com/sweeney/e84-loadport/internal/logger"
	"github.com/sweeney/e84-loadport/internal/messaging"
	"github.com/sweeney/e84-loadport/internal/mqtt"
	"github.com/sweeney/e84-loadport/internal/relay"
	"github.com/sweeney/e84-loadport/internal/status"
	"github.com/sweeney/e84-loadport/internal/web"
)

const (
	relayQueueSize  = 256
	statusInterval  = time.Second
	shutdownTimeout = 5 * time.Second
)

type options struct {
	configPath  string
	simulate    bool
	logLevel    string
	logDev      bool
	printState  bool
	printConfig bool
	selfTest    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flag.BoolVar(&opts.simulate, "sim", false, "Use in-memory GPIO banks instead of the chip")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.logDev, "log-dev", false, "Human-readable console logging")
	flag.BoolVar(&opts.printState, "print-state", false, "Print current input levels and exit")
	flag.BoolVar(&opts.printConfig, "print-config", false, "Print effective configuration and exit")
	flag.BoolVar(&opts.selfTest, "self-test", false, "Cycle every output off and on, then exit")

	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.simulate {
		cfg.GPIO.Simulate = true
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logDev {
		cfg.Log.Dev = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) logger.Logger {
	level, _ := logger.ParseLevel(cfg.Log.Level)
	return logger.NewSlogWriter(os.Stderr, level, false, cfg.Log.Dev)
}

// openBanks returns the signal and info banks. Simulated banks start with
// every input de-asserted.
func openBanks(cfg config.Config) (signals, info gpio.Bank, err error) {
	if cfg.GPIO.Simulate {
		return gpio.NewSignalFake(), gpio.NewInfoFake(), nil
	}

	signalBias, keyBias, err := cfg.GPIO.Biases()
	if err != nil {
		return nil, nil, err
	}
	lp := cfg.LoadPort()
	sb, err := gpio.NewChipBank(cfg.GPIO.Chip, lp.SignalInputs, lp.SignalOutputs, signalBias)
	if err != nil {
		return nil, nil, fmt.Errorf("init signal bank: %w", err)
	}
	ib, err := gpio.NewChipBank(cfg.GPIO.Chip, lp.KeyInputs, lp.LEDOutputs, keyBias)
	if err != nil {
		sb.Close()
		return nil, nil, fmt.Errorf("init info bank: %w", err)
	}
	return sb, ib, nil
}

func closeBanks(log logger.Logger, banks ...gpio.Bank) {
	for _, b := range banks {
		if err := b.Close(); err != nil {
			log.Warn("gpio cleanup failed", "error", err)
		}
	}
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if opts.printConfig {
		data, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		os.Stdout.Write(data)
		return nil
	}

	log := newLogger(cfg)
	logger.SetDefault(log)

	signals, info, err := openBanks(cfg)
	if err != nil {
		return err
	}
	defer closeBanks(log, signals, info)

	// Print state mode
	if opts.printState {
		return printState(os.Stdout, signals, info)
	}

	ctrl, err := loadport.New(cfg.LoadPort(), signals, info, loadport.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if opts.selfTest {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		if err := ctrl.SelfTest(ctx); err != nil {
			return fmt.Errorf("self-test: %w", err)
		}
		log.Info("self-test complete")
		return nil
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), trackerConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	ctrl.Subscribe(tracker.Observe)

	var relays []*relay.Relay

	// Initialize MQTT
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, log)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()
		publisher, mqttStatus = pub, pub
		tracker.SetMQTTConnected(pub.IsConnected())

		r := relay.New("mqtt", relayQueueSize, pub.Publish, log)
		relays = append(relays, r)
		ctrl.Subscribe(r.Handle)
	}

	// Initialize Redis
	var statusSink statusPublisher
	if cfg.Redis.Addr != "" {
		rc := messaging.NewClient(messaging.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Key:         cfg.Redis.Key,
			CommandList: cfg.Redis.CommandList,
		}, commandCallbacks(ctrl), log)
		defer rc.Close()

		if err := rc.Connect(); err != nil {
			log.Warn("redis unavailable, continuing without it", "error", err)
		} else {
			tracker.SetRedisConnected(true)
			rc.StartListening()
			statusSink = rc

			r := relay.New("redis", relayQueueSize, rc.PublishEvent, log)
			relays = append(relays, r)
			ctrl.Subscribe(r.Handle)
		}
	}

	// Relays drain before their sinks close.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, r := range relays {
			if err := r.Close(ctx); err != nil {
				log.Warn("relay did not drain", "error", err)
			}
		}
	}()

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, ctrl, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	defer ctrl.Stop()
	tracker.Update(ctrl.Status())

	// Publish startup event with full status snapshot
	publishSystem(log, publisher, tracker, mqttStatus, "STARTUP", "")

	log.Info("started",
		"refresh", cfg.Timing.Refresh.Std(),
		"debounce", cfg.Timing.Debounce.Std(),
		"broker", cfg.MQTT.Broker,
		"redis", cfg.Redis.Addr,
		"heartbeat", cfg.Timing.Heartbeat.Std(),
		"simulated", cfg.GPIO.Simulate)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if hb := cfg.Timing.Heartbeat.Std(); hb > 0 {
		hbTicker := time.NewTicker(hb)
		defer hbTicker.Stop()
		heartbeat = hbTicker.C
	}

	return runLoop(loopDeps{
		ctrl:       ctrl,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		statusSink: statusSink,
		log:        log,
	}, ticker.C, heartbeat, sigCh)
}

// lifecycle is the part of the controller the main loop drives.
type lifecycle interface {
	Stop() error
	Status() loadport.Status
}

type statusPublisher interface {
	PublishStatus(loadport.Status) error
}

type loopDeps struct {
	ctrl       lifecycle
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	statusSink statusPublisher
	log        logger.Logger
}

// runLoop refreshes the tracker on every tick, publishes heartbeats and
// stops the controller on a signal.
func runLoop(d loopDeps, tick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.log.Info("shutting down", "signal", signalName)

			if err := d.ctrl.Stop(); err != nil {
				d.log.Error("controller did not stop cleanly", "error", err)
			}
			refresh(d)
			publishSystem(d.log, d.publisher, d.tracker, d.mqttStatus, "SHUTDOWN", signalName)
			return nil

		case <-heartbeat:
			refresh(d)
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			snap := d.tracker.Snapshot()
			d.log.Info("heartbeat",
				"uptime", snap.Uptime().Truncate(time.Second),
				"state", snap.Controller.State,
				"handshakes", snap.Counts.Handshakes,
				"transfers", snap.Counts.Transfers,
				"warnings", snap.Counts.Timeouts+snap.Counts.Interruptions)
			publishSystem(d.log, d.publisher, d.tracker, d.mqttStatus, "HEARTBEAT", "")

		case <-tick:
			st := refresh(d)
			if d.statusSink != nil {
				if err := d.statusSink.PublishStatus(st); err != nil {
					d.log.Debug("status publish failed", "error", err)
				}
			}
		}
	}
}

// refresh copies the controller status and link state into the tracker.
func refresh(d loopDeps) loadport.Status {
	st := d.ctrl.Status()
	d.tracker.Update(st)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	return st
}

func publishSystem(log logger.Logger, publisher mqtt.Publisher, tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus, name, reason string) {
	if publisher == nil {
		return
	}
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	snap := tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   name != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.Warn("failed to publish system event", "event", name, "error", err)
		return
	}
	log.Debug("published system event", "event", name)
}

// commander is satisfied by *loadport.Controller.
type commander interface {
	Start() error
	Stop() error
	Reset() error
	SelfTest(ctx context.Context) error
}

// commandCallbacks maps Redis commands onto the controller. A self-test
// stops the controller, cycles the outputs and starts it again.
func commandCallbacks(ctrl commander) messaging.Callbacks {
	return messaging.Callbacks{
		Start: ctrl.Start,
		Stop:  ctrl.Stop,
		Reset: ctrl.Reset,
		SelfTest: func() error {
			if err := ctrl.Stop(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 4*loadport.SelfTestStep)
			defer cancel()
			if err := ctrl.SelfTest(ctx); err != nil {
				return err
			}
			return ctrl.Start()
		},
	}
}

func trackerConfig(cfg config.Config) status.Config {
	return status.Config{
		Chip:           cfg.GPIO.Chip,
		Simulated:      cfg.GPIO.Simulate,
		RefreshMs:      cfg.Timing.Refresh.Std().Milliseconds(),
		DebounceMs:     cfg.Timing.Debounce.Std().Milliseconds(),
		ShortTimeoutMs: cfg.Timing.ShortTimeout.Std().Milliseconds(),
		LongTimeoutMs:  cfg.Timing.LongTimeout.Std().Milliseconds(),
		HeartbeatMs:    cfg.Timing.Heartbeat.Std().Milliseconds(),
		Broker:         cfg.MQTT.Broker,
		RedisAddr:      cfg.Redis.Addr,
		HTTPAddr:       cfg.HTTP.Addr,
	}
}

// printState reads both banks once and prints one NAME=ON|OFF line per input.
func printState(w io.Writer, banks ...gpio.Bank) error {
	for _, b := range banks {
		levels, err := b.ReadAllInputs()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		for _, name := range b.Inputs() {
			fmt.Fprintf(w, "%s=%s\n", name, stateString(levels[name]))
		}
	}
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
