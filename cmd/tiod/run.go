package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/twinleaf/tio/pkg/common"
	"github.com/twinleaf/tio/pkg/dlq"
	"github.com/twinleaf/tio/pkg/eventlog"
	"github.com/twinleaf/tio/pkg/proxy"
)

// daemonState is what the status API reports about the running proxy. It
// is maintained by the event consumer, never by the engine itself.
type daemonState struct {
	mu        sync.RWMutex
	deviceURL string
	deviceUp  bool
	clients   int
	lastEvent string
	exited    bool
}

func (s *daemonState) apply(ev proxy.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case proxy.EventSensorConnected, proxy.EventSensorReconnected:
		s.deviceUp = true
	case proxy.EventSensorDisconnected, proxy.EventFailedToConnect,
		proxy.EventFailedToReconnect:
		s.deviceUp = false
	case proxy.EventNewClient:
		s.clients++
	case proxy.EventClientTerminated:
		s.clients--
	case proxy.EventExiting, proxy.EventFatalError:
		s.exited = true
	}
	s.lastEvent = ev.String()
}

func (s *daemonState) snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"version":    common.Version,
		"device_url": s.deviceURL,
		"device_up":  s.deviceUp,
		"clients":    s.clients,
		"last_event": s.lastEvent,
		"exited":     s.exited,
	}
}

func run(cfg *common.Config) error {
	var journal *eventlog.Journal
	if cfg.Journal.Path != "" {
		j, err := eventlog.Open(cfg.Journal.Path, cfg.Journal.Retain, nil)
		if err != nil {
			return err
		}
		journal = j
		defer journal.Close()
	}

	drops := dlq.NewCapture(0)
	events := make(chan proxy.Event, 64)
	state := &daemonState{deviceURL: cfg.Device.URL}

	common.Info("[TIOD] opening device %s", cfg.Device.URL)
	p := proxy.New(proxy.Config{
		URL:              cfg.Device.URL,
		ReconnectTimeout: cfg.ReconnectTimeout(),
		Events:           events,
		Drops:            drops,
	})

	var consumerDone sync.WaitGroup
	consumerDone.Add(1)
	go func() {
		defer consumerDone.Done()
		consumeEvents(events, journal, state)
	}()

	listener, err := startListener(cfg.Listen.Address, p)
	if err != nil {
		p.Close()
		return err
	}
	defer listener.Close()
	common.Info("[TIOD] accepting clients on %s", cfg.Listen.Address)

	var statusServer *statusAPI
	if cfg.Status.Enabled {
		statusServer = startStatusAPI(cfg, state, drops, journal)
		common.Info("[TIOD] status api on %s", cfg.Status.Address)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		common.Info("[TIOD] received %s, shutting down", sig)
		p.Close()
	case <-p.Done():
		common.Warn("[TIOD] proxy engine exited")
	}

	listener.Close()
	if statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), common.DefaultShutdownTimeout)
		statusServer.Shutdown(ctx)
		cancel()
	}
	<-p.Done()
	// The engine is gone; no more events will be produced.
	close(events)
	consumerDone.Wait()
	return nil
}

// consumeEvents drains the proxy status channel: every event is logged and
// journaled. The engine blocks on this consumer, so it does nothing slow;
// journal writes are asynchronous.
func consumeEvents(events <-chan proxy.Event, journal *eventlog.Journal, state *daemonState) {
	for ev := range events {
		state.apply(ev)
		switch ev.Kind {
		case proxy.EventFatalError, proxy.EventFailedToConnect,
			proxy.EventFailedToReconnect:
			common.Error("[TIOD] %s", ev)
		case proxy.EventProtocolError, proxy.EventSensorDisconnected,
			proxy.EventSetRateFailed, proxy.EventNoData:
			common.Warn("[TIOD] %s", ev)
		case proxy.EventRpcRemap, proxy.EventRpcRestore:
			common.Debug("[TIOD] %s", ev)
		default:
			common.Info("[TIOD] %s", ev)
		}
		if journal != nil {
			journal.Append(eventlog.Record{
				At:     time.Now(),
				Kind:   ev.Kind.String(),
				Detail: ev.String(),
				Client: ev.Client,
				WireID: ev.WireID,
				Rate:   ev.Rate,
			})
		}
	}
}
