package motionadapter

import (
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/fourdof/scanner/eventbus"
	"github.com/fourdof/scanner/protocol"
	"github.com/fourdof/scanner/serialport"
)

// Supervisor owns the serial connection lifecycle: it opens the port,
// starts a protocol.Engine against it, and -- on eventbus.ConnectionLost --
// reopens both with exponential backoff. This is the reconnection policy
// that spec §4.1 explicitly keeps out of package serialport.
type Supervisor struct {
	serialCfg   serialport.Config
	protocolCfg protocol.Config
	bus         *eventbus.Bus

	mu          sync.Mutex
	port        *serialport.Port
	engine      *protocol.Engine
	unsubscribe func()
}

// NewSupervisor prepares a supervisor against the given serial device. It
// does not open anything until Start is called.
func NewSupervisor(serialCfg serialport.Config, protocolCfg protocol.Config, bus *eventbus.Bus) *Supervisor {
	return &Supervisor{serialCfg: serialCfg, protocolCfg: protocolCfg, bus: bus}
}

// Start opens the port, starts the engine, and begins watching for
// disconnects. A failing first connection attempt is retried with
// reconnectBackOff, which has no elapsed-time limit, so Start keeps
// retrying until the port opens rather than returning the open error.
func (s *Supervisor) Start() error {
	if err := s.connect(); err != nil {
		return err
	}
	s.unsubscribe = s.bus.Subscribe([]eventbus.Type{eventbus.ConnectionLost}, func(eventbus.Event) {
		go s.reconnect()
	})
	return nil
}

// Stop unsubscribes from disconnect notifications and tears down the
// current engine and port.
func (s *Supervisor) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		s.engine.Stop()
	}
	if s.port != nil {
		_ = s.port.Close()
	}
}

// Engine returns the currently active protocol engine. It changes identity
// across a reconnect, so callers that hold onto it across a long operation
// should re-fetch it rather than caching the pointer.
func (s *Supervisor) Engine() *protocol.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// reconnectBackOff builds the exponential backoff policy of spec §5:
// "Reconnect backoff: exponential from 500 ms to 10 s." The library's own
// defaults (500 ms initial interval, 60 s max interval) have nothing to do with this rig's
// reconnect cadence, so both bounds are set explicitly rather than left at
// backoff.NewExponentialBackOff()'s stock values.
func reconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // retry indefinitely; the rig has no other way back online
	b.Reset()
	return b
}

func (s *Supervisor) connect() error {
	err := backoff.Retry(func() error {
		port, err := serialport.Open(s.serialCfg)
		if err != nil {
			log.Printf("motionadapter: connect attempt to %s failed: %v", s.serialCfg.Device, err)
			return err
		}
		engine := protocol.New(port, s.protocolCfg, s.bus)
		engine.Start()

		s.mu.Lock()
		s.port = port
		s.engine = engine
		s.mu.Unlock()
		return nil
	}, reconnectBackOff())
	if err != nil {
		log.Printf("motionadapter: giving up connecting to %s: %v", s.serialCfg.Device, err)
		return err
	}
	log.Printf("motionadapter: connected to %s", s.serialCfg.Device)
	return nil
}

func (s *Supervisor) reconnect() {
	log.Printf("motionadapter: connection lost, reconnecting to %s", s.serialCfg.Device)
	s.mu.Lock()
	oldEngine, oldPort := s.engine, s.port
	s.mu.Unlock()

	if oldEngine != nil {
		oldEngine.Stop()
	}
	if oldPort != nil {
		_ = oldPort.Close()
	}

	_ = s.connect()
}
