// Package screen drives the operator panel. Two serial panels are supported,
// a remote terminal speaking a newline-delimited text protocol and a 4D
// Systems display speaking Genie frames, plus a headless stand-in.
package screen

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/internal/model"
)

type Kind string

const (
	KindGiga     Kind = "giga_shield"
	KindGenie    Kind = "4d_systems"
	KindHeadless Kind = "none"
)

var ErrUnknownKind = errors.New("unknown screen type")

// Event is an operator action. Value carries the entered text for
// KeyboardValueEnter and is empty otherwise.
type Event struct {
	Object model.ScreenObject
	Value  string
}

type Screen interface {
	SetLabel(obj model.ScreenObject, text string)
	SetScreen(screen model.Screen)
	// Periodic flushes pending label updates. Call once per control loop cycle.
	Periodic()
	Events() <-chan Event
	Close() error
}

// Open connects to the panel of the given kind.
func Open(kind Kind, port string, baud int) (Screen, error) {
	switch kind {
	case KindGiga:
		return OpenGiga(port, baud)
	case KindGenie:
		return OpenGenie(port, baud)
	case KindHeadless, "":
		return NewHeadless(), nil
	default:
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownKind)
	}
}

// codec translates panel operations to wire bytes and incoming bytes to
// events. feed is called from a single reader goroutine.
type codec interface {
	name() string
	encodeScreen(screen model.Screen) ([]byte, bool)
	encodeLabel(obj model.ScreenObject, text string) ([]byte, bool)
	feed(b byte) (Event, bool)
}

const eventBuffer = 16

// Serial is a panel attached over a serial port.
type Serial struct {
	codec codec

	mu      sync.Mutex
	port    io.ReadWriteCloser
	pending map[model.ScreenObject]string
	shown   map[model.ScreenObject]string

	events chan Event
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

func newSerial(port io.ReadWriteCloser, c codec) *Serial {
	s := &Serial{
		codec:   c,
		port:    port,
		pending: map[model.ScreenObject]string{},
		shown:   map[model.ScreenObject]string{},
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

func (s *Serial) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, 64)
	for {
		n, err := s.port.Read(buf)
		for _, b := range buf[:n] {
			if ev, ok := s.codec.feed(b); ok {
				s.publish(ev)
			}
		}
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil && !errors.Is(err, io.EOF) {
			log.Error().Err(err).Str("screen", s.codec.name()).Msg("Screen read failed")
			return
		}
	}
}

func (s *Serial) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Warn().Int("object", int(ev.Object)).Msg("Screen event dropped, queue full")
	}
}

func (s *Serial) write(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.port.Write(frame); err != nil {
		log.Error().Err(err).Str("screen", s.codec.name()).Msg("Screen write failed")
	}
}

func (s *Serial) SetScreen(screen model.Screen) {
	frame, ok := s.codec.encodeScreen(screen)
	if !ok {
		log.Warn().Str("screen", screen.String()).Msg("Screen has no panel form")
		return
	}
	s.write(frame)

	// A new form redraws its labels from the panel's defaults.
	s.mu.Lock()
	for obj, text := range s.shown {
		if _, queued := s.pending[obj]; !queued {
			s.pending[obj] = text
		}
	}
	s.shown = map[model.ScreenObject]string{}
	s.mu.Unlock()
}

// SetLabel queues text for obj; only the latest text per object is sent.
func (s *Serial) SetLabel(obj model.ScreenObject, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shown[obj] == text {
		delete(s.pending, obj)
		return
	}
	s.pending[obj] = text
}

func (s *Serial) Periodic() {
	s.mu.Lock()
	pending := s.pending
	s.pending = map[model.ScreenObject]string{}
	s.mu.Unlock()

	for obj, text := range pending {
		frame, ok := s.codec.encodeLabel(obj, text)
		if !ok {
			continue
		}
		s.write(frame)
		s.mu.Lock()
		s.shown[obj] = text
		s.mu.Unlock()
	}
}

func (s *Serial) Events() <-chan Event { return s.events }

func (s *Serial) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}

// Headless logs what a panel would show.
type Headless struct {
	events chan Event
}

func NewHeadless() *Headless {
	return &Headless{events: make(chan Event)}
}

func (h *Headless) SetLabel(obj model.ScreenObject, text string) {
	log.Trace().Int("object", int(obj)).Str("text", text).Msg("Label")
}

func (h *Headless) SetScreen(screen model.Screen) {
	log.Info().Str("screen", screen.String()).Msg("Screen change")
}

func (h *Headless) Periodic() {}

func (h *Headless) Events() <-chan Event { return h.events }

func (h *Headless) Close() error { return nil }
