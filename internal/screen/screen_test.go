package screen

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/fence-controller/internal/model"
)

type fakePort struct {
	in  *io.PipeReader
	out *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{in: r, out: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.in.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.out.Close()
	return p.in.Close()
}

// send blocks until the reader has consumed b, so call it from a goroutine.
func (p *fakePort) send(b []byte) {
	_, _ = p.out.Write(b)
}

func (p *fakePort) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func nextEvent(t *testing.T, s Screen) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no screen event")
		return Event{}
	}
}

func TestGiga_Output(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, &gigaCodec{})
	defer s.Close()

	s.SetScreen(model.MainControlScreen)
	s.SetLabel(model.MainMeasurementLabel, "12.500 in")
	s.Periodic()
	s.SetLabel(model.MainMeasurementLabel, "12.500 in")
	s.Periodic()

	assert.Equal(t, "S1\nL1:12.500 in\n", port.output())
}

func TestGiga_LabelsResentAfterScreenChange(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, &gigaCodec{})
	defer s.Close()

	s.SetLabel(model.MainMeasurementLabel, "1.000 in")
	s.Periodic()
	s.SetScreen(model.SettingsScreen)
	s.Periodic()

	assert.Equal(t, "L1:1.000 in\nS3\nL1:1.000 in\n", port.output())
}

func TestGiga_Events(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, &gigaCodec{})
	defer s.Close()

	go port.send([]byte("E4\r\nnoise\nE99\nK12.25\nE2\n"))

	assert.Equal(t, Event{Object: model.HomeButton}, nextEvent(t, s))
	assert.Equal(t, Event{Object: model.KeyboardValueEnter, Value: "12.25"}, nextEvent(t, s))
	assert.Equal(t, Event{Object: model.MeasureButton}, nextEvent(t, s))
}

func TestParseGigaLine(t *testing.T) {
	tests := []struct {
		line string
		want Event
		ok   bool
	}{
		{"E1", Event{Object: model.MainMeasurementLabel}, true},
		{"E12", Event{Object: model.MillimetersUnitButton}, true},
		{"E0", Event{}, false},
		{"E13", Event{}, false},
		{"Exx", Event{}, false},
		{"K 3.5 ", Event{Object: model.KeyboardValueEnter, Value: "3.5"}, true},
		{"", Event{}, false},
		{"hello", Event{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseGigaLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenie_EncodeScreen(t *testing.T) {
	c := &genieCodec{}

	frame, ok := c.encodeScreen(model.SettingsScreen)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x0A, 0x03, 0x00, 0x00, 0x08}, frame)
	assert.Equal(t, byte(0), genieChecksum(frame))

	_, ok = c.encodeScreen(model.Screen(42))
	assert.False(t, ok)
}

func TestGenie_EncodeLabel(t *testing.T) {
	c := &genieCodec{}

	frame, ok := c.encodeLabel(model.LiveParameterInputLabel, "ab")
	require.True(t, ok)
	assert.Equal(t, []byte{0x1B, 0x01, 0x02, 'a', 'b', 0x1B ^ 0x01 ^ 0x02 ^ 'a' ^ 'b'}, frame)

	_, ok = c.encodeLabel(model.HomeButton, "x")
	assert.False(t, ok)
}

func TestGenie_Events(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, &genieCodec{})
	defer s.Close()

	var in []byte
	in = append(in, 0x06) // ACK
	in = append(in, genieFrame(genieReportEvent, genieObjWinButton, 2, 0, 1)...)
	in = append(in, genieReportEvent, genieObjWinButton, 0, 0, 1, 0xFF) // bad checksum
	in = append(in, genieFrame(genieReportEvent, genieObjWinButton, 9, 0, 1)...)
	for _, k := range []byte("4.x\b5\r") {
		in = append(in, genieFrame(genieReportEvent, genieObjKeyboard, 0, 0, k)...)
	}
	in = append(in, genieFrame(genieReportEvent, genieObjWinButton, 5, 0, 1)...)

	go port.send(in)

	assert.Equal(t, Event{Object: model.HomeButton}, nextEvent(t, s))
	assert.Equal(t, Event{Object: model.KeyboardValueEnter, Value: "4.5"}, nextEvent(t, s))
	assert.Equal(t, Event{Object: model.EditHomeToBladeOffset}, nextEvent(t, s))
}

func TestGenie_Output(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, &genieCodec{})
	defer s.Close()

	s.SetLabel(model.SettingsButton, "ignored")
	s.SetLabel(model.MainMeasurementLabel, "1")
	s.Periodic()

	assert.Equal(t, string([]byte{0x1B, 0x00, 0x01, '1', 0x1B ^ 0x01 ^ '1'}), port.output())
}

func TestOpen_Headless(t *testing.T) {
	s, err := Open(KindHeadless, "", 0)
	require.NoError(t, err)
	s.SetScreen(model.MainControlScreen)
	s.SetLabel(model.MainMeasurementLabel, "0.000 in")
	s.Periodic()
	assert.NoError(t, s.Close())

	_, err = Open("lcd", "", 0)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
