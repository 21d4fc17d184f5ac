package screen

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"

	"github.com/thatsimonsguy/fence-controller/internal/model"
)

// ViSi-Genie commands and object types.
const (
	genieWriteObj      = 0x01
	genieReportEvent   = 0x07
	genieWriteInhLabel = 0x1B

	genieObjWinButton = 0x06
	genieObjForm      = 0x0A
	genieObjKeyboard  = 0x0D

	genieFrameLen   = 6
	genieMaxKeys    = 10
	genieReadPeriod = 100 * time.Millisecond
)

// Panel form indexes follow model.Screen; button indexes are fixed by the
// panel project.
var genieButtons = map[byte]model.ScreenObject{
	0: model.MeasureButton,
	1: model.EditTargetButton,
	2: model.HomeButton,
	3: model.ResetServoButton,
	4: model.SettingsButton,
	5: model.EditHomeToBladeOffset,
}

var genieLabels = map[model.ScreenObject]byte{
	model.MainMeasurementLabel:    0,
	model.LiveParameterInputLabel: 1,
}

// OpenGenie connects to a 4D Systems display running a Genie project.
func OpenGenie(port string, baud int) (*Serial, error) {
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud, ReadTimeout: genieReadPeriod})
	if err != nil {
		return nil, fmt.Errorf("opening genie display %s: %w", port, err)
	}
	log.Info().Str("port", port).Int("baud", baud).Msg("Genie display connected")
	return newSerial(p, &genieCodec{}), nil
}

func genieChecksum(frame []byte) byte {
	var sum byte
	for _, b := range frame {
		sum ^= b
	}
	return sum
}

func genieFrame(body ...byte) []byte {
	return append(body, genieChecksum(body))
}

type genieCodec struct {
	frame []byte
	keys  []byte
}

func (c *genieCodec) name() string { return string(KindGenie) }

func (c *genieCodec) encodeScreen(screen model.Screen) ([]byte, bool) {
	if screen < model.SplashScreen || screen > model.PleaseHomeErrorScreen {
		return nil, false
	}
	return genieFrame(genieWriteObj, genieObjForm, byte(screen), 0, 0), true
}

func (c *genieCodec) encodeLabel(obj model.ScreenObject, text string) ([]byte, bool) {
	idx, ok := genieLabels[obj]
	if !ok {
		return nil, false
	}
	if len(text) > 255 {
		text = text[:255]
	}
	body := append([]byte{genieWriteInhLabel, idx, byte(len(text))}, text...)
	return genieFrame(body...), true
}

func (c *genieCodec) feed(b byte) (Event, bool) {
	if len(c.frame) == 0 && b != genieReportEvent {
		// ACK, NAK and replies we never asked for.
		return Event{}, false
	}
	c.frame = append(c.frame, b)
	if len(c.frame) < genieFrameLen {
		return Event{}, false
	}

	frame := c.frame
	c.frame = nil
	if genieChecksum(frame) != 0 {
		log.Warn().Hex("frame", frame).Msg("Genie frame checksum mismatch")
		return Event{}, false
	}
	return c.report(frame[1], frame[2], frame[4])
}

func (c *genieCodec) report(object, index, value byte) (Event, bool) {
	switch object {
	case genieObjWinButton:
		btn, ok := genieButtons[index]
		if !ok {
			log.Debug().Uint8("index", index).Msg("Unhandled genie button")
			return Event{}, false
		}
		return Event{Object: btn}, true

	case genieObjKeyboard:
		switch value {
		case '\r', '\n':
			entry := string(c.keys)
			c.keys = c.keys[:0]
			return Event{Object: model.KeyboardValueEnter, Value: entry}, true
		case 0x08:
			if len(c.keys) > 0 {
				c.keys = c.keys[:len(c.keys)-1]
			}
		default:
			if len(c.keys) < genieMaxKeys {
				c.keys = append(c.keys, value)
			}
		}
		return Event{}, false
	}
	return Event{}, false
}
