package screen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/thatsimonsguy/fence-controller/internal/model"
)

const maxGigaLine = 256

// OpenGiga connects to the remote terminal. Lines out are "S<screen>" and
// "L<object>:<text>"; lines in are "E<object>" for a button press and
// "K<text>" for a keyboard entry.
func OpenGiga(port string, baud int) (*Serial, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("opening giga terminal %s: %w", port, err)
	}
	log.Info().Str("port", port).Int("baud", baud).Msg("Giga terminal connected")
	return newSerial(p, &gigaCodec{}), nil
}

type gigaCodec struct {
	line []byte
}

func (c *gigaCodec) name() string { return string(KindGiga) }

func (c *gigaCodec) encodeScreen(screen model.Screen) ([]byte, bool) {
	return []byte(fmt.Sprintf("S%d\n", int(screen))), true
}

func (c *gigaCodec) encodeLabel(obj model.ScreenObject, text string) ([]byte, bool) {
	text = strings.NewReplacer("\n", " ", "\r", " ").Replace(text)
	return []byte(fmt.Sprintf("L%d:%s\n", int(obj), text)), true
}

func (c *gigaCodec) feed(b byte) (Event, bool) {
	switch b {
	case '\r':
		return Event{}, false
	case '\n':
		line := string(c.line)
		c.line = c.line[:0]
		return parseGigaLine(line)
	}
	if len(c.line) < maxGigaLine {
		c.line = append(c.line, b)
	}
	return Event{}, false
}

func parseGigaLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}
	switch line[0] {
	case 'E':
		n, err := strconv.Atoi(line[1:])
		if err != nil || n <= int(model.ObjectNone) || n > int(model.MillimetersUnitButton) {
			log.Warn().Str("line", line).Msg("Ignoring malformed terminal event")
			return Event{}, false
		}
		return Event{Object: model.ScreenObject(n)}, true
	case 'K':
		return Event{Object: model.KeyboardValueEnter, Value: strings.TrimSpace(line[1:])}, true
	default:
		log.Debug().Str("line", line).Msg("Ignoring terminal line")
		return Event{}, false
	}
}
