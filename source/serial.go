// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: serial.go — line-oriented ADC bridge over a serial port
//
// Purpose:
//   - Reads one sample per text line from a microcontroller streaming ADC
//     conversions over UART/USB-CDC
//
// Line format:
//   - "<volts>"              timestamped on arrival
//   - "<seconds>,<volts>"    device timestamp, seconds since device start
//   - blank lines and lines starting with '#' are skipped
// ─────────────────────────────────────────────────────────────────────────────

package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	serial "github.com/tarm/goserial"

	"voltscope/types"
	"voltscope/utils"
)

// ErrMalformedLine reports a line that is not a sample.
var ErrMalformedLine = errors.New("source: malformed sample line")

// Serial reads samples from a serial device.
type Serial struct {
	rwc   io.ReadWriteCloser
	r     *bufio.Reader
	start time.Time
}

// OpenSerial opens the device at name with the given baud rate.
func OpenSerial(name string, baud int) (*Serial, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", name, err)
	}
	return NewSerial(port), nil
}

// NewSerial reads samples from an already open stream.
func NewSerial(rwc io.ReadWriteCloser) *Serial {
	return &Serial{rwc: rwc, r: bufio.NewReaderSize(rwc, 4096), start: time.Now()}
}

// Next blocks until the next sample line arrives.
func (s *Serial) Next() (types.Sample, error) {
	for {
		line, err := s.r.ReadSlice('\n')
		if err != nil && !(err == io.EOF && len(line) > 0) {
			if errors.Is(err, bufio.ErrBufferFull) {
				s.discardLine()
				return types.Sample{}, ErrMalformedLine
			}
			return types.Sample{}, err
		}
		line = utils.TrimASCII(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		return ParseLine(line, time.Since(s.start).Seconds())
	}
}

// discardLine skips the rest of an overlong line.
func (s *Serial) discardLine() {
	for {
		_, err := s.r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return
		}
	}
}

// Close releases the device.
func (s *Serial) Close() error { return s.rwc.Close() }

// ParseLine decodes one trimmed sample line. now is used as the timestamp
// when the line carries only a voltage.
func ParseLine(line []byte, now float64) (types.Sample, error) {
	first, second, found := utils.CutByte(line, ',')
	if !found {
		v, err := strconv.ParseFloat(utils.B2s(utils.TrimASCII(first)), 64)
		if err != nil {
			return types.Sample{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}
		return types.Sample{Voltage: v, Second: now}, nil
	}

	t, err := strconv.ParseFloat(utils.B2s(utils.TrimASCII(first)), 64)
	if err != nil {
		return types.Sample{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	v, err := strconv.ParseFloat(utils.B2s(utils.TrimASCII(second)), 64)
	if err != nil {
		return types.Sample{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	return types.Sample{Voltage: v, Second: t}, nil
}
