package location

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// SerialSink replays NMEA sentences into a GPS consumer attached via serial
// port, such as a hardware receiver input or a virtual pty pair.
type SerialSink struct {
	port     string        // Serial port the consumer listens on
	baudRate int           // Baud rate for the serial communication
	interval time.Duration // Delay between consecutive sentences
	logger   zerolog.Logger

	open func(c *serial.Config) (io.WriteCloser, error)
}

// NewSerialSink creates a SerialSink for the given port and baud rate.
func NewSerialSink(port string, baudRate int, interval time.Duration, logger zerolog.Logger) *SerialSink {
	return &SerialSink{
		port:     port,
		baudRate: baudRate,
		interval: interval,
		logger:   logger,
		open: func(c *serial.Config) (io.WriteCloser, error) {
			return serial.OpenPort(c)
		},
	}
}

// Stream writes each sentence terminated by CRLF, pausing interval between
// writes. It returns nil when ctx is cancelled mid-stream.
func (s *SerialSink) Stream(ctx context.Context, sentences []string) error {
	port, err := s.open(&serial.Config{Name: s.port, Baud: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}
	defer port.Close() // Ensure the port is closed when done

	s.logger.Info().Str("port", s.port).Int("baud", s.baudRate).Int("sentences", len(sentences)).Msg("Streaming NMEA sentences")

	for i, sentence := range sentences {
		if i > 0 {
			select {
			case <-ctx.Done():
				s.logger.Info().Int("written", i).Msg("NMEA stream cancelled")
				return nil
			case <-time.After(s.interval):
			}
		}
		if _, err := io.WriteString(port, sentence+"\r\n"); err != nil {
			return fmt.Errorf("failed to write sentence %d: %w", i, err)
		}
	}

	s.logger.Info().Int("written", len(sentences)).Msg("NMEA stream finished")
	return nil
}
