package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/campusrun/campus-run/internal/constants"
	"github.com/campusrun/campus-run/pkg/location"
)

// playPoints sends one location update per kept point. PointSkip points are
// dropped before each point sent.
func (s *Session) playPoints(ctx context.Context, points []location.Point) error {
	sent := 0
	for i := s.config.PointSkip; i < len(points); i += s.config.PointSkip + 1 {
		if sent > 0 {
			if err := s.sleep(ctx, s.pointDelay()); err != nil {
				return nil
			}
		}

		p := points[i]
		lat := strconv.FormatFloat(p.Latitude, 'f', -1, 64)
		lon := strconv.FormatFloat(p.Longitude, 'f', -1, 64)
		s.out.AppendOutput(fmt.Sprintf("Simulating location: %s, %s", lat, lon))

		if _, err := s.runner.Run(ctx, argsSetLocation(p)...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: setting location %s, %s: %w", ErrPlayback, lat, lon, err)
		}
		sent++
	}
	s.logger.Info().Int("sent", sent).Int("points", len(points)).Msg("Point playback complete")
	return nil
}

// pointDelay returns a pause drawn uniformly from [MinPointDelay, MaxPointDelay].
func (s *Session) pointDelay() time.Duration {
	spread := int64(s.config.MaxPointDelay - s.config.MinPointDelay)
	return s.config.MinPointDelay + time.Duration(s.randInt64N(spread+1))
}

// playGPX lets the device tool replay a GPX file, watching its output for
// errors.
func (s *Session) playGPX(ctx context.Context, path string) error {
	h, err := s.runner.Stream(argsPlayGPX(path)...)
	if err != nil {
		return fmt.Errorf("%w: starting simulation: %w", ErrPlayback, err)
	}
	s.processes.Set(constants.RoleSimulation, h)
	defer s.processes.Remove(constants.RoleSimulation)

	output := h.Output()
	defer output.Close()

	kill := func() {
		if err := h.Kill(); err != nil {
			s.logger.Warn().Err(err).Int("pid", h.Pid()).Msg("Failed to stop simulation")
		}
	}
	stop := context.AfterFunc(ctx, kill)
	defer stop()

	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
	scanner.Split(scanOutputLines)
	for scanner.Scan() {
		line := strings.TrimSpace(stripansi.Strip(scanner.Text()))
		if line == "" {
			continue
		}
		s.out.AppendOutput(line)
		if strings.Contains(line, constants.PlaybackErrorMarker) {
			kill()
			_ = h.Wait()
			return fmt.Errorf("%w: %s", ErrPlayback, line)
		}
	}
	if err := scanner.Err(); err != nil {
		// Nothing drains the pipe from here on, so the tool must go.
		kill()
		output.Close()
		_ = h.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: reading tool output: %w", ErrPlayback, err)
	}

	waitErr := h.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, waitErr)
	}
	return nil
}

// maxOutputLine bounds a single line of tool output.
const maxOutputLine = 1 << 20

// scanOutputLines splits on '\n' or '\r', so progress bars redrawn in place
// arrive as separate lines.
func scanOutputLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
