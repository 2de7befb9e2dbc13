package relay

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/backendapi"
)

const dataPrefix = "data:"

// run is the per-meeting connection loop. It opens the push stream, reads
// it until disconnect, and reconnects with capped exponential backoff.
// Cancellation is the only path that ends the loop while subscribers
// remain; a missing session token exits without scheduling a retry, a
// later subscribe re-triggers.
func (r *Relay) run(st *stream) {
	r.mu.Lock()
	if st.looping {
		// another loop already owns this stream
		r.mu.Unlock()
		return
	}
	st.looping = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		st.looping = false
		r.mu.Unlock()
	}()

	logger := r.logger.With(slog.String("meetingId", st.meetingID))

	for {
		sess := r.sessions.Get()
		if sess.Token == "" {
			logger.Warn("No session token, not opening event stream")
			return
		}

		body, err := r.open(st.ctx, sess.Token, st.meetingID)
		if err == nil {
			r.mu.Lock()
			st.running = true
			st.reconnectAttempt = 0
			r.mu.Unlock()
			logger.Info("Event stream connected")

			r.readStream(st, body, logger)

			r.mu.Lock()
			st.running = false
			r.mu.Unlock()
		} else {
			// open failure follows the same backoff path as a
			// mid-stream disconnect
			logger.Debug("Failed to open event stream", slog.Any("error", err))
		}

		if st.ctx.Err() != nil {
			logger.Info("Event stream cancelled")
			return
		}

		r.mu.Lock()
		if len(st.tabs) == 0 {
			r.mu.Unlock()
			return
		}
		attempt := st.reconnectAttempt + 1
		if attempt > maxRetryAttempt {
			attempt = maxRetryAttempt
		}
		st.reconnectAttempt = attempt
		r.mu.Unlock()

		delay := retryDelay(r.retryBase, r.maxRetryDelay, attempt)
		logger.Debug("Scheduling reconnect",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-st.ctx.Done():
			logger.Info("Event stream cancelled")
			return
		}

		// The timer is advisory, not authoritative: the meeting may have
		// been torn down and even recreated while we slept.
		r.mu.Lock()
		current, ok := r.streams[st.meetingID]
		stale := !ok || current != st || st.ctx.Err() != nil || len(st.tabs) == 0
		r.mu.Unlock()
		if stale {
			logger.Debug("Dropping stale reconnect")
			return
		}
	}
}

// retryDelay computes the backoff for the given attempt (1-based, already
// capped): base * 2^attempt, bounded by max.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max {
		return max
	}
	return delay
}

// readStream consumes one push connection until it ends. Frames are blocks
// of "data:"-prefixed lines terminated by a blank line; the joined payload
// is one JSON event. Malformed frames are skipped without aborting the
// stream.
func (r *Relay) readStream(st *stream, body io.ReadCloser, logger *slog.Logger) {
	defer body.Close()

	// close the body when the stream is cancelled so an in-flight read
	// unblocks promptly
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-st.ctx.Done():
			body.Close()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(body)
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(dataLines) > 0 {
				r.dispatchFrame(st, strings.Join(dataLines, "\n"), logger)
				dataLines = nil
			}
			continue
		}
		if strings.HasPrefix(line, dataPrefix) {
			payload := strings.TrimPrefix(line, dataPrefix)
			dataLines = append(dataLines, strings.TrimPrefix(payload, " "))
		}
		// other stream fields (event ids, retry hints, comments) are ignored
	}

	if err := scanner.Err(); err != nil && st.ctx.Err() == nil {
		logger.Debug("Event stream read ended", slog.Any("error", err))
	}
}

func (r *Relay) dispatchFrame(st *stream, payload string, logger *slog.Logger) {
	var ev backendapi.ReactionEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logger.Warn("Skipping malformed event frame", slog.Any("error", err))
		return
	}

	r.mu.Lock()
	senders := make([]Sender, 0, len(st.tabs))
	for _, s := range st.tabs {
		senders = append(senders, s)
	}
	r.mu.Unlock()

	for _, s := range senders {
		s.SendEvent(ev)
	}
}
