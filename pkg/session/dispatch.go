package session

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-skinvoice/pkg/audioio"
	"github.com/teslashibe/go-skinvoice/pkg/capture"
	"github.com/teslashibe/go-skinvoice/pkg/live"
	"github.com/teslashibe/go-skinvoice/pkg/pcm"
)

// readLoop processes inbound messages of one connection in arrival order.
func (s *Session) readLoop(ctx context.Context, gen uint64, conn live.Conn, p *pending) {
	acked := false
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if !acked {
				select {
				case p.failed <- err:
				default:
				}
				return
			}
			s.closedUnexpectedly(gen, err)
			return
		}
		if !s.current(gen) {
			return
		}

		if msg.SetupComplete && !acked {
			if !s.markConnected(gen) {
				return
			}
			acked = true
			close(p.ack)
		}
		if !acked {
			s.logger.Debug("message before setup acknowledgement")
			continue
		}
		s.dispatch(gen, conn, msg)
	}
}

func (s *Session) dispatch(gen uint64, conn live.Conn, msg *live.ServerMessage) {
	if msg.Interrupted {
		s.player.Interrupt()
		s.metrics.RecordInterruption()
		s.latency.MarkInterrupted()
		s.setLoading(gen, false)
		s.logger.Debug("model interrupted")
	}

	if len(msg.ToolCalls) > 0 {
		s.dispatchTools(gen, conn, msg.ToolCalls)
	}

	for _, part := range msg.Audio {
		samples := pcm.DecodeFrame(part.Data)
		if len(samples) == 0 {
			continue
		}
		rate := pcm.ParseRate(part.MIMEType, pcm.PlaybackRate)
		if rate != s.cfg.PlaybackRate {
			samples = audioio.Resample(samples, rate, s.cfg.PlaybackRate)
		}
		s.player.Enqueue(audioio.NewChunk(samples, s.cfg.PlaybackRate))
		s.metrics.RecordPlaybackChunk()
		s.latency.MarkFirstAudio()
		s.setLoading(gen, false)
	}

	for _, text := range msg.Text {
		s.emit(Event{Type: EventTranscript, Text: text})
	}

	if len(msg.ToolCallCancellations) > 0 {
		s.logger.Info("tool calls cancelled", "ids", msg.ToolCallCancellations)
	}

	if msg.GoAway {
		s.logger.Warn("backend going away", "time_left", msg.GoAwayTimeLeft)
	}

	if msg.TurnComplete {
		s.setLoading(gen, false)
		turn := s.latency.MarkResponseDone()
		s.logger.Debug("turn complete", "latency", turn.FormatLatency())
	}
}

// dispatchTools runs the handler for every call, then answers all of them
// in one message with the call ids echoed back.
func (s *Session) dispatchTools(gen uint64, conn live.Conn, calls []live.ToolCall) {
	s.mu.Lock()
	handler := s.onTool
	s.mu.Unlock()

	responses := make([]live.ToolResponse, 0, len(calls))
	for _, call := range calls {
		s.logger.Info("tool call", "name", call.Name, "id", call.ID)
		s.emit(Event{Type: EventToolCall, ToolCall: &call})

		err := invokeTool(handler, call)
		s.metrics.RecordToolCall(call.Name, err != nil)
		if err != nil {
			s.fail(err)
		}

		responses = append(responses, live.ToolResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"success": true},
		})
	}

	if !s.current(gen) {
		return
	}
	if err := conn.SendToolResponses(responses); err != nil {
		s.fail(fmt.Errorf("%w: tool response: %w", ErrSendFailed, err))
	}
}

func invokeTool(handler ToolHandler, call live.ToolCall) (err error) {
	if handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrToolDispatchFailed, call.Name, r)
		}
	}()
	handler(call)
	return nil
}

// onWindow forwards a capture window while connected.
func (s *Session) onWindow(gen uint64, w capture.Window) {
	s.mu.Lock()
	conn := s.conn
	ok := gen == s.gen && s.state == StateConnected && conn != nil
	s.mu.Unlock()

	if !ok {
		s.dropped.Add(1)
		s.metrics.RecordFrameDropped("not_connected")
		return
	}

	s.vad.Observe(w.RMS)

	if err := conn.SendAudio(w.Chunk.Bytes(), pcm.CaptureMIME); err != nil {
		s.dropped.Add(1)
		s.metrics.RecordFrameDropped("send_failed")
		s.logger.Debug("audio send failed", "seq", w.Seq, "error", err)
		return
	}
	s.metrics.RecordFrameSent()
	s.latency.IncrementAudioIn()
}

// connected returns the live connection of gen-current session.
func (s *Session) connected() (live.Conn, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.conn == nil {
		return nil, 0, ErrNotConnected
	}
	return s.conn, s.gen, nil
}

// SendText sends a complete user turn and marks a response as pending
// until model audio or turn completion arrives.
func (s *Session) SendText(text string) error {
	conn, gen, err := s.connected()
	if err != nil {
		return err
	}

	s.setLoading(gen, true)
	s.latency.MarkTurnEnd()
	if err := conn.SendText(text); err != nil {
		s.setLoading(gen, false)
		err = fmt.Errorf("%w: %w", ErrSendFailed, err)
		s.fail(err)
		return err
	}
	return nil
}

// SendImage sends an inline media chunk, such as a JPEG of the user's face.
func (s *Session) SendImage(data []byte, mimeType string) error {
	conn, _, err := s.connected()
	if err != nil {
		return err
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	if err := conn.SendMedia(data, mimeType); err != nil {
		err = fmt.Errorf("%w: %w", ErrSendFailed, err)
		s.fail(err)
		return err
	}
	s.logger.Debug("image sent", "bytes", len(data), "mime", mimeType)
	return nil
}
