// Package handlers provides the HTTP handlers of the chat relay.
package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatrelay/internal/convo"
	apperrors "github.com/router-for-me/chatrelay/internal/errors"
	"github.com/router-for-me/chatrelay/internal/events"
	"github.com/router-for-me/chatrelay/internal/history"
	"github.com/router-for-me/chatrelay/internal/relay"
	"github.com/router-for-me/chatrelay/internal/upstream"
	"github.com/router-for-me/chatrelay/internal/usage"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	// SessionHeader reports the session id used for the turn.
	SessionHeader = "X-Session-Id"

	defaultAudioMIMEType = "audio/webm"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message       string
	AudioData     string
	AudioMIMEType string
	SessionID     string
	TTS           bool
	Voice         string
}

// ParseChatRequest decodes a chat request body.
func ParseChatRequest(raw []byte) (ChatRequest, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || !gjson.ValidBytes(raw) {
		return ChatRequest{}, apperrors.BadRequest(apperrors.CodeInvalidBody, "Request body must be a JSON object", nil)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return ChatRequest{}, apperrors.BadRequest(apperrors.CodeInvalidBody, "Request body must be a JSON object", nil)
	}
	return ChatRequest{
		Message:       root.Get("message").String(),
		AudioData:     strings.TrimSpace(root.Get("audioData").String()),
		AudioMIMEType: strings.TrimSpace(root.Get("audioMimeType").String()),
		SessionID:     strings.TrimSpace(root.Get("sessionId").String()),
		TTS:           root.Get("tts").Bool(),
		Voice:         strings.TrimSpace(root.Get("voice").String()),
	}, nil
}

// ChatHandler runs chat turns: history lookup, generation, speech and deferred
// persistence.
type ChatHandler struct {
	history    *history.Store
	builder    convo.Builder
	generation *relay.Generation
	model      string
	stats      *usage.Statistics
	now        func() time.Time
}

// NewChatHandler wires the turn pipeline. model labels token estimates.
func NewChatHandler(store *history.Store, builder convo.Builder, generation *relay.Generation, model string) *ChatHandler {
	return &ChatHandler{
		history:    store,
		builder:    builder,
		generation: generation,
		model:      model,
		stats:      usage.NewStatistics(),
		now:        time.Now,
	}
}

// preparedTurn is a validated turn with its history loaded.
type preparedTurn struct {
	sessionID  string
	transcript *history.Transcript
	audio      *upstream.Blob
	req        ChatRequest
}

// prepare validates req and loads history concurrently with audio decoding.
func (h *ChatHandler) prepare(ctx context.Context, req ChatRequest) (*preparedTurn, error) {
	if strings.TrimSpace(req.Message) == "" && req.AudioData == "" {
		return nil, apperrors.BadRequest(apperrors.CodeMissingInput, "Message or audio is required", nil)
	}
	turn := &preparedTurn{sessionID: req.SessionID, req: req}
	if turn.sessionID == "" {
		turn.sessionID = history.NewSessionID(h.now())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		turn.transcript = h.history.Get(gctx, turn.sessionID)
		return nil
	})
	g.Go(func() error {
		if req.AudioData == "" {
			return nil
		}
		data, err := decodeAudio(req.AudioData)
		if err != nil {
			return apperrors.BadRequest(apperrors.CodeInvalidAudio, "audioData must be base64 encoded", err)
		}
		mime := req.AudioMIMEType
		if mime == "" {
			mime = defaultAudioMIMEType
		}
		turn.audio = &upstream.Blob{MIMEType: mime, Data: data}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return turn, nil
}

// execute runs the turn against sink and schedules persistence of a non-empty
// model response whatever the outcome.
func (h *ChatHandler) execute(ctx context.Context, turn *preparedTurn, sink events.Sink) error {
	var (
		res relay.Result
		err error
	)
	defer func() { h.persist(turn, res, err != nil) }()

	in := relay.Input{
		Context: h.builder.Build(turn.transcript),
		Message: turn.req.Message,
		Audio:   turn.audio,
		TTS:     turn.req.TTS,
		Voice:   turn.req.Voice,
	}
	res, err = h.generation.Run(ctx, in, sink)
	if err != nil {
		if ctx.Err() != nil {
			log.WithField("session_id", turn.sessionID).Debugf("chat turn ended by client: %v", err)
		} else {
			log.WithField("session_id", turn.sessionID).Warnf("chat turn failed: %v", err)
		}
	}
	return err
}

func (h *ChatHandler) persist(turn *preparedTurn, res relay.Result, failed bool) {
	if strings.TrimSpace(res.Prose) == "" {
		if res.UserContent != "" {
			h.stats.Record(h.now(), h.model, usage.Turn{}, failed)
		}
		return
	}
	now := h.now()
	t := turn.transcript
	history.Append(t,
		history.Message{Role: history.RoleUser, Content: res.UserContent, Timestamp: now},
		history.Message{Role: history.RoleModel, Content: res.Prose, Timestamp: now},
	)
	h.history.SchedulePersist(t)

	tokens := usage.RecordTurn(h.model, res.UserContent, res.Prose)
	h.stats.Record(now, h.model, tokens, failed)
	log.WithFields(log.Fields{
		"session_id":    turn.sessionID,
		"messages":      len(t.Messages),
		"input_tokens":  tokens.Input,
		"output_tokens": tokens.Output,
	}).Debug("chat turn persisted")
}

// Usage reports estimated token volume and cost of the turns served so far.
// GET /api/usage
func (h *ChatHandler) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Snapshot())
}

// Chat handles POST /api/chat.
func (h *ChatHandler) Chat(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		writePlainError(c, apperrors.BadRequest(apperrors.CodeInvalidBody, "Could not read request body", err))
		return
	}
	req, err := ParseChatRequest(raw)
	if err != nil {
		writePlainError(c, err)
		return
	}
	ctx := c.Request.Context()
	turn, err := h.prepare(ctx, req)
	if err != nil {
		writePlainError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header(SessionHeader, turn.sessionID)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	_ = h.execute(ctx, turn, events.NewSSEWriter(c.Writer))
}

// writePlainError writes err as a plain-text response with its AppError status.
func writePlainError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "Internal server error"
	if appErr, ok := apperrors.As(err); ok {
		status = appErr.Status()
		msg = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("chat request failed: %v", err)
	}
	c.Data(status, "text/plain; charset=utf-8", []byte(msg))
}

func decodeAudio(data string) ([]byte, error) {
	// Browsers may send a data URL.
	if i := strings.Index(data, ";base64,"); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+len(";base64,"):]
	}
	out, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
	}
	return out, nil
}
