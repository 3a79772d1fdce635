// Package convo assembles the ordered turns sent upstream for one chat request.
package convo

import (
	"strings"

	"github.com/router-for-me/chatrelay/internal/history"
	"github.com/router-for-me/chatrelay/internal/upstream"
)

const (
	DefaultPreviewLength  = 200
	DefaultRecentMessages = 10

	// VoiceLabel prefixes the transcription of a recorded voice message.
	VoiceLabel = "[Voice message transcription]: "
)

// Instruction primes the model for every conversation.
const Instruction = `You are a helpful assistant in a voice-enabled chat.
Think through problems before answering. Use code execution for calculations or data processing and Google Search for current information.
Answer in clear prose suitable for being read aloud; use markdown only where it helps.`

// Acknowledgment is the fixed model reply to Instruction.
const Acknowledgment = "Understood. I'm ready to help."

// HistoryAcknowledgment is the fixed model reply to the history summary.
const HistoryAcknowledgment = "Got it. I'll keep our earlier conversation in mind."

// Builder renders transcripts into upstream turns.
type Builder struct {
	// PreviewLength caps each summarized message in runes.
	PreviewLength int
	// RecentMessages is how many trailing messages are summarized.
	RecentMessages int
}

// Build returns the instruction and acknowledgment turns, followed by a summary of
// recent history and its acknowledgment when t has messages. The caller appends the
// new user turn.
func (b Builder) Build(t *history.Transcript) []upstream.Turn {
	turns := []upstream.Turn{
		upstream.UserText(Instruction),
		upstream.ModelText(Acknowledgment),
	}
	if t == nil || len(t.Messages) == 0 {
		return turns
	}
	return append(turns,
		upstream.UserText(b.summary(t.Messages)),
		upstream.ModelText(HistoryAcknowledgment),
	)
}

func (b Builder) summary(messages []history.Message) string {
	recent := b.RecentMessages
	if recent <= 0 {
		recent = DefaultRecentMessages
	}
	preview := b.PreviewLength
	if preview <= 0 {
		preview = DefaultPreviewLength
	}
	if len(messages) > recent {
		messages = messages[len(messages)-recent:]
	}

	var sb strings.Builder
	sb.WriteString("Previous conversation context:")
	for _, m := range messages {
		speaker := "User"
		if m.Role == history.RoleModel {
			speaker = "Assistant"
		}
		sb.WriteString("\n")
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(truncate(m.Content, preview))
	}
	return sb.String()
}

// UserTurn returns the new user turn for a text message.
func UserTurn(message string) upstream.Turn {
	return upstream.UserText(message)
}

// VoiceTurn returns the user turn carrying a voice message transcription.
func VoiceTurn(transcription string) upstream.Turn {
	return upstream.UserText(VoiceLabel + transcription)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
