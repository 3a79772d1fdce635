// Package usage estimates token volume and cost of chat turns for metrics, logs
// and the usage endpoint.
package usage

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/router-for-me/chatrelay/internal/api/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

const (
	// maxExactWordRunes is the longest whitespace-free run handed to the codec.
	// BPE merging is quadratic in run length; longer runs are estimated.
	maxExactWordRunes = 128
	// maxExactRunes caps the text tokenized exactly per call.
	maxExactRunes = 32 << 10
	// runesPerToken is the fallback ratio for estimated text.
	runesPerToken = 4
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.O200kBase)
	})
	return codec, codecErr
}

// Count estimates the number of tokens in text. Gemini uses its own tokenizer, so
// the o200k count is an approximation. Whitespace-free runs longer than
// maxExactWordRunes and text beyond maxExactRunes are estimated at runesPerToken.
// It returns 0 when no codec is available.
func Count(text string) int {
	if text == "" {
		return 0
	}
	enc, err := getCodec()
	if err != nil {
		log.Debugf("usage: tokenizer unavailable: %v", err)
		return 0
	}
	exact, estimated := splitForCount(text)
	if exact == "" {
		return estimated
	}
	n, err := enc.Count(exact)
	if err != nil {
		return estimated
	}
	return n + estimated
}

// splitForCount returns the words to tokenize exactly, joined by single spaces,
// and the estimated token count of everything else.
func splitForCount(text string) (string, int) {
	var b strings.Builder
	estimated, exactRunes := 0, 0
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	for text != "" {
		end := strings.IndexFunc(text, unicode.IsSpace)
		if end < 0 {
			end = len(text)
		}
		word := text[:end]
		text = strings.TrimLeftFunc(text[end:], unicode.IsSpace)

		runes := utf8.RuneCountInString(word)
		if runes > maxExactWordRunes || exactRunes+runes > maxExactRunes {
			estimated += (runes + runesPerToken - 1) / runesPerToken
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
			exactRunes++
		}
		b.WriteString(word)
		exactRunes += runes
	}
	return b.String(), estimated
}

// Turn is the estimated token volume and list-price cost of one chat turn.
type Turn struct {
	Input   int
	Output  int
	CostUSD float64
}

// RecordTurn estimates and records the token volume of one completed turn.
func RecordTurn(model, input, output string) Turn {
	t := Turn{Input: Count(input), Output: Count(output)}
	t.CostUSD, _ = EstimateModelCost(model, int64(t.Input), int64(t.Output))
	middleware.RecordTokenUsage(model, "estimated_input", t.Input)
	middleware.RecordTokenUsage(model, "estimated_output", t.Output)
	return t
}
