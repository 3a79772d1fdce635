package gemini

import (
	"bytes"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/router-for-me/chatrelay/internal/upstream"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var dataTag = []byte("data:")

// buildGenerateBody renders a streamGenerateContent request.
func buildGenerateBody(req upstream.GenerateRequest) []byte {
	body := []byte(`{"contents":[]}`)
	for i, turn := range req.Turns {
		role := turn.Role
		if role != upstream.RoleModel {
			role = upstream.RoleUser
		}
		content := []byte(`{"parts":[]}`)
		content, _ = sjson.SetBytes(content, "role", role)
		if turn.Text != "" {
			content, _ = sjson.SetBytes(content, "parts.-1", map[string]string{"text": turn.Text})
		}
		if turn.Audio != nil && len(turn.Audio.Data) > 0 {
			inline := []byte(`{"inlineData":{}}`)
			inline, _ = sjson.SetBytes(inline, "inlineData.mimeType", turn.Audio.MIMEType)
			inline, _ = sjson.SetBytes(inline, "inlineData.data", base64.StdEncoding.EncodeToString(turn.Audio.Data))
			content, _ = sjson.SetRawBytes(content, "parts.-1", inline)
		}
		if !gjson.GetBytes(content, "parts.0").Exists() {
			content, _ = sjson.SetBytes(content, "parts.-1", map[string]string{"text": ""})
		}
		body, _ = sjson.SetRawBytes(body, "contents."+strconv.Itoa(i), content)
	}

	var tools []string
	if req.CodeExecution {
		tools = append(tools, `{"codeExecution":{}}`)
	}
	if req.Search {
		tools = append(tools, `{"googleSearch":{}}`)
	}
	if len(tools) > 0 {
		body, _ = sjson.SetRawBytes(body, "tools", []byte("["+strings.Join(tools, ",")+"]"))
	}
	if req.IncludeThoughts {
		body, _ = sjson.SetBytes(body, "generationConfig.thinkingConfig.includeThoughts", true)
	}
	return body
}

// jsonPayload extracts the JSON document of one SSE line, or nil for comments,
// event names, keep-alives and the [DONE] sentinel.
func jsonPayload(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	if bytes.HasPrefix(trimmed, dataTag) {
		trimmed = bytes.TrimSpace(trimmed[len(dataTag):])
	}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[DONE]")) || trimmed[0] != '{' {
		return nil
	}
	return trimmed
}

// parseFragments classifies the parts of one streamed response chunk in order.
// Fresh grounding queries are reported after the chunk's parts.
func parseFragments(payload []byte, search *upstream.SearchTracker) []upstream.Fragment {
	var out []upstream.Fragment
	candidate := gjson.GetBytes(payload, "candidates.0")
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("executableCode").Exists():
			code := part.Get("executableCode")
			out = append(out, upstream.Fragment{
				Kind:     upstream.FragmentCode,
				Text:     code.Get("code").String(),
				Language: upstream.NormalizeLanguage(code.Get("language").String()),
			})
		case part.Get("codeExecutionResult").Exists():
			out = append(out, upstream.Fragment{
				Kind: upstream.FragmentCodeResult,
				Text: part.Get("codeExecutionResult.output").String(),
			})
		case part.Get("thought").Bool():
			if text := part.Get("text").String(); text != "" {
				out = append(out, upstream.Fragment{Kind: upstream.FragmentThought, Text: text})
			}
		case part.Get("text").Exists():
			if text := part.Get("text").String(); text != "" {
				out = append(out, upstream.Fragment{Kind: upstream.FragmentText, Text: text})
			}
		}
		return true
	})

	var queries []string
	candidate.Get("groundingMetadata.webSearchQueries").ForEach(func(_, q gjson.Result) bool {
		queries = append(queries, q.String())
		return true
	})
	if fresh := search.Fresh(queries); len(fresh) > 0 {
		out = append(out, upstream.Fragment{Kind: upstream.FragmentSearch, Queries: fresh})
	}
	return out
}

// collectText concatenates the non-thought text parts of a generateContent response.
func collectText(data []byte) string {
	var sb strings.Builder
	gjson.GetBytes(data, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		sb.WriteString(part.Get("text").String())
		return true
	})
	return sb.String()
}

// usageTokens reads prompt and candidate token counts from usageMetadata.
func usageTokens(payload []byte) (prompt, candidates int64, ok bool) {
	usage := gjson.GetBytes(payload, "usageMetadata")
	if !usage.Exists() {
		return 0, 0, false
	}
	return usage.Get("promptTokenCount").Int(), usage.Get("candidatesTokenCount").Int() + usage.Get("thoughtsTokenCount").Int(), true
}
