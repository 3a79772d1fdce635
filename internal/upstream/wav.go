package upstream

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
)

const (
	defaultPCMRate = 24000
	pcmChannels    = 1
	pcmBits        = 16
)

// WrapPCM converts raw little-endian 16-bit mono PCM into a WAV payload when the
// provider MIME type names L16 or PCM audio. Other payloads pass through unchanged.
func WrapPCM(mimeType string, data []byte) Audio {
	lower := strings.ToLower(mimeType)
	if !strings.Contains(lower, "l16") && !strings.Contains(lower, "pcm") {
		return Audio{MIMEType: mimeType, Data: data}
	}
	return Audio{MIMEType: "audio/wav", Data: pcmToWAV(data, pcmRate(lower))}
}

// pcmRate reads the rate= parameter of a MIME type such as "audio/L16;codec=pcm;rate=24000".
func pcmRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.TrimSpace(key) != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && rate > 0 {
			return rate
		}
	}
	return defaultPCMRate
}

func pcmToWAV(pcm []byte, rate int) []byte {
	blockAlign := pcmChannels * pcmBits / 8
	byteRate := rate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(pcmChannels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(pcmBits))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
