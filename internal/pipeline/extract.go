package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/amerfu/proxyd/internal/router/smart"
	"github.com/amerfu/proxyd/internal/security"
)

// Shape identifies which provider-compatible route received the
// request, per spec §6's "two routes, bit-compatible with the
// provider they mimic".
type Shape string

const (
	ShapeAnthropic Shape = "anthropic"
	ShapeOpenAI    Shape = "openai"
)

// decodedRequest is the minimal projection the pipeline needs out of
// an inbound body; everything else is forwarded byte-for-byte
// unchanged (spec §6 "passed through unchanged modulo possible model
// substitution" — content translation is explicitly out of scope).
type decodedRequest struct {
	Model    string
	System   string
	Stream   bool
	Messages []security.MessagePart
}

// decodeRequest extracts model/system/stream/messages without fully
// unmarshalling the body, so the raw bytes can still be forwarded
// (optionally with model substituted) without a re-marshal round
// trip losing unknown fields.
func decodeRequest(shape Shape, body []byte) decodedRequest {
	switch shape {
	case ShapeAnthropic:
		return decodeAnthropicRequest(body)
	default:
		return decodeOpenAIRequest(body)
	}
}

func decodeAnthropicRequest(body []byte) decodedRequest {
	d := decodedRequest{
		Model:  gjson.GetBytes(body, "model").String(),
		Stream: gjson.GetBytes(body, "stream").Bool(),
	}
	if sys := gjson.GetBytes(body, "system"); sys.Exists() {
		d.System = sys.String()
	}
	for _, m := range gjson.GetBytes(body, "messages").Array() {
		d.Messages = append(d.Messages, security.MessagePart{
			Role:    m.Get("role").String(),
			Content: flattenContent(m.Get("content")),
		})
	}
	return d
}

func decodeOpenAIRequest(body []byte) decodedRequest {
	d := decodedRequest{
		Model:  gjson.GetBytes(body, "model").String(),
		Stream: gjson.GetBytes(body, "stream").Bool(),
	}
	for _, m := range gjson.GetBytes(body, "messages").Array() {
		role := m.Get("role").String()
		content := flattenContent(m.Get("content"))
		if role == "system" {
			if d.System != "" {
				d.System += "\n"
			}
			d.System += content
			continue
		}
		d.Messages = append(d.Messages, security.MessagePart{Role: role, Content: content})
	}
	return d
}

// flattenContent handles both the plain-string content shape and the
// multi-part array shape (text/image blocks); only text parts are
// scanned, per security.RequestData's "image/binary parts are not
// scanned" contract.
func flattenContent(v gjson.Result) string {
	if v.IsArray() {
		var parts []string
		for _, part := range v.Array() {
			if part.Get("type").String() == "text" {
				parts = append(parts, part.Get("text").String())
			} else if text := part.Get("text"); text.Exists() {
				parts = append(parts, text.String())
			}
		}
		return strings.Join(parts, "\n")
	}
	return v.String()
}

// toSmartMessages projects the pipeline's message shape into the
// Smart Router's minimal Message shape.
func toSmartMessages(msgs []security.MessagePart) []smart.Message {
	out := make([]smart.Message, len(msgs))
	for i, m := range msgs {
		out[i] = smart.Message{Content: m.Content}
	}
	return out
}

// substituteModel rewrites only the body's "model" field (Smart
// Router downgrade/reroute substitution), preserving every other
// field. Uses encoding/json's generic map round trip rather than
// pulling in a JSON-patch library: one field, one call site.
func substituteModel(body []byte, model string) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	m["model"] = model
	return json.Marshal(m)
}
