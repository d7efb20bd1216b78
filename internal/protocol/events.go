package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies control-event payload variants on the side channel.
type EventType string

// Client -> remote events.
const (
	TypeSessionUpdate          EventType = "session.update"
	TypeConversationItemCreate EventType = "conversation.item.create"
	TypeResponseCreate         EventType = "response.create"
	TypeInputAudioBufferAppend EventType = "input_audio_buffer.append"
	TypeInputAudioBufferCommit EventType = "input_audio_buffer.commit"
	TypeInputAudioBufferClear  EventType = "input_audio_buffer.clear"
)

// Remote -> client events.
const (
	TypeSessionCreated          EventType = "session.created"
	TypeSessionUpdated          EventType = "session.updated"
	TypeConversationItemCreated EventType = "conversation.item.created"
	TypeResponseCreated         EventType = "response.created"
	TypeResponseDone            EventType = "response.done"
	TypeResponseTextDelta       EventType = "response.text.delta"
	TypeSpeechStarted           EventType = "input_audio_buffer.speech_started"
	TypeSpeechStopped           EventType = "input_audio_buffer.speech_stopped"
	TypeError                   EventType = "error"
)

var ErrUnsupportedType = errors.New("unsupported event type")

type Envelope struct {
	Type EventType `json:"type"`
}

// SessionConfig carries the negotiable parameters of a voice session. The
// backend supplies a recommended copy with each credential; the client may
// override individual fields at connect time.
type SessionConfig struct {
	Model        string       `json:"model,omitempty"`
	Instructions string       `json:"instructions,omitempty"`
	Audio        *AudioConfig `json:"audio,omitempty"`
}

type AudioConfig struct {
	Input  *InputAudio  `json:"input,omitempty"`
	Output *OutputAudio `json:"output,omitempty"`
}

type InputAudio struct {
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type OutputAudio struct {
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Voice      string  `json:"voice,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
}

// MergeSessionConfig layers override on top of base without mutating either.
func MergeSessionConfig(base, override SessionConfig) SessionConfig {
	out := base
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Instructions != "" {
		out.Instructions = override.Instructions
	}
	if override.Audio == nil {
		return out
	}
	merged := AudioConfig{}
	if base.Audio != nil {
		merged = *base.Audio
	}
	if override.Audio.Input != nil {
		in := *override.Audio.Input
		merged.Input = &in
	}
	if override.Audio.Output != nil {
		o := OutputAudio{}
		if merged.Output != nil {
			o = *merged.Output
		}
		if override.Audio.Output.Format != "" {
			o.Format = override.Audio.Output.Format
		}
		if override.Audio.Output.SampleRate > 0 {
			o.SampleRate = override.Audio.Output.SampleRate
		}
		if override.Audio.Output.Voice != "" {
			o.Voice = override.Audio.Output.Voice
		}
		if override.Audio.Output.Speed > 0 {
			o.Speed = override.Audio.Output.Speed
		}
		merged.Output = &o
	}
	out.Audio = &merged
	return out
}

// ConversationItem is one entry in the conversation history. Items are
// immutable once created; streaming text accumulates outside the item and is
// only surfaced on the completing event.
type ConversationItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type,omitempty"` // message | function_call | function_call_output
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

type ContentPart struct {
	Type       string `json:"type"` // input_text | input_audio | text | audio
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// NewUserMessage builds a user-submitted text item.
func NewUserMessage(id, text string) ConversationItem {
	return ConversationItem{
		ID:   id,
		Type: "message",
		Role: "user",
		Content: []ContentPart{
			{Type: "input_text", Text: text},
		},
	}
}

// AssistantText extracts the first text content part from the assistant's
// output items, falling back to audio transcripts.
func AssistantText(items []ConversationItem) string {
	for _, item := range items {
		if item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "text" && part.Text != "" {
				return part.Text
			}
			if part.Type == "audio" && part.Transcript != "" {
				return part.Transcript
			}
		}
	}
	return ""
}

type SessionUpdate struct {
	Type    EventType     `json:"type"`
	Session SessionConfig `json:"session"`
}

type ConversationItemCreate struct {
	Type EventType        `json:"type"`
	Item ConversationItem `json:"item"`
}

type ResponseCreate struct {
	Type EventType `json:"type"`
}

type InputAudioBufferAppend struct {
	Type  EventType `json:"type"`
	Audio string    `json:"audio"`
}

type InputAudioBufferCommit struct {
	Type EventType `json:"type"`
}

type InputAudioBufferClear struct {
	Type EventType `json:"type"`
}

type SessionCreated struct {
	Type    EventType     `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Session SessionConfig `json:"session"`
}

type SessionUpdated struct {
	Type    EventType     `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Session SessionConfig `json:"session"`
}

type ConversationItemCreated struct {
	Type    EventType        `json:"type"`
	EventID string           `json:"event_id,omitempty"`
	Item    ConversationItem `json:"item"`
}

type ResponseCreated struct {
	Type     EventType `json:"type"`
	EventID  string    `json:"event_id,omitempty"`
	Response struct {
		ID string `json:"id,omitempty"`
	} `json:"response"`
}

type ResponseDone struct {
	Type     EventType      `json:"type"`
	EventID  string         `json:"event_id,omitempty"`
	Response ResponseResult `json:"response"`
}

type ResponseResult struct {
	ID     string             `json:"id,omitempty"`
	Status string             `json:"status,omitempty"`
	Output []ConversationItem `json:"output,omitempty"`
}

type ResponseTextDelta struct {
	Type       EventType `json:"type"`
	EventID    string    `json:"event_id,omitempty"`
	ResponseID string    `json:"response_id,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	Delta      string    `json:"delta"`
}

type SpeechStarted struct {
	Type         EventType `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	ItemID       string    `json:"item_id,omitempty"`
	AudioStartMS int64     `json:"audio_start_ms,omitempty"`
}

type SpeechStopped struct {
	Type       EventType `json:"type"`
	EventID    string    `json:"event_id,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	AudioEndMS int64     `json:"audio_end_ms,omitempty"`
}

type ServerError struct {
	Type    EventType   `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseServerEvent decodes one inbound side-channel event. Unknown
// discriminants return ErrUnsupportedType so the caller can skip them without
// treating the session as broken.
func ParseServerEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionCreated:
		var ev SessionCreated
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeSessionUpdated:
		var ev SessionUpdated
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeConversationItemCreated:
		var ev ConversationItemCreated
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeResponseCreated:
		var ev ResponseCreated
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeResponseDone:
		var ev ResponseDone
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeResponseTextDelta:
		var ev ResponseTextDelta
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeSpeechStarted:
		var ev SpeechStarted
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeSpeechStopped:
		var ev SpeechStopped
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeError:
		var ev ServerError
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, ErrUnsupportedType
	}
}
