package protocol

import (
	"errors"
	"testing"
)

func TestParseServerEventTextDelta(t *testing.T) {
	raw := []byte(`{"type":"response.text.delta","response_id":"r1","item_id":"i1","delta":"Hel"}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}

	delta, ok := ev.(ResponseTextDelta)
	if !ok {
		t.Fatalf("event type = %T, want ResponseTextDelta", ev)
	}
	if delta.Delta != "Hel" || delta.ResponseID != "r1" {
		t.Fatalf("unexpected delta event: %+v", delta)
	}
}

func TestParseServerEventResponseDoneOutput(t *testing.T) {
	raw := []byte(`{"type":"response.done","response":{"id":"r1","status":"completed","output":[{"type":"message","role":"assistant","content":[{"type":"text","text":"Hello"}]}]}}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}

	done, ok := ev.(ResponseDone)
	if !ok {
		t.Fatalf("event type = %T, want ResponseDone", ev)
	}
	if got := AssistantText(done.Response.Output); got != "Hello" {
		t.Fatalf("AssistantText() = %q, want %q", got, "Hello")
	}
}

func TestParseServerEventIgnoresUnknownType(t *testing.T) {
	_, err := ParseServerEvent([]byte(`{"type":"rate_limits.updated"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseServerEventRejectsMalformedEnvelope(t *testing.T) {
	if _, err := ParseServerEvent([]byte(`{garbage`)); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}

func TestAssistantTextFallsBackToTranscript(t *testing.T) {
	items := []ConversationItem{
		{Role: "user", Content: []ContentPart{{Type: "input_text", Text: "hi"}}},
		{Role: "assistant", Content: []ContentPart{{Type: "audio", Transcript: "greetings"}}},
	}
	if got := AssistantText(items); got != "greetings" {
		t.Fatalf("AssistantText() = %q, want %q", got, "greetings")
	}
}

func TestAssistantTextEmptyWhenNoAssistantOutput(t *testing.T) {
	items := []ConversationItem{
		{Role: "user", Content: []ContentPart{{Type: "input_text", Text: "hi"}}},
	}
	if got := AssistantText(items); got != "" {
		t.Fatalf("AssistantText() = %q, want empty", got)
	}
}

func TestMergeSessionConfigOverridesSelectively(t *testing.T) {
	base := SessionConfig{
		Model:        "m1",
		Instructions: "base instructions",
		Audio: &AudioConfig{
			Input:  &InputAudio{Format: "pcm16", SampleRate: 24000},
			Output: &OutputAudio{Format: "pcm16", Voice: "alloy", Speed: 1.0},
		},
	}
	override := SessionConfig{
		Instructions: "horary instructions",
		Audio: &AudioConfig{
			Output: &OutputAudio{Voice: "sage", Speed: 1.1},
		},
	}

	merged := MergeSessionConfig(base, override)
	if merged.Model != "m1" {
		t.Fatalf("Model = %q, want %q", merged.Model, "m1")
	}
	if merged.Instructions != "horary instructions" {
		t.Fatalf("Instructions = %q, want override applied", merged.Instructions)
	}
	if merged.Audio.Input == nil || merged.Audio.Input.SampleRate != 24000 {
		t.Fatalf("input audio should be preserved: %+v", merged.Audio.Input)
	}
	if merged.Audio.Output.Voice != "sage" || merged.Audio.Output.Speed != 1.1 {
		t.Fatalf("output override not applied: %+v", merged.Audio.Output)
	}
	if merged.Audio.Output.Format != "pcm16" {
		t.Fatalf("output format should carry over from base, got %q", merged.Audio.Output.Format)
	}

	// Merge must not mutate its inputs.
	if base.Audio.Output.Voice != "alloy" {
		t.Fatalf("base mutated: %+v", base.Audio.Output)
	}
}
