package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/hamchoi/talkmate/pkg/provider/tts"
	ttsmock "github.com/hamchoi/talkmate/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{Audio: []byte("primary-audio")}
	secondary := &ttsmock.Provider{Audio: []byte("fallback-audio")}

	fb := NewTTSFallback(primary, "primary", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "primary-audio" {
		t.Fatalf("audio = %q, want primary-audio", string(audio))
	}
	if len(primary.SynthesizeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.SynthesizeCalls))
	}
	if len(secondary.SynthesizeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.SynthesizeCalls))
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Audio: []byte("fallback-audio")}

	fb := NewTTSFallback(primary, "primary", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "fallback-audio" {
		t.Fatalf("audio = %q, want fallback-audio", string(audio))
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v, want ErrChainExhausted", err)
	}
}

func TestTTSFallback_OutputFormat_ReportsPrimary(t *testing.T) {
	primary := &ttsmock.Provider{SampleRate: 24000, Channels: 1}
	secondary := &ttsmock.Provider{SampleRate: 22050, Channels: 2}

	fb := NewTTSFallback(primary, "primary", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("secondary", secondary)

	rate, ch := fb.OutputFormat()
	if rate != 24000 || ch != 1 {
		t.Fatalf("OutputFormat = %d/%d, want 24000/1", rate, ch)
	}
}

func TestTTSFallback_Voices_ReportsPrimary(t *testing.T) {
	primary := &ttsmock.Provider{
		VoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
	}

	fb := NewTTSFallback(primary, "primary", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})

	voices := fb.Voices()
	if len(voices) != 1 || voices[0].Name != "Alice" {
		t.Fatalf("voices = %v, want [Alice]", voices)
	}
}

func TestNewTTSFactory_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Audio: []byte("fallback-audio")}

	factory := NewTTSFactory(
		NamedTTSFactory{Name: "primary", Factory: func(string) (tts.Provider, error) {
			return primary, nil
		}},
		ChainConfig{Breaker: BreakerConfig{TripAfter: 3}},
		NamedTTSFactory{Name: "secondary", Factory: func(string) (tts.Provider, error) {
			return secondary, nil
		}},
	)

	p, err := factory("sk-learner")
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "fallback-audio" {
		t.Fatalf("audio = %q, want fallback-audio", string(audio))
	}
}
