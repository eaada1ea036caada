package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/hamchoi/talkmate/pkg/provider/stt"
	sttmock "github.com/hamchoi/talkmate/pkg/provider/stt/mock"
)

func TestSTTFallback_StartStream_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Session: sttmock.NewSession()}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "primary", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("secondary", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if len(primary.StartStreamCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.StartStreamCalls))
	}
	if len(secondary.StartStreamCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.StartStreamCalls))
	}
	_ = handle.Close()
}

func TestSTTFallback_StartStream_Failover(t *testing.T) {
	primary := &sttmock.Provider{
		StartStreamErr: errors.New("primary down"),
	}
	secondary := &sttmock.Provider{Session: sttmock.NewSession()}

	fb := NewSTTFallback(primary, "primary", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("secondary", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if len(secondary.StartStreamCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.StartStreamCalls))
	}
	_ = handle.Close()
}

func TestSTTFallback_StartStream_AllFail(t *testing.T) {
	primary := &sttmock.Provider{StartStreamErr: errors.New("primary down")}
	secondary := &sttmock.Provider{StartStreamErr: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v, want ErrChainExhausted", err)
	}
}

func TestNewSTTFactory_Failover(t *testing.T) {
	primary := &sttmock.Provider{StartStreamErr: errors.New("primary down")}
	secondary := &sttmock.Provider{Session: sttmock.NewSession()}

	factory := NewSTTFactory(
		NamedSTTFactory{Name: "primary", Factory: func(string) (stt.Provider, error) {
			return primary, nil
		}},
		ChainConfig{Breaker: BreakerConfig{TripAfter: 3}},
		NamedSTTFactory{Name: "secondary", Factory: func(string) (stt.Provider, error) {
			return secondary, nil
		}},
	)

	p, err := factory("sk-learner")
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}
	handle, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(secondary.StartStreamCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.StartStreamCalls))
	}
	_ = handle.Close()
}
