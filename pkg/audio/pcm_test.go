package audio_test

import (
	"testing"
	"time"

	"github.com/hamchoi/talkmate/pkg/audio"
)

// pcm16 builds little-endian int16 PCM bytes from samples.
func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestDecodePCM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        []byte
		rate       int
		channels   int
		wantErr    bool
		wantFrames int
	}{
		{name: "valid mono", raw: pcm16(1, 2, 3, 4), rate: 24000, channels: 1, wantFrames: 4},
		{name: "valid stereo", raw: pcm16(1, 2, 3, 4), rate: 24000, channels: 2, wantFrames: 2},
		{name: "empty", raw: nil, rate: 24000, channels: 1, wantErr: true},
		{name: "odd byte count", raw: []byte{1, 2, 3}, rate: 24000, channels: 1, wantErr: true},
		{name: "unaligned stereo", raw: pcm16(1), rate: 24000, channels: 2, wantErr: true},
		{name: "zero rate", raw: pcm16(1), rate: 0, channels: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf, err := audio.DecodePCM(tt.raw, tt.rate, tt.channels)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodePCM() error = nil, want non-nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePCM() error = %v", err)
			}
			if got := buf.Samples(); got != tt.wantFrames {
				t.Errorf("Samples() = %d, want %d", got, tt.wantFrames)
			}
		})
	}
}

func TestBufferDuration(t *testing.T) {
	t.Parallel()

	// 24000 mono samples at 24kHz is exactly one second.
	buf := &audio.Buffer{Data: make([]byte, 24000*2), SampleRate: 24000, Channels: 1}
	if got := buf.Duration(); got != time.Second {
		t.Errorf("Duration() = %v, want %v", got, time.Second)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate is identity", func(t *testing.T) {
		t.Parallel()
		in := pcm16(100, 200, 300)
		out := audio.ResampleMono16(in, 16000, 16000)
		if &in[0] != &out[0] {
			t.Error("expected input slice returned unchanged")
		}
	})

	t.Run("halving rate halves samples", func(t *testing.T) {
		t.Parallel()
		in := pcm16(make([]int16, 320)...)
		out := audio.ResampleMono16(in, 32000, 16000)
		if len(out) != 320 {
			t.Errorf("len(out) = %d, want 320", len(out))
		}
	})

	t.Run("upsampling preserves constant signal", func(t *testing.T) {
		t.Parallel()
		samples := make([]int16, 160)
		for i := range samples {
			samples[i] = 1000
		}
		out := audio.ResampleMono16(pcm16(samples...), 16000, 48000)
		if len(out) != 160*3*2 {
			t.Fatalf("len(out) = %d, want %d", len(out), 160*3*2)
		}
		for i := 0; i+1 < len(out); i += 2 {
			s := int16(out[i]) | int16(out[i+1])<<8
			if s != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i/2, s)
			}
		}
	})
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	in := pcm16(100, 300, -200, -400)
	out := audio.StereoToMono(in)
	want := pcm16(200, -300)
	if len(out) != len(want) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestFormatConverter(t *testing.T) {
	t.Parallel()

	t.Run("fast path returns frame unchanged", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		frame := audio.Frame{Data: pcm16(1, 2), SampleRate: 16000, Channels: 1}
		got := conv.Convert(frame)
		if &got.Data[0] != &frame.Data[0] {
			t.Error("expected zero-copy fast path")
		}
	})

	t.Run("stereo 48k to mono 16k", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		samples := make([]int16, 480*2)
		frame := audio.Frame{Data: pcm16(samples...), SampleRate: 48000, Channels: 2}
		got := conv.Convert(frame)
		if got.SampleRate != 16000 || got.Channels != 1 {
			t.Fatalf("converted format = %dHz/%dch, want 16000Hz/1ch", got.SampleRate, got.Channels)
		}
		if len(got.Data) != 160*2 {
			t.Errorf("len(Data) = %d, want %d", len(got.Data), 160*2)
		}
	})

	t.Run("odd byte count dropped", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		got := conv.Convert(audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1})
		if got.Data != nil {
			t.Errorf("Data = %v, want nil", got.Data)
		}
	})
}
