package tutor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hamchoi/talkmate/internal/script"
)

// prefetchConcurrency bounds parallel synthesis requests so a long script
// does not hammer the TTS quota all at once.
const prefetchConcurrency = 3

// prefetch synthesizes audio for every script line ahead of playback, bot
// lines for the dialogue and learner lines for hints. Individual failures are
// tolerated; the line is retried on demand when it comes up.
func (s *Session) prefetch(ctx context.Context, gen int, lines []script.Line, apiKey string) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)

	for _, line := range lines {
		g.Go(func() error {
			s.mu.Lock()
			current := s.stillCurrent(gen)
			s.mu.Unlock()
			if !current {
				return nil
			}

			if _, err := s.ensureAudio(ctx, line.Text, apiKey); err != nil {
				slog.Warn("prefetch synthesis failed", "role", line.Role, "err", err)
			}

			s.mu.Lock()
			if s.stillCurrent(gen) {
				s.prefetchDone++
				s.publishLocked()
			}
			s.mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
}
