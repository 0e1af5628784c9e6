// internal/remote/sync.go
package remote

import (
	"context"
	"sync"

	shared "graft/shared/types"

	"go.uber.org/zap"
)

// Transport fetches the advertised branch tips of one remote endpoint.
// Implementations must be safe for concurrent use.
type Transport interface {
	FetchRefs(ctx context.Context, url string) (map[string]shared.CommitHash, error)
}

// Result carries one remote's fetch outcome. A failed remote reports its
// error without affecting the others.
type Result struct {
	Remote shared.Remote
	Tips   map[string]shared.CommitHash
	Err    error
}

// Syncer fetches remote tips concurrently. It performs network I/O only;
// applying the results to local tracking refs is the caller's job.
type Syncer struct {
	transport Transport
	logger    *zap.Logger
}

func NewSyncer(transport Transport, logger *zap.Logger) *Syncer {
	return &Syncer{transport: transport, logger: logger}
}

// FetchAll queries every remote in parallel and returns one result per
// remote, in the input order.
func (s *Syncer) FetchAll(ctx context.Context, remotes []shared.Remote) []Result {
	results := make([]Result, len(remotes))

	var wg sync.WaitGroup
	for i, r := range remotes {
		wg.Add(1)
		go func(i int, r shared.Remote) {
			defer wg.Done()
			tips, err := s.transport.FetchRefs(ctx, r.URL)
			if err != nil {
				s.logger.Warn("fetch failed",
					zap.String("remote", r.Name),
					zap.String("url", r.URL),
					zap.Error(err))
				results[i] = Result{Remote: r, Err: err}
				return
			}
			s.logger.Info("fetched remote",
				zap.String("remote", r.Name),
				zap.Int("branches", len(tips)))
			results[i] = Result{Remote: r, Tips: tips}
		}(i, r)
	}
	wg.Wait()

	return results
}
