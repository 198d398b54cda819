package commcare

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/caktus/commcare-utilities/internal/config"
	"github.com/caktus/commcare-utilities/internal/logger"
)

// CaseFetcher is the read path Lookup retries. *Client satisfies it.
type CaseFetcher interface {
	GetCasesByExternalID(ctx context.Context, externalID string) ([]Case, error)
}

// Lookup wraps the fetch-by-external-id read with exponential backoff. A
// case CommCare just accepted may not be visible to reads yet, so an empty
// result is retried on the backoff schedule rather than trusted.
type Lookup struct {
	fetcher CaseFetcher
	backoff Backoff
	log     zerolog.Logger
}

func NewLookup(fetcher CaseFetcher, cfg config.LookupConfig) *Lookup {
	return &Lookup{
		fetcher: fetcher,
		backoff: Backoff{
			Initial:      cfg.InitialDelay,
			Multiplier:   cfg.Multiplier,
			MaxTotalWait: cfg.MaxTotalWait,
		},
		log: logger.Get(),
	}
}

// CasesByExternalID fetches the cases carrying the given external id,
// retrying while the result is empty. Exhausting the retry budget returns an
// error wrapping ErrLookupTimeout, scoped to this one lookup.
func (l *Lookup) CasesByExternalID(ctx context.Context, externalID string) ([]Case, error) {
	var cases []Case
	attempt := 0
	err := l.backoff.Retry(ctx, func(ctx context.Context) (bool, error) {
		attempt++
		found, err := l.fetcher.GetCasesByExternalID(ctx, externalID)
		if err != nil {
			return false, err
		}
		if len(found) == 0 {
			l.log.Debug().
				Str("external_id", externalID).
				Int("attempt", attempt).
				Msg("No cases visible yet, will retry")
			return false, nil
		}
		cases = found
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookup by external id %s: %w", externalID, err)
	}
	return cases, nil
}
