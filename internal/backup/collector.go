package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"wpback/internal/logger"
	"wpback/internal/wordpress"
)

const (
	perPage    = 100
	maxRetries = 5

	rateLimitBackoffCap = 60 * time.Second
	genericBackoffCap   = 30 * time.Second
)

// Lister is the one API operation the collector drives.
type Lister interface {
	List(ctx context.Context, p wordpress.ListParams) ([]wordpress.Record, error)
}

// CollectionResult is the finalized outcome of paginating one collection.
type CollectionResult struct {
	Name    string
	Records []wordpress.Record
	Pages   int
	Err     error
}

// Count returns the number of records retrieved.
func (r CollectionResult) Count() int { return len(r.Records) }

// Collector paginates one collection at a time, persisting every page and
// an aggregate file under OutputDir/<collection>/.
type Collector struct {
	OutputDir     string
	Authenticated bool
	MaxItems      int
	Log           logger.Logger

	// Sleep is swapped out in tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

func (c *Collector) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

// needsPublishFilter reports whether unauthenticated access to this
// collection must be restricted to published content.
func needsPublishFilter(name string) bool {
	return name == "posts" || name == "pages" || strings.HasPrefix(name, "cpt_")
}

// backoffDelay is min(2^(retry-1), cap) seconds for retry >= 1.
func backoffDelay(retry int, cap time.Duration) time.Duration {
	d := time.Duration(1<<(retry-1)) * time.Second
	if d > cap {
		d = cap
	}
	return d
}

// Collect paginates the collection named name through ep until exhaustion,
// the MaxItems cap, or an unrecoverable error. Rate limits and generic API
// errors are retried on the same page with exponential backoff; missing
// endpoints and permission refusals stop immediately. Partial results are
// always kept and persisted.
func (c *Collector) Collect(ctx context.Context, name string, ep Lister) CollectionResult {
	log := c.Log
	if log == nil {
		log = logger.Global()
	}

	res := CollectionResult{Name: name}
	contentDir := filepath.Join(c.OutputDir, name)

	page := 1
	retryCount := 0

pageLoop:
	for res.Count() < c.MaxItems {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		params := wordpress.ListParams{Page: page, PerPage: perPage}
		// Unauthenticated callers must never request non-published content.
		if !c.Authenticated && needsPublishFilter(name) {
			params.Status = "publish"
		}

		batch, err := ep.List(ctx, params)
		switch {
		case err == nil:
			if len(batch) == 0 {
				if page == 1 {
					log.Info("no items found", "collection", name)
				}
				break pageLoop
			}
			res.Records = append(res.Records, batch...)
			log.Info("retrieved page",
				"collection", name, "page", page,
				"items", len(batch), "total", res.Count(),
			)
			pageFile := filepath.Join(contentDir, fmt.Sprintf("page_%d.json", page))
			if werr := WriteJSON(pageFile, batch); werr != nil {
				log.Error("failed to persist page", "collection", name, "page", page, "error", werr.Error())
			}
			retryCount = 0
			if len(batch) < perPage {
				break pageLoop // short page, end of collection
			}
			page++

		case errors.Is(err, wordpress.ErrRateLimited):
			retryCount++
			if retryCount > maxRetries {
				log.Error("maximum retries exceeded",
					"collection", name, "page", page, "max_retries", maxRetries)
				res.Err = err
				break pageLoop
			}
			wait := backoffDelay(retryCount, rateLimitBackoffCap)
			log.Warn("rate limit hit, backing off",
				"collection", name, "page", page,
				"wait", wait.String(), "retry", retryCount, "max_retries", maxRetries,
			)
			c.sleep(wait)
			// Same page is retried; the counter does not advance.

		case errors.Is(err, wordpress.ErrNotFound):
			log.Warn("endpoint not found", "collection", name)
			res.Err = err
			break pageLoop

		case errors.Is(err, wordpress.ErrPermissionDenied):
			log.Warn("permission denied, endpoint may require authentication",
				"collection", name)
			res.Err = err
			break pageLoop

		default:
			retryCount++
			if retryCount > maxRetries {
				log.Error("maximum retries exceeded",
					"collection", name, "page", page, "max_retries", maxRetries)
				res.Err = err
				break pageLoop
			}
			wait := backoffDelay(retryCount, genericBackoffCap)
			log.Warn("api error, backing off",
				"collection", name, "page", page, "error", err.Error(),
				"wait", wait.String(), "retry", retryCount, "max_retries", maxRetries,
			)
			c.sleep(wait)
		}
	}

	res.Pages = page
	if res.Count() > 0 {
		allFile := filepath.Join(contentDir, "all.json")
		if werr := WriteJSON(allFile, res.Records); werr != nil {
			log.Error("failed to persist aggregate", "collection", name, "error", werr.Error())
		}
	}
	return res
}
