package backup

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"

	"wpback/internal/logger"
	"wpback/internal/wordpress"
)

// commonCustomPostTypes are probed one by one when route discovery yields
// nothing, typically because the site restricts its REST index.
var commonCustomPostTypes = []string{
	"product", "portfolio", "testimonial", "team", "faq",
	"service", "project", "event", "course", "review",
}

// builtinRouteNames are route tails that never indicate a custom type.
var builtinRouteNames = map[string]bool{
	"": true, "posts": true, "pages": true, "media": true,
}

var slugPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Discoverer finds the custom post types a site exposes, first from the
// advertised routes, then by probing a list of common type names.
type Discoverer struct {
	// Index fetches the REST discovery document.
	Index func(ctx context.Context) (*wordpress.SiteIndex, error)
	// Probe performs a one-item list call against a candidate slug.
	Probe func(ctx context.Context, slug string) ([]wordpress.Record, error)

	Authenticated bool
	Log           logger.Logger
}

// Discover returns the custom post type slugs found on the site.
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	log := d.Log
	if log == nil {
		log = logger.Global()
	}

	idx, err := d.Index(ctx)
	if err != nil {
		if errors.Is(err, wordpress.ErrPermissionDenied) {
			// Restricted discovery endpoint; probing still works.
			log.Warn("permission denied reading the REST index, falling back to probing")
		} else {
			return nil, err
		}
	}

	var found []string
	if idx != nil {
		found = typesFromRoutes(idx.Routes)
	}

	if len(found) == 0 {
		log.Info("no custom post types found via route discovery, probing common types")
		found = d.probeCommonTypes(ctx, log)
	}

	log.Info("custom post type discovery finished", "found", len(found))
	return found, nil
}

// typesFromRoutes extracts custom collection names from the advertised
// /wp/v2 routes: every final path segment that is a plain slug and not a
// built-in collection name.
func typesFromRoutes(routes map[string]json.RawMessage) []string {
	seen := make(map[string]bool)
	var out []string
	for route := range routes {
		if !strings.HasPrefix(route, "/wp/v2/") {
			continue
		}
		seg := route[strings.LastIndexByte(route, '/')+1:]
		if builtinRouteNames[seg] || !slugPattern.MatchString(seg) {
			continue
		}
		if !seen[seg] {
			seen[seg] = true
			out = append(out, seg)
		}
	}
	sort.Strings(out)
	return out
}

// probeCommonTypes tests each well-known custom type slug with a one-item
// list call.
func (d *Discoverer) probeCommonTypes(ctx context.Context, log logger.Logger) []string {
	var found []string
	for _, slug := range commonCustomPostTypes {
		if ctx.Err() != nil {
			break
		}
		items, err := d.Probe(ctx, slug)
		switch {
		case err == nil:
			if len(items) > 0 {
				log.Info("found active custom post type", "type", slug)
				found = append(found, slug)
			}
		case errors.Is(err, wordpress.ErrNotFound):
			// Type absent.
		case errors.Is(err, wordpress.ErrPermissionDenied):
			if d.Authenticated {
				log.Info("custom post type is access-restricted", "type", slug)
				found = append(found, slug)
			} else {
				log.Info("skipping custom post type that requires authentication", "type", slug)
			}
		default:
			log.Debug("error checking custom post type", "type", slug, "error", err.Error())
		}
	}
	return found
}
