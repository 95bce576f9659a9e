package backup

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"wpback/internal/wordpress"
)

func routes(paths ...string) map[string]json.RawMessage {
	m := make(map[string]json.RawMessage, len(paths))
	for _, p := range paths {
		m[p] = json.RawMessage(`{}`)
	}
	return m
}

func TestTypesFromRoutes(t *testing.T) {
	got := typesFromRoutes(routes(
		"/wp/v2/posts",
		`/wp/v2/posts/(?P<id>[\d]+)`,
		"/wp/v2/pages",
		"/wp/v2/media",
		"/wp/v2/product",
		`/wp/v2/product/(?P<id>[\d]+)`,
		"/wp/v2/portfolio",
		"/oembed/1.0/embed",
		"/wp/v2",
	))
	want := []string{"portfolio", "product"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDiscoverUsesRoutesWhenAvailable(t *testing.T) {
	probed := false
	d := &Discoverer{
		Index: func(context.Context) (*wordpress.SiteIndex, error) {
			return &wordpress.SiteIndex{Routes: routes("/wp/v2/event")}, nil
		},
		Probe: func(context.Context, string) ([]wordpress.Record, error) {
			probed = true
			return nil, nil
		},
	}

	got, err := d.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"event"}) {
		t.Errorf("got %v", got)
	}
	if probed {
		t.Error("probing should be skipped when routes yield types")
	}
}

func TestDiscoverFallsBackToProbing(t *testing.T) {
	var probedSlugs []string
	d := &Discoverer{
		Index: func(context.Context) (*wordpress.SiteIndex, error) {
			return &wordpress.SiteIndex{Routes: routes("/wp/v2/posts")}, nil
		},
		Probe: func(_ context.Context, slug string) ([]wordpress.Record, error) {
			probedSlugs = append(probedSlugs, slug)
			switch slug {
			case "product":
				return makeRecords(1, 0), nil
			case "portfolio":
				return nil, nil // exists but empty
			default:
				return nil, wordpress.ErrNotFound
			}
		},
	}

	got, err := d.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"product"}) {
		t.Errorf("got %v, want [product]", got)
	}
	if len(probedSlugs) != len(commonCustomPostTypes) {
		t.Errorf("probed %d slugs, want %d", len(probedSlugs), len(commonCustomPostTypes))
	}
}

func TestDiscoverRestrictedTypesDependOnAuth(t *testing.T) {
	newDiscoverer := func(authenticated bool) *Discoverer {
		return &Discoverer{
			Index: func(context.Context) (*wordpress.SiteIndex, error) {
				return &wordpress.SiteIndex{}, nil
			},
			Probe: func(_ context.Context, slug string) ([]wordpress.Record, error) {
				if slug == "team" {
					return nil, wordpress.ErrPermissionDenied
				}
				return nil, wordpress.ErrNotFound
			},
			Authenticated: authenticated,
		}
	}

	got, err := newDiscoverer(true).Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"team"}) {
		t.Errorf("authenticated: got %v, want [team]", got)
	}

	got, err = newDiscoverer(false).Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("public: got %v, want none", got)
	}
}

func TestDiscoverIndexPermissionDeniedStillProbes(t *testing.T) {
	d := &Discoverer{
		Index: func(context.Context) (*wordpress.SiteIndex, error) {
			return nil, wordpress.ErrPermissionDenied
		},
		Probe: func(_ context.Context, slug string) ([]wordpress.Record, error) {
			if slug == "faq" {
				return makeRecords(1, 0), nil
			}
			return nil, wordpress.ErrNotFound
		},
	}

	got, err := d.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"faq"}) {
		t.Errorf("got %v, want [faq]", got)
	}
}

func TestDiscoverIndexHardErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	d := &Discoverer{
		Index: func(context.Context) (*wordpress.SiteIndex, error) {
			return nil, boom
		},
		Probe: func(context.Context, string) ([]wordpress.Record, error) {
			t.Fatal("probe must not run after a hard index error")
			return nil, nil
		},
	}

	if _, err := d.Discover(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
