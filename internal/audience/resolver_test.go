package audience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trendcast/internal/domain"
	"trendcast/internal/providers/intercom"
)

type fakePlatform struct {
	mu sync.Mutex

	segments    []domain.Segment
	segmentsErr error
	// keyed by filter field
	results   map[string][]domain.Recipient
	searchErr map[string]error

	searches  []intercom.Filter
	listCalls int
}

func (f *fakePlatform) ListAllRecipients(ctx context.Context) ([]domain.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return []domain.Recipient{{ID: "everyone"}}, nil
}

func (f *fakePlatform) SearchRecipients(ctx context.Context, flt intercom.Filter) ([]domain.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, flt)
	if err := f.searchErr[flt.Field]; err != nil {
		return nil, err
	}
	return f.results[flt.Field], nil
}

func (f *fakePlatform) ListSegments(ctx context.Context) ([]domain.Segment, error) {
	if f.segmentsErr != nil {
		return nil, f.segmentsErr
	}
	return f.segments, nil
}

func recips(ids ...string) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Recipient{ID: id})
	}
	return out
}

func TestResolveActivePrefersSegment(t *testing.T) {
	for _, name := range []string{"Active", "ACTIVE", "active", " active "} {
		t.Run(name, func(t *testing.T) {
			fp := &fakePlatform{
				segments: []domain.Segment{{ID: "s0", Name: "Churned"}, {ID: "s9", Name: name}},
				results: map[string][]domain.Recipient{
					"segment_id":   recips("a", "b"),
					"last_seen_at": recips("x"),
				},
			}
			r := &Resolver{Platform: fp}

			res, err := r.ResolveActive(context.Background(), 30)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if res.Strategy != "segment" || len(res.Recipients) != 2 {
				t.Fatalf("unexpected result: %+v", res)
			}
			if len(fp.searches) != 1 {
				t.Fatalf("expected exactly one search, got %d", len(fp.searches))
			}
			got := fp.searches[0]
			if got.Field != "segment_id" || got.Operator != "=" || got.Value != "s9" {
				t.Fatalf("unexpected segment filter: %+v", got)
			}
		})
	}
}

func TestResolveActiveFallsBackToLastSeen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		fp   *fakePlatform
	}{
		{"no matching segment", &fakePlatform{segments: []domain.Segment{{ID: "s1", Name: "Inactive"}}}},
		{"segment listing fails", &fakePlatform{segmentsErr: &domain.TransportError{Op: "list_segments", StatusCode: 500}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fp.results = map[string][]domain.Recipient{"last_seen_at": recips("x", "y", "z")}
			r := &Resolver{Platform: tc.fp, Now: func() time.Time { return now }}

			res, err := r.ResolveActive(context.Background(), 7)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if res.Strategy != "last_seen" || len(res.Recipients) != 3 {
				t.Fatalf("unexpected result: %+v", res)
			}
			if len(tc.fp.searches) != 1 {
				t.Fatalf("expected one search, got %d", len(tc.fp.searches))
			}
			f := tc.fp.searches[0]
			want := now.Unix() - 7*86400
			if f.Field != "last_seen_at" || f.Operator != ">" || f.Value != want {
				t.Fatalf("unexpected filter %+v, want cutoff %d", f, want)
			}
		})
	}
}

func TestResolveActiveCutoffUsesWallClock(t *testing.T) {
	fp := &fakePlatform{results: map[string][]domain.Recipient{"last_seen_at": nil}}
	r := &Resolver{Platform: fp}

	before := time.Now().Unix() - 30*86400
	if _, err := r.ResolveActive(context.Background(), 0); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	after := time.Now().Unix() - 30*86400

	v, ok := fp.searches[0].Value.(int64)
	if !ok {
		t.Fatalf("expected int64 cutoff, got %T", fp.searches[0].Value)
	}
	if v < before-2 || v > after+2 {
		t.Fatalf("cutoff %d outside [%d, %d]", v, before, after)
	}
}

func TestResolveActiveSegmentSearchFailureFallsThrough(t *testing.T) {
	fp := &fakePlatform{
		segments:  []domain.Segment{{ID: "s1", Name: "active"}},
		searchErr: map[string]error{"segment_id": &domain.TransportError{Op: "search_contacts", StatusCode: 502}},
		results:   map[string][]domain.Recipient{"last_seen_at": recips("x")},
	}
	r := &Resolver{Platform: fp}

	res, err := r.ResolveActive(context.Background(), 30)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Strategy != "last_seen" {
		t.Fatalf("expected last_seen fallback, got %s", res.Strategy)
	}
}

func TestResolveActiveBothFail(t *testing.T) {
	fp := &fakePlatform{
		segmentsErr: &domain.TransportError{Op: "list_segments", StatusCode: 503},
		searchErr:   map[string]error{"last_seen_at": &domain.TransportError{Op: "search_contacts", StatusCode: 500}},
	}
	r := &Resolver{Platform: fp}

	res, err := r.ResolveActive(context.Background(), 30)
	var are *domain.AudienceResolutionError
	if !errors.As(err, &are) {
		t.Fatalf("expected AudienceResolutionError, got %v", err)
	}
	if len(are.Causes) != 2 {
		t.Fatalf("expected both causes, got %d", len(are.Causes))
	}
	var te *domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport cause to be reachable, got %v", err)
	}
	if res.Recipients != nil {
		t.Fatalf("expected no recipients, got %d", len(res.Recipients))
	}
	if fp.listCalls != 0 {
		t.Fatalf("resolver must not fall back to listing all users")
	}
}

func TestResolveActiveEmptyIsNotAnError(t *testing.T) {
	fp := &fakePlatform{segments: []domain.Segment{{ID: "s1", Name: "Active"}}}
	r := &Resolver{Platform: fp}

	res, err := r.ResolveActive(context.Background(), 30)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Recipients) != 0 || res.Strategy != "segment" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolveActivePolicies(t *testing.T) {
	t.Run("segment-only without segment fails", func(t *testing.T) {
		fp := &fakePlatform{results: map[string][]domain.Recipient{"last_seen_at": recips("x")}}
		r := &Resolver{Platform: fp, Policy: PolicySegmentOnly}

		_, err := r.ResolveActive(context.Background(), 30)
		if !errors.Is(err, ErrNotApplicable) {
			t.Fatalf("expected ErrNotApplicable cause, got %v", err)
		}
		if len(fp.searches) != 0 {
			t.Fatalf("segment-only policy must not search by last seen")
		}
	})
	t.Run("last-seen-only ignores segment", func(t *testing.T) {
		fp := &fakePlatform{
			segments: []domain.Segment{{ID: "s1", Name: "Active"}},
			results:  map[string][]domain.Recipient{"segment_id": recips("a"), "last_seen_at": recips("x", "y")},
		}
		r := &Resolver{Platform: fp, Policy: PolicyLastSeenOnly}

		res, err := r.ResolveActive(context.Background(), 30)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res.Strategy != "last_seen" || len(res.Recipients) != 2 {
			t.Fatalf("unexpected result: %+v", res)
		}
	})
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicySegmentThenLastSeen {
		t.Fatalf("expected default policy, got %q %v", p, err)
	}
	if p, err := ParsePolicy("Segment-Only"); err != nil || p != PolicySegmentOnly {
		t.Fatalf("expected segment-only, got %q %v", p, err)
	}
	var ce *domain.ConfigError
	if _, err := ParsePolicy("everyone"); !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestCap(t *testing.T) {
	all := recips("a", "b", "c", "d")
	if got := Cap(all, 0); len(got) != 4 {
		t.Fatalf("expected no cap, got %d", len(got))
	}
	if got := Cap(all, 10); len(got) != 4 {
		t.Fatalf("expected all 4, got %d", len(got))
	}
	got := Cap(all, 2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("expected first two in order, got %+v", got)
	}
}
