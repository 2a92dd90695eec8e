package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"trendcast/internal/audience"
	"trendcast/internal/domain"
	"trendcast/internal/providers/intercom"
)

func startMock(t *testing.T, cfg config) (*server, *intercom.Client) {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "tok"
	}
	s := newServer(normalize(cfg), time.Now())
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)

	c, err := intercom.New(intercom.Options{Token: cfg.Token, AdminID: "admin1", BaseURL: srv.URL, PageSize: 25})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return s, c
}

func TestListAllEveryCursorShape(t *testing.T) {
	for _, shape := range []string{"absolute", "relative", "object", "object_relative", "mixed"} {
		t.Run(shape, func(t *testing.T) {
			// 100 contacts, every 4th a lead
			_, c := startMock(t, config{Contacts: 100, LeadEvery: 4, CursorShape: shape})
			got, err := c.ListAllRecipients(context.Background())
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 75 {
				t.Fatalf("expected 75 users, got %d", len(got))
			}
			seen := map[string]bool{}
			for _, r := range got {
				if seen[r.ID] {
					t.Fatalf("duplicate recipient %s", r.ID)
				}
				seen[r.ID] = true
			}
		})
	}
}

func TestActiveAudienceThroughMock(t *testing.T) {
	_, c := startMock(t, config{Contacts: 60, ActiveEvery: 3, HasSegment: true})
	r := &audience.Resolver{Platform: c}

	res, err := r.ResolveActive(context.Background(), 30)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Strategy != "segment" || len(res.Recipients) != 20 {
		t.Fatalf("expected 20 via segment, got %d via %s", len(res.Recipients), res.Strategy)
	}
}

func TestActiveAudienceFallsBackToLastSeen(t *testing.T) {
	_, c := startMock(t, config{Contacts: 60, ActiveEvery: 3, HasSegment: false})
	r := &audience.Resolver{Platform: c}

	res, err := r.ResolveActive(context.Background(), 30)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Strategy != "last_seen" || len(res.Recipients) != 20 {
		t.Fatalf("expected 20 via last_seen, got %d via %s", len(res.Recipients), res.Strategy)
	}
}

func TestSendFailureInjection(t *testing.T) {
	s, c := startMock(t, config{Contacts: 1, SendFailIDsRaw: "bad", SendFailStatus: 503})
	ctx := context.Background()

	if _, err := c.SendToOne(ctx, "good", "<p>hi</p>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err := c.SendToOne(ctx, "bad", "<p>hi</p>")
	var se *domain.SendError
	if !errors.As(err, &se) || se.StatusCode != 503 || se.RecipientID != "bad" {
		t.Fatalf("expected injected 503 SendError, got %v", err)
	}
	if s.sent.Load() != 1 || s.failed.Load() != 1 {
		t.Fatalf("unexpected stats sent=%d failed=%d", s.sent.Load(), s.failed.Load())
	}
}

func TestRejectsBadToken(t *testing.T) {
	s := newServer(normalize(config{Token: "right", Contacts: 3}), time.Now())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	c, _ := intercom.New(intercom.Options{Token: "wrong", AdminID: "a", BaseURL: srv.URL})
	_, err := c.ListAllRecipients(context.Background())
	var te *domain.TransportError
	if !errors.As(err, &te) || te.StatusCode != 401 {
		t.Fatalf("expected 401 transport error, got %v", err)
	}
}
