package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresEntries(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register(jobA, time.Hour)
	registry.Register(jobB, 24*time.Hour)
	entries := registry.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Job != jobA || entries[1].Job != jobB {
		t.Fatalf("entries returned out of order")
	}
	if entries[1].Every != 24*time.Hour {
		t.Fatalf("unexpected interval %s", entries[1].Every)
	}
	entries[0].Job = nil
	if registry.Entries()[0].Job == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistrySkipsInvalidEntries(t *testing.T) {
	registry := NewRegistry(
		Entry{Job: nil, Every: time.Hour},
		Entry{Job: &stubJob{name: "never"}, Every: 0},
		Entry{Job: &stubJob{name: "ok"}, Every: time.Minute},
	)
	entries := registry.Entries()
	if len(entries) != 1 || entries[0].Job.Name() != "ok" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
