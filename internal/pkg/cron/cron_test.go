package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunRecordsStatus(t *testing.T) {
	s := New(nil)
	s.Register(Job{Name: "ok", Interval: time.Hour, Fn: func(context.Context) error { return nil }})
	s.Register(Job{Name: "fail", Interval: time.Hour, Fn: func(context.Context) error { return errors.New("boom") }})
	s.Register(Job{Name: "panic", Interval: time.Hour, Fn: func(context.Context) error { panic("oops") }})

	if err := s.Run(context.Background(), "ok"); err != nil {
		t.Fatalf("Run(ok) error = %v", err)
	}
	if err := s.Run(context.Background(), "fail"); err == nil {
		t.Fatal("Run(fail) error = nil")
	}
	if err := s.Run(context.Background(), "panic"); err == nil {
		t.Fatal("Run(panic) error = nil")
	}
	if err := s.Run(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Run(missing) error = %v, want ErrJobNotFound", err)
	}

	want := map[string]JobStatus{"ok": StatusFulfill, "fail": StatusReject, "panic": StatusReject}
	items := s.List()
	if len(items) != 3 {
		t.Fatalf("List() len = %d, want 3", len(items))
	}
	for _, item := range items {
		if item.Status != want[item.Name] {
			t.Errorf("%s status = %s, want %s", item.Name, item.Status, want[item.Name])
		}
		if item.LastRunAt == nil {
			t.Errorf("%s LastRunAt = nil", item.Name)
		}
	}
	if items[0].Name != "fail" || items[2].Name != "panic" {
		t.Errorf("List() not sorted: %v", items)
	}
}

func TestServeRunsOnInterval(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	s.Register(Job{Name: "tick", Interval: 10 * time.Millisecond, Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Serve() error = %v, want deadline exceeded", err)
	}
	if runs.Load() < 2 {
		t.Errorf("runs = %d, want >= 2", runs.Load())
	}
}
