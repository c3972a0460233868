package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/probelab/scrutiny/broker"
	"github.com/probelab/scrutiny/dbopen"
	"github.com/probelab/scrutiny/evidence"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	db := dbopen.OpenMemory(t)
	b, err := broker.New(db, broker.Options{
		Visibility:   5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func runBroker(t *testing.T, b *broker.Broker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorkerStoresEvidence(t *testing.T) {
	b := newTestBroker(t)

	var stored []evidence.Item
	sink := func(ctx context.Context, items ...evidence.Item) error {
		stored = append(stored, items...)
		return nil
	}

	h := HandlerFunc(func(ctx context.Context, task *Task) (*Outcome, error) {
		if task.Company != "acme" {
			t.Errorf("company = %q", task.Company)
		}
		task.Progress(50)
		return &Outcome{
			Evidence: []evidence.Item{{ID: "e1", Company: task.Company, Type: "page"}},
			Summary:  "1 page crawled",
			Errors:   []string{"pricing path timed out"},
		}, nil
	})

	b.Register(broker.TypeCrawl, 1, Worker(b, h, sink))
	runBroker(t, b)

	ctx := context.Background()
	cfg, _ := EncodeConfig(CrawlConfig{Company: "acme", Depth: 1})
	id, err := b.Submit(ctx, broker.TypeCrawl, "https://acme.test", "crawl", cfg)
	if err != nil {
		t.Fatal(err)
	}

	job, err := b.AwaitCompletion(ctx, id, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != broker.StatusSucceeded {
		t.Fatalf("status = %s", job.Status)
	}

	var res Result
	if err := json.Unmarshal(job.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.EvidenceCount != 1 || res.Summary != "1 page crawled" {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("sub-step errors lost: %+v", res)
	}
	if len(stored) != 1 || stored[0].ID != "e1" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestWorkerSinkFailureFailsJob(t *testing.T) {
	b := newTestBroker(t)

	sink := func(ctx context.Context, items ...evidence.Item) error {
		return errors.New("disk full")
	}
	h := HandlerFunc(func(ctx context.Context, task *Task) (*Outcome, error) {
		return &Outcome{Evidence: []evidence.Item{{ID: "e1"}}}, nil
	})

	b.Register(broker.TypeCrawl, 1, Worker(b, h, sink))
	runBroker(t, b)

	ctx := context.Background()
	id, _ := b.Submit(ctx, broker.TypeCrawl, "https://acme.test", "", nil)
	job, err := b.AwaitCompletion(ctx, id, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != broker.StatusFailed {
		t.Fatalf("status = %s, want failed when evidence cannot be stored", job.Status)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	raw, err := EncodeConfig(DiscoverConfig{Company: "acme", Mode: "technical_docs", Depth: 2})
	if err != nil {
		t.Fatal(err)
	}
	var cfg DiscoverConfig
	if err := DecodeConfig(raw, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "technical_docs" || cfg.Depth != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestConfigFor(t *testing.T) {
	if _, ok := ConfigFor(broker.TypeCrawl).(*CrawlConfig); !ok {
		t.Fatal("crawl")
	}
	if _, ok := ConfigFor(broker.TypeDiscovery).(*DiscoverConfig); !ok {
		t.Fatal("discovery")
	}
	if ConfigFor(broker.JobType("bogus")) != nil {
		t.Fatal("unknown type must return nil")
	}
}
