package failure_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"casiel/internal/failure"
	"casiel/internal/logging"
	"casiel/internal/services"
)

const workQueue = "audio_processing_queue"

type fakeDelivery struct {
	headers    amqp.Table
	publishErr error
	events     []string
}

func withDeaths(count int64) *fakeDelivery {
	if count == 0 {
		return &fakeDelivery{}
	}
	return &fakeDelivery{headers: amqp.Table{"x-death": []any{amqp.Table{"queue": workQueue, "count": count}}}}
}

func (d *fakeDelivery) Body() []byte        { return []byte("{}") }
func (d *fakeDelivery) Headers() amqp.Table { return d.headers }
func (d *fakeDelivery) MessageID() string   { return "" }

func (d *fakeDelivery) Ack() error {
	d.events = append(d.events, "ack")
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	d.events = append(d.events, fmt.Sprintf("nack(requeue=%t)", requeue))
	return nil
}

func (d *fakeDelivery) PublishFinal(context.Context) error {
	if d.publishErr != nil {
		d.events = append(d.events, "publish_final_failed")
		return d.publishErr
	}
	d.events = append(d.events, "publish_final")
	return nil
}

type fakeStatus struct {
	err      error
	calls    int
	id       int64
	payload  map[string]any
	recorder *[]string
}

func (s *fakeStatus) UpdateContent(_ context.Context, id int64, payload map[string]any) error {
	s.calls++
	s.id = id
	s.payload = payload
	if s.recorder != nil {
		*s.recorder = append(*s.recorder, "update")
	}
	return s.err
}

func newGovernor(t *testing.T, status *fakeStatus) *failure.Governor {
	t.Helper()
	g, err := failure.New(status, failure.Config{WorkQueue: workQueue}, logging.NewNop())
	if err != nil {
		t.Fatalf("failure.New: %v", err)
	}
	return g
}

func equalEvents(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestDecide(t *testing.T) {
	g := newGovernor(t, &fakeStatus{})
	cases := []struct {
		retries int
		final   bool
		want    failure.Action
	}{
		{0, false, failure.ActionRetry},
		{2, false, failure.ActionRetry},
		{3, false, failure.ActionDeadLetter},
		{7, false, failure.ActionDeadLetter},
		{0, true, failure.ActionDeadLetter},
	}
	for _, tc := range cases {
		if got := g.Decide(tc.retries, tc.final); got != tc.want {
			t.Fatalf("Decide(%d, %t) = %s, want %s", tc.retries, tc.final, got, tc.want)
		}
	}
}

func TestHandleRetriesBelowLimit(t *testing.T) {
	for _, deaths := range []int64{0, 1, 2} {
		status := &fakeStatus{}
		g := newGovernor(t, status)
		d := withDeaths(deaths)
		cleaned := false

		action := g.Handle(context.Background(), d, 5, errors.New("media fetch failed"), false, func() { cleaned = true })

		if action != failure.ActionRetry {
			t.Fatalf("deaths=%d: expected retry, got %s", deaths, action)
		}
		if !cleaned {
			t.Fatal("cleanup must run")
		}
		if !equalEvents(d.events, []string{"nack(requeue=false)"}) {
			t.Fatalf("deaths=%d: unexpected events %v", deaths, d.events)
		}
		if status.calls != 0 {
			t.Fatal("status must not be written on retry")
		}
	}
}

func TestHandleDeadLettersAtLimit(t *testing.T) {
	var order []string
	status := &fakeStatus{recorder: &order}
	g := newGovernor(t, status)
	d := withDeaths(3)

	action := g.Handle(context.Background(), d, 5, errors.New("media fetch failed"), false, nil)

	if action != failure.ActionDeadLetter {
		t.Fatalf("expected dead letter, got %s", action)
	}
	order = append(order, d.events...)
	if !equalEvents(order, []string{"update", "publish_final", "ack"}) {
		t.Fatalf("unexpected order %v", order)
	}
	data := status.payload["content_data"].(map[string]any)
	if status.id != 5 || data["casiel_status"] != "failed" || data["casiel_error"] != "media fetch failed" {
		t.Fatalf("unexpected status payload id=%d %v", status.id, status.payload)
	}
}

func TestHandleStatusWriteFailureDoesNotBlock(t *testing.T) {
	status := &fakeStatus{err: errors.New("api down")}
	g := newGovernor(t, status)
	d := withDeaths(4)

	g.Handle(context.Background(), d, 5, errors.New("boom"), false, nil)

	if !equalEvents(d.events, []string{"publish_final", "ack"}) {
		t.Fatalf("unexpected events %v", d.events)
	}
}

func TestHandleFinalSkipsRetry(t *testing.T) {
	status := &fakeStatus{}
	g := newGovernor(t, status)
	d := withDeaths(0)

	g.Handle(context.Background(), d, 0, errors.New("bad payload"), true, nil)

	if !equalEvents(d.events, []string{"publish_final", "ack"}) {
		t.Fatalf("unexpected events %v", d.events)
	}
	if status.calls != 0 {
		t.Fatal("no status write without a content id")
	}
}

func TestHandleMalformedErrorIsFinal(t *testing.T) {
	status := &fakeStatus{}
	g := newGovernor(t, status)
	d := withDeaths(0)

	err := services.Wrap(services.ErrMalformed, "creative", "decode", "model returned no JSON", nil)
	if action := g.Handle(context.Background(), d, 9, err, false, nil); action != failure.ActionDeadLetter {
		t.Fatalf("expected dead letter, got %s", action)
	}
	if status.calls != 1 {
		t.Fatalf("expected status write, got %d", status.calls)
	}
}

func TestHandlePublishFailureFallsBackToNack(t *testing.T) {
	g := newGovernor(t, &fakeStatus{})
	d := withDeaths(3)
	d.publishErr = errors.New("channel closed")

	g.Handle(context.Background(), d, 5, errors.New("boom"), false, nil)

	if !equalEvents(d.events, []string{"publish_final_failed", "nack(requeue=false)"}) {
		t.Fatalf("unexpected events %v", d.events)
	}
}

func TestDeathsOnOtherQueuesIgnored(t *testing.T) {
	g := newGovernor(t, &fakeStatus{})
	d := &fakeDelivery{headers: amqp.Table{"x-death": []any{amqp.Table{"queue": "casiel_audio_retry_queue", "count": int64(5)}}}}

	if action := g.Handle(context.Background(), d, 5, errors.New("boom"), false, nil); action != failure.ActionRetry {
		t.Fatalf("expected retry, got %s", action)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := failure.New(nil, failure.Config{WorkQueue: workQueue}, nil); err == nil {
		t.Fatal("expected error without status writer")
	}
	if _, err := failure.New(&fakeStatus{}, failure.Config{}, nil); err == nil {
		t.Fatal("expected error without work queue")
	}
}
