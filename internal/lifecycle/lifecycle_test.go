package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lotas/studzo/internal/types"
)

type query struct {
	Query string
}

type fakeBackend struct {
	calls     atomic.Int32
	responses map[string]string
	failures  map[string]error
}

func (f *fakeBackend) call(_ context.Context, in query) ([]byte, error) {
	f.calls.Add(1)
	if err := f.failures[in.Query]; err != nil {
		return nil, err
	}
	return []byte(f.responses[in.Query]), nil
}

func requireQuery(in query) error {
	if in.Query == "" {
		return errors.New("query is required")
	}
	return nil
}

// do dispatches in, runs the call and applies its completion.
func do(lc *Lifecycle[query, map[string]any], in query) (Snapshot[query, map[string]any], error) {
	req, err := lc.Dispatch(in)
	if err != nil {
		return lc.Snapshot(), err
	}
	req.Run(context.Background()).Apply()
	return lc.Snapshot(), nil
}

func newTestLifecycle(b *fakeBackend) *Lifecycle[query, map[string]any] {
	return New(Options[query, map[string]any]{
		Name:     "test",
		Call:     b.call,
		Validate: requireQuery,
	})
}

func TestDispatchRejectedByValidation(t *testing.T) {
	b := &fakeBackend{}
	lc := newTestLifecycle(b)

	req, err := lc.Dispatch(query{Query: ""})
	if req != nil {
		t.Fatal("expected no request for rejected input")
	}
	if types.KindOf(err) != types.KindValidationRejected {
		t.Fatalf("err = %v, want ValidationRejected", err)
	}
	if got := lc.Status(); got != types.StatusIdle {
		t.Errorf("status = %v, want idle", got)
	}
	if n := b.calls.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestDispatchFencedSuccess(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{
		"offer": "```json\n{\"risk_level\":\"High\"}\n```",
	}}
	lc := newTestLifecycle(b)

	req, err := lc.Dispatch(query{Query: "offer"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := lc.Status(); got != types.StatusPending {
		t.Fatalf("status after dispatch = %v, want pending", got)
	}
	if !req.Run(context.Background()).Apply() {
		t.Fatal("completion was discarded")
	}

	snap := lc.Snapshot()
	if snap.Status != types.StatusSuccess {
		t.Fatalf("status = %v, want success (err %v)", snap.Status, snap.Err)
	}
	if diff := cmp.Diff(map[string]any{"risk_level": "High"}, snap.Result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if snap.Input.Query != "offer" {
		t.Errorf("input = %+v", snap.Input)
	}
	if n := b.calls.Load(); n != 1 {
		t.Errorf("network calls = %d, want 1", n)
	}
}

func TestLateStaleResponseIsDiscarded(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{
		"first":  `{"answer":"first"}`,
		"second": `{"answer":"second"}`,
	}}
	lc := newTestLifecycle(b)

	reqA, _ := lc.Dispatch(query{Query: "first"})
	reqB, _ := lc.Dispatch(query{Query: "second"})
	if reqA.Token() != 1 || reqB.Token() != 2 {
		t.Fatalf("tokens = %d, %d; want 1, 2", reqA.Token(), reqB.Token())
	}

	doneA := reqA.Run(context.Background())
	doneB := reqB.Run(context.Background())

	if !doneB.Apply() {
		t.Fatal("latest completion was discarded")
	}
	if doneA.Apply() {
		t.Fatal("stale completion was applied")
	}

	snap := lc.Snapshot()
	if snap.Status != types.StatusSuccess || snap.Result["answer"] != "second" {
		t.Errorf("final state = %v %v, want success/second", snap.Status, snap.Result)
	}
}

func TestEarlyStaleResponseIsDiscarded(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{
		"first":  `{"answer":"first"}`,
		"second": `{"answer":"second"}`,
	}}
	lc := newTestLifecycle(b)

	reqA, _ := lc.Dispatch(query{Query: "first"})
	reqB, _ := lc.Dispatch(query{Query: "second"})

	if reqA.Run(context.Background()).Apply() {
		t.Fatal("superseded completion was applied")
	}
	if got := lc.Status(); got != types.StatusPending {
		t.Fatalf("status = %v, want still pending", got)
	}
	reqB.Run(context.Background()).Apply()
	if got := lc.Snapshot().Result["answer"]; got != "second" {
		t.Errorf("answer = %v, want second", got)
	}
}

func TestResetDiscardsInFlight(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{"q": `{"ok":true}`}}
	lc := newTestLifecycle(b)

	req, _ := lc.Dispatch(query{Query: "q"})
	done := req.Run(context.Background())
	lc.Reset()

	if done.Apply() {
		t.Fatal("completion applied after reset")
	}
	snap := lc.Snapshot()
	if snap.Status != types.StatusIdle || snap.Result != nil || snap.Err != nil {
		t.Errorf("state after reset = %+v, want idle", snap)
	}
}

func TestTransportFailureReplacesSuccess(t *testing.T) {
	b := &fakeBackend{
		responses: map[string]string{"good": `{"ok":true}`},
		failures:  map[string]error{"bad": errors.New("connection refused")},
	}
	lc := newTestLifecycle(b)

	if _, err := do(lc, query{Query: "good"}); err != nil {
		t.Fatalf("do: %v", err)
	}
	snap, err := do(lc, query{Query: "bad"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if snap.Status != types.StatusError {
		t.Fatalf("status = %v, want error", snap.Status)
	}
	if snap.Err.Kind != types.KindTransportFailure {
		t.Errorf("kind = %v, want transport failure", snap.Err.Kind)
	}
	if snap.Result != nil {
		t.Errorf("previous result kept: %v", snap.Result)
	}
}

func TestMalformedResponse(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{"q": "I am not JSON"}}
	lc := newTestLifecycle(b)

	snap, _ := do(lc, query{Query: "q"})
	if snap.Status != types.StatusError || snap.Err.Kind != types.KindMalformedResponse {
		t.Fatalf("state = %v %v, want malformed error", snap.Status, snap.Err)
	}
	if snap.Err.Raw != "I am not JSON" {
		t.Errorf("raw = %q", snap.Err.Raw)
	}
}

func TestRunIssuesOneCall(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{"q": `{}`}}
	lc := newTestLifecycle(b)

	req, _ := lc.Dispatch(query{Query: "q"})
	first := req.Run(context.Background())
	second := req.Run(context.Background())
	if first != second {
		t.Error("Run returned different completions")
	}
	if n := b.calls.Load(); n != 1 {
		t.Errorf("network calls = %d, want 1", n)
	}
	if !first.Apply() {
		t.Fatal("first apply discarded")
	}
	if second.Apply() {
		t.Error("second apply of the same completion should be discarded")
	}
}

func TestRetry(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{"q": `{"n":1}`}}
	lc := newTestLifecycle(b)

	if _, err := lc.Retry(); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("Retry before dispatch: %v", err)
	}
	do(lc, query{Query: "q"})
	req, err := lc.Retry()
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if req.Input().Query != "q" || req.Token() != 2 {
		t.Errorf("retry request = %+v token %d", req.Input(), req.Token())
	}
}

func TestHooks(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{"q": `{"n":1}`}}
	var changes int
	var applied []Applied
	lc := New(Options[query, map[string]any]{
		Name:     "hooks",
		Call:     b.call,
		OnChange: func() { changes++ },
		OnApply:  func(a Applied) { applied = append(applied, a) },
	})

	do(lc, query{Query: "q"})
	if changes != 2 {
		t.Errorf("changes = %d, want 2 (pending, success)", changes)
	}
	if len(applied) != 1 || applied[0].Status != types.StatusSuccess || applied[0].Name != "hooks" {
		t.Errorf("applied = %+v", applied)
	}
	if string(applied[0].Raw) != `{"n":1}` {
		t.Errorf("raw = %q", applied[0].Raw)
	}
}
