package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/job"
)

type emailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := job.NewRegistry()

	var got emailArgs
	def := job.NewDefinition("send-email", func(_ context.Context, a emailArgs) (any, error) {
		got = a
		return nil, nil
	})

	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	h, ok := r.Resolve("send-email")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	args, _ := json.Marshal(emailArgs{To: "alice@example.com", Subject: "Hello"})
	result, err := h(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("result = %q, want nil", result)
	}
	if got.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", got.To, "alice@example.com")
	}
	if got.Subject != "Hello" {
		t.Errorf("Subject = %q, want %q", got.Subject, "Hello")
	}
}

func TestRegistry_HandlerResultEncoded(t *testing.T) {
	r := job.NewRegistry()

	def := job.NewDefinition("echo", func(_ context.Context, a map[string]int) (any, error) {
		return a, nil
	})
	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	h, _ := r.Resolve("echo")
	result, err := h(context.Background(), []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"x":1}` {
		t.Errorf("result = %q, want %q", result, `{"x":1}`)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := job.NewRegistry()
	_, ok := r.Resolve("nonexistent")
	if ok {
		t.Fatal("expected no handler for unregistered job")
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := job.NewRegistry()
	h := func(context.Context, []byte) ([]byte, error) { return nil, nil }

	if err := r.Register("once", h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("once", h); !errors.Is(err, hoist.ErrDuplicateHandler) {
		t.Fatalf("expected ErrDuplicateHandler, got %v", err)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := job.NewRegistry()
	h := func(context.Context, []byte) ([]byte, error) { return nil, nil }

	if err := r.Register("temp", h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Unregister("temp")
	if _, ok := r.Resolve("temp"); ok {
		t.Fatal("handler still resolvable after Unregister")
	}

	// Unregistering an unknown type is a no-op.
	r.Unregister("never-registered")
}

func TestRegistry_TypesSorted(t *testing.T) {
	r := job.NewRegistry()
	h := func(context.Context, []byte) ([]byte, error) { return nil, nil }

	for _, typ := range []string{"job-c", "job-a", "job-b"} {
		if err := r.Register(typ, h); err != nil {
			t.Fatalf("Register %q: %v", typ, err)
		}
	}

	want := []string{"job-a", "job-b", "job-c"}
	if got := r.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}

func TestRegistry_DefinitionDefaults(t *testing.T) {
	r := job.NewRegistry()

	def := job.NewDefinition("report", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}, job.WithQueue("reports"), job.WithPriority(job.PriorityLow), job.WithMaxRetries(1), job.WithTimeout(time.Minute))

	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	opts, ok := r.Defaults("report")
	if !ok {
		t.Fatal("expected defaults for registered type")
	}
	if opts.Queue != "reports" {
		t.Errorf("Queue = %q, want %q", opts.Queue, "reports")
	}
	if opts.Priority != job.PriorityLow {
		t.Errorf("Priority = %v, want %v", opts.Priority, job.PriorityLow)
	}
	if opts.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want 1", opts.MaxRetries)
	}
	if opts.Timeout != time.Minute {
		t.Errorf("Timeout = %v, want %v", opts.Timeout, time.Minute)
	}
}

func TestRegistry_BadArgsDecode(t *testing.T) {
	r := job.NewRegistry()
	def := job.NewDefinition("typed", func(_ context.Context, _ emailArgs) (any, error) {
		return nil, nil
	})
	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	h, _ := r.Resolve("typed")
	if _, err := h(context.Background(), []byte(`{not json`)); err == nil {
		t.Fatal("expected decode error for malformed args")
	}
}
