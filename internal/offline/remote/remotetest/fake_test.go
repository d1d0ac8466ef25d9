package remotetest

import (
	"context"
	"errors"
	"testing"

	"github.com/motogarage/garage/internal/offline/schema"
)

func TestGatewayCRUD(t *testing.T) {
	g := New()
	jobs := g.Collection(schema.KindJob)
	ctx := context.Background()

	created, err := jobs.Create(ctx, map[string]any{"title": "oil"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.ID != "job-1" {
		t.Errorf("Create() id = %q, want job-1", created.ID)
	}

	if _, err := jobs.Update(ctx, created.ID, map[string]any{"title": "oil+filter"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	rec, ok := g.Find(schema.KindJob, created.ID)
	if !ok || rec.Fields["title"] != "oil+filter" {
		t.Errorf("Find() = %+v, %v", rec, ok)
	}

	if _, err := jobs.Update(ctx, "job-404", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}

	if err := jobs.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := jobs.Delete(ctx, created.ID); err != nil {
		t.Errorf("second Delete() = %v, want nil", err)
	}
	if n := len(g.Records(schema.KindJob)); n != 0 {
		t.Errorf("Records() len = %d, want 0", n)
	}

	if got := len(g.Calls()); got != 5 {
		t.Errorf("Calls() len = %d, want 5", got)
	}
}

func TestGatewayFailureInjection(t *testing.T) {
	g := New()
	g.Seed(schema.KindCustomer, schema.NewRecord("c-7", map[string]any{"name": "Ana"}))
	customers := g.Collection(schema.KindCustomer)
	ctx := context.Background()

	boom := errors.New("boom")
	g.FailOn(OpUpdate, schema.KindCustomer, "c-7", boom)

	if _, err := customers.Update(ctx, "c-7", map[string]any{"name": "X"}); !errors.Is(err, boom) {
		t.Errorf("Update() = %v, want injected error", err)
	}
	if err := customers.Delete(ctx, "c-7"); err != nil {
		t.Errorf("Delete() = %v, want nil", err)
	}

	g.SetDown(true)
	if _, err := customers.GetAll(ctx); !errors.Is(err, ErrUnreachable) {
		t.Errorf("GetAll() while down = %v, want ErrUnreachable", err)
	}
	g.SetDown(false)

	g.FailOn(OpUpdate, schema.KindCustomer, "c-7", nil)
	g.FailOn(OpCreate, schema.KindCustomer, "", boom)
	if _, err := customers.Create(ctx, nil); !errors.Is(err, boom) {
		t.Errorf("Create() with kind-wide rule = %v, want injected error", err)
	}
	g.ClearFailures()
	if _, err := customers.Create(ctx, nil); err != nil {
		t.Errorf("Create() after ClearFailures = %v", err)
	}
}

func TestGatewayIDFuncAndHook(t *testing.T) {
	g := New()
	g.SetIDFunc(func(kind schema.Kind, seq int) string { return "job-9f2" })

	var seen []string
	g.SetHook(func(c Call) { seen = append(seen, c.String()) })

	rec, err := g.Collection(schema.KindJob).Create(context.Background(), map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if rec.ID != "job-9f2" {
		t.Errorf("Create() id = %q, want job-9f2", rec.ID)
	}
	if len(seen) != 1 || seen[0] != "create job" {
		t.Errorf("hook saw %v", seen)
	}
}
