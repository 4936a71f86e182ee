package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
)

func TestStore_SaveGetList(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		rec := &domain.InvocationRecord{
			ID:        id,
			Mount:     "/m",
			Mode:      domain.ModeInvoke,
			Status:    domain.InvocationCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveInvocation(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.GetInvocation(ctx, "b")
	if err != nil || got.ID != "b" {
		t.Fatalf("GetInvocation() = %+v, %v", got, err)
	}
	got.Mount = "mutated"
	if again, _ := store.GetInvocation(ctx, "b"); again.Mount != "/m" {
		t.Error("GetInvocation returned shared state")
	}

	list, err := store.ListInvocations(ctx, ports.InvocationListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("list = %+v, want c, b", list)
	}

	if list, _ := store.ListInvocations(ctx, ports.InvocationListOptions{Offset: 5}); len(list) != 0 {
		t.Errorf("offset past end = %+v", list)
	}
}

func TestStore_NotFound(t *testing.T) {
	_, err := New().GetInvocation(context.Background(), "nope")
	if !errors.Is(err, ports.ErrInvocationNotFound) {
		t.Errorf("error = %v, want ErrInvocationNotFound", err)
	}
}

func TestStore_EvictsOldest(t *testing.T) {
	store := NewWithCapacity(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		store.SaveInvocation(ctx, &domain.InvocationRecord{ID: id, CreatedAt: time.Now()})
	}

	if _, err := store.GetInvocation(ctx, "a"); err == nil {
		t.Error("oldest record was not evicted")
	}
	if _, err := store.GetInvocation(ctx, "c"); err != nil {
		t.Errorf("newest record missing: %v", err)
	}
}
