package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// ErrInvalidName is returned for run names that cannot form a store key.
var ErrInvalidName = errors.New("invalid resource name")

// Runs gives typed access to Run records kept in a Store.
type Runs struct {
	s Store
}

// NewRuns wraps s.
func NewRuns(s Store) *Runs {
	return &Runs{s: s}
}

// Store returns the underlying store.
func (r *Runs) Store() Store {
	return r.s
}

// Key returns the store key of the named run.
func (r *Runs) Key(name string) string {
	return ResourceKey(v1.KindRun, name)
}

// Create fills in type metadata, a UID, timestamps, a generated name when
// none is given, and the Pending phase when no phase is set, then stores run.
func (r *Runs) Create(run *v1.Run) error {
	id := uuid.New().String()
	if run.Metadata.Name == "" {
		run.Metadata.Name = "run-" + id[:8]
	}
	if err := validName(run.Metadata.Name); err != nil {
		return err
	}

	now := time.Now().UTC()
	run.APIVersion = v1.APIVersion
	run.Kind = v1.KindRun
	run.Metadata.UID = id
	run.Metadata.CreatedAt = now
	run.Metadata.UpdatedAt = now
	if run.Status.Phase == "" {
		run.Status.Phase = v1.RunPending
	}

	if err := r.s.Create(r.Key(run.Metadata.Name), run); err != nil {
		return fmt.Errorf("create run %s: %w", run.Metadata.Name, err)
	}
	return nil
}

// Get loads the named run.
func (r *Runs) Get(name string) (*v1.Run, error) {
	var run v1.Run
	if err := r.s.Get(r.Key(name), &run); err != nil {
		return nil, fmt.Errorf("get run %s: %w", name, err)
	}
	return &run, nil
}

// Update stores run, stamping UpdatedAt.
func (r *Runs) Update(run *v1.Run) error {
	run.Metadata.UpdatedAt = time.Now().UTC()
	if err := r.s.Update(r.Key(run.Metadata.Name), run); err != nil {
		return fmt.Errorf("update run %s: %w", run.Metadata.Name, err)
	}
	return nil
}

// Delete removes the named run.
func (r *Runs) Delete(name string) error {
	if err := r.s.Delete(r.Key(name)); err != nil {
		return fmt.Errorf("delete run %s: %w", name, err)
	}
	return nil
}

// List returns every run, oldest first.
func (r *Runs) List() ([]*v1.Run, error) {
	items, err := r.s.List(KindPrefix(v1.KindRun), func() interface{} { return &v1.Run{} })
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]*v1.Run, 0, len(items))
	for _, item := range items {
		runs = append(runs, item.(*v1.Run))
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Metadata.CreatedAt.Before(runs[j].Metadata.CreatedAt)
	})
	return runs, nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/ \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
