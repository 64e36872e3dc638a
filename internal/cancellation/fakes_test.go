package cancellation_test

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	contententity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/content/entity"
	queueentity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/queue/entity"
	userentity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/entity"
)

type fakeAccounts struct {
	mu       sync.Mutex
	users    map[string]userentity.User
	failGet  error
	failSave error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{users: map[string]userentity.User{}}
}

func (f *fakeAccounts) add(id, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := id
	u := userentity.User{ID: id, Username: &name, Status: userentity.StatusActive, UserType: userentity.TypeMember}
	if email != "" {
		u.Email = &email
	}
	f.users[id] = u
}

func (f *fakeAccounts) get(id string) (userentity.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	return u, ok
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*userentity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (f *fakeAccounts) SaveDeletionState(ctx context.Context, u *userentity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	if _, ok := f.users[u.ID]; !ok {
		return sql.ErrNoRows
	}
	f.users[u.ID] = *u
	return nil
}

func (f *fakeAccounts) DeletePending(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.PendingDeletionAt == 0 {
		return false, nil
	}
	delete(f.users, id)
	return true, nil
}

func (f *fakeAccounts) ListPendingDeletion(ctx context.Context) ([]*userentity.User, error) {
	return f.filter(func(u userentity.User) bool { return u.PendingDeletionAt > 0 }), nil
}

func (f *fakeAccounts) ListOverdue(ctx context.Context, now int64) ([]*userentity.User, error) {
	return f.filter(func(u userentity.User) bool { return u.PendingDeletionAt > 0 && u.PendingDeletionAt <= now }), nil
}

func (f *fakeAccounts) filter(keep func(userentity.User) bool) []*userentity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*userentity.User{}
	for _, u := range f.users {
		if keep(u) {
			u := u
			out = append(out, &u)
		}
	}
	// map order is random; the service must sort
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeContent struct {
	mu        sync.Mutex
	items     map[contententity.Kind]map[string]string // id -> author
	failFind  error
	panicFind bool
}

func newFakeContent() *fakeContent {
	return &fakeContent{items: map[contententity.Kind]map[string]string{
		contententity.KindNode:    {},
		contententity.KindComment: {},
	}}
}

func (f *fakeContent) add(k contententity.Kind, author string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.items[k][fmt.Sprintf("%s-%s-%d", k, author, len(f.items[k]))] = author
	}
}

func (f *fakeContent) count(k contententity.Kind, author string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.items[k] {
		if a == author {
			n++
		}
	}
	return n
}

func (f *fakeContent) FindAuthoredBy(ctx context.Context, authorID string, k contententity.Kind) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicFind {
		panic("content store exploded")
	}
	if f.failFind != nil {
		return nil, f.failFind
	}
	ids := []string{}
	for id, a := range f.items[k] {
		if a == authorID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeContent) DeleteMany(ctx context.Context, k contententity.Kind, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := f.items[k][id]; ok {
			delete(f.items[k], id)
			n++
		}
	}
	return n, nil
}

type fakeQueue struct {
	mu          sync.Mutex
	seq         int
	tasks       []queueentity.DeletionTask
	failEnqueue error
}

func (f *fakeQueue) Enqueue(ctx context.Context, t *queueentity.DeletionTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnqueue != nil {
		return f.failEnqueue
	}
	f.seq++
	t.ID = fmt.Sprintf("task-%d", f.seq)
	f.tasks = append(f.tasks, *t)
	return nil
}

func (f *fakeQueue) HasTask(ctx context.Context, subjectID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.SubjectID == subjectID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeQueue) Available(ctx context.Context, now int64, limit uint64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := []string{}
	for _, t := range f.tasks {
		if t.LeasedUntil <= now && (limit == 0 || uint64(len(ids)) < limit) {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func (f *fakeQueue) Lease(ctx context.Context, ids []string, now, until int64) ([]queueentity.DeletionTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []queueentity.DeletionTask{}
	for _, id := range ids {
		for i := range f.tasks {
			if f.tasks[i].ID == id && f.tasks[i].LeasedUntil <= now {
				f.tasks[i].LeasedUntil = until
				out = append(out, f.tasks[i])
			}
		}
	}
	return out, nil
}

func (f *fakeQueue) Ack(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove(id)
	return nil
}

func (f *fakeQueue) Requeue(ctx context.Context, t queueentity.DeletionTask, now int64) (queueentity.DeletionTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove(t.ID)
	f.seq++
	c := queueentity.DeletionTask{ID: fmt.Sprintf("task-%d", f.seq), SubjectID: t.SubjectID, ScheduledAt: t.ScheduledAt, EnqueuedAt: now}
	f.tasks = append(f.tasks, c)
	return c, nil
}

func (f *fakeQueue) remove(id string) {
	for i, t := range f.tasks {
		if t.ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return
		}
	}
}

func (f *fakeQueue) snapshot() []queueentity.DeletionTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queueentity.DeletionTask(nil), f.tasks...)
}
