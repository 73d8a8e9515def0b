package remote

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/retcon/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

// Task is one server-side entity.
type Task struct {
	ID     string
	Title  string
	Status string
}

// TaskDB is a sqlite-backed task service. It stands in for the remote
// API in the demo: every write is an independent last-writer-wins
// upsert per entity, and failures can be injected to trigger the
// engine's rollback path.
type TaskDB struct {
	db *sql.DB

	mu       sync.Mutex
	failLeft int
	failErr  error
}

// Open creates or opens the task database at path. ":memory:" gives a
// throwaway instance for tests.
//
// The database is configured with WAL mode, NORMAL synchronous mode, a
// 5-second busy timeout, and a single connection (sqlite allows one
// writer at a time).
func Open(path string) (*TaskDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect task db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &TaskDB{db: db}, nil
}

// Close closes the database.
func (t *TaskDB) Close() error {
	return t.db.Close()
}

// FailNext makes the next n writes reject with err instead of touching
// the database.
func (t *TaskDB) FailNext(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failLeft = n
	t.failErr = err
}

// injected pops one injected failure, if armed.
func (t *TaskDB) injected() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failLeft > 0 {
		t.failLeft--
		if t.failErr != nil {
			return t.failErr
		}
		return errors.New("injected remote failure")
	}
	return nil
}

// PutTask upserts a task. Duplicate ids overwrite: last writer wins.
func (t *TaskDB) PutTask(ctx context.Context, task Task) error {
	if err := t.injected(); err != nil {
		return err
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, task.ID, task.Title, task.Status)
	if err != nil {
		return fmt.Errorf("put task %s: %w", task.ID, err)
	}
	return nil
}

// DeleteTask removes a task. Deleting a missing id is a no-op - the
// remote is idempotent per entity.
func (t *TaskDB) DeleteTask(ctx context.Context, id string) error {
	if err := t.injected(); err != nil {
		return err
	}
	_, err := t.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// GetTask reads a task back. The second result is false when the id is
// unknown.
func (t *TaskDB) GetTask(ctx context.Context, id string) (Task, bool, error) {
	var task Task
	err := t.db.QueryRowContext(ctx, `
		SELECT id, title, status FROM tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.Title, &task.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, true, nil
}

// ListTasks returns every task ordered by id.
func (t *TaskDB) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id, title, status FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var task Task
		if err := rows.Scan(&task.ID, &task.Title, &task.Status); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// PutRemote returns a RemoteFunc that upserts the task when dispatched.
func (t *TaskDB) PutRemote(task Task) engine.RemoteFunc {
	return func(ctx context.Context) error {
		return t.PutTask(ctx, task)
	}
}

// DeleteRemote returns a RemoteFunc that deletes the task when
// dispatched.
func (t *TaskDB) DeleteRemote(id string) engine.RemoteFunc {
	return func(ctx context.Context) error {
		return t.DeleteTask(ctx, id)
	}
}
