package tracing

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

type stepRecord struct {
	taskID string
	what   string
	time   float64
}

// SQLiteTracer writes completed tasks and their steps into a SQLite
// database. Records are buffered and written in batches.
type SQLiteTracer struct {
	*sql.DB

	lock          sync.Mutex
	filter        TaskFilter
	dbName        string
	inflightTasks map[string]Task
	tasksToWrite  []Task
	stepsToWrite  []stepRecord
	batchSize     int
}

// NewSQLiteTracer creates a new SQLiteTracer. The database file is named
// path + ".sqlite3". If path is empty, a unique name is generated. The
// buffered records are flushed when the program exits through atexit.
func NewSQLiteTracer(path string, filter TaskFilter) *SQLiteTracer {
	t := &SQLiteTracer{
		dbName:        path,
		filter:        filter,
		inflightTasks: make(map[string]Task),
		batchSize:     100000,
	}

	atexit.Register(func() { _ = t.Flush() })

	return t
}

// WithBatchSize sets the number of buffered records that trigger a flush.
func (t *SQLiteTracer) WithBatchSize(n int) *SQLiteTracer {
	t.batchSize = n
	return t
}

// FileName returns the name of the database file.
func (t *SQLiteTracer) FileName() string {
	return t.dbName + ".sqlite3"
}

// Init creates the database and the tables.
func (t *SQLiteTracer) Init() error {
	if t.dbName == "" {
		t.dbName = "linecache_trace_" + xid.New().String()
	}

	filename := t.FileName()
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return err
	}

	t.DB = db

	return t.createTables()
}

func (t *SQLiteTracer) createTables() error {
	stmts := []string{
		`create table trace
		(
			task_id    varchar(200) not null,
			parent_id  varchar(200),
			kind       varchar(100),
			what       varchar(100),
			location   varchar(100),
			start_time float not null,
			end_time   float default 0,
			err        text
		);`,
		`create index trace_task_id_index on trace (task_id);`,
		`create index trace_kind_index on trace (kind);`,
		`create index trace_start_time_index on trace (start_time);`,
		`create table step
		(
			task_id varchar(200) not null,
			what    varchar(100),
			time    float
		);`,
		`create index step_task_id_index on step (task_id);`,
	}

	for _, s := range stmts {
		if _, err := t.Exec(s); err != nil {
			return fmt.Errorf("creating trace tables: %w", err)
		}
	}

	return nil
}

// StartTask remembers the task until it ends.
func (t *SQLiteTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask buffers the step of a tracked task.
func (t *SQLiteTracer) StepTask(task Task) {
	t.lock.Lock()

	if _, ok := t.inflightTasks[task.ID]; !ok {
		t.lock.Unlock()
		return
	}

	for _, s := range task.Steps {
		t.stepsToWrite = append(t.stepsToWrite, stepRecord{
			taskID: task.ID,
			what:   s.What,
			time:   toSeconds(s.Time),
		})
	}

	full := t.bufferFull()
	t.lock.Unlock()

	if full {
		_ = t.Flush()
	}
}

// EndTask buffers the completed task.
func (t *SQLiteTracer) EndTask(task Task) {
	t.lock.Lock()

	original, ok := t.inflightTasks[task.ID]
	if !ok {
		t.lock.Unlock()
		return
	}

	delete(t.inflightTasks, task.ID)
	original.EndTime = task.EndTime
	original.Err = task.Err
	t.tasksToWrite = append(t.tasksToWrite, original)

	full := t.bufferFull()
	t.lock.Unlock()

	if full {
		_ = t.Flush()
	}
}

func (t *SQLiteTracer) bufferFull() bool {
	return len(t.tasksToWrite)+len(t.stepsToWrite) >= t.batchSize
}

// Flush writes all the buffered records to the database.
func (t *SQLiteTracer) Flush() error {
	t.lock.Lock()
	tasks := t.tasksToWrite
	steps := t.stepsToWrite
	t.tasksToWrite = nil
	t.stepsToWrite = nil
	t.lock.Unlock()

	if t.DB == nil || (len(tasks) == 0 && len(steps) == 0) {
		return nil
	}

	tx, err := t.Begin()
	if err != nil {
		return err
	}

	if err := insertTasks(tx, tasks); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := insertSteps(tx, steps); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func insertTasks(tx *sql.Tx, tasks []Task) error {
	stmt, err := tx.Prepare(`INSERT INTO trace VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, task := range tasks {
		_, err := stmt.Exec(
			task.ID,
			task.ParentID,
			task.Kind,
			task.What,
			task.Where,
			toSeconds(task.StartTime),
			toSeconds(task.EndTime),
			task.Err,
		)
		if err != nil {
			return fmt.Errorf("inserting task %s: %w", task.ID, err)
		}
	}

	return nil
}

func insertSteps(tx *sql.Tx, steps []stepRecord) error {
	stmt, err := tx.Prepare(`INSERT INTO step VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range steps {
		if _, err := stmt.Exec(s.taskID, s.what, s.time); err != nil {
			return fmt.Errorf("inserting step of task %s: %w", s.taskID, err)
		}
	}

	return nil
}

// Close flushes the buffered records and closes the database.
func (t *SQLiteTracer) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}

	if t.DB == nil {
		return nil
	}

	return t.DB.Close()
}

func toSeconds(tm time.Time) float64 {
	return float64(tm.UnixNano()) / 1e9
}
