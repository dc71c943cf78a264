package inmemdb

import (
	"context"
	"sync"

	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/enrollment"
	"github.com/learnplus/learnplus/core/user"
)

type (
	// DB is an in-memory database. Transactions are serialized: a transaction works on a copy of
	// the tables that replaces them on commit.
	DB struct {
		mutex sync.RWMutex
		data  *tables
	}

	tables struct {
		users       map[string]user.User
		courses     map[string]course.Course // tags included
		chapters    map[string]course.Chapter
		videos      map[string]course.Video
		enrollments map[string]enrollment.Enrollment
		payments    map[string]enrollment.Payment
		progress    map[string]enrollment.ChapterProgress
	}
)

func Open() *DB {
	return &DB{data: newTables()}
}

func newTables() *tables {
	return &tables{
		users:       make(map[string]user.User),
		courses:     make(map[string]course.Course),
		chapters:    make(map[string]course.Chapter),
		videos:      make(map[string]course.Video),
		enrollments: make(map[string]enrollment.Enrollment),
		payments:    make(map[string]enrollment.Payment),
		progress:    make(map[string]enrollment.ChapterProgress),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.users {
		v.Roles = copyStrings(v.Roles)
		c.users[k] = v
	}
	for k, v := range t.courses {
		v.Tags = copyStrings(v.Tags)
		c.courses[k] = v
	}
	for k, v := range t.chapters {
		c.chapters[k] = v
	}
	for k, v := range t.videos {
		c.videos[k] = v
	}
	for k, v := range t.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.progress {
		c.progress[k] = v
	}
	return c
}

// Reset drops every row (tests).
func (db *DB) Reset() {
	db.mutex.Lock()
	db.data = newTables()
	db.mutex.Unlock()
}

// session is the connection shared by the repositories: either the DB itself, or an open transaction.
type session struct {
	db *DB
	tx *tables
}

func (s session) read(fn func(t *tables) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()
	return fn(s.db.data)
}

func (s session) write(fn func(t *tables) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()
	return fn(s.db.data)
}

// atomic runs fn on a copy of the tables, which replaces them only if fn succeeds.
// Nested calls join the current transaction.
func (s session) atomic(ctx context.Context, fn func(tx session) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	tx := session{db: s.db, tx: s.db.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.db.data = tx.tx
	return nil
}

func copyStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	return append(make([]string, 0, len(ss)), ss...)
}
