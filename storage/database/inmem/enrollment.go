package inmemdb

import (
	"context"
	"sort"

	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/enrollment"
)

type enrollmentRepository struct {
	s session
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{s: session{db: db}}
}

func (repo *enrollmentRepository) Atomic(ctx context.Context, fn func(repo enrollment.Repository) error) error {
	return repo.s.atomic(ctx, func(tx session) error {
		return fn(&enrollmentRepository{s: tx})
	})
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, userID, courseID string) (e enrollment.Enrollment, err error) {
	err = repo.s.read(func(t *tables) error {
		for _, en := range t.enrollments {
			if en.UserID == userID && en.CourseID == courseID {
				e = en
				return nil
			}
		}
		return enrollment.ErrEnrollmentNotFound
	})
	return e, err
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	err := repo.s.write(func(t *tables) error {
		if _, ok := t.courses[e.CourseID]; !ok {
			return course.ErrCourseNotFound
		}
		for _, en := range t.enrollments {
			if en.UserID == e.UserID && en.CourseID == e.CourseID {
				return enrollment.ErrAlreadyEnrolled
			}
		}
		t.enrollments[e.ID] = e
		return nil
	})
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	return e, nil
}

func (repo *enrollmentRepository) ListUserEnrollments(_ context.Context, userID string) ([]enrollment.Enrollment, error) {
	enrollments := make([]enrollment.Enrollment, 0)
	err := repo.s.read(func(t *tables) error {
		for _, e := range t.enrollments {
			if e.UserID == userID {
				enrollments = append(enrollments, e)
			}
		}
		return nil
	})
	sort.SliceStable(enrollments, func(i, j int) bool {
		return enrollments[i].CreatedAt.After(enrollments[j].CreatedAt)
	})
	return enrollments, err
}

func (repo *enrollmentRepository) CreatePayment(_ context.Context, p enrollment.Payment) (enrollment.Payment, error) {
	err := repo.s.write(func(t *tables) error {
		t.payments[p.ID] = p
		return nil
	})
	return p, err
}

func (repo *enrollmentRepository) ListCompletedPayments(_ context.Context, courseIDs ...string) ([]enrollment.Payment, error) {
	wanted := make(map[string]struct{}, len(courseIDs))
	for _, id := range courseIDs {
		wanted[id] = struct{}{}
	}
	payments := make([]enrollment.Payment, 0)
	err := repo.s.read(func(t *tables) error {
		for _, p := range t.payments {
			if _, ok := wanted[p.CourseID]; ok && p.Status == enrollment.PaymentCompleted {
				payments = append(payments, p)
			}
		}
		return nil
	})
	sort.SliceStable(payments, func(i, j int) bool { return payments[i].CreatedAt.Before(payments[j].CreatedAt) })
	return payments, err
}

func (repo *enrollmentRepository) ListCourseChapterIDs(_ context.Context, courseID string) ([]string, error) {
	chapters := make([]course.Chapter, 0)
	err := repo.s.read(func(t *tables) error {
		for _, ch := range t.chapters {
			if ch.CourseID == courseID {
				chapters = append(chapters, ch)
			}
		}
		return nil
	})
	course.SortChapters(chapters)
	ids := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		ids = append(ids, ch.ID)
	}
	return ids, err
}

func (repo *enrollmentRepository) SeedProgress(_ context.Context, progress ...enrollment.ChapterProgress) error {
	return repo.s.write(func(t *tables) error {
		existing := make(map[[2]string]struct{}, len(t.progress))
		for _, p := range t.progress {
			existing[[2]string{p.UserID, p.ChapterID}] = struct{}{}
		}
		for _, p := range progress {
			key := [2]string{p.UserID, p.ChapterID}
			if _, ok := existing[key]; ok {
				continue
			}
			t.progress[p.ID] = p
			existing[key] = struct{}{}
		}
		return nil
	})
}

func (repo *enrollmentRepository) GetProgress(_ context.Context, userID, chapterID string) (p enrollment.ChapterProgress, err error) {
	err = repo.s.read(func(t *tables) error {
		for _, cp := range t.progress {
			if cp.UserID == userID && cp.ChapterID == chapterID {
				p = cp
				return nil
			}
		}
		return enrollment.ErrProgressNotFound
	})
	return p, err
}

func (repo *enrollmentRepository) UpdateProgress(_ context.Context, p enrollment.ChapterProgress) (enrollment.ChapterProgress, error) {
	err := repo.s.write(func(t *tables) error {
		orig, ok := t.progress[p.ID]
		if !ok {
			return enrollment.ErrProgressNotFound
		}
		orig.IsCompleted = p.IsCompleted
		orig.UpdatedAt = p.UpdatedAt
		t.progress[p.ID] = orig
		p = orig
		return nil
	})
	if err != nil {
		return enrollment.ChapterProgress{}, err
	}
	return p, nil
}

func (repo *enrollmentRepository) CountCompletedChapters(_ context.Context, userID string, chapterIDs ...string) (count int, err error) {
	wanted := make(map[string]struct{}, len(chapterIDs))
	for _, id := range chapterIDs {
		wanted[id] = struct{}{}
	}
	err = repo.s.read(func(t *tables) error {
		for _, p := range t.progress {
			if _, ok := wanted[p.ChapterID]; ok && p.UserID == userID && p.IsCompleted {
				count++
			}
		}
		return nil
	})
	return count, err
}
