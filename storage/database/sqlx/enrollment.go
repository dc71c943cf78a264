package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/enrollment"
)

const (
	enrollmentColumns = `id, user_id, course_id, created_at`
	paymentColumns    = `id, user_id, course_id, amount, status, created_at`
	progressColumns   = `id, user_id, chapter_id, is_completed, created_at, updated_at`
)

type enrollmentRepository struct {
	s session
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *sqlx.DB) enrollment.Repository {
	return &enrollmentRepository{s: session{db: db}}
}

func (repo *enrollmentRepository) Atomic(ctx context.Context, fn func(repo enrollment.Repository) error) error {
	return repo.s.atomic(ctx, func(tx session) error {
		return fn(&enrollmentRepository{s: tx})
	})
}

func (repo *enrollmentRepository) GetEnrollment(ctx context.Context, userID, courseID string) (enrollment.Enrollment, error) {
	if !isUUID(userID) || !isUUID(courseID) {
		return enrollment.Enrollment{}, enrollment.ErrEnrollmentNotFound
	}
	var e enrollment.Enrollment
	q := `SELECT ` + enrollmentColumns + ` FROM enrollment WHERE user_id = $1 AND course_id = $2`
	if err := repo.s.exec().QueryRowxContext(ctx, q, userID, courseID).Scan(&e.ID, &e.UserID, &e.CourseID, &e.CreatedAt); err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrEnrollmentNotFound, "getting enrollment")
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (repo *enrollmentRepository) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	if !isUUID(e.CourseID) {
		return enrollment.Enrollment{}, course.ErrCourseNotFound
	}
	e.CreatedAt = e.CreatedAt.UTC()
	q := `INSERT INTO enrollment (` + enrollmentColumns + `) VALUES ($1, $2, $3, $4)`
	if _, err := repo.s.exec().ExecContext(ctx, q, e.ID, e.UserID, e.CourseID, e.CreatedAt); err != nil {
		switch {
		case isConstraintViolation(err, uniqueViolation, "enrollment_user_id_course_id_key"):
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		case isConstraintViolation(err, foreignKeyViolation, "enrollment_course_id_fkey"):
			return enrollment.Enrollment{}, course.ErrCourseNotFound
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return e, nil
}

func (repo *enrollmentRepository) ListUserEnrollments(ctx context.Context, userID string) ([]enrollment.Enrollment, error) {
	enrollments := make([]enrollment.Enrollment, 0)
	if !isUUID(userID) {
		return enrollments, nil
	}
	q := `SELECT ` + enrollmentColumns + ` FROM enrollment WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := repo.s.exec().QueryxContext(ctx, q, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing enrollments")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var e enrollment.Enrollment
		if err = rows.Scan(&e.ID, &e.UserID, &e.CourseID, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning enrollment")
		}
		e.CreatedAt = e.CreatedAt.UTC()
		enrollments = append(enrollments, e)
	}
	return enrollments, errors.Wrap(rows.Err(), "listing enrollments")
}

func (repo *enrollmentRepository) CreatePayment(ctx context.Context, p enrollment.Payment) (enrollment.Payment, error) {
	p.CreatedAt = p.CreatedAt.UTC()
	q := `INSERT INTO payment (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := repo.s.exec().ExecContext(ctx, q, p.ID, p.UserID, p.CourseID, p.Amount, p.Status, p.CreatedAt); err != nil {
		return enrollment.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return p, nil
}

func (repo *enrollmentRepository) ListCompletedPayments(ctx context.Context, courseIDs ...string) ([]enrollment.Payment, error) {
	payments := make([]enrollment.Payment, 0)
	q := `SELECT ` + paymentColumns + ` FROM payment
		WHERE course_id = ANY($1::uuid[]) AND status = $2 ORDER BY created_at`
	rows, err := repo.s.exec().QueryxContext(ctx, q, uuids(courseIDs), enrollment.PaymentCompleted)
	if err != nil {
		return nil, errors.Wrap(err, "listing completed payments")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var p enrollment.Payment
		if err = rows.Scan(&p.ID, &p.UserID, &p.CourseID, &p.Amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning payment")
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	return payments, errors.Wrap(rows.Err(), "listing completed payments")
}

func (repo *enrollmentRepository) ListCourseChapterIDs(ctx context.Context, courseID string) ([]string, error) {
	ids := make([]string, 0)
	if !isUUID(courseID) {
		return ids, nil
	}
	q := `SELECT id FROM chapter WHERE course_id = $1 ORDER BY position`
	if err := repo.s.exec().SelectContext(ctx, &ids, q, courseID); err != nil {
		return nil, errors.Wrap(err, "listing course chapters")
	}
	return ids, nil
}

func (repo *enrollmentRepository) SeedProgress(ctx context.Context, progress ...enrollment.ChapterProgress) error {
	q := `INSERT INTO chapter_progress (` + progressColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, chapter_id) DO NOTHING`
	for _, p := range progress {
		_, err := repo.s.exec().ExecContext(ctx, q,
			p.ID, p.UserID, p.ChapterID, p.IsCompleted, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			if isConstraintViolation(err, foreignKeyViolation, "chapter_progress_chapter_id_fkey") {
				return course.ErrChapterNotFound
			}
			return errors.Wrap(err, "seeding chapter progress")
		}
	}
	return nil
}

func (repo *enrollmentRepository) GetProgress(ctx context.Context, userID, chapterID string) (enrollment.ChapterProgress, error) {
	if !isUUID(userID) || !isUUID(chapterID) {
		return enrollment.ChapterProgress{}, enrollment.ErrProgressNotFound
	}
	var p enrollment.ChapterProgress
	q := `SELECT ` + progressColumns + ` FROM chapter_progress WHERE user_id = $1 AND chapter_id = $2`
	err := repo.s.exec().QueryRowxContext(ctx, q, userID, chapterID).
		Scan(&p.ID, &p.UserID, &p.ChapterID, &p.IsCompleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return enrollment.ChapterProgress{}, trapNoRowsErr(err, enrollment.ErrProgressNotFound, "getting chapter progress")
	}
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return p, nil
}

func (repo *enrollmentRepository) UpdateProgress(ctx context.Context, p enrollment.ChapterProgress) (enrollment.ChapterProgress, error) {
	if !isUUID(p.ID) {
		return enrollment.ChapterProgress{}, enrollment.ErrProgressNotFound
	}
	q := `UPDATE chapter_progress SET is_completed = $1, updated_at = $2 WHERE id = $3`
	res, err := repo.s.exec().ExecContext(ctx, q, p.IsCompleted, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return enrollment.ChapterProgress{}, errors.Wrap(err, "updating chapter progress")
	}
	if err = checkRowsAffected(res, enrollment.ErrProgressNotFound, "updating chapter progress"); err != nil {
		return enrollment.ChapterProgress{}, err
	}
	return repo.GetProgress(ctx, p.UserID, p.ChapterID)
}

func (repo *enrollmentRepository) CountCompletedChapters(ctx context.Context, userID string, chapterIDs ...string) (int, error) {
	if !isUUID(userID) {
		return 0, nil
	}
	var count int
	q := `SELECT COUNT(*) FROM chapter_progress
		WHERE user_id = $1 AND chapter_id = ANY($2::uuid[]) AND is_completed`
	if err := repo.s.exec().GetContext(ctx, &count, q, userID, uuids(chapterIDs)); err != nil {
		return 0, errors.Wrap(err, "counting completed chapters")
	}
	return count, nil
}
