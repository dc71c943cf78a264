package enrollment

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/user"
)

var (
	// errors
	ErrEnrollmentNotFound = core.NewNotFoundError("enrollment")
	ErrProgressNotFound   = core.NewNotFoundError("chapter progress")
	ErrAlreadyEnrolled    = core.NewConflictError("already enrolled in this course")
	ErrNoChapters         = core.NewConflictError("this course has no chapters yet")

	NowFunc = time.Now // mockable

	dashboardConcurrency = 8
)

type (
	// Repository is the persistence gateway of enrollments, payments & chapter progress.
	Repository interface {
		// Atomic runs fn within a single transaction: every write done through the Repository
		// passed to fn is committed when fn returns nil, and rolled back otherwise.
		Atomic(ctx context.Context, fn func(repo Repository) error) error

		GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error)
		// CreateEnrollment returns ErrAlreadyEnrolled if the user is already enrolled in the course.
		CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		ListUserEnrollments(ctx context.Context, userID string) ([]Enrollment, error)

		CreatePayment(ctx context.Context, p Payment) (Payment, error)
		ListCompletedPayments(ctx context.Context, courseIDs ...string) ([]Payment, error)

		// ListCourseChapterIDs returns the IDs of every chapter of a course, published or not.
		ListCourseChapterIDs(ctx context.Context, courseID string) ([]string, error)

		// SeedProgress inserts the given rows, skipping those whose (user, chapter) pair already has one.
		SeedProgress(ctx context.Context, progress ...ChapterProgress) error
		GetProgress(ctx context.Context, userID, chapterID string) (ChapterProgress, error)
		UpdateProgress(ctx context.Context, p ChapterProgress) (ChapterProgress, error)
		CountCompletedChapters(ctx context.Context, userID string, chapterIDs ...string) (int, error)
	}

	// Catalog gives read access to courses & chapters.
	Catalog interface {
		GetCourse(ctx context.Context, id string) (course.Course, error)
		GetChapter(ctx context.Context, id string) (course.Chapter, error)
		ListChapters(ctx context.Context, courseID string, publishedOnly bool) ([]course.Chapter, error)
		GetVideo(ctx context.Context, chapterID string) (course.Video, error)
		QueryCourses(ctx context.Context, filter course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error)
	}

	UserFinder interface {
		GetUserByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo    Repository
		catalog Catalog
		users   UserFinder
		mailSvc core.EmailService
		logger  core.Logger
	}
)

func NewService(
	repo Repository,
	catalog Catalog,
	users UserFinder,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		users:   users,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func newProgress(userID, chapterID string, now time.Time) ChapterProgress {
	return ChapterProgress{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChapterID: chapterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// getCourseChapter returns a chapter along with its course, checking that it belongs to it.
func (svc *Service) getCourseChapter(ctx context.Context, courseID, chapterID string) (course.Course, course.Chapter, error) {
	ch, err := svc.catalog.GetChapter(ctx, chapterID)
	if err != nil {
		return course.Course{}, course.Chapter{}, err
	}
	if ch.CourseID != courseID {
		return course.Course{}, course.Chapter{}, course.ErrChapterNotFound
	}
	c, err := svc.catalog.GetCourse(ctx, courseID)
	return c, ch, err
}

func (svc *Service) isEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	_, err := svc.repo.GetEnrollment(ctx, userID, courseID)
	switch errors.Cause(err) {
	case nil:
		return true, nil
	case ErrEnrollmentNotFound:
		return false, nil
	default:
		return false, errors.Wrap(err, "getting enrollment")
	}
}

// hasAccess is the access rule: the user is enrolled in the chapter's course, or the chapter is free.
func (svc *Service) hasAccess(ctx context.Context, userID string, ch course.Chapter) (bool, error) {
	if ch.IsFree {
		return true, nil
	}
	return svc.isEnrolled(ctx, userID, ch.CourseID)
}

// Enroll enrolls the caller in a course, recording their payment & seeding their progress
// on every chapter in one transaction.
// A course price that cannot be resolved records a FAILED payment; the enrollment still proceeds.
func (svc *Service) Enroll(ctx context.Context, caller user.Caller, courseID string) (Enrollment, error) {
	if !caller.IsAuthenticated() {
		return Enrollment{}, core.ErrUnauthenticated
	}
	c, err := svc.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if !c.IsPublished() && !course.CanManage(caller, c) {
		return Enrollment{}, course.ErrCourseNotFound
	}

	payment := Payment{
		ID:       uuid.NewString(),
		UserID:   caller.UserID,
		CourseID: courseID,
		Status:   PaymentFailed,
	}
	if c.Price != nil {
		payment.Amount = *c.Price
		payment.Status = PaymentCompleted
	}

	var enrollment Enrollment
	err = svc.repo.Atomic(ctx, func(repo Repository) error {
		_, err := repo.GetEnrollment(ctx, caller.UserID, courseID)
		switch errors.Cause(err) {
		case nil:
			return ErrAlreadyEnrolled
		case ErrEnrollmentNotFound:
		default:
			return errors.Wrap(err, "getting enrollment")
		}

		chapterIDs, err := repo.ListCourseChapterIDs(ctx, courseID)
		if err != nil {
			return errors.Wrap(err, "listing course chapters")
		}
		if len(chapterIDs) == 0 {
			return ErrNoChapters
		}

		now := NowFunc().UTC()
		payment.CreatedAt = now
		if payment, err = repo.CreatePayment(ctx, payment); err != nil {
			return errors.Wrap(err, "creating payment")
		}

		enrollment, err = repo.CreateEnrollment(ctx, Enrollment{
			ID:        uuid.NewString(),
			UserID:    caller.UserID,
			CourseID:  courseID,
			CreatedAt: now,
		})
		if err != nil {
			if errors.Cause(err) == ErrAlreadyEnrolled {
				return err
			}
			return errors.Wrap(err, "creating enrollment")
		}

		progress := make([]ChapterProgress, 0, len(chapterIDs))
		for _, chID := range chapterIDs {
			progress = append(progress, newProgress(caller.UserID, chID, now))
		}
		return errors.Wrap(repo.SeedProgress(ctx, progress...), "seeding chapter progress")
	})
	if err != nil {
		return Enrollment{}, err
	}

	if payment.Status == PaymentFailed {
		svc.logger.Warn(fmt.Sprintf("enrollment %s: price of course %s unresolved, payment %s recorded as failed",
			enrollment.ID, courseID, payment.ID))
	}
	svc.sendEnrollmentMail(ctx, caller.UserID, c)
	return enrollment, nil
}

// HasAccess decides whether the caller may watch a chapter of a course.
// Anonymous callers never have access.
func (svc *Service) HasAccess(ctx context.Context, caller user.Caller, courseID, chapterID string) (bool, error) {
	if !caller.IsAuthenticated() {
		return false, nil
	}
	ch, err := svc.catalog.GetChapter(ctx, chapterID)
	if err != nil {
		return false, err
	}
	if ch.CourseID != courseID {
		return false, course.ErrChapterNotFound
	}
	return svc.hasAccess(ctx, caller.UserID, ch)
}

func (svc *Service) HasEnrolled(ctx context.Context, caller user.Caller, courseID string) (bool, error) {
	if !caller.IsAuthenticated() {
		return false, nil
	}
	return svc.isEnrolled(ctx, caller.UserID, courseID)
}

// ViewChapter returns a chapter as seen by the caller & seeds their progress on it.
// Only the published chapters of published courses are visible, except to the course managers.
func (svc *Service) ViewChapter(ctx context.Context, caller user.Caller, courseID, chapterID string) (ChapterView, error) {
	c, ch, err := svc.getCourseChapter(ctx, courseID, chapterID)
	if err != nil {
		return ChapterView{}, err
	}
	manager := course.CanManage(caller, c)
	if !manager {
		if !c.IsPublished() {
			return ChapterView{}, course.ErrCourseNotFound
		}
		if !ch.IsPublished() {
			return ChapterView{}, course.ErrChapterNotFound
		}
	}

	view := ChapterView{Chapter: ch, Course: c}
	if caller.IsAuthenticated() {
		if view.IsEnrolled, err = svc.isEnrolled(ctx, caller.UserID, courseID); err != nil {
			return ChapterView{}, err
		}
	}
	// free chapters are only previewed by signed-in users
	view.HasAccess = caller.IsAuthenticated() && (view.IsEnrolled || ch.IsFree)

	if view.HasAccess || manager {
		video, err := svc.catalog.GetVideo(ctx, chapterID)
		switch errors.Cause(err) {
		case nil:
			view.Video = &video
		case course.ErrVideoNotFound:
		default:
			return ChapterView{}, errors.Wrap(err, "getting chapter video")
		}
	}

	chapters, err := svc.catalog.ListChapters(ctx, courseID, !manager)
	if err != nil {
		return ChapterView{}, errors.Wrap(err, "listing chapters")
	}
	for i := range chapters {
		if chapters[i].Position > ch.Position {
			next := chapters[i]
			view.NextChapter = &next
			break
		}
	}

	if view.HasAccess {
		progress, err := svc.seedProgress(ctx, caller.UserID, chapterID)
		if err != nil {
			return ChapterView{}, err
		}
		view.Progress = &progress
	}
	return view, nil
}

// EnsureProgressSeed creates the caller's progress on a chapter if it does not exist yet.
func (svc *Service) EnsureProgressSeed(ctx context.Context, caller user.Caller, chapterID string) (ChapterProgress, error) {
	if !caller.IsAuthenticated() {
		return ChapterProgress{}, core.ErrUnauthenticated
	}
	ch, err := svc.catalog.GetChapter(ctx, chapterID)
	if err != nil {
		return ChapterProgress{}, err
	}
	access, err := svc.hasAccess(ctx, caller.UserID, ch)
	if err != nil {
		return ChapterProgress{}, err
	}
	if !access {
		return ChapterProgress{}, core.ErrPermissionDenied
	}
	return svc.seedProgress(ctx, caller.UserID, chapterID)
}

func (svc *Service) seedProgress(ctx context.Context, userID, chapterID string) (ChapterProgress, error) {
	var progress ChapterProgress
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		if err := repo.SeedProgress(ctx, newProgress(userID, chapterID, NowFunc().UTC())); err != nil {
			return errors.Wrap(err, "seeding chapter progress")
		}
		var err error
		progress, err = repo.GetProgress(ctx, userID, chapterID)
		return err
	})
	return progress, err
}

// MarkChapterComplete completes the caller's progress on a chapter they have access to.
// Completing an already completed chapter is a no-op.
func (svc *Service) MarkChapterComplete(ctx context.Context, caller user.Caller, courseID, chapterID string) (ChapterProgress, error) {
	if !caller.IsAuthenticated() {
		return ChapterProgress{}, core.ErrUnauthenticated
	}
	ch, err := svc.catalog.GetChapter(ctx, chapterID)
	if err != nil {
		return ChapterProgress{}, err
	}
	if ch.CourseID != courseID {
		return ChapterProgress{}, course.ErrChapterNotFound
	}
	access, err := svc.hasAccess(ctx, caller.UserID, ch)
	if err != nil {
		return ChapterProgress{}, err
	}
	if !access {
		return ChapterProgress{}, core.ErrPermissionDenied
	}

	var progress ChapterProgress
	err = svc.repo.Atomic(ctx, func(repo Repository) error {
		var err error
		if progress, err = repo.GetProgress(ctx, caller.UserID, chapterID); err != nil {
			return err
		}
		if progress.IsCompleted {
			return nil
		}
		progress.IsCompleted = true
		progress.UpdatedAt = NowFunc().UTC()
		progress, err = repo.UpdateProgress(ctx, progress)
		return errors.Wrap(err, "updating chapter progress")
	})
	return progress, err
}

// CourseCompletion returns the percentage (0-100) of the published chapters of a course the caller completed.
func (svc *Service) CourseCompletion(ctx context.Context, caller user.Caller, courseID string) (int, error) {
	if !caller.IsAuthenticated() {
		return 0, core.ErrUnauthenticated
	}
	if _, err := svc.catalog.GetCourse(ctx, courseID); err != nil {
		return 0, err
	}
	chapters, err := svc.catalog.ListChapters(ctx, courseID, true)
	if err != nil {
		return 0, errors.Wrap(err, "listing published chapters")
	}
	return svc.completion(ctx, caller.UserID, chapters)
}

func (svc *Service) completion(ctx context.Context, userID string, published []course.Chapter) (int, error) {
	if len(published) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(published))
	for _, ch := range published {
		ids = append(ids, ch.ID)
	}
	done, err := svc.repo.CountCompletedChapters(ctx, userID, ids...)
	if err != nil {
		return 0, errors.Wrap(err, "counting completed chapters")
	}
	return int(math.Round(float64(done) / float64(len(published)) * 100)), nil
}

// Dashboard splits the courses the caller is enrolled in between completed & in progress ones.
func (svc *Service) Dashboard(ctx context.Context, caller user.Caller) (Dashboard, error) {
	if !caller.IsAuthenticated() {
		return Dashboard{}, core.ErrUnauthenticated
	}
	enrollments, err := svc.repo.ListUserEnrollments(ctx, caller.UserID)
	if err != nil {
		return Dashboard{}, errors.Wrap(err, "listing enrollments")
	}

	results := make([]*CourseProgress, len(enrollments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dashboardConcurrency)
	for i, e := range enrollments {
		i, e := i, e
		g.Go(func() error {
			c, err := svc.catalog.GetCourse(gctx, e.CourseID)
			if err != nil {
				if core.IsNotFound(err) {
					return nil
				}
				return errors.Wrap(err, "getting course")
			}
			chapters, err := svc.catalog.ListChapters(gctx, e.CourseID, true)
			if err != nil {
				return errors.Wrap(err, "listing published chapters")
			}
			pct, err := svc.completion(gctx, caller.UserID, chapters)
			if err != nil {
				return err
			}
			results[i] = &CourseProgress{Course: c, Chapters: chapters, Completion: pct}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return Dashboard{}, err
	}

	dash := Dashboard{Completed: []CourseProgress{}, InProgress: []CourseProgress{}}
	for _, cp := range results {
		if cp == nil {
			continue
		}
		if cp.Completion == 100 {
			dash.Completed = append(dash.Completed, *cp)
		} else {
			dash.InProgress = append(dash.InProgress, *cp)
		}
	}
	return dash, nil
}

// InstructorAnalytics sums the completed payments of each course the caller owns.
func (svc *Service) InstructorAnalytics(ctx context.Context, caller user.Caller) (Analytics, error) {
	if !caller.IsAuthenticated() {
		return Analytics{}, core.ErrUnauthenticated
	}
	if !caller.CanTeach() {
		return Analytics{}, core.ErrPermissionDenied
	}

	courses, err := svc.catalog.QueryCourses(
		ctx,
		course.QueryFilter{OwnerID: caller.UserID},
		[]core.DBOrdering{{Field: "created_at", Ascending: true}},
	)
	if err != nil {
		return Analytics{}, errors.Wrap(err, "querying owned courses")
	}
	stats := Analytics{Courses: make([]CourseSales, 0, len(courses))}
	if len(courses) == 0 {
		return stats, nil
	}

	ids := make([]string, 0, len(courses))
	byCourse := make(map[string]int, len(courses)) // {courseID: index in stats.Courses}
	for i, c := range courses {
		ids = append(ids, c.ID)
		byCourse[c.ID] = i
		stats.Courses = append(stats.Courses, CourseSales{CourseID: c.ID, Title: c.Title})
	}

	payments, err := svc.repo.ListCompletedPayments(ctx, ids...)
	if err != nil {
		return Analytics{}, errors.Wrap(err, "listing completed payments")
	}
	for _, p := range payments {
		i, ok := byCourse[p.CourseID]
		if !ok {
			continue
		}
		stats.Courses[i].Revenue += p.Amount
		stats.Courses[i].Sales++
		stats.TotalRevenue += p.Amount
		stats.TotalSales++
	}
	return stats, nil
}

func (svc *Service) sendEnrollmentMail(ctx context.Context, userID string, c course.Course) {
	usr, err := svc.users.GetUserByID(ctx, userID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("enrollment email: getting user %s: %v", userID, err), err)
		return
	}
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Enrollment confirmed",
		TemplateName: "enrollment_confirmation",
		TemplateData: map[string]interface{}{
			"Name":        usr.Name,
			"CourseID":    c.ID,
			"CourseTitle": c.Title,
		},
	})
}
