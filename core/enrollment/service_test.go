package enrollment_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/enrollment"
	"github.com/learnplus/learnplus/core/user"
	appfs "github.com/learnplus/learnplus/fs"
	emailsvc "github.com/learnplus/learnplus/services/email"
	logsvc "github.com/learnplus/learnplus/services/logger"
	inmemdb "github.com/learnplus/learnplus/storage/database/inmem"
	testutil "github.com/learnplus/learnplus/tests"
)

type testEnv struct {
	ctx     context.Context
	courses course.Repository
	repo    enrollment.Repository
	mailSvc *emailsvc.ConsoleServiceMock
	svc     *enrollment.Service

	owner, other, admin, student, student2 user.User
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := &core.Config{TestMode: true, AppName: "LearnPlus", FrontendBaseURL: "http://learnplus.test"}
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	require.NoError(t, core.ParseEmailTemplates(appfs.FS, true, logger))

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	env := &testEnv{
		ctx:     context.Background(),
		courses: inmemdb.NewCourseRepository(db),
		repo:    inmemdb.NewEnrollmentRepository(db),
		mailSvc: emailsvc.NewConsoleServiceMock(conf, logger),
	}
	env.svc = enrollment.NewService(env.repo, env.courses, usrRepo, env.mailSvc, logger)

	env.owner = testutil.CreateUser(t, usrRepo, "Owner", "owner", "owner@test.com", "", user.InstructorRoles, true)
	env.other = testutil.CreateUser(t, usrRepo, "Other", "other", "other@test.com", "", user.InstructorRoles, true)
	env.admin = testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.com", "", user.AdminRoles, true)
	env.student = testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.com", "", user.StudentRoles, true)
	env.student2 = testutil.CreateUser(t, usrRepo, "Student 2", "student2", "student2@test.com", "", user.StudentRoles, true)
	return env
}

func (env *testEnv) complete(t *testing.T, usr user.User, ch course.Chapter) {
	t.Helper()
	require.NoError(t, env.repo.SeedProgress(env.ctx, enrollment.ChapterProgress{
		ID: usr.ID + ch.ID, UserID: usr.ID, ChapterID: ch.ID, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	_, err := env.svc.MarkChapterComplete(env.ctx, usr.Caller(), ch.CourseID, ch.ID)
	require.NoError(t, err)
}

func TestEnroll(t *testing.T) {
	env := setup(t)
	paid := testutil.CreateCourse(t, env.courses, env.owner, "Go", testutil.Float64Ptr(49.99), course.StatusPublished)
	ch1 := testutil.CreateChapter(t, env.courses, paid, "One", course.StatusPublished, false)
	ch2 := testutil.CreateChapter(t, env.courses, paid, "Two", course.StatusDraft, false)
	unpriced := testutil.CreateCourse(t, env.courses, env.owner, "Rust", nil, course.StatusPublished)
	testutil.CreateChapter(t, env.courses, unpriced, "One", course.StatusPublished, false)
	empty := testutil.CreateCourse(t, env.courses, env.owner, "Empty", testutil.Float64Ptr(5), course.StatusPublished)
	draft := testutil.CreateCourse(t, env.courses, env.owner, "Draft", testutil.Float64Ptr(5), course.StatusDraft)
	testutil.CreateChapter(t, env.courses, draft, "One", course.StatusDraft, false)

	tests := []struct {
		name     string
		caller   user.Caller
		courseID string
		wantErr  error
	}{
		{name: "anonymous", caller: user.Anonymous, courseID: paid.ID, wantErr: core.ErrUnauthenticated},
		{name: "unknown course", caller: env.student.Caller(), courseID: "unknown", wantErr: course.ErrCourseNotFound},
		{name: "draft course", caller: env.student.Caller(), courseID: draft.ID, wantErr: course.ErrCourseNotFound},
		{name: "no chapters", caller: env.student.Caller(), courseID: empty.ID, wantErr: enrollment.ErrNoChapters},
		{name: "paid course", caller: env.student.Caller(), courseID: paid.ID},
		{name: "already enrolled", caller: env.student.Caller(), courseID: paid.ID, wantErr: enrollment.ErrAlreadyEnrolled},
		{name: "unresolved price", caller: env.student.Caller(), courseID: unpriced.ID},
		{name: "owner previews own draft", caller: env.owner.Caller(), courseID: draft.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.mailSvc.Reset()
			e, err := env.svc.Enroll(env.ctx, tt.caller, tt.courseID)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				assert.Empty(t, env.mailSvc.SentMessages())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.caller.UserID, e.UserID)
			assert.Equal(t, tt.courseID, e.CourseID)

			sent := env.mailSvc.SentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, "enrollment_confirmation", sent[0].TemplateName)
			assert.Contains(t, sent[0].TextContent, "http://learnplus.test/courses/"+tt.courseID)
		})
	}

	t.Run("progress is seeded on every chapter", func(t *testing.T) {
		for _, ch := range []course.Chapter{ch1, ch2} {
			p, err := env.repo.GetProgress(env.ctx, env.student.ID, ch.ID)
			require.NoError(t, err)
			assert.False(t, p.IsCompleted)
		}
	})

	t.Run("payments", func(t *testing.T) {
		payments, err := env.repo.ListCompletedPayments(env.ctx, paid.ID, unpriced.ID)
		require.NoError(t, err)
		require.Len(t, payments, 1, "the payment of an unresolved price is recorded as failed")
		assert.Equal(t, paid.ID, payments[0].CourseID)
		assert.Equal(t, 49.99, payments[0].Amount)
		assert.Equal(t, enrollment.PaymentCompleted, payments[0].Status)

		enrolled, err := env.svc.HasEnrolled(env.ctx, env.student.Caller(), unpriced.ID)
		require.NoError(t, err)
		assert.True(t, enrolled)
	})
}

func TestHasAccess(t *testing.T) {
	env := setup(t)
	c := testutil.CreateCourse(t, env.courses, env.owner, "Go", testutil.Float64Ptr(10), course.StatusPublished)
	free := testutil.CreateChapter(t, env.courses, c, "Free", course.StatusPublished, true)
	paid := testutil.CreateChapter(t, env.courses, c, "Paid", course.StatusPublished, false)
	otherCourse := testutil.CreateCourse(t, env.courses, env.other, "Rust", nil, course.StatusPublished)
	testutil.Enroll(t, env.repo, env.student, c)

	tests := []struct {
		name      string
		caller    user.Caller
		chapterID string
		courseID  string
		want      bool
		wantErr   error
	}{
		{name: "anonymous: free", caller: user.Anonymous, chapterID: free.ID, courseID: c.ID, want: false},
		{name: "anonymous: paid", caller: user.Anonymous, chapterID: paid.ID, courseID: c.ID, want: false},
		{name: "not enrolled: free", caller: env.student2.Caller(), chapterID: free.ID, courseID: c.ID, want: true},
		{name: "not enrolled: paid", caller: env.student2.Caller(), chapterID: paid.ID, courseID: c.ID, want: false},
		{name: "enrolled: paid", caller: env.student.Caller(), chapterID: paid.ID, courseID: c.ID, want: true},
		{name: "wrong course", caller: env.student.Caller(), chapterID: paid.ID, courseID: otherCourse.ID, wantErr: course.ErrChapterNotFound},
		{name: "unknown chapter", caller: env.student.Caller(), chapterID: "unknown", courseID: c.ID, wantErr: course.ErrChapterNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.svc.HasAccess(env.ctx, tt.caller, tt.courseID, tt.chapterID)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestViewChapter(t *testing.T) {
	env := setup(t)
	c := testutil.CreateCourse(t, env.courses, env.owner, "Go", testutil.Float64Ptr(10), course.StatusPublished)
	free := testutil.CreateChapter(t, env.courses, c, "Free", course.StatusPublished, true)
	hidden := testutil.CreateChapter(t, env.courses, c, "Hidden", course.StatusDraft, false)
	paid := testutil.CreateChapter(t, env.courses, c, "Paid", course.StatusPublished, false)
	draftCourse := testutil.CreateCourse(t, env.courses, env.owner, "Draft", nil, course.StatusDraft)
	draftChapter := testutil.CreateChapter(t, env.courses, draftCourse, "One", course.StatusDraft, false)

	for _, ch := range []course.Chapter{free, paid} {
		_, err := env.courses.CreateVideo(env.ctx, course.Video{
			ID: "video-" + ch.ID, ChapterID: ch.ID, PlaybackID: "play-" + ch.ID, SourceURL: "https://media.test/" + ch.ID,
		})
		require.NoError(t, err)
	}

	t.Run("free chapter, not enrolled", func(t *testing.T) {
		view, err := env.svc.ViewChapter(env.ctx, env.student.Caller(), c.ID, free.ID)
		require.NoError(t, err)
		assert.True(t, view.HasAccess)
		assert.False(t, view.IsEnrolled)
		require.NotNil(t, view.Video)
		assert.Equal(t, "play-"+free.ID, view.Video.PlaybackID)
		require.NotNil(t, view.Progress)
		assert.False(t, view.Progress.IsCompleted)
		require.NotNil(t, view.NextChapter)
		assert.Equal(t, paid.ID, view.NextChapter.ID, "draft chapters are skipped")
	})

	t.Run("paid chapter, not enrolled", func(t *testing.T) {
		view, err := env.svc.ViewChapter(env.ctx, env.student.Caller(), c.ID, paid.ID)
		require.NoError(t, err)
		assert.False(t, view.HasAccess)
		assert.Nil(t, view.Video)
		assert.Nil(t, view.Progress)
		assert.Nil(t, view.NextChapter)

		_, err = env.repo.GetProgress(env.ctx, env.student.ID, paid.ID)
		assert.Equal(t, enrollment.ErrProgressNotFound, err)
	})

	t.Run("anonymous", func(t *testing.T) {
		view, err := env.svc.ViewChapter(env.ctx, user.Anonymous, c.ID, free.ID)
		require.NoError(t, err)
		assert.False(t, view.HasAccess)
		assert.Nil(t, view.Video)
		assert.Nil(t, view.Progress)
	})

	t.Run("enrolled", func(t *testing.T) {
		testutil.Enroll(t, env.repo, env.student2, c)
		view, err := env.svc.ViewChapter(env.ctx, env.student2.Caller(), c.ID, paid.ID)
		require.NoError(t, err)
		assert.True(t, view.HasAccess)
		assert.True(t, view.IsEnrolled)
		assert.NotNil(t, view.Video)
		assert.NotNil(t, view.Progress)
	})

	t.Run("hidden from learners", func(t *testing.T) {
		_, err := env.svc.ViewChapter(env.ctx, env.student.Caller(), c.ID, hidden.ID)
		assert.Equal(t, course.ErrChapterNotFound, err)
		_, err = env.svc.ViewChapter(env.ctx, env.student.Caller(), draftCourse.ID, draftChapter.ID)
		assert.Equal(t, course.ErrCourseNotFound, err)
		_, err = env.svc.ViewChapter(env.ctx, env.student.Caller(), draftCourse.ID, free.ID)
		assert.Equal(t, course.ErrChapterNotFound, err)
	})

	t.Run("managers preview everything", func(t *testing.T) {
		view, err := env.svc.ViewChapter(env.ctx, env.owner.Caller(), c.ID, free.ID)
		require.NoError(t, err)
		require.NotNil(t, view.NextChapter)
		assert.Equal(t, hidden.ID, view.NextChapter.ID)

		view, err = env.svc.ViewChapter(env.ctx, env.admin.Caller(), c.ID, paid.ID)
		require.NoError(t, err)
		assert.False(t, view.HasAccess)
		assert.NotNil(t, view.Video)

		_, err = env.svc.ViewChapter(env.ctx, env.owner.Caller(), draftCourse.ID, draftChapter.ID)
		assert.NoError(t, err)
	})
}

func TestMarkChapterComplete(t *testing.T) {
	env := setup(t)
	c := testutil.CreateCourse(t, env.courses, env.owner, "Go", testutil.Float64Ptr(10), course.StatusPublished)
	free := testutil.CreateChapter(t, env.courses, c, "Free", course.StatusPublished, true)
	paid := testutil.CreateChapter(t, env.courses, c, "Paid", course.StatusPublished, false)

	_, err := env.svc.MarkChapterComplete(env.ctx, user.Anonymous, c.ID, paid.ID)
	assert.Equal(t, core.ErrUnauthenticated, err)

	_, err = env.svc.MarkChapterComplete(env.ctx, env.student.Caller(), c.ID, paid.ID)
	assert.Equal(t, core.ErrPermissionDenied, err)

	// free chapters can be completed once viewed
	_, err = env.svc.MarkChapterComplete(env.ctx, env.student.Caller(), c.ID, free.ID)
	assert.Equal(t, enrollment.ErrProgressNotFound, err)
	_, err = env.svc.EnsureProgressSeed(env.ctx, env.student.Caller(), free.ID)
	require.NoError(t, err)
	p, err := env.svc.MarkChapterComplete(env.ctx, env.student.Caller(), c.ID, free.ID)
	require.NoError(t, err)
	assert.True(t, p.IsCompleted)

	_, err = env.svc.Enroll(env.ctx, env.student.Caller(), c.ID)
	require.NoError(t, err)
	p, err = env.svc.MarkChapterComplete(env.ctx, env.student.Caller(), c.ID, paid.ID)
	require.NoError(t, err)
	assert.True(t, p.IsCompleted)

	// idempotent
	again, err := env.svc.MarkChapterComplete(env.ctx, env.student.Caller(), c.ID, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	// completed progress survives re-seeding
	seeded, err := env.svc.EnsureProgressSeed(env.ctx, env.student.Caller(), paid.ID)
	require.NoError(t, err)
	assert.True(t, seeded.IsCompleted)

	_, err = env.svc.EnsureProgressSeed(env.ctx, env.student2.Caller(), paid.ID)
	assert.Equal(t, core.ErrPermissionDenied, err)
}

func TestCourseCompletion(t *testing.T) {
	env := setup(t)
	c := testutil.CreateCourse(t, env.courses, env.owner, "Go", testutil.Float64Ptr(10), course.StatusPublished)
	ch1 := testutil.CreateChapter(t, env.courses, c, "One", course.StatusPublished, false)
	ch2 := testutil.CreateChapter(t, env.courses, c, "Two", course.StatusPublished, false)
	ch3 := testutil.CreateChapter(t, env.courses, c, "Three", course.StatusPublished, false)
	draft := testutil.CreateChapter(t, env.courses, c, "Draft", course.StatusDraft, false)
	_, err := env.svc.Enroll(env.ctx, env.student.Caller(), c.ID)
	require.NoError(t, err)
	caller := env.student.Caller()

	pct, err := env.svc.CourseCompletion(env.ctx, caller, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pct)

	// drafts do not count
	_, err = env.svc.MarkChapterComplete(env.ctx, caller, c.ID, draft.ID)
	require.NoError(t, err)
	pct, err = env.svc.CourseCompletion(env.ctx, caller, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pct)

	for i, want := range []int{33, 67, 100} {
		ch := []course.Chapter{ch1, ch2, ch3}[i]
		_, err = env.svc.MarkChapterComplete(env.ctx, caller, c.ID, ch.ID)
		require.NoError(t, err)
		pct, err = env.svc.CourseCompletion(env.ctx, caller, c.ID)
		require.NoError(t, err)
		assert.Equal(t, want, pct)
	}

	empty := testutil.CreateCourse(t, env.courses, env.owner, "Empty", nil, course.StatusDraft)
	pct, err = env.svc.CourseCompletion(env.ctx, caller, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pct)

	_, err = env.svc.CourseCompletion(env.ctx, user.Anonymous, c.ID)
	assert.Equal(t, core.ErrUnauthenticated, err)
}

func TestDashboard(t *testing.T) {
	env := setup(t)
	done := testutil.CreateCourse(t, env.courses, env.owner, "Done", testutil.Float64Ptr(10), course.StatusPublished)
	doneCh := testutil.CreateChapter(t, env.courses, done, "One", course.StatusPublished, false)
	started := testutil.CreateCourse(t, env.courses, env.owner, "Started", testutil.Float64Ptr(10), course.StatusPublished)
	startedCh := testutil.CreateChapter(t, env.courses, started, "One", course.StatusPublished, false)
	testutil.CreateChapter(t, env.courses, started, "Two", course.StatusPublished, false)
	notStarted := testutil.CreateCourse(t, env.courses, env.owner, "Not started", nil, course.StatusPublished)
	testutil.CreateChapter(t, env.courses, notStarted, "One", course.StatusPublished, false)

	for _, c := range []course.Course{done, started, notStarted} {
		_, err := env.svc.Enroll(env.ctx, env.student.Caller(), c.ID)
		require.NoError(t, err)
	}
	env.complete(t, env.student, doneCh)
	env.complete(t, env.student, startedCh)

	dash, err := env.svc.Dashboard(env.ctx, env.student.Caller())
	require.NoError(t, err)
	require.Len(t, dash.Completed, 1)
	assert.Equal(t, done.ID, dash.Completed[0].ID)
	assert.Equal(t, 100, dash.Completed[0].Completion)

	completion := make(map[string]int)
	for _, cp := range dash.InProgress {
		completion[cp.ID] = cp.Completion
	}
	assert.Equal(t, map[string]int{started.ID: 50, notStarted.ID: 0}, completion)

	dash, err = env.svc.Dashboard(env.ctx, env.student2.Caller())
	require.NoError(t, err)
	assert.Empty(t, dash.Completed)
	assert.Empty(t, dash.InProgress)

	_, err = env.svc.Dashboard(env.ctx, user.Anonymous)
	assert.Equal(t, core.ErrUnauthenticated, err)
}

func TestInstructorAnalytics(t *testing.T) {
	env := setup(t)
	c1 := testutil.CreateCourse(t, env.courses, env.owner, "Go", testutil.Float64Ptr(20), course.StatusPublished)
	testutil.CreateChapter(t, env.courses, c1, "One", course.StatusPublished, false)
	c2 := testutil.CreateCourse(t, env.courses, env.owner, "Rust", nil, course.StatusPublished)
	testutil.CreateChapter(t, env.courses, c2, "One", course.StatusPublished, false)
	c3 := testutil.CreateCourse(t, env.courses, env.other, "Elixir", testutil.Float64Ptr(99), course.StatusPublished)
	testutil.CreateChapter(t, env.courses, c3, "One", course.StatusPublished, false)

	for _, usr := range []user.User{env.student, env.student2} {
		for _, c := range []course.Course{c1, c2, c3} {
			_, err := env.svc.Enroll(env.ctx, usr.Caller(), c.ID)
			require.NoError(t, err)
		}
	}

	stats, err := env.svc.InstructorAnalytics(env.ctx, env.owner.Caller())
	require.NoError(t, err)
	assert.Equal(t, 40.0, stats.TotalRevenue)
	assert.Equal(t, 2, stats.TotalSales)
	assert.ElementsMatch(t, []enrollment.CourseSales{
		{CourseID: c1.ID, Title: "Go", Revenue: 40, Sales: 2},
		{CourseID: c2.ID, Title: "Rust"},
	}, stats.Courses)

	stats, err = env.svc.InstructorAnalytics(env.ctx, env.admin.Caller())
	require.NoError(t, err)
	assert.Empty(t, stats.Courses)

	_, err = env.svc.InstructorAnalytics(env.ctx, env.student.Caller())
	assert.Equal(t, core.ErrPermissionDenied, err)
}
