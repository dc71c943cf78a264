package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/learnplus/learnplus/apps/api/echo"
	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/enrollment"
	"github.com/learnplus/learnplus/core/user"
	testutil "github.com/learnplus/learnplus/tests"
)

func Test_enrollmentApi(t *testing.T) {
	env := setup(t)
	owner, ownerToken := env.createUser(t, "instructor", user.InstructorRoles)
	_, studentToken := env.createUser(t, "student", user.StudentRoles)
	_, otherToken := env.createUser(t, "other", user.StudentRoles)

	c := testutil.CreateCourse(t, env.courses, owner, "Go", testutil.Float64Ptr(20), course.StatusPublished)
	free := testutil.CreateChapter(t, env.courses, c, "Intro", course.StatusPublished, true)
	paid := testutil.CreateChapter(t, env.courses, c, "Deep dive", course.StatusPublished, false)
	draft := testutil.CreateCourse(t, env.courses, owner, "Draft", nil, course.StatusDraft)
	testutil.CreateChapter(t, env.courses, draft, "One", course.StatusDraft, false)

	coursePath := "/v1/courses/" + c.ID

	env.runTests(t, []httpTest{
		{
			name: "auth required", method: http.MethodPost, path: coursePath + "/enroll",
			wantCode: http.StatusUnauthorized, wantData: marshalErr(t, errMissingToken),
		},
		{
			name: "draft course", method: http.MethodPost, path: "/v1/courses/" + draft.ID + "/enroll", token: studentToken,
			wantCode: http.StatusNotFound,
		},
		{
			name: "not enrolled", path: coursePath + "/access", token: studentToken,
			wantCode: http.StatusOK, wantData: marshalData(t, echoapi.AccessResponse{Enrolled: false}),
		},
		{
			name: "paid chapter locked", method: http.MethodPost, path: coursePath + "/chapters/" + paid.ID + "/complete",
			token: studentToken, wantCode: http.StatusForbidden,
		},
		{
			name: "chapter of another course", path: "/v1/courses/" + draft.ID + "/chapters/" + paid.ID, token: studentToken,
			wantCode: http.StatusNotFound,
		},
	})

	t.Run("anonymous preview", func(t *testing.T) {
		rec := env.serve(newRequest(http.MethodGet, coursePath+"/chapters/"+free.ID))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var view enrollment.ChapterView
		decodeData(t, rec, &view)
		assert.False(t, view.HasAccess)
		assert.Nil(t, view.Progress)
		require.NotNil(t, view.NextChapter)
		assert.Equal(t, paid.ID, view.NextChapter.ID)
	})

	t.Run("free chapter", func(t *testing.T) {
		rec := env.serve(newAuthRequest(http.MethodGet, coursePath+"/chapters/"+free.ID, otherToken))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var view enrollment.ChapterView
		decodeData(t, rec, &view)
		assert.True(t, view.HasAccess)
		assert.False(t, view.IsEnrolled)
		require.NotNil(t, view.Progress)
		assert.False(t, view.Progress.IsCompleted)
	})

	// enroll
	rec := env.serve(newAuthRequest(http.MethodPost, coursePath+"/enroll", studentToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var e enrollment.Enrollment
	decodeData(t, rec, &e)
	assert.Equal(t, c.ID, e.CourseID)

	sent := env.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "enrollment_confirmation", sent[0].TemplateName)

	env.runTests(t, []httpTest{
		{
			name: "already enrolled", method: http.MethodPost, path: coursePath + "/enroll", token: studentToken,
			wantCode: http.StatusConflict,
			wantData: marshalErr(t, httpErr{Error: "conflict", Message: enrollment.ErrAlreadyEnrolled.Error()}),
		},
		{
			name: "enrolled", path: coursePath + "/access", token: studentToken,
			wantCode: http.StatusOK, wantData: marshalData(t, echoapi.AccessResponse{Enrolled: true}),
		},
		{
			name: "no progress yet", path: coursePath + "/progress", token: studentToken,
			wantCode: http.StatusOK, wantData: marshalData(t, echoapi.CompletionResponse{Completion: 0}),
		},
	})

	// complete the paid chapter
	rec = env.serve(newAuthRequest(http.MethodPost, coursePath+"/chapters/"+paid.ID+"/complete", studentToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p enrollment.ChapterProgress
	decodeData(t, rec, &p)
	assert.True(t, p.IsCompleted)

	rec = env.serve(newAuthRequest(http.MethodGet, coursePath+"/progress", studentToken))
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshalData(t, echoapi.CompletionResponse{Completion: 50})}, rec)

	t.Run("dashboard", func(t *testing.T) {
		rec := env.serve(newAuthRequest(http.MethodGet, "/v1/dashboard", studentToken))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var dash enrollment.Dashboard
		decodeData(t, rec, &dash)
		assert.Empty(t, dash.Completed)
		require.Len(t, dash.InProgress, 1)
		assert.Equal(t, c.ID, dash.InProgress[0].ID)
		assert.Equal(t, 50, dash.InProgress[0].Completion)
		assert.Len(t, dash.InProgress[0].Chapters, 2)

		rec = env.serve(newRequest(http.MethodGet, "/v1/dashboard"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("analytics", func(t *testing.T) {
		rec := env.serve(newAuthRequest(http.MethodGet, "/v1/analytics", studentToken))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = env.serve(newAuthRequest(http.MethodGet, "/v1/analytics", ownerToken))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var stats enrollment.Analytics
		decodeData(t, rec, &stats)
		assert.Equal(t, 20.0, stats.TotalRevenue)
		assert.Equal(t, 1, stats.TotalSales)
	})
}
