package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core/enrollment"
)

type enrollmentApi struct {
	svc *enrollment.Service
}

func registerEnrollmentAPI(g *echo.Group, jwt, optionalJWT echo.MiddlewareFunc, svc *enrollment.Service) {
	api := enrollmentApi{svc: svc}

	cg := g.Group("/courses/:id")
	cg.POST("/enroll", api.enroll, jwt)
	cg.GET("/access", api.access, jwt)
	cg.GET("/progress", api.progress, jwt)
	cg.GET("/chapters/:chapterId", api.viewChapter, optionalJWT)
	cg.POST("/chapters/:chapterId/complete", api.completeChapter, jwt)

	g.GET("/dashboard", api.dashboard, jwt)
	g.GET("/analytics", api.analytics, jwt, instructorMiddleware())
}

type (
	AccessResponse struct {
		Enrolled bool `json:"enrolled"`
	}

	CompletionResponse struct {
		Completion int `json:"completion"`
	}
)

func (api *enrollmentApi) enroll(ctx echo.Context) error {
	e, err := api.svc.Enroll(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return respond(ctx, http.StatusCreated, e)
}

func (api *enrollmentApi) access(ctx echo.Context) error {
	enrolled, err := api.svc.HasEnrolled(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "checking enrollment")
	}
	return respond(ctx, http.StatusOK, AccessResponse{Enrolled: enrolled})
}

func (api *enrollmentApi) progress(ctx echo.Context) error {
	pct, err := api.svc.CourseCompletion(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing course completion")
	}
	return respond(ctx, http.StatusOK, CompletionResponse{Completion: pct})
}

func (api *enrollmentApi) viewChapter(ctx echo.Context) error {
	view, err := api.svc.ViewChapter(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"), ctx.Param("chapterId"))
	if err != nil {
		return errors.Wrap(err, "viewing chapter")
	}
	return respond(ctx, http.StatusOK, view)
}

func (api *enrollmentApi) completeChapter(ctx echo.Context) error {
	p, err := api.svc.MarkChapterComplete(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"), ctx.Param("chapterId"))
	if err != nil {
		return errors.Wrap(err, "completing chapter")
	}
	return respond(ctx, http.StatusOK, p)
}

func (api *enrollmentApi) dashboard(ctx echo.Context) error {
	dash, err := api.svc.Dashboard(ctx.Request().Context(), getContextCaller(ctx))
	if err != nil {
		return errors.Wrap(err, "building dashboard")
	}
	return respond(ctx, http.StatusOK, dash)
}

func (api *enrollmentApi) analytics(ctx echo.Context) error {
	stats, err := api.svc.InstructorAnalytics(ctx.Request().Context(), getContextCaller(ctx))
	if err != nil {
		return errors.Wrap(err, "computing analytics")
	}
	return respond(ctx, http.StatusOK, stats)
}
