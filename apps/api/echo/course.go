package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core/course"
)

type courseApi struct {
	svc *course.Service
}

func registerCourseAPI(g *echo.Group, jwt, optionalJWT, bodyLimit echo.MiddlewareFunc, svc *course.Service) {
	api := courseApi{svc: svc}

	cg := g.Group("/courses")

	// public endpoints: the token is only used to recognize managers
	cg.GET("", api.browse)
	cg.GET("/:id", api.retrieve, optionalJWT)

	// authoring endpoints
	cg.POST("", api.create, jwt, instructorMiddleware())
	cg.GET("/mine", api.queryMine, jwt, instructorMiddleware())
	cg.PATCH("/:id", api.update, jwt)
	cg.PUT("/:id/thumbnail", api.updateThumbnail, bodyLimit, jwt)
	cg.POST("/:id/publish", api.publish, jwt)
	cg.POST("/:id/unpublish", api.unpublish, jwt)
	cg.POST("/:id/chapters", api.createChapter, jwt)
	cg.PUT("/:id/chapters/reorder", api.reorderChapters, jwt)

	chg := g.Group("/chapters", jwt)
	chg.PATCH("/:id", api.updateChapter)
	chg.PUT("/:id/video", api.replaceVideo, bodyLimit)
	chg.POST("/:id/publish", api.publishChapter)
	chg.POST("/:id/unpublish", api.unpublishChapter)
}

// Courses

func (api *courseApi) browse(ctx echo.Context) error {
	var filter course.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return respond(ctx, http.StatusOK, []course.Course{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.Browse(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "browsing courses")
	}
	return respond(ctx, http.StatusOK, courses)
}

func (api *courseApi) queryMine(ctx echo.Context) error {
	var filter course.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return respond(ctx, http.StatusOK, []course.Course{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.QueryCourses(ctx.Request().Context(), getContextCaller(ctx), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	return respond(ctx, http.StatusOK, courses)
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	c, err := api.svc.CreateCourse(ctx.Request().Context(), getContextCaller(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return respond(ctx, http.StatusCreated, c)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	detail, err := api.svc.GetCourse(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return respond(ctx, http.StatusOK, detail)
}

func (api *courseApi) update(ctx echo.Context) error {
	var data course.CoursePatch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CoursePatch")
	}
	c, err := api.svc.UpdateCourse(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return respond(ctx, http.StatusOK, c)
}

func (api *courseApi) updateThumbnail(ctx echo.Context) error {
	file, _, err := bindFile(ctx, "file")
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	c, err := api.svc.UpdateCourseThumbnail(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"), file)
	if err != nil {
		return errors.Wrap(err, "updating course thumbnail")
	}
	return respond(ctx, http.StatusOK, c)
}

func (api *courseApi) publish(ctx echo.Context) error {
	c, err := api.svc.PublishCourse(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "publishing course")
	}
	return respond(ctx, http.StatusOK, c)
}

func (api *courseApi) unpublish(ctx echo.Context) error {
	c, err := api.svc.UnpublishCourse(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "unpublishing course")
	}
	return respond(ctx, http.StatusOK, c)
}

// Chapters

func (api *courseApi) createChapter(ctx echo.Context) error {
	var data course.NewChapter
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewChapter")
	}
	ch, err := api.svc.CreateChapter(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating chapter")
	}
	return respond(ctx, http.StatusCreated, ch)
}

func (api *courseApi) reorderChapters(ctx echo.Context) error {
	var data course.ReorderChapters
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReorderChapters")
	}
	chapters, err := api.svc.ReorderChapters(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "reordering chapters")
	}
	return respond(ctx, http.StatusOK, chapters)
}

func (api *courseApi) updateChapter(ctx echo.Context) error {
	var data course.ChapterPatch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChapterPatch")
	}
	ch, err := api.svc.UpdateChapter(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating chapter")
	}
	return respond(ctx, http.StatusOK, ch)
}

func (api *courseApi) replaceVideo(ctx echo.Context) error {
	file, fh, err := bindFile(ctx, "file")
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	video, err := api.svc.ReplaceChapterVideo(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"), file, fh.Filename)
	if err != nil {
		return errors.Wrap(err, "replacing chapter video")
	}
	return respond(ctx, http.StatusOK, video)
}

func (api *courseApi) publishChapter(ctx echo.Context) error {
	ch, err := api.svc.PublishChapter(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "publishing chapter")
	}
	return respond(ctx, http.StatusOK, ch)
}

func (api *courseApi) unpublishChapter(ctx echo.Context) error {
	ch, err := api.svc.UnpublishChapter(ctx.Request().Context(), getContextCaller(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "unpublishing chapter")
	}
	return respond(ctx, http.StatusOK, ch)
}
