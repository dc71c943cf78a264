package course

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/user"
)

var (
	// errors
	ErrCourseNotFound      = core.NewNotFoundError("course")
	ErrChapterNotFound     = core.NewNotFoundError("chapter")
	ErrVideoNotFound       = core.NewNotFoundError("video")
	ErrNoPublishedChapters = core.NewConflictError("a course needs at least one published chapter to be published")
	ErrInvalidPositions    = core.NewValidationError(
		errors.New("positions must list every chapter of the course once, numbered from 1 to the number of chapters"),
	)
	ErrInvalidImage = core.NewValidationError(
		errors.New("invalid image"), core.FieldError{Field: "file", Error: "unsupported or corrupted image"},
	)

	NowFunc = time.Now // mockable

	courseOrderingFields = []string{"title", "price", "created_at", "updated_at"}
)

type (
	// Repository is the persistence gateway of courses, chapters & videos.
	// Every method runs inside the unit of work of the repository it is called on.
	Repository interface {
		// Atomic runs fn within a single transaction: every write done through the Repository
		// passed to fn is committed when fn returns nil, and rolled back otherwise.
		Atomic(ctx context.Context, fn func(repo Repository) error) error

		CreateCourse(ctx context.Context, c Course) (Course, error)
		GetCourse(ctx context.Context, id string) (Course, error)
		// LockCourse gets a course and holds its row lock until the end of the transaction.
		// Every write to the publication state of a course or of its chapters happens under this lock.
		LockCourse(ctx context.Context, id string) (Course, error)
		// QueryCourses applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Course.Title or Course.Description.
		QueryCourses(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		// UpdateCourse writes every Course field but its tags.
		UpdateCourse(ctx context.Context, c Course) (Course, error)
		AddCourseTags(ctx context.Context, courseID string, tags ...string) error
		RemoveCourseTags(ctx context.Context, courseID string, tags ...string) error

		CreateChapter(ctx context.Context, ch Chapter) (Chapter, error)
		GetChapter(ctx context.Context, id string) (Chapter, error)
		// ListChapters returns the chapters of a course ordered by position.
		ListChapters(ctx context.Context, courseID string, publishedOnly bool) ([]Chapter, error)
		// MaxChapterPosition returns 0 when the course has no chapters.
		MaxChapterPosition(ctx context.Context, courseID string) (int, error)
		UpdateChapter(ctx context.Context, ch Chapter) (Chapter, error)
		// SetChapterPositions rewrites the positions of the given chapters ({chapterID: position}).
		SetChapterPositions(ctx context.Context, courseID string, positions map[string]int) error
		CountPublishedChapters(ctx context.Context, courseID string) (int, error)

		GetVideo(ctx context.Context, chapterID string) (Video, error)
		CreateVideo(ctx context.Context, v Video) (Video, error)
		DeleteVideo(ctx context.Context, id string) error
	}

	Service struct {
		repo     Repository
		media    core.MediaServices
		validate *validator.Validate
		logger   core.Logger
	}
)

func NewService(repo Repository, media core.MediaServices, validate *validator.Validate, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		media:    media,
		validate: validate,
		logger:   logger,
	}
}

// requireInstructor rejects callers who cannot author courses.
func requireInstructor(caller user.Caller) error {
	if !caller.IsAuthenticated() {
		return core.ErrUnauthenticated
	}
	if !caller.CanTeach() {
		return core.ErrPermissionDenied
	}
	return nil
}

// CanManage reports whether the caller may mutate or preview the course.
func CanManage(caller user.Caller, c Course) bool {
	return caller.IsAuthenticated() && (c.OwnerID == caller.UserID || caller.IsAdmin())
}

func checkOwnership(caller user.Caller, c Course) error {
	if !CanManage(caller, c) {
		return core.ErrPermissionDenied
	}
	return nil
}

// lockChapter locks the parent course of a chapter, then reads the chapter under that lock.
func lockChapter(ctx context.Context, repo Repository, caller user.Caller, chapterID string) (Course, Chapter, error) {
	ch, err := repo.GetChapter(ctx, chapterID)
	if err != nil {
		return Course{}, Chapter{}, err
	}
	c, err := repo.LockCourse(ctx, ch.CourseID)
	if err != nil {
		return Course{}, Chapter{}, err
	}
	if err = checkOwnership(caller, c); err != nil {
		return Course{}, Chapter{}, err
	}
	ch, err = repo.GetChapter(ctx, chapterID)
	return c, ch, err
}

func lockOwnedCourse(ctx context.Context, repo Repository, caller user.Caller, courseID string) (Course, error) {
	c, err := repo.LockCourse(ctx, courseID)
	if err != nil {
		return Course{}, err
	}
	return c, checkOwnership(caller, c)
}

// Courses

func (svc *Service) CreateCourse(ctx context.Context, caller user.Caller, nc NewCourse) (Course, error) {
	if err := requireInstructor(caller); err != nil {
		return Course{}, err
	}
	if err := nc.Validate(svc.validate); err != nil {
		return Course{}, err
	}

	now := NowFunc().UTC()
	c := Course{
		ID:          uuid.NewString(),
		Title:       nc.Title,
		Description: nc.Description,
		Price:       nc.Price,
		Status:      StatusDraft,
		OwnerID:     caller.UserID,
		Tags:        nc.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		created, err := repo.CreateCourse(ctx, c)
		if err != nil {
			return errors.Wrap(err, "creating course")
		}
		if len(c.Tags) > 0 {
			if err = repo.AddCourseTags(ctx, created.ID, c.Tags...); err != nil {
				return errors.Wrap(err, "adding course tags")
			}
		}
		c, err = repo.GetCourse(ctx, created.ID)
		return err
	})
	return c, err
}

// GetCourse returns a course with the chapters the caller may see.
// Managers see every chapter; anyone else only sees the published chapters of a published course.
func (svc *Service) GetCourse(ctx context.Context, caller user.Caller, id string) (CourseDetail, error) {
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return CourseDetail{}, err
	}
	manager := CanManage(caller, c)
	if !manager && !c.IsPublished() {
		return CourseDetail{}, ErrCourseNotFound
	}
	chapters, err := svc.repo.ListChapters(ctx, id, !manager)
	if err != nil {
		return CourseDetail{}, errors.Wrap(err, "listing chapters")
	}
	return CourseDetail{Course: c, Chapters: chapters}, nil
}

// ListChapters returns the chapters of a course the caller may see, ordered by position.
func (svc *Service) ListChapters(ctx context.Context, caller user.Caller, courseID string) ([]Chapter, error) {
	detail, err := svc.GetCourse(ctx, caller, courseID)
	if err != nil {
		return nil, err
	}
	return detail.Chapters, nil
}

// Browse lists the published courses: the public catalog.
func (svc *Service) Browse(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	filter.Clean()
	filter.OwnerID = ""
	filter.Status = StatusPublished
	return svc.repo.QueryCourses(ctx, filter, core.FilterOrderings(ordering, courseOrderingFields...))
}

// QueryCourses lists the courses the caller manages: their own, or all of them for admins.
func (svc *Service) QueryCourses(
	ctx context.Context,
	caller user.Caller,
	filter QueryFilter,
	ordering []core.DBOrdering,
) ([]Course, error) {
	if err := requireInstructor(caller); err != nil {
		return nil, err
	}
	filter.Clean()
	filter.Status = ""
	filter.OwnerID = ""
	if !caller.IsAdmin() {
		filter.OwnerID = caller.UserID
	}
	return svc.repo.QueryCourses(ctx, filter, core.FilterOrderings(ordering, courseOrderingFields...))
}

// UpdateCourse applies a sparse patch. Tags are diffed against the current ones in the same transaction.
func (svc *Service) UpdateCourse(ctx context.Context, caller user.Caller, id string, patch CoursePatch) (Course, error) {
	if err := requireInstructor(caller); err != nil {
		return Course{}, err
	}
	if err := patch.Validate(svc.validate); err != nil {
		return Course{}, err
	}

	var c Course
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		var err error
		if c, err = lockOwnedCourse(ctx, repo, caller, id); err != nil {
			return err
		}
		if patch.IsEmpty() {
			return nil
		}

		if patch.Title != nil {
			c.Title = *patch.Title
		}
		if patch.Description != nil {
			c.Description = *patch.Description
		}
		if patch.Price != nil {
			price := *patch.Price
			c.Price = &price
		}
		c.UpdatedAt = NowFunc().UTC()
		if _, err = repo.UpdateCourse(ctx, c); err != nil {
			return errors.Wrap(err, "updating course")
		}

		if patch.Tags != nil {
			added, removed := diffTags(c.Tags, *patch.Tags)
			if len(removed) > 0 {
				if err = repo.RemoveCourseTags(ctx, id, removed...); err != nil {
					return errors.Wrap(err, "removing course tags")
				}
			}
			if len(added) > 0 {
				if err = repo.AddCourseTags(ctx, id, added...); err != nil {
					return errors.Wrap(err, "adding course tags")
				}
			}
		}
		c, err = repo.GetCourse(ctx, id)
		return err
	})
	return c, err
}

// diffTags returns the tags to add & to remove to go from `current` to `wanted`.
func diffTags(current, wanted []string) (added, removed []string) {
	cur := make(map[string]struct{}, len(current))
	for _, t := range current {
		cur[t] = struct{}{}
	}
	want := make(map[string]struct{}, len(wanted))
	for _, t := range wanted {
		want[t] = struct{}{}
		if _, ok := cur[t]; !ok {
			added = append(added, t)
		}
	}
	for _, t := range current {
		if _, ok := want[t]; !ok {
			removed = append(removed, t)
		}
	}
	return added, removed
}

// PublishCourse fails with ErrNoPublishedChapters unless at least one chapter is published.
func (svc *Service) PublishCourse(ctx context.Context, caller user.Caller, id string) (Course, error) {
	if err := requireInstructor(caller); err != nil {
		return Course{}, err
	}

	var c Course
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		var err error
		if c, err = lockOwnedCourse(ctx, repo, caller, id); err != nil {
			return err
		}
		count, err := repo.CountPublishedChapters(ctx, id)
		if err != nil {
			return errors.Wrap(err, "counting published chapters")
		}
		if count == 0 {
			return ErrNoPublishedChapters
		}
		if c.IsPublished() {
			return nil
		}
		c.Status = StatusPublished
		c.UpdatedAt = NowFunc().UTC()
		c, err = repo.UpdateCourse(ctx, c)
		return errors.Wrap(err, "publishing course")
	})
	return c, err
}

func (svc *Service) UnpublishCourse(ctx context.Context, caller user.Caller, id string) (Course, error) {
	if err := requireInstructor(caller); err != nil {
		return Course{}, err
	}

	var c Course
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		var err error
		if c, err = lockOwnedCourse(ctx, repo, caller, id); err != nil {
			return err
		}
		if !c.IsPublished() {
			return nil
		}
		c.Status = StatusDraft
		c.UpdatedAt = NowFunc().UTC()
		c, err = repo.UpdateCourse(ctx, c)
		return errors.Wrap(err, "unpublishing course")
	})
	return c, err
}

// UpdateCourseThumbnail stores a resized copy of the image and swaps it with the current thumbnail.
// The previous object is removed once the swap is committed.
func (svc *Service) UpdateCourseThumbnail(ctx context.Context, caller user.Caller, id string, image io.Reader) (Course, error) {
	if err := requireInstructor(caller); err != nil {
		return Course{}, err
	}
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if err = checkOwnership(caller, c); err != nil {
		return Course{}, err
	}

	data, contentType, err := svc.media.Images.Thumbnail(image)
	if err != nil {
		svc.logger.Debug(fmt.Sprintf("processing thumbnail of course %s: %v", id, err))
		return Course{}, ErrInvalidImage
	}
	key := path.Join("thumbnails", id, uuid.NewString()+extensionFor(contentType))
	obj, err := svc.media.Storage.Upload(ctx, bytes.NewReader(data), key, contentType)
	if err != nil {
		return Course{}, core.NewUpstreamError("storage", err)
	}

	var oldStorageID string
	err = svc.repo.Atomic(ctx, func(repo Repository) error {
		var err error
		if c, err = lockOwnedCourse(ctx, repo, caller, id); err != nil {
			return err
		}
		oldStorageID = c.ThumbnailStorageID
		c.ThumbnailURL = obj.URL
		c.ThumbnailStorageID = obj.StorageID
		c.UpdatedAt = NowFunc().UTC()
		c, err = repo.UpdateCourse(ctx, c)
		return errors.Wrap(err, "updating course thumbnail")
	})
	if err != nil {
		svc.deleteObject(obj.StorageID)
		return Course{}, err
	}
	if oldStorageID != "" {
		svc.deleteObject(oldStorageID)
	}
	return c, nil
}

// Chapters

// CreateChapter appends a draft chapter: its position is computed under the course lock.
func (svc *Service) CreateChapter(ctx context.Context, caller user.Caller, courseID string, nc NewChapter) (Chapter, error) {
	if err := requireInstructor(caller); err != nil {
		return Chapter{}, err
	}
	if err := nc.Validate(svc.validate); err != nil {
		return Chapter{}, err
	}

	var ch Chapter
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		if _, err := lockOwnedCourse(ctx, repo, caller, courseID); err != nil {
			return err
		}
		maxPos, err := repo.MaxChapterPosition(ctx, courseID)
		if err != nil {
			return errors.Wrap(err, "getting max chapter position")
		}
		now := NowFunc().UTC()
		ch, err = repo.CreateChapter(ctx, Chapter{
			ID:          uuid.NewString(),
			CourseID:    courseID,
			Title:       nc.Title,
			Description: nc.Description,
			Position:    maxPos + 1,
			Status:      StatusDraft,
			IsFree:      nc.IsFree,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		return errors.Wrap(err, "creating chapter")
	})
	return ch, err
}

func (svc *Service) UpdateChapter(ctx context.Context, caller user.Caller, id string, patch ChapterPatch) (Chapter, error) {
	if err := requireInstructor(caller); err != nil {
		return Chapter{}, err
	}
	if err := patch.Validate(svc.validate); err != nil {
		return Chapter{}, err
	}

	var ch Chapter
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		var err error
		if _, ch, err = lockChapter(ctx, repo, caller, id); err != nil {
			return err
		}
		if patch.Title == nil && patch.Description == nil && patch.IsFree == nil {
			return nil
		}
		if patch.Title != nil {
			ch.Title = *patch.Title
		}
		if patch.Description != nil {
			ch.Description = *patch.Description
		}
		if patch.IsFree != nil {
			ch.IsFree = *patch.IsFree
		}
		ch.UpdatedAt = NowFunc().UTC()
		ch, err = repo.UpdateChapter(ctx, ch)
		return errors.Wrap(err, "updating chapter")
	})
	return ch, err
}

// ReorderChapters rewrites every chapter position of a course at once.
// `positions` must list each chapter of the course exactly once, numbered 1..N.
func (svc *Service) ReorderChapters(
	ctx context.Context,
	caller user.Caller,
	courseID string,
	data ReorderChapters,
) ([]Chapter, error) {
	if err := requireInstructor(caller); err != nil {
		return nil, err
	}
	if err := svc.validate.Struct(data); err != nil {
		return nil, err
	}

	var chapters []Chapter
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		if _, err := lockOwnedCourse(ctx, repo, caller, courseID); err != nil {
			return err
		}
		current, err := repo.ListChapters(ctx, courseID, false)
		if err != nil {
			return errors.Wrap(err, "listing chapters")
		}
		positions, err := checkPositions(current, data.Chapters)
		if err != nil {
			return err
		}
		if err = repo.SetChapterPositions(ctx, courseID, positions); err != nil {
			return errors.Wrap(err, "setting chapter positions")
		}
		chapters, err = repo.ListChapters(ctx, courseID, false)
		return err
	})
	return chapters, err
}

func checkPositions(current []Chapter, wanted []ChapterPosition) (map[string]int, error) {
	if len(current) != len(wanted) {
		return nil, ErrInvalidPositions
	}
	known := make(map[string]struct{}, len(current))
	for _, ch := range current {
		known[ch.ID] = struct{}{}
	}

	positions := make(map[string]int, len(wanted))
	taken := make([]bool, len(wanted)+1)
	for _, cp := range wanted {
		if _, ok := known[cp.ID]; !ok {
			return nil, ErrInvalidPositions
		}
		if _, dup := positions[cp.ID]; dup {
			return nil, ErrInvalidPositions
		}
		if cp.Position < 1 || cp.Position > len(wanted) || taken[cp.Position] {
			return nil, ErrInvalidPositions
		}
		taken[cp.Position] = true
		positions[cp.ID] = cp.Position
	}
	return positions, nil
}

// Publication

// PublishChapter has no effect on the publication status of the parent course.
func (svc *Service) PublishChapter(ctx context.Context, caller user.Caller, id string) (Chapter, error) {
	if err := requireInstructor(caller); err != nil {
		return Chapter{}, err
	}

	var ch Chapter
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		var err error
		if _, ch, err = lockChapter(ctx, repo, caller, id); err != nil {
			return err
		}
		if ch.IsPublished() {
			return nil
		}
		ch.Status = StatusPublished
		ch.UpdatedAt = NowFunc().UTC()
		ch, err = repo.UpdateChapter(ctx, ch)
		return errors.Wrap(err, "publishing chapter")
	})
	return ch, err
}

// UnpublishChapter drafts the chapter, and drafts its course too when no published chapter is left.
func (svc *Service) UnpublishChapter(ctx context.Context, caller user.Caller, id string) (Chapter, error) {
	if err := requireInstructor(caller); err != nil {
		return Chapter{}, err
	}

	var ch Chapter
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		c, locked, err := lockChapter(ctx, repo, caller, id)
		if err != nil {
			return err
		}
		ch = locked
		now := NowFunc().UTC()

		if ch.IsPublished() {
			ch.Status = StatusDraft
			ch.UpdatedAt = now
			if ch, err = repo.UpdateChapter(ctx, ch); err != nil {
				return errors.Wrap(err, "unpublishing chapter")
			}
		}

		count, err := repo.CountPublishedChapters(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "counting published chapters")
		}
		if count == 0 && c.IsPublished() {
			c.Status = StatusDraft
			c.UpdatedAt = now
			if _, err = repo.UpdateCourse(ctx, c); err != nil {
				return errors.Wrap(err, "unpublishing course")
			}
			svc.logger.Info(fmt.Sprintf("course %s unpublished: its last published chapter %s was unpublished", c.ID, ch.ID))
		}
		return nil
	})
	return ch, err
}

// Media

// ReplaceChapterVideo uploads a video, registers it with the streaming provider and attaches it
// to the chapter in place of the previous one.
// Upstream resources created before a failure are deleted (best effort).
func (svc *Service) ReplaceChapterVideo(
	ctx context.Context,
	caller user.Caller,
	chapterID string,
	file io.Reader,
	filename string,
) (Video, error) {
	if err := requireInstructor(caller); err != nil {
		return Video{}, err
	}
	ch, err := svc.repo.GetChapter(ctx, chapterID)
	if err != nil {
		return Video{}, err
	}
	c, err := svc.repo.GetCourse(ctx, ch.CourseID)
	if err != nil {
		return Video{}, err
	}
	if err = checkOwnership(caller, c); err != nil {
		return Video{}, err
	}

	ext := strings.ToLower(path.Ext(filename))
	key := path.Join("videos", chapterID, uuid.NewString()+ext)
	obj, err := svc.media.Storage.Upload(ctx, file, key, videoContentType(ext))
	if err != nil {
		return Video{}, core.NewUpstreamError("storage", err)
	}

	asset, err := svc.media.Streaming.CreateAsset(ctx, obj.URL)
	if err != nil {
		svc.deleteObject(obj.StorageID)
		return Video{}, core.NewUpstreamError("streaming", err)
	}

	var (
		video Video
		old   Video
	)
	err = svc.repo.Atomic(ctx, func(repo Repository) error {
		_, locked, err := lockChapter(ctx, repo, caller, chapterID)
		if err != nil {
			return err
		}

		old, err = repo.GetVideo(ctx, chapterID)
		switch errors.Cause(err) {
		case nil:
			if err = svc.media.Streaming.DeleteAsset(ctx, old.AssetID); err != nil {
				return core.NewUpstreamError("streaming", err)
			}
			if err = repo.DeleteVideo(ctx, old.ID); err != nil {
				return errors.Wrap(err, "deleting previous video")
			}
		case ErrVideoNotFound:
			old = Video{}
		default:
			return errors.Wrap(err, "getting previous video")
		}

		video, err = repo.CreateVideo(ctx, Video{
			ID:         uuid.NewString(),
			ChapterID:  chapterID,
			StorageID:  obj.StorageID,
			AssetID:    asset.AssetID,
			PlaybackID: asset.PlaybackID,
			SourceURL:  obj.URL,
			CreatedAt:  NowFunc().UTC(),
		})
		if err != nil {
			return errors.Wrap(err, "creating video")
		}

		locked.VideoURL = obj.URL
		locked.UpdatedAt = NowFunc().UTC()
		_, err = repo.UpdateChapter(ctx, locked)
		return errors.Wrap(err, "setting chapter video")
	})
	if err != nil {
		svc.deleteAsset(asset.AssetID)
		svc.deleteObject(obj.StorageID)
		return Video{}, err
	}
	if old.StorageID != "" {
		svc.deleteObject(old.StorageID)
	}
	return video, nil
}

func (svc *Service) deleteObject(storageID string) {
	// the request context may already be canceled
	if err := svc.media.Storage.Delete(context.Background(), storageID); err != nil {
		svc.logger.Error(fmt.Sprintf("deleting stored object %q: %v", storageID, err), err)
	}
}

func (svc *Service) deleteAsset(assetID string) {
	if err := svc.media.Streaming.DeleteAsset(context.Background(), assetID); err != nil {
		svc.logger.Error(fmt.Sprintf("deleting streaming asset %q: %v", assetID, err), err)
	}
}

func videoContentType(ext string) string {
	switch ext {
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "video/mp4"
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/webp":
		return ".webp"
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}

// SortChapters orders chapters by position.
func SortChapters(chapters []Chapter) {
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Position < chapters[j].Position })
}
