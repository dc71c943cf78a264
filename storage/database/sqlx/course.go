package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/course"
)

const (
	chapterPositionKey = "chapter_course_id_position_key"

	courseColumns = `c.id, c.title, c.description, c.price, c.status, c.owner_id,
		c.thumbnail_url, c.thumbnail_storage_id, c.created_at, c.updated_at,
		ARRAY(SELECT t.tag FROM course_tag t WHERE t.course_id = c.id ORDER BY t.tag) AS tags`
	chapterColumns = `id, course_id, title, description, position, status, is_free, video_url, created_at, updated_at`
	videoColumns   = `id, chapter_id, storage_id, asset_id, playback_id, source_url, created_at`
)

var (
	errChapterPositionTaken = core.NewConflictError("chapter position already taken")

	courseOrderingColumns = map[string]string{
		"title":      "c.title",
		"price":      "c.price",
		"created_at": "c.created_at",
		"updated_at": "c.updated_at",
	}
)

type courseRow struct {
	ID                 string         `db:"id"`
	Title              string         `db:"title"`
	Description        string         `db:"description"`
	Price              null.Float64   `db:"price"`
	Status             string         `db:"status"`
	OwnerID            string         `db:"owner_id"`
	ThumbnailURL       string         `db:"thumbnail_url"`
	ThumbnailStorageID string         `db:"thumbnail_storage_id"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	Tags               pq.StringArray `db:"tags"`
}

func toCourseRow(c course.Course) courseRow {
	return courseRow{
		ID:                 c.ID,
		Title:              c.Title,
		Description:        c.Description,
		Price:              null.Float64FromPtr(c.Price),
		Status:             string(c.Status),
		OwnerID:            c.OwnerID,
		ThumbnailURL:       c.ThumbnailURL,
		ThumbnailStorageID: c.ThumbnailStorageID,
		CreatedAt:          c.CreatedAt.UTC(),
		UpdatedAt:          c.UpdatedAt.UTC(),
	}
}

func (r courseRow) toCourse() course.Course {
	tags := []string(r.Tags)
	if tags == nil {
		tags = []string{}
	}
	return course.Course{
		ID:                 r.ID,
		Title:              r.Title,
		Description:        r.Description,
		Price:              r.Price.Ptr(),
		Status:             course.Status(r.Status),
		OwnerID:            r.OwnerID,
		Tags:               tags,
		ThumbnailURL:       r.ThumbnailURL,
		ThumbnailStorageID: r.ThumbnailStorageID,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type chapterRow struct {
	ID          string    `db:"id"`
	CourseID    string    `db:"course_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Position    int       `db:"position"`
	Status      string    `db:"status"`
	IsFree      bool      `db:"is_free"`
	VideoURL    string    `db:"video_url"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toChapterRow(ch course.Chapter) chapterRow {
	return chapterRow{
		ID:          ch.ID,
		CourseID:    ch.CourseID,
		Title:       ch.Title,
		Description: ch.Description,
		Position:    ch.Position,
		Status:      string(ch.Status),
		IsFree:      ch.IsFree,
		VideoURL:    ch.VideoURL,
		CreatedAt:   ch.CreatedAt.UTC(),
		UpdatedAt:   ch.UpdatedAt.UTC(),
	}
}

func (r chapterRow) toChapter() course.Chapter {
	return course.Chapter{
		ID:          r.ID,
		CourseID:    r.CourseID,
		Title:       r.Title,
		Description: r.Description,
		Position:    r.Position,
		Status:      course.Status(r.Status),
		IsFree:      r.IsFree,
		VideoURL:    r.VideoURL,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type videoRow struct {
	ID         string    `db:"id"`
	ChapterID  string    `db:"chapter_id"`
	StorageID  string    `db:"storage_id"`
	AssetID    string    `db:"asset_id"`
	PlaybackID string    `db:"playback_id"`
	SourceURL  string    `db:"source_url"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r videoRow) toVideo() course.Video {
	return course.Video{
		ID:         r.ID,
		ChapterID:  r.ChapterID,
		StorageID:  r.StorageID,
		AssetID:    r.AssetID,
		PlaybackID: r.PlaybackID,
		SourceURL:  r.SourceURL,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

type courseRepository struct {
	s session
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *sqlx.DB) course.Repository {
	return &courseRepository{s: session{db: db}}
}

func (repo *courseRepository) Atomic(ctx context.Context, fn func(repo course.Repository) error) error {
	return repo.s.atomic(ctx, func(tx session) error {
		return fn(&courseRepository{s: tx})
	})
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	q := `INSERT INTO course (id, title, description, price, status, owner_id, thumbnail_url, thumbnail_storage_id, created_at, updated_at)
		VALUES (:id, :title, :description, :price, :status, :owner_id, :thumbnail_url, :thumbnail_storage_id, :created_at, :updated_at)`
	row := toCourseRow(c)
	if _, err := sqlx.NamedExecContext(ctx, repo.s.exec(), q, row); err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return row.toCourse(), nil
}

func (repo *courseRepository) getCourse(ctx context.Context, id string, lock bool) (course.Course, error) {
	if !isUUID(id) {
		return course.Course{}, course.ErrCourseNotFound
	}
	q := `SELECT ` + courseColumns + ` FROM course c WHERE c.id = $1`
	if lock {
		q += ` FOR UPDATE OF c`
	}
	var row courseRow
	if err := repo.s.exec().GetContext(ctx, &row, q, id); err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrCourseNotFound, "getting course")
	}
	return row.toCourse(), nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	return repo.getCourse(ctx, id, false)
}

func (repo *courseRepository) LockCourse(ctx context.Context, id string) (course.Course, error) {
	return repo.getCourse(ctx, id, true)
}

func (repo *courseRepository) QueryCourses(
	ctx context.Context,
	filter course.QueryFilter,
	ordering []core.DBOrdering,
) ([]course.Course, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "c.status = "+arg(string(filter.Status)))
	}
	if filter.OwnerID != "" {
		if !isUUID(filter.OwnerID) {
			return []course.Course{}, nil
		}
		where = append(where, "c.owner_id = "+arg(filter.OwnerID))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where = append(where, fmt.Sprintf("(c.title ILIKE %s OR c.description ILIKE %s)", p, p))
	}
	if filter.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM course_tag t WHERE t.course_id = c.id AND t.tag = "+arg(filter.Tag)+")")
	}

	q := `SELECT ` + courseColumns + ` FROM course c`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += orderBy(ordering, courseOrderingColumns, "c.created_at DESC")

	var rows []courseRow
	if err := repo.s.exec().SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, r.toCourse())
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	if !isUUID(c.ID) {
		return course.Course{}, course.ErrCourseNotFound
	}
	q := `UPDATE course SET title = :title, description = :description, price = :price, status = :status,
		owner_id = :owner_id, thumbnail_url = :thumbnail_url, thumbnail_storage_id = :thumbnail_storage_id,
		updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.s.exec(), q, toCourseRow(c))
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if err = checkRowsAffected(res, course.ErrCourseNotFound, "updating course"); err != nil {
		return course.Course{}, err
	}
	return repo.GetCourse(ctx, c.ID)
}

func (repo *courseRepository) AddCourseTags(ctx context.Context, courseID string, tags ...string) error {
	if !isUUID(courseID) {
		return course.ErrCourseNotFound
	}
	q := `INSERT INTO course_tag (course_id, tag) SELECT $1, UNNEST($2::text[]) ON CONFLICT DO NOTHING`
	if _, err := repo.s.exec().ExecContext(ctx, q, courseID, pq.StringArray(tags)); err != nil {
		if isConstraintViolation(err, foreignKeyViolation, "") {
			return course.ErrCourseNotFound
		}
		return errors.Wrap(err, "adding course tags")
	}
	return nil
}

func (repo *courseRepository) RemoveCourseTags(ctx context.Context, courseID string, tags ...string) error {
	if !isUUID(courseID) {
		return course.ErrCourseNotFound
	}
	q := `DELETE FROM course_tag WHERE course_id = $1 AND tag = ANY($2::text[])`
	_, err := repo.s.exec().ExecContext(ctx, q, courseID, pq.StringArray(tags))
	return errors.Wrap(err, "removing course tags")
}

func (repo *courseRepository) CreateChapter(ctx context.Context, ch course.Chapter) (course.Chapter, error) {
	if !isUUID(ch.CourseID) {
		return course.Chapter{}, course.ErrCourseNotFound
	}
	q := `INSERT INTO chapter (` + chapterColumns + `)
		VALUES (:id, :course_id, :title, :description, :position, :status, :is_free, :video_url, :created_at, :updated_at)`
	row := toChapterRow(ch)
	if _, err := sqlx.NamedExecContext(ctx, repo.s.exec(), q, row); err != nil {
		switch {
		case isConstraintViolation(err, foreignKeyViolation, ""):
			return course.Chapter{}, course.ErrCourseNotFound
		case isConstraintViolation(err, uniqueViolation, chapterPositionKey):
			return course.Chapter{}, errChapterPositionTaken
		}
		return course.Chapter{}, errors.Wrap(err, "inserting chapter")
	}
	return row.toChapter(), nil
}

func (repo *courseRepository) GetChapter(ctx context.Context, id string) (course.Chapter, error) {
	if !isUUID(id) {
		return course.Chapter{}, course.ErrChapterNotFound
	}
	var row chapterRow
	q := `SELECT ` + chapterColumns + ` FROM chapter WHERE id = $1`
	if err := repo.s.exec().GetContext(ctx, &row, q, id); err != nil {
		return course.Chapter{}, trapNoRowsErr(err, course.ErrChapterNotFound, "getting chapter")
	}
	return row.toChapter(), nil
}

func (repo *courseRepository) ListChapters(ctx context.Context, courseID string, publishedOnly bool) ([]course.Chapter, error) {
	if !isUUID(courseID) {
		return []course.Chapter{}, nil
	}
	q := `SELECT ` + chapterColumns + ` FROM chapter WHERE course_id = $1`
	args := []interface{}{courseID}
	if publishedOnly {
		q += ` AND status = $2`
		args = append(args, string(course.StatusPublished))
	}
	q += ` ORDER BY position`

	var rows []chapterRow
	if err := repo.s.exec().SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "listing chapters")
	}
	chapters := make([]course.Chapter, 0, len(rows))
	for _, r := range rows {
		chapters = append(chapters, r.toChapter())
	}
	return chapters, nil
}

func (repo *courseRepository) MaxChapterPosition(ctx context.Context, courseID string) (int, error) {
	if !isUUID(courseID) {
		return 0, nil
	}
	var max int
	q := `SELECT COALESCE(MAX(position), 0) FROM chapter WHERE course_id = $1`
	if err := repo.s.exec().GetContext(ctx, &max, q, courseID); err != nil {
		return 0, errors.Wrap(err, "getting max chapter position")
	}
	return max, nil
}

func (repo *courseRepository) UpdateChapter(ctx context.Context, ch course.Chapter) (course.Chapter, error) {
	if !isUUID(ch.ID) {
		return course.Chapter{}, course.ErrChapterNotFound
	}
	q := `UPDATE chapter SET title = :title, description = :description, status = :status, is_free = :is_free,
		video_url = :video_url, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.s.exec(), q, toChapterRow(ch))
	if err != nil {
		return course.Chapter{}, errors.Wrap(err, "updating chapter")
	}
	if err = checkRowsAffected(res, course.ErrChapterNotFound, "updating chapter"); err != nil {
		return course.Chapter{}, err
	}
	return repo.GetChapter(ctx, ch.ID)
}

// SetChapterPositions always runs in a transaction: position uniqueness is only checked on commit.
func (repo *courseRepository) SetChapterPositions(ctx context.Context, courseID string, positions map[string]int) error {
	return repo.s.atomic(ctx, func(tx session) error {
		q := `UPDATE chapter SET position = $1 WHERE id = $2 AND course_id = $3`
		for id, pos := range positions {
			if !isUUID(id) {
				return course.ErrChapterNotFound
			}
			res, err := tx.exec().ExecContext(ctx, q, pos, id, courseID)
			if err != nil {
				return errors.Wrap(err, "setting chapter position")
			}
			if err = checkRowsAffected(res, course.ErrChapterNotFound, "setting chapter position"); err != nil {
				return err
			}
		}
		return nil
	})
}

func (repo *courseRepository) CountPublishedChapters(ctx context.Context, courseID string) (int, error) {
	if !isUUID(courseID) {
		return 0, nil
	}
	var count int
	q := `SELECT COUNT(*) FROM chapter WHERE course_id = $1 AND status = $2`
	if err := repo.s.exec().GetContext(ctx, &count, q, courseID, string(course.StatusPublished)); err != nil {
		return 0, errors.Wrap(err, "counting published chapters")
	}
	return count, nil
}

func (repo *courseRepository) GetVideo(ctx context.Context, chapterID string) (course.Video, error) {
	if !isUUID(chapterID) {
		return course.Video{}, course.ErrVideoNotFound
	}
	var row videoRow
	q := `SELECT ` + videoColumns + ` FROM video WHERE chapter_id = $1`
	if err := repo.s.exec().GetContext(ctx, &row, q, chapterID); err != nil {
		return course.Video{}, trapNoRowsErr(err, course.ErrVideoNotFound, "getting video")
	}
	return row.toVideo(), nil
}

func (repo *courseRepository) CreateVideo(ctx context.Context, v course.Video) (course.Video, error) {
	if !isUUID(v.ChapterID) {
		return course.Video{}, course.ErrChapterNotFound
	}
	v.CreatedAt = v.CreatedAt.UTC()
	q := `INSERT INTO video (` + videoColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := repo.s.exec().ExecContext(ctx, q, v.ID, v.ChapterID, v.StorageID, v.AssetID, v.PlaybackID, v.SourceURL, v.CreatedAt)
	if err != nil {
		switch {
		case isConstraintViolation(err, foreignKeyViolation, ""):
			return course.Video{}, course.ErrChapterNotFound
		case isConstraintViolation(err, uniqueViolation, ""):
			return course.Video{}, core.NewConflictError("chapter already has a video")
		}
		return course.Video{}, errors.Wrap(err, "inserting video")
	}
	return v, nil
}

func (repo *courseRepository) DeleteVideo(ctx context.Context, id string) error {
	if !isUUID(id) {
		return course.ErrVideoNotFound
	}
	res, err := repo.s.exec().ExecContext(ctx, `DELETE FROM video WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting video")
	}
	return checkRowsAffected(res, course.ErrVideoNotFound, "deleting video")
}
