package inmemdb

import (
	"context"
	"sort"

	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/course"
)

var courseOrderingFields = map[string]compareFunc[course.Course]{
	"title":      func(a, b course.Course) int { return compareStrings(a.Title, b.Title) },
	"price":      func(a, b course.Course) int { return compareFloatPtrs(a.Price, b.Price) },
	"created_at": func(a, b course.Course) int { return compareTimes(a.CreatedAt, b.CreatedAt) },
	"updated_at": func(a, b course.Course) int { return compareTimes(a.UpdatedAt, b.UpdatedAt) },
}

type courseRepository struct {
	s session
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{s: session{db: db}}
}

func (repo *courseRepository) Atomic(ctx context.Context, fn func(repo course.Repository) error) error {
	return repo.s.atomic(ctx, func(tx session) error {
		return fn(&courseRepository{s: tx})
	})
}

func copyCourse(c course.Course) course.Course {
	c.Tags = copyStrings(c.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	sort.Strings(c.Tags)
	if c.Price != nil {
		price := *c.Price
		c.Price = &price
	}
	return c
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course) (course.Course, error) {
	c = copyCourse(c)
	c.Tags = []string{} // tags are added separately
	err := repo.s.write(func(t *tables) error {
		t.courses[c.ID] = c
		return nil
	})
	return copyCourse(c), err
}

func (repo *courseRepository) GetCourse(_ context.Context, id string) (c course.Course, err error) {
	err = repo.s.read(func(t *tables) error {
		var ok bool
		if c, ok = t.courses[id]; !ok {
			return course.ErrCourseNotFound
		}
		c = copyCourse(c)
		return nil
	})
	return c, err
}

// LockCourse is GetCourse: transactions already run one at a time.
func (repo *courseRepository) LockCourse(ctx context.Context, id string) (course.Course, error) {
	return repo.GetCourse(ctx, id)
}

func (repo *courseRepository) QueryCourses(
	_ context.Context,
	filter course.QueryFilter,
	ordering []core.DBOrdering,
) ([]course.Course, error) {
	courses := make([]course.Course, 0)
	err := repo.s.read(func(t *tables) error {
		for _, c := range t.courses {
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
			if filter.OwnerID != "" && c.OwnerID != filter.OwnerID {
				continue
			}
			if filter.Search != "" && !(containsFold(c.Title, filter.Search) || containsFold(c.Description, filter.Search)) {
				continue
			}
			if filter.Tag != "" && !hasTag(c.Tags, filter.Tag) {
				continue
			}
			courses = append(courses, copyCourse(c))
		}
		return nil
	})
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sortBy(courses, ordering, courseOrderingFields)
	return courses, err
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course) (course.Course, error) {
	err := repo.s.write(func(t *tables) error {
		orig, ok := t.courses[c.ID]
		if !ok {
			return course.ErrCourseNotFound
		}
		c = copyCourse(c)
		c.Tags = orig.Tags
		c.CreatedAt = orig.CreatedAt
		t.courses[c.ID] = c
		return nil
	})
	if err != nil {
		return course.Course{}, err
	}
	return copyCourse(c), nil
}

func (repo *courseRepository) AddCourseTags(_ context.Context, courseID string, tags ...string) error {
	return repo.s.write(func(t *tables) error {
		c, ok := t.courses[courseID]
		if !ok {
			return course.ErrCourseNotFound
		}
		c.Tags = copyStrings(c.Tags)
		for _, tag := range tags {
			if !hasTag(c.Tags, tag) {
				c.Tags = append(c.Tags, tag)
			}
		}
		sort.Strings(c.Tags)
		t.courses[courseID] = c
		return nil
	})
}

func (repo *courseRepository) RemoveCourseTags(_ context.Context, courseID string, tags ...string) error {
	return repo.s.write(func(t *tables) error {
		c, ok := t.courses[courseID]
		if !ok {
			return course.ErrCourseNotFound
		}
		kept := make([]string, 0, len(c.Tags))
		for _, tag := range c.Tags {
			if !hasTag(tags, tag) {
				kept = append(kept, tag)
			}
		}
		c.Tags = kept
		t.courses[courseID] = c
		return nil
	})
}

func (repo *courseRepository) CreateChapter(_ context.Context, ch course.Chapter) (course.Chapter, error) {
	err := repo.s.write(func(t *tables) error {
		if _, ok := t.courses[ch.CourseID]; !ok {
			return course.ErrCourseNotFound
		}
		for _, other := range t.chapters {
			if other.CourseID == ch.CourseID && other.Position == ch.Position {
				return core.NewConflictError("chapter position already taken")
			}
		}
		t.chapters[ch.ID] = ch
		return nil
	})
	if err != nil {
		return course.Chapter{}, err
	}
	return ch, nil
}

func (repo *courseRepository) GetChapter(_ context.Context, id string) (ch course.Chapter, err error) {
	err = repo.s.read(func(t *tables) error {
		var ok bool
		if ch, ok = t.chapters[id]; !ok {
			return course.ErrChapterNotFound
		}
		return nil
	})
	return ch, err
}

func (repo *courseRepository) ListChapters(_ context.Context, courseID string, publishedOnly bool) ([]course.Chapter, error) {
	chapters := make([]course.Chapter, 0)
	err := repo.s.read(func(t *tables) error {
		for _, ch := range t.chapters {
			if ch.CourseID != courseID || (publishedOnly && !ch.IsPublished()) {
				continue
			}
			chapters = append(chapters, ch)
		}
		return nil
	})
	course.SortChapters(chapters)
	return chapters, err
}

func (repo *courseRepository) MaxChapterPosition(_ context.Context, courseID string) (max int, err error) {
	err = repo.s.read(func(t *tables) error {
		for _, ch := range t.chapters {
			if ch.CourseID == courseID && ch.Position > max {
				max = ch.Position
			}
		}
		return nil
	})
	return max, err
}

func (repo *courseRepository) UpdateChapter(_ context.Context, ch course.Chapter) (course.Chapter, error) {
	err := repo.s.write(func(t *tables) error {
		orig, ok := t.chapters[ch.ID]
		if !ok {
			return course.ErrChapterNotFound
		}
		ch.CourseID = orig.CourseID
		ch.Position = orig.Position
		ch.CreatedAt = orig.CreatedAt
		t.chapters[ch.ID] = ch
		return nil
	})
	if err != nil {
		return course.Chapter{}, err
	}
	return ch, nil
}

func (repo *courseRepository) SetChapterPositions(_ context.Context, courseID string, positions map[string]int) error {
	return repo.s.write(func(t *tables) error {
		for id, pos := range positions {
			ch, ok := t.chapters[id]
			if !ok || ch.CourseID != courseID {
				return course.ErrChapterNotFound
			}
			ch.Position = pos
			t.chapters[id] = ch
		}
		// deferred uniqueness check, as the SQL constraint does at commit
		taken := make(map[int]string)
		for _, ch := range t.chapters {
			if ch.CourseID != courseID {
				continue
			}
			if _, dup := taken[ch.Position]; dup {
				return core.NewConflictError("chapter position already taken")
			}
			taken[ch.Position] = ch.ID
		}
		return nil
	})
}

func (repo *courseRepository) CountPublishedChapters(_ context.Context, courseID string) (count int, err error) {
	err = repo.s.read(func(t *tables) error {
		for _, ch := range t.chapters {
			if ch.CourseID == courseID && ch.IsPublished() {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (repo *courseRepository) GetVideo(_ context.Context, chapterID string) (v course.Video, err error) {
	err = repo.s.read(func(t *tables) error {
		for _, video := range t.videos {
			if video.ChapterID == chapterID {
				v = video
				return nil
			}
		}
		return course.ErrVideoNotFound
	})
	return v, err
}

func (repo *courseRepository) CreateVideo(_ context.Context, v course.Video) (course.Video, error) {
	err := repo.s.write(func(t *tables) error {
		if _, ok := t.chapters[v.ChapterID]; !ok {
			return course.ErrChapterNotFound
		}
		for _, video := range t.videos {
			if video.ChapterID == v.ChapterID {
				return core.NewConflictError("chapter already has a video")
			}
		}
		t.videos[v.ID] = v
		return nil
	})
	if err != nil {
		return course.Video{}, err
	}
	return v, nil
}

func (repo *courseRepository) DeleteVideo(_ context.Context, id string) error {
	return repo.s.write(func(t *tables) error {
		if _, ok := t.videos[id]; !ok {
			return course.ErrVideoNotFound
		}
		delete(t.videos, id)
		return nil
	})
}
