package course

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/learnplus/learnplus/core"
)

// Status is the publication status of a Course or a Chapter.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
)

type Course struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Price              *float64  `json:"price"`
	Status             Status    `json:"status"`
	OwnerID            string    `json:"owner_id"`
	Tags               []string  `json:"tags"`
	ThumbnailURL       string    `json:"thumbnail_url"`
	ThumbnailStorageID string    `json:"-"`
	CreatedAt          time.Time `json:"created_at"` // UTC
	UpdatedAt          time.Time `json:"updated_at"` // UTC
}

func (c Course) IsPublished() bool { return c.Status == StatusPublished }

type Chapter struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Position    int       `json:"position"`
	Status      Status    `json:"status"`
	IsFree      bool      `json:"is_free"`
	VideoURL    string    `json:"video_url"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (ch Chapter) IsPublished() bool { return ch.Status == StatusPublished }

// Video is the streaming asset attached to a Chapter. A chapter has at most one.
type Video struct {
	ID         string    `json:"id"`
	ChapterID  string    `json:"chapter_id"`
	StorageID  string    `json:"-"`
	AssetID    string    `json:"-"`
	PlaybackID string    `json:"playback_id"`
	SourceURL  string    `json:"source_url"`
	CreatedAt  time.Time `json:"created_at"` // UTC
}

// CourseDetail is a Course along with the chapters its viewer may see, ordered by position.
type CourseDetail struct {
	Course
	Chapters []Chapter `json:"chapters"`
}

type NewCourse struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=5000"`
	Price       *float64 `json:"price" validate:"omitempty,gte=0"`
	Tags        []string `json:"tags" validate:"omitempty,max=20,dive,max=50"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	nc.Tags = core.CleanStrings(nc.Tags, true /* lower */)
	return validate.Struct(nc)
}

// CoursePatch is a sparse update: only non-nil fields are written.
type CoursePatch struct {
	Title       *string   `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string   `json:"description" validate:"omitempty,max=5000"`
	Price       *float64  `json:"price" validate:"omitempty,gte=0"`
	Tags        *[]string `json:"tags" validate:"omitempty,max=20,dive,max=50"`
}

func (cp *CoursePatch) Validate(validate *validator.Validate) error {
	if cp.Title != nil {
		title := core.CleanString(*cp.Title)
		cp.Title = &title
	}
	if cp.Description != nil {
		desc := core.CleanString(*cp.Description)
		cp.Description = &desc
	}
	if cp.Tags != nil {
		tags := core.CleanStrings(*cp.Tags, true /* lower */)
		if tags == nil {
			tags = []string{}
		}
		cp.Tags = &tags
	}
	return validate.Struct(cp)
}

func (cp CoursePatch) IsEmpty() bool {
	return cp.Title == nil && cp.Description == nil && cp.Price == nil && cp.Tags == nil
}

type NewChapter struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	IsFree      bool   `json:"is_free"`
}

func (nc *NewChapter) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

// ChapterPatch is a sparse update: only non-nil fields are written.
type ChapterPatch struct {
	Title       *string `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	IsFree      *bool   `json:"is_free"`
}

func (cp *ChapterPatch) Validate(validate *validator.Validate) error {
	if cp.Title != nil {
		title := core.CleanString(*cp.Title)
		cp.Title = &title
	}
	if cp.Description != nil {
		desc := core.CleanString(*cp.Description)
		cp.Description = &desc
	}
	return validate.Struct(cp)
}

type ChapterPosition struct {
	ID       string `json:"id" validate:"required"`
	Position int    `json:"position" validate:"min=1"`
}

type ReorderChapters struct {
	Chapters []ChapterPosition `json:"chapters" validate:"required,min=1,dive"`
}

type QueryFilter struct {
	Search  string `query:"search"`
	Tag     string `query:"tag"`
	OwnerID string `query:"-"`
	Status  Status `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Tag = core.CleanString(qf.Tag, true /* lower */)
}
