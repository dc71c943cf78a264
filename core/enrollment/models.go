package enrollment

import (
	"time"

	"github.com/learnplus/learnplus/core/course"
)

// PaymentStatus
const (
	PaymentCompleted = "COMPLETED"
	PaymentFailed    = "FAILED"
)

type Enrollment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CourseID  string    `json:"course_id"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// ChapterProgress tracks whether a user completed a chapter. There is at most one per (user, chapter).
type ChapterProgress struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ChapterID   string    `json:"chapter_id"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

type Payment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CourseID  string    `json:"course_id"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// ChapterView is what a learner gets when opening a chapter.
type ChapterView struct {
	Chapter     course.Chapter   `json:"chapter"`
	Course      course.Course    `json:"course"`
	Video       *course.Video    `json:"video"`    // nil unless HasAccess or previewed by a manager
	Progress    *ChapterProgress `json:"progress"` // nil unless HasAccess
	NextChapter *course.Chapter  `json:"next_chapter"`
	IsEnrolled  bool             `json:"is_enrolled"`
	HasAccess   bool             `json:"has_access"`
}

type CourseProgress struct {
	course.Course
	Chapters   []course.Chapter `json:"chapters"` // published only
	Completion int              `json:"completion"`
}

type Dashboard struct {
	Completed  []CourseProgress `json:"completed"`
	InProgress []CourseProgress `json:"in_progress"`
}

type CourseSales struct {
	CourseID string  `json:"course_id"`
	Title    string  `json:"title"`
	Revenue  float64 `json:"revenue"`
	Sales    int     `json:"sales"`
}

type Analytics struct {
	TotalRevenue float64       `json:"total_revenue"`
	TotalSales   int           `json:"total_sales"`
	Courses      []CourseSales `json:"courses"`
}
