package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/enrollment"
	"github.com/learnplus/learnplus/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(
	t *testing.T,
	repo course.Repository,
	owner user.User,
	title string,
	price *float64,
	status course.Status,
	tags ...string,
) course.Course {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	c, err := repo.CreateCourse(ctx, course.Course{
		ID:        uuid.NewString(),
		Title:     title,
		Price:     price,
		Status:    status,
		OwnerID:   owner.ID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	if len(tags) > 0 {
		if err = repo.AddCourseTags(ctx, c.ID, tags...); err != nil {
			t.Fatalf("CreateCourse() failed: %v", err)
		}
	}
	if c, err = repo.GetCourse(ctx, c.ID); err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return c
}

// CreateChapter appends a chapter to the course.
func CreateChapter(t *testing.T, repo course.Repository, c course.Course, title string, status course.Status, isFree bool) course.Chapter {
	t.Helper()
	ctx := context.Background()
	maxPos, err := repo.MaxChapterPosition(ctx, c.ID)
	if err != nil {
		t.Fatalf("CreateChapter() failed: %v", err)
	}
	now := time.Now().UTC()
	ch, err := repo.CreateChapter(ctx, course.Chapter{
		ID:        uuid.NewString(),
		CourseID:  c.ID,
		Title:     title,
		Position:  maxPos + 1,
		Status:    status,
		IsFree:    isFree,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateChapter() failed: %v", err)
	}
	return ch
}

// Enroll enrolls the user without going through the payment flow.
func Enroll(t *testing.T, repo enrollment.Repository, usr user.User, c course.Course) enrollment.Enrollment {
	t.Helper()
	e, err := repo.CreateEnrollment(context.Background(), enrollment.Enrollment{
		ID:        uuid.NewString(),
		UserID:    usr.ID,
		CourseID:  c.ID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	return e
}

func Float64Ptr(f float64) *float64 { return &f }
func StringPtr(s string) *string    { return &s }
func BoolPtr(b bool) *bool          { return &b }
