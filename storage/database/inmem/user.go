package inmemdb

import (
	"context"
	"strings"

	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/user"
)

var userOrderingFields = map[string]compareFunc[user.User]{
	"name":       func(a, b user.User) int { return compareStrings(a.Name, b.Name) },
	"username":   func(a, b user.User) int { return compareStrings(a.Username, b.Username) },
	"email":      func(a, b user.User) int { return compareStrings(a.Email, b.Email) },
	"created_at": func(a, b user.User) int { return compareTimes(a.CreatedAt, b.CreatedAt) },
	"last_login": func(a, b user.User) int { return compareTimes(a.LastLogin, b.LastLogin) },
}

type userRepository struct {
	s session
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{s: session{db: db}}
}

func (repo *userRepository) CheckUniqueness(_ context.Context, username, email string, excludedIDs ...string) error {
	return repo.s.read(func(t *tables) error {
		return checkUniqueness(t, username, email, excludedIDs...)
	})
}

func checkUniqueness(t *tables, username, email string, excludedIDs ...string) error {
	excluded := make(map[string]struct{}, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = struct{}{}
	}
	for _, usr := range t.users {
		if _, ok := excluded[usr.ID]; ok {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	usr.Roles = copyStrings(usr.Roles)
	err := repo.s.write(func(t *tables) error {
		if err := checkUniqueness(t, usr.Username, usr.Email); err != nil {
			return err
		}
		t.users[usr.ID] = usr
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) GetUserByID(_ context.Context, id string) (usr user.User, err error) {
	err = repo.s.read(func(t *tables) error {
		var ok bool
		if usr, ok = t.users[id]; !ok {
			return user.ErrNotFound
		}
		return nil
	})
	return usr, err
}

func (repo *userRepository) GetUserByUsernameOrEmail(_ context.Context, uname string) (usr user.User, err error) {
	err = repo.s.read(func(t *tables) error {
		for _, u := range t.users {
			if (u.Username != "" && u.Username == uname) || (u.Email != "" && u.Email == uname) {
				usr = u
				return nil
			}
		}
		return user.ErrNotFound
	})
	return usr, err
}

func (repo *userRepository) QueryUsers(
	_ context.Context,
	filter user.QueryFilter,
	ordering []core.DBOrdering,
) ([]user.User, error) {
	users := make([]user.User, 0)
	err := repo.s.read(func(t *tables) error {
		for _, usr := range t.users {
			if filter.Search != "" &&
				!(containsFold(usr.Name, filter.Search) ||
					containsFold(usr.Username, filter.Search) ||
					containsFold(usr.Email, filter.Search)) {
				continue
			}
			if len(filter.Roles) > 0 && !hasAnyRole(usr.Roles, filter.Roles) {
				continue
			}
			if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
				continue
			}
			if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
				continue
			}
			if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
				continue
			}
			users = append(users, usr)
		}
		return nil
	})
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sortBy(users, ordering, userOrderingFields)
	return users, err
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	usr.Roles = copyStrings(usr.Roles)
	err := repo.s.write(func(t *tables) error {
		if _, ok := t.users[usr.ID]; !ok {
			return user.ErrNotFound
		}
		if err := checkUniqueness(t, usr.Username, usr.Email, usr.ID); err != nil {
			return err
		}
		t.users[usr.ID] = usr
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

// hasAnyRole reports whether one of usrRoles starts with one of the given roles.
func hasAnyRole(usrRoles []string, roles []string) bool {
	for _, r := range usrRoles {
		for _, prefix := range roles {
			if strings.HasPrefix(r, prefix) {
				return true
			}
		}
	}
	return false
}
