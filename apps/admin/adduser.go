package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/user"
)

// addUser updates the user owning `uname` or `email`, or creates it.
// The user is (re)activated with the given roles & password.
func (cli *commandLine) addUser(name, uname, email, pwd string, roles []string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	now := time.Now().UTC()

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if core.IsNotFound(err) {
		usr, err = cli.usrRepo.GetUserByUsernameOrEmail(ctx, email)
	}
	exists := err == nil
	if err != nil && !core.IsNotFound(err) {
		return err
	}
	if !exists {
		usr = user.User{ID: uuid.NewString(), Username: uname, Email: email, CreatedAt: now}
	}

	usr.Name = core.CleanString(name)
	usr.Roles = roles
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}

	if exists {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
		return errors.Wrap(err, "updating user")
	}
	if err = cli.usrRepo.CheckUniqueness(ctx, uname, email); err != nil {
		return err
	}
	_, err = cli.usrRepo.CreateUser(ctx, usr)
	return errors.Wrap(err, "creating user")
}
