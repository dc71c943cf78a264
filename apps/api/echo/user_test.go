package echoapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/learnplus/learnplus/apps/api/echo"
	"github.com/learnplus/learnplus/core/user"
	testutil "github.com/learnplus/learnplus/tests"
)

const pwd = "Str0ng!Pass#2026"

func Test_userApi_register(t *testing.T) {
	env := setup(t)
	testutil.CreateUser(t, env.usrRepo, "Taken", "taken", "taken@test.com", "", user.StudentRoles, true)

	body := func(uname, email, pass string, roles ...string) []byte {
		data, _ := json.Marshal(map[string]interface{}{
			"name": "New User", "username": uname, "email": email,
			"password": pass, "password_confirm": pass, "roles": roles,
		})
		return data
	}

	t.Run("invalid data", func(t *testing.T) {
		rec := env.serve(newRequest(http.MethodPost, "/v1/users/register", body("taken", "bad", pwd)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp struct {
			Success bool              `json:"success"`
			Error   string            `json:"error"`
			Data    map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "validation_failed", resp.Error)
		assert.Contains(t, resp.Data, "email")
	})

	t.Run("username taken", func(t *testing.T) {
		rec := env.serve(newRequest(http.MethodPost, "/v1/users/register", body("TAKEN", "other@test.com", pwd)))
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest}, rec)
		assert.Contains(t, rec.Body.String(), `"username":"a user with this username already exists"`)
	})

	t.Run("students only", func(t *testing.T) {
		rec := env.serve(newRequest(http.MethodPost, "/v1/users/register", body("newbie", "newbie@test.com", pwd, user.RoleAdmin)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var usr user.User
		decodeData(t, rec, &usr)
		assert.Equal(t, "newbie", usr.Username)
		assert.Equal(t, user.StudentRoles, usr.Roles)
		assert.NotContains(t, rec.Body.String(), "password")

		sent := env.mailSvc.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "welcome", sent[0].TemplateName)
	})
}

func Test_userApi_login(t *testing.T) {
	env := setup(t)
	testutil.CreateUser(t, env.usrRepo, "Active", "active", "active@test.com", pwd, user.StudentRoles, true)
	testutil.CreateUser(t, env.usrRepo, "Inactive", "inactive", "inactive@test.com", pwd, user.StudentRoles, false)

	login := func(uname, pass string) []byte {
		data, _ := json.Marshal(echoapi.LoginRequest{Username: uname, Password: pass})
		return data
	}
	authFailed := marshalErr(t, httpErr{Error: "bad_request", Message: "authentication failed"})

	env.runTests(t, []httpTest{
		{
			name: "missing fields", method: http.MethodPost, path: "/v1/users/login", body: login("", ""),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown user", method: http.MethodPost, path: "/v1/users/login", body: login("ghost", pwd),
			wantCode: http.StatusBadRequest, wantData: authFailed,
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login", body: login("active", "nope"),
			wantCode: http.StatusBadRequest, wantData: authFailed,
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login", body: login("inactive", pwd),
			wantCode: http.StatusForbidden, wantData: marshalErr(t, httpErr{Error: "permission_denied", Message: "account deactivated"}),
		},
	})

	t.Run("by username or email", func(t *testing.T) {
		for _, uname := range []string{"ACTIVE", "active@test.com"} {
			rec := env.serve(newRequest(http.MethodPost, "/v1/users/login", login(uname, pwd)))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp echoapi.LoginResponse
			decodeData(t, rec, &resp)
			require.NotEmpty(t, resp.Token)

			// the token authenticates the user
			rec = env.serve(newAuthRequest(http.MethodGet, "/v1/users/me", resp.Token))
			require.Equal(t, http.StatusOK, rec.Code)
			var me user.User
			decodeData(t, rec, &me)
			assert.Equal(t, "active", me.Username)
			assert.False(t, me.LastLogin.IsZero())
		}
	})
}

func Test_userApi_tokenRefresh(t *testing.T) {
	env := setup(t)
	usr, token := env.createUser(t, "student", user.StudentRoles)

	env.runTests(t, []httpTest{
		{
			name: "auth required", method: http.MethodPost, path: "/v1/users/token-refresh",
			wantCode: http.StatusUnauthorized, wantData: marshalErr(t, errMissingToken),
		},
		{
			name: "invalid token", method: http.MethodPost, path: "/v1/users/token-refresh", token: token + "x",
			wantCode: http.StatusUnauthorized,
		},
	})

	rec := env.serve(newAuthRequest(http.MethodPost, "/v1/users/token-refresh", token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp echoapi.LoginResponse
	decodeData(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)

	// deactivated users cannot refresh
	usr.IsActive = false
	_, err := env.usrRepo.UpdateUser(context.Background(), usr)
	require.NoError(t, err)
	rec = env.serve(newAuthRequest(http.MethodPost, "/v1/users/token-refresh", token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_userApi_query(t *testing.T) {
	env := setup(t)
	student, studentToken := env.createUser(t, "student", user.StudentRoles)
	instructor, _ := env.createUser(t, "instructor", user.InstructorRoles)
	admin, adminToken := env.createUser(t, "admin", []string{user.RoleAdmin})

	env.runTests(t, []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marshalErr(t, errMissingToken)},
		{
			name: "admin required", path: "/v1/users", token: studentToken, wantCode: http.StatusForbidden,
			wantData: marshalErr(t, httpErr{Error: "permission_denied", Message: "permission denied"}),
		},
		{
			name: "search", path: "/v1/users?search=STUD", token: adminToken, wantCode: http.StatusOK,
			wantData: marshalData(t, []user.User{student}),
		},
		{
			name: "roles", path: "/v1/users?role=admin:&role=instructor:&ordering=username", token: adminToken,
			wantCode: http.StatusOK, wantData: marshalData(t, []user.User{admin, instructor}),
		},
		{name: "list roles", path: "/v1/users/roles", token: adminToken, wantCode: http.StatusOK, wantData: marshalData(t, user.Roles)},
	})
}

func Test_userApi_create(t *testing.T) {
	env := setup(t)
	_, adminToken := env.createUser(t, "admin", []string{user.RoleAdmin})

	body := func(uname string, roles ...string) []byte {
		data, _ := json.Marshal(user.NewUser{
			Name: "Staff", Username: uname, Password: pwd, PasswordConfirm: pwd, Roles: roles,
		})
		return data
	}

	rec := env.serve(newAuthRequest(http.MethodPost, "/v1/users", adminToken, body("staff", user.RoleInstructor)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var usr user.User
	decodeData(t, rec, &usr)
	assert.Equal(t, []string{user.RoleInstructor}, usr.Roles)

	// cannot grant a role above one's own
	rec = env.serve(newAuthRequest(http.MethodPost, "/v1/users", adminToken, body("owner", user.RoleAdminOwner)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enough rights to set these roles")
}

func Test_userApi_passwordReset(t *testing.T) {
	env := setup(t)
	usr := testutil.CreateUser(t, env.usrRepo, "Carol", "carol", "carol@test.com", pwd, user.StudentRoles, true)

	req := func(email string) []byte {
		data, _ := json.Marshal(echoapi.PasswordResetRequest{Email: email})
		return data
	}

	// unknown emails get the same answer
	for _, email := range []string{"ghost@test.com", "carol@test.com"} {
		rec := env.serve(newRequest(http.MethodPost, "/v1/users/password-reset", req(email)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	sent := env.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	data := sent[0].TemplateData.(map[string]interface{})

	newPwd := "N3w!Secret#Pwd"
	confirm := func(token string) []byte {
		b, _ := json.Marshal(user.ResetUserPassword{
			UID: data["UID"].(string), Token: token, Password: newPwd, PasswordConfirm: newPwd,
		})
		return b
	}

	rec := env.serve(newRequest(http.MethodPost, "/v1/users/password-reset-confirm", confirm("bad-token")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid password reset link")

	rec = env.serve(newRequest(http.MethodPost, "/v1/users/password-reset-confirm", confirm(data["Token"].(string))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := env.usrRepo.GetUserByID(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.NoError(t, got.CheckPassword(newPwd))
}
