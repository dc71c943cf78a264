package echoapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	echoapi "github.com/learnplus/learnplus/apps/api/echo"
	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/enrollment"
	"github.com/learnplus/learnplus/core/user"
	appfs "github.com/learnplus/learnplus/fs"
	emailsvc "github.com/learnplus/learnplus/services/email"
	logsvc "github.com/learnplus/learnplus/services/logger"
	mediasvc "github.com/learnplus/learnplus/services/media"
	inmemdb "github.com/learnplus/learnplus/storage/database/inmem"
	testutil "github.com/learnplus/learnplus/tests"
)

var errMissingToken = httpErr{Error: "unauthenticated", Message: "missing or malformed jwt"}

type testEnv struct {
	conf    *core.Config
	app     *echoapi.Server
	usrRepo user.Repository
	courses course.Repository
	enRepo  enrollment.Repository
	media   *mediasvc.Mock
	mailSvc *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := &core.Config{
		Env:                       "TEST",
		TestMode:                  true,
		AppName:                   "LearnPlus",
		SecretKey:                 "secret",
		FrontendBaseURL:           "http://learnplus.test",
		PasswordResetTimeoutDelta: 72 * time.Hour,
		Server: core.ServerConfig{
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			MaxUploadSize:             1 << 20,
		},
	}
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	require.NoError(t, core.ParseEmailTemplates(appfs.FS, true, logger))
	require.NoError(t, user.LoadCommonPasswords(appfs.FS))

	translator, _ := ut.New(en.New()).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.RegisterValidators(validate, translator)

	// set up DB & repos
	db := inmemdb.Open()
	env := &testEnv{
		conf:    conf,
		usrRepo: inmemdb.NewUserRepository(db),
		courses: inmemdb.NewCourseRepository(db),
		enRepo:  inmemdb.NewEnrollmentRepository(db),
		media:   mediasvc.NewMock(),
		mailSvc: emailsvc.NewConsoleServiceMock(conf, logger),
	}

	// set up server
	env.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		UserSvc:       user.NewService(env.usrRepo, env.mailSvc, conf),
		CourseSvc:     course.NewService(env.courses, env.media.Services(), validate, logger),
		EnrollmentSvc: enrollment.NewService(env.enRepo, env.courses, env.usrRepo, env.mailSvc, logger),
		Validate:      validate,
		Translator:    translator,
	})
	t.Cleanup(func() { _ = env.app.Close() })
	return env
}

type httpErr struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e httpErr) response() echoapi.Response {
	return echoapi.Response{Error: e.Error, Message: e.Message}
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func (env *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.app.ServeHTTP(rec, req)
	return rec
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

func newUploadRequest(t *testing.T, path, token, filename string, content []byte) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (env *testEnv) getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(env.conf, echoapi.GetUserClaims(env.conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func (env *testEnv) createUser(t *testing.T, uname string, roles []string) (user.User, string) {
	t.Helper()
	usr := testutil.CreateUser(t, env.usrRepo, uname, uname, uname+"@test.com", "", roles, true)
	return usr, env.getToken(t, usr)
}

// marshalData returns the JSON envelope of a successful response carrying obj.
func marshalData(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(echoapi.Response{Success: true, Data: obj})
	if err != nil {
		t.Fatalf("marshalData() failed: %v", err)
	}
	return data
}

func marshalErr(t *testing.T, e httpErr) []byte {
	data, err := json.Marshal(e.response())
	if err != nil {
		t.Fatalf("marshalErr() failed: %v", err)
	}
	return data
}

// decodeData unmarshals the data of a response envelope into v.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	require.True(t, resp.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func (env *testEnv) runTests(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := env.serve(newAuthRequest(method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}
}
