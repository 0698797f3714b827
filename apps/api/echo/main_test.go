package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/trezcool/masomo-fees/apps/api/echo"
	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
	"github.com/trezcool/masomo-fees/services/email"
	"github.com/trezcool/masomo-fees/services/events"
	"github.com/trezcool/masomo-fees/services/export"
	"github.com/trezcool/masomo-fees/tests"
)

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	apiKey   string
	wantCode int
	wantData []byte
}

type fixture struct {
	school *testutil.School
	app    Server
	events *eventsvc.LogPublisher
}

func setup(t *testing.T, apiKey ...string) *fixture {
	testutil.FreezeTime(t)
	conf := testutil.NewConfig()
	conf.Debug = false
	if len(apiKey) > 0 {
		conf.APIKey = apiKey[0]
	}
	logger := testutil.NewLogger(conf)
	testutil.ParseTemplates(conf, logger)
	emailsvc.ResetSentMessages()

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	school := testutil.SeedSchool(t)
	events := eventsvc.NewLogPublisher(nil)
	feeSvc := fee.NewService(
		school.Repo,
		emailsvc.NewConsoleServiceMock(conf, logger),
		events,
		exportsvc.NewExcelWriter(),
		logger,
		conf,
	)

	app := NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		FeeSvc:     feeSvc,
		Validate:   validate,
		Translator: translator,
	})
	return &fixture{school: school, app: app, events: events}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newKeyRequest(method, path, apiKey string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newKeyRequest(method, path, "", data...)
}

// do serves the request and returns the recorder.
func (f *fixture) do(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newRequest(method, path, data...)
	f.app.ServeHTTP(rec, req)
	return rec
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func unmarshall(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
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

func runHTTPTests(t *testing.T, app Server, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newKeyRequest(method, tt.path, tt.apiKey, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
