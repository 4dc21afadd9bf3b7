package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-bulletins/apps/api/echo"
	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/user"
	testutil "github.com/trezcool/masomo-bulletins/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
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

type app struct {
	*testutil.Fixture
	server *echoapi.Server
	math   grade.Subject
}

// setup seeds class 6A with 3 students and one math subject taught by t1.
func setup(t *testing.T) *app {
	f := testutil.NewFixture(t)
	testutil.SeedClass(t, f.Roster, grade.Class{ID: "6A", Name: "6e A"}, testutil.Students(3)...)
	math := testutil.CreateSubject(t, f.Subjects, "6A", "MATH", "Mathématiques", "4", "t1")

	srv := echoapi.NewServer(&echoapi.Options{
		Conf:        f.Conf,
		Logger:      f.Logger,
		Validate:    f.Validate,
		Translator:  f.Translator,
		Grades:      f.Grades,
		Results:     f.Results,
		Bulletins:   f.Bulletins,
		Coordinator: f.Coordinator,
	})
	return &app{Fixture: f, server: srv, math: math}
}

func (a *app) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var data []byte
	if body != nil {
		data = marshalObj(t, body)
	}
	req, rec := newAuthRequest(method, path, token, data)
	a.server.ServeHTTP(rec, req)
	return rec
}

func newAuthRequest(method, path, token string, data []byte) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func getToken(t *testing.T, usr user.User, conf *core.Config) string {
	token, err := echoapi.GenerateToken(usr, conf)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode() failed: %v; body %s", err, rec.Body.String())
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

func studentTermQuery(st grade.StudentTerm) string {
	v := make(url.Values)
	v.Set("student_id", st.StudentID)
	v.Set("class_id", st.ClassID)
	v.Set("academic_year", st.AcademicYear)
	v.Set("term", string(st.Term))
	return v.Encode()
}

func TestHome(t *testing.T) {
	a := setup(t)
	rec := a.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccess(t *testing.T) {
	a := setup(t)
	dirToken := getToken(t, testutil.Director(), a.Conf)
	teacherToken := getToken(t, testutil.Teacher("t1"), a.Conf)
	nobodyToken := getToken(t, user.User{ID: "p1", Name: "Parent"}, a.Conf)
	forbidden := marshalObj(t, httpErr{Error: "permission denied", Code: core.CodeForbidden})

	tests := []httpTest{
		{name: "Auth required", method: http.MethodGet, path: "/v1/bulletins", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "Bad token", method: http.MethodGet, path: "/v1/bulletins", token: "nope", wantCode: http.StatusUnauthorized},
		{name: "Staff required", method: http.MethodGet, path: "/v1/bulletins", token: nobodyToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "Teacher can list", method: http.MethodGet, path: "/v1/bulletins", token: teacherToken, wantCode: http.StatusOK, wantData: []byte("[]")},
		{
			name: "Director required (subjects)", method: http.MethodPost, path: "/v1/subjects", token: teacherToken,
			body: []byte(`{}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "Director required (bulk)", method: http.MethodPost, path: "/v1/bulletins/bulk", token: teacherToken,
			body: []byte(`{}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{name: "Director can list", method: http.MethodGet, path: "/v1/bulletins", token: dirToken, wantCode: http.StatusOK, wantData: []byte("[]")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			a.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestGrades(t *testing.T) {
	a := setup(t)
	st := testutil.StudentTerm("s1", "6A", grade.TermT1)
	newGrade := func(term string, grade string) map[string]interface{} {
		return map[string]interface{}{
			"student_id":    st.StudentID,
			"class_id":      st.ClassID,
			"academic_year": st.AcademicYear,
			"term":          term,
			"subject_id":    a.math.ID,
			"grade":         grade,
		}
	}

	t.Run("owner teacher records", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/v1/grades", getToken(t, testutil.Teacher("t1"), a.Conf), newGrade("T1", "15"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var comp grade.Component
		decode(t, rec, &comp)
		assert.True(t, comp.ExamScore.Equal(testutil.Dec("15")))
		assert.Nil(t, comp.ContinuousScore)
	})

	t.Run("other teacher is refused", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/v1/grades", getToken(t, testutil.Teacher("t2"), a.Conf), newGrade("T1", "12"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/v1/grades", getToken(t, testutil.Director(), a.Conf), newGrade("T4", "25"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp struct {
			Code   string            `json:"code"`
			Fields map[string]string `json:"fields"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, core.CodeValidation, resp.Code)
		assert.Contains(t, resp.Fields, "term")
	})

	t.Run("snapshot", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, "/v1/grades?"+studentTermQuery(st), getToken(t, testutil.Teacher("t1"), a.Conf), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var snap grade.Snapshot
		decode(t, rec, &snap)
		assert.EqualValues(t, 1, snap.Revision)
		assert.Len(t, snap.Components, 1)
	})
}

func TestSubjects(t *testing.T) {
	a := setup(t)
	token := getToken(t, testutil.Director(), a.Conf)

	rec := a.do(t, http.MethodPost, "/v1/subjects", token, map[string]interface{}{
		"class_id": "6A", "name": "Physique", "code": "PHY", "coefficient": "2", "category": "scientific",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub grade.Subject
	decode(t, rec, &sub)

	rec = a.do(t, http.MethodPut, "/v1/subjects/"+sub.ID, token, map[string]interface{}{"coefficient": "3"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &sub)
	assert.True(t, sub.Coefficient.Equal(testutil.Dec("3")))

	rec = a.do(t, http.MethodGet, "/v1/subjects?class_id=6A", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var subjects []grade.Subject
	decode(t, rec, &subjects)
	assert.Len(t, subjects, 2)

	rec = a.do(t, http.MethodPost, "/v1/subjects", token, map[string]interface{}{
		"class_id": "6A", "name": "Physique", "code": "PHY", "coefficient": "2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResults(t *testing.T) {
	a := setup(t)
	token := getToken(t, testutil.Teacher("t1"), a.Conf)
	for sid, exam := range map[string]string{"s1": "12", "s2": "16"} {
		a.Grade(t, testutil.StudentTerm(sid, "6A", grade.TermT1), a.math.ID, "10", exam)
	}

	rec := a.do(t, http.MethodGet, "/v1/results/term?"+studentTermQuery(testutil.StudentTerm("s2", "6A", grade.TermT1)), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/v1/results/term?"+studentTermQuery(testutil.StudentTerm("s3", "6A", grade.TermT1)), token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/results/ranking?class_id=6A&academic_year="+testutil.Year+"&term=T1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ranking struct {
		Entries []struct {
			StudentID string `json:"student_id"`
			Rank      int    `json:"rank"`
		} `json:"entries"`
		Unranked []string `json:"unranked"`
		Size     int      `json:"size"`
	}
	decode(t, rec, &ranking)
	require.Len(t, ranking.Entries, 2)
	assert.Equal(t, "s2", ranking.Entries[0].StudentID)
	assert.Equal(t, []string{"s3"}, ranking.Unranked)
	assert.Equal(t, 3, ranking.Size)

	rec = a.do(t, http.MethodGet, "/v1/results/annual?student_id=s1&class_id=6A&academic_year="+testutil.Year, token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/results/trend?"+studentTermQuery(testutil.StudentTerm("s1", "6A", grade.TermT1)), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulletinLifecycle(t *testing.T) {
	a := setup(t)
	dirToken := getToken(t, testutil.Director(), a.Conf)
	teacherToken := getToken(t, testutil.Teacher("t1"), a.Conf)
	st := testutil.StudentTerm("s1", "6A", grade.TermT1)

	rec := a.do(t, http.MethodGet, "/v1/bulletins/lookup?"+studentTermQuery(st), teacherToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var errResp httpErr
	decode(t, rec, &errResp)
	assert.Equal(t, core.CodeNoData, errResp.Code)

	rec = a.do(t, http.MethodPost, "/v1/bulletins/draft", teacherToken, st)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "no grades yet")

	a.Grade(t, st, a.math.ID, "12", "14")
	rec = a.do(t, http.MethodPost, "/v1/bulletins/draft", teacherToken, st)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var b bulletin.Bulletin
	decode(t, rec, &b)
	assert.Equal(t, bulletin.StatusDraft, b.Status)

	rec = a.do(t, http.MethodPost, "/v1/bulletins/"+b.ID+"/approve", dirToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "a draft cannot be approved")
	decode(t, rec, &errResp)
	assert.Equal(t, core.CodeInvalidTransition, errResp.Code)

	a.Grade(t, st, a.math.ID, "12", "16")
	rec = a.do(t, http.MethodPost, "/v1/bulletins/"+b.ID+"/submit", teacherToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "grades changed after drafting")
	rec = a.do(t, http.MethodPost, "/v1/bulletins/draft", teacherToken, st)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/v1/bulletins/"+b.ID+"/submit", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(t, http.MethodPost, "/v1/bulletins/"+b.ID+"/approve", teacherToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, http.MethodPost, "/v1/bulletins/"+b.ID+"/approve", dirToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/v1/bulletins/"+b.ID+"/decision", dirToken, bulletin.Council{})
	assert.Equal(t, http.StatusConflict, rec.Code, "the council decides before approval")

	rec = a.do(t, http.MethodGet, "/v1/bulletins/"+b.ID, teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &b)
	assert.Equal(t, bulletin.StatusApproved, b.Status)

	rec = a.do(t, http.MethodGet, "/v1/bulletins/nope", teacherToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	t.Run("bulk", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/v1/bulletins/bulk", dirToken, bulletin.BulkRequest{IDs: []string{b.ID}, Action: bulletin.ActionSend})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res bulletin.BulkResult
		decode(t, rec, &res)
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 1, a.Dispatcher.Count(b.ID))

		rec = a.do(t, http.MethodPost, "/v1/bulletins/bulk", dirToken, bulletin.BulkRequest{IDs: []string{b.ID, "missing"}, Action: bulletin.ActionSend})
		require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
		var partial struct {
			bulletin.BulkResult
			Code string `json:"code"`
		}
		decode(t, rec, &partial)
		assert.Equal(t, core.CodePartialBatchFailure, partial.Code)
		assert.Equal(t, 1, partial.Skipped)
		assert.Equal(t, 1, partial.Failed)

		rec = a.do(t, http.MethodPost, "/v1/bulletins/bulk", dirToken, map[string]interface{}{"bulletin_ids": []string{}, "action": "burn"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("query", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, "/v1/bulletins?class_id=6A&status=sent&ordering=-term_average", teacherToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var found []bulletin.Bulletin
		decode(t, rec, &found)
		if assert.Len(t, found, 1) {
			assert.Equal(t, b.ID, found[0].ID)
		}

		rec = a.do(t, http.MethodGet, "/v1/bulletins?signed=maybe", teacherToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = a.do(t, http.MethodGet, "/v1/bulletins?send_failed=often", teacherToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreate(t *testing.T) {
	a := setup(t)
	body := map[string]interface{}{
		"identity": map[string]interface{}{"student_name": "Amani Kabila", "class_name": "6e A"},
		"academic": map[string]interface{}{
			"student_id": "s2", "class_id": "6A", "academic_year": testutil.Year, "term": "T1",
			"class_rank": 1, "class_size": 3,
		},
		"grades": map[string]interface{}{
			"general": []map[string]interface{}{
				{"name": "Mathématiques", "continuous_score": "12", "exam_score": "16", "coefficient": "4"},
			},
		},
	}

	rec := a.do(t, http.MethodPost, "/v1/bulletins", getToken(t, testutil.Teacher("t1"), a.Conf), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/bulletins", getToken(t, testutil.Director(), a.Conf), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		ID       string                `json:"id"`
		Status   bulletin.Status       `json:"status"`
		Document *bulletin.DocumentRef `json:"document"`
	}
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, bulletin.StatusSubmitted, resp.Status)
	if assert.NotNil(t, resp.Document) {
		assert.Contains(t, resp.Document.URL, resp.ID)
	}

	rec = a.do(t, http.MethodPost, "/v1/bulletins", getToken(t, testutil.Director(), a.Conf), body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
