package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/versafe/versafe/auth"
	"github.com/versafe/versafe/crypto/keys"
	dbtest "github.com/versafe/versafe/db/testing"
	"github.com/versafe/versafe/documents"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/signatures"
	"github.com/versafe/versafe/storage"
	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
	"github.com/versafe/versafe/verification"
)

const testAPIKey = "internal-test-key"

type testServer struct {
	http *httptest.Server
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := dbtest.SetupDB(t)
	files, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	lg, err := ledger.NewService(ctx, &ledger.Config{Database: store})
	require.NoError(t, err)

	keySetPath := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(keySetPath, []byte(`{"2026-01": "aabbccddeeff00112233445566778899"}`), 0600))
	keySet, err := auth.LoadKeySet(keySetPath)
	require.NoError(t, err)
	authSvc := auth.NewService(ctx, &auth.Config{Database: store, KeySet: keySet})

	ks := keys.NewStore()
	docSvc := documents.NewService(ctx, &documents.Config{Database: store, Storage: files, Ledger: lg})
	sigSvc := signatures.NewService(ctx, &signatures.Config{Database: store, Ledger: lg, Keys: ks})
	verSvc := verification.NewService(ctx, &verification.Config{Database: store, Storage: files, Ledger: lg})

	svc := NewService(ctx, &Config{
		InternalAPIKey: testAPIKey,
		Auth:           authSvc,
		Documents:      docSvc,
		Signatures:     sigSvc,
		Verification:   verSvc,
		Ledger:         lg,
		Keys:           ks,
	})
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)
	return &testServer{http: srv}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, *envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	env := &envelope{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(env))
	require.NoError(t, resp.Body.Close())
	return resp, env
}

// login registers a fresh user and returns its bearer token.
func (ts *testServer) login(t *testing.T, email string) string {
	t.Helper()
	resp, _ := ts.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, env := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	tokens := &tokenResponse{}
	require.NoError(t, json.Unmarshal(data, tokens))
	require.NotEqual(t, "", tokens.Token)
	return tokens.Token
}

// upload posts a small text document and returns its decoded envelope
// data.
func (ts *testServer) upload(t *testing.T, token, content string) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="document"; filename="hello.txt"`},
		"Content-Type":        {"text/plain"},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("title", "hello"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.http.URL+"/v1/documents/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, resp.Body.Close())
	}()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	env := &envelope{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(env))
	doc, ok := env.Data.(map[string]interface{})
	require.Equal(t, true, ok)
	return doc
}

func TestAPI_AuthRequired(t *testing.T) {
	ts := setupServer(t)
	resp, env := ts.do(t, http.MethodGet, "/v1/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindAuth, env.Error.Kind)

	resp, env = ts.do(t, http.MethodGet, "/v1/documents", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindAuth, env.Error.Kind)
}

func TestAPI_UploadAndGet(t *testing.T) {
	ts := setupServer(t)
	token := ts.login(t, "uploader@versafe.io")

	doc := ts.upload(t, token, "Hello, VerSafe\n")
	// Registration was simulated, so the ledger anchor is pending.
	assert.Equal(t, "UPLOADED", doc["state"])
	assert.Equal(t, true, doc["ledger_pending"])

	resp, env := ts.do(t, http.MethodGet, "/v1/documents/"+doc["id"].(string), token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got, ok := env.Data.(map[string]interface{})
	require.Equal(t, true, ok)
	assert.Equal(t, doc["id"], got["id"])
}

func TestAPI_NotFoundUniformAcrossOwners(t *testing.T) {
	ts := setupServer(t)
	owner := ts.login(t, "owner@versafe.io")
	other := ts.login(t, "other@versafe.io")
	doc := ts.upload(t, owner, "private\n")

	resp, env := ts.do(t, http.MethodGet, "/v1/documents/"+doc["id"].(string), other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindNotFound, env.Error.Kind)
}

func TestAPI_ShareRoundTrip(t *testing.T) {
	ts := setupServer(t)
	token := ts.login(t, "sharer@versafe.io")
	doc := ts.upload(t, token, "share me\n")

	resp, env := ts.do(t, http.MethodPost, "/v1/documents/"+doc["id"].(string)+"/share", token, map[string]interface{}{
		"grantee_email": "reviewer@versafe.io",
		"access":        "VIEW",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	created, ok := env.Data.(map[string]interface{})
	require.Equal(t, true, ok)
	shareToken, ok := created["token"].(string)
	require.Equal(t, true, ok)
	assert.Equal(t, 64, len(shareToken))

	resp, env = ts.do(t, http.MethodGet, "/v1/documents/"+doc["id"].(string)+"/shares", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	grants, ok := env.Data.([]interface{})
	require.Equal(t, true, ok)
	require.Equal(t, 1, len(grants))
	// Listing never re-discloses the redemption token.
	grant, ok := grants[0].(map[string]interface{})
	require.Equal(t, true, ok)
	_, leaked := grant["token"]
	assert.Equal(t, false, leaked)

	resp, env = ts.do(t, http.MethodPost, "/v1/documents/"+doc["id"].(string)+"/share", token, map[string]interface{}{
		"access": "OWNER",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindValidation, env.Error.Kind)
}

func TestAPI_PatchRejectsUnknownFields(t *testing.T) {
	ts := setupServer(t)
	token := ts.login(t, "patcher@versafe.io")
	doc := ts.upload(t, token, "patch me\n")

	resp, env := ts.do(t, http.MethodPatch, "/v1/documents/"+doc["id"].(string), token, map[string]interface{}{
		"title":    "renamed",
		"surprise": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindValidation, env.Error.Kind)
}

func TestAPI_SignFlow(t *testing.T) {
	ts := setupServer(t)
	token := ts.login(t, "signer@versafe.io")
	doc := ts.upload(t, token, "sign me\n")
	id := doc["id"].(string)

	resp, env := ts.do(t, http.MethodPost, "/v1/signatures/"+id+"/sign", token, map[string]interface{}{
		"type":    "ELECTRONIC",
		"payload": []byte("text:Approved"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sig, ok := env.Data.(map[string]interface{})
	require.Equal(t, true, ok)
	assert.Equal(t, true, sig["verified"])

	// Same signer again violates the unique pair.
	resp, env = ts.do(t, http.MethodPost, "/v1/signatures/"+id+"/sign", token, map[string]interface{}{
		"type":    "ELECTRONIC",
		"payload": []byte("text:Approved"),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindConflict, env.Error.Kind)
}

func TestAPI_RevokedDocumentRefusesSigning(t *testing.T) {
	ts := setupServer(t)
	token := ts.login(t, "revoker@versafe.io")
	doc := ts.upload(t, token, "revoke me\n")
	id := doc["id"].(string)

	resp, _ := ts.do(t, http.MethodPost, "/v1/documents/"+id+"/revoke", token, map[string]string{"reason": "superseded"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := ts.do(t, http.MethodPost, "/v1/signatures/"+id+"/sign", token, map[string]interface{}{
		"type":    "ELECTRONIC",
		"payload": []byte("text:Too late"),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindConflict, env.Error.Kind)
}

func TestAPI_InternalRoutesNeedKey(t *testing.T) {
	ts := setupServer(t)
	token := ts.login(t, "internal@versafe.io")
	doc := ts.upload(t, token, "anchored\n")
	path := "/v1/ledger/history/" + doc["id"].(string)

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+path, nil)
	require.NoError(t, err)
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("X-API-Key", testAPIKey)
	resp, err = ts.http.Client().Do(req)
	require.NoError(t, err)
	env := &envelope{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(env))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	txs, ok := env.Data.([]interface{})
	require.Equal(t, true, ok)
	assert.Equal(t, 1, len(txs))
}

// doInternal sends a JSON request carrying the service API key.
func (ts *testServer) doInternal(t *testing.T, method, path string, body interface{}) (*http.Response, *envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	env := &envelope{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(env))
	require.NoError(t, resp.Body.Close())
	return resp, env
}

func TestAPI_EnrollmentEnablesDigitalSigning(t *testing.T) {
	ts := setupServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    "digital@versafe.io",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, env := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "digital@versafe.io",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	tokens := &tokenResponse{}
	require.NoError(t, json.Unmarshal(data, tokens))
	require.NotNil(t, tokens.User)

	doc := ts.upload(t, tokens.Token, "needs a digital signature\n")

	// DIGITAL signing refuses before enrollment.
	resp, env = ts.do(t, http.MethodPost, "/v1/signatures/"+doc["id"].(string)+"/sign", tokens.Token, map[string]interface{}{
		"type": "DIGITAL",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Enrollment is a service-to-service operation.
	enrollBody := map[string]interface{}{
		"signer_id": tokens.User.ID,
		"algorithm": "ED25519",
		"valid_for": "1h",
	}
	resp, _ = ts.do(t, http.MethodPost, "/v1/keys/enroll", "", enrollBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, env = ts.doInternal(t, http.MethodPost, "/v1/keys/enroll", enrollBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	enrolled, ok := env.Data.(map[string]interface{})
	require.Equal(t, true, ok)
	cert, ok := enrolled["certificate"].(string)
	require.Equal(t, true, ok)
	require.NotEqual(t, "", cert)

	resp, env = ts.do(t, http.MethodPost, "/v1/signatures/"+doc["id"].(string)+"/sign", tokens.Token, map[string]interface{}{
		"type": "DIGITAL",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sig, ok := env.Data.(map[string]interface{})
	require.Equal(t, true, ok)
	assert.Equal(t, true, sig["verified"])

	resp, _ = ts.doInternal(t, http.MethodPost, "/v1/keys/enroll", map[string]interface{}{
		"signer_id": tokens.User.ID,
		"algorithm": "ROT13",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RefreshRotation(t *testing.T) {
	ts := setupServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    "rotator@versafe.io",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, env := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "rotator@versafe.io",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	tokens := &tokenResponse{}
	require.NoError(t, json.Unmarshal(data, tokens))

	resp, env = ts.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh": tokens.Refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The consumed refresh token is dead; reusing it revokes the session.
	resp, env = ts.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh": tokens.Refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, KindAuth, env.Error.Kind)
}
