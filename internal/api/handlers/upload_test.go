package handlers_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWholeFileRequest(t *testing.T, url, token string, metadata map[string]interface{}, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	metadataJSON, err := json.Marshal(metadata)
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("metadata", string(metadataJSON)))

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest("POST", url, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadHandler_ChunkedFlow(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := testutil.NewUserBuilder().WithEmail("chunker@example.com").BuildAndAuthenticate(t, ts)

	content := []byte("the full contents of a chunked scientific upload")
	initiateBody, _ := json.Marshal(map[string]interface{}{
		"name":           "chunked-dataset",
		"sensorKind":     string(domain.SensorTIFF),
		"filename":       "raw.tif",
		"totalBytes":     len(content),
		"chunkSizeBytes": len(content),
	})
	req, _ := http.NewRequest("POST", ts.APIURL("/upload/chunked/initiate"), bytes.NewBuffer(initiateBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var initiated struct {
		SessionID string `json:"sessionId"`
	}
	testutil.AssertJSONResponse(t, resp, &initiated)
	require.NotEmpty(t, initiated.SessionID)

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	chunkURL := ts.APIURL(fmt.Sprintf("/upload/chunked/%s/chunk/0", initiated.SessionID))
	chunkReq, _ := http.NewRequest("PUT", chunkURL, bytes.NewReader(content))
	chunkReq.Header.Set("Authorization", "Bearer "+token)
	chunkReq.Header.Set("X-Chunk-Hash", hash)
	chunkResp, err := http.DefaultClient.Do(chunkReq)
	require.NoError(t, err)
	defer chunkResp.Body.Close()
	assert.Equal(t, http.StatusOK, chunkResp.StatusCode)

	completeBody, _ := json.Marshal(map[string]string{"overallHash": hash})
	completeURL := ts.APIURL(fmt.Sprintf("/upload/chunked/%s/complete", initiated.SessionID))
	completeReq, _ := http.NewRequest("POST", completeURL, bytes.NewBuffer(completeBody))
	completeReq.Header.Set("Authorization", "Bearer "+token)
	completeReq.Header.Set("Content-Type", "application/json")
	completeResp, err := http.DefaultClient.Do(completeReq)
	require.NoError(t, err)
	defer completeResp.Body.Close()
	assert.Equal(t, http.StatusOK, completeResp.StatusCode)

	var completed struct {
		JobID string `json:"jobId"`
	}
	testutil.AssertJSONResponse(t, completeResp, &completed)
	assert.NotEmpty(t, completed.JobID)

	statusURL := ts.APIURL(fmt.Sprintf("/upload/status/%s", completed.JobID))
	statusReq, _ := http.NewRequest("GET", statusURL, nil)
	statusReq.Header.Set("Authorization", "Bearer "+token)
	statusResp, err := http.DefaultClient.Do(statusReq)
	require.NoError(t, err)
	defer statusResp.Body.Close()
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)

	var dataset domain.Dataset
	testutil.AssertJSONResponse(t, statusResp, &dataset)
	assert.Equal(t, domain.StatusUploadQueued, dataset.Status)
}

func TestUploadHandler_CreateWholeFile_AddToExisting(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := testutil.NewUserBuilder().WithEmail("appender@example.com").BuildAndAuthenticate(t, ts)

	dataset := testutil.NewDatasetBuilder().WithOwnerEmail("appender@example.com").Build(t, ts.DB.DB)

	req := newWholeFileRequest(t, ts.APIURL("/upload/file"), token, map[string]interface{}{
		"addToExisting":     true,
		"datasetIdentifier": dataset.Slug,
	}, "extra.tif", []byte("more scientific bytes"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		JobID string `json:"jobId"`
	}
	testutil.AssertJSONResponse(t, resp, &result)
	assert.Equal(t, dataset.UUID.String(), result.JobID)
}

func TestUploadHandler_CreateWholeFile_AboveThresholdRejected(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := testutil.NewUserBuilder().WithEmail("toobig@example.com").BuildAndAuthenticate(t, ts)

	oversized := bytes.Repeat([]byte("x"), int(ts.Config.ChunkSizeBytes)+1)
	req := newWholeFileRequest(t, ts.APIURL("/upload/file"), token, map[string]interface{}{
		"name":       "too-big",
		"sensorKind": string(domain.SensorTIFF),
	}, "huge.tif", oversized)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadHandler_Cancel(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := testutil.NewUserBuilder().WithEmail("canceller@example.com").BuildAndAuthenticate(t, ts)

	dataset := testutil.NewDatasetBuilder().WithOwnerEmail("canceller@example.com").WithStatus(domain.StatusSubmitted).Build(t, ts.DB.DB)

	req := testutil.CreateAuthenticatedRequest(t, "POST", ts.APIURL("/upload/cancel/"+dataset.UUID.String()), nil, token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadHandler_Jobs(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := testutil.NewUserBuilder().WithEmail("jobslister@example.com").BuildAndAuthenticate(t, ts)

	testutil.NewDatasetBuilder().WithOwnerEmail("jobslister@example.com").Build(t, ts.DB.DB)
	testutil.NewDatasetBuilder().WithOwnerEmail("jobslister@example.com").Build(t, ts.DB.DB)
	testutil.NewDatasetBuilder().WithOwnerEmail("someone-else@example.com").Build(t, ts.DB.DB)

	req := testutil.CreateAuthenticatedRequest(t, "GET", ts.APIURL("/upload/jobs"), nil, token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jobs []domain.Dataset
	testutil.AssertJSONResponse(t, resp, &jobs)
	assert.Len(t, jobs, 2)
}

func TestUploadHandler_Limits(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := testutil.NewUserBuilder().WithEmail("limitschecker@example.com").BuildAndAuthenticate(t, ts)

	req := testutil.CreateAuthenticatedRequest(t, "GET", ts.APIURL("/upload/limits"), nil, token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var limits map[string]int64
	testutil.AssertJSONResponse(t, resp, &limits)
	assert.Greater(t, limits["maxFileSizeBytes"], int64(0))
}
