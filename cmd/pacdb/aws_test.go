package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"
)

func lambdaRequest(method, path, query string) events.APIGatewayV2HTTPRequest {
	var req events.APIGatewayV2HTTPRequest
	req.RawPath = path
	req.RawQueryString = query
	req.RequestContext.HTTP.Method = method
	req.RequestContext.HTTP.SourceIP = "192.0.2.10"
	return req
}

func Test_HandleLambdaRequest_Text(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/core/packages", r.URL.Path)
		require.Equal(t, "ba", r.URL.Query().Get("q"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"ok":true}`)
	})

	req := lambdaRequest(http.MethodGet, "/repos/core/packages", "q=ba")
	req.Headers = map[string]string{"Accept": "application/json"}

	resp, err := handleLambdaRequest(context.Background(), req, handler, testLogger(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, `{"ok":true}`, resp.Body)
	require.False(t, resp.IsBase64Encoded)
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func Test_HandleLambdaRequest_Binary(t *testing.T) {
	payload := []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	})

	resp, err := handleLambdaRequest(context.Background(), lambdaRequest(http.MethodGet, "/x", ""), handler, testLogger(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, resp.IsBase64Encoded)

	got, err := base64.StdEncoding.DecodeString(resp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func Test_HandleLambdaRequest_Body(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "hello", string(body))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNoContent)
	})

	req := lambdaRequest(http.MethodPost, "/repos/core/reload", "")
	req.Body = base64.StdEncoding.EncodeToString([]byte("hello"))
	req.IsBase64Encoded = true

	resp, err := handleLambdaRequest(context.Background(), req, handler, testLogger(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, resp.Body)
}

func Test_HandleLambdaRequest_BadBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	req := lambdaRequest(http.MethodPost, "/", "")
	req.Body = "!!!"
	req.IsBase64Encoded = true

	resp, err := handleLambdaRequest(context.Background(), req, handler, testLogger(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
