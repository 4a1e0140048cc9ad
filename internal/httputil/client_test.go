package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardClient_SetsUserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewStandardClient("waymark-test/1.0")
	var out struct{ OK bool }
	require.NoError(t, GetJSON(context.Background(), client, server.URL, &out))
	assert.True(t, out.OK)
	assert.Equal(t, "waymark-test/1.0", got)
}

func TestGetJSON_StatusError(t *testing.T) {
	mock := NewMockHTTPClient().AddResponse(http.StatusTooManyRequests, "slow down")

	var out map[string]any
	err := GetJSON(context.Background(), mock, "http://example.com/reverse", &out)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "slow down", se.Body)
	assert.Equal(t, 1, mock.RequestCount())
	assert.Equal(t, "application/json", mock.GetRequest(0).Header.Get("Accept"))
}

func TestGetJSON_DecodeError(t *testing.T) {
	mock := NewMockHTTPClient().AddResponse(http.StatusOK, "<html>")
	var out map[string]any
	err := GetJSON(context.Background(), mock, "http://example.com", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestGetJSON_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	mock := NewMockHTTPClient().AddErrorResponse(boom)
	var out map[string]any
	assert.ErrorIs(t, GetJSON(context.Background(), mock, "http://example.com", &out), boom)
}

func TestMockHTTPClient_DoFunc(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("custom")
	}
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := mock.Do(req)
	assert.EqualError(t, err, "custom")
	assert.Equal(t, 1, mock.RequestCount())
	assert.Nil(t, mock.GetRequest(5))
}

func TestMockHTTPClient_DefaultResponse(t *testing.T) {
	mock := NewMockHTTPClient()
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := mock.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
