package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*httptest.Server, map[string]int) {
	calls := make(map[string]int)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/ada/munki/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cr3t", r.Header.Get("Authorization"))
		calls[r.Method+" pulls"]++
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "open", r.URL.Query().Get("state"))
			if r.URL.Query().Get("head") == "ada:firefox-120.0" {
				_, _ = w.Write([]byte(`[{"number": 3, "html_url": "https://github.com/ada/munki/pull/3", "head": {"ref": "firefox-120.0"}}]`))
				return
			}
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPost:
			var body map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "zoom-5.0", body["head"])
			assert.Equal(t, "main", body["base"])
			assert.Equal(t, "Update Zoom to version 5.0", body["title"])
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"number": 7, "html_url": "https://github.com/ada/munki/pull/7"}`))
		}
	})
	mux.HandleFunc("/repos/ada/munki/issues/7/labels", func(w http.ResponseWriter, r *http.Request) {
		calls["labels"]++
		_, _ = w.Write([]byte(`[{"name": "autopkg"}]`))
	})
	mux.HandleFunc("/repos/ada/munki/pulls/7/requested_reviewers", func(w http.ResponseWriter, r *http.Request) {
		calls["reviewers"]++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "Reviews may only be requested from collaborators"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, calls
}

func TestNewGitHub(t *testing.T) {
	for _, repo := range []string{"", "ada", "ada/", "/munki", "ada/munki/extra"} {
		_, err := NewGitHub(context.Background(), repo, "token")
		require.Error(t, err, repo)
		assert.True(t, errors.Is(err, ErrRepository))
	}
	g, err := NewGitHub(context.Background(), "ada/munki", "")
	require.NoError(t, err)
	assert.Equal(t, "github.com/ada/munki", g.String())
}

func TestFindOpenReview(t *testing.T) {
	server, calls := testServer(t)
	g, err := NewGitHub(context.Background(), "ada/munki", "s3cr3t", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)

	review, err := g.FindOpenReview(context.Background(), "firefox-120.0")
	require.NoError(t, err)
	require.NotNil(t, review)
	assert.Equal(t, 3, review.Number)
	assert.Equal(t, "https://github.com/ada/munki/pull/3", review.URL)

	review, err = g.FindOpenReview(context.Background(), "zoom-5.0")
	require.NoError(t, err)
	assert.Nil(t, review)
	assert.Equal(t, 2, calls["GET pulls"])
}

func TestOpenReview(t *testing.T) {
	server, calls := testServer(t)
	g, err := NewGitHub(context.Background(), "ada/munki", "s3cr3t",
		WithBaseURL(server.URL),
		WithLabels("autopkg"),
		WithReviewers("someone"),
	)
	require.NoError(t, err)

	review, err := g.OpenReview(context.Background(), ReviewRequest{
		Branch: "zoom-5.0",
		Base:   "main",
		Title:  "Update Zoom to version 5.0",
		Body:   "A pkgs/apps/Zoom-5.0.pkg",
	})
	require.NoError(t, err, "labels and reviewers are best effort")
	assert.Equal(t, Review{Number: 7, URL: "https://github.com/ada/munki/pull/7"}, review)
	assert.Equal(t, 1, calls["POST pulls"])
	assert.Equal(t, 1, calls["labels"])
	assert.Equal(t, 1, calls["reviewers"])
}

func TestOpenReviewError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "Validation Failed"}`))
	}))
	defer server.Close()

	g, err := NewGitHub(context.Background(), "ada/munki", "s3cr3t", WithBaseURL(server.URL))
	require.NoError(t, err)
	_, err = g.OpenReview(context.Background(), ReviewRequest{Branch: "zoom-5.0", Base: "main", Title: "t"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReview))

	_, err = g.FindOpenReview(context.Background(), "zoom-5.0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReview))
}
