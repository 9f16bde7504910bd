package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	t.Run("sets custom responder", func(t *testing.T) {
		called := false
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		})

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()
		respondWithError(rec, req, assert.AnError)

		assert.True(t, called)
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("nil resets to default", func(t *testing.T) {
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusTeapot)
		})

		SetHTTPErrorResponder(nil)

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()
		respondWithError(rec, req, assert.AnError)

		// Default responder renders an internal error envelope.
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestResetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	customCalled := false
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		customCalled = true
	})

	ResetHTTPErrorResponder()

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	respondWithError(rec, req, assert.AnError)

	assert.False(t, customCalled)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRespondWithError(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	called := false
	var capturedErr error

	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		called = true
		capturedErr = err
		w.WriteHeader(http.StatusInternalServerError)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	respondWithError(rec, req, assert.AnError)

	assert.True(t, called)
	assert.Equal(t, assert.AnError, capturedErr)
}
