package signin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/passengers/signin" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var creds credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSignInSuccess(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{"passenger":{"id":42,"name":"Amira","username":"amira","phone":"+216","agency":"Vacancia"},"token":"tok"}`)
	client := NewClient(srv.URL+"/", srv.Client(), time.Second, nil)

	sess, err := client.SignIn(context.Background(), "amira", "secret")
	require.NoError(t, err)
	require.Equal(t, "42", sess.PassengerID())
	require.Equal(t, "Amira", sess.Passenger.Name)
	require.Equal(t, "Vacancia", sess.Passenger.Agency)
	require.Equal(t, "tok", sess.Token)
}

func TestSignInMongoID(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{"passenger":{"_id":"65f0c0ffee","name":"Sami"}}`)
	client := NewClient(srv.URL, srv.Client(), time.Second, nil)

	sess, err := client.SignIn(context.Background(), "sami", "secret")
	require.NoError(t, err)
	require.Equal(t, "65f0c0ffee", sess.PassengerID())
}

func TestSignInErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"bad credentials"}`, want: ErrInvalidCredentials},
		{name: "missing passenger", status: http.StatusOK, body: `{"token":"tok"}`, want: ErrInvalidResponse},
		{name: "passenger without id", status: http.StatusOK, body: `{"passenger":{"name":"x"}}`, want: ErrInvalidResponse},
		{name: "malformed", status: http.StatusOK, body: `<html>`, want: ErrInvalidResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newBackend(t, tc.status, tc.body)
			client := NewClient(srv.URL, srv.Client(), time.Second, nil)
			_, err := client.SignIn(context.Background(), "user", "pw")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSignInServerError(t *testing.T) {
	srv := newBackend(t, http.StatusInternalServerError, `{"message":"database down"}`)
	client := NewClient(srv.URL, srv.Client(), time.Second, nil)

	_, err := client.SignIn(context.Background(), "user", "pw")
	require.Error(t, err)
	require.Contains(t, err.Error(), "database down")
	require.NotErrorIs(t, err, ErrInvalidResponse)
}
