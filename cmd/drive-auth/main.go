// Command drive-auth runs the OAuth consent flow once and prints the refresh
// token the worker uses for Drive backups.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"studio-podcaster/internal/backup"
	"studio-podcaster/pkg/logger"
)

const consentTimeout = 5 * time.Minute

func main() {
	godotenv.Load()
	log := logger.New("drive-auth")

	clientID, clientSecret := os.Getenv("DRIVE_CLIENT_ID"), os.Getenv("DRIVE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal().Msg("DRIVE_CLIENT_ID and DRIVE_CLIENT_SECRET must be set")
	}

	// Loopback redirect for desktop clients; Google picks up any port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open callback listener")
	}
	redirectURL := fmt.Sprintf("http://%s/callback", ln.Addr().String())

	state := uuid.NewString()
	conf := backup.OAuthConfig(clientID, clientSecret, redirectURL)
	fmt.Printf("Open this URL and grant access:\n\n%s\n\nWaiting for the redirect to %s ...\n",
		conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), redirectURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, consentTimeout)
	defer cancel()

	code, err := awaitCode(ctx, ln, state)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to receive authorization code")
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to exchange code")
	}
	if token.RefreshToken == "" {
		log.Fatal().Msg("No refresh token returned, revoke the app's access and retry")
	}

	fmt.Printf("\nDRIVE_REFRESH_TOKEN=%s\n", token.RefreshToken)
}

type callbackResult struct {
	code string
	err  error
}

// awaitCode serves the OAuth redirect on ln until a callback carrying the
// expected state arrives. Callbacks with any other state are rejected and
// waiting continues.
func awaitCode(ctx context.Context, ln net.Listener, state string) (string, error) {
	results := make(chan callbackResult, 1)
	deliver := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}

	r := mux.NewRouter()
	r.HandleFunc("/callback", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if reason := q.Get("error"); reason != "" {
			http.Error(w, "authorization denied", http.StatusForbidden)
			deliver(callbackResult{err: fmt.Errorf("authorization denied: %s", reason)})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization received, you can close this tab.")
		deliver(callbackResult{code: code})
	}).Methods(http.MethodGet)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(callbackResult{err: fmt.Errorf("callback server failed: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	select {
	case res := <-results:
		return res.code, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
