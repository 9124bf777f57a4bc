package resend

import (
	"context"
	"net/http"
)

type statusKey struct{}

// responseStatus receives the HTTP status of the call made with its context.
// One holder per Deliver call keeps concurrent deliveries independent.
type responseStatus struct {
	code int
}

func withStatus(ctx context.Context) (context.Context, *responseStatus) {
	s := &responseStatus{}
	return context.WithValue(ctx, statusKey{}, s), s
}

// statusTransport records the response status on the request's holder so the
// provider can classify failures without parsing client error strings.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if s, ok := req.Context().Value(statusKey{}).(*responseStatus); ok {
		s.code = resp.StatusCode
	}
	return resp, nil
}
