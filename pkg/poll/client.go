package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"coachcall-server/pkg/coaching"
	"coachcall-server/pkg/errors"
)

// HTTPStateFetcher implements StateFetcher against the coaching server's
// call state endpoint. Network failures, timeouts, and non-2xx responses
// surface as errors the poller treats as a failed tick; only a 404 is
// terminal for the observed call.
type HTTPStateFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStateFetcher creates a fetcher for the server at baseURL
// (e.g. "http://localhost:8080"). Request deadlines come from the caller's
// context, so no client-level timeout is set.
func NewHTTPStateFetcher(baseURL string) *HTTPStateFetcher {
	return &HTTPStateFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// FetchState retrieves the latest snapshot for a call
func (f *HTTPStateFetcher) FetchState(ctx context.Context, callID string) (*coaching.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/api/calls/state?id=%s", f.baseURL, url.QueryEscape(callID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build state request",
			map[string]interface{}{"call_id": callID})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrTimeout, "state fetch timed out",
				map[string]interface{}{"call_id": callID})
		}
		return nil, errors.Wrap(errors.ErrUnavailable, err.Error(),
			map[string]interface{}{"call_id": callID})
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NewCallNotFound(callID)
	default:
		return nil, errors.Wrap(errors.ErrUnavailable, "state fetch failed",
			map[string]interface{}{"call_id": callID, "status": resp.StatusCode})
	}

	var snapshot coaching.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "malformed snapshot response",
			map[string]interface{}{"call_id": callID, "error": err.Error()})
	}

	return &snapshot, nil
}
