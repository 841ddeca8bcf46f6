package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
)

// sourceLSNAttribute is the reserved turbopuffer attribute the writer
// falls back to if an Action somehow arrives with no VersionAttribute
// set (spec.md 3, 4.8); every producer of an Action (internal/mapping,
// internal/transform, internal/router) sets it explicitly via
// mapping.VersionAttribute, so this only guards stray callers such as
// tests that build an Action by hand.
const sourceLSNAttribute = "__source_lsn"

// TurbopufferClient is the production Target: it speaks conditional
// upserts/deletes to a turbopuffer namespace over HTTP/JSON. There is
// no official turbopuffer Go SDK, so this is a bespoke client behind
// the Target interface, matching spec.md 1's framing of the target
// index as "an adapter behind an interface."
type TurbopufferClient struct {
	BaseURL string
	APIKey  string
	HTTP    *retryablehttp.Client
}

// NewTurbopufferClient builds a TurbopufferClient whose HTTP
// transport retries Transient failures in-band with the spec's
// base-100ms/cap-30s/max-8-tries policy (spec.md 4.8), via a custom
// CheckRetry/Backoff pair rather than go-retryablehttp's defaults,
// which don't distinguish conditional-mismatch/validation/permanent
// responses from transient ones.
func NewTurbopufferClient(baseURL, apiKey string) *TurbopufferClient {
	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = 30 * time.Second
	hc.RetryMax = 7 // 8 total tries including the first attempt
	hc.CheckRetry = checkRetry
	hc.Backoff = jitteredBackoff

	return &TurbopufferClient{BaseURL: baseURL, APIKey: apiKey, HTTP: hc}
}

// checkRetry retries only responses the classification table marks
// Transient; anything else (validation, permanent, conditional
// outcomes reported in the 2xx body) is returned immediately for the
// Writer to classify and bisect or DLQ.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// Connection-level failure: no status code to classify, treat
		// as Transient per spec.md 4.8's "network reset" row.
		return true, nil
	}
	return ClassifyHTTPStatus(resp.StatusCode) == ClassTransient, nil
}

// jitteredBackoff implements exponential backoff with jitter: the
// interval is min*2^attemptNum capped at max, and the delay returned
// is a random duration between half of that interval and all of it,
// replicating
// the shape of github.com/cenkalti/backoff/v4's default policy
// without depending on it here, since go-retryablehttp's Backoff
// signature takes (min, max, attempt, resp) rather than the
// resettable BackOff interface that package exposes.
func jitteredBackoff(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
	mult := math.Pow(2, float64(attemptNum))
	delay := time.Duration(float64(min) * mult)
	if delay > max || delay <= 0 {
		delay = max
	}
	return time.Duration(rand.Int63n(int64(delay)/2+1)) + delay/2
}

type actionPayload struct {
	ID               string                 `json:"id"`
	Op               string                 `json:"op"`
	Doc              map[string]interface{} `json:"doc,omitempty"`
	VersionAttribute string                 `json:"version_attribute"`
	VersionToken     int64                  `json:"version_token"`
	Condition        string                 `json:"condition"`
	DistanceMetric   string                 `json:"distance_metric,omitempty"`
}

type writeRequest struct {
	Actions []actionPayload `json:"actions"`
}

type rowResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // "written", "skipped_stale", "error"
	Message string `json:"message,omitempty"`
}

type writeResponse struct {
	Results []rowResult `json:"results"`
}

// Apply implements Target.
func (c *TurbopufferClient) Apply(ctx context.Context, namespace string, actions []action.Action) ([]RowOutcome, error) {
	payload := writeRequest{Actions: make([]actionPayload, len(actions))}
	for i, a := range actions {
		payload.Actions[i] = toPayload(a)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "turbopuffer: encoding write request")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v1/namespaces/"+namespace+"/write", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "turbopuffer: building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "turbopuffer: reading response")
	}

	if resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var decoded writeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, errors.Wrap(err, "turbopuffer: decoding response")
	}

	return toOutcomes(actions, decoded.Results), nil
}

func toPayload(a action.Action) actionPayload {
	attr := a.VersionAttribute
	if attr == "" {
		attr = sourceLSNAttribute
	}
	p := actionPayload{ID: a.ID.Raw, VersionToken: a.VersionToken, VersionAttribute: attr}
	switch a.Op {
	case action.OpUpsert:
		p.Op = "upsert"
		p.Condition = attr + " < :version_token OR " + attr + " IS NULL"
		p.Doc = docToJSON(a.Doc)
		p.DistanceMetric = a.DistanceMetric
	case action.OpDelete:
		p.Op = "delete"
		p.Condition = attr + " < :version_token"
	}
	return p
}

func docToJSON(doc map[string]change.Value) map[string]interface{} {
	if doc == nil {
		return nil
	}
	out := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		var decoded interface{}
		if json.Unmarshal(b, &decoded) == nil {
			out[k] = decoded
		}
	}
	return out
}

func toOutcomes(actions []action.Action, results []rowResult) []RowOutcome {
	byID := make(map[string]rowResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	out := make([]RowOutcome, len(actions))
	for i, a := range actions {
		r, ok := byID[a.ID.Raw]
		if !ok {
			out[i] = RowOutcome{Action: a,
				Failure: change.NewClassifiedError(change.KindTargetTransient, "", a.LSN, nil,
					errors.New("turbopuffer: no result reported for row"))}
			continue
		}
		switch r.Status {
		case "written":
			out[i] = RowOutcome{Action: a, Written: true}
		case "skipped_stale":
			out[i] = RowOutcome{Action: a, Written: true, Skipped: true}
		default:
			out[i] = RowOutcome{Action: a,
				Failure: change.NewClassifiedError(change.KindTargetValidation, "", a.LSN, nil,
					errors.New(r.Message))}
		}
	}
	return out
}
