package predict

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hpungsan/protkit/internal/errors"
)

// Protocol constants of the hosted prediction service.
const (
	HeaderTaskID      = "nvcf-reqid"
	HeaderPollSeconds = "NVCF-POLL-SECONDS"

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 64 << 20
	// maxDetailChars caps raw bodies quoted in error messages.
	maxDetailChars = 500
)

// permanentPollStatuses end polling immediately.
var permanentPollStatuses = map[int]bool{
	http.StatusBadRequest:          true,
	http.StatusUnauthorized:        true,
	http.StatusNotFound:            true,
	http.StatusUnprocessableEntity: true,
	http.StatusInternalServerError: true,
}

// Sampling parameters sent with every request.
type Sampling struct {
	RecyclingSteps    int     `json:"recycling_steps"`
	SamplingSteps     int     `json:"sampling_steps"`
	DiffusionSamples  int     `json:"diffusion_samples"`
	StepScale         float64 `json:"step_scale"`
	WithoutPotentials bool    `json:"without_potentials"`
}

// Options configures a Client.
type Options struct {
	APIURL    string
	StatusURL string
	APIKey    string

	RequestTimeout  time.Duration
	PollTimeout     time.Duration
	PollInterval    time.Duration
	MaxPolls        int
	PollSecondsHint int

	Sampling Sampling

	// HTTPClient defaults to a plain http.Client; per-request timeouts come
	// from RequestTimeout and PollTimeout.
	HTTPClient *http.Client
	Logger     *log.Logger
}

// DefaultOptions returns the service defaults without credentials.
func DefaultOptions() Options {
	return Options{
		RequestTimeout:  300 * time.Second,
		PollTimeout:     120 * time.Second,
		PollInterval:    20 * time.Second,
		MaxPolls:        30,
		PollSecondsHint: 300,
		Sampling: Sampling{
			RecyclingSteps:    1,
			SamplingSteps:     50,
			DiffusionSamples:  3,
			StepScale:         1.2,
			WithoutPotentials: true,
		},
	}
}

// Client submits sequences to the remote structure-prediction service.
type Client struct {
	opts   Options
	http   *http.Client
	logger *log.Logger
	now    func() time.Time
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	c := &Client{opts: opts, http: opts.HTTPClient, logger: opts.Logger, now: time.Now}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	if c.opts.MaxPolls <= 0 {
		c.opts.MaxPolls = 1
	}
	return c
}

type polymer struct {
	ID           string `json:"id"`
	MoleculeType string `json:"molecule_type"`
	Sequence     string `json:"sequence"`
}

type predictRequest struct {
	Polymers []polymer `json:"polymers"`
	Sampling
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// Predict runs one prediction, polling until the service reports a result.
func (c *Client) Predict(ctx context.Context, seq string) (*Result, error) {
	payload, err := json.Marshal(predictRequest{
		Polymers: []polymer{{ID: "A", MoleculeType: "protein", Sequence: seq}},
		Sampling: c.opts.Sampling,
	})
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	c.logger.Printf("predict: POST %s (%d residues)", c.opts.APIURL, len(seq))
	resp, err := c.do(ctx, http.MethodPost, c.opts.APIURL, payload, c.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("predict: status %d", resp.status)

	if resp.status == http.StatusAccepted {
		resp, err = c.poll(ctx, resp)
		if err != nil {
			return nil, err
		}
	}

	if resp.status < 200 || resp.status > 299 {
		return nil, errors.NewUpstreamStatus(resp.status, errorDetail(resp.body))
	}

	ex, err := extract(resp.body)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("predict: structure from %q, confidence from %q, metrics from %q",
		ex.structureSource, ex.confidenceFrom, ex.metricsSource)
	return ex.toResult(c.now()), nil
}

// poll follows an accepted request until it completes or the poll budget runs out.
func (c *Client) poll(ctx context.Context, accepted *response) (*response, error) {
	taskID := accepted.header.Get(HeaderTaskID)
	if taskID == "" {
		return nil, errors.NewMalformedResponse("accepted response carried no " + HeaderTaskID + " header")
	}
	statusURL := c.opts.StatusURL + taskID
	c.logger.Printf("predict: task %s accepted, polling %s", taskID, statusURL)

	for attempt := 1; attempt <= c.opts.MaxPolls; attempt++ {
		resp, err := c.do(ctx, http.MethodGet, statusURL, nil, c.opts.PollTimeout)
		if err != nil {
			return nil, err
		}
		c.logger.Printf("predict: poll %d/%d status %d", attempt, c.opts.MaxPolls, resp.status)

		if resp.status == http.StatusOK {
			return resp, nil
		}
		if permanentPollStatuses[resp.status] {
			return nil, errors.NewUpstreamStatus(resp.status, errorDetail(resp.body))
		}
		if attempt < c.opts.MaxPolls {
			if err := sleep(ctx, c.opts.PollInterval); err != nil {
				return nil, err
			}
		}
	}
	return nil, errors.NewPollExhausted(c.opts.MaxPolls)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, timeout time.Duration) (*response, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return nil, errors.NewConnectionFailed(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	if c.opts.PollSecondsHint > 0 {
		req.Header.Set(HeaderPollSeconds, strconv.Itoa(c.opts.PollSecondsHint))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// classifyTransportError maps a failed round trip onto the error taxonomy.
// ctx is the caller's context, not the per-request one.
func classifyTransportError(ctx context.Context, err error) error {
	if stderrors.Is(ctx.Err(), context.Canceled) {
		return errors.NewCancelled("prediction")
	}
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.NewPredictionTimeout()
	}
	return errors.NewConnectionFailed(err)
}

// errorDetail prefers a JSON "error" or "message" field, else the raw body.
func errorDetail(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, key := range []string{"error", "message"} {
			if v := gjson.GetBytes(body, key); v.Exists() {
				if v.Type == gjson.String {
					return v.Str
				}
				return v.Raw
			}
		}
	}
	text := string(body)
	if r := []rune(text); len(r) > maxDetailChars {
		return string(r[:maxDetailChars]) + "..."
	}
	return text
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.NewCancelled("prediction")
	case <-t.C:
		return nil
	}
}

