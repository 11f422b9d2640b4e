// Package wowhead fetches and parses object data from the Wowhead game
// database: the per-category object listings and the per-object map
// coordinate payloads.
package wowhead

import (
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"time"

	"valhallanodes/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const defaultBaseUrl = "https://www.wowhead.com"

// ErrPageMissing marks a permanent 404/410: the object does not exist on
// the site. never retried, the pipeline drops the object and moves on.
var ErrPageMissing = errors.New("wowhead: page missing")

// StatusError is any other non-2xx terminal response.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("wowhead: unexpected status %d", e.Code)
}

type ClientOptions struct {
	// defaults to the live site, tests point this at a local server
	BaseUrl string
	// per-attempt timeout, defaults to 15s
	Timeout time.Duration
	// retries after the initial attempt, defaults to 2 (3 attempts total)
	RetryCount int
	// sustained request rate against the site, defaults to 2/s
	RequestsPerSecond float64
	// receives raw HTTP exchange dumps for debugging, may be nil
	InstrumentOutput restyutil.InstrumentOutput
}

type Client struct {
	http *resty.Client
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 15
	}
	retryCount := opts.RetryCount
	if retryCount == 0 {
		retryCount = 2
	}
	rps := opts.RequestsPerSecond
	if rps == 0 {
		rps = 2
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(baseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetTimeout(timeout)

	// max burst >= rate just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(rate.Limit(rps), 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	// transient failures only: network errors and 5xx. permanent 4xx
	// falls through to the caller untouched.
	httpClient.SetRetryCount(retryCount)
	httpClient.SetRetryWaitTime(time.Millisecond * 500)
	httpClient.SetRetryMaxWaitTime(time.Second * 4)
	httpClient.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return res.StatusCode() >= 500
	})

	restyutil.InstrumentClient(httpClient, "valhallanodes.wowhead", opts.InstrumentOutput)

	return &Client{http: httpClient}, nil
}

// Page fetches one document by site-relative path.
func (c *Client) Page(ctx context.Context, path string) ([]byte, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}

	code := res.StatusCode()
	switch {
	case code == 404 || code == 410:
		return nil, fmt.Errorf("%w: %s", ErrPageMissing, path)
	case code >= 400:
		return nil, StatusError{Code: code}
	}

	return res.Body(), nil
}

// ObjectPage fetches the detail page for one object id.
func (c *Client) ObjectPage(ctx context.Context, obj Object) ([]byte, error) {
	return c.Page(ctx, fmt.Sprintf("/object=%d", obj.ID))
}
