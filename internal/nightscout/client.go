// Package nightscout provides a client for interacting with the Nightscout API
package nightscout

import (
	"context"
	"crypto/sha1" //nolint:gosec // Required for Nightscout API secret hashing (legacy API requirement)
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mrcode/loop-caregiver/internal/models"
	"github.com/mrcode/loop-caregiver/internal/remotedata"
)

var _ remotedata.Provider = (*Client)(nil)

// ErrNoEntries is returned when Nightscout has no glucose entries to offer
var ErrNoEntries = errors.New("no entries returned")

// Defaults for Options
const (
	DefaultTimeout           = 30 * time.Second
	DefaultGlucoseLookback   = 24 * time.Hour
	DefaultTreatmentLookback = 24 * time.Hour
	DefaultMaxEntries        = 1000
	DefaultRetryCount        = 2
)

// Options configures a Client. Zero values fall back to the defaults.
type Options struct {
	Timeout           time.Duration
	GlucoseLookback   time.Duration
	TreatmentLookback time.Duration
	MaxEntries        int
	RetryCount        int
	// OTP supplies one-time passwords for remote commands. Commands are sent
	// without one when nil.
	OTP OTPSource
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.GlucoseLookback <= 0 {
		o.GlucoseLookback = DefaultGlucoseLookback
	}
	if o.TreatmentLookback <= 0 {
		o.TreatmentLookback = DefaultTreatmentLookback
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Client handles communication with the Nightscout API
type Client struct {
	baseURL   string
	apiSecret string
	apiToken  string

	// reads retries failed requests; commands never does, a retried bolus
	// could be delivered twice.
	reads    *resty.Client
	commands *resty.Client

	opts   Options
	logger *zap.Logger
}

// NewClient creates a new Nightscout client. A non-empty token takes
// precedence over the API secret.
func NewClient(baseURL, apiSecret, apiToken string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiSecret: apiSecret,
		apiToken:  apiToken,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
	c.reads = c.newRestyClient(c.opts.RetryCount)
	c.commands = c.newRestyClient(0)
	return c
}

// NewLooperClient creates a client for a configured looper
func NewLooperClient(looper models.Looper, opts Options, logger *zap.Logger) *Client {
	return NewClient(looper.NightscoutURL, looper.APISecret, looper.APIToken, opts, logger)
}

func (c *Client) newRestyClient(retries int) *resty.Client {
	client := resty.New().
		SetBaseURL(c.baseURL).
		SetTimeout(c.opts.Timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	if retries > 0 {
		client.AddRetryCondition(func(resp *resty.Response, err error) bool {
			return resp != nil && (resp.StatusCode() >= 500 || resp.StatusCode() == 429)
		})
	}

	if c.apiToken != "" {
		client.SetAuthToken(c.apiToken)
	} else if c.apiSecret != "" {
		client.SetHeader("API-SECRET", hashSecret(c.apiSecret))
	}
	return client
}

// hashSecret generates SHA1 hash of the API secret
// Note: SHA1 is required for Nightscout API compatibility
func hashSecret(secret string) string {
	hasher := sha1.New() //nolint:gosec // Required for Nightscout API
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

// APIError is a non-2xx response from Nightscout
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}

// get performs a GET and decodes the JSON body into out
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	resp, err := c.reads.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(endpoint)
	if err := checkResponse(resp, err); err != nil {
		return err
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing %s: %w", endpoint, err)
	}
	return nil
}

// GetStatus retrieves the Nightscout server status
func (c *Client) GetStatus(ctx context.Context) (*models.ServerStatus, error) {
	var status models.ServerStatus
	if err := c.get(ctx, "/api/v1/status.json", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CheckAuth verifies the site is reachable and accepts the credentials
func (c *Client) CheckAuth(ctx context.Context) error {
	_, err := c.GetStatus(ctx)
	return err
}

// GetCurrentEntry retrieves the most recent glucose entry
func (c *Client) GetCurrentEntry(ctx context.Context) (*models.GlucoseEntry, error) {
	entries, err := c.GetEntries(ctx, time.Time{}, time.Time{}, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	return &entries[0], nil
}

// GetEntries retrieves glucose entries for a time range, newest first
func (c *Client) GetEntries(ctx context.Context, from, to time.Time, count int) ([]models.GlucoseEntry, error) {
	params := url.Values{}

	if !from.IsZero() {
		params.Set("find[date][$gte]", strconv.FormatInt(from.UnixMilli(), 10))
	}
	if !to.IsZero() {
		params.Set("find[date][$lte]", strconv.FormatInt(to.UnixMilli(), 10))
	}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var entries []models.GlucoseEntry
	if err := c.get(ctx, "/api/v1/entries/sgv.json", params, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetTreatments retrieves treatments created since the given time. An empty
// eventType returns every kind.
func (c *Client) GetTreatments(ctx context.Context, eventType string, since time.Time) ([]models.Treatment, error) {
	params := url.Values{}
	params.Set("find[created_at][$gte]", since.UTC().Format(time.RFC3339))
	params.Set("count", strconv.Itoa(c.opts.MaxEntries))
	if eventType != "" {
		params.Set("find[eventType]", eventType)
	}

	var treatments []models.Treatment
	if err := c.get(ctx, "/api/v1/treatments.json", params, &treatments); err != nil {
		return nil, err
	}
	return treatments, nil
}

func (c *Client) treatmentsSince(ctx context.Context, eventType string) ([]models.Treatment, error) {
	return c.GetTreatments(ctx, eventType, c.opts.Now().Add(-c.opts.TreatmentLookback))
}

// FetchGlucoseSamples returns the readings within the glucose lookback
func (c *Client) FetchGlucoseSamples(ctx context.Context) ([]models.GlucoseSample, error) {
	from := c.opts.Now().Add(-c.opts.GlucoseLookback)
	entries, err := c.GetEntries(ctx, from, time.Time{}, c.opts.MaxEntries)
	if err != nil {
		return nil, err
	}

	samples := make([]models.GlucoseSample, 0, len(entries))
	for i := range entries {
		samples = append(samples, entries[i].ToSample())
	}
	c.logger.Debug("fetched glucose", zap.Int("count", len(samples)))
	return samples, nil
}

func (c *Client) FetchCarbEntries(ctx context.Context) ([]models.CarbEntry, error) {
	treatments, err := c.treatmentsSince(ctx, models.TreatmentEventTypes.CarbCorrection)
	if err != nil {
		return nil, err
	}

	entries := make([]models.CarbEntry, 0, len(treatments))
	for i := range treatments {
		if treatments[i].HasCarbs() {
			entries = append(entries, treatments[i].ToCarbEntry())
		}
	}
	return entries, nil
}

// FetchBolusEntries returns manual and automatic boluses. Loop uploads them
// under several event types, so insulin treatments are filtered locally.
func (c *Client) FetchBolusEntries(ctx context.Context) ([]models.BolusEntry, error) {
	treatments, err := c.treatmentsSince(ctx, "")
	if err != nil {
		return nil, err
	}

	entries := make([]models.BolusEntry, 0, len(treatments))
	for i := range treatments {
		if treatments[i].IsBolus() {
			entries = append(entries, treatments[i].ToBolusEntry())
		}
	}
	return entries, nil
}

func (c *Client) FetchBasalEntries(ctx context.Context) ([]models.BasalEntry, error) {
	treatments, err := c.treatmentsSince(ctx, models.TreatmentEventTypes.TempBasal)
	if err != nil {
		return nil, err
	}

	entries := make([]models.BasalEntry, 0, len(treatments))
	for i := range treatments {
		entries = append(entries, treatments[i].ToBasalEntry())
	}
	return entries, nil
}

// FetchOverridePresets returns the Temporary Override treatments in the
// lookback window
func (c *Client) FetchOverridePresets(ctx context.Context) ([]models.OverrideEntry, error) {
	treatments, err := c.treatmentsSince(ctx, models.TreatmentEventTypes.TemporaryOverride)
	if err != nil {
		return nil, err
	}

	entries := make([]models.OverrideEntry, 0, len(treatments))
	for i := range treatments {
		entries = append(entries, treatments[i].ToOverrideEntry())
	}
	return entries, nil
}

// FetchLatestDeviceStatus returns nil when no device status has been uploaded
func (c *Client) FetchLatestDeviceStatus(ctx context.Context) (*models.DeviceStatus, error) {
	params := url.Values{}
	params.Set("count", "1")

	var statuses []models.DeviceStatus
	if err := c.get(ctx, "/api/v1/devicestatus.json", params, &statuses); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	return &statuses[0], nil
}

// FetchRecentCommands returns the remote commands Nightscout is tracking.
// Payloads without an id are skipped.
func (c *Client) FetchRecentCommands(ctx context.Context) ([]models.RemoteCommand, error) {
	params := url.Values{}
	params.Set("count", "100")

	var payloads []models.RemoteCommandPayload
	if err := c.get(ctx, "/api/v2/remotecommands", params, &payloads); err != nil {
		return nil, err
	}

	commands := make([]models.RemoteCommand, 0, len(payloads))
	for _, payload := range payloads {
		command, err := payload.ToRemoteCommand()
		if err != nil {
			c.logger.Warn("skipping remote command", zap.Error(err))
			continue
		}
		commands = append(commands, command)
	}
	return commands, nil
}

// FetchCurrentProfile returns nil when the site has no profile
func (c *Client) FetchCurrentProfile(ctx context.Context) (*models.ProfileSet, error) {
	var profile *models.ProfileSet
	if err := c.get(ctx, "/api/v1/profile/current", nil, &profile); err != nil {
		return nil, err
	}
	if profile == nil || (profile.ID == "" && len(profile.Store) == 0) {
		return nil, nil
	}
	return profile, nil
}
