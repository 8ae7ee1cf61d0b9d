package habitat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
)

// maxResponseSize caps how much of a gateway response is read
const maxResponseSize = 8 << 20

// Probe performs read-only queries against the supervisor's HTTP gateway.
// It never mutates supervisor state.
type Probe struct {
	// BaseURL is the gateway root, DefaultAPIURL unless overridden
	BaseURL string

	// HTTPClient performs the requests
	HTTPClient *http.Client

	logger zerolog.Logger
}

// ProbeOption configures a Probe
type ProbeOption func(*Probe)

// WithAPIURL overrides the gateway base URL
func WithAPIURL(u string) ProbeOption {
	return func(p *Probe) {
		p.BaseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client used for gateway requests
func WithHTTPClient(c *http.Client) ProbeOption {
	return func(p *Probe) {
		p.HTTPClient = c
	}
}

// WithProbeTimeout sets the per-request timeout of the default client
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *Probe) {
		if p.HTTPClient != nil {
			p.HTTPClient.Timeout = d
		}
	}
}

// WithProbeLogger sets the logger for soft probe failures
func WithProbeLogger(l zerolog.Logger) ProbeOption {
	return func(p *Probe) {
		p.logger = l
	}
}

// NewProbe creates a Probe for the local gateway
func NewProbe(opts ...ProbeOption) *Probe {
	client := cleanhttp.DefaultClient()
	client.Timeout = DefaultHTTPTimeout

	p := &Probe{
		BaseURL:    DefaultAPIURL,
		HTTPClient: client,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// serviceStatus is the subset of GET /services/{name}/{group} we read
type serviceStatus struct {
	Process *struct {
		State *string `json:"state"`
	} `json:"process"`
	StartStyle *string `json:"start_style"`
}

// censusDoc is the subset of GET /census we read
type censusDoc struct {
	CensusGroups map[string]struct {
		ServiceConfig *struct {
			Incarnation uint64 `json:"incarnation"`
		} `json:"service_config"`
	} `json:"census_groups"`
}

// State returns the process state of the service. Any failure yields
// StateUnknown and a *ProbeError describing why; callers treat it as
// absence of information.
func (p *Probe) State(ctx context.Context, id ServiceIdentity) (ServiceState, error) {
	u := p.serviceURL(id)
	st, err := p.fetchStatus(ctx, u)
	if err != nil {
		return StateUnknown, err
	}
	if st.Process == nil || st.Process.State == nil {
		return StateUnknown, &ProbeError{Kind: ProbeAbsent, URL: u, Field: "process.state", Err: errors.New("field missing")}
	}
	state, ok := ParseServiceState(*st.Process.State)
	if !ok {
		return StateUnknown, &ProbeError{Kind: ProbeMalformed, URL: u, Field: "process.state", Err: fmt.Errorf("unrecognised state %q", *st.Process.State)}
	}
	return state, nil
}

// Style returns the start style of the service, with the same soft
// failure policy as State
func (p *Probe) Style(ctx context.Context, id ServiceIdentity) (StartStyle, error) {
	u := p.serviceURL(id)
	st, err := p.fetchStatus(ctx, u)
	if err != nil {
		return StyleUnknown, err
	}
	if st.StartStyle == nil {
		return StyleUnknown, &ProbeError{Kind: ProbeAbsent, URL: u, Field: "start_style", Err: errors.New("field missing")}
	}
	style, ok := ParseStartStyle(*st.StartStyle)
	if !ok {
		return StyleUnknown, &ProbeError{Kind: ProbeMalformed, URL: u, Field: "start_style", Err: fmt.Errorf("unrecognised style %q", *st.StartStyle)}
	}
	return style, nil
}

// Config returns the service's current configuration. Unlike State and
// Style, failure here is fatal and wraps ErrConfigFetch.
func (p *Probe) Config(ctx context.Context, id ServiceIdentity) (Tree, error) {
	u := p.serviceURL(id) + "/config"
	body, err := p.get(ctx, u)
	if err != nil {
		return nil, &OpError{Op: OpProbe, Target: id.ServiceGroup(), Err: fmt.Errorf("%w: %w", ErrConfigFetch, err)}
	}

	var tree Tree
	if err := tree.UnmarshalJSON(body); err != nil {
		perr := &ProbeError{Kind: ProbeMalformed, URL: u, Err: err}
		return nil, &OpError{Op: OpProbe, Target: id.ServiceGroup(), Err: fmt.Errorf("%w: %w", ErrConfigFetch, perr)}
	}
	return tree, nil
}

// NextIncarnation returns the incarnation the next config apply must use:
// the census value for the service group plus one, or 1 when the census
// has never seen a configuration for it.
func (p *Probe) NextIncarnation(ctx context.Context, id ServiceIdentity) (uint64, error) {
	u := p.BaseURL + "/census"
	body, err := p.get(ctx, u)
	if err != nil {
		return 0, &OpError{Op: OpProbe, Target: id.ServiceGroup(), Err: err}
	}

	var doc censusDoc
	if err := decodeJSONNumbers(body, &doc); err != nil {
		return 0, &OpError{Op: OpProbe, Target: id.ServiceGroup(), Err: &ProbeError{Kind: ProbeMalformed, URL: u, Err: err}}
	}

	group, ok := doc.CensusGroups[id.ServiceGroup()]
	if !ok || group.ServiceConfig == nil {
		p.logger.Debug().Str("group", id.ServiceGroup()).Msg("no census entry, starting at incarnation 1")
		return 1, nil
	}
	return group.ServiceConfig.Incarnation + 1, nil
}

func (p *Probe) serviceURL(id ServiceIdentity) string {
	return p.BaseURL + "/services/" + url.PathEscape(id.Name) + "/" + url.PathEscape(id.Group)
}

func (p *Probe) fetchStatus(ctx context.Context, u string) (serviceStatus, error) {
	var st serviceStatus
	body, err := p.get(ctx, u)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, &ProbeError{Kind: ProbeMalformed, URL: u, Err: err}
	}
	return st, nil
}

// get returns the body of a 2xx response or a *ProbeError
func (p *Probe) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ProbeError{Kind: ProbeTransport, URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, &ProbeError{Kind: ProbeTransport, URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ProbeError{Kind: ProbeTransport, URL: u, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &ProbeError{Kind: ProbeAbsent, URL: u, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &ProbeError{Kind: ProbeTransport, URL: u, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return body, nil
}

func decodeJSONNumbers(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}
