// Package allotment defines the core types shared across the allotment checker subsystems.
package allotment

import (
	"math"
	"net/http"
	"time"
)

// Status is the canonical allotment outcome reported to callers.
type Status string

// Status values produced by the normalizers and the fetch engine.
const (
	StatusAllotted    Status = "allotted"
	StatusNotAllotted Status = "not_allotted"
	StatusNotFound    Status = "not_found"
	StatusCaptcha     Status = "captcha"
	StatusTimeout     Status = "timeout"
	StatusError       Status = "error"
)

// Format is the response format a registrar declares.
type Format string

// Supported registrar response formats.
const (
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f == FormatHTML || f == FormatJSON
}

// Param names a placeholder a registrar endpoint may require.
type Param string

// Recognised endpoint placeholders. ParamCompany is always supplied from the IPO.
const (
	ParamCompany  Param = "company"
	ParamPAN      Param = "pan"
	ParamAppNo    Param = "appNo"
	ParamDPID     Param = "dpId"
	ParamClientID Param = "clientId"
)

// HTMLRules are selector-based extraction rules for html registrars.
// Every field is optional.
type HTMLRules struct {
	NotFoundSelectors []string `json:"notFoundSelectors,omitempty" mapstructure:"not_found_selectors"`
	StatusSelector    string   `json:"statusSelector,omitempty" mapstructure:"status_selector"`
	SharesSelector    string   `json:"sharesSelector,omitempty" mapstructure:"shares_selector"`
	AppNoSelector     string   `json:"appNoSelector,omitempty" mapstructure:"app_no_selector"`
	RefundSelector    string   `json:"refundSelector,omitempty" mapstructure:"refund_selector"`
	// ReadySelector is waited on by the headless fetcher before the page is captured.
	// It must be a plain CSS selector the browser understands.
	ReadySelector string `json:"readySelector,omitempty" mapstructure:"ready_selector"`
}

// JSONRules are dot-separated path rules for json registrars.
// Every field is optional.
type JSONRules struct {
	StatusPath string `json:"statusPath,omitempty" mapstructure:"status_path"`
	SharesPath string `json:"sharesPath,omitempty" mapstructure:"shares_path"`
	AppNoPath  string `json:"appNoPath,omitempty" mapstructure:"app_no_path"`
	RefundPath string `json:"refundPath,omitempty" mapstructure:"refund_path"`
}

// ParsingRules holds the rule set matching the registrar's response format.
// Only the variant matching ResponseFormat is consulted.
type ParsingRules struct {
	HTML *HTMLRules `json:"html,omitempty" mapstructure:"html"`
	JSON *JSONRules `json:"json,omitempty" mapstructure:"json"`
}

// RegistrarProfile is the declarative description of one registrar endpoint.
// It is owned by the admin collaborator and treated as an immutable snapshot per check.
type RegistrarProfile struct {
	ID              string       `json:"id" mapstructure:"id"`
	Name            string       `json:"name" mapstructure:"name"`
	Slug            string       `json:"slug" mapstructure:"slug"`
	BaseURL         string       `json:"baseUrl" mapstructure:"base_url"`
	EndpointPattern string       `json:"endpointPattern" mapstructure:"endpoint_pattern"`
	RequiredParams  []Param      `json:"requiredParams" mapstructure:"required_params"`
	ResponseFormat  Format       `json:"responseFormat" mapstructure:"response_format"`
	ParsingRules    ParsingRules `json:"parsingRules" mapstructure:"parsing_rules"`
	IsActive        bool         `json:"isActive" mapstructure:"is_active"`
	Render          bool         `json:"render" mapstructure:"render"`
}

// Requires reports whether the registrar lists p among its required params.
func (r RegistrarProfile) Requires(p Param) bool {
	for _, candidate := range r.RequiredParams {
		if candidate == p {
			return true
		}
	}
	return false
}

// IPO is the record-store view of an offering.
type IPO struct {
	ID              string     `json:"id" mapstructure:"id"`
	Name            string     `json:"name" mapstructure:"name"`
	Slug            string     `json:"slug" mapstructure:"slug"`
	Category        string     `json:"category,omitempty" mapstructure:"category"`
	AllotmentDate   *time.Time `json:"allotmentDate,omitempty" mapstructure:"allotment_date"`
	ListingDate     *time.Time `json:"listingDate,omitempty" mapstructure:"listing_date"`
	IsAllotmentLive bool       `json:"isAllotmentLive" mapstructure:"is_allotment_live"`
	AllotmentURL    string     `json:"allotmentUrl,omitempty" mapstructure:"allotment_url"`
	RegistrarSlug   string     `json:"registrarSlug,omitempty" mapstructure:"registrar_slug"`
}

// CheckParams is the placeholder substitution map for one outbound request.
// It carries identifying input and must never be logged or persisted.
type CheckParams map[string]string

// Result is the canonical normalized allotment record.
type Result struct {
	Status        Status  `json:"status"`
	Shares        int     `json:"shares"`
	ApplicationNo *string `json:"applicationNo"`
	RefundAmount  float64 `json:"refundAmount"`
	Message       *string `json:"message"`
}

// DefaultResult is the record every normalizer starts from.
func DefaultResult() Result {
	return Result{Status: StatusNotFound}
}

// Normalize enforces that a positive share count always means allotted.
func (r Result) Normalize() Result {
	if r.Shares > 0 {
		r.Status = StatusAllotted
	}
	if r.Shares < 0 {
		r.Shares = 0
	}
	if r.RefundAmount < 0 {
		r.RefundAmount = 0
	}
	return r
}

// Phase is the terminal state a fetch reached.
type Phase string

// Fetch phases. Every call ends in exactly one terminal phase.
const (
	PhaseIdle            Phase = "idle"
	PhaseRequesting      Phase = "requesting"
	PhaseTimedOut        Phase = "timed_out"
	PhaseHTTPError       Phase = "http_error"
	PhaseCaptchaDetected Phase = "captcha_detected"
	PhaseParsing         Phase = "parsing"
	PhaseParsed          Phase = "parsed"
)

// Outcome is what the fetch engine returns for every call.
type Outcome struct {
	Success    bool          `json:"success"`
	Result     Result        `json:"result"`
	Error      string        `json:"error,omitempty"`
	Phase      Phase         `json:"-"`
	StatusCode int           `json:"-"`
	Duration   time.Duration `json:"-"`
}

// FetchRequest captures everything needed to issue one registrar request.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Render  bool
	// ReadySelector is only used by browser-backed fetchers.
	ReadySelector string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// CheckRecord is the anonymized audit row written after every check.
type CheckRecord struct {
	ID          string    `json:"id"`
	IPOID       string    `json:"ipo_id"`
	RegistrarID string    `json:"registrar_id"`
	Status      string    `json:"status"`
	ErrorType   string    `json:"error_type,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// CheckEvent is the anonymized notification published after every check.
type CheckEvent struct {
	CheckID   string    `json:"check_id"`
	IPOSlug   string    `json:"ipo_slug"`
	Registrar string    `json:"registrar"`
	Status    string    `json:"status"`
	ErrorType string    `json:"error_type,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// CheckSummary aggregates recorded checks for the admin summary endpoint.
type CheckSummary struct {
	Since       time.Time      `json:"since"`
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	ByErrorType map[string]int `json:"by_error_type"`
	// SuccessRate is the rounded percentage of checks not recorded as "error".
	SuccessRate int `json:"success_rate"`
}

// Add folds count checks with the given status and error type into the summary.
func (s *CheckSummary) Add(status, errorType string, count int) {
	if s.ByStatus == nil {
		s.ByStatus = make(map[string]int)
	}
	if s.ByErrorType == nil {
		s.ByErrorType = make(map[string]int)
	}
	s.Total += count
	s.ByStatus[status] += count
	if errorType != "" {
		s.ByErrorType[errorType] += count
	}
	if s.Total > 0 {
		failed := s.ByStatus["error"]
		s.SuccessRate = int(math.Round(float64(s.Total-failed) / float64(s.Total) * 100))
	}
}
