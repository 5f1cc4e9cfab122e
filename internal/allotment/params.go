package allotment

import "github.com/JakeFAU/ipo-allotment-checker/internal/validate"

// CheckRequest is the caller-supplied input for one allotment check.
// PAN, AppNo, DPID and ClientID identify an investor and are never logged or stored.
type CheckRequest struct {
	IPOSlug  string `json:"ipoSlug"`
	PAN      string `json:"pan,omitempty"`
	AppNo    string `json:"appNo,omitempty"`
	DPID     string `json:"dpId,omitempty"`
	ClientID string `json:"clientId,omitempty"`

	// Malformed is set by a transport whose body could not be decoded. The request still
	// passes through the governor before it is rejected.
	Malformed bool `json:"-"`
}

// Validation messages, checked in this order.
const (
	MsgInvalidBody        = "Invalid request body"
	MsgIPORequired        = "Please select an IPO"
	MsgIdentifierRequired = "Please provide PAN, Application Number, or DP ID + Client ID"
	MsgInvalidPAN         = "Invalid PAN format. PAN should be in format: ABCDE1234F"
	MsgInvalidAppNo       = "Invalid Application Number. It should be 8-12 digits."
	MsgInvalidDPClient    = "Invalid DP ID or Client ID. Both should be 8 digits."
)

// Validate checks the request before any lookup or network activity.
func (r CheckRequest) Validate() error {
	switch {
	case r.Malformed:
		return validationError(MsgInvalidBody)
	case r.IPOSlug == "":
		return validationError(MsgIPORequired)
	case r.PAN == "" && r.AppNo == "" && (r.DPID == "" || r.ClientID == ""):
		return validationError(MsgIdentifierRequired)
	case r.PAN != "" && !validate.ValidatePAN(r.PAN):
		return validationError(MsgInvalidPAN)
	case r.AppNo != "" && !validate.ValidateApplicationNumber(r.AppNo):
		return validationError(MsgInvalidAppNo)
	case (r.DPID != "" || r.ClientID != "") && !validate.ValidateDPClientID(r.DPID, r.ClientID):
		return validationError(MsgInvalidDPClient)
	}
	return nil
}

// BuildParams assembles the substitution map for registrar. company is always the IPO slug;
// identifiers are included only when the registrar lists them as required.
func BuildParams(registrar RegistrarProfile, ipo IPO, req CheckRequest) CheckParams {
	params := CheckParams{string(ParamCompany): ipo.Slug}
	if registrar.Requires(ParamPAN) && req.PAN != "" {
		params[string(ParamPAN)] = validate.NormalizePAN(req.PAN)
	}
	if registrar.Requires(ParamAppNo) && req.AppNo != "" {
		params[string(ParamAppNo)] = req.AppNo
	}
	if registrar.Requires(ParamDPID) && req.DPID != "" {
		params[string(ParamDPID)] = req.DPID
	}
	if registrar.Requires(ParamClientID) && req.ClientID != "" {
		params[string(ParamClientID)] = req.ClientID
	}
	return params
}
