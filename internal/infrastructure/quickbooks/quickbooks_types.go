package quickbooks

// Wire types for the QBO accounting API. Field names follow the QBO JSON
// schema, which capitalizes attribute names.

// qboRef is a QBO entity reference
type qboRef struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// ---------------------------------------------------------------------------
// Vendor
// ---------------------------------------------------------------------------

// qboVendor is the Vendor entity
type qboVendor struct {
	ID          string `json:"Id,omitempty"`
	DisplayName string `json:"DisplayName"`
	Active      bool   `json:"Active,omitempty"`
}

// qboVendorResponse wraps a single-vendor create/read response
type qboVendorResponse struct {
	Vendor qboVendor `json:"Vendor"`
}

// qboVendorQueryResponse wraps a vendor query response
type qboVendorQueryResponse struct {
	QueryResponse struct {
		Vendor []qboVendor `json:"Vendor"`
	} `json:"QueryResponse"`
}

// ---------------------------------------------------------------------------
// Bill
// ---------------------------------------------------------------------------

// qboBillLine is one line of a Bill
type qboBillLine struct {
	Description string  `json:"Description,omitempty"`
	Amount      float64 `json:"Amount"`
	DetailType  string  `json:"DetailType"`
	Detail      struct {
		AccountRef qboRef `json:"AccountRef"`
	} `json:"AccountBasedExpenseLineDetail"`
}

// qboBill is the Bill entity
type qboBill struct {
	ID          string        `json:"Id,omitempty"`
	VendorRef   qboRef        `json:"VendorRef"`
	DocNumber   string        `json:"DocNumber,omitempty"`
	TxnDate     string        `json:"TxnDate,omitempty"`
	DueDate     string        `json:"DueDate,omitempty"`
	PrivateNote string        `json:"PrivateNote,omitempty"`
	TotalAmt    float64       `json:"TotalAmt,omitempty"`
	Line        []qboBillLine `json:"Line"`
	CurrencyRef *qboRef       `json:"CurrencyRef,omitempty"`
}

// qboBillResponse wraps a single-bill create/read response
type qboBillResponse struct {
	Bill qboBill `json:"Bill"`
}

// qboBillQueryResponse wraps a bill query response
type qboBillQueryResponse struct {
	QueryResponse struct {
		Bill []qboBill `json:"Bill"`
	} `json:"QueryResponse"`
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

// qboFaultResponse is the error envelope QBO returns on 4xx responses
type qboFaultResponse struct {
	Fault struct {
		Type  string `json:"type"`
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
	} `json:"Fault"`
}
