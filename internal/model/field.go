package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FieldSet is the fixed optional-field schema for a tender. Any field may be
// absent; scraped values that fail validation are recorded as absent rather
// than failing ingestion. Values the schema does not recognize land in Extras.
type FieldSet struct {
	Title                string     `json:"title,omitempty"`
	Amount               *float64   `json:"amount,omitempty"`
	ProcedureType        string     `json:"procedure_type,omitempty"`
	Category             string     `json:"category,omitempty"`
	PlaceOfExecution     string     `json:"place_of_execution,omitempty"`
	ContractingAuthority string     `json:"contracting_authority,omitempty"`
	CPVCodes             string     `json:"cpv_codes,omitempty"`
	PublicationDate      *time.Time `json:"publication_date,omitempty"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	EvaluationDate       *time.Time `json:"evaluation_date,omitempty"`
	SectorType           string     `json:"sector_type,omitempty"`
	AwardCriterion       string     `json:"award_criterion,omitempty"`
	ContractDuration     string     `json:"contract_duration,omitempty"`
	LotCount             *int       `json:"lot_count,omitempty"`
	ContactEmail         string     `json:"contact_email,omitempty"`
	RUPName              string     `json:"rup_name,omitempty"`
	DetailURL            string     `json:"detail_url,omitempty"`
	Status               string     `json:"status,omitempty"`

	Extras map[string]string `json:"extras,omitempty"`
}

// TrackedFieldCount is the number of schema fields counted toward the
// quality score. DetailURL, Status and Extras are bookkeeping, not content.
const TrackedFieldCount = 16

// PopulatedCount returns how many tracked fields carry a value.
func (f *FieldSet) PopulatedCount() int {
	n := 0
	for _, set := range []bool{
		f.Title != "",
		f.Amount != nil,
		f.ProcedureType != "",
		f.Category != "",
		f.PlaceOfExecution != "",
		f.ContractingAuthority != "",
		f.CPVCodes != "",
		f.PublicationDate != nil,
		f.Deadline != nil,
		f.EvaluationDate != nil,
		f.SectorType != "",
		f.AwardCriterion != "",
		f.ContractDuration != "",
		f.LotCount != nil,
		f.ContactEmail != "",
		f.RUPName != "",
	} {
		if set {
			n++
		}
	}
	return n
}

// QualityScore returns the fraction of tracked fields populated, in [0,1].
func (f *FieldSet) QualityScore() float64 {
	return float64(f.PopulatedCount()) / float64(TrackedFieldCount)
}

// Raw field names emitted by platform scrapers.
const (
	RawFieldReferenceCode        = "reference_code"
	RawFieldBandoNumber          = "bando_number"
	RawFieldTitle                = "title"
	RawFieldAmount               = "amount"
	RawFieldProcedureType        = "procedure_type"
	RawFieldCategory             = "category"
	RawFieldPlaceOfExecution     = "place_of_execution"
	RawFieldContractingAuthority = "contracting_authority"
	RawFieldCPVCodes             = "cpv_codes"
	RawFieldPublicationDate      = "publication_date"
	RawFieldDeadline             = "deadline"
	RawFieldEvaluationDate       = "evaluation_date"
	RawFieldSectorType           = "sector_type"
	RawFieldAwardCriterion       = "award_criterion"
	RawFieldContractDuration     = "contract_duration"
	RawFieldLotCount             = "lot_count"
	RawFieldContactEmail         = "contact_email"
	RawFieldRUPName              = "rup_name"
	RawFieldDetailURL            = "detail_url"
	RawFieldStatus               = "status"
)

var dateLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/06",
}

// ParseDate parses the date formats the source platforms emit. Returns nil
// when the value is empty or unparseable.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var amountNoise = regexp.MustCompile(`[€\s]`)

// ParseAmount converts an Italian-formatted currency string ("€ 1.500.000,00")
// to a float. Returns nil when the value is empty or unparseable.
func ParseAmount(s string) *float64 {
	s = amountNoise.ReplaceAllString(s, "")
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// FieldsFromRaw validates a raw scraped value map into a FieldSet. Malformed
// dates, amounts and counts become absent fields; unrecognized keys are kept
// in Extras so no scraped information is silently dropped.
func FieldsFromRaw(values map[string]string) FieldSet {
	fs := FieldSet{}
	known := map[string]func(string){
		RawFieldTitle:                func(v string) { fs.Title = v },
		RawFieldAmount:               func(v string) { fs.Amount = ParseAmount(v) },
		RawFieldProcedureType:        func(v string) { fs.ProcedureType = v },
		RawFieldCategory:             func(v string) { fs.Category = v },
		RawFieldPlaceOfExecution:     func(v string) { fs.PlaceOfExecution = v },
		RawFieldContractingAuthority: func(v string) { fs.ContractingAuthority = v },
		RawFieldCPVCodes:             func(v string) { fs.CPVCodes = v },
		RawFieldPublicationDate:      func(v string) { fs.PublicationDate = ParseDate(v) },
		RawFieldDeadline:             func(v string) { fs.Deadline = ParseDate(v) },
		RawFieldEvaluationDate:       func(v string) { fs.EvaluationDate = ParseDate(v) },
		RawFieldSectorType:           func(v string) { fs.SectorType = v },
		RawFieldAwardCriterion:       func(v string) { fs.AwardCriterion = v },
		RawFieldContractDuration:     func(v string) { fs.ContractDuration = v },
		RawFieldLotCount:             func(v string) { fs.LotCount = parseInt(v) },
		RawFieldContactEmail:         func(v string) { fs.ContactEmail = v },
		RawFieldRUPName:              func(v string) { fs.RUPName = v },
		RawFieldDetailURL:            func(v string) { fs.DetailURL = v },
		RawFieldStatus:               func(v string) { fs.Status = v },
	}

	for key, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if setter, ok := known[key]; ok {
			setter(value)
			continue
		}
		// Identity candidates are consumed by the resolver, not stored twice.
		if key == RawFieldReferenceCode || key == RawFieldBandoNumber {
			continue
		}
		if fs.Extras == nil {
			fs.Extras = make(map[string]string)
		}
		fs.Extras[key] = value
	}
	return fs
}
