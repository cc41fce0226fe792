// Package harvest defines core types shared across the retrieval subsystems.
package harvest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentModel identifies the fiscal document model queried at the portal.
type DocumentModel string

// Document models supported by the state portal.
const (
	ModelNFe  DocumentModel = "NF-e"
	ModelNFCe DocumentModel = "NFC-e"
	ModelCTe  DocumentModel = "CT-e"
)

// Models returns every document model, in processing order.
func Models() []DocumentModel {
	return []DocumentModel{ModelNFe, ModelNFCe, ModelCTe}
}

// Situation is the authorization state requested for a document query.
type Situation string

// Situations supported by the portal search form.
const (
	SituationAuthorized Situation = "authorized"
	SituationCancelled  Situation = "cancelled"
)

// Situations returns every situation, in processing order.
func Situations() []Situation {
	return []Situation{SituationAuthorized, SituationCancelled}
}

// Status represents the lifecycle state of a retrieval request.
type Status string

// Status values persisted in the ledger.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusWarning    Status = "warning"
	StatusError      Status = "error"
	StatusSuccess    Status = "success"
)

// Terminal reports whether a status ends the discovery phase for a combination.
func (s Status) Terminal() bool {
	switch s {
	case StatusWarning, StatusError, StatusSuccess:
		return true
	default:
		return false
	}
}

// Period is an inclusive calendar window. Both bounds are date-valued
// (midnight UTC); Final never precedes Initial.
type Period struct {
	Initial time.Time
	Final   time.Time
}

// Label renders the window for logs and screenshots.
func (p Period) Label() string {
	return fmt.Sprintf("%s..%s", p.Initial.Format("2006-01-02"), p.Final.Format("2006-01-02"))
}

// Company holds the identity and metadata of a tax-reporting entity.
// Companies are owned by an external registry and read-only here.
type Company struct {
	Code           int64
	Name           string
	RegistrationID string
	CNAEs          []string
	Active         bool
}

// RequestKey is the natural composite key of a retrieval request. At most one
// ledger entry exists per key at any time.
type RequestKey struct {
	CompanyCode int64
	Model       DocumentModel
	Situation   Situation
	Period      Period
}

// String renders the key for logs.
func (k RequestKey) String() string {
	return fmt.Sprintf("%d/%s/%s/%s", k.CompanyCode, k.Model, k.Situation, k.Period.Label())
}

// RetrievalRequest is the persisted unit of work tracking one combination's
// progress through discovery and download.
type RetrievalRequest struct {
	ID             uuid.UUID
	Key            RequestKey
	Status         Status
	Queued         bool
	LinkDownload   string
	FileName       string
	FilePath       string
	ScreenshotPath string
	QuantityNotes  int
	WarningMessage string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
