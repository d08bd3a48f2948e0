package domain

import "strings"

// AccountNumber selects the backend account a request is made under.
type AccountNumber int

const DefaultAccount AccountNumber = 1

// ByteRange is an inclusive byte interval. End == 0 means the client did not
// bound the range.
type ByteRange struct {
	Start int64
	End   int64
}

// FetchUnit is one backend-legal file part request.
type FetchUnit struct {
	Offset int64
	Limit  int64
}

// AlignedRequest covers a requested range with contiguous fetch units.
type AlignedRequest struct {
	AlignedLowerBound int64
	AlignedUpperBound int64
	Units             []FetchUnit
}

// RemoteDocRef is everything the HLS stream route needs to serve ranges of a
// backend document without another metadata round-trip. It travels inside the
// hls_stream/ URL path segment, so the JSON field order is part of the URL.
type RemoteDocRef struct {
	DocID    string `json:"docId"`
	DCID     int    `json:"dcId"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type FileLocation struct {
	ID string `json:"id"`
}

// DownloadOptions is the payload of the stream/ and hls_playlist/ routes.
type DownloadOptions struct {
	Location      FileLocation  `json:"location"`
	DCID          int           `json:"dcId"`
	Size          int64         `json:"size"`
	MimeType      string        `json:"mimeType,omitempty"`
	AccountNumber AccountNumber `json:"accountNumber,omitempty"`
}

func (o DownloadOptions) DocID() string {
	return strings.TrimSpace(o.Location.ID)
}

// Doc is backend document metadata.
type Doc struct {
	ID       string
	DCID     int
	Size     int64
	MimeType string
	FileName string
	Width    int
	Height   int
	Duration float64
}

// QualityEntry describes one quality file found among a document's alt docs.
type QualityEntry struct {
	DocID       string
	TargetDocID string
	Width       int
	Height      int
	Bandwidth   int64
}

// PartRequest addresses one file part on the backend.
type PartRequest struct {
	DocID   string
	DCID    int
	Account AccountNumber
	Offset  int64
	Limit   int64
}

// RequestContext carries per-request caller information from the HTTP layer
// into use cases.
type RequestContext struct {
	ClientID string
	Account  AccountNumber
	BaseURL  string
}
