package types

// RequestType classifies remote calls for logging and error context
type RequestType string

const (
	RequestTypeListOrSearch RequestType = "list_or_search"
	RequestTypeGetByID      RequestType = "get_by_id"
	RequestTypeMutation     RequestType = "mutation"
	RequestTypeUpload       RequestType = "upload"
)

// RequestContext carries per-request tracing data through the API layer
type RequestContext struct {
	Profile           string      `json:"profile"`
	DriveID           string      `json:"driveId,omitempty"`
	InvolvedFileIDs   []string    `json:"involvedFileIds"`
	InvolvedParentIDs []string    `json:"involvedParentIds"`
	RequestType       RequestType `json:"requestType"`
	TraceID           string      `json:"traceId"`
}
